package main

import (
	"log"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/waqasraza123/deep-research-agent/internal/app"
	"github.com/waqasraza123/deep-research-agent/internal/config"
	"github.com/waqasraza123/deep-research-agent/internal/events"
	"github.com/waqasraza123/deep-research-agent/internal/logging"
	"github.com/waqasraza123/deep-research-agent/internal/research"
	"github.com/waqasraza123/deep-research-agent/internal/workflows"
)

var (
	loadConfig      = config.Resolve
	newLogger       = logging.New
	dialTemporal    = client.Dial
	newComponents   = app.NewComponents
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   temporallog.NewStructuredLogger(logger),
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	components, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}
	// Events emitted here stay local to the worker; the server only sees the
	// events it emits around the workflow.
	executor := research.NewInlineExecutor(components.Files, components.Fetcher, components.Agent, events.NewBroker(), logger)
	activities := workflows.NewActivities(executor, components.Files)

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchWorkflow)
	w.RegisterActivityWithOptions(activities.InvokeAgent, activity.RegisterOptions{Name: workflows.InvokeAgentActivity})
	w.RegisterActivityWithOptions(activities.ReconcileArtifacts, activity.RegisterOptions{Name: workflows.ReconcileArtifactsActivity})

	logger.Info("research worker started", "task_queue", cfg.TemporalTaskQueue, "provider", cfg.ModelProvider)
	if err := w.Run(workerInterrupt()); err != nil {
		return err
	}

	return nil
}

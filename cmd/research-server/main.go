package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/waqasraza123/deep-research-agent/internal/api"
	"github.com/waqasraza123/deep-research-agent/internal/app"
	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
	"github.com/waqasraza123/deep-research-agent/internal/config"
	"github.com/waqasraza123/deep-research-agent/internal/events"
	"github.com/waqasraza123/deep-research-agent/internal/logging"
	"github.com/waqasraza123/deep-research-agent/internal/research"
	"github.com/waqasraza123/deep-research-agent/internal/store"
	"github.com/waqasraza123/deep-research-agent/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig    = config.Resolve
	newLogger     = logging.New
	newComponents = app.NewComponents
	openStore     = app.OpenStore
	newBroker     = events.NewBroker
	dialTemporal  = client.Dial
	newServer     = func(runner api.Runner, files *artifacts.Store, st store.Store, broker *events.Broker) server {
		return api.NewServer(runner, files, st, broker)
	}
	notifyContext = signal.NotifyContext
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
	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	components, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close store failed", "error", err)
		}
	}()

	broker := newBroker()
	executor, closeExecutor, err := newExecutor(cfg, components, broker, logger)
	if err != nil {
		return err
	}
	defer closeExecutor()

	service := research.NewService(research.Options{
		Files:    components.Files,
		Store:    st,
		Executor: executor,
		Broker:   broker,
		Bounds:   components.Bounds,
		Logger:   logger,
	})
	srv := newServer(service, components.Files, st, broker)

	addr := cfg.ListenAddr()
	logger.Info("research server listening", "addr", addr, "executor", cfg.RunExecutor, "store", cfg.StoreDriver, "provider", cfg.ModelProvider)
	if err := srv.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newExecutor(cfg config.Config, components *app.Components, broker *events.Broker, logger *slog.Logger) (research.Executor, func(), error) {
	switch cfg.RunExecutor {
	case "", "inline":
		inline := research.NewInlineExecutor(components.Files, components.Fetcher, components.Agent, broker, logger)
		return inline, func() {}, nil
	case "temporal":
		temporalClient, err := dialTemporal(client.Options{
			HostPort: cfg.TemporalAddress,
			Logger:   temporallog.NewStructuredLogger(logger),
		})
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() {}
		if temporalClient != nil {
			closeClient = temporalClient.Close
		}
		return workflows.NewExecutor(temporalClient, cfg.TemporalTaskQueue), closeClient, nil
	default:
		return nil, nil, fmt.Errorf("unsupported run executor %q", cfg.RunExecutor)
	}
}

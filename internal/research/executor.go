package research

import (
	"context"
	"log/slog"

	"github.com/waqasraza123/deep-research-agent/internal/agent"
	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
	"github.com/waqasraza123/deep-research-agent/internal/events"
	"github.com/waqasraza123/deep-research-agent/internal/fetch"
	"github.com/waqasraza123/deep-research-agent/internal/llm"
	"github.com/waqasraza123/deep-research-agent/internal/logging"
)

type Executor interface {
	Execute(ctx context.Context, job Job) (Outcome, error)
}

// InlineExecutor runs the agent in-process.
type InlineExecutor struct {
	files   *artifacts.Store
	fetcher *fetch.Fetcher
	agent   agent.Agent
	broker  *events.Broker
	logger  *slog.Logger
}

func NewInlineExecutor(files *artifacts.Store, fetcher *fetch.Fetcher, a agent.Agent, broker *events.Broker, logger *slog.Logger) *InlineExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineExecutor{files: files, fetcher: fetcher, agent: a, broker: broker, logger: logger}
}

func (e *InlineExecutor) Execute(ctx context.Context, job Job) (Outcome, error) {
	result, err := e.Invoke(ctx, job)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Summary: result.Summary, Messages: result.Messages}, nil
}

// Invoke runs the agent once and, when deliverables are still missing, once
// more restricted to the missing files. A failed repair is only logged.
func (e *InlineExecutor) Invoke(ctx context.Context, job Job) (agent.Result, error) {
	logger := logging.WithRun(e.logger, job.RunID)
	var opts []fetch.SessionOption
	if e.broker != nil {
		opts = append(opts, fetch.WithObserver(func(source fetch.Source) {
			e.broker.Emit(job.RunID, events.TypeSourceFetched, "fetch", map[string]any{
				"url":         source.Metadata.URL,
				"status_code": source.Metadata.StatusCode,
				"truncated":   source.Metadata.Truncated,
				"cache_hit":   source.CacheHit,
			})
		}))
	}
	session, err := e.fetcher.Session(job.RunID, job.Limits, opts...)
	if err != nil {
		return agent.Result{}, err
	}
	workspace, err := e.files.Workspace(job.RunID)
	if err != nil {
		return agent.Result{}, err
	}
	rc := agent.RunContext{
		RunID:     job.RunID,
		Question:  questionOf(job),
		Limits:    job.Limits,
		URLs:      job.URLs,
		Tool:      fetch.NewTool(session),
		Workspace: workspace,
	}

	result, err := e.agent.Invoke(ctx, job.Messages, rc)
	if err != nil {
		logger.Error("agent invoke failed", "error", err)
		return agent.Result{}, err
	}

	missing, err := e.files.Missing(job.RunID)
	if err != nil {
		return agent.Result{}, err
	}
	if len(missing) > 0 {
		logger.Warn("agent left deliverables missing", "missing", missing)
		repair := llm.Message{Role: llm.RoleUser, Content: repairMessage(job.RunID, missing, job.URLs)}
		history := append(append(append([]llm.Message{}, job.Messages...), result.Messages...), repair)
		rc.Only = missing
		if _, err := e.agent.Invoke(ctx, history, rc); err != nil {
			logger.Error("repair invoke failed", "error", err)
		}
	}
	return result, nil
}

func questionOf(job Job) string {
	if job.Question != "" {
		return job.Question
	}
	for i := len(job.Messages) - 1; i >= 0; i-- {
		if job.Messages[i].Role == llm.RoleUser {
			return job.Messages[i].Content
		}
	}
	return ""
}

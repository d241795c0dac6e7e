package workflows

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
	"github.com/waqasraza123/deep-research-agent/internal/llm"
	"github.com/waqasraza123/deep-research-agent/internal/research"
)

type AgentOutput struct {
	Summary  string        `json:"summary"`
	Messages []llm.Message `json:"messages"`
}

type ReconcileInput struct {
	RunID string `json:"run_id"`
}

type ReconcileOutput struct {
	Warnings []string `json:"warnings"`
}

type Activities struct {
	executor *research.InlineExecutor
	files    *artifacts.Store
}

func NewActivities(executor *research.InlineExecutor, files *artifacts.Store) *Activities {
	return &Activities{executor: executor, files: files}
}

func (a *Activities) InvokeAgent(ctx context.Context, job research.Job) (AgentOutput, error) {
	activity.GetLogger(ctx).Info("invoking agent", "run_id", job.RunID)
	result, err := a.executor.Invoke(ctx, job)
	if err != nil {
		return AgentOutput{}, err
	}
	return AgentOutput{Summary: result.Summary, Messages: result.Messages}, nil
}

func (a *Activities) ReconcileArtifacts(ctx context.Context, input ReconcileInput) (ReconcileOutput, error) {
	warnings, err := a.files.Reconcile(input.RunID)
	if err != nil {
		return ReconcileOutput{}, err
	}
	return ReconcileOutput{Warnings: warnings}, nil
}

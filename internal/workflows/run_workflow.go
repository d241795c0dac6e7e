package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/waqasraza123/deep-research-agent/internal/llm"
	"github.com/waqasraza123/deep-research-agent/internal/research"
)

const (
	InvokeAgentActivity        = "InvokeAgent"
	ReconcileArtifactsActivity = "ReconcileArtifacts"
)

type ResearchResult struct {
	Summary  string        `json:"summary"`
	Messages []llm.Message `json:"messages"`
	Warnings []string      `json:"warnings"`
	Error    string        `json:"error,omitempty"`
}

// ResearchWorkflow runs the agent and then reconciles the run's deliverables
// whether or not the agent succeeded. Failures are reported in the result so
// the caller still receives the reconcile warnings.
func ResearchWorkflow(ctx workflow.Context, job research.Job) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	agentCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 20 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	reconcileCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	result := ResearchResult{Warnings: []string{}}
	var output AgentOutput
	if err := workflow.ExecuteActivity(agentCtx, InvokeAgentActivity, job).Get(ctx, &output); err != nil {
		logger.Error("agent activity failed", "run_id", job.RunID, "error", err)
		result.Error = "agent: " + err.Error()
	} else {
		result.Summary = output.Summary
		result.Messages = output.Messages
	}

	var reconciled ReconcileOutput
	if err := workflow.ExecuteActivity(reconcileCtx, ReconcileArtifactsActivity, ReconcileInput{RunID: job.RunID}).Get(ctx, &reconciled); err != nil {
		logger.Error("reconcile activity failed", "run_id", job.RunID, "error", err)
		if result.Error == "" {
			result.Error = "reconcile: " + err.Error()
		}
	} else if reconciled.Warnings != nil {
		result.Warnings = reconciled.Warnings
	}
	return result, nil
}

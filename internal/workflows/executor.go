package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/waqasraza123/deep-research-agent/internal/research"
)

// Executor runs research jobs as workflows on a Temporal task queue and waits
// for their result.
type Executor struct {
	client    client.Client
	taskQueue string
}

func NewExecutor(client client.Client, taskQueue string) *Executor {
	if taskQueue == "" {
		taskQueue = "research-runs"
	}
	return &Executor{client: client, taskQueue: taskQueue}
}

func (e *Executor) Execute(ctx context.Context, job research.Job) (research.Outcome, error) {
	options := client.StartWorkflowOptions{
		ID:        workflowID(job.RunID),
		TaskQueue: e.taskQueue,
	}
	run, err := e.client.ExecuteWorkflow(ctx, options, ResearchWorkflow, job)
	if err != nil {
		return research.Outcome{}, fmt.Errorf("start workflow: %w", err)
	}
	var result ResearchResult
	if err := run.Get(ctx, &result); err != nil {
		return research.Outcome{}, fmt.Errorf("workflow %s: %w", run.GetID(), err)
	}
	outcome := research.Outcome{
		Summary:  result.Summary,
		Messages: result.Messages,
		Warnings: result.Warnings,
	}
	if result.Error != "" {
		return outcome, errors.New(result.Error)
	}
	return outcome, nil
}

func workflowID(runID string) string {
	return fmt.Sprintf("research:%s", runID)
}

package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"

	"github.com/waqasraza123/deep-research-agent/internal/research"
)

func TestNewExecutor_DefaultTaskQueue(t *testing.T) {
	executor := NewExecutor(mocks.NewClient(t), "")
	require.Equal(t, "research-runs", executor.taskQueue)
}

func expectStart(mockClient *mocks.Client, job research.Job, taskQueue string) *mock.Call {
	return mockClient.On(
		"ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			return opts.ID == workflowID(job.RunID) && opts.TaskQueue == taskQueue
		}),
		mock.Anything,
		job,
	)
}

func TestExecute_Success(t *testing.T) {
	mockClient := mocks.NewClient(t)
	workflowRun := mocks.NewWorkflowRun(t)
	job := research.Job{RunID: "run-123", Question: "what is go?"}

	expectStart(mockClient, job, "research-test").Return(workflowRun, nil)
	workflowRun.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		result := args.Get(1).(*ResearchResult)
		*result = ResearchResult{Summary: "done", Warnings: []string{"w"}}
	}).Return(nil)

	outcome, err := NewExecutor(mockClient, "research-test").Execute(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, "done", outcome.Summary)
	require.Equal(t, []string{"w"}, outcome.Warnings)
}

func TestExecute_StartError(t *testing.T) {
	mockClient := mocks.NewClient(t)
	job := research.Job{RunID: "run-err"}

	expectStart(mockClient, job, "research-test").Return((*mocks.WorkflowRun)(nil), errors.New("start failed"))

	_, err := NewExecutor(mockClient, "research-test").Execute(context.Background(), job)
	require.ErrorContains(t, err, "start workflow: start failed")
}

func TestExecute_ResultErrorKeepsWarnings(t *testing.T) {
	mockClient := mocks.NewClient(t)
	workflowRun := mocks.NewWorkflowRun(t)
	job := research.Job{RunID: "run-fail"}

	expectStart(mockClient, job, "research-test").Return(workflowRun, nil)
	workflowRun.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		result := args.Get(1).(*ResearchResult)
		*result = ResearchResult{Warnings: []string{"Backfilled report.md (agent did not create it)."}, Error: "agent: model down"}
	}).Return(nil)

	outcome, err := NewExecutor(mockClient, "research-test").Execute(context.Background(), job)
	require.EqualError(t, err, "agent: model down")
	require.Equal(t, []string{"Backfilled report.md (agent did not create it)."}, outcome.Warnings)
}

func TestExecute_GetError(t *testing.T) {
	mockClient := mocks.NewClient(t)
	workflowRun := mocks.NewWorkflowRun(t)
	job := research.Job{RunID: "run-timeout"}

	expectStart(mockClient, job, "research-test").Return(workflowRun, nil)
	workflowRun.On("Get", mock.Anything, mock.Anything).Return(errors.New("timed out"))
	workflowRun.On("GetID").Return(workflowID(job.RunID))

	_, err := NewExecutor(mockClient, "research-test").Execute(context.Background(), job)
	require.ErrorContains(t, err, "workflow research:run-timeout: timed out")
}

// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waqasraza123/deep-research-agent/internal/store"
)

// Exercise runs the shared checks against a fresh store from newStore for each case.
func Exercise(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	t.Run("GetRunMissing", func(t *testing.T) {
		run, err := newStore(t).GetRun(context.Background(), "missing")
		require.NoError(t, err)
		require.Nil(t, run)
	})
	t.Run("SaveRunRoundTrip", func(t *testing.T) {
		testSaveRunRoundTrip(t, newStore(t))
	})
	t.Run("SaveRunUpserts", func(t *testing.T) {
		testSaveRunUpserts(t, newStore(t))
	})
	t.Run("ListRunsNewestFirst", func(t *testing.T) {
		testListRunsNewestFirst(t, newStore(t))
	})
	t.Run("MessagesAppendInOrder", func(t *testing.T) {
		testMessagesAppendInOrder(t, newStore(t))
	})
	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, newStore(t).Ping(context.Background()))
	})
}

func testSaveRunRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	run := store.Run{
		ID:        "run-1",
		Question:  "What is Go?",
		URLs:      []string{"https://go.dev", "https://go.dev/doc"},
		Limits:    store.Limits{MaxSources: 2, MaxLinksPerSource: 4, FollowLinks: true},
		Status:    store.StatusCompleted,
		Summary:   "done",
		Warnings:  []string{"Backfilled plan.md (agent did not create it)."},
		CreatedAt: "2026-01-02T03:04:05Z",
		UpdatedAt: "2026-01-02T03:04:06Z",
	}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, run.Question, got.Question)
	require.Equal(t, run.URLs, got.URLs)
	require.Equal(t, run.Limits, got.Limits)
	require.Equal(t, run.Status, got.Status)
	require.Equal(t, run.Summary, got.Summary)
	require.Equal(t, run.Warnings, got.Warnings)
	require.Empty(t, got.Error)
	require.NotEmpty(t, got.CreatedAt)
	require.NotEmpty(t, got.UpdatedAt)
}

func testSaveRunUpserts(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, store.Run{ID: "run-1", Question: "first question", Status: store.StatusRunning, CreatedAt: "2026-01-02T03:04:05Z", UpdatedAt: "2026-01-02T03:04:05Z"}))
	require.NoError(t, s.SaveRun(ctx, store.Run{ID: "run-1", Question: "first question", Status: store.StatusFailed, Error: "boom", CreatedAt: "2026-03-03T00:00:00Z", UpdatedAt: "2026-03-03T00:00:00Z"}))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, got.Status)
	require.Equal(t, "boom", got.Error)
	require.Empty(t, got.URLs)
	require.Empty(t, got.Warnings)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func testListRunsNewestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, store.Run{ID: "old", Question: "old question", Status: store.StatusCompleted, CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z"}))
	require.NoError(t, s.SaveRun(ctx, store.Run{ID: "new", Question: "new question", Status: store.StatusCompleted, CreatedAt: "2026-02-01T00:00:00Z", UpdatedAt: "2026-02-01T00:00:00Z"}))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "new", runs[0].ID)
	require.Equal(t, "old", runs[1].ID)
}

func testMessagesAppendInOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, store.Run{ID: "run-1", Question: "question", Status: store.StatusRunning}))
	require.NoError(t, s.SaveRun(ctx, store.Run{ID: "run-2", Question: "question", Status: store.StatusRunning}))

	require.NoError(t, s.AppendMessages(ctx, "run-1", []store.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
	}))
	require.NoError(t, s.AppendMessages(ctx, "run-1", []store.Message{{Role: "user", Content: "third"}}))
	require.NoError(t, s.AppendMessages(ctx, "run-1", nil))

	messages, err := s.ListMessages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, want := range []string{"first", "second", "third"} {
		require.Equal(t, want, messages[i].Content)
		require.Equal(t, int64(i+1), messages[i].Sequence)
		require.Equal(t, "run-1", messages[i].RunID)
	}
	require.Equal(t, "assistant", messages[1].Role)

	other, err := s.ListMessages(ctx, "run-2")
	require.NoError(t, err)
	require.Empty(t, other)
}

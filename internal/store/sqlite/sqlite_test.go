package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waqasraza123/deep-research-agent/internal/store"
	"github.com/waqasraza123/deep-research-agent/internal/store/storetest"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "runs", "checkpoints.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Exercise(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestNew_ReopensExistingDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.sqlite")

	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.SaveRun(ctx, store.Run{ID: "run-1", Question: "question", Status: store.StatusCompleted}))
	require.NoError(t, first.AppendMessages(ctx, "run-1", []store.Message{{Role: "user", Content: "hello"}}))
	require.NoError(t, first.Close())

	second, err := New(path)
	require.NoError(t, err)
	defer second.Close()

	run, err := second.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, store.StatusCompleted, run.Status)

	messages, err := second.ListMessages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "hello", messages[0].Content)
}

func TestSaveRun_NilSlicesStoredAsEmptyArrays(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveRun(ctx, store.Run{ID: "run-1", Question: "question", Status: store.StatusRunning}))

	var urls, warnings string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT urls, warnings FROM runs WHERE id = ?`, "run-1").Scan(&urls, &warnings))
	require.Equal(t, "[]", urls)
	require.Equal(t, "[]", warnings)
}

func TestGetRun_CorruptJSONColumn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveRun(ctx, store.Run{ID: "run-1", Question: "question", Status: store.StatusRunning}))
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET urls = 'nope' WHERE id = ?`, "run-1")
	require.NoError(t, err)

	_, err = s.GetRun(ctx, "run-1")
	require.ErrorContains(t, err, "decode urls")
}

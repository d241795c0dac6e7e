package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/waqasraza123/deep-research-agent/internal/store"
)

type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]store.Run
	messages map[string][]store.Message
	now      func() time.Time
}

func New() *MemoryStore {
	return &MemoryStore{
		runs:     map[string]store.Run{},
		messages: map[string][]store.Message{},
		now:      time.Now,
	}
}

func (m *MemoryStore) SaveRun(ctx context.Context, run store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC().Format(time.RFC3339Nano)
	saved := store.CloneRun(run)
	if existing, ok := m.runs[run.ID]; ok {
		saved.CreatedAt = existing.CreatedAt
	}
	if saved.CreatedAt == "" {
		saved.CreatedAt = now
	}
	if saved.UpdatedAt == "" {
		saved.UpdatedAt = now
	}
	m.runs[run.ID] = saved
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	cloned := store.CloneRun(run)
	return &cloned, nil
}

func (m *MemoryStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Run, 0, len(m.runs))
	for _, run := range m.runs {
		results = append(results, store.CloneRun(run))
	}
	sort.Slice(results, func(i, j int) bool {
		left, right := parseTime(results[i].CreatedAt), parseTime(results[j].CreatedAt)
		if left.Equal(right) {
			return results[i].ID < results[j].ID
		}
		return left.After(right)
	})
	return results, nil
}

func (m *MemoryStore) AppendMessages(ctx context.Context, runID string, messages []store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC().Format(time.RFC3339Nano)
	seq := int64(len(m.messages[runID]))
	for _, msg := range messages {
		seq++
		msg.RunID = runID
		msg.Sequence = seq
		if msg.CreatedAt == "" {
			msg.CreatedAt = now
		}
		m.messages[runID] = append(m.messages[runID], msg)
	}
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, runID string) ([]store.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]store.Message{}, m.messages[runID]...), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypeRunStarted          = "run.started"
	TypeSourceFetched       = "source.fetched"
	TypeArtifactsReconciled = "artifacts.reconciled"
	TypeRunCompleted        = "run.completed"
	TypeRunFailed           = "run.failed"
)

const historyLimit = 64

type RunEvent struct {
	RunID   string         `json:"run_id"`
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Ts      string         `json:"ts"`
	Source  string         `json:"source"`
	TraceID string         `json:"trace_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

// Terminal reports whether no further events follow e for its run.
func (e RunEvent) Terminal() bool {
	return e.Type == TypeRunCompleted || e.Type == TypeRunFailed
}

type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan RunEvent]struct{}
	seq         map[string]int64
	history     map[string][]RunEvent
	now         func() time.Time
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan RunEvent]struct{}{},
		seq:         map[string]int64{},
		history:     map[string][]RunEvent{},
		now:         time.Now,
	}
}

func (b *Broker) Subscribe(ctx context.Context, runID string) <-chan RunEvent {
	ch := make(chan RunEvent, 16)

	b.mu.Lock()
	if b.subscribers[runID] == nil {
		b.subscribers[runID] = map[chan RunEvent]struct{}{}
	}
	b.subscribers[runID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[runID] != nil {
			delete(b.subscribers[runID], ch)
			if len(b.subscribers[runID]) == 0 {
				delete(b.subscribers, runID)
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// History returns the most recent events of runID, oldest first.
func (b *Broker) History(runID string) []RunEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]RunEvent{}, b.history[runID]...)
}

// Emit stamps an event for runID with the next sequence number and publishes it.
func (b *Broker) Emit(runID, eventType, source string, payload map[string]any) RunEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	event := RunEvent{
		RunID:   runID,
		Type:    NormalizeType(eventType),
		Ts:      b.now().UTC().Format(time.RFC3339Nano),
		Source:  source,
		TraceID: uuid.NewString(),
		Payload: payload,
	}
	b.mu.Lock()
	b.seq[runID]++
	event.Seq = b.seq[runID]
	b.mu.Unlock()
	b.Publish(event)
	return event
}

// Publish fans event out to current subscribers. Slow subscribers miss events
// rather than block the run.
func (b *Broker) Publish(event RunEvent) {
	b.mu.Lock()
	history := append(b.history[event.RunID], event)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	b.history[event.RunID] = history
	b.mu.Unlock()

	// Sends happen under the read lock so a concurrent unsubscribe cannot
	// close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.RunID] {
		select {
		case ch <- event:
		default:
		}
	}
}

package store

import (
	"context"
	"errors"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrRunNotFound = errors.New("run not found")

type Limits struct {
	MaxSources        int
	MaxLinksPerSource int
	FollowLinks       bool
}

type Run struct {
	ID        string
	Question  string
	URLs      []string
	Limits    Limits
	Status    string
	Summary   string
	Error     string
	Warnings  []string
	CreatedAt string
	UpdatedAt string
}

type Message struct {
	RunID     string
	Role      string
	Content   string
	Sequence  int64
	CreatedAt string
}

// Store persists run records and the conversation checkpoint of each run.
type Store interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	AppendMessages(ctx context.Context, runID string, messages []Message) error
	ListMessages(ctx context.Context, runID string) ([]Message, error)
	Ping(ctx context.Context) error
}

func CloneRun(run Run) Run {
	cloned := run
	cloned.URLs = append([]string{}, run.URLs...)
	cloned.Warnings = append([]string{}, run.Warnings...)
	return cloned
}

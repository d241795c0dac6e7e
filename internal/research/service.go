// Package research is the run orchestration boundary: it validates a request,
// drives an Executor and always reconciles the run's deliverables afterwards.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
	"github.com/waqasraza123/deep-research-agent/internal/events"
	"github.com/waqasraza123/deep-research-agent/internal/fetch"
	"github.com/waqasraza123/deep-research-agent/internal/llm"
	"github.com/waqasraza123/deep-research-agent/internal/logging"
	"github.com/waqasraza123/deep-research-agent/internal/store"
)

type Options struct {
	Files    *artifacts.Store
	Store    store.Store
	Executor Executor
	Broker   *events.Broker
	Bounds   fetch.Bounds
	Logger   *slog.Logger
}

type Service struct {
	files    *artifacts.Store
	store    store.Store
	executor Executor
	broker   *events.Broker
	bounds   fetch.Bounds
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	broker := opts.Broker
	if broker == nil {
		broker = events.NewBroker()
	}
	return &Service{
		files:    opts.Files,
		store:    opts.Store,
		executor: opts.Executor,
		broker:   broker,
		bounds:   opts.Bounds,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		locks:    map[string]*sync.Mutex{},
	}
}

func (s *Service) Broker() *events.Broker {
	return s.broker
}

// Run executes one research request to completion. Failures after validation
// are returned as *RunError; the run's deliverables are reconciled either way.
func (s *Service) Run(ctx context.Context, req Request) (Response, error) {
	question := strings.TrimSpace(req.Question)
	if utf8.RuneCountInString(question) < minQuestionChars {
		return Response{}, fmt.Errorf("%w: question must be at least %d characters", ErrInvalidRequest, minQuestionChars)
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = s.newID()
	}
	if err := artifacts.ValidateRunID(runID); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	unlock := s.lock(runID)
	defer unlock()

	logger := logging.WithRun(s.logger, runID)
	if _, err := s.files.RunDir(runID); err != nil {
		return Response{}, s.abort(logger, runID, err)
	}
	limits := req.limits(s.bounds)
	urls := cleanURLs(req.URLs, limits.MaxSources)

	history, err := s.store.ListMessages(ctx, runID)
	if err != nil {
		return Response{}, s.abort(logger, runID, fmt.Errorf("load checkpoint: %w", err))
	}
	prompt := llm.Message{Role: llm.RoleUser, Content: userMessage(question, urls)}
	messages := make([]llm.Message, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, prompt)

	record := store.Run{
		ID:        runID,
		Question:  question,
		URLs:      urls,
		Limits:    store.Limits{MaxSources: limits.MaxSources, MaxLinksPerSource: limits.MaxLinksPerSource, FollowLinks: limits.FollowLinks},
		Status:    store.StatusRunning,
		CreatedAt: s.timestamp(),
		UpdatedAt: s.timestamp(),
	}
	existing, err := s.store.GetRun(ctx, runID)
	if err != nil {
		logger.Error("load run failed", "error", err)
	} else if existing != nil {
		record.CreatedAt = existing.CreatedAt
	}
	if err := s.store.SaveRun(ctx, record); err != nil {
		return Response{}, s.abort(logger, runID, fmt.Errorf("save run: %w", err))
	}
	logger.Info("run started", "urls", len(urls), "max_sources", limits.MaxSources, "follow_links", limits.FollowLinks)
	s.broker.Emit(runID, events.TypeRunStarted, "research", map[string]any{
		"question": question,
		"urls":     urls,
		"limits":   limits,
	})

	outcome, execErr := s.execute(ctx, Job{
		RunID:    runID,
		Question: question,
		URLs:     urls,
		Limits:   limits,
		Messages: messages,
	})

	reconciled, reconcileErr := s.files.Reconcile(runID)
	warnings := mergeWarnings(outcome.Warnings, reconciled)
	if len(warnings) > 0 {
		s.broker.Emit(runID, events.TypeArtifactsReconciled, "artifacts", map[string]any{"warnings": warnings})
	}
	if reconcileErr != nil {
		logger.Error("reconcile failed", "error", reconcileErr)
		if execErr == nil {
			execErr = fmt.Errorf("reconcile artifacts: %w", reconcileErr)
		}
	}

	// The checkpoint keeps the user turn even when the agent failed so a
	// retry on the same run continues the thread.
	turn := append([]store.Message{{Role: prompt.Role, Content: prompt.Content}}, toStoreMessages(outcome.Messages)...)
	if err := s.store.AppendMessages(context.WithoutCancel(ctx), runID, turn); err != nil {
		logger.Error("save checkpoint failed", "error", err)
	}

	record.Warnings = warnings
	record.UpdatedAt = s.timestamp()
	if execErr != nil {
		record.Status = store.StatusFailed
		record.Error = execErr.Error()
		s.saveRecord(ctx, logger, record)
		logger.Error("run failed", "error", execErr, "warnings", len(warnings))
		s.broker.Emit(runID, events.TypeRunFailed, "research", map[string]any{
			"error":    execErr.Error(),
			"warnings": warnings,
		})
		return Response{}, &RunError{RunID: runID, Warnings: warnings, Cause: execErr}
	}

	record.Status = store.StatusCompleted
	record.Summary = outcome.Summary
	s.saveRecord(ctx, logger, record)

	entries, err := s.files.List(runID)
	if err != nil {
		return Response{}, &RunError{RunID: runID, Warnings: warnings, Cause: err}
	}
	logger.Info("run completed", "warnings", len(warnings), "artifacts", len(entries))
	s.broker.Emit(runID, events.TypeRunCompleted, "research", map[string]any{
		"summary":  outcome.Summary,
		"warnings": warnings,
	})
	return Response{
		RunID:     runID,
		Summary:   outcome.Summary,
		Warnings:  warnings,
		Artifacts: entries,
		Hint:      fmt.Sprintf("Report should be at runs/%s/%s", runID, artifacts.ReportFile),
	}, nil
}

// execute turns an executor panic into an error so reconciliation still runs.
func (s *Service) execute(ctx context.Context, job Job) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{}
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()
	return s.executor.Execute(ctx, job)
}

// abort ends a run that failed before the executor started. The deliverables
// are reconciled all the same.
func (s *Service) abort(logger *slog.Logger, runID string, cause error) error {
	warnings, err := s.files.Reconcile(runID)
	if err != nil {
		logger.Error("reconcile failed", "error", err)
	}
	warnings = mergeWarnings(warnings)
	if len(warnings) > 0 {
		s.broker.Emit(runID, events.TypeArtifactsReconciled, "artifacts", map[string]any{"warnings": warnings})
	}
	logger.Error("run failed", "error", cause, "warnings", len(warnings))
	s.broker.Emit(runID, events.TypeRunFailed, "research", map[string]any{
		"error":    cause.Error(),
		"warnings": warnings,
	})
	return &RunError{RunID: runID, Warnings: warnings, Cause: cause}
}

func (s *Service) saveRecord(ctx context.Context, logger *slog.Logger, record store.Run) {
	if err := s.store.SaveRun(context.WithoutCancel(ctx), record); err != nil {
		logger.Error("save run failed", "error", err)
	}
}

// lock serialises runs sharing a run id; they share a sandbox and a checkpoint.
func (s *Service) lock(runID string) func() {
	s.mu.Lock()
	m, ok := s.locks[runID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[runID] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func toStoreMessages(messages []llm.Message) []store.Message {
	out := make([]store.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, store.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

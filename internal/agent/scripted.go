package agent

import (
	"context"
	"log/slog"

	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
	"github.com/waqasraza123/deep-research-agent/internal/llm"
)

// Scripted researches without a language model: it reads the sources and
// assembles the deliverables from the sentences that best match the question.
type Scripted struct {
	logger *slog.Logger
}

func NewScripted(logger *slog.Logger) *Scripted {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scripted{logger: logger}
}

func (s *Scripted) Invoke(ctx context.Context, messages []llm.Message, rc RunContext) (Result, error) {
	return run(ctx, rc, s.logger, func(ctx context.Context, c collection) (string, error) {
		return renderReport(rc, c), nil
	})
}

type reportFunc func(ctx context.Context, c collection) (string, error)

// run is the research pass shared by every agent; only the report author differs.
func run(ctx context.Context, rc RunContext, logger *slog.Logger, report reportFunc) (Result, error) {
	logger = logger.With("run_id", rc.RunID)
	want := wanted(rc.Only)

	if want[artifacts.PlanFile] {
		if err := rc.Workspace.WriteFile(artifacts.PlanFile, []byte(renderPlan(rc))); err != nil {
			return Result{}, err
		}
	}
	c, err := collect(ctx, rc)
	if err != nil {
		return Result{}, err
	}
	logger.Info("sources collected", "sources", len(c.sources), "failures", len(c.failures))

	if want[artifacts.NotesFile] {
		if err := rc.Workspace.WriteFile(artifacts.NotesFile, []byte(renderNotes(c))); err != nil {
			return Result{}, err
		}
	}
	if want[artifacts.SourcesFile] {
		encoded, err := renderSources(c)
		if err != nil {
			return Result{}, err
		}
		if err := rc.Workspace.WriteFile(artifacts.SourcesFile, encoded); err != nil {
			return Result{}, err
		}
	}
	if want[artifacts.ReportFile] {
		body, err := report(ctx, c)
		if err != nil {
			return Result{}, err
		}
		if err := rc.Workspace.WriteFile(artifacts.ReportFile, []byte(body)); err != nil {
			return Result{}, err
		}
	}
	summary := renderSummary(rc, c)
	return Result{
		Summary:  summary,
		Messages: []llm.Message{{Role: llm.RoleAssistant, Content: summary}},
	}, nil
}

func wanted(only []string) map[string]bool {
	want := map[string]bool{}
	if len(only) == 0 {
		for _, name := range artifacts.RequiredFiles {
			want[name] = true
		}
		return want
	}
	for _, name := range only {
		want[name] = true
	}
	return want
}

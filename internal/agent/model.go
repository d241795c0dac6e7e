package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/waqasraza123/deep-research-agent/internal/llm"
)

// Model gathers sources like Scripted but has a language model write the report.
type Model struct {
	provider llm.Provider
	logger   *slog.Logger
}

func NewModel(provider llm.Provider, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{provider: provider, logger: logger}
}

func (m *Model) Invoke(ctx context.Context, messages []llm.Message, rc RunContext) (Result, error) {
	return run(ctx, rc, m.logger, func(ctx context.Context, c collection) (string, error) {
		prompt := make([]llm.Message, 0, len(messages)+2)
		prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt(rc.RunID, rc.Limits)})
		prompt = append(prompt, messages...)
		prompt = append(prompt, llm.Message{Role: llm.RoleUser, Content: reportRequest(rc, c)})
		body, err := m.provider.Generate(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("generate report: %w", err)
		}
		return body + "\n" + renderReferences(c), nil
	})
}

func reportRequest(rc RunContext, c collection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write report.md for the question: %s\n\n", rc.Question)
	b.WriteString("Use only the notes below and cite claims with the source ids.\n")
	b.WriteString("Return the Markdown body only.\n\n")
	b.WriteString(renderNotes(c))
	return b.String()
}

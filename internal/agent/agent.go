// Package agent drives one research pass over a run: it writes the plan,
// fetches sources through the fetch tool and produces the notes, sources and
// report deliverables in the run workspace.
package agent

import (
	"context"
	"fmt"

	"github.com/waqasraza123/deep-research-agent/internal/fetch"
	"github.com/waqasraza123/deep-research-agent/internal/llm"
)

// Tool is the fetch surface the agent may call. Call never fails; errors come
// back as structured JSON.
type Tool interface {
	Name() string
	Call(ctx context.Context, url string) string
}

type Workspace interface {
	RunID() string
	WriteFile(rel string, data []byte) error
	ReadFile(rel string) ([]byte, error)
	Exists(rel string) (bool, error)
}

type RunContext struct {
	RunID     string
	Question  string
	Limits    fetch.Limits
	URLs      []string
	Tool      Tool
	Workspace Workspace
	// Only lists the deliverables to write. Empty means all of them.
	Only []string
}

type Result struct {
	Summary  string
	Messages []llm.Message
}

type Agent interface {
	Invoke(ctx context.Context, messages []llm.Message, rc RunContext) (Result, error)
}

// SystemPrompt is the instruction given to model-backed agents.
func SystemPrompt(runID string, limits fetch.Limits) string {
	runDir := "runs/" + runID
	return fmt.Sprintf(`You are an expert research analyst.

You MUST write working artifacts to: %[1]s

Deliverables (always):
1) %[1]s/plan.md
2) %[1]s/notes.md
3) %[1]s/sources.json as a JSON array of objects:
   {
     "source_id": "S1",
     "url": "...",
     "title": "...",
     "local_path": "sources/<hash>.txt",
     "summary": "...",
     "key_points": ["..."],
     "quotes": ["..."]
   }
4) %[1]s/report.md a polished Markdown report with citations like [S1], [S2]

Limits:
- Max sources: %[2]d
- Max links per source: %[3]d
- Follow links: %[4]t

Workflow:
A) Write plan.md first. Include what you will read and why.
B) For each provided URL call %[5]s(url) and read its local_text_path if needed.
C) If follow_links is true, fetch only the most relevant returned links until max_sources is reached.
D) Write notes.md with per-source sections: title, url, 5-10 bullet key facts, 1-3 short quotes.
E) Write sources.json using the schema above.
F) Write report.md with a clear structure, a conclusion and explicit assumptions, citing every important claim using [Sx].

Return in chat:
- 5-10 line executive summary and confirm report.md location.
`, runDir, limits.MaxSources, limits.MaxLinksPerSource, limits.FollowLinksEffective(), fetch.ToolName)
}

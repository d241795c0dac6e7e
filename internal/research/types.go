package research

import (
	"errors"
	"fmt"
	"strings"

	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
	"github.com/waqasraza123/deep-research-agent/internal/fetch"
	"github.com/waqasraza123/deep-research-agent/internal/llm"
)

var ErrInvalidRequest = errors.New("invalid request")

const (
	minQuestionChars         = 5
	defaultMaxSources        = 1
	defaultMaxLinksPerSource = 0
)

// Request is a research job as accepted over HTTP. Unset limits take the
// conservative defaults: one source, no link following.
type Request struct {
	Question          string   `json:"question"`
	URLs              []string `json:"urls"`
	RunID             string   `json:"run_id,omitempty"`
	MaxSources        *int     `json:"max_sources,omitempty"`
	MaxLinksPerSource *int     `json:"max_links_per_source,omitempty"`
	FollowLinks       *bool    `json:"follow_links,omitempty"`
}

func (r Request) limits(bounds fetch.Bounds) fetch.Limits {
	limits := fetch.Limits{MaxSources: defaultMaxSources, MaxLinksPerSource: defaultMaxLinksPerSource}
	if r.MaxSources != nil {
		limits.MaxSources = *r.MaxSources
	}
	if r.MaxLinksPerSource != nil {
		limits.MaxLinksPerSource = *r.MaxLinksPerSource
	}
	if r.FollowLinks != nil {
		limits.FollowLinks = *r.FollowLinks
	}
	return limits.Clamp(bounds)
}

type Response struct {
	RunID     string            `json:"run_id"`
	Summary   string            `json:"summary"`
	Warnings  []string          `json:"warnings"`
	Artifacts []artifacts.Entry `json:"artifacts"`
	Hint      string            `json:"hint"`
}

// RunError reports an orchestration failure after the run's deliverables
// were reconciled.
type RunError struct {
	RunID    string
	Warnings []string
	Cause    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed: %v", e.RunID, e.Cause)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}

// Job is the unit handed to an Executor. It only carries serialisable data so
// it can cross a workflow boundary.
type Job struct {
	RunID    string        `json:"run_id"`
	Question string        `json:"question"`
	URLs     []string      `json:"urls"`
	Limits   fetch.Limits  `json:"limits"`
	Messages []llm.Message `json:"messages"`
}

// Outcome is what an execution produced. Warnings are meaningful even when
// execution failed.
type Outcome struct {
	Summary  string        `json:"summary"`
	Messages []llm.Message `json:"messages"`
	Warnings []string      `json:"warnings"`
}

func cleanURLs(urls []string, limit int) []string {
	cleaned := []string{}
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return cleaned
}

func userMessage(question string, urls []string) string {
	if len(urls) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString(question)
	b.WriteString("\n\nSources (call " + fetch.ToolName + " on these):\n")
	for i, u := range urls {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- " + u)
	}
	return b.String()
}

func repairMessage(runID string, missing []string, urls []string) string {
	var b strings.Builder
	b.WriteString("Create missing files in runs/" + runID + ":\n")
	for _, name := range missing {
		b.WriteString("- " + name + "\n")
	}
	b.WriteString("Use provided URLs only.\nEnd after files exist.")
	if len(urls) > 0 {
		b.WriteString("\nURLs:")
		for _, u := range urls {
			b.WriteString("\n- " + u)
		}
	}
	return b.String()
}

func mergeWarnings(lists ...[]string) []string {
	merged := []string{}
	seen := map[string]struct{}{}
	for _, list := range lists {
		for _, w := range list {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			merged = append(merged, w)
		}
	}
	return merged
}

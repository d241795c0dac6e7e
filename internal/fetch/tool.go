package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const ToolName = "fetch_and_store"

// ToolError is the structured error payload returned by the fetch tool.
type ToolError struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	URL        string `json:"url"`
	MaxSources *int   `json:"max_sources,omitempty"`
}

const (
	KindUnsupportedScheme    = "unsupported_scheme"
	KindSourceBudgetExceeded = "source_budget_exceeded"
	KindFetchFailed          = "fetch_failed"
	KindInternal             = "internal"
)

// Tool exposes a Session to the agent. Call always returns a JSON document:
// the stored metadata on success or a ToolError otherwise.
type Tool struct {
	session *Session
}

func NewTool(session *Session) *Tool {
	return &Tool{session: session}
}

func (t *Tool) Name() string {
	return ToolName
}

func (t *Tool) Call(ctx context.Context, rawURL string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = encodeToolError(ToolError{Error: fmt.Sprintf("internal error: %v", r), Kind: KindInternal, URL: rawURL})
		}
	}()
	source, err := t.session.Fetch(ctx, rawURL)
	if err != nil {
		return encodeToolError(t.toolError(rawURL, err))
	}
	return string(source.Raw)
}

func (t *Tool) toolError(rawURL string, err error) ToolError {
	switch {
	case errors.Is(err, ErrUnsupportedScheme):
		return ToolError{Error: "Blocked: only http(s) URLs are allowed.", Kind: KindUnsupportedScheme, URL: rawURL}
	case errors.Is(err, ErrSourceBudgetExceeded):
		maxSources := t.session.limits.MaxSources
		return ToolError{Error: "Source limit reached", Kind: KindSourceBudgetExceeded, URL: rawURL, MaxSources: &maxSources}
	case errors.Is(err, ErrFetchFailed):
		var fetchErr *FetchError
		cause := err
		if errors.As(err, &fetchErr) {
			cause = fetchErr.Cause
		}
		return ToolError{Error: fmt.Sprintf("Fetch failed: %v", cause), Kind: KindFetchFailed, URL: rawURL}
	default:
		return ToolError{Error: err.Error(), Kind: KindInternal, URL: rawURL}
	}
}

func encodeToolError(toolErr ToolError) string {
	encoded, err := json.Marshal(toolErr)
	if err != nil {
		return `{"error":"internal error","kind":"internal"}`
	}
	return string(encoded)
}

// ToolResult is a decoded tool response. Exactly one of Metadata and Err is set.
type ToolResult struct {
	Metadata *Metadata
	Err      *ToolError
}

func DecodeToolResult(payload string) (ToolResult, error) {
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return ToolResult{}, err
	}
	if probe.Error != nil {
		var toolErr ToolError
		if err := json.Unmarshal([]byte(payload), &toolErr); err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Err: &toolErr}, nil
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(payload), &meta); err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Metadata: &meta}, nil
}

// Package fetch implements the per-run fetch cache: a bounded, safe HTTP GET
// whose extracted text and metadata are persisted under the SHA-1 of the URL.
package fetch

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/sync/singleflight"

	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
	"github.com/waqasraza123/deep-research-agent/internal/extract"
)

const (
	SourcesDir      = "sources"
	TruncatedMarker = "\n\n[TRUNCATED]\n"
	previewChars    = 50
	defaultTimeout  = 20 * time.Second
	defaultMaxChars = 15000
	fetchedAtLayout = "2006-01-02T15:04:05Z"
)

// Metadata is the document stored next to every cached body and returned to
// the agent by the fetch tool.
type Metadata struct {
	URL           string   `json:"url"`
	FinalURL      string   `json:"final_url"`
	StatusCode    int      `json:"status_code"`
	ContentType   string   `json:"content_type"`
	FetchedAt     string   `json:"fetched_at"`
	Title         *string  `json:"title"`
	LocalTextPath string   `json:"local_text_path"`
	Truncated     bool     `json:"truncated"`
	Links         []string `json:"links"`
	Preview       string   `json:"preview"`
}

// Source is the outcome of a successful Fetch. Raw holds the metadata bytes
// exactly as persisted.
type Source struct {
	Metadata Metadata
	Raw      []byte
	CacheHit bool
}

type Options struct {
	MaxPageChars int
	Timeout      time.Duration
	UserAgent    string
	Client       *http.Client
	Logger       *slog.Logger
}

type Fetcher struct {
	files        *artifacts.Store
	client       *http.Client
	maxPageChars int
	userAgent    string
	logger       *slog.Logger
	now          func() time.Time
}

func NewFetcher(files *artifacts.Store, opts Options) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	maxChars := opts.MaxPageChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "deep-research-agent/0.1"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		files:        files,
		client:       client,
		maxPageChars: maxChars,
		userAgent:    userAgent,
		logger:       logger,
		now:          time.Now,
	}
}

// Session is the fetch cache of one run. It is safe for concurrent use;
// concurrent fetches of the same URL collapse into one network call.
type Session struct {
	fetcher  *Fetcher
	runID    string
	limits   Limits
	budget   *budget
	group    singleflight.Group
	observer func(Source)
}

type SessionOption func(*Session)

// WithObserver registers fn to be called after every successful fetch.
func WithObserver(fn func(Source)) SessionOption {
	return func(s *Session) {
		s.observer = fn
	}
}

func (f *Fetcher) Session(runID string, limits Limits, opts ...SessionOption) (*Session, error) {
	if _, err := f.files.RunDir(runID); err != nil {
		return nil, err
	}
	session := &Session{
		fetcher: f,
		runID:   runID,
		limits:  limits,
		budget:  newBudget(limits.MaxSources),
	}
	for _, opt := range opts {
		opt(session)
	}
	return session, nil
}

func (s *Session) RunID() string {
	return s.runID
}

func (s *Session) Limits() Limits {
	return s.limits
}

// SeenCount is the number of distinct URLs fetched or served from cache.
func (s *Session) SeenCount() int {
	return s.budget.count()
}

// HashURL is the cache key of rawURL.
func HashURL(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

func TextPath(hash string) string {
	return SourcesDir + "/" + hash + ".txt"
}

func MetadataPath(hash string) string {
	return SourcesDir + "/" + hash + ".json"
}

// Fetch returns the cached source for rawURL, fetching and persisting it first
// when this run has not stored it yet.
func (s *Session) Fetch(ctx context.Context, rawURL string) (*Source, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, rawURL)
	}
	result, err, _ := s.group.Do(rawURL, func() (any, error) {
		return s.fetchOnce(ctx, rawURL)
	})
	if err != nil {
		return nil, err
	}
	source := result.(*Source)
	if s.observer != nil {
		s.observer(*source)
	}
	return source, nil
}

func (s *Session) fetchOnce(ctx context.Context, rawURL string) (*Source, error) {
	if !s.budget.reserve(rawURL) {
		return nil, fmt.Errorf("%w: max_sources=%d", ErrSourceBudgetExceeded, s.limits.MaxSources)
	}
	hash := HashURL(rawURL)
	if cached, ok := s.readCached(hash); ok {
		s.budget.commit(rawURL)
		return cached, nil
	}
	source, err := s.download(ctx, rawURL, hash)
	if err != nil {
		s.budget.release(rawURL)
		return nil, err
	}
	s.budget.commit(rawURL)
	return source, nil
}

// readCached trusts an entry only when the body exists and the metadata parses.
func (s *Session) readCached(hash string) (*Source, bool) {
	files := s.fetcher.files
	if ok, err := files.Exists(s.runID, TextPath(hash)); err != nil || !ok {
		return nil, false
	}
	raw, err := files.ReadFile(s.runID, MetadataPath(hash))
	if err != nil {
		return nil, false
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		s.fetcher.logger.Warn("ignoring unreadable cached metadata", "run_id", s.runID, "hash", hash, "error", err)
		return nil, false
	}
	return &Source{Metadata: meta, Raw: raw, CacheHit: true}, true
}

func (s *Session) download(ctx context.Context, rawURL string, hash string) (*Source, error) {
	f := s.fetcher
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Cause: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Cause: err}
	}
	defer resp.Body.Close()

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	isHTML := strings.Contains(contentType, "html")
	isText := strings.HasPrefix(contentType, "text/")

	raw, err := readBody(resp.Body, contentType, isHTML || isText, f.maxPageChars)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Cause: err}
	}
	raw, truncated := truncate(raw, f.maxPageChars)

	text := raw
	links := []string{}
	var title *string
	if isHTML {
		extracted, extractedTitle := extract.Text(raw)
		text = extracted
		if extractedTitle != "" {
			title = &extractedTitle
		}
		if s.limits.FollowLinksEffective() {
			links = extract.Links(raw, finalURL, s.limits.MaxLinksPerSource)
		}
	}
	switch {
	case !isText && !isHTML:
		// The placeholder replaces the body, so nothing of it was cut.
		text = fmt.Sprintf("Non-text content-type: %s\nURL: %s\nStatus: %d\n", contentType, finalURL, resp.StatusCode)
		truncated = false
	case truncated:
		text += TruncatedMarker
	}

	meta := Metadata{
		URL:           rawURL,
		FinalURL:      finalURL,
		StatusCode:    resp.StatusCode,
		ContentType:   contentType,
		FetchedAt:     f.now().UTC().Format(fetchedAtLayout),
		Title:         title,
		LocalTextPath: TextPath(hash),
		Truncated:     truncated,
		Links:         links,
		Preview:       prefixRunes(text, previewChars),
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	// The metadata file is the commit marker, so the body goes first.
	if err := f.files.WriteFile(s.runID, TextPath(hash), []byte(text)); err != nil {
		return nil, fmt.Errorf("store source text: %w", err)
	}
	if err := f.files.WriteFile(s.runID, MetadataPath(hash), encoded); err != nil {
		return nil, fmt.Errorf("store source metadata: %w", err)
	}
	f.logger.Info("source fetched",
		"run_id", s.runID,
		"url", rawURL,
		"status_code", resp.StatusCode,
		"content_type", contentType,
		"truncated", truncated,
		"links", len(links),
	)
	return &Source{Metadata: meta, Raw: encoded}, nil
}

// readBody decodes at most enough of body to tell whether it exceeds maxChars.
func readBody(body io.Reader, contentType string, decode bool, maxChars int) (string, error) {
	reader := body
	if decode {
		decoded, err := charset.NewReader(body, contentType)
		if err != nil {
			return "", err
		}
		reader = decoded
	}
	limit := int64(maxChars+1) * utf8.UTFMax
	data, err := io.ReadAll(io.LimitReader(reader, limit))
	if err != nil {
		return "", err
	}
	if decode {
		data = bytes.ToValidUTF8(data, []byte("�"))
	}
	return string(data), nil
}

// truncate cuts text to maxChars runes. The marker is appended by the caller
// after extraction so it survives HTML parsing.
func truncate(text string, maxChars int) (string, bool) {
	if utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}
	return prefixRunes(text, maxChars), true
}

func prefixRunes(text string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}

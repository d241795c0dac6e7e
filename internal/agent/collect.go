package agent

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/waqasraza123/deep-research-agent/internal/fetch"
)

const (
	maxKeyPoints    = 6
	maxQuotes       = 2
	maxQuoteChars   = 200
	minSentence     = 30
	maxSentence     = 400
	summarySentence = 2
)

// Source is one successfully fetched document with what the agent learned from it.
type Source struct {
	ID        string
	Metadata  fetch.Metadata
	Title     string
	Summary   string
	KeyPoints []string
	Quotes    []string
}

// Failure is a URL the agent tried and could not use.
type Failure struct {
	URL    string
	Reason string
}

type collection struct {
	sources  []Source
	failures []Failure
}

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "also": {}, "does": {}, "from": {}, "have": {},
	"into": {}, "that": {}, "their": {}, "there": {}, "these": {}, "this": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {}, "with": {},
	"would": {}, "your": {}, "were": {}, "will": {}, "they": {}, "them": {},
}

// collect fetches the seed URLs and then, when link following is in effect,
// returned links until the source budget is spent.
func collect(ctx context.Context, rc RunContext) (collection, error) {
	var result collection
	seen := map[string]struct{}{}
	var frontier []string

	visit := func(rawURL string) (stop bool, err error) {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		if _, ok := seen[rawURL]; ok {
			return false, nil
		}
		seen[rawURL] = struct{}{}
		decoded, err := fetch.DecodeToolResult(rc.Tool.Call(ctx, rawURL))
		if err != nil {
			result.failures = append(result.failures, Failure{URL: rawURL, Reason: "unreadable tool result"})
			return false, nil
		}
		if decoded.Err != nil {
			result.failures = append(result.failures, Failure{URL: rawURL, Reason: decoded.Err.Error})
			return decoded.Err.Kind == fetch.KindSourceBudgetExceeded, nil
		}
		text, err := rc.Workspace.ReadFile(decoded.Metadata.LocalTextPath)
		if err != nil {
			text = []byte(decoded.Metadata.Preview)
		}
		source := analyse(*decoded.Metadata, string(text), rc.Question)
		source.ID = fmt.Sprintf("S%d", len(result.sources)+1)
		result.sources = append(result.sources, source)
		frontier = append(frontier, decoded.Metadata.Links...)
		return false, nil
	}

	for _, seed := range rc.URLs {
		stop, err := visit(seed)
		if err != nil {
			return result, err
		}
		if stop {
			return result, nil
		}
	}
	if !rc.Limits.FollowLinksEffective() {
		return result, nil
	}
	for _, link := range rankLinks(frontier, rc.Question) {
		if len(result.sources) >= rc.Limits.MaxSources {
			break
		}
		stop, err := visit(link)
		if err != nil {
			return result, err
		}
		if stop {
			break
		}
	}
	return result, nil
}

// rankLinks orders links by how many question keywords appear in them,
// keeping discovery order among equals.
func rankLinks(links []string, question string) []string {
	terms := keywords(question)
	ranked := append([]string{}, links...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return score(strings.ToLower(ranked[i]), terms) > score(strings.ToLower(ranked[j]), terms)
	})
	return ranked
}

func analyse(meta fetch.Metadata, text string, question string) Source {
	title := ""
	if meta.Title != nil {
		title = strings.TrimSpace(*meta.Title)
	}
	if title == "" {
		title = hostOf(meta.FinalURL, meta.URL)
	}
	text = strings.TrimSuffix(text, fetch.TruncatedMarker)
	if !strings.HasPrefix(meta.ContentType, "text/") && !strings.Contains(meta.ContentType, "html") {
		text = ""
	}
	sentences := splitSentences(text)
	points := pickSentences(sentences, keywords(question), maxKeyPoints)

	summary := strings.Join(firstN(points, summarySentence), " ")
	if summary == "" {
		summary = fmt.Sprintf("%s returned %s (status %d) with no readable prose.", meta.FinalURL, meta.ContentType, meta.StatusCode)
	}
	quotes := make([]string, 0, maxQuotes)
	for _, sentence := range firstN(points, maxQuotes) {
		quotes = append(quotes, clip(sentence, maxQuoteChars))
	}
	return Source{
		Metadata:  meta,
		Title:     title,
		Summary:   summary,
		KeyPoints: points,
		Quotes:    quotes,
	}
}

func splitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, part := range strings.Split(sentenceEnd.ReplaceAllString(line, "$1\n"), "\n") {
			part = strings.TrimSpace(part)
			n := utf8.RuneCountInString(part)
			if n >= minSentence && n <= maxSentence {
				out = append(out, part)
			}
		}
	}
	return out
}

// pickSentences keeps the best scoring sentences in document order, falling
// back to the opening sentences when nothing matches the question.
func pickSentences(sentences []string, terms []string, limit int) []string {
	type scored struct {
		index int
		score int
	}
	candidates := make([]scored, 0, len(sentences))
	for i, sentence := range sentences {
		if s := score(strings.ToLower(sentence), terms); s > 0 {
			candidates = append(candidates, scored{index: i, score: s})
		}
	}
	if len(candidates) == 0 {
		return firstN(sentences, limit)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].index < candidates[j].index
	})
	picked := make([]string, 0, len(candidates))
	for _, c := range candidates {
		picked = append(picked, sentences[c.index])
	}
	return picked
}

func keywords(question string) []string {
	var terms []string
	seen := map[string]struct{}{}
	for _, word := range strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > utf8.RuneSelf)
	}) {
		if utf8.RuneCountInString(word) < 4 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		terms = append(terms, word)
	}
	return terms
}

func score(text string, terms []string) int {
	total := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			total++
		}
	}
	return total
}

func firstN(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

func clip(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n-3])) + "..."
}

func hostOf(candidates ...string) string {
	for _, candidate := range candidates {
		if parsed, err := url.Parse(candidate); err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return "Untitled source"
}

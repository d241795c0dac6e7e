package fetch

import "sync"

// Limits are the per-run crawl limits.
type Limits struct {
	MaxSources        int  `json:"max_sources"`
	MaxLinksPerSource int  `json:"max_links_per_source"`
	FollowLinks       bool `json:"follow_links"`
}

// Bounds are the server-side ceilings callers cannot exceed.
type Bounds struct {
	MaxSources        int
	MaxLinksPerSource int
}

var DefaultBounds = Bounds{MaxSources: 3, MaxLinksPerSource: 10}

// Clamp forces both limits into [0, bound] and disables link following when it
// could not be honoured.
func (l Limits) Clamp(b Bounds) Limits {
	clamped := Limits{
		MaxSources:        clamp(l.MaxSources, 0, b.MaxSources),
		MaxLinksPerSource: clamp(l.MaxLinksPerSource, 0, b.MaxLinksPerSource),
		FollowLinks:       l.FollowLinks,
	}
	clamped.FollowLinks = clamped.FollowLinksEffective()
	return clamped
}

// FollowLinksEffective is false for single-source runs and for runs that may
// not collect any links, whatever the caller asked for.
func (l Limits) FollowLinksEffective() bool {
	return l.FollowLinks && l.MaxSources > 1 && l.MaxLinksPerSource > 0
}

func clamp(value, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// budget tracks the distinct URLs of one run. The set only grows.
type budget struct {
	mu      sync.Mutex
	limit   int
	seen    map[string]struct{}
	pending map[string]struct{}
}

func newBudget(limit int) *budget {
	return &budget{
		limit:   limit,
		seen:    map[string]struct{}{},
		pending: map[string]struct{}{},
	}
}

// reserve admits url when it was seen before or when a slot is free. In-flight
// fetches of new URLs hold a slot until commit or release.
func (b *budget) reserve(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[url]; ok {
		return true
	}
	if _, ok := b.pending[url]; ok {
		return true
	}
	if len(b.seen)+len(b.pending) >= b.limit {
		return false
	}
	b.pending[url] = struct{}{}
	return true
}

func (b *budget) commit(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, url)
	b.seen[url] = struct{}{}
}

func (b *budget) release(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, url)
}

func (b *budget) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seen)
}

package github

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v81/github"
)

const (
	ResourceCore   = "core"
	ResourceSearch = "search"
)

// RateWindow is the quota state of one API resource.
type RateWindow struct {
	Limit     int
	Remaining int
	Reset     time.Time
	// Observed is false until a response or rate_limit call reported this resource.
	Observed bool
}

// RateBudget is a snapshot of the core and search quotas.
type RateBudget struct {
	Core   RateWindow
	Search RateWindow
}

// Budget passively tracks quota from response headers and explicit
// rate_limit lookups. It never blocks callers.
type Budget struct {
	mu         sync.Mutex
	windows    map[string]RateWindow
	retryAfter time.Time
	now        func() time.Time
}

func NewBudget() *Budget {
	return &Budget{
		windows: make(map[string]RateWindow),
		now:     time.Now,
	}
}

func (b *Budget) Snapshot() RateBudget {
	if b == nil {
		return RateBudget{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return RateBudget{
		Core:   b.windows[ResourceCore],
		Search: b.windows[ResourceSearch],
	}
}

// RetryAfter reports how long the server last asked clients to wait, measured
// from now. Zero once the hint has elapsed.
func (b *Budget) RetryAfter() time.Duration {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.retryAfter.Sub(b.now())
	if d < 0 {
		return 0
	}
	return d
}

func (b *Budget) UpdateFromResponse(resp *http.Response) {
	if b == nil || resp == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			until := b.now().Add(time.Duration(seconds) * time.Second)
			if until.After(b.retryAfter) {
				b.retryAfter = until
			}
		}
	}

	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return
	}
	resource := strings.ToLower(strings.TrimSpace(resp.Header.Get("X-RateLimit-Resource")))
	if resource == "" {
		resource = ResourceCore
	}

	w := b.windows[resource]
	if val, err := strconv.Atoi(remaining); err == nil && val >= 0 {
		w.Remaining = val
		w.Observed = true
	}
	if limit := resp.Header.Get("X-RateLimit-Limit"); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil && val > 0 {
			w.Limit = val
		}
	}
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if val, err := strconv.ParseInt(reset, 10, 64); err == nil && val > 0 {
			w.Reset = time.Unix(val, 0)
		}
	}
	b.windows[resource] = w
}

// Update replaces tracked windows with an authoritative rate_limit response.
func (b *Budget) Update(limits *github.RateLimits) {
	if b == nil || limits == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if limits.Core != nil {
		b.windows[ResourceCore] = windowFromRate(limits.Core)
	}
	if limits.Search != nil {
		b.windows[ResourceSearch] = windowFromRate(limits.Search)
	}
}

func windowFromRate(r *github.Rate) RateWindow {
	return RateWindow{
		Limit:     r.Limit,
		Remaining: r.Remaining,
		Reset:     r.Reset.Time,
		Observed:  true,
	}
}

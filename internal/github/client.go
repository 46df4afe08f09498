package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// RetryPolicy holds the backoff tunables used by Request.
type RetryPolicy struct {
	MaxAttempts int

	// RateLimitBackoff is multiplied by (attempt+1) after a rate-limited 403.
	RateLimitBackoff time.Duration

	// TransientBackoff is multiplied by (attempt+1) after a 429/502/503/504.
	TransientBackoff time.Duration

	// NetworkBackoff is a fixed delay after a transport failure.
	NetworkBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		RateLimitBackoff: 60 * time.Second,
		TransientBackoff: 30 * time.Second,
		NetworkBackoff:   10 * time.Second,
	}
}

// RetryObserver is notified every time Request schedules a retry.
type RetryObserver interface {
	ObserveRetry(reason string)
}

type Client struct {
	Client *github.Client
	HTTP   *http.Client

	logger   *zap.Logger
	retry    RetryPolicy
	budget   *Budget
	refresh  singleflight.Group
	observer RetryObserver

	// sleep is swapped out in tests to record backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

type options struct {
	logger    *zap.Logger
	baseURL   string
	retry     *RetryPolicy
	observer  RetryObserver
	transport http.RoundTripper
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBaseURL points the client at a different API root (GitHub Enterprise
// Server or a test server).
func WithBaseURL(raw string) Option {
	return func(o *options) {
		o.baseURL = raw
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.retry = &p
	}
}

func WithRetryObserver(obs RetryObserver) Option {
	return func(o *options) {
		o.observer = obs
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// loggingRoundTripper wraps an underlying transport and emits one debug line per
// request and response, including latency.
type loggingRoundTripper struct {
	base   http.RoundTripper
	logger *zap.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.logger.Debug("github api request", zap.String("method", req.Method), zap.String("path", req.URL.Path))
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.logger.Debug("github api error", zap.String("path", req.URL.Path), zap.Duration("latency", dur), zap.Error(err))
		return resp, err
	}
	t.logger.Debug("github api response",
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", dur),
	)
	return resp, err
}

func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("github client: ctx is nil")
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	policy := DefaultRetryPolicy()
	if o.retry != nil {
		policy = *o.retry
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	transport := o.transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	transport = &loggingRoundTripper{base: transport, logger: o.logger}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}
	tc := &http.Client{Transport: transport}

	gc := github.NewClient(tc)
	if o.baseURL != "" {
		u, err := url.Parse(o.baseURL)
		if err != nil {
			return nil, fmt.Errorf("github client: invalid base url %q: %w", o.baseURL, err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		gc.BaseURL = u
	}

	return &Client{
		Client:   gc,
		HTTP:     tc,
		logger:   o.logger,
		retry:    policy,
		budget:   NewBudget(),
		observer: o.observer,
		sleep:    sleepContext,
	}, nil
}

// RetryPolicy returns the policy in effect.
func (c *Client) RetryPolicy() RetryPolicy {
	return c.retry
}

// Budget exposes the passively tracked rate budget.
func (c *Client) Budget() *Budget {
	return c.budget
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

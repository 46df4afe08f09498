package discovery

import (
	"context"
	"fmt"
	"strings"
	gh "workflowsweep/internal/github"

	"go.uber.org/zap"
)

const (
	// PageSize is the search page size requested for every scope.
	PageSize = 100

	// MaxResultsPerScope is the search backend's ceiling on reachable results.
	MaxResultsPerScope = 1000

	DefaultWorkflowPath = ".github/workflows"
)

// CodeSearcher is the slice of the API client the discoverer needs.
type CodeSearcher interface {
	SearchCode(ctx context.Context, query string, page, perPage int) (gh.CodeSearchPage, error)
}

type ScopeKind string

const (
	ScopeUser ScopeKind = "user"
	ScopeOrg  ScopeKind = "org"
)

type Scope struct {
	Kind  ScopeKind
	Login string
}

func (s Scope) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Login)
}

// ScopesFor lists the user scope followed by one scope per organization.
func ScopesFor(id gh.Identity) []Scope {
	scopes := make([]Scope, 0, 1+len(id.Organizations))
	if id.Login != "" {
		scopes = append(scopes, Scope{Kind: ScopeUser, Login: id.Login})
	}
	for _, org := range id.Organizations {
		scopes = append(scopes, Scope{Kind: ScopeOrg, Login: org})
	}
	return scopes
}

type Options struct {
	Signature string
	// Exclude skips any search hit whose path contains it.
	Exclude      string
	WorkflowPath string
}

// ScopeError records a scope whose search stopped on an API failure.
type ScopeError struct {
	Scope Scope
	Page  int
	Err   error
}

func (e ScopeError) Error() string {
	return fmt.Sprintf("search %s page %d: %v", e.Scope, e.Page, e.Err)
}

type Result struct {
	Candidates  *CandidateSet
	Scopes      []Scope
	ScopeErrors []ScopeError
	// Requests counts search pages issued across all scopes.
	Requests int
}

type Discoverer struct {
	searcher CodeSearcher
	opts     Options
	logger   *zap.Logger
}

func New(searcher CodeSearcher, opts Options, logger *zap.Logger) *Discoverer {
	if opts.WorkflowPath == "" {
		opts.WorkflowPath = DefaultWorkflowPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{searcher: searcher, opts: opts, logger: logger}
}

// Query builds the code search query for one scope.
func (d *Discoverer) Query(scope Scope) string {
	return fmt.Sprintf("%s in:file path:%s %s", d.opts.Signature, d.opts.WorkflowPath, scope)
}

// Discover searches every scope of id and returns the deduplicated candidates.
// A failing scope is recorded and skipped; only context cancellation aborts.
func (d *Discoverer) Discover(ctx context.Context, id gh.Identity) (*Result, error) {
	res := &Result{
		Candidates: NewCandidateSet(),
		Scopes:     ScopesFor(id),
	}
	for _, scope := range res.Scopes {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := d.searchScope(ctx, scope, res); err != nil {
			return res, err
		}
	}
	d.logger.Info("discovery finished",
		zap.Int("scopes", len(res.Scopes)),
		zap.Int("candidates", res.Candidates.Len()),
		zap.Int("search_requests", res.Requests),
		zap.Int("scope_errors", len(res.ScopeErrors)),
	)
	return res, nil
}

func (d *Discoverer) searchScope(ctx context.Context, scope Scope, res *Result) error {
	query := d.Query(scope)
	log := d.logger.With(zap.Stringer("scope", scope))
	processed := 0

	for page := 1; ; page++ {
		res.Requests++
		result, err := d.searcher.SearchCode(ctx, query, page, PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("code search failed", zap.Int("page", page), zap.Error(err))
			res.ScopeErrors = append(res.ScopeErrors, ScopeError{Scope: scope, Page: page, Err: err})
			return nil
		}
		if !result.ItemsPresent {
			log.Warn("code search response has no items", zap.Int("page", page))
			return nil
		}
		if len(result.Items) == 0 {
			if page == 1 {
				log.Debug("no matches in scope")
			}
			return nil
		}
		if page == 1 && result.Total > MaxResultsPerScope {
			log.Warn("more matches than the search backend can return", zap.Int("total", result.Total), zap.Int("reachable", MaxResultsPerScope))
		}

		for _, item := range result.Items {
			path := item.GetPath()
			if d.opts.Exclude != "" && strings.Contains(path, d.opts.Exclude) {
				log.Debug("skipping excluded path", zap.String("path", path))
				continue
			}
			repo := item.GetRepository().GetFullName()
			if res.Candidates.Add(Candidate{Repository: repo, Path: path}) {
				log.Info("infected workflow found", zap.String("repository", repo), zap.String("path", path))
			}
		}

		processed += len(result.Items)
		if len(result.Items) < PageSize || processed >= MaxResultsPerScope {
			return nil
		}
	}
}

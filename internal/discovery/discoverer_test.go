package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	gh "workflowsweep/internal/github"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-github/v81/github"
	"github.com/stretchr/testify/require"
)

type searchCall struct {
	query string
	page  int
}

// fakeSearcher serves pages keyed by the scope suffix of the query.
type fakeSearcher struct {
	pages map[string][]gh.CodeSearchPage
	errs  map[string]error
	calls []searchCall
}

func (f *fakeSearcher) SearchCode(_ context.Context, query string, page, perPage int) (gh.CodeSearchPage, error) {
	f.calls = append(f.calls, searchCall{query: query, page: page})
	scope := query[strings.LastIndex(query, " ")+1:]
	if err := f.errs[scope]; err != nil {
		return gh.CodeSearchPage{}, err
	}
	pages := f.pages[scope]
	if page-1 >= len(pages) {
		return gh.CodeSearchPage{ItemsPresent: true}, nil
	}
	return pages[page-1], nil
}

func (f *fakeSearcher) callsFor(scope string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasSuffix(c.query, " "+scope) {
			n++
		}
	}
	return n
}

func hit(repo, path string) *github.CodeResult {
	return &github.CodeResult{
		Path:       github.Ptr(path),
		Repository: &github.Repository{FullName: github.Ptr(repo)},
	}
}

func pageOf(items ...*github.CodeResult) gh.CodeSearchPage {
	return gh.CodeSearchPage{Total: len(items), Items: items, ItemsPresent: true}
}

func fullPage(repoPrefix string, n int) gh.CodeSearchPage {
	items := make([]*github.CodeResult, n)
	for i := range items {
		items[i] = hit(fmt.Sprintf("%s/repo-%d", repoPrefix, i), ".github/workflows/ci.yml")
	}
	return gh.CodeSearchPage{Total: 5000, Items: items, ItemsPresent: true}
}

var identity = gh.Identity{Login: "octocat", Organizations: []string{"acme"}}

func TestDiscoverer_QueryFormat(t *testing.T) {
	d := New(&fakeSearcher{}, Options{Signature: ".oast.fun"}, nil)
	require.Equal(t, ".oast.fun in:file path:.github/workflows org:acme", d.Query(Scope{Kind: ScopeOrg, Login: "acme"}))
	require.Equal(t, ".oast.fun in:file path:.github/workflows user:octocat", d.Query(Scope{Kind: ScopeUser, Login: "octocat"}))
}

func TestDiscoverer_DedupesAndSkipsExcluded(t *testing.T) {
	s := &fakeSearcher{pages: map[string][]gh.CodeSearchPage{
		"user:octocat": {pageOf(
			hit("octocat/app", ".github/workflows/deploy.yml"),
			hit("octocat/app", ".github/workflows/release.yml"),
			hit("octocat/tools", ".github/workflows/workflowsweep.yml"),
		)},
		"org:acme": {pageOf(
			hit("acme/api", ".github/workflows/build.yaml"),
			hit("octocat/app", ".github/workflows/other.yml"),
		)},
	}}
	d := New(s, Options{Signature: ".oast.fun", Exclude: "workflowsweep"}, nil)

	res, err := d.Discover(context.Background(), identity)
	require.NoError(t, err)

	want := []Candidate{
		{Repository: "octocat/app", Path: ".github/workflows/deploy.yml"},
		{Repository: "acme/api", Path: ".github/workflows/build.yaml"},
	}
	if diff := cmp.Diff(want, res.Candidates.List()); diff != "" {
		t.Fatalf("candidates mismatch (-want +got):\n%s", diff)
	}
	require.False(t, res.Candidates.Contains("octocat/tools"))
}

func TestDiscoverer_EmptyFirstPageStopsScope(t *testing.T) {
	s := &fakeSearcher{pages: map[string][]gh.CodeSearchPage{
		"user:octocat": {pageOf()},
		"org:acme":     {pageOf()},
	}}
	d := New(s, Options{Signature: ".oast.fun"}, nil)

	res, err := d.Discover(context.Background(), identity)
	require.NoError(t, err)
	require.Equal(t, 0, res.Candidates.Len())
	require.Equal(t, 1, s.callsFor("user:octocat"))
	require.Equal(t, 1, s.callsFor("org:acme"))
	for _, c := range s.calls {
		require.Equal(t, 1, c.page, "no second page may be requested")
	}
}

func TestDiscoverer_MissingItemsKeyStopsScope(t *testing.T) {
	s := &fakeSearcher{pages: map[string][]gh.CodeSearchPage{
		"user:octocat": {{ItemsPresent: false}, fullPage("never", PageSize)},
		"org:acme":     {pageOf(hit("acme/api", ".github/workflows/ci.yml"))},
	}}
	d := New(s, Options{Signature: ".oast.fun"}, nil)

	res, err := d.Discover(context.Background(), identity)
	require.NoError(t, err)
	require.Equal(t, []string{"acme/api"}, res.Candidates.Names())
	require.Equal(t, 1, s.callsFor("user:octocat"))
	require.Empty(t, res.ScopeErrors)
}

func TestDiscoverer_ShortPageEndsPaging(t *testing.T) {
	s := &fakeSearcher{pages: map[string][]gh.CodeSearchPage{
		"user:octocat": {fullPage("octocat", PageSize), fullPage("second", 40), fullPage("never", PageSize)},
	}}
	d := New(s, Options{Signature: ".oast.fun"}, nil)

	res, err := d.Discover(context.Background(), gh.Identity{Login: "octocat"})
	require.NoError(t, err)
	require.Equal(t, 2, s.callsFor("user:octocat"))
	require.Equal(t, 140, res.Candidates.Len())
}

func TestDiscoverer_NeverExceedsResultCeiling(t *testing.T) {
	pages := make([]gh.CodeSearchPage, 15)
	for i := range pages {
		pages[i] = fullPage(fmt.Sprintf("p%d", i), PageSize)
	}
	s := &fakeSearcher{pages: map[string][]gh.CodeSearchPage{"user:octocat": pages}}
	d := New(s, Options{Signature: ".oast.fun"}, nil)

	res, err := d.Discover(context.Background(), gh.Identity{Login: "octocat"})
	require.NoError(t, err)
	require.Equal(t, MaxResultsPerScope/PageSize, s.callsFor("user:octocat"))
	require.Equal(t, MaxResultsPerScope, res.Candidates.Len())
}

func TestDiscoverer_ScopeFailureDoesNotAbort(t *testing.T) {
	s := &fakeSearcher{
		pages: map[string][]gh.CodeSearchPage{
			"org:acme": {pageOf(hit("acme/api", ".github/workflows/ci.yml"))},
		},
		errs: map[string]error{"user:octocat": &gh.RequestError{Kind: gh.ErrRateLimited, Method: "GET", Endpoint: "search/code"}},
	}
	d := New(s, Options{Signature: ".oast.fun"}, nil)

	res, err := d.Discover(context.Background(), identity)
	require.NoError(t, err)
	require.Equal(t, []string{"acme/api"}, res.Candidates.Names())
	require.Len(t, res.ScopeErrors, 1)
	require.True(t, errors.Is(res.ScopeErrors[0].Err, gh.ErrRateLimited))
	require.Equal(t, "user:octocat", res.ScopeErrors[0].Scope.String())
}

func TestDiscoverer_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(&fakeSearcher{}, Options{Signature: ".oast.fun"}, nil)

	_, err := d.Discover(ctx, identity)
	require.ErrorIs(t, err, context.Canceled)
}

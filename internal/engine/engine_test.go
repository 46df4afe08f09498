package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"workflowsweep/internal/config"
	"workflowsweep/internal/discovery"
	gh "workflowsweep/internal/github"
	"workflowsweep/internal/metrics"
	"workflowsweep/internal/output"
	"workflowsweep/internal/remediate"

	"github.com/google/go-cmp/cmp"
)

type fakeIdentity struct {
	id  gh.Identity
	err error
}

func (f fakeIdentity) FetchIdentity(ctx context.Context) (gh.Identity, error) {
	return f.id, f.err
}

type fakeBudget struct{ calls int }

func (f *fakeBudget) CheckRateBudget(ctx context.Context) gh.RateBudget {
	f.calls++
	return gh.RateBudget{}
}

type fakeFinder struct {
	candidates  []discovery.Candidate
	scopeErrors []discovery.ScopeError
	err         error
	calls       int
}

func (f *fakeFinder) Discover(ctx context.Context, id gh.Identity) (*discovery.Result, error) {
	f.calls++
	set := discovery.NewCandidateSet()
	for _, c := range f.candidates {
		set.Add(c)
	}
	return &discovery.Result{Candidates: set, ScopeErrors: f.scopeErrors, Requests: 2}, f.err
}

type fakeRemediator struct {
	results map[string]remediate.Outcome
	stopAt  int
	calls   int
	repos   []string
}

func (f *fakeRemediator) RemediateAll(ctx context.Context, repos []string, hooks remediate.Hooks) ([]remediate.Outcome, error) {
	f.calls++
	f.repos = repos
	var out []remediate.Outcome
	for i, r := range repos {
		if f.stopAt > 0 && i == f.stopAt {
			return out, context.Canceled
		}
		if hooks.Started != nil {
			hooks.Started(r, i+1, len(repos))
		}
		o, ok := f.results[r]
		if !ok {
			o = remediate.Outcome{Repository: r, Status: remediate.StatusSuccess}
		}
		out = append(out, o)
		if hooks.Finished != nil {
			hooks.Finished(o)
		}
	}
	return out, nil
}

type fakeDisabler struct {
	calls int
	repos []string
}

func (f *fakeDisabler) DisableAll(ctx context.Context, repos []string) int {
	f.calls++
	f.repos = repos
	return 2 * len(repos)
}

type recordSink struct {
	records []any
}

func (s *recordSink) Write(v any) error {
	s.records = append(s.records, v)
	return nil
}

func (s *recordSink) Close() error { return nil }

func (s *recordSink) kinds() []string {
	var out []string
	for _, r := range s.records {
		switch t := r.(type) {
		case output.Event:
			out = append(out, t.Type)
		case discovery.Candidate:
			out = append(out, "candidate:"+t.Repository)
		case remediate.Outcome:
			out = append(out, "outcome:"+t.Repository)
		default:
			out = append(out, fmt.Sprintf("%T", r))
		}
	}
	return out
}

func (s *recordSink) summary(t *testing.T) output.Event {
	t.Helper()
	for i := len(s.records) - 1; i >= 0; i-- {
		if e, ok := s.records[i].(output.Event); ok && e.Type == output.EventRunFinished {
			return e
		}
	}
	t.Fatalf("no %s event recorded", output.EventRunFinished)
	return output.Event{}
}

type harness struct {
	budget     *fakeBudget
	finder     *fakeFinder
	remediator *fakeRemediator
	disabler   *fakeDisabler
	sink       *recordSink
}

func newHarness(t *testing.T, opts Options, cands ...string) (*Engine, *harness) {
	t.Helper()
	h := &harness{
		budget:     &fakeBudget{},
		finder:     &fakeFinder{},
		remediator: &fakeRemediator{results: map[string]remediate.Outcome{}},
		disabler:   &fakeDisabler{},
		sink:       &recordSink{},
	}
	for _, c := range cands {
		h.finder.candidates = append(h.finder.candidates, discovery.Candidate{Repository: c, Path: ".github/workflows/ci.yml"})
	}
	out := output.NewManager()
	if err := out.AddSink(h.sink); err != nil {
		t.Fatal(err)
	}
	if opts.Signature == "" {
		opts.Signature = ".oast.fun"
	}
	e := New(Deps{
		Identity:   fakeIdentity{id: gh.Identity{Login: "octo", Organizations: []string{"acme"}}},
		Budget:     h.budget,
		Finder:     h.finder,
		Remediator: h.remediator,
		Disabler:   h.disabler,
	}, opts, out, nil)
	return e, h
}

func TestRun_NoCandidates(t *testing.T) {
	e, h := newHarness(t, Options{})

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	infected, success, failed := res.Counts()
	if infected != 0 || success != 0 || failed != 0 {
		t.Fatalf("Counts() = %d, %d, %d; want zeros", infected, success, failed)
	}
	if h.remediator.calls != 0 {
		t.Fatalf("remediator called %d times, want 0", h.remediator.calls)
	}
	if h.disabler.calls != 0 {
		t.Fatalf("disabler called %d times, want 0", h.disabler.calls)
	}
	if h.budget.calls != 1 {
		t.Fatalf("budget checked %d times, want 1", h.budget.calls)
	}
	if got := res.ExitCode(); got != 0 {
		t.Fatalf("ExitCode() = %d, want 0", got)
	}
	want := []string{output.EventRunStarted, output.EventRunFinished}
	if diff := cmp.Diff(want, h.sink.kinds()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_IdentityFailureIsFatal(t *testing.T) {
	e, h := newHarness(t, Options{}, "acme/api")
	e.deps.Identity = fakeIdentity{err: errors.New("401 Bad credentials")}

	res, err := e.Run(context.Background())
	if !errors.Is(err, ErrIdentity) {
		t.Fatalf("Run() error = %v, want ErrIdentity", err)
	}
	if res != nil {
		t.Fatalf("Run() result = %+v, want nil", res)
	}
	if h.finder.calls != 0 || h.remediator.calls != 0 {
		t.Fatalf("discovery or remediation ran after identity failure")
	}
	if len(h.sink.records) != 0 {
		t.Fatalf("expected no events, got %v", h.sink.kinds())
	}
	if ExitCodeFatal != 3 {
		t.Fatalf("ExitCodeFatal = %d, want 3", ExitCodeFatal)
	}
}

func TestRun_IdentityFailureLeavesNoMetricsFile(t *testing.T) {
	e, _ := newHarness(t, Options{}, "acme/api")
	e.deps.Identity = fakeIdentity{err: errors.New("401 Bad credentials")}
	path := filepath.Join(t.TempDir(), "workflowsweep.prom")
	if err := e.out.AddSink(metrics.NewRecorder(path)); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Run(context.Background()); !errors.Is(err, ErrIdentity) {
		t.Fatalf("Run() error = %v, want ErrIdentity", err)
	}
	if err := e.out.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("metrics textfile written after identity failure (stat err = %v)", err)
	}
}

func TestRun_DiscoveryErrorIsFatal(t *testing.T) {
	e, h := newHarness(t, Options{})
	h.finder.err = context.Canceled

	if _, err := e.Run(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if h.remediator.calls != 0 {
		t.Fatal("remediation ran after discovery failed")
	}
}

func TestRun_ScanOnly(t *testing.T) {
	e, h := newHarness(t, Options{ScanOnly: true}, "acme/api", "octo/site")

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.remediator.calls != 0 {
		t.Fatal("remediation ran in scan-only mode")
	}
	if got := res.ExitCode(); got != 1 {
		t.Fatalf("ExitCode() = %d, want 1", got)
	}
	if res.Mode() != ModeScanOnly {
		t.Fatalf("Mode() = %q", res.Mode())
	}
	want := []string{
		output.EventRunStarted,
		"candidate:acme/api",
		"candidate:octo/site",
		output.EventRunFinished,
	}
	if diff := cmp.Diff(want, h.sink.kinds()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	sum := h.sink.summary(t)
	if sum.Candidates != 2 || sum.ExitCode != 1 || sum.Mode != ModeScanOnly {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRun_RemediatesInOrderAndEmitsEvents(t *testing.T) {
	e, h := newHarness(t, Options{}, "acme/api", "acme/web")

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([]string{"acme/api", "acme/web"}, h.remediator.repos); diff != "" {
		t.Fatalf("remediated repos mismatch (-want +got):\n%s", diff)
	}
	want := []string{
		output.EventRunStarted,
		"candidate:acme/api",
		"candidate:acme/web",
		output.EventRepoStarted,
		"outcome:acme/api",
		output.EventRepoStarted,
		"outcome:acme/web",
		output.EventRunFinished,
	}
	if diff := cmp.Diff(want, h.sink.kinds()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	infected, success, failed := res.Counts()
	if infected != 2 || success != 2 || failed != 0 {
		t.Fatalf("Counts() = %d, %d, %d", infected, success, failed)
	}
	if got := res.ExitCode(); got != 0 {
		t.Fatalf("ExitCode() = %d, want 0", got)
	}
	if h.disabler.calls != 0 {
		t.Fatal("workflows disabled without DisableWorkflows")
	}
}

func TestRun_FailureIsPartial(t *testing.T) {
	e, h := newHarness(t, Options{}, "acme/api", "acme/web", "acme/docs")
	h.remediator.results["acme/web"] = remediate.Outcome{
		Repository: "acme/web",
		Status:     remediate.StatusFailure,
		Reason:     remediate.ReasonPush,
	}
	h.remediator.results["acme/docs"] = remediate.Outcome{Repository: "acme/docs", Status: remediate.StatusClean}

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	infected, success, failed := res.Counts()
	if infected != 3 || success != 1 || failed != 1 {
		t.Fatalf("Counts() = %d, %d, %d; want 3, 1, 1", infected, success, failed)
	}
	if got := res.ExitCode(); got != 2 {
		t.Fatalf("ExitCode() = %d, want 2", got)
	}
	sum := h.sink.summary(t)
	if sum.Clean != 1 || sum.Failed != 1 || sum.Success != 1 || sum.ExitCode != 2 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRun_DisableWorkflowsAfterRemediation(t *testing.T) {
	e, h := newHarness(t, Options{DisableWorkflows: true}, "acme/api", "acme/web")

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.disabler.calls != 1 {
		t.Fatalf("disabler called %d times, want 1", h.disabler.calls)
	}
	if diff := cmp.Diff([]string{"acme/api", "acme/web"}, h.disabler.repos); diff != "" {
		t.Fatalf("disabled repos mismatch (-want +got):\n%s", diff)
	}
	if res.DisabledWorkflows != 4 {
		t.Fatalf("DisabledWorkflows = %d, want 4", res.DisabledWorkflows)
	}
	if got := h.sink.summary(t).Disabled; got != 4 {
		t.Fatalf("summary disabled = %d, want 4", got)
	}
}

func TestRun_InterruptedIsPartial(t *testing.T) {
	e, h := newHarness(t, Options{DisableWorkflows: true}, "acme/api", "acme/web")
	h.remediator.stopAt = 1

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Interrupted {
		t.Fatal("expected Interrupted")
	}
	if len(res.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(res.Outcomes))
	}
	if h.disabler.calls != 0 {
		t.Fatal("workflows disabled after interruption")
	}
	if got := res.ExitCode(); got != 2 {
		t.Fatalf("ExitCode() = %d, want 2", got)
	}
}

func TestRun_ScopeErrorsDoNotChangeExitCode(t *testing.T) {
	e, h := newHarness(t, Options{})
	h.finder.scopeErrors = []discovery.ScopeError{{
		Scope: discovery.Scope{Kind: discovery.ScopeOrg, Login: "acme"},
		Page:  1,
		Err:   errors.New("422 Validation Failed"),
	}}

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.ScopeErrors) != 1 {
		t.Fatalf("ScopeErrors = %v", res.ScopeErrors)
	}
	if res.SearchCalls != 2 {
		t.Fatalf("SearchCalls = %d, want 2", res.SearchCalls)
	}
	if got := res.ExitCode(); got != 0 {
		t.Fatalf("ExitCode() = %d, want 0", got)
	}
}

func TestRun_ExplicitTargetsSkipSearch(t *testing.T) {
	e, h := newHarness(t, Options{Targets: []string{"https://github.com/acme/api.git", "acme/api", "octo/site"}})

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.finder.calls != 0 {
		t.Fatal("code search ran with explicit targets")
	}
	if diff := cmp.Diff([]string{"acme/api", "octo/site"}, res.CandidateNames()); diff != "" {
		t.Fatalf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ExplicitTargetsInvalid(t *testing.T) {
	e, _ := newHarness(t, Options{Targets: []string{"not-a-repo"}})
	if _, err := e.Run(context.Background()); err == nil {
		t.Fatal("expected error for invalid target")
	}
}

func TestRun_FilterAppliesBeforeRemediation(t *testing.T) {
	e, h := newHarness(t, Options{Filter: Filter{Exclude: []string{"*-archive"}, MaxRepos: 1}},
		"acme/old-archive", "acme/api", "acme/web")

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([]string{"acme/api"}, res.CandidateNames()); diff != "" {
		t.Fatalf("candidates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"acme/api"}, h.remediator.repos); diff != "" {
		t.Fatalf("remediated repos mismatch (-want +got):\n%s", diff)
	}
}

func TestExitCodeForRun(t *testing.T) {
	tests := []struct {
		fatal, partial, wrongs bool
		want                   int
	}{
		{false, false, false, 0},
		{false, false, true, 1},
		{false, true, true, 2},
		{true, true, true, 3},
	}
	for _, tt := range tests {
		if got := exitCodeForRun(tt.fatal, tt.partial, tt.wrongs); got != tt.want {
			t.Errorf("exitCodeForRun(%v, %v, %v) = %d, want %d", tt.fatal, tt.partial, tt.wrongs, got, tt.want)
		}
	}
}

func TestNewOutputManager(t *testing.T) {
	cfg := config.New()
	cfg.Output.Emit = []string{"ndjson"}
	cfg.Output.Out = t.TempDir() + "/run.json"

	m, err := NewOutputManager(cfg, &discardWriter{})
	if err != nil {
		t.Fatalf("NewOutputManager() error = %v", err)
	}
	defer m.Close()
	if got := m.Len(); got != 3 {
		t.Fatalf("sinks = %d, want 3", got)
	}

	cfg.Output.NoConsole = true
	cfg.Output.Emit = []string{"yaml"}
	if _, err := NewOutputManager(cfg, &discardWriter{}); err == nil {
		t.Fatal("expected error for unsupported emit format")
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

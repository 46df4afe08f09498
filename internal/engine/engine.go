package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"workflowsweep/internal/config"
	"workflowsweep/internal/discovery"
	gh "workflowsweep/internal/github"
	"workflowsweep/internal/output"
	"workflowsweep/internal/remediate"

	"go.uber.org/zap"
)

// ErrIdentity marks a run that could not authenticate. No discovery happens.
var ErrIdentity = errors.New("identity lookup failed")

const (
	ModeScanOnly  = "scan-only"
	ModeRemediate = "remediate"
)

func exitCodeForRun(fatal, partial, wrongs bool) int {
	// Exit code contract:
	// 0 = clean run, nothing infected or everything remediated
	// 1 = infected repositories reported in scan-only mode
	// 2 = partial failure (some repositories failed or the run was interrupted)
	// 3 = fatal error (discovery did not run)
	if fatal {
		return 3
	}
	if partial {
		return 2
	}
	if wrongs {
		return 1
	}
	return 0
}

// ExitCodeFatal is returned when Run fails before producing a Result.
var ExitCodeFatal = exitCodeForRun(true, false, false)

type IdentityFetcher interface {
	FetchIdentity(ctx context.Context) (gh.Identity, error)
}

type BudgetChecker interface {
	CheckRateBudget(ctx context.Context) gh.RateBudget
}

type CandidateFinder interface {
	Discover(ctx context.Context, id gh.Identity) (*discovery.Result, error)
}

type Remediator interface {
	RemediateAll(ctx context.Context, repos []string, hooks remediate.Hooks) ([]remediate.Outcome, error)
}

type WorkflowDisabler interface {
	DisableAll(ctx context.Context, repos []string) int
}

// Deps are the collaborators of a run. Budget and Disabler may be nil.
type Deps struct {
	Identity   IdentityFetcher
	Budget     BudgetChecker
	Finder     CandidateFinder
	Remediator Remediator
	Disabler   WorkflowDisabler
}

type Options struct {
	ScanOnly         bool
	DisableWorkflows bool
	Signature        string

	// Targets bypass code search when non-empty.
	Targets []string
	Filter  Filter
}

// Result is everything a run learned, in the order it learned it.
type Result struct {
	Identity    gh.Identity
	Signature   string
	ScanOnly    bool
	Candidates  []discovery.Candidate
	ScopeErrors []discovery.ScopeError
	SearchCalls int
	Outcomes    []remediate.Outcome

	DisabledWorkflows int
	StartedAt         time.Time
	FinishedAt        time.Time

	// Interrupted is set when cancellation stopped the batch early.
	Interrupted bool
}

func (r *Result) Mode() string {
	if r.ScanOnly {
		return ModeScanOnly
	}
	return ModeRemediate
}

func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Counts returns the infected, remediated and failed repository counts.
func (r *Result) Counts() (infected, success, failed int) {
	infected = len(r.Candidates)
	for _, o := range r.Outcomes {
		switch o.Status {
		case remediate.StatusSuccess:
			success++
		case remediate.StatusFailure:
			failed++
		}
	}
	return infected, success, failed
}

// CandidateNames returns the candidate repositories in discovery order.
func (r *Result) CandidateNames() []string {
	names := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		names[i] = c.Repository
	}
	return names
}

func (r *Result) ExitCode() int {
	infected, _, failed := r.Counts()
	return exitCodeForRun(false, failed > 0 || r.Interrupted, r.ScanOnly && infected > 0)
}

type Engine struct {
	deps   Deps
	opts   Options
	out    *output.Manager
	logger *zap.Logger
	now    func() time.Time
}

func New(deps Deps, opts Options, out *output.Manager, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{deps: deps, opts: opts, out: out, logger: logger, now: time.Now}
}

// Run authenticates, discovers infected repositories and, unless scan-only,
// remediates them one at a time. A non-nil error means nothing was discovered.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	res := &Result{Signature: e.opts.Signature, ScanOnly: e.opts.ScanOnly, StartedAt: e.now()}

	if e.deps.Budget != nil {
		e.deps.Budget.CheckRateBudget(ctx)
	}

	id, err := e.deps.Identity.FetchIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentity, err)
	}
	res.Identity = id
	e.logger.Info("authenticated",
		zap.String("login", id.Login),
		zap.Int("organizations", len(id.Organizations)),
	)
	e.emit(output.Event{Type: output.EventRunStarted, Mode: res.Mode()})

	cands, err := e.candidates(ctx, id, res)
	if err != nil {
		return nil, err
	}
	res.Candidates = FilterCandidates(cands, e.opts.Filter)
	if dropped := len(cands) - len(res.Candidates); dropped > 0 {
		e.logger.Info("candidates filtered out", zap.Int("dropped", dropped))
	}
	for _, c := range res.Candidates {
		e.logger.Info("infected repository", zap.String("repository", c.Repository), zap.String("path", c.Path))
		e.emit(c)
	}

	switch {
	case len(res.Candidates) == 0:
		e.logger.Info("no infected repositories found")
	case e.opts.ScanOnly:
		e.logger.Info("scan-only mode, no changes made", zap.Int("infected", len(res.Candidates)))
	default:
		e.remediate(ctx, res)
	}

	res.FinishedAt = e.now()
	infected, success, failed := res.Counts()
	_, _, clean := remediate.Partition(res.Outcomes)
	e.emit(output.Event{
		Type:       output.EventRunFinished,
		Mode:       res.Mode(),
		Candidates: infected,
		Success:    success,
		Failed:     failed,
		Clean:      len(clean),
		Disabled:   res.DisabledWorkflows,
		ExitCode:   res.ExitCode(),
	})
	e.logger.Info("run finished",
		zap.Int("infected", infected),
		zap.Int("success", success),
		zap.Int("failed", failed),
		zap.Int("clean", len(clean)),
		zap.Int("disabled_workflows", res.DisabledWorkflows),
		zap.Duration("duration", res.Duration()),
	)
	return res, nil
}

func (e *Engine) candidates(ctx context.Context, id gh.Identity, res *Result) ([]discovery.Candidate, error) {
	if len(e.opts.Targets) > 0 {
		e.logger.Info("using explicit repository targets, skipping code search", zap.Int("targets", len(e.opts.Targets)))
		return ExplicitCandidates(e.opts.Targets)
	}

	found, err := e.deps.Finder.Discover(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	res.ScopeErrors = found.ScopeErrors
	res.SearchCalls = found.Requests
	for _, se := range found.ScopeErrors {
		e.logger.Warn("scope search failed", zap.String("scope", se.Scope.String()), zap.Error(se.Err))
	}
	return found.Candidates.List(), nil
}

func (e *Engine) remediate(ctx context.Context, res *Result) {
	names := res.CandidateNames()
	outcomes, err := e.deps.Remediator.RemediateAll(ctx, names, remediate.Hooks{
		Started: func(repo string, index, total int) {
			e.emit(output.Event{Type: output.EventRepoStarted, Repo: repo})
		},
		Finished: func(o remediate.Outcome) {
			e.emit(o)
		},
	})
	res.Outcomes = outcomes
	if err != nil {
		res.Interrupted = true
		e.logger.Warn("remediation interrupted",
			zap.Int("processed", len(outcomes)),
			zap.Int("total", len(names)),
			zap.Error(err),
		)
		return
	}

	if e.opts.DisableWorkflows && e.deps.Disabler != nil {
		res.DisabledWorkflows = e.deps.Disabler.DisableAll(ctx, names)
	}
}

func (e *Engine) emit(v any) {
	if e.out == nil {
		return
	}
	if err := e.out.Write(v); err != nil {
		e.logger.Warn("output sink write failed", zap.Error(err))
	}
}

// NewOutputManager builds the sinks selected by cfg. stdout receives the
// console and --emit streams.
func NewOutputManager(cfg *config.Config, stdout io.Writer, consoleOpts ...output.ConsoleOption) (*output.Manager, error) {
	outMgr := output.NewManager()

	// Console Sink
	if !cfg.Output.NoConsole {
		if err := outMgr.AddSink(output.NewConsoleSink(stdout, cfg.Output.ConsoleFormat, cfg.Output.ConsoleFilterStatus, consoleOpts...)); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Emit Sinks (additional structured streams)
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(stdout, emit)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(es); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// File Sink
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(fs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	return outMgr, nil
}

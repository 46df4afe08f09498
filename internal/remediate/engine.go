package remediate

import (
	"context"
	"fmt"
	"workflowsweep/internal/gitexec"
	"workflowsweep/internal/workcopy"

	"go.uber.org/zap"
)

// GitClient is the set of git operations the state machine drives.
type GitClient interface {
	Clone(ctx context.Context, remote, dir string, depth int) error
	SetRemoteURL(ctx context.Context, dir, remote, remoteURL string) error
	Pull(ctx context.Context, dir string) error
	RevParseHead(ctx context.Context, dir string) (string, error)
	AddAll(ctx context.Context, dir string) error
	Commit(ctx context.Context, dir, message string) error
	Push(ctx context.Context, dir, remote, branch string) error
	PullRebase(ctx context.Context, dir, remote, branch string) error
	RebaseAbort(ctx context.Context, dir string) error
	AheadOfUpstream(ctx context.Context, dir string) (int, error)
	ResetToUpstream(ctx context.Context, dir, remote string) error
}

type Options struct {
	Scanner Scanner

	// Branches are tried in order when pushing.
	Branches   []string
	Remote     string
	Host       string
	CloneDepth int

	// Token is embedded in clone URLs. It must already be registered with the
	// redactor used by the git client and logger.
	Token string

	// RemoteURL, when set, replaces the authenticated HTTPS URL for repo.
	RemoteURL func(repo string) string
}

func DefaultOptions() Options {
	return Options{
		Scanner:    Scanner{WorkflowDir: DefaultWorkflowDir, FileGlob: DefaultFileGlob},
		Branches:   []string{"main", "master"},
		Remote:     "origin",
		Host:       "github.com",
		CloneDepth: 1,
	}
}

type Engine struct {
	git    GitClient
	cache  *workcopy.Cache
	opts   Options
	logger *zap.Logger
}

func New(git GitClient, cache *workcopy.Cache, opts Options, logger *zap.Logger) *Engine {
	def := DefaultOptions()
	if len(opts.Branches) == 0 {
		opts.Branches = def.Branches
	}
	if opts.Remote == "" {
		opts.Remote = def.Remote
	}
	if opts.Host == "" {
		opts.Host = def.Host
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{git: git, cache: cache, opts: opts, logger: logger}
}

// run tracks one repository through the state machine.
type run struct {
	outcome Outcome
	state   State
	log     *zap.Logger
}

func (r *run) advance(s State) {
	r.state = s
	r.log.Debug("state", zap.String("state", string(s)))
}

func (r *run) fail(err error) Outcome {
	r.outcome.Status = StatusFailure
	r.outcome.FailedAt = r.state
	r.outcome.Reason = reasonFor(err)
	r.outcome.Cause = err.Error()
	r.outcome.Err = err
	r.state = StateFailed

	if r.outcome.Reason == ReasonNoWorkflowDir {
		r.log.Warn("repository has no workflow directory", zap.Error(err))
	} else {
		r.log.Error("remediation failed", zap.String("reason", string(r.outcome.Reason)), zap.Error(err))
	}
	return r.outcome
}

// Remediate drives one repository to completion. Once started it is not
// interrupted by cancellation of ctx.
func (e *Engine) Remediate(ctx context.Context, repo string) Outcome {
	ctx = context.WithoutCancel(ctx)
	r := &run{
		outcome: Outcome{Repository: repo},
		state:   StateStarted,
		log:     e.logger.With(zap.String("repository", repo)),
	}

	dir, err := e.cache.Path(repo)
	if err != nil {
		return r.fail(fmt.Errorf("%w: %w", ErrCloneOrUpdate, err))
	}
	unlock := e.cache.Lock(repo)
	defer unlock()

	if err := e.acquire(ctx, repo, dir, r.log); err != nil {
		return r.fail(err)
	}
	r.advance(StateAcquired)

	infected, scanned, err := e.opts.Scanner.Scan(dir)
	if err != nil {
		return r.fail(err)
	}
	r.advance(StateScanned)

	if len(infected) == 0 {
		r.advance(StateClean)
		r.log.Info("no infected workflow files", zap.Int("scanned", scanned))
		r.outcome.Status = StatusClean
		return r.outcome
	}
	r.log.Info("infected workflow files found", zap.Strings("files", infected), zap.Int("scanned", scanned))

	removed, err := e.opts.Scanner.Excise(dir, infected)
	if err != nil {
		return r.fail(err)
	}
	r.outcome.DeletedFiles = removed
	r.advance(StateExcised)

	before, after, err := e.commit(ctx, dir, removed)
	if err != nil {
		return r.fail(err)
	}
	r.outcome.BeforeSHA, r.outcome.AfterSHA = before, after
	r.advance(StateCommitted)

	branch, err := e.push(ctx, dir, r.log)
	if err != nil {
		return r.fail(err)
	}
	r.outcome.Branch = branch
	r.advance(StatePushed)

	r.outcome.Status = StatusSuccess
	r.advance(StateRecorded)
	r.log.Info("repository remediated",
		zap.String("branch", branch),
		zap.String("before", before),
		zap.String("after", after),
		zap.Strings("removed", removed),
	)
	return r.outcome
}

func (e *Engine) acquire(ctx context.Context, repo, dir string, log *zap.Logger) error {
	st, err := workcopy.Inspect(dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCloneOrUpdate, err)
	}
	remote := e.remoteURL(repo)

	if st.IsRepository {
		// The credential rotates between runs; refresh it before talking to the remote.
		if err := e.git.SetRemoteURL(ctx, dir, e.opts.Remote, remote); err != nil {
			return fmt.Errorf("%w: %w", ErrCloneOrUpdate, err)
		}
		if err := e.discardLocalState(ctx, dir, st, log); err != nil {
			return fmt.Errorf("%w: %w", ErrCloneOrUpdate, err)
		}
		if err := e.git.Pull(ctx, dir); err != nil {
			return fmt.Errorf("%w: %w", ErrCloneOrUpdate, err)
		}
		log.Debug("updated cached working copy", zap.String("dir", dir))
		return nil
	}

	if st.Exists {
		log.Warn("discarding cached directory that is not a git working copy", zap.String("dir", dir))
		if err := e.cache.Discard(dir); err != nil {
			return fmt.Errorf("%w: %w", ErrCloneOrUpdate, err)
		}
	}
	if err := e.git.Clone(ctx, remote, dir, e.opts.CloneDepth); err != nil {
		return fmt.Errorf("%w: %w", ErrCloneOrUpdate, err)
	}
	log.Debug("cloned working copy", zap.String("dir", dir))
	return nil
}

func (e *Engine) remoteURL(repo string) string {
	if e.opts.RemoteURL != nil {
		return e.opts.RemoteURL(repo)
	}
	return gitexec.AuthenticatedURL(e.opts.Host, repo, e.opts.Token)
}

// discardLocalState resets a cached copy that an earlier run left with an
// unpushed commit, uncommitted changes or a rebase in progress. Scanning such
// a copy would report the local fix instead of what the remote serves.
func (e *Engine) discardLocalState(ctx context.Context, dir string, st workcopy.State, log *zap.Logger) error {
	if st.Rebasing {
		log.Warn("aborting rebase left in cached working copy")
		if err := e.git.RebaseAbort(ctx, dir); err != nil {
			return err
		}
	}
	stale := st.Dirty
	if !stale {
		ahead, err := e.git.AheadOfUpstream(ctx, dir)
		if err != nil {
			log.Debug("could not compare cached working copy with upstream", zap.Error(err))
		}
		stale = ahead > 0
	}
	if !stale {
		return nil
	}
	log.Warn("discarding unpushed changes in cached working copy", zap.Bool("dirty", st.Dirty))
	return e.git.ResetToUpstream(ctx, dir, e.opts.Remote)
}

func (e *Engine) commit(ctx context.Context, dir string, removed []string) (before, after string, err error) {
	if before, err = e.git.RevParseHead(ctx, dir); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrCommit, err)
	}
	if err = e.git.AddAll(ctx, dir); err != nil {
		return before, "", fmt.Errorf("%w: %w", ErrCommit, err)
	}
	if err = e.git.Commit(ctx, dir, CommitMessage(removed)); err != nil {
		return before, "", fmt.Errorf("%w: %w", ErrCommit, err)
	}
	if after, err = e.git.RevParseHead(ctx, dir); err != nil {
		return before, "", fmt.Errorf("%w: %w", ErrCommit, err)
	}
	return before, after, nil
}

// Hooks observe a RemediateAll batch. Either field may be nil.
type Hooks struct {
	Started  func(repo string, index, total int)
	Finished func(Outcome)
}

// RemediateAll processes repos one at a time. Cancellation is honored only
// between repositories; outcomes gathered so far are returned with ctx.Err().
func (e *Engine) RemediateAll(ctx context.Context, repos []string, hooks Hooks) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(repos))
	for i, repo := range repos {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		e.logger.Info("processing repository",
			zap.String("repository", repo),
			zap.Int("index", i+1),
			zap.Int("total", len(repos)),
		)
		if hooks.Started != nil {
			hooks.Started(repo, i+1, len(repos))
		}
		o := e.Remediate(ctx, repo)
		outcomes = append(outcomes, o)
		if hooks.Finished != nil {
			hooks.Finished(o)
		}
	}
	return outcomes, nil
}

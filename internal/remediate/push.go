package remediate

import (
	"context"
	"fmt"
	"strings"
	"workflowsweep/internal/gitexec"

	"go.uber.org/zap"
)

// PushAttempt is one failed step of the push protocol.
type PushAttempt struct {
	Branch string
	Step   string
	Err    error
}

// PushError aggregates every failed attempt once all branches are exhausted.
type PushError struct {
	Attempts []PushAttempt
}

func (e *PushError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s): %v", a.Branch, a.Step, a.Err))
	}
	return "all push attempts failed: " + strings.Join(parts, "; ")
}

func (e *PushError) Is(target error) bool { return target == ErrPush }

// push tries each branch in order. A non-fast-forward rejection gets exactly
// one pull --rebase and one more push before moving on. A failed rebase is
// aborted so the next branch starts from the local commit.
func (e *Engine) push(ctx context.Context, dir string, log *zap.Logger) (string, error) {
	perr := &PushError{}
	for _, branch := range e.opts.Branches {
		err := e.git.Push(ctx, dir, e.opts.Remote, branch)
		if err == nil {
			return branch, nil
		}
		perr.Attempts = append(perr.Attempts, PushAttempt{Branch: branch, Step: "push", Err: err})
		if !gitexec.IsNonFastForward(err) {
			log.Debug("push rejected", zap.String("branch", branch), zap.Error(err))
			continue
		}

		log.Info("upstream moved, rebasing once", zap.String("branch", branch))
		if err := e.git.PullRebase(ctx, dir, e.opts.Remote, branch); err != nil {
			perr.Attempts = append(perr.Attempts, PushAttempt{Branch: branch, Step: "pull --rebase", Err: err})
			if aerr := e.git.RebaseAbort(ctx, dir); aerr != nil {
				log.Debug("rebase --abort failed", zap.String("branch", branch), zap.Error(aerr))
			}
			continue
		}
		if err := e.git.Push(ctx, dir, e.opts.Remote, branch); err != nil {
			perr.Attempts = append(perr.Attempts, PushAttempt{Branch: branch, Step: "push after rebase", Err: err})
			continue
		}
		return branch, nil
	}
	return "", perr
}

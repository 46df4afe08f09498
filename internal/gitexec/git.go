package gitexec

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"workflowsweep/internal/redact"

	"go.uber.org/zap"
)

// CommandError is a git invocation that exited non-zero or could not start.
// Args and Stderr are already scrubbed of registered secrets.
type CommandError struct {
	Args     []string
	Dir      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	b.WriteString("git ")
	b.WriteString(strings.Join(e.Args, " "))
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
		return b.String()
	}
	fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	if e.Stderr != "" {
		b.WriteString(": ")
		b.WriteString(e.Stderr)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error { return e.Err }

// IsNonFastForward reports whether err is a push rejected because the remote
// branch moved ahead of the local one.
func IsNonFastForward(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	return strings.Contains(ce.Stderr, "non-fast-forward") || strings.Contains(ce.Stderr, "(fetch first)")
}

// Author is the identity recorded on remediation commits.
type Author struct {
	Name  string
	Email string
}

type Options struct {
	Redactor *redact.Redactor
	Logger   *zap.Logger
	Author   Author
}

// Git wraps the git subcommands used to remediate a working copy.
type Git struct {
	runner   Runner
	redactor *redact.Redactor
	logger   *zap.Logger
	author   Author
}

func New(runner Runner, opts Options) *Git {
	if runner == nil {
		runner = OSRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Git{runner: runner, redactor: opts.Redactor, logger: opts.Logger, author: opts.Author}
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (Result, error) {
	shown := make([]string, len(args))
	for i, a := range args {
		shown[i] = g.redactor.Redact(a)
	}
	g.logger.Debug("git", zap.Strings("args", shown), zap.String("dir", dir))

	res, err := g.runner.Run(ctx, Command{
		Args: args,
		Dir:  dir,
		Env:  map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	})
	if err != nil {
		return res, &CommandError{Args: shown, Dir: dir, ExitCode: -1, Err: errors.New(g.redactor.Redact(err.Error()))}
	}
	if res.ExitCode != 0 {
		return res, &CommandError{
			Args:     shown,
			Dir:      dir,
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(g.redactor.Redact(res.Stderr)),
		}
	}
	return res, nil
}

// Clone creates a shallow copy of remote in dir. depth <= 0 clones full history.
func (g *Git) Clone(ctx context.Context, remote, dir string, depth int) error {
	args := []string{"clone"}
	if depth > 0 {
		args = append(args, "--depth", strconv.Itoa(depth))
	}
	args = append(args, remote, dir)
	_, err := g.run(ctx, "", args...)
	return err
}

func (g *Git) SetRemoteURL(ctx context.Context, dir, remote, remoteURL string) error {
	_, err := g.run(ctx, dir, "remote", "set-url", remote, remoteURL)
	return err
}

func (g *Git) RemoteURL(ctx context.Context, dir, remote string) (string, error) {
	res, err := g.run(ctx, dir, "remote", "get-url", remote)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Pull fast-forwards the current branch.
func (g *Git) Pull(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "pull", "--ff-only")
	return err
}

func (g *Git) RevParseHead(ctx context.Context, dir string) (string, error) {
	res, err := g.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// AddAll stages every change, deletions included.
func (g *Git) AddAll(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "add", "-A")
	return err
}

// identity prefixes args with the configured author, which git also uses as
// the committer when it writes or rewrites commits.
func (g *Git) identity(args ...string) []string {
	var out []string
	if g.author.Name != "" {
		out = append(out, "-c", "user.name="+g.author.Name)
	}
	if g.author.Email != "" {
		out = append(out, "-c", "user.email="+g.author.Email)
	}
	return append(out, args...)
}

func (g *Git) Commit(ctx context.Context, dir, message string) error {
	_, err := g.run(ctx, dir, g.identity("commit", "-m", message)...)
	return err
}

func (g *Git) Push(ctx context.Context, dir, remote, branch string) error {
	_, err := g.run(ctx, dir, "push", remote, branch)
	return err
}

// PullRebase replays local commits on top of remote/branch.
func (g *Git) PullRebase(ctx context.Context, dir, remote, branch string) error {
	_, err := g.run(ctx, dir, g.identity("pull", "--rebase", remote, branch)...)
	return err
}

// RebaseAbort returns a working copy stopped mid-rebase to its prior HEAD.
func (g *Git) RebaseAbort(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "rebase", "--abort")
	return err
}

// AheadOfUpstream counts local commits not yet on the tracked upstream branch.
func (g *Git) AheadOfUpstream(ctx context.Context, dir string) (int, error) {
	res, err := g.run(ctx, dir, "rev-list", "--count", "@{u}..HEAD")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count %q: %w", strings.TrimSpace(res.Stdout), err)
	}
	return n, nil
}

// ResetToUpstream fetches remote and discards every local commit and change
// so the working copy matches the tracked upstream branch.
func (g *Git) ResetToUpstream(ctx context.Context, dir, remote string) error {
	for _, args := range [][]string{
		{"fetch", remote},
		{"reset", "--hard", "@{u}"},
		{"clean", "-fd"},
	} {
		if _, err := g.run(ctx, dir, args...); err != nil {
			return err
		}
	}
	return nil
}

// AuthenticatedURL embeds token as an x-access-token credential in an HTTPS
// clone URL. The result must be registered with a redactor before it is logged.
func AuthenticatedURL(host, repo, token string) string {
	u := url.URL{Scheme: "https", Host: host, Path: "/" + repo + ".git"}
	if token != "" {
		u.User = url.UserPassword("x-access-token", token)
	}
	return u.String()
}

// RepoFromRemoteURL extracts OWNER/REPO from an HTTPS or SSH remote URL.
func RepoFromRemoteURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	var path string
	switch {
	case strings.HasPrefix(raw, "git@"):
		_, after, ok := strings.Cut(raw, ":")
		if !ok {
			return "", false
		}
		path = after
	default:
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return "", false
		}
		path = u.Path
	}
	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "/" + parts[1], true
}

package gitexec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
)

// Command is one git invocation.
type Command struct {
	Args []string
	Dir  string
	Env  map[string]string
}

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes git commands. A non-zero exit is reported through
// Result.ExitCode with a nil error; the error is reserved for failures to start
// the process at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// OSRunner runs the git binary found on PATH (or Binary, when set).
type OSRunner struct {
	Binary string
}

func (r OSRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}
	c := exec.CommandContext(ctx, bin, cmd.Args...)
	c.Dir = cmd.Dir

	env := os.Environ()
	keys := make([]string, 0, len(cmd.Env))
	for k := range cmd.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cmd.Env[k])
	}
	c.Env = env

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitErr.ExitCode()}, nil
		}
		return Result{}, err
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

package actions

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Environment is the subset of the Actions runner environment the tool reads.
type Environment struct {
	Actions    bool   `env:"GITHUB_ACTIONS,default=false"`
	Repository string `env:"GITHUB_REPOSITORY"`
	Workspace  string `env:"GITHUB_WORKSPACE"`
	OutputFile string `env:"GITHUB_OUTPUT"`
	ServerURL  string `env:"GITHUB_SERVER_URL,default=https://github.com"`
	RunID      string `env:"GITHUB_RUN_ID"`
}

func Load(ctx context.Context) (Environment, error) {
	var env Environment
	if err := envconfig.Process(ctx, &env); err != nil {
		return Environment{}, fmt.Errorf("read runner environment: %w", err)
	}
	return env, nil
}

// LoadFrom reads the environment through l instead of the process environment.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (Environment, error) {
	var env Environment
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &env, Lookuper: l}); err != nil {
		return Environment{}, fmt.Errorf("read runner environment: %w", err)
	}
	return env, nil
}

// RunURL links to the current workflow run, or "" outside Actions.
func (e Environment) RunURL() string {
	if !e.Actions || e.Repository == "" || e.RunID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/actions/runs/%s", strings.TrimSuffix(e.ServerURL, "/"), e.Repository, e.RunID)
}

// Mask asks the runner to hide value in every later log line.
func Mask(w io.Writer, value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	for _, line := range strings.Split(value, "\n") {
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "::add-mask::%s\n", line); err != nil {
			return err
		}
	}
	return nil
}

// Outputs are the step outputs published after a run.
type Outputs struct {
	InfectedRepos []string
	Success       int
	Failed        int
	Disabled      int
	ReportPath    string
}

func (o Outputs) pairs() [][2]string {
	return [][2]string{
		{"infected-repos", strings.Join(o.InfectedRepos, ",")},
		{"success-count", strconv.Itoa(o.Success)},
		{"failed-count", strconv.Itoa(o.Failed)},
		{"disabled-count", strconv.Itoa(o.Disabled)},
		{"report-path", o.ReportPath},
	}
}

// WriteOutputs appends o to the GITHUB_OUTPUT file at path.
func WriteOutputs(path string, o Outputs) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step output file: %w", err)
	}
	var b strings.Builder
	for _, kv := range o.pairs() {
		value := strings.ReplaceAll(kv[1], "\n", " ")
		fmt.Fprintf(&b, "%s=%s\n", kv[0], value)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write step outputs: %w", err)
	}
	return f.Close()
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultKeyword = ".oast.fun"
	DefaultExclude = "workflowsweep"
	DefaultWorkDir = ".alcache"
	DefaultHost    = "github.com"
)

type Config struct {
	// MAINTAINER NOTE: every key here needs a flag binding in load.go and a
	// default in New; keep the three in sync.
	Auth        Auth        `mapstructure:"auth"`
	Scan        Scan        `mapstructure:"scan"`
	Remediation Remediation `mapstructure:"remediation"`
	Retry       Retry       `mapstructure:"retry"`
	Output      Output      `mapstructure:"output"`
	Notify      Notify      `mapstructure:"notify"`
	Runtime     Runtime     `mapstructure:"runtime"`
}

type Auth struct {
	// Token is an explicit access token (see --token). Empty falls back to
	// GITHUB_TOKEN, GH_TOKEN, then gh auth token.
	Token string `mapstructure:"token"`

	// Host is the git host used for clone URLs (see --host).
	Host string `mapstructure:"host"`

	// APIURL overrides the REST base URL, e.g. for GitHub Enterprise Server (see --api-url).
	APIURL string `mapstructure:"api_url"`
}

type Scan struct {
	// Keyword is the signature searched for in workflow files (see --keyword).
	Keyword string `mapstructure:"keyword"`

	// Exclude skips search hits and workflow files whose path contains it (see --exclude).
	Exclude string `mapstructure:"exclude"`

	// ScanOnly reports infected repositories without changing them (see --scan-only).
	ScanOnly bool `mapstructure:"scan_only"`

	// Repos targets repositories as OWNER/REPO or GitHub URLs, bypassing code
	// search (see --repos). Values may be comma-separated.
	Repos []string `mapstructure:"repos"`

	// IncludeRepos keeps only candidates matching a Go path.Match pattern (see --include-repos).
	// If a pattern contains '/', it matches OWNER/REPO; otherwise it matches the repo name.
	IncludeRepos []string `mapstructure:"include_repos"`

	// ExcludeRepos drops candidates matching a pattern (see --exclude-repos).
	ExcludeRepos []string `mapstructure:"exclude_repos"`

	// MaxRepos caps how many candidates are processed (see --max-repos). 0 means unlimited.
	MaxRepos int `mapstructure:"max_repos"`
}

type Remediation struct {
	// DisableWorkflows disables remaining active workflows after remediation (see --disable-workflows).
	DisableWorkflows bool `mapstructure:"disable_workflows"`

	// WorkDir holds cached working copies, one per repository (see --work-dir).
	WorkDir string `mapstructure:"work_dir"`

	// Branches are tried in order when pushing (see --branches).
	Branches []string `mapstructure:"branches"`

	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`

	// SelfRepo is never touched by workflow disabling (see --self-repo).
	// Defaults to GITHUB_REPOSITORY when running in Actions.
	SelfRepo string `mapstructure:"self_repo"`

	GitBinary string `mapstructure:"git_binary"`
}

type Retry struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`
	TransientBackoff time.Duration `mapstructure:"transient_backoff"`
	NetworkBackoff   time.Duration `mapstructure:"network_backoff"`
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string `mapstructure:"console_format"`

	// ConsoleFilterStatus filters console outcomes by status (see --console-filter-status).
	// Allowed values: success, failure, clean.
	ConsoleFilterStatus []string `mapstructure:"console_filter_status"`

	// Out writes structured output to this path (see --out).
	Out string `mapstructure:"out"`

	// OutFormat selects the format for --out: json or ndjson. Inferred from
	// the file extension when empty.
	OutFormat string `mapstructure:"out_format"`

	// Emit writes an additional structured stream to stdout (see --emit).
	Emit []string `mapstructure:"emit"`

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool `mapstructure:"no_console"`

	// ReportFormat selects the cleanup report: markdown, json, html, pdf or none.
	ReportFormat string `mapstructure:"report_format"`
	ReportDir    string `mapstructure:"report_dir"`

	// MaskSensitive partially masks logins and repository names in human output.
	MaskSensitive bool `mapstructure:"mask_sensitive"`

	// MetricsFile writes run metrics in Prometheus text format (see --metrics-file).
	MetricsFile string `mapstructure:"metrics_file"`
}

type Notify struct {
	// Webhook receives a Slack-compatible summary when set (see --webhook).
	Webhook string `mapstructure:"webhook"`

	// Template is detailed or compact.
	Template string `mapstructure:"template"`
}

type Runtime struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogDir    string `mapstructure:"log_dir"`

	// Verbose forces debug logging, including every API call.
	Verbose bool `mapstructure:"verbose"`

	// Timeout bounds the whole run (see --timeout).
	Timeout time.Duration `mapstructure:"timeout"`
}

func New() *Config {
	return &Config{
		Auth: Auth{
			Host: DefaultHost,
		},
		Scan: Scan{
			Keyword: DefaultKeyword,
			Exclude: DefaultExclude,
		},
		Remediation: Remediation{
			WorkDir:     DefaultWorkDir,
			Branches:    []string{"main", "master"},
			AuthorName:  "workflowsweep",
			AuthorEmail: "workflowsweep@users.noreply.github.com",
			GitBinary:   "git",
		},
		Retry: Retry{
			MaxAttempts:      3,
			RateLimitBackoff: 60 * time.Second,
			TransientBackoff: 30 * time.Second,
			NetworkBackoff:   10 * time.Second,
		},
		Output: Output{
			ConsoleFormat: "text",
			ReportFormat:  "markdown",
			ReportDir:     "reports",
			MaskSensitive: true,
		},
		Notify: Notify{
			Template: "detailed",
		},
		Runtime: Runtime{
			LogLevel:  "info",
			LogFormat: "console",
			Timeout:   2 * time.Hour,
		},
	}
}

// ApplyRunnerDefaults relocates the work, log and report directories under
// the Actions workspace unless they were changed from their defaults.
func (c *Config) ApplyRunnerDefaults(workspace string) {
	if strings.TrimSpace(workspace) == "" {
		return
	}
	def := New()
	if c.Remediation.WorkDir == def.Remediation.WorkDir {
		c.Remediation.WorkDir = filepath.Join(workspace, DefaultWorkDir)
	}
	if c.Output.ReportDir == def.Output.ReportDir {
		c.Output.ReportDir = filepath.Join(workspace, "security", "reports")
	}
	if c.Runtime.LogDir == "" {
		c.Runtime.LogDir = filepath.Join(workspace, "security", "logs")
	}
}

func (c *Config) Validate() error {
	// Normalize comma-delimited list inputs.
	c.Scan.Repos = splitCommaList(c.Scan.Repos)
	c.Scan.IncludeRepos = splitCommaList(c.Scan.IncludeRepos)
	c.Scan.ExcludeRepos = splitCommaList(c.Scan.ExcludeRepos)
	c.Remediation.Branches = splitCommaList(c.Remediation.Branches)
	c.Output.Emit = splitCommaList(c.Output.Emit)
	c.Output.ConsoleFilterStatus = splitCommaList(c.Output.ConsoleFilterStatus)

	c.Auth.Host = strings.TrimSpace(c.Auth.Host)
	if c.Auth.Host == "" {
		return errors.New("--host must not be empty")
	}
	if c.Auth.APIURL != "" {
		if err := validateHTTPURL(c.Auth.APIURL); err != nil {
			return fmt.Errorf("invalid --api-url value: %w", err)
		}
	}

	// Scan validation
	c.Scan.Keyword = strings.TrimSpace(c.Scan.Keyword)
	if c.Scan.Keyword == "" {
		return errors.New("--keyword must not be empty")
	}
	if c.Scan.Exclude != "" && strings.Contains(c.Scan.Keyword, c.Scan.Exclude) {
		return fmt.Errorf("--exclude %q must not be part of --keyword", c.Scan.Exclude)
	}
	for i, raw := range c.Scan.Repos {
		norm, err := NormalizeRepoSelector(raw)
		if err != nil {
			return fmt.Errorf("invalid --repos value: %w", err)
		}
		c.Scan.Repos[i] = norm
	}
	if c.Scan.MaxRepos < 0 {
		return errors.New("--max-repos must be >= 0")
	}

	// Remediation validation
	if strings.TrimSpace(c.Remediation.WorkDir) == "" {
		return errors.New("--work-dir must not be empty")
	}
	if len(c.Remediation.Branches) == 0 {
		return errors.New("--branches must name at least one branch")
	}
	if strings.TrimSpace(c.Remediation.AuthorName) == "" || strings.TrimSpace(c.Remediation.AuthorEmail) == "" {
		return errors.New("--author-name and --author-email must not be empty")
	}
	if c.Remediation.DisableWorkflows && c.Scan.ScanOnly {
		return errors.New("--disable-workflows cannot be combined with --scan-only")
	}

	// Retry validation
	if c.Retry.MaxAttempts < 1 {
		return errors.New("--max-attempts must be >= 1")
	}
	if c.Retry.RateLimitBackoff < 0 || c.Retry.TransientBackoff < 0 || c.Retry.NetworkBackoff < 0 {
		return errors.New("backoff durations must be >= 0")
	}

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, json, ndjson")
	}
	if !oneOf(c.Output.ConsoleFormat, "text", "json", "ndjson") {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}

	for i, st := range c.Output.ConsoleFilterStatus {
		v := normalizeEnumValue(st)
		if !oneOf(v, "success", "failure", "clean") {
			return fmt.Errorf("unsupported --console-filter-status value: %s (must be one of: success, failure, clean)", st)
		}
		c.Output.ConsoleFilterStatus[i] = v
	}

	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if !oneOf(v, "json", "ndjson") {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", v)
		}
		c.Output.Emit[i] = v
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			default:
				if ext == "" {
					return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if !oneOf(c.Output.OutFormat, "json", "ndjson") {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	c.Output.ReportFormat = normalizeEnumValue(c.Output.ReportFormat)
	if c.Output.ReportFormat == "" {
		c.Output.ReportFormat = "none"
	}
	if !oneOf(c.Output.ReportFormat, "markdown", "json", "html", "pdf", "none") {
		return fmt.Errorf("unsupported --report-format: %s (must be one of: markdown, json, html, pdf, none)", c.Output.ReportFormat)
	}
	if c.Output.ReportFormat != "none" && strings.TrimSpace(c.Output.ReportDir) == "" {
		return errors.New("--report-dir must not be empty when a report format is selected")
	}

	// Notify validation
	if c.Notify.Webhook != "" {
		if err := validateHTTPURL(c.Notify.Webhook); err != nil {
			return fmt.Errorf("invalid --webhook value: %w", err)
		}
	}
	c.Notify.Template = normalizeEnumValue(c.Notify.Template)
	if c.Notify.Template == "" {
		c.Notify.Template = "detailed"
	}
	if !oneOf(c.Notify.Template, "detailed", "compact") {
		return fmt.Errorf("unsupported --webhook-template: %s (must be one of: detailed, compact)", c.Notify.Template)
	}

	// Runtime validation
	c.Runtime.LogLevel = normalizeEnumValue(c.Runtime.LogLevel)
	if c.Runtime.Verbose {
		c.Runtime.LogLevel = "debug"
	}
	if !oneOf(c.Runtime.LogLevel, "debug", "info", "warn", "error") {
		return fmt.Errorf("unsupported --log-level: %s (must be one of: debug, info, warn, error)", c.Runtime.LogLevel)
	}
	c.Runtime.LogFormat = normalizeEnumValue(c.Runtime.LogFormat)
	if !oneOf(c.Runtime.LogFormat, "console", "json") {
		return fmt.Errorf("unsupported --log-format: %s (must be one of: console, json)", c.Runtime.LogFormat)
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}

	return nil
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%q", raw)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q: expected an http(s) URL", raw)
	}
	return nil
}

// NormalizeRepoSelector turns OWNER/REPO or a GitHub URL into OWNER/REPO.
//
// Accepted forms:
//   - owner/repo
//   - https://github.com/owner/repo(.git)(/tree/main)
//   - github.com/owner/repo
//   - git@github.com:owner/repo.git
func NormalizeRepoSelector(sel string) (string, error) {
	sel = strings.TrimSpace(sel)
	invalid := fmt.Errorf("invalid repo selector %q; expected owner/name", sel)
	if sel == "" {
		return "", invalid
	}

	if strings.HasPrefix(sel, "github.com/") || strings.HasPrefix(sel, "www.github.com/") {
		sel = "https://" + sel
	}

	var path string
	switch {
	case strings.HasPrefix(sel, "git@github.com:"):
		path = strings.TrimPrefix(sel, "git@github.com:")
	case strings.HasPrefix(sel, "http://") || strings.HasPrefix(sel, "https://"):
		u, err := url.Parse(sel)
		if err != nil {
			return "", invalid
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if host != "github.com" {
			return "", invalid
		}
		path = u.Path
	default:
		if strings.Count(sel, "/") != 1 {
			return "", invalid
		}
		path = sel
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return "", invalid
	}
	owner, repo := parts[0], strings.TrimSuffix(parts[1], ".git")
	if owner == "" || repo == "" || strings.ContainsAny(owner+repo, "*?[ ") {
		return "", invalid
	}
	return owner + "/" + repo, nil
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"workflowsweep/internal/actions"
	"workflowsweep/internal/config"
	"workflowsweep/internal/disable"
	"workflowsweep/internal/discovery"
	"workflowsweep/internal/engine"
	"workflowsweep/internal/flags"
	gh "workflowsweep/internal/github"
	"workflowsweep/internal/gitexec"
	"workflowsweep/internal/logging"
	"workflowsweep/internal/metrics"
	"workflowsweep/internal/notify"
	"workflowsweep/internal/output"
	"workflowsweep/internal/redact"
	"workflowsweep/internal/remediate"
	"workflowsweep/internal/report"
	"workflowsweep/internal/workcopy"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const scanHelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}Usage:
  {{.UseLine}}

{{if .HasAvailableLocalFlags}}Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}Environment:
	workflowsweep authenticates to GitHub using an access token.

	Sources (in order):
	1) --token, the auth.token config key or WORKFLOWSWEEP_AUTH_TOKEN
	2) GITHUB_TOKEN, then GH_TOKEN
	3) GitHub CLI (gh) authentication via gh auth token (if gh is installed and logged in)

  Token guidance (brief):
  - PAT (classic): needs repo (to read and push private repos), workflow (to
    delete workflow files) and read:org (to search organization code).
  - Fine-grained PAT: grant Contents: Read and write, Workflows: Read and write
    and Actions: Read and write on the affected repositories.

  Every setting can also come from the environment as WORKFLOWSWEEP_<SECTION>_<KEY>,
  e.g. WORKFLOWSWEEP_SCAN_KEYWORD. These names are also accepted:
  KEYWORD, SCAN_ONLY, DISABLE_WORKFLOWS, REPORT_FORMAT, MASK_SENSITIVE_DATA,
  NOTIFICATION_WEBHOOK, NOTIFICATION_TEMPLATE.

  Examples:
    # macOS/Linux
    export GITHUB_TOKEN="<your_token>"
    workflowsweep scan --scan-only

		# GitHub CLI auth
		gh auth login
		workflowsweep scan

    # Windows PowerShell
    $env:GITHUB_TOKEN = "<your_token>"
    workflowsweep scan --scan-only

{{if .HasAvailableSubCommands}}Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasHelpSubCommands}}Additional help topics:
{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.
{{end}}`

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find infected repositories and remove the malicious workflows",
	Long: `Find repositories whose workflow files contain the signature and remove them.

Discovery runs GitHub code search for the signature under .github/workflows,
first in the authenticated user's repositories and then in each organization.
Each infected repository is cloned into the work directory (or updated if a
previous run left a working copy), the matching files are deleted, and the
change is committed and pushed to the first branch in --branches that accepts it.

Use --scan-only to report without changing anything, and --repos to skip
code search and process specific repositories.

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write an aggregate JSON document or NDJSON stream to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --no-console: suppress the console sink (use with --emit/--out for machine output)
	- --report-format / --report-dir: write a cleanup report (markdown, json, html, pdf)
	- --metrics-file: write run metrics in Prometheus text format

	NDJSON mode emits one JSON object per line. Objects are lifecycle Events with a
	"type" field (run.started, candidate.found, repo.started, repo.finished,
	run.finished). repo.finished events carry the remediation outcome inline.

Exit codes:
	0 = clean run (nothing infected, or everything remediated)
	1 = infected repositories found in --scan-only mode
	2 = partial failure (some repositories failed or the run was interrupted)
	3 = fatal error (configuration, authentication or discovery)

Examples:
  # Token via environment variable
  export GITHUB_TOKEN="<your_token>"
  workflowsweep scan --scan-only

  # Remediate two repositories without code search
	workflowsweep scan --repos acme/api,https://github.com/acme/web

	# Stream machine-readable events to stdout
	workflowsweep scan --no-console --emit ndjson
`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runScan(cmd.Context(), cmd, cmd.OutOrStdout(), cmd.ErrOrStderr()))
	},
}

func fatalf(w io.Writer, format string, args ...any) int {
	fmt.Fprintf(w, "Error: "+format+"\n", args...)
	return engine.ExitCodeFatal
}

// runScan executes one scan and returns the process exit code.
func runScan(ctx context.Context, cmd *cobra.Command, stdout, stderr io.Writer) int {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fatalf(stderr, "%v", err)
	}
	env, err := actions.Load(ctx)
	if err != nil {
		return fatalf(stderr, "%v", err)
	}
	if env.Actions {
		cfg.ApplyRunnerDefaults(env.Workspace)
		if cfg.Remediation.SelfRepo == "" {
			cfg.Remediation.SelfRepo = env.Repository
		}
	}
	if err := cfg.Validate(); err != nil {
		return fatalf(stderr, "%v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Runtime.Timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, source, err := gh.ResolveAuthToken(ctx, cfg.Auth.Token, cfg.Auth.Host)
	if err != nil {
		return fatalf(stderr, "failed to resolve GitHub auth token: %v", err)
	}
	if strings.TrimSpace(token) == "" {
		return fatalf(stderr, "GitHub auth token is required (set GITHUB_TOKEN or run 'gh auth login')")
	}

	red := redact.New(token)
	red.Add(cfg.Notify.Webhook)
	if env.Actions && cfg.Output.MaskSensitive {
		if err := actions.Mask(stdout, token); err != nil {
			return fatalf(stderr, "%v", err)
		}
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:    cfg.Runtime.LogLevel,
		Format:   cfg.Runtime.LogFormat,
		Writer:   stderr,
		Dir:      cfg.Runtime.LogDir,
		Redactor: red,
	})
	if err != nil {
		return fatalf(stderr, "%v", err)
	}
	defer func() { _ = closeLog() }()
	logger.Info("auth token resolved", zap.String("source", string(source)))

	recorder := metrics.NewRecorder(cfg.Output.MetricsFile)
	client, err := gh.NewClient(ctx, token,
		gh.WithLogger(logger),
		gh.WithBaseURL(cfg.Auth.APIURL),
		gh.WithRetryPolicy(gh.RetryPolicy{
			MaxAttempts:      cfg.Retry.MaxAttempts,
			RateLimitBackoff: cfg.Retry.RateLimitBackoff,
			TransientBackoff: cfg.Retry.TransientBackoff,
			NetworkBackoff:   cfg.Retry.NetworkBackoff,
		}),
		gh.WithRetryObserver(recorder),
	)
	if err != nil {
		logger.Error("failed to create GitHub client", zap.Error(err))
		return engine.ExitCodeFatal
	}

	deps, err := buildDeps(ctx, cfg, client, red, token, logger)
	if err != nil {
		logger.Error("failed to prepare remediation", zap.Error(err))
		return engine.ExitCodeFatal
	}

	mask := displayMask(cfg)
	outMgr, err := engine.NewOutputManager(cfg, stdout, output.WithRepoMask(mask))
	if err != nil {
		return fatalf(stderr, "%v", err)
	}
	if err := outMgr.AddSink(recorder); err != nil {
		outMgr.Close()
		return fatalf(stderr, "%v", err)
	}

	eng := engine.New(deps, engine.Options{
		ScanOnly:         cfg.Scan.ScanOnly,
		DisableWorkflows: cfg.Remediation.DisableWorkflows,
		Signature:        cfg.Scan.Keyword,
		Targets:          cfg.Scan.Repos,
		Filter: engine.Filter{
			Include:  cfg.Scan.IncludeRepos,
			Exclude:  cfg.Scan.ExcludeRepos,
			MaxRepos: cfg.Scan.MaxRepos,
		},
	}, outMgr, logger)

	res, err := eng.Run(ctx)
	if err != nil {
		logger.Error("scan did not run", zap.Error(err))
		if cerr := outMgr.Close(); cerr != nil {
			logger.Warn("closing output sinks failed", zap.Error(cerr))
		}
		return engine.ExitCodeFatal
	}
	if err := outMgr.Close(); err != nil {
		logger.Warn("closing output sinks failed", zap.Error(err))
	}

	// Reporting and notification still run after an interrupt.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer finishCancel()

	reportPath := writeReport(cfg, env, res, mask, logger)
	if cfg.Notify.Webhook != "" {
		summary := notify.Summarize(res)
		summary.RunURL = env.RunURL()
		n := notify.New(cfg.Notify.Webhook, notify.Template(cfg.Notify.Template), notify.WithLogger(logger))
		if err := n.Send(finishCtx, summary); err != nil {
			logger.Warn("notification failed", zap.Error(err))
		}
	}

	if env.Actions {
		_, success, failed := res.Counts()
		err := actions.WriteOutputs(env.OutputFile, actions.Outputs{
			InfectedRepos: res.CandidateNames(),
			Success:       success,
			Failed:        failed,
			Disabled:      res.DisabledWorkflows,
			ReportPath:    reportPath,
		})
		if err != nil {
			logger.Warn("writing step outputs failed", zap.Error(err))
		}
	}

	if !res.ScanOnly && len(res.Candidates) > 0 {
		logger.Warn("revoke the token used for this run once cleanup is verified",
			zap.String("url", serverURL(cfg, env)+"/settings/tokens"),
		)
	}
	return res.ExitCode()
}

// buildDeps wires the API client, git and the working copy cache into the
// engine's collaborators. Remediation pieces are only built when they can run.
func buildDeps(ctx context.Context, cfg *config.Config, client *gh.Client, red *redact.Redactor, token string, logger *zap.Logger) (engine.Deps, error) {
	deps := engine.Deps{
		Identity: client,
		Budget:   client,
		Finder: discovery.New(client, discovery.Options{
			Signature: cfg.Scan.Keyword,
			Exclude:   cfg.Scan.Exclude,
		}, logger),
	}
	if cfg.Scan.ScanOnly {
		return deps, nil
	}

	cache, err := workcopy.NewCache(cfg.Remediation.WorkDir)
	if err != nil {
		return engine.Deps{}, err
	}
	git := gitexec.New(gitexec.OSRunner{Binary: cfg.Remediation.GitBinary}, gitexec.Options{
		Redactor: red,
		Logger:   logger,
		Author:   gitexec.Author{Name: cfg.Remediation.AuthorName, Email: cfg.Remediation.AuthorEmail},
	})
	opts := remediate.DefaultOptions()
	opts.Scanner.Signature = cfg.Scan.Keyword
	opts.Scanner.Exclude = cfg.Scan.Exclude
	opts.Branches = cfg.Remediation.Branches
	opts.Host = cfg.Auth.Host
	opts.Token = token
	deps.Remediator = remediate.New(git, cache, opts, logger)

	if cfg.Remediation.DisableWorkflows {
		self := cfg.Remediation.SelfRepo
		if self == "" {
			self = detectSelfRepo(ctx, git, ".", logger)
		}
		deps.Disabler = disable.New(client, self, logger)
	}
	return deps, nil
}

// detectSelfRepo reads OWNER/REPO from the origin remote of the checkout in
// dir. It returns "" when dir is not a GitHub checkout.
func detectSelfRepo(ctx context.Context, git *gitexec.Git, dir string, logger *zap.Logger) string {
	remoteURL, err := git.RemoteURL(ctx, dir, "origin")
	if err != nil {
		logger.Debug("no origin remote for the hosting repository", zap.Error(err))
		return ""
	}
	repo, ok := gitexec.RepoFromRemoteURL(remoteURL)
	if !ok {
		return ""
	}
	logger.Info("hosting repository detected from git remote; its workflows stay enabled", zap.String("repository", repo))
	return repo
}

func displayMask(cfg *config.Config) func(string) string {
	if !cfg.Output.MaskSensitive {
		return nil
	}
	return func(s string) string { return redact.Display(s, 4) }
}

func serverURL(cfg *config.Config, env actions.Environment) string {
	if env.Actions && env.ServerURL != "" {
		return strings.TrimSuffix(env.ServerURL, "/")
	}
	return "https://" + cfg.Auth.Host
}

func writeReport(cfg *config.Config, env actions.Environment, res *engine.Result, mask func(string) string, logger *zap.Logger) string {
	format, err := report.ParseFormat(cfg.Output.ReportFormat)
	if err != nil {
		logger.Warn("report skipped", zap.Error(err))
		return ""
	}
	r := report.Build(res, report.Options{
		ServerURL: serverURL(cfg, env),
		LogDir:    cfg.Runtime.LogDir,
		RunURL:    env.RunURL(),
		Mask:      mask,
	})
	path, err := report.Write(cfg.Output.ReportDir, format, r, logger)
	if err != nil {
		logger.Warn("report failed", zap.Error(err))
		return ""
	}
	return path
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.SetHelpTemplate(scanHelpTemplate)

	d := config.New()
	f := scanCmd.Flags()

	// Scan
	f.String(flags.FlagKeyword, d.Scan.Keyword, "Signature searched for in workflow files")
	f.String(flags.FlagExclude, d.Scan.Exclude, "Skip search hits and workflow files whose name contains this string")
	f.Bool(flags.FlagScanOnly, false, "Report infected repositories without changing them")
	f.StringSlice(flags.FlagRepos, nil, "Process these repositories as OWNER/REPO or URL instead of searching (repeatable; comma-separated accepted)")
	f.StringSlice(flags.FlagIncludeRepos, nil, "Include pattern(s) (repeatable; comma-separated accepted). Go path.Match style; if pattern contains '/', matches OWNER/REPO, else matches repo name")
	f.StringSlice(flags.FlagExcludeRepos, nil, "Exclude pattern(s) (repeatable; comma-separated accepted). Same matching rules as --include-repos")
	f.Int(flags.FlagMaxRepos, 0, "Maximum number of infected repositories to process (0 = unlimited)")

	// Remediation
	f.Bool(flags.FlagDisableWorkflows, false, "Disable every remaining active workflow in remediated repositories")
	f.String(flags.FlagWorkDir, d.Remediation.WorkDir, "Directory for cached working copies")
	f.StringSlice(flags.FlagBranches, d.Remediation.Branches, "Branches tried in order when pushing")
	f.String(flags.FlagAuthorName, d.Remediation.AuthorName, "Commit author name")
	f.String(flags.FlagAuthorEmail, d.Remediation.AuthorEmail, "Commit author email")
	f.String(flags.FlagSelfRepo, "", "Repository never touched by --disable-workflows (default: GITHUB_REPOSITORY in Actions)")
	f.String(flags.FlagGitBinary, d.Remediation.GitBinary, "git executable")

	// Retry
	f.Int(flags.FlagMaxAttempts, d.Retry.MaxAttempts, "Attempts per GitHub API request")
	f.Duration(flags.FlagRateLimitBackoff, d.Retry.RateLimitBackoff, "Backoff unit after a rate-limited 403 (multiplied by the attempt number)")
	f.Duration(flags.FlagTransientBackoff, d.Retry.TransientBackoff, "Backoff unit after 429/502/503/504 (multiplied by the attempt number)")
	f.Duration(flags.FlagNetworkBackoff, d.Retry.NetworkBackoff, "Fixed backoff after a network error")

	// Output
	f.String(flags.FlagConsoleFormat, d.Output.ConsoleFormat, "Console output format: text|json|ndjson (default: text)")
	f.StringSlice(flags.FlagConsoleFilterStatus, nil, "Filter console outcomes by status (success, failure, clean). Comma-separated.")
	f.String(flags.FlagOut, "", "Write structured output to this path")
	f.String(flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	f.StringSlice(flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	f.Bool(flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out)")
	f.String(flags.FlagReportFormat, d.Output.ReportFormat, "Cleanup report format: markdown|json|html|pdf|none")
	f.String(flags.FlagReportDir, d.Output.ReportDir, "Directory for cleanup reports")
	f.Bool(flags.FlagMaskSensitive, d.Output.MaskSensitive, "Partially mask logins and repository names in human output")
	f.String(flags.FlagMetricsFile, "", "Write run metrics to this file in Prometheus text format")

	// Notify
	f.String(flags.FlagWebhook, "", "Post a Slack-compatible summary to this webhook URL")
	f.String(flags.FlagWebhookTemplate, d.Notify.Template, "Webhook message template: detailed|compact")

	// Runtime
	f.Duration(flags.FlagTimeout, d.Runtime.Timeout, "Global timeout")
}

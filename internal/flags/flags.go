package flags

// Package flags defines canonical CLI flag names shared by the CLI and the
// config loader, which binds each flag to its config key.
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().String(flags.FlagKeyword, ".oast.fun", "...")
//	arg := "--" + flags.FlagKeyword
const (
	// Global
	FlagConfig    = "config"
	FlagLogLevel  = "log-level"
	FlagLogFormat = "log-format"
	FlagLogDir    = "log-dir"
	FlagVerbose   = "verbose"

	// Auth
	FlagToken  = "token"
	FlagHost   = "host"
	FlagAPIURL = "api-url"

	// Scan
	FlagKeyword      = "keyword"
	FlagExclude      = "exclude"
	FlagScanOnly     = "scan-only"
	FlagRepos        = "repos"
	FlagIncludeRepos = "include-repos"
	FlagExcludeRepos = "exclude-repos"
	FlagMaxRepos     = "max-repos"

	// Remediation
	FlagDisableWorkflows = "disable-workflows"
	FlagWorkDir          = "work-dir"
	FlagBranches         = "branches"
	FlagAuthorName       = "author-name"
	FlagAuthorEmail      = "author-email"
	FlagSelfRepo         = "self-repo"
	FlagGitBinary        = "git-binary"

	// Retry
	FlagMaxAttempts      = "max-attempts"
	FlagRateLimitBackoff = "rate-limit-backoff"
	FlagTransientBackoff = "transient-backoff"
	FlagNetworkBackoff   = "network-backoff"

	// Output
	FlagConsoleFormat       = "console-format"
	FlagConsoleFilterStatus = "console-filter-status"
	FlagOut                 = "out"
	FlagOutFormat           = "out-format"
	FlagEmit                = "emit"
	FlagNoConsole           = "no-console"
	FlagReportFormat        = "report-format"
	FlagReportDir           = "report-dir"
	FlagMaskSensitive       = "mask-sensitive"
	FlagMetricsFile         = "metrics-file"

	// Notify
	FlagWebhook         = "webhook"
	FlagWebhookTemplate = "webhook-template"

	// Runtime
	FlagTimeout = "timeout"
)

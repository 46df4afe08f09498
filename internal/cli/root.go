package cli

import (
	"fmt"
	"os"
	"workflowsweep/internal/config"
	"workflowsweep/internal/flags"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// configFile is the optional --config path; every other setting is read
// through config.Load.
var configFile string

var rootCmd = &cobra.Command{
	Use:   "workflowsweep",
	Short: "Find and remove malicious GitHub Actions workflows",
	Long: `workflowsweep finds repositories whose Actions workflows carry an exfiltration
signature and removes the infected workflow files.

Discovery uses GitHub code search across the authenticated user and every
organization the user belongs to. Remediation clones each repository, deletes
the matching files, commits and pushes.

Examples:
	# Report infected repositories without changing anything
	workflowsweep scan --scan-only

	# Remove infected workflows and disable the remaining ones
	workflowsweep scan --disable-workflows

	# Show the remaining API quota
	workflowsweep rate-limit

	# Print build info
	workflowsweep version

Output:
	By default, commands write human-readable output to stdout and logs to stderr.
	The scan command supports structured output (see scan --help).`,
}

func init() {
	d := config.New()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, flags.FlagConfig, "", "Config file (YAML, TOML or JSON)")
	pf.String(flags.FlagLogLevel, d.Runtime.LogLevel, "Log level: debug|info|warn|error")
	pf.String(flags.FlagLogFormat, d.Runtime.LogFormat, "Log format: console|json")
	pf.String(flags.FlagLogDir, d.Runtime.LogDir, "Also write JSON logs to a timestamped file in this directory")
	pf.Bool(flags.FlagVerbose, false, "Enable verbose logging (prints every GitHub API call and full error details)")

	// Auth
	pf.String(flags.FlagToken, "", "GitHub access token (default: GITHUB_TOKEN, GH_TOKEN, then gh auth token)")
	pf.String(flags.FlagHost, d.Auth.Host, "Git host used for clone URLs and gh auth lookup")
	pf.String(flags.FlagAPIURL, "", "REST API base URL (GitHub Enterprise Server)")
}

// loadConfig merges defaults, --config, environment and the flags of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cmd.Flags(), configFile)
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}
}

package config

import (
	"fmt"
	"strings"
	"workflowsweep/internal/flags"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment name of every key, e.g.
// WORKFLOWSWEEP_REMEDIATION_WORK_DIR for remediation.work_dir.
const EnvPrefix = "WORKFLOWSWEEP"

// binding ties a config key to its flag and to any environment names kept
// for compatibility with existing workflow files.
type binding struct {
	key  string
	flag string
	env  []string
}

var bindings = []binding{
	{key: "auth.token", flag: flags.FlagToken},
	{key: "auth.host", flag: flags.FlagHost},
	{key: "auth.api_url", flag: flags.FlagAPIURL},

	{key: "scan.keyword", flag: flags.FlagKeyword, env: []string{"KEYWORD"}},
	{key: "scan.exclude", flag: flags.FlagExclude},
	{key: "scan.scan_only", flag: flags.FlagScanOnly, env: []string{"SCAN_ONLY"}},
	{key: "scan.repos", flag: flags.FlagRepos},
	{key: "scan.include_repos", flag: flags.FlagIncludeRepos},
	{key: "scan.exclude_repos", flag: flags.FlagExcludeRepos},
	{key: "scan.max_repos", flag: flags.FlagMaxRepos},

	{key: "remediation.disable_workflows", flag: flags.FlagDisableWorkflows, env: []string{"DISABLE_WORKFLOWS"}},
	{key: "remediation.work_dir", flag: flags.FlagWorkDir},
	{key: "remediation.branches", flag: flags.FlagBranches},
	{key: "remediation.author_name", flag: flags.FlagAuthorName},
	{key: "remediation.author_email", flag: flags.FlagAuthorEmail},
	{key: "remediation.self_repo", flag: flags.FlagSelfRepo},
	{key: "remediation.git_binary", flag: flags.FlagGitBinary},

	{key: "retry.max_attempts", flag: flags.FlagMaxAttempts},
	{key: "retry.rate_limit_backoff", flag: flags.FlagRateLimitBackoff},
	{key: "retry.transient_backoff", flag: flags.FlagTransientBackoff},
	{key: "retry.network_backoff", flag: flags.FlagNetworkBackoff},

	{key: "output.console_format", flag: flags.FlagConsoleFormat},
	{key: "output.console_filter_status", flag: flags.FlagConsoleFilterStatus},
	{key: "output.out", flag: flags.FlagOut},
	{key: "output.out_format", flag: flags.FlagOutFormat},
	{key: "output.emit", flag: flags.FlagEmit},
	{key: "output.no_console", flag: flags.FlagNoConsole},
	{key: "output.report_format", flag: flags.FlagReportFormat, env: []string{"REPORT_FORMAT"}},
	{key: "output.report_dir", flag: flags.FlagReportDir},
	{key: "output.mask_sensitive", flag: flags.FlagMaskSensitive, env: []string{"MASK_SENSITIVE_DATA"}},
	{key: "output.metrics_file", flag: flags.FlagMetricsFile},

	{key: "notify.webhook", flag: flags.FlagWebhook, env: []string{"NOTIFICATION_WEBHOOK"}},
	{key: "notify.template", flag: flags.FlagWebhookTemplate, env: []string{"NOTIFICATION_TEMPLATE"}},

	{key: "runtime.log_level", flag: flags.FlagLogLevel},
	{key: "runtime.log_format", flag: flags.FlagLogFormat},
	{key: "runtime.log_dir", flag: flags.FlagLogDir},
	{key: "runtime.verbose", flag: flags.FlagVerbose},
	{key: "runtime.timeout", flag: flags.FlagTimeout},
}

// EnvName is the prefixed environment variable for key.
func EnvName(key string) string {
	return EnvPrefix + "_" + envKeyReplacer.Replace(strings.ToUpper(key))
}

var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

// Load merges, lowest precedence first: defaults from New, the config file
// (when configFile is set), environment variables, then flags that were set
// explicitly on fs. The result is not validated.
func Load(fs *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setDefaults(v, New())

	for _, b := range bindings {
		if len(b.env) > 0 {
			names := append([]string{b.key, EnvName(b.key)}, b.env...)
			if err := v.BindEnv(names...); err != nil {
				return nil, fmt.Errorf("bind env for %s: %w", b.key, err)
			}
		}
		if fs == nil {
			continue
		}
		if f := fs.Lookup(b.flag); f != nil {
			if err := v.BindPFlag(b.key, f); err != nil {
				return nil, fmt.Errorf("bind --%s: %w", b.flag, err)
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"auth.token":   d.Auth.Token,
		"auth.host":    d.Auth.Host,
		"auth.api_url": d.Auth.APIURL,

		"scan.keyword":       d.Scan.Keyword,
		"scan.exclude":       d.Scan.Exclude,
		"scan.scan_only":     d.Scan.ScanOnly,
		"scan.repos":         d.Scan.Repos,
		"scan.include_repos": d.Scan.IncludeRepos,
		"scan.exclude_repos": d.Scan.ExcludeRepos,
		"scan.max_repos":     d.Scan.MaxRepos,

		"remediation.disable_workflows": d.Remediation.DisableWorkflows,
		"remediation.work_dir":          d.Remediation.WorkDir,
		"remediation.branches":          d.Remediation.Branches,
		"remediation.author_name":       d.Remediation.AuthorName,
		"remediation.author_email":      d.Remediation.AuthorEmail,
		"remediation.self_repo":         d.Remediation.SelfRepo,
		"remediation.git_binary":        d.Remediation.GitBinary,

		"retry.max_attempts":       d.Retry.MaxAttempts,
		"retry.rate_limit_backoff": d.Retry.RateLimitBackoff,
		"retry.transient_backoff":  d.Retry.TransientBackoff,
		"retry.network_backoff":    d.Retry.NetworkBackoff,

		"output.console_format":        d.Output.ConsoleFormat,
		"output.console_filter_status": d.Output.ConsoleFilterStatus,
		"output.out":                   d.Output.Out,
		"output.out_format":            d.Output.OutFormat,
		"output.emit":                  d.Output.Emit,
		"output.no_console":            d.Output.NoConsole,
		"output.report_format":         d.Output.ReportFormat,
		"output.report_dir":            d.Output.ReportDir,
		"output.mask_sensitive":        d.Output.MaskSensitive,
		"output.metrics_file":          d.Output.MetricsFile,

		"notify.webhook":  d.Notify.Webhook,
		"notify.template": d.Notify.Template,

		"runtime.log_level":  d.Runtime.LogLevel,
		"runtime.log_format": d.Runtime.LogFormat,
		"runtime.log_dir":    d.Runtime.LogDir,
		"runtime.verbose":    d.Runtime.Verbose,
		"runtime.timeout":    d.Runtime.Timeout,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"workflowsweep/internal/engine"
	gh "workflowsweep/internal/github"
	"workflowsweep/internal/logging"
	"workflowsweep/internal/redact"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Show the remaining core and search API quota",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runRateLimit(cmd, cmd.OutOrStdout(), cmd.ErrOrStderr()))
	},
}

func runRateLimit(cmd *cobra.Command, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fatalf(stderr, "%v", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	token, _, err := gh.ResolveAuthToken(ctx, cfg.Auth.Token, cfg.Auth.Host)
	if err != nil {
		return fatalf(stderr, "failed to resolve GitHub auth token: %v", err)
	}
	if strings.TrimSpace(token) == "" {
		return fatalf(stderr, "GitHub auth token is required (set GITHUB_TOKEN or run 'gh auth login')")
	}

	level := cfg.Runtime.LogLevel
	if cfg.Runtime.Verbose {
		level = "debug"
	}
	logger, closeLog, err := logging.New(logging.Options{
		Level:    level,
		Format:   cfg.Runtime.LogFormat,
		Writer:   stderr,
		Redactor: redact.New(token),
	})
	if err != nil {
		return fatalf(stderr, "%v", err)
	}
	defer func() { _ = closeLog() }()

	client, err := gh.NewClient(ctx, token, gh.WithLogger(logger), gh.WithBaseURL(cfg.Auth.APIURL))
	if err != nil {
		logger.Error("failed to create GitHub client", zap.Error(err))
		return engine.ExitCodeFatal
	}
	rb, err := client.FetchRateBudget(ctx)
	if err != nil {
		logger.Error("rate limit lookup failed", zap.Error(err))
		return engine.ExitCodeFatal
	}
	if err := writeRateBudget(stdout, rb); err != nil {
		return fatalf(stderr, "%v", err)
	}
	return 0
}

func writeRateBudget(w io.Writer, rb gh.RateBudget) error {
	table := tablewriter.NewTable(w, tablewriter.WithHeader([]string{"Resource", "Remaining", "Limit", "Resets"}))
	rows := [][]string{
		rateRow(gh.ResourceCore, rb.Core),
		rateRow(gh.ResourceSearch, rb.Search),
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func rateRow(name string, w gh.RateWindow) []string {
	if !w.Observed {
		return []string{name, "-", "-", "-"}
	}
	return []string{
		name,
		strconv.Itoa(w.Remaining),
		strconv.Itoa(w.Limit),
		fmt.Sprintf("%s (in %s)", w.Reset.Local().Format(time.DateTime), time.Until(w.Reset).Round(time.Second)),
	}
}

func init() {
	rootCmd.AddCommand(rateLimitCmd)
}

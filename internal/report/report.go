package report

import (
	"strings"
	"time"
	"workflowsweep/internal/engine"
	"workflowsweep/internal/remediate"
)

const defaultServerURL = "https://github.com"

// Report is the cleanup report model shared by every format.
type Report struct {
	Metadata   Metadata            `json:"metadata"`
	Statistics Statistics          `json:"statistics"`
	Infected   []Repository        `json:"infected_repositories"`
	Cleaned    []CleanedRepository `json:"cleaned_repositories"`
	Failed     []FailedRepository  `json:"failed_repositories"`
	NextSteps  []Priority          `json:"next_steps"`
}

type Metadata struct {
	GeneratedAt time.Time `json:"timestamp"`
	Signature   string    `json:"keyword"`
	Executor    string    `json:"executor"`
	Mode        string    `json:"scan_mode"`
	LogDir      string    `json:"log_dir,omitempty"`
	RunURL      string    `json:"run_url,omitempty"`
	Duration    string    `json:"duration"`
}

type Statistics struct {
	Infected          int `json:"infected_repos"`
	Success           int `json:"success_count"`
	Failed            int `json:"failed_count"`
	Clean             int `json:"clean_count"`
	DisabledWorkflows int `json:"disabled_workflows"`
	ScopeErrors       int `json:"scope_errors"`
}

type Repository struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Path string `json:"path,omitempty"`
}

type CleanedRepository struct {
	Repository   string   `json:"repo"`
	URL          string   `json:"url"`
	Branch       string   `json:"branch"`
	BeforeSHA    string   `json:"before_sha"`
	AfterSHA     string   `json:"after_sha"`
	DeletedFiles []string `json:"deleted_files"`
}

type FailedRepository struct {
	Repository string `json:"repo"`
	URL        string `json:"url"`
	Reason     string `json:"reason"`
	Cause      string `json:"cause,omitempty"`
	Suggestion string `json:"suggestion"`
}

// Priority is one tier of the follow-up checklist.
type Priority struct {
	Level    string `json:"level"`
	Deadline string `json:"deadline"`
	Items    []Step `json:"items"`
}

type Step struct {
	Text string `json:"text"`
	Link string `json:"link,omitempty"`
}

// Options carry the run context that engine.Result does not.
type Options struct {
	ServerURL string
	LogDir    string
	RunURL    string
	// Mask rewrites the executor login. Nil leaves it as is.
	Mask func(string) string
	Now  func() time.Time
}

// Build assembles a Report from a finished run.
func Build(res *engine.Result, opts Options) *Report {
	server := strings.TrimRight(strings.TrimSpace(opts.ServerURL), "/")
	if server == "" {
		server = defaultServerURL
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	executor := res.Identity.Login
	if opts.Mask != nil {
		executor = opts.Mask(executor)
	}
	repoURL := func(name string) string { return server + "/" + name }

	infected, success, failed := res.Counts()
	successes, failures, clean := remediate.Partition(res.Outcomes)

	r := &Report{
		Metadata: Metadata{
			GeneratedAt: now(),
			Signature:   res.Signature,
			Executor:    executor,
			Mode:        res.Mode(),
			LogDir:      opts.LogDir,
			RunURL:      opts.RunURL,
			Duration:    res.Duration().Round(time.Second).String(),
		},
		Statistics: Statistics{
			Infected:          infected,
			Success:           success,
			Failed:            failed,
			Clean:             len(clean),
			DisabledWorkflows: res.DisabledWorkflows,
			ScopeErrors:       len(res.ScopeErrors),
		},
		Infected:  []Repository{},
		Cleaned:   []CleanedRepository{},
		Failed:    []FailedRepository{},
		NextSteps: nextSteps(server),
	}
	for _, c := range res.Candidates {
		r.Infected = append(r.Infected, Repository{Name: c.Repository, URL: repoURL(c.Repository), Path: c.Path})
	}
	for _, o := range successes {
		r.Cleaned = append(r.Cleaned, CleanedRepository{
			Repository:   o.Repository,
			URL:          repoURL(o.Repository),
			Branch:       o.Branch,
			BeforeSHA:    o.BeforeSHA,
			AfterSHA:     o.AfterSHA,
			DeletedFiles: o.DeletedFiles,
		})
	}
	for _, o := range failures {
		r.Failed = append(r.Failed, FailedRepository{
			Repository: o.Repository,
			URL:        repoURL(o.Repository),
			Reason:     string(o.Reason),
			Cause:      o.Cause,
			Suggestion: suggestionFor(o),
		})
	}
	return r
}

func suggestionFor(o remediate.Outcome) string {
	cause := strings.ToLower(o.Cause)
	switch {
	case o.Reason == remediate.ReasonNoWorkflowDir:
		return "Verify the default branch; the search index may be stale"
	case strings.Contains(cause, "permission") || strings.Contains(cause, "403") || strings.Contains(cause, "protected branch"):
		return "Clean up manually; the token cannot push to this repository"
	case o.Reason == remediate.ReasonPush:
		return "Resolve the diverged branch and rerun"
	default:
		return "Check connectivity and rerun"
	}
}

func nextSteps(server string) []Priority {
	return []Priority{
		{
			Level:    "P0",
			Deadline: "within 2 hours",
			Items: []Step{
				{Text: "Revoke the token used for this run", Link: server + "/settings/tokens"},
				{Text: "Rotate every secret exposed to the infected workflows"},
				{Text: "Change any leaked passwords"},
			},
		},
		{
			Level:    "P1",
			Deadline: "within 24 hours",
			Items: []Step{
				{Text: "Audit access logs and regenerate SSH keys"},
				{Text: "Enable two-factor authentication", Link: server + "/settings/security"},
				{Text: "Enable branch protection rules"},
			},
		},
		{
			Level:    "P2",
			Deadline: "within 7 days",
			Items: []Step{
				{Text: "Run a full security audit"},
				{Text: "Require signed commits"},
				{Text: "Enable Dependabot and code scanning"},
			},
		},
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

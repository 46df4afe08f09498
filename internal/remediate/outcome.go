package remediate

import "errors"

// Engine-layer failure kinds. Outcome.Err wraps exactly one of them.
var (
	ErrNoWorkflowDirectory = errors.New("no workflow directory")
	ErrCloneOrUpdate       = errors.New("clone or update failed")
	ErrScan                = errors.New("scan failed")
	ErrCommit              = errors.New("commit failed")
	ErrPush                = errors.New("push failed")
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	// StatusClean means the repository was inspected and nothing matched.
	StatusClean Status = "clean"
)

type Reason string

const (
	ReasonNoWorkflowDir Reason = "no-workflow-dir"
	ReasonCloneOrUpdate Reason = "clone-or-update-error"
	ReasonScan          Reason = "scan-error"
	ReasonCommit        Reason = "commit-error"
	ReasonPush          Reason = "push-error"
)

// State is a step of the per-repository state machine.
type State string

const (
	StateStarted   State = "started"
	StateAcquired  State = "acquired"
	StateScanned   State = "scanned"
	StateClean     State = "clean"
	StateExcised   State = "excised"
	StateCommitted State = "committed"
	StatePushed    State = "pushed"
	StateRecorded  State = "recorded"
	StateFailed    State = "failed"
)

// Outcome is the result of remediating one repository.
type Outcome struct {
	Repository string `json:"repository"`
	Status     Status `json:"status"`
	// FailedAt is the last state reached before failing.
	FailedAt State `json:"failed_at,omitempty"`

	BeforeSHA    string   `json:"before_sha,omitempty"`
	AfterSHA     string   `json:"after_sha,omitempty"`
	Branch       string   `json:"branch,omitempty"`
	DeletedFiles []string `json:"deleted_files,omitempty"`

	Reason Reason `json:"reason,omitempty"`
	Cause  string `json:"cause,omitempty"`
	Err    error  `json:"-"`
}

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, ErrNoWorkflowDirectory):
		return ReasonNoWorkflowDir
	case errors.Is(err, ErrCloneOrUpdate):
		return ReasonCloneOrUpdate
	case errors.Is(err, ErrCommit):
		return ReasonCommit
	case errors.Is(err, ErrPush):
		return ReasonPush
	default:
		return ReasonScan
	}
}

// Partition splits outcomes into their buckets, preserving order.
func Partition(outcomes []Outcome) (successes, failures, clean []Outcome) {
	for _, o := range outcomes {
		switch o.Status {
		case StatusSuccess:
			successes = append(successes, o)
		case StatusFailure:
			failures = append(failures, o)
		case StatusClean:
			clean = append(clean, o)
		}
	}
	return successes, failures, clean
}

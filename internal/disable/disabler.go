package disable

import (
	"context"
	"strings"

	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"
)

// WorkflowAPI is the slice of the API client the disabler needs.
type WorkflowAPI interface {
	ListWorkflows(ctx context.Context, repo string) ([]*github.Workflow, error)
	DisableWorkflow(ctx context.Context, repo string, workflowID int64) error
}

const stateActive = "active"

// Disabler turns off the remaining active workflows of remediated repositories.
type Disabler struct {
	api    WorkflowAPI
	self   string
	logger *zap.Logger
}

// New returns a Disabler that never touches self, the repository hosting the run.
func New(api WorkflowAPI, self string, logger *zap.Logger) *Disabler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Disabler{api: api, self: strings.TrimSpace(self), logger: logger}
}

// DisableAll disables every active workflow in repos and returns how many
// were disabled. Errors are logged and skipped.
func (d *Disabler) DisableAll(ctx context.Context, repos []string) int {
	disabled := 0
	for _, repo := range repos {
		if ctx.Err() != nil {
			d.logger.Warn("workflow disabling interrupted", zap.Error(ctx.Err()))
			break
		}
		if d.self != "" && strings.EqualFold(repo, d.self) {
			d.logger.Info("skipping hosting repository", zap.String("repository", repo))
			continue
		}
		disabled += d.disableRepo(ctx, repo)
	}
	return disabled
}

func (d *Disabler) disableRepo(ctx context.Context, repo string) int {
	log := d.logger.With(zap.String("repository", repo))
	workflows, err := d.api.ListWorkflows(ctx, repo)
	if err != nil {
		log.Error("could not list workflows", zap.Error(err))
		return 0
	}

	n := 0
	for _, wf := range workflows {
		if wf.GetState() != stateActive {
			continue
		}
		if err := d.api.DisableWorkflow(ctx, repo, wf.GetID()); err != nil {
			log.Warn("could not disable workflow",
				zap.Int64("workflow_id", wf.GetID()),
				zap.String("workflow", wf.GetName()),
				zap.Error(err),
			)
			continue
		}
		log.Info("workflow disabled", zap.Int64("workflow_id", wf.GetID()), zap.String("workflow", wf.GetName()))
		n++
	}
	return n
}

package output

import (
	"workflowsweep/internal/discovery"
	"workflowsweep/internal/remediate"
)

const (
	EventRunStarted     = "run.started"
	EventCandidateFound = "candidate.found"
	EventRepoStarted    = "repo.started"
	EventRepoFinished   = "repo.finished"
	EventRunFinished    = "run.finished"
)

// Event is a lifecycle record for NDJSON streaming output.
//
// Candidates and outcomes written to a sink are streamed as candidate.found and
// repo.finished events. JSON mode aggregates them into a Document instead.
type Event struct {
	Type string `json:"type"`
	Repo string `json:"repo,omitempty"`
	Path string `json:"path,omitempty"`
	*remediate.Outcome

	Mode       string `json:"mode,omitempty"`
	Candidates int    `json:"candidates,omitempty"`
	Success    int    `json:"success,omitempty"`
	Failed     int    `json:"failed,omitempty"`
	Clean      int    `json:"clean,omitempty"`
	Disabled   int    `json:"disabled_workflows,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
}

// Document is what json sinks write on Close.
type Document struct {
	Candidates []discovery.Candidate `json:"candidates"`
	Outcomes   []remediate.Outcome   `json:"outcomes"`
	Summary    *Event                `json:"summary,omitempty"`
}

func (d *Document) add(v any) {
	switch t := v.(type) {
	case discovery.Candidate:
		d.Candidates = append(d.Candidates, t)
	case remediate.Outcome:
		d.Outcomes = append(d.Outcomes, t)
	case Event:
		if t.Type == EventRunFinished {
			d.Summary = &t
		}
	}
}

func newDocument() *Document {
	return &Document{Candidates: []discovery.Candidate{}, Outcomes: []remediate.Outcome{}}
}

// toEvent converts a sink record into its streaming form.
func toEvent(v any) (Event, bool) {
	switch t := v.(type) {
	case Event:
		return t, true
	case discovery.Candidate:
		return Event{Type: EventCandidateFound, Repo: t.Repository, Path: t.Path}, true
	case remediate.Outcome:
		return Event{Type: EventRepoFinished, Repo: t.Repository, Outcome: &t}, true
	default:
		return Event{}, false
	}
}

func outcomeStatus(v any) (string, bool) {
	o, ok := v.(remediate.Outcome)
	if !ok {
		return "", false
	}
	return string(o.Status), true
}

package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"workflowsweep/internal/discovery"
	"workflowsweep/internal/remediate"
)

func TestNewFileSink_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		format  string
		wantErr string
	}{
		{name: "json inferred", file: "results.json"},
		{name: "ndjson inferred", file: "events.ndjson"},
		{name: "nested directory created", file: "reports/run/results.json"},
		{name: "unknown extension", file: "results.unknown", wantErr: "cannot infer output format"},
		{name: "unsupported explicit format", file: "results.json", format: "xml", wantErr: "unsupported output format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewFileSink(filepath.Join(t.TempDir(), tt.file), tt.format)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("NewFileSink() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFileSink() error = %v", err)
			}
			_ = s.Close()
		})
	}

	if _, err := NewFileSink("", "json"); err == nil {
		t.Fatal("NewFileSink(\"\") want error, got nil")
	}
}

func TestFileSink_JSON_AggregatesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	s, err := NewFileSink(path, "json")
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}
	if s.Path() != path {
		t.Fatalf("Path() = %q, want %q", s.Path(), path)
	}

	if err := s.Write(Event{Type: EventRunStarted}); err != nil {
		t.Fatalf("Write event failed: %v", err)
	}
	if err := s.Write(discovery.Candidate{Repository: "o/r", Path: ".github/workflows/a.yml"}); err != nil {
		t.Fatalf("Write candidate failed: %v", err)
	}
	if err := s.Write(remediate.Outcome{Repository: "o/r", Status: remediate.StatusFailure, Reason: remediate.ReasonNoWorkflowDir}); err != nil {
		t.Fatalf("Write outcome failed: %v", err)
	}
	if err := s.Write(Event{Type: EventRunFinished, Candidates: 1, Failed: 1, ExitCode: 2}); err != nil {
		t.Fatalf("Write event failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var got Document
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v\nbody=%s", err, string(b))
	}
	if len(got.Candidates) != 1 || len(got.Outcomes) != 1 {
		t.Fatalf("unexpected document: %#v", got)
	}
	if got.Outcomes[0].Reason != remediate.ReasonNoWorkflowDir {
		t.Fatalf("unexpected outcome: %#v", got.Outcomes[0])
	}
	if got.Summary == nil || got.Summary.ExitCode != 2 {
		t.Fatalf("expected run.finished summary, got %#v", got.Summary)
	}
}

func TestFileSink_NDJSON_StreamsEventsAndOutcomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")

	s, err := NewFileSink(path, "")
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}

	if err := s.Write(Event{Type: EventRunStarted}); err != nil {
		t.Fatalf("Write event failed: %v", err)
	}
	if err := s.Write(remediate.Outcome{Repository: "o/r", Status: remediate.StatusSuccess, Branch: "main"}); err != nil {
		t.Fatalf("Write outcome failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 ndjson lines, got %d\nbody=%s", len(lines), string(b))
	}

	var e1 Event
	if err := json.Unmarshal([]byte(lines[0]), &e1); err != nil {
		t.Fatalf("Unmarshal line 1 failed: %v", err)
	}
	if e1.Type != EventRunStarted {
		t.Fatalf("unexpected event type: %q", e1.Type)
	}

	var e2 Event
	if err := json.Unmarshal([]byte(lines[1]), &e2); err != nil {
		t.Fatalf("Unmarshal line 2 failed: %v", err)
	}
	if e2.Type != EventRepoFinished || e2.Outcome == nil {
		t.Fatalf("unexpected repo.finished event: %#v", e2)
	}
	if e2.Outcome.Branch != "main" {
		t.Fatalf("unexpected outcome payload: %#v", e2.Outcome)
	}
}

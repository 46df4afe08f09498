package output

import (
	"errors"
	"strings"
	"testing"
	"workflowsweep/internal/discovery"
	"workflowsweep/internal/remediate"
)

type memorySink struct {
	records []any
	closed  bool
}

func (s *memorySink) Write(v any) error {
	s.records = append(s.records, v)
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}

type brokenSink struct {
	writeErr error
	closeErr error
}

func (s *brokenSink) Write(any) error { return s.writeErr }

func (s *brokenSink) Close() error { return s.closeErr }

func TestManager_FansOutRunRecords(t *testing.T) {
	console := &memorySink{}
	metrics := &memorySink{}

	mgr := NewManager()
	for _, s := range []Sink{console, metrics} {
		if err := mgr.AddSink(s); err != nil {
			t.Fatalf("AddSink() error: %v", err)
		}
	}

	records := []any{
		Event{Type: EventRunStarted, Mode: "remediate"},
		discovery.Candidate{Repository: "acme/api", Path: ".github/workflows/deploy.yml"},
		remediate.Outcome{Repository: "acme/api", Status: remediate.StatusClean},
		Event{Type: EventRunFinished, Candidates: 1, Clean: 1},
	}
	for _, r := range records {
		if err := mgr.Write(r); err != nil {
			t.Fatalf("Write(%T) error: %v", r, err)
		}
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	for name, s := range map[string]*memorySink{"console": console, "metrics": metrics} {
		if len(s.records) != len(records) {
			t.Fatalf("%s sink got %d records, want %d", name, len(s.records), len(records))
		}
		if !s.closed {
			t.Fatalf("%s sink was not closed", name)
		}
	}
}

func TestManager_AddSinkRejectsNil(t *testing.T) {
	if err := NewManager().AddSink(nil); err == nil {
		t.Fatal("AddSink(nil) want error, got nil")
	}
	var nilMgr *Manager
	if err := nilMgr.AddSink(&memorySink{}); err == nil {
		t.Fatal("AddSink on nil manager want error, got nil")
	}
}

func TestManager_FailingSinkDoesNotStarveOthers(t *testing.T) {
	healthy := &memorySink{}
	mgr := NewManager()
	_ = mgr.AddSink(&brokenSink{writeErr: errors.New("disk full")})
	_ = mgr.AddSink(healthy)

	err := mgr.Write(discovery.Candidate{Repository: "acme/web"})
	if err == nil {
		t.Fatal("Write want error, got nil")
	}
	for _, want := range []string{"errors writing to sinks", "disk full", "brokenSink"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Write error missing %q; got: %s", want, err)
		}
	}
	if len(healthy.records) != 1 {
		t.Fatalf("healthy sink got %d records, want 1", len(healthy.records))
	}
}

func TestManager_CloseJoinsErrors(t *testing.T) {
	mgr := NewManager()
	_ = mgr.AddSink(&brokenSink{closeErr: errors.New("flush report")})
	_ = mgr.AddSink(&brokenSink{closeErr: errors.New("write textfile")})

	err := mgr.Close()
	if err == nil {
		t.Fatal("Close want error, got nil")
	}
	for _, want := range []string{"errors closing sinks", "flush report", "write textfile"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Close error missing %q; got: %s", want, err)
		}
	}
}

func TestManager_Len(t *testing.T) {
	var nilMgr *Manager
	if nilMgr.Len() != 0 {
		t.Fatal("nil manager Len want 0")
	}
	mgr := NewManager()
	_ = mgr.AddSink(&memorySink{})
	if got := mgr.Len(); got != 1 {
		t.Fatalf("Len want 1, got %d", got)
	}
}

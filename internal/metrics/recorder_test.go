package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"workflowsweep/internal/discovery"
	"workflowsweep/internal/output"
	"workflowsweep/internal/remediate"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_CountsRecords(t *testing.T) {
	r := NewRecorder("")
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	records := []any{
		output.Event{Type: output.EventRunStarted, Mode: "remediate"},
		discovery.Candidate{Repository: "acme/api"},
		discovery.Candidate{Repository: "acme/web"},
		output.Event{Type: output.EventRepoStarted, Repo: "acme/api"},
		remediate.Outcome{Repository: "acme/api", Status: remediate.StatusSuccess},
		remediate.Outcome{Repository: "acme/web", Status: remediate.StatusFailure, Reason: remediate.ReasonPush},
	}
	for _, rec := range records {
		require.NoError(t, r.Write(rec))
	}
	clock = clock.Add(42 * time.Second)
	require.NoError(t, r.Write(output.Event{Type: output.EventRunFinished, Disabled: 3, ExitCode: 2}))
	r.ObserveRetry("rate-limited")
	r.ObserveRetry("rate-limited")
	r.ObserveRetry("network")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.candidates))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.outcomes.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.outcomes.WithLabelValues("failure", "push-error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries.WithLabelValues("rate-limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retries.WithLabelValues("network")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.disabled))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.duration))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.exitCode))
}

func TestRecorder_IgnoresUnknownRecords(t *testing.T) {
	r := NewRecorder("")
	require.NoError(t, r.Write("noise"))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.candidates))
}

func TestRecorder_CloseWritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflowsweep.prom")
	r := NewRecorder(path)
	require.NoError(t, r.Write(output.Event{Type: output.EventRunStarted}))
	require.NoError(t, r.Write(discovery.Candidate{Repository: "acme/api"}))
	require.NoError(t, r.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "workflowsweep_infected_repositories_total 1")

	n, err := testutil.GatherAndCount(r.Registry(), "workflowsweep_infected_repositories_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecorder_CloseBeforeRunStartedWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflowsweep.prom")
	r := NewRecorder(path)
	r.ObserveRetry("rate-limited")

	require.NoError(t, r.Close())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "metrics file written for a run that never started")
}

func TestRecorder_CloseWithoutPath(t *testing.T) {
	require.NoError(t, NewRecorder("").Close())
}

func TestRecorder_ExposesHelpText(t *testing.T) {
	r := NewRecorder("")
	r.ObserveRetry("transient")
	expected := `
# HELP workflowsweep_api_retries_total API requests retried, by cause
# TYPE workflowsweep_api_retries_total counter
workflowsweep_api_retries_total{cause="transient"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "workflowsweep_api_retries_total"))
}

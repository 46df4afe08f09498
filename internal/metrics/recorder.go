package metrics

import (
	"fmt"
	"sync"
	"time"
	"workflowsweep/internal/discovery"
	"workflowsweep/internal/output"
	"workflowsweep/internal/remediate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "workflowsweep"

// Recorder counts run records as an output sink and API retries as a
// retry observer. Close writes the registry to a textfile when a path is set.
type Recorder struct {
	registry *prometheus.Registry
	path     string

	candidates prometheus.Counter
	outcomes   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	disabled   prometheus.Counter
	duration   prometheus.Gauge
	exitCode   prometheus.Gauge

	mu      sync.Mutex
	started time.Time
	now     func() time.Time
}

func NewRecorder(path string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		path:     path,
		candidates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "infected_repositories_total",
			Help:      "Repositories whose workflows matched the signature",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediation_outcomes_total",
			Help:      "Remediation outcomes by status and failure reason",
		}, []string{"status", "reason"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "API requests retried, by cause",
		}, []string{"cause"}),
		disabled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disabled_workflows_total",
			Help:      "Workflows disabled after remediation",
		}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		exitCode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_exit_code",
			Help:      "Exit code of the last run",
		}),
		now: time.Now,
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRetry implements github.RetryObserver.
func (r *Recorder) ObserveRetry(cause string) {
	r.retries.WithLabelValues(cause).Inc()
}

func (r *Recorder) Write(v any) error {
	switch t := v.(type) {
	case discovery.Candidate:
		r.candidates.Inc()
	case remediate.Outcome:
		r.outcomes.WithLabelValues(string(t.Status), string(t.Reason)).Inc()
	case output.Event:
		r.mu.Lock()
		defer r.mu.Unlock()
		switch t.Type {
		case output.EventRunStarted:
			r.started = r.now()
		case output.EventRunFinished:
			r.disabled.Add(float64(t.Disabled))
			r.exitCode.Set(float64(t.ExitCode))
			if !r.started.IsZero() {
				r.duration.Set(r.now().Sub(r.started).Seconds())
			}
		}
	}
	return nil
}

// Close writes the textfile. A run that never started, such as one that
// failed its identity lookup, leaves no metrics file behind.
func (r *Recorder) Close() error {
	r.mu.Lock()
	started := !r.started.IsZero()
	r.mu.Unlock()
	if r.path == "" || !started {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

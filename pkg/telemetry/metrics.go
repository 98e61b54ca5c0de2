package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for generation and apply runs.
// A disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	helperSteps    *prometheus.CounterVec
	diagnostics    *prometheus.CounterVec
	patchRecords   *prometheus.CounterVec
	errorsByClass  *prometheus.CounterVec
	watchTriggers  prometheus.Counter
	lastRunSuccess *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of command runs by outcome",
			},
			[]string{"command", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of command runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		helperSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "helper_steps_total",
				Help:      "Helpers executed by kind",
			},
			[]string{"kind"},
		),
		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_diagnostics_total",
				Help:      "Pipeline diagnostics by type",
			},
			[]string{"type"},
		),
		patchRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "patch_records_total",
				Help:      "Patch records by status",
			},
			[]string{"status"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Command errors by class",
			},
			[]string{"class"},
		),
		watchTriggers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_triggers_total",
				Help:      "File change batches that triggered a regeneration",
			},
		),
		lastRunSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_success",
				Help:      "1 if the last run of the command succeeded, 0 otherwise",
			},
			[]string{"command"},
		),
	}

	collectors := []prometheus.Collector{
		m.runsTotal, m.runDuration, m.helperSteps, m.diagnostics,
		m.patchRecords, m.errorsByClass, m.watchTriggers, m.lastRunSuccess,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordRun records the outcome and duration of one command run.
func (m *Metrics) RecordRun(command, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsTotal.WithLabelValues(command, status).Inc()
	m.runDuration.WithLabelValues(command).Observe(duration.Seconds())
	success := 0.0
	if status == "success" {
		success = 1
	}
	m.lastRunSuccess.WithLabelValues(command).Set(success)
}

// RecordHelperSteps adds count executed helpers of kind.
func (m *Metrics) RecordHelperSteps(kind string, count int) {
	if !m.enabled() {
		return
	}
	m.helperSteps.WithLabelValues(kind).Add(float64(count))
}

// RecordDiagnostic counts one pipeline diagnostic.
func (m *Metrics) RecordDiagnostic(diagnosticType string) {
	if !m.enabled() {
		return
	}
	m.diagnostics.WithLabelValues(diagnosticType).Inc()
}

// RecordPatchRecords adds count patch records with status.
func (m *Metrics) RecordPatchRecords(status string, count int) {
	if !m.enabled() || count == 0 {
		return
	}
	m.patchRecords.WithLabelValues(status).Add(float64(count))
}

// RecordError counts one command error.
func (m *Metrics) RecordError(errorClass string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// RecordWatchTrigger counts one debounced change batch.
func (m *Metrics) RecordWatchTrigger() {
	if !m.enabled() {
		return
	}
	m.watchTriggers.Inc()
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current metrics in the text exposition format.
// The write goes through a temp file and rename.
func (m *Metrics) WriteTextfile(path string) error {
	if !m.enabled() || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Timer measures elapsed time.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the task-tree engine. A Metrics
// built with Enabled=false (or a nil *Metrics) accepts every call and
// records nothing.
type Metrics struct {
	config MetricsConfig

	// Tree metrics
	treesCreated *prometheus.CounterVec
	treesActive  prometheus.Gauge

	// Status machine metrics
	transitions         *prometheus.CounterVec
	rejectedTransitions *prometheus.CounterVec

	// Checkpoint metrics
	checkpoints *prometheus.CounterVec
	rollbacks   *prometheus.CounterVec

	// Acceptance-test generation metrics
	generationRequests *prometheus.CounterVec
	generationFailures *prometheus.CounterVec
	generationDuration prometheus.Histogram

	// Persistence metrics
	persistenceFailures *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Scheduling metrics
	executableTasks   *prometheus.GaugeVec
	operationDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		treesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trees_created_total",
				Help:      "Total number of task trees built from blueprints",
			},
			[]string{"blueprint"},
		),
		treesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "trees_active",
				Help:      "Current number of trees held in the registry",
			},
		),

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_transitions_total",
				Help:      "Total number of applied task status transitions",
			},
			[]string{"to"},
		),
		rejectedTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_transitions_rejected_total",
				Help:      "Total number of status updates absorbed as illegal",
			},
			[]string{"from", "to"},
		),

		checkpoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_created_total",
				Help:      "Total number of checkpoints created",
			},
			[]string{"scope"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_rollbacks_total",
				Help:      "Total number of checkpoint restores",
			},
			[]string{"scope"},
		),

		generationRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_requests_total",
				Help:      "Total number of acceptance-test generation requests",
			},
			[]string{"outcome"},
		),
		generationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_failures_total",
				Help:      "Total number of failed acceptance-test generation attempts",
			},
			[]string{"class"},
		),
		generationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of acceptance-test generation in seconds",
				Buckets:   buckets,
			},
		),

		persistenceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persistence_failures_total",
				Help:      "Total number of failed tree saves or journal writes",
			},
			[]string{"operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		executableTasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "executable_tasks",
				Help:      "Number of leaves ready to start, per tree",
			},
			[]string{"tree_id"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of orchestrator operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.treesCreated,
		m.treesActive,
		m.transitions,
		m.rejectedTransitions,
		m.checkpoints,
		m.rollbacks,
		m.generationRequests,
		m.generationFailures,
		m.generationDuration,
		m.persistenceFailures,
		m.errorsByClass,
		m.errorsByCode,
		m.executableTasks,
		m.operationDuration,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Tree Metrics

// RecordTreeCreated counts a new tree.
func (m *Metrics) RecordTreeCreated(blueprint string) {
	if !m.enabled() {
		return
	}
	m.treesCreated.WithLabelValues(blueprint).Inc()
}

// SetActiveTrees sets the number of trees held in memory.
func (m *Metrics) SetActiveTrees(count int) {
	if !m.enabled() {
		return
	}
	m.treesActive.Set(float64(count))
}

// Status Machine Metrics

// RecordTransition counts an applied status transition.
func (m *Metrics) RecordTransition(to string) {
	if !m.enabled() {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

// RecordRejectedTransition counts an absorbed illegal transition.
func (m *Metrics) RecordRejectedTransition(from, to string) {
	if !m.enabled() {
		return
	}
	m.rejectedTransitions.WithLabelValues(from, to).Inc()
}

// Checkpoint Metrics

// RecordCheckpoint counts a checkpoint; scope is "task" or "global".
func (m *Metrics) RecordCheckpoint(scope string) {
	if !m.enabled() {
		return
	}
	m.checkpoints.WithLabelValues(scope).Inc()
}

// RecordRollback counts a checkpoint restore; scope is "task" or "global".
func (m *Metrics) RecordRollback(scope string) {
	if !m.enabled() {
		return
	}
	m.rollbacks.WithLabelValues(scope).Inc()
}

// Generation Metrics

// RecordGeneration records a finished generation request.
func (m *Metrics) RecordGeneration(outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.generationRequests.WithLabelValues(outcome).Inc()
	m.generationDuration.Observe(duration.Seconds())
}

// RecordGenerationFailure counts one failed generation attempt.
func (m *Metrics) RecordGenerationFailure(class string) {
	if !m.enabled() {
		return
	}
	m.generationFailures.WithLabelValues(class).Inc()
}

// Persistence Metrics

// RecordPersistenceFailure counts a failed save, delete or journal append.
func (m *Metrics) RecordPersistenceFailure(operation string) {
	if !m.enabled() {
		return
	}
	m.persistenceFailures.WithLabelValues(operation).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Scheduling Metrics

// SetExecutableTasks sets the ready-leaf gauge for a tree.
func (m *Metrics) SetExecutableTasks(treeID string, count int) {
	if !m.enabled() {
		return
	}
	m.executableTasks.WithLabelValues(treeID).Set(float64(count))
}

// ForgetTree drops per-tree series after the tree is deleted.
func (m *Metrics) ForgetTree(treeID string) {
	if !m.enabled() {
		return
	}
	m.executableTasks.DeleteLabelValues(treeID)
}

// ObserveOperation records the duration of a facade operation.
func (m *Metrics) ObserveOperation(operation string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
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

// NewMetricsServer returns an HTTP server exposing the metrics endpoint.
// The caller owns its lifecycle.
func (m *Metrics) NewMetricsServer() *http.Server {
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// StartMetricsServer starts an HTTP server to expose metrics in the background.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() {
		return nil
	}

	server := m.NewMetricsServer()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The engine keeps running without its metrics endpoint.
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one procsim instance in its
// own registry. A disabled Metrics has nil collectors and every Record
// method is a no-op.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runPasses     *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	unitEvaluations *prometheus.CounterVec
	unitDuration    *prometheus.HistogramVec

	recycleResidual   *prometheus.GaugeVec
	recycleIterations *prometheus.GaugeVec

	flashes       *prometheus.CounterVec
	flashDuration *prometheus.HistogramVec

	experiments      *prometheus.CounterVec
	experimentPoints *prometheus.CounterVec

	errorsByClass    *prometheus.CounterVec
	errorsByCode     *prometheus.CounterVec
	policyViolations *prometheus.CounterVec
}

// NewMetrics registers the procsim collectors.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	ns := cfg.Namespace

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, b []float64, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: b}, labels)
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		runsStarted:   counter("runs_started_total", "Process runs started.", "process"),
		runsCompleted: counter("runs_completed_total", "Process runs finished, by status.", "process", "status"),
		runDuration:   histogram("run_duration_seconds", "Wall time of process runs.", buckets, "status"),
		runPasses:     histogram("run_passes", "Passes needed per process run.", []float64{1, 2, 3, 5, 10, 20, 50, 100}, "process"),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_runs", Help: "Process runs in progress.",
		}),

		unitEvaluations: counter("unit_evaluations_total", "Equipment node evaluations.", "unit_type", "status"),
		unitDuration:    histogram("unit_duration_seconds", "Wall time of equipment node evaluations.", buckets, "unit_type"),

		recycleResidual:   gauge("recycle_residual", "Residual of each recycle binding after the last pass.", "process", "recycle"),
		recycleIterations: gauge("recycle_iterations", "Iterations of each recycle binding in the current run.", "process", "recycle"),

		flashes:       counter("flashes_total", "Dispatched flash calculations.", "kind", "status"),
		flashDuration: histogram("flash_duration_seconds", "Wall time of flash calculations.", buckets, "kind"),

		experiments:      counter("pvt_experiments_total", "PVT experiments, by outcome.", "kind", "status"),
		experimentPoints: counter("pvt_points_total", "PVT sweep points evaluated.", "kind", "status"),

		errorsByClass:    counter("errors_by_class_total", "Errors by class.", "class"),
		errorsByCode:     counter("errors_by_code_total", "Errors by code.", "code"),
		policyViolations: counter("policy_violations_total", "Operating envelope violations.", "policy", "severity"),
	}

	m.registry.MustRegister(
		m.runsStarted, m.runsCompleted, m.runDuration, m.runPasses, m.activeRuns,
		m.unitEvaluations, m.unitDuration,
		m.recycleResidual, m.recycleIterations,
		m.flashes, m.flashDuration,
		m.experiments, m.experimentPoints,
		m.errorsByClass, m.errorsByCode, m.policyViolations,
	)
	return m, nil
}

// Enabled reports whether metrics are collected.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// RecordRunStarted counts a started run.
func (m *Metrics) RecordRunStarted(process string) {
	if !m.Enabled() {
		return
	}
	m.runsStarted.WithLabelValues(process).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records how a run ended.
func (m *Metrics) RecordRunCompleted(process, status string, duration time.Duration, passes int) {
	if !m.Enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(process, status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.runPasses.WithLabelValues(process).Observe(float64(passes))
	m.activeRuns.Dec()
}

// RecordUnitEvaluation records one equipment node evaluation.
func (m *Metrics) RecordUnitEvaluation(unitType, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.unitEvaluations.WithLabelValues(unitType, status).Inc()
	m.unitDuration.WithLabelValues(unitType).Observe(duration.Seconds())
}

// SetRecycleState records a recycle binding after a pass. A negative
// residual means none is known yet and leaves the residual gauge alone.
func (m *Metrics) SetRecycleState(process, recycle string, iterations int, residual float64) {
	if !m.Enabled() {
		return
	}
	m.recycleIterations.WithLabelValues(process, recycle).Set(float64(iterations))
	if residual >= 0 {
		m.recycleResidual.WithLabelValues(process, recycle).Set(residual)
	}
}

// RecordFlash records one dispatched flash.
func (m *Metrics) RecordFlash(kind, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.flashes.WithLabelValues(kind, status).Inc()
	m.flashDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordExperiment records a finished PVT experiment and its points.
func (m *Metrics) RecordExperiment(kind, status string, points, failed int) {
	if !m.Enabled() {
		return
	}
	m.experiments.WithLabelValues(kind, status).Inc()
	if ok := points - failed; ok > 0 {
		m.experimentPoints.WithLabelValues(kind, "ok").Add(float64(ok))
	}
	if failed > 0 {
		m.experimentPoints.WithLabelValues(kind, "failed").Add(float64(failed))
	}
}

// RecordError counts an error by class and, when set, by code.
func (m *Metrics) RecordError(class, code string) {
	if !m.Enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// RecordPolicyViolation counts an operating envelope violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if !m.Enabled() {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Handler serves the registry in the OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer listens on the configured address and serves metrics
// until ctx is done. Listen errors are returned; the bound address is
// returned so ":0" can be used. Disabled metrics return "".
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) (string, error) {
	if !m.Enabled() {
		return "", nil
	}
	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return "", err
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return ln.Addr().String(), nil
}

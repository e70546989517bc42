package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/policy"
	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/pvt"
	"github.com/openfroyo/procsim/pkg/thermo"
	"github.com/openfroyo/procsim/pkg/thermo/cubic"
)

func newTestTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	cfg := CLIConfig("debug", "127.0.0.1:0")
	cfg.Logging.Output = "discard"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

func gas(t *testing.T) thermo.Fluid {
	t.Helper()
	f, err := thermo.NewFluidAt(cubic.NewEngine(), thermo.ModelPR,
		thermo.Value{V: 300, Unit: "K"}, thermo.Value{V: 100, Unit: "bara"})
	if err != nil {
		t.Fatalf("NewFluidAt() error = %v", err)
	}
	if err := f.AddComponent("methane", 0.9, "mol"); err != nil {
		t.Fatal(err)
	}
	if err := f.AddComponent("ethane", 0.1, "mol"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetTotalFlowRate(100, "mol/s"); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"cli", func(c *Config) { *c = *CLIConfig("warn", "") }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, true},
		{"no service", func(c *Config) { c.ServiceName = "" }, true},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Exporter = "otlp" }, true},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, true},
		{"metrics without address", func(c *Config) { c.Metrics.ListenAddress = "" }, true},
		{"fatal level", func(c *Config) { c.Logging.Level = "fatal" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigWithTracing(t *testing.T) {
	if cfg := CLIConfig("info", "").WithTracing("", ""); cfg.Tracing.Enabled {
		t.Error("tracing enabled without exporter")
	}
	if cfg := CLIConfig("info", "").WithTracing("none", ""); cfg.Tracing.Enabled {
		t.Error("tracing enabled for exporter none")
	}
	cfg := CLIConfig("info", "").WithTracing("", "collector:4317")
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "otlp" || cfg.Tracing.Endpoint != "collector:4317" {
		t.Errorf("endpoint only: %+v", cfg.Tracing)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestNewTelemetry_StdoutTracing(t *testing.T) {
	cfg := CLIConfig("info", "").WithTracing("stdout", "")
	cfg.Logging.Output = "discard"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	if !tel.Tracer.Enabled() {
		t.Error("Tracer.Enabled() = false")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestCLIConfig(t *testing.T) {
	cfg := CLIConfig("info", "")
	if cfg.Metrics.Enabled {
		t.Error("metrics enabled without an address")
	}
	if cfg.Tracing.Enabled {
		t.Error("tracing enabled for the CLI")
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Output = %q, want stderr", cfg.Logging.Output)
	}
	if !CLIConfig("info", ":9090").Metrics.Enabled {
		t.Error("metrics disabled with an address")
	}
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "completed"},
		{context.Canceled, "cancelled"},
		{fmt.Errorf("run: %w", context.DeadlineExceeded), "cancelled"},
		{faults.NewUnconvergedError("loop", nil), "unconverged"},
		{faults.NewFlashError("flash", nil), "failed"},
		{errors.New("boom"), "failed"},
	}
	for _, tt := range tests {
		if got := RunStatus(tt.err); got != tt.want {
			t.Errorf("RunStatus(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestInstrumentation_CompletedRun(t *testing.T) {
	tel := newTestTelemetry(t)
	log := &eventLog{}
	tel.Events.Subscribe(log.add, nil)

	p := process.New("let-down", tel.ProcessOptions()...)
	feed, err := process.NewStream(p, "feed", gas(t))
	if err != nil {
		t.Fatal(err)
	}
	valve, err := process.NewValve(p, "valve", feed)
	if err != nil {
		t.Fatal(err)
	}
	if err := valve.SetOutletPressure(50, "bara"); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	m := tel.Metrics
	if got := testutil.ToFloat64(m.runsStarted.WithLabelValues("let-down")); got != 1 {
		t.Errorf("runs started = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runsCompleted.WithLabelValues("let-down", "completed")); got != 1 {
		t.Errorf("runs completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.unitEvaluations.WithLabelValues("valve", "ok")); got != 1 {
		t.Errorf("valve evaluations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeRuns); got != 0 {
		t.Errorf("active runs = %v, want 0", got)
	}
	if testutil.CollectAndCount(m.flashes) == 0 {
		t.Error("no flashes recorded through the dispatcher")
	}

	want := []string{EventTypeRunStarted, EventTypeRunCompleted}
	if got := log.types(); !equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestInstrumentation_UnconvergedRun(t *testing.T) {
	tel := newTestTelemetry(t)
	log := &eventLog{}
	tel.Events.Subscribe(log.add, nil)

	p := process.New("loop", tel.ProcessOptions()...)
	feed, _ := process.NewStream(p, "feed", gas(t))
	mix, _ := process.NewMixer(p, "mixer", feed)
	split, _ := process.NewSplitter(p, "split", mix.Outlet(), []float64{0.5, 0.5})
	rec, _ := process.NewRecycle(p, "recycle", split.Outlet(1))
	if err := mix.AddInlet(rec.Outlet()); err != nil {
		t.Fatal(err)
	}
	if err := rec.SetMaxIterations(2); err != nil {
		t.Fatal(err)
	}

	err := p.Run(context.Background())
	if !faults.IsUnconverged(err) {
		t.Fatalf("Run() error = %v, want unconverged", err)
	}

	m := tel.Metrics
	if got := testutil.ToFloat64(m.runsCompleted.WithLabelValues("loop", "unconverged")); got != 1 {
		t.Errorf("unconverged runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues(string(faults.ClassUnconverged))); got != 1 {
		t.Errorf("unconverged errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.recycleIterations.WithLabelValues("loop", "recycle")); got != 2 {
		t.Errorf("recycle iterations = %v, want 2", got)
	}

	want := []string{EventTypeRunStarted, EventTypeRecycleUnconverged, EventTypeRunFailed}
	if got := log.types(); !equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestInstrumentation_ExperimentFinished(t *testing.T) {
	tel := newTestTelemetry(t)
	inst := tel.Instrumentation()

	res := &pvt.Result{
		ID:     "exp-1",
		Kind:   pvt.KindCME,
		Points: []float64{100, 50, 10},
		Errors: []pvt.PointError{{Index: 2, Message: "no convergence"}},
	}
	inst.ExperimentFinished(res, nil)
	inst.ExperimentFinished(nil, errors.New("bad fluid"))

	m := tel.Metrics
	kind := pvt.KindCME.String()
	if got := testutil.ToFloat64(m.experiments.WithLabelValues(kind, "ok")); got != 1 {
		t.Errorf("experiments = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.experimentPoints.WithLabelValues(kind, "ok")); got != 2 {
		t.Errorf("ok points = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.experimentPoints.WithLabelValues(kind, "failed")); got != 1 {
		t.Errorf("failed points = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.experiments.WithLabelValues("unknown", "error")); got != 1 {
		t.Errorf("failed experiments = %v, want 1", got)
	}
}

func TestRecordPolicyResult(t *testing.T) {
	tel := newTestTelemetry(t)
	log := &eventLog{}
	tel.Events.Subscribe(log.add, FilterByType(EventTypePolicyViolation))

	tel.RecordPolicyResult("run-1", &policy.Result{
		Violations: []policy.Violation{
			{Policy: "pressure_envelope", Unit: "valve", Message: "above limit", Severity: policy.SeverityError},
			{Policy: "physical_bounds", Stream: "feed", Message: "negative flow", Severity: policy.SeverityCritical},
		},
		Warnings: []string{"site.custom: undefined ref"},
	})
	tel.RecordPolicyResult("run-2", nil)

	m := tel.Metrics
	if got := testutil.ToFloat64(m.policyViolations.WithLabelValues("pressure_envelope", "error")); got != 1 {
		t.Errorf("pressure violations = %v, want 1", got)
	}
	if n := len(log.types()); n != 2 {
		t.Fatalf("got %d violation events, want 2", n)
	}
	if log.events[1].Unit != "feed" {
		t.Errorf("subject = %q, want the stream name", log.events[1].Unit)
	}
	if log.events[0].Level != EventLevelError {
		t.Errorf("level = %q, want error", log.events[0].Level)
	}
}

func TestRecordFault(t *testing.T) {
	tel := newTestTelemetry(t)
	tel.RecordFault(nil)
	tel.RecordFault(faults.NewConfigurationError("bad ratio", nil).WithCode(faults.ErrCodeInvalidParameter))
	tel.RecordFault(context.Canceled)

	m := tel.Metrics
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues(string(faults.ClassConfiguration))); got != 1 {
		t.Errorf("configuration errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues(faults.ErrCodeInvalidParameter)); got != 1 {
		t.Errorf("invalid parameter errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("cancelled")); got != 1 {
		t.Errorf("cancelled = %v, want 1", got)
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if m.Enabled() {
		t.Error("Enabled() = true")
	}
	// No-ops must not panic.
	m.RecordRunStarted("p")
	m.RecordRunCompleted("p", "completed", time.Second, 1)
	m.RecordFlash("TP", "ok", time.Millisecond)
	m.SetRecycleState("p", "r", 1, 0.1)

	addr, err := m.StartMetricsServer(context.Background(), nil)
	if err != nil || addr != "" {
		t.Errorf("StartMetricsServer() = %q, %v", addr, err)
	}
}

func TestMetrics_SetRecycleStateSkipsNegativeResidual(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatal(err)
	}
	m.SetRecycleState("p", "r", 1, -1)
	if n := testutil.CollectAndCount(m.recycleResidual); n != 0 {
		t.Errorf("residual series = %d, want 0", n)
	}
	m.SetRecycleState("p", "r", 2, 0.25)
	if got := testutil.ToFloat64(m.recycleResidual.WithLabelValues("p", "r")); got != 0.25 {
		t.Errorf("residual = %v, want 0.25", got)
	}
}

func TestStartMetricsServer(t *testing.T) {
	tel := newTestTelemetry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := tel.StartMetricsServer(ctx)
	if err != nil {
		t.Fatalf("StartMetricsServer() error = %v", err)
	}
	tel.Metrics.RecordRunStarted("served")

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `procsim_runs_started_total{process="served"} 1`) {
		t.Errorf("metrics body missing run counter:\n%s", body)
	}
}

func TestEventPublisher_AsyncDrainOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    16,
		FlushInterval: time.Hour,
		MaxBatchSize:  100,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatal(err)
	}
	log := &eventLog{}
	ep.Subscribe(log.add, nil)

	for i := 0; i < 5; i++ {
		if err := ep.PublishRunStarted(fmt.Sprintf("run-%d", i), "p", 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(log.types()); n != 5 {
		t.Fatalf("delivered %d events, want 5", n)
	}
	for i, ev := range log.events {
		if want := fmt.Sprintf("run-%d", i); ev.RunID != want {
			t.Errorf("event %d run = %q, want %q", i, ev.RunID, want)
		}
	}
}

func TestEventFilters(t *testing.T) {
	ev := Event{Type: EventTypeUnitFailed, Level: EventLevelError, RunID: "r1", Process: "p1"}
	if !FilterByLevel(EventLevelWarning)(ev) {
		t.Error("error event filtered by warning level")
	}
	if FilterByType(EventTypeRunStarted)(ev) {
		t.Error("type filter let unit.failed through")
	}
	if !FilterByRunID("r1")(ev) || FilterByRunID("r2")(ev) {
		t.Error("run filter mismatch")
	}
	if !FilterByProcess("p1")(ev) {
		t.Error("process filter mismatch")
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package telemetry

import (
	"context"
	"errors"

	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/pvt"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// Telemetry bundles the logger, tracer, metrics and event publisher of one
// procsim instance together with the hooks that feed them.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config

	inst       *Instrumentation
	dispatcher *thermo.Dispatcher
}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	t := &Telemetry{Logger: logger, Tracer: tracer, Metrics: metrics, Events: events, Config: cfg}
	t.inst = NewInstrumentation(t)
	t.dispatcher = thermo.NewDispatcher(
		thermo.WithDispatchLogger(logger.NewComponentLogger("flash").Zerolog()),
		thermo.WithFlashObserver(t.inst),
	)
	return t, nil
}

// Instrumentation returns the hooks that report to t.
func (t *Telemetry) Instrumentation() *Instrumentation {
	return t.inst
}

// Dispatcher returns a flash dispatcher whose calls are counted and timed.
func (t *Telemetry) Dispatcher() *thermo.Dispatcher {
	return t.dispatcher
}

// ProcessOptions instruments a process: logs, spans, flash metrics and run
// recording.
func (t *Telemetry) ProcessOptions() []process.Option {
	return []process.Option{
		process.WithLogger(t.Logger.NewComponentLogger("process").Zerolog()),
		process.WithTracer(t.Tracer.Tracer()),
		process.WithDispatcher(t.dispatcher),
		process.WithRecorder(t.inst),
	}
}

// PVTOptions instruments a PVT runner the same way.
func (t *Telemetry) PVTOptions() []pvt.Option {
	return []pvt.Option{
		pvt.WithLogger(t.Logger.NewComponentLogger("pvt").Zerolog()),
		pvt.WithTracer(t.Tracer.Tracer()),
		pvt.WithDispatcher(t.dispatcher),
		pvt.WithObserver(t.inst),
	}
}

// StartMetricsServer serves metrics until ctx is done and returns the bound
// address, empty when metrics are disabled.
func (t *Telemetry) StartMetricsServer(ctx context.Context) (string, error) {
	return t.Metrics.StartMetricsServer(ctx, t.Logger)
}

// Shutdown drains pending events and exports pending spans. The metrics
// server stops with the context given to StartMetricsServer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

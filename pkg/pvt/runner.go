package pvt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

const tracerName = "github.com/openfroyo/procsim/pkg/pvt"

// standardMolarVolume is the ideal-gas molar volume at standard
// conditions in m3/mol.
var standardMolarVolume = thermo.GasConstant * thermo.StandardTemperature / (thermo.StandardPressure * 1e5)

// Conditions are the sweep points of an experiment. Temperatures, when
// given, must match Pressures in length; otherwise Temperature applies to
// every point. Empty units mean bara and K.
type Conditions struct {
	Pressures       []float64 `json:"pressures" yaml:"pressures"`
	PressureUnit    string    `json:"pressure_unit,omitempty" yaml:"pressure_unit,omitempty"`
	Temperatures    []float64 `json:"temperatures,omitempty" yaml:"temperatures,omitempty"`
	Temperature     float64   `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TemperatureUnit string    `json:"temperature_unit,omitempty" yaml:"temperature_unit,omitempty"`
}

// AtTemperature returns isothermal conditions in bara and K.
func AtTemperature(t float64, pressures ...float64) Conditions {
	return Conditions{Pressures: pressures, Temperature: t}
}

// canonical is a validated Conditions in bara and K.
type canonical struct {
	pressures    []float64
	temperatures []float64
}

func (c canonical) temperature(i int) float64 {
	return c.temperatures[i]
}

func invalid(format string, args ...interface{}) error {
	return faults.NewConfigurationError(fmt.Sprintf(format, args...), nil).
		WithCode(faults.ErrCodeInvalidParameter)
}

func (c Conditions) canonical() (canonical, error) {
	if len(c.Pressures) == 0 {
		return canonical{}, invalid("no pressure points")
	}
	if len(c.Temperatures) > 0 && len(c.Temperatures) != len(c.Pressures) {
		return canonical{}, invalid("%d temperatures for %d pressures", len(c.Temperatures), len(c.Pressures))
	}
	out := canonical{
		pressures:    make([]float64, len(c.Pressures)),
		temperatures: make([]float64, len(c.Pressures)),
	}
	for i, p := range c.Pressures {
		v, err := thermo.ToCanonical(thermo.QuantityPressure, p, c.PressureUnit)
		if err != nil {
			return canonical{}, err
		}
		if v <= 0 || math.IsNaN(v) {
			return canonical{}, invalid("pressure point %d is not positive: %g", i, p)
		}
		out.pressures[i] = v

		t := c.Temperature
		if len(c.Temperatures) > 0 {
			t = c.Temperatures[i]
		}
		v, err = thermo.ToCanonical(thermo.QuantityTemperature, t, c.TemperatureUnit)
		if err != nil {
			return canonical{}, err
		}
		if v <= 0 || math.IsNaN(v) {
			return canonical{}, invalid("temperature at point %d is not positive: %g", i, t)
		}
		out.temperatures[i] = v
	}
	return out, nil
}

// descending rejects pressure sequences that do not strictly decrease.
func (c canonical) descending(kind Kind) error {
	for i := 1; i < len(c.pressures); i++ {
		if c.pressures[i] >= c.pressures[i-1] {
			return invalid("%s needs strictly decreasing pressures, point %d is %g after %g",
				kind, i, c.pressures[i], c.pressures[i-1])
		}
	}
	return nil
}

// Stage is one separator stage in bara and K.
type Stage struct {
	Pressure    float64 `json:"pressure" yaml:"pressure" validate:"gt=0"`
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gt=0"`
}

// Experiment describes one experiment for Run and RunBatch.
type Experiment struct {
	Name       string
	Kind       Kind
	Fluid      thermo.Fluid
	Conditions Conditions

	// Stages are the separator stages of a separator test; the stock tank
	// stage is appended when missing.
	Stages []Stage
	// InjectionGas and GasFractions drive a swelling test, which runs at
	// Conditions.Temperature.
	InjectionGas thermo.Fluid
	GasFractions []float64
	// Temperatures of a saturation pressure sweep, in Conditions.TemperatureUnit.
	Temperatures []float64
}

// owned returns a copy of e holding clones of its fluids.
func (e Experiment) owned() (Experiment, error) {
	if e.Fluid == nil {
		return e, invalid("experiment %q has no fluid", e.Name)
	}
	e.Fluid = e.Fluid.Clone()
	if e.InjectionGas != nil {
		e.InjectionGas = e.InjectionGas.Clone()
	}
	return e, nil
}

// Observer is notified when an experiment finishes.
type Observer interface {
	ExperimentFinished(res *Result, err error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithDispatcher sets the flash dispatcher.
func WithDispatcher(d *thermo.Dispatcher) Option {
	return func(r *Runner) {
		if d != nil {
			r.dispatcher = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithTracer sets the tracer used for experiment spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithWorkers bounds the number of experiments RunBatch runs at once.
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// Runner executes PVT experiments.
type Runner struct {
	dispatcher *thermo.Dispatcher
	logger     zerolog.Logger
	tracer     trace.Tracer
	workers    int
	observers  []Observer
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		dispatcher: thermo.DefaultDispatcher(),
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = runtime.GOMAXPROCS(0)
	}
	return r
}

// Run executes one experiment on clones of its fluids.
func (r *Runner) Run(ctx context.Context, exp Experiment) (*Result, error) {
	owned, err := exp.owned()
	if err != nil {
		return nil, err
	}
	return r.run(ctx, owned)
}

// RunBatch runs experiments concurrently. Fluids are cloned before any
// experiment starts, so several experiments may share one input fluid.
// Results are aligned with exps; an experiment that could not run leaves a
// nil entry and contributes to the joined error.
func (r *Runner) RunBatch(ctx context.Context, exps []Experiment) ([]*Result, error) {
	results := make([]*Result, len(exps))
	errs := make([]error, len(exps))
	owned := make([]Experiment, len(exps))

	queue := make(chan int, len(exps))
	for i, exp := range exps {
		o, err := exp.owned()
		if err != nil {
			errs[i] = err
			continue
		}
		owned[i] = o
		queue <- i
	}
	close(queue)

	workers := r.workers
	if len(exps) < workers {
		workers = len(exps)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				results[i], errs[i] = r.run(ctx, owned[i])
			}
		}()
	}
	wg.Wait()

	var joined []error
	for i, err := range errs {
		if err != nil {
			joined = append(joined, fmt.Errorf("experiment %d (%s): %w", i, exps[i].Name, err))
		}
	}
	return results, errors.Join(joined...)
}

// run dispatches an experiment whose fluids the caller owns.
func (r *Runner) run(ctx context.Context, exp Experiment) (res *Result, err error) {
	ctx, span := r.tracer.Start(ctx, "pvt."+exp.Kind.String(), trace.WithAttributes(
		attribute.String("pvt.experiment", exp.Name),
		attribute.String("pvt.kind", exp.Kind.String()),
	))
	defer span.End()

	start := time.Now()
	r.logger.Info().Str("experiment", exp.Name).Str("kind", exp.Kind.String()).Msg("Starting PVT experiment")

	defer func() {
		if res != nil {
			res.Name = exp.Name
			res.Elapsed = time.Since(start)
			span.SetAttributes(attribute.Int("pvt.points", len(res.Points)), attribute.Int("pvt.failed", res.Failed()))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Error().Err(err).Str("experiment", exp.Name).Msg("PVT experiment failed")
		} else {
			span.SetStatus(codes.Ok, "")
			r.logger.Info().
				Str("experiment", exp.Name).
				Int("points", len(res.Points)).
				Int("failed", res.Failed()).
				Dur("elapsed", time.Since(start)).
				Msg("PVT experiment completed")
		}
		for _, o := range r.observers {
			o.ExperimentFinished(res, err)
		}
	}()

	if exp.Kind == KindSaturationPressure {
		return r.saturationSweep(ctx, exp.Fluid, exp.Temperatures, exp.Conditions.TemperatureUnit)
	}
	if exp.Kind == KindSwelling {
		t, err := thermo.ToCanonical(thermo.QuantityTemperature, exp.Conditions.Temperature, exp.Conditions.TemperatureUnit)
		if err != nil {
			return nil, err
		}
		return r.swelling(ctx, exp.Fluid, exp.InjectionGas, t, exp.GasFractions)
	}
	if exp.Kind == KindSeparatorTest {
		t, err := thermo.ToCanonical(thermo.QuantityTemperature, exp.Conditions.Temperature, exp.Conditions.TemperatureUnit)
		if err != nil {
			return nil, err
		}
		return r.separatorTest(ctx, exp.Fluid, t, exp.Stages)
	}

	cond, err := exp.Conditions.canonical()
	if err != nil {
		return nil, err
	}
	switch exp.Kind {
	case KindCME:
		return r.cme(ctx, exp.Fluid, cond)
	case KindCVD:
		return r.cvd(ctx, exp.Fluid, cond)
	case KindDifferentialLiberation:
		return r.differentialLiberation(ctx, exp.Fluid, cond)
	case KindViscosity:
		return r.viscosity(ctx, exp.Fluid, cond)
	case KindGOR:
		return r.gor(ctx, exp.Fluid, cond)
	}
	return nil, invalid("unknown experiment kind %d", int(exp.Kind))
}

func (r *Runner) tp(ctx context.Context, f thermo.Fluid, t, p float64) error {
	return r.dispatcher.Flash(ctx, f, thermo.TP(t, "K", p, "bara"))
}

// saturation returns the saturation pressure and molar volume of f at t,
// evaluated on a clone.
func (r *Runner) saturation(ctx context.Context, f thermo.Fluid, t float64) (p, v float64, err error) {
	trial := f.Clone()
	if err := r.dispatcher.Flash(ctx, trial, thermo.SaturationPressureAt(t, "K")); err != nil {
		return math.NaN(), math.NaN(), err
	}
	v, err = trial.Property(thermo.PropMolarVolume, "m3/mol")
	if err != nil {
		return math.NaN(), math.NaN(), err
	}
	return trial.Pressure(), v, nil
}

// phaseValue reads a phase property, returning NaN when the phase is absent.
func phaseValue(f thermo.Fluid, tag thermo.PhaseTag, p thermo.Property, unit string) float64 {
	if !f.HasPhase(tag) {
		return math.NaN()
	}
	v, err := f.PhaseProperty(tag, p, unit)
	if err != nil {
		return math.NaN()
	}
	return v
}

// phaseFraction returns the mole fraction of a phase, zero when absent.
func phaseFraction(f thermo.Fluid, tag thermo.PhaseTag) float64 {
	v := phaseValue(f, tag, thermo.PropMoleFraction, "")
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// gasGravity is the gas molar mass relative to air.
func gasGravity(f thermo.Fluid) float64 {
	return phaseValue(f, thermo.PhaseGas, thermo.PropMolarMass, "kg/mol") / thermo.AirMolarMass
}

// keepPhase replaces the bulk composition of f with that of a phase.
func keepPhase(f thermo.Fluid, tag thermo.PhaseTag) error {
	x, err := f.PhaseComposition(tag)
	if err != nil {
		return err
	}
	return f.SetComposition(x)
}

package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

const tracerName = "github.com/openfroyo/procsim/pkg/process"

// Option configures a Process.
type Option func(*Process)

// WithLogger sets the logger. The zero logger discards output.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Process) { p.logger = l }
}

// WithDispatcher sets the flash dispatcher handed to every registered unit.
func WithDispatcher(d *thermo.Dispatcher) Option {
	return func(p *Process) {
		if d != nil {
			p.dispatcher = d
		}
	}
}

// WithTracer sets the tracer used for run and pass spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Process) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithRecorder adds a recorder notified of run progress.
func WithRecorder(r RunRecorder) Option {
	return func(p *Process) {
		if r != nil {
			p.recorders = append(p.recorders, r)
		}
	}
}

// WithOrdering selects how units are ordered within a pass.
func WithOrdering(m OrderMode) Option {
	return func(p *Process) { p.ordering = m }
}

// WithMaxPasses overrides the global pass cap, which otherwise is the
// largest iteration cap of the registered recycles.
func WithMaxPasses(n int) Option {
	return func(p *Process) { p.maxPasses = n }
}

// Process is an ordered collection of units evaluated to steady state.
type Process struct {
	name       string
	logger     zerolog.Logger
	dispatcher *thermo.Dispatcher
	tracer     trace.Tracer
	recorders  []RunRecorder
	ordering   OrderMode
	maxPasses  int

	mu    sync.RWMutex
	units []Unit
	index map[string]Unit

	// runMu serializes runs of the same process.
	runMu   sync.Mutex
	lastMu  sync.RWMutex
	lastRun RunInfo
}

// New creates an empty process.
func New(name string, opts ...Option) *Process {
	p := &Process{
		name:       name,
		logger:     zerolog.Nop(),
		dispatcher: thermo.DefaultDispatcher(),
		tracer:     otel.Tracer(tracerName),
		index:      make(map[string]Unit),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// Dispatcher returns the flash dispatcher used by the units.
func (p *Process) Dispatcher() *thermo.Dispatcher { return p.dispatcher }

// Ordering returns the ordering mode.
func (p *Process) Ordering() OrderMode { return p.ordering }

type managed interface {
	setDispatcher(d *thermo.Dispatcher)
	setState(s NodeState)
}

// Add registers a unit built outside this process, such as a user-defined
// unit or a unit from a detached batch.
func (p *Process) Add(u Unit) error {
	return p.register(u)
}

func (p *Process) register(u Unit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkName(u); err != nil {
		return err
	}
	p.admit(u)
	return nil
}

// checkName requires p.mu.
func (p *Process) checkName(u Unit) error {
	if u == nil {
		return faults.NewConfigurationError("cannot register a nil unit", nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	if _, exists := p.index[u.Name()]; exists {
		return faults.NewConfigurationError(fmt.Sprintf("duplicate unit name %q", u.Name()), nil).
			WithCode(faults.ErrCodeDuplicateName).
			WithUnit(u.Name())
	}
	return nil
}

// admit requires p.mu.
func (p *Process) admit(u Unit) {
	if m, ok := u.(managed); ok {
		m.setDispatcher(p.dispatcher)
		m.setState(StateRegistered)
	}
	p.units = append(p.units, u)
	p.index[u.Name()] = u
}

// attach registers all units or none.
func (p *Process) attach(units []Unit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		if err := p.checkName(u); err != nil {
			return err
		}
		if _, dup := seen[u.Name()]; dup {
			return faults.NewConfigurationError(fmt.Sprintf("duplicate unit name %q", u.Name()), nil).
				WithCode(faults.ErrCodeDuplicateName).
				WithUnit(u.Name())
		}
		seen[u.Name()] = struct{}{}
	}
	for _, u := range units {
		p.admit(u)
	}
	return nil
}

// Clear removes every unit.
func (p *Process) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.units {
		if m, ok := u.(managed); ok {
			m.setState(StateUnbuilt)
		}
	}
	p.units = nil
	p.index = make(map[string]Unit)
}

// Unit looks a unit up by name.
func (p *Process) Unit(name string) (Unit, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.index[name]
	return u, ok
}

// Units returns the units in registration order.
func (p *Process) Units() []Unit {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Unit(nil), p.units...)
}

// Recycles returns the registered recycles in registration order.
func (p *Process) Recycles() []*Recycle {
	var out []*Recycle
	for _, u := range p.Units() {
		if r, ok := u.(*Recycle); ok {
			out = append(out, r)
		}
	}
	return out
}

// Validate checks the stream connections against the ordering mode.
func (p *Process) Validate() error {
	_, err := p.Order()
	return err
}

// Order returns the unit names in evaluation order.
func (p *Process) Order() ([]string, error) {
	units, err := newGraphBuilder(p.Units()).order(p.ordering)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name()
	}
	return names, nil
}

// DOT renders the flowsheet graph in Graphviz format.
func (p *Process) DOT() (string, error) {
	b := newGraphBuilder(p.Units())
	if _, err := b.order(p.ordering); err != nil {
		return "", err
	}
	return b.toDOT(p.name), nil
}

// LastRun returns the summary of the most recent run.
func (p *Process) LastRun() RunInfo {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.lastRun
}

// Run evaluates every unit once per pass until all recycles converge in the
// same pass. Without recycles a single pass is made. A unit error stops the
// run; exceeding the pass cap returns an unconverged recycle error and
// leaves the last iterate in place.
func (p *Process) Run(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	order, err := newGraphBuilder(p.Units()).order(p.ordering)
	if err != nil {
		return err
	}
	var recycles []*Recycle
	for _, u := range order {
		if r, ok := u.(*Recycle); ok {
			r.Reset()
			recycles = append(recycles, r)
		}
	}

	info := RunInfo{
		ID:       uuid.New().String(),
		Process:  p.name,
		Started:  time.Now(),
		Units:    len(order),
		Recycles: len(recycles),
	}
	log := p.logger.With().Str("process", p.name).Str("run_id", info.ID).Logger()

	ctx, span := p.tracer.Start(ctx, "process.run", trace.WithAttributes(
		attribute.String("process.name", p.name),
		attribute.String("run.id", info.ID),
		attribute.Int("process.units", len(order)),
		attribute.Int("process.recycles", len(recycles)),
	))
	defer span.End()

	for _, r := range p.recorders {
		r.RunStarted(ctx, info)
	}
	log.Info().Int("units", len(order)).Int("recycles", len(recycles)).Msg("Starting process run")

	err = p.iterate(ctx, log, &info, order, recycles)

	info.Finished = time.Now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Int("passes", info.Passes).Msg("Process run failed")
	} else {
		span.SetStatus(codes.Ok, "")
		log.Info().Int("passes", info.Passes).Dur("duration", info.Finished.Sub(info.Started)).Msg("Process run completed")
	}
	span.SetAttributes(attribute.Int("run.passes", info.Passes), attribute.Bool("run.converged", info.Converged))

	p.lastMu.Lock()
	p.lastRun = info
	p.lastMu.Unlock()
	for _, r := range p.recorders {
		r.RunFinished(ctx, info, err)
	}
	return err
}

func (p *Process) iterate(ctx context.Context, log zerolog.Logger, info *RunInfo, order []Unit, recycles []*Recycle) error {
	limit := p.passLimit(recycles)
	for pass := 1; pass <= limit; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		info.Passes = pass
		if err := p.runPass(ctx, log, info.ID, pass, order); err != nil {
			return err
		}

		status := recycleStatuses(recycles)
		converged, exhausted := true, false
		for i, st := range status {
			if !st.Converged {
				converged = false
				if recycles[i].Iterations() >= st.MaxIterations {
					exhausted = true
				}
			}
		}
		info.Converged = converged
		for _, r := range p.recorders {
			r.PassCompleted(ctx, PassEvent{RunID: info.ID, Pass: pass, Recycles: status, Converged: converged})
		}
		if len(recycles) > 0 {
			log.Debug().Int("pass", pass).Bool("converged", converged).Msg("Pass completed")
		}
		if converged {
			return nil
		}
		if exhausted {
			break
		}
	}
	return unconverged(info.Passes, recycleStatuses(recycles))
}

func (p *Process) passLimit(recycles []*Recycle) int {
	if p.maxPasses > 0 {
		return p.maxPasses
	}
	limit := 1
	for _, r := range recycles {
		if n := r.MaxIterations(); n > limit {
			limit = n
		}
	}
	return limit
}

func (p *Process) runPass(ctx context.Context, log zerolog.Logger, runID string, pass int, order []Unit) error {
	ctx, span := p.tracer.Start(ctx, "process.pass", trace.WithAttributes(attribute.Int("pass", pass)))
	defer span.End()

	for _, u := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := u.Run(ctx)
		elapsed := time.Since(start)
		for _, r := range p.recorders {
			r.UnitEvaluated(ctx, UnitEvent{RunID: runID, Pass: pass, Unit: u.Name(), Type: TypeOf(u), Elapsed: elapsed, Err: err})
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if _, ok := u.(managed); !ok {
				err = fmt.Errorf("unit %s: %w", u.Name(), err)
			}
			return err
		}
		log.Trace().Str("unit", u.Name()).Int("pass", pass).Dur("elapsed", elapsed).Msg("Unit evaluated")
	}
	return nil
}

func recycleStatuses(recycles []*Recycle) []RecycleStatus {
	out := make([]RecycleStatus, len(recycles))
	for i, r := range recycles {
		out[i] = RecycleStatus{
			Name:          r.Name(),
			Iterations:    r.Iterations(),
			Residual:      r.Residual(),
			Tolerance:     r.Tolerance(),
			MaxIterations: r.MaxIterations(),
			Converged:     r.Converged(),
		}
	}
	return out
}

func unconverged(passes int, status []RecycleStatus) error {
	var names []string
	for _, st := range status {
		if !st.Converged {
			names = append(names, st.Name)
		}
	}
	return faults.NewUnconvergedError(
		fmt.Sprintf("recycles %v did not converge within %d passes", names, passes), nil,
	).WithOperation("run").
		WithDetail("passes", passes).
		WithDetail("recycles", status)
}

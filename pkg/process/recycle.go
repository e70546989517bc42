package process

import (
	"context"
	"math"
	"sync"

	"github.com/openfroyo/procsim/pkg/thermo"
)

const (
	DefaultRecycleTolerance     = 1e-6
	DefaultRecycleMaxIterations = 50
)

// Acceleration selects how a recycle updates its tear snapshot.
type Acceleration int

const (
	// AccelerationNone is direct substitution.
	AccelerationNone Acceleration = iota
	// AccelerationWegstein applies a bounded Wegstein step to component flows.
	AccelerationWegstein
)

// String returns the configuration name.
func (a Acceleration) String() string {
	if a == AccelerationWegstein {
		return "wegstein"
	}
	return "none"
}

// ParseAcceleration maps a configuration name to an Acceleration.
func ParseAcceleration(name string) (Acceleration, error) {
	switch name {
	case "", "none", "direct":
		return AccelerationNone, nil
	case "wegstein":
		return AccelerationWegstein, nil
	}
	return AccelerationNone, invalidParameter("", "unknown recycle acceleration %q", name)
}

const (
	wegsteinMinQ  = -5.0
	wegsteinStart = 3
)

// Recycle is the tear point of a feedback loop. Each evaluation combines its
// inlets into a new snapshot, compares it with the snapshot downstream units
// read during the pass, and publishes it on the outlet. It never flashes.
type Recycle struct {
	base
	inletsMu sync.RWMutex
	inlets   []*Stream
	outlet   *Stream

	settingsMu sync.RWMutex
	tolerance  float64
	maxIter    int
	accel      Acceleration
	guess      thermo.Fluid

	stateMu    sync.RWMutex
	iterations int
	residual   float64
	converged  bool
	history    []float64
	prevX      []float64 // component flows published last time
	prevG      []float64 // component flows computed last time
}

// NewRecycle registers a recycle. Inlets may also be added later, typically
// once the loop's last unit exists.
func NewRecycle(reg Registrar, name string, inlets ...*Stream) (*Recycle, error) {
	r := &Recycle{
		tolerance: DefaultRecycleTolerance,
		maxIter:   DefaultRecycleMaxIterations,
		residual:  math.Inf(1),
	}
	if err := r.init(name, TypeRecycle); err != nil {
		return nil, err
	}
	r.outlet = newPort(name, "out")
	for _, in := range inlets {
		if err := r.AddInlet(in); err != nil {
			return nil, err
		}
	}
	if err := register(reg, r); err != nil {
		return nil, err
	}
	return r, nil
}

// AddInlet connects another inlet stream.
func (r *Recycle) AddInlet(in *Stream) error {
	if in == nil {
		return missingInlet(r.name)
	}
	r.inletsMu.Lock()
	r.inlets = append(r.inlets, in)
	r.inletsMu.Unlock()
	return nil
}

// SetTolerance sets the convergence tolerance on the snapshot residual.
func (r *Recycle) SetTolerance(tol float64) error {
	if tol <= 0 || math.IsNaN(tol) {
		return invalidParameter(r.name, "tolerance must be positive, got %g", tol)
	}
	r.settingsMu.Lock()
	r.tolerance = tol
	r.settingsMu.Unlock()
	return nil
}

// Tolerance returns the convergence tolerance.
func (r *Recycle) Tolerance() float64 {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.tolerance
}

// SetMaxIterations sets the iteration cap of this binding.
func (r *Recycle) SetMaxIterations(n int) error {
	if n < 1 {
		return invalidParameter(r.name, "iteration cap must be at least 1, got %d", n)
	}
	r.settingsMu.Lock()
	r.maxIter = n
	r.settingsMu.Unlock()
	return nil
}

// MaxIterations returns the iteration cap.
func (r *Recycle) MaxIterations() int {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.maxIter
}

// SetAcceleration selects the update strategy.
func (r *Recycle) SetAcceleration(a Acceleration) {
	r.settingsMu.Lock()
	r.accel = a
	r.settingsMu.Unlock()
}

// Acceleration returns the update strategy.
func (r *Recycle) Acceleration() Acceleration {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.accel
}

// SetInitialGuess publishes f on the outlet before the first pass. The
// recycle keeps a clone.
func (r *Recycle) SetInitialGuess(f thermo.Fluid) {
	var g thermo.Fluid
	if f != nil {
		g = f.Clone()
	}
	r.settingsMu.Lock()
	r.guess = g
	r.settingsMu.Unlock()
	r.Reset()
}

// Reset clears the iteration state and restores the initial guess, if any.
func (r *Recycle) Reset() {
	r.settingsMu.RLock()
	guess := r.guess
	r.settingsMu.RUnlock()

	r.stateMu.Lock()
	r.iterations = 0
	r.residual = math.Inf(1)
	r.converged = false
	r.history = nil
	r.prevX, r.prevG = nil, nil
	r.stateMu.Unlock()

	if guess != nil {
		r.outlet.SetFluid(guess.Clone())
	} else {
		r.outlet.SetFluid(nil)
	}
}

// Converged reports whether the last evaluation met the tolerance.
func (r *Recycle) Converged() bool {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.converged
}

// Residual returns the residual of the last evaluation, +Inf before the
// second one.
func (r *Recycle) Residual() float64 {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.residual
}

// Iterations returns the number of evaluations since the last Reset.
func (r *Recycle) Iterations() int {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.iterations
}

// History returns the residual of every evaluation since the last Reset.
func (r *Recycle) History() []float64 {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return append([]float64(nil), r.history...)
}

// Run combines the inlets into a new snapshot and publishes it.
func (r *Recycle) Run(ctx context.Context) error {
	return r.finish(r.run(ctx))
}

func (r *Recycle) run(ctx context.Context) error {
	bl, err := r.combine(ctx, r.Inlets(), false)
	if err != nil {
		return err
	}
	computed := bl.fluid
	previous := r.outlet.Fluid()

	r.settingsMu.RLock()
	tol, accel := r.tolerance, r.accel
	r.settingsMu.RUnlock()

	res := snapshotResidual(previous, computed)
	conv := res < tol
	g := componentFlows(computed)

	r.stateMu.Lock()
	r.iterations++
	r.residual = res
	r.converged = conv
	r.history = append(r.history, res)
	publish := computed
	if !conv && accel == AccelerationWegstein && r.iterations >= wegsteinStart && previous != nil {
		if x := componentFlows(previous); len(x) == len(g) && len(r.prevX) == len(g) && len(r.prevG) == len(g) {
			next := wegsteinStep(r.prevX, r.prevG, x, g)
			if f, err := withComponentFlows(computed, next); err == nil {
				publish = f
			}
		}
	}
	if previous != nil {
		r.prevX = componentFlows(previous)
	}
	r.prevG = g
	r.stateMu.Unlock()

	r.outlet.SetFluid(publish)
	return nil
}

// fractionFloor keeps the relative change of trace components finite.
const fractionFloor = 1e-10

// snapshotResidual is the largest relative change in flow, temperature,
// pressure or any mole fraction. Fractions below fractionFloor are compared
// against the floor. A missing previous snapshot never counts as converged.
func snapshotResidual(prev, next thermo.Fluid) float64 {
	if prev == nil || next == nil {
		return math.Inf(1)
	}
	res := relativeChange(prev.TotalFlowRate(), next.TotalFlowRate())
	res = math.Max(res, relativeChange(prev.Temperature(), next.Temperature()))
	res = math.Max(res, relativeChange(prev.Pressure(), next.Pressure()))

	zp := fractionsByName(prev)
	for name, x := range fractionsByName(next) {
		res = math.Max(res, fractionChange(zp[name], x))
		delete(zp, name)
	}
	for _, x := range zp {
		res = math.Max(res, fractionChange(x, 0))
	}
	return res
}

func relativeChange(a, b float64) float64 {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return 0
	}
	return math.Abs(a-b) / scale
}

func fractionChange(a, b float64) float64 {
	scale := math.Max(math.Max(math.Abs(a), math.Abs(b)), fractionFloor)
	return math.Abs(a-b) / scale
}

func fractionsByName(f thermo.Fluid) map[string]float64 {
	names := f.Components()
	z := f.Composition()
	out := make(map[string]float64, len(names))
	for i, n := range names {
		out[n] = z[i]
	}
	return out
}

func componentFlows(f thermo.Fluid) []float64 {
	z := f.Composition()
	q := f.TotalFlowRate()
	out := make([]float64, len(z))
	for i := range z {
		out[i] = z[i] * q
	}
	return out
}

// wegsteinStep returns the accelerated estimate from two successive
// (published, computed) pairs.
func wegsteinStep(x0, g0, x1, g1 []float64) []float64 {
	out := make([]float64, len(x1))
	for i := range x1 {
		out[i] = g1[i]
		dx := x1[i] - x0[i]
		if math.Abs(dx) < 1e-14 {
			continue
		}
		s := (g1[i] - g0[i]) / dx
		if s == 1 {
			continue
		}
		q := s / (s - 1)
		q = math.Max(wegsteinMinQ, math.Min(0, q))
		out[i] = math.Max(0, q*x1[i]+(1-q)*g1[i])
	}
	return out
}

func withComponentFlows(template thermo.Fluid, flows []float64) (thermo.Fluid, error) {
	var total float64
	for _, v := range flows {
		total += v
	}
	out := template.Clone()
	if total <= 0 {
		return out, nil
	}
	z := make([]float64, len(flows))
	for i, v := range flows {
		z[i] = v / total
	}
	if err := out.SetComposition(z); err != nil {
		return nil, err
	}
	if err := out.SetTotalFlowRate(total, "mol/s"); err != nil {
		return nil, err
	}
	return out, nil
}

// Outlet returns the tear stream.
func (r *Recycle) Outlet() *Stream { return r.outlet }

// Inlets returns the connected inlets.
func (r *Recycle) Inlets() []*Stream {
	r.inletsMu.RLock()
	defer r.inletsMu.RUnlock()
	return append([]*Stream(nil), r.inlets...)
}

// Outlets returns the tear stream.
func (r *Recycle) Outlets() []*Stream { return []*Stream{r.outlet} }

// Scalars reports the convergence state.
func (r *Recycle) Scalars() map[string]float64 {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	conv := 0.0
	if r.converged {
		conv = 1
	}
	return map[string]float64{
		"iterations": float64(r.iterations),
		"residual":   r.residual,
		"converged":  conv,
	}
}

package process

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/procsim/pkg/faults"
)

// buildLoop wires feed -> mixer -> valve -> splitter, with fraction 0.1 of
// the splitter returned to the mixer through a recycle.
func buildLoop(t *testing.T, opts ...Option) (*Process, *Recycle, *Splitter) {
	t.Helper()
	p := New("loop", opts...)
	feed, err := NewStream(p, "feed", newFluid(t, 300, 50, 10, part{"methane", 1}))
	require.NoError(t, err)
	mix, err := NewMixer(p, "mixer", feed)
	require.NoError(t, err)
	valve, err := NewValve(p, "valve", mix.Outlet())
	require.NoError(t, err)
	require.NoError(t, valve.SetOutletPressure(45, "bara"))
	split, err := NewSplitter(p, "splitter", valve.Outlet(), []float64{0.9, 0.1})
	require.NoError(t, err)
	rec, err := NewRecycle(p, "recycle", split.Outlet(1))
	require.NoError(t, err)
	require.NoError(t, mix.AddInlet(rec.Outlet()))
	require.NoError(t, rec.SetTolerance(1e-6))
	require.NoError(t, rec.SetMaxIterations(50))
	return p, rec, split
}

// buildNestedLoops wires feed -> mixA -> mixB -> valve -> splitB, with
// 0.2 of splitB returned to mixB through recB, and splitB's product into
// splitA, with 0.25 of splitA returned to mixA through recA.
func buildNestedLoops(t *testing.T) (p *Process, recA, recB *Recycle, product *Stream) {
	t.Helper()
	p = New("nested")
	feed, err := NewStream(p, "feed", newFluid(t, 300, 50, 10, part{"methane", 1}))
	require.NoError(t, err)
	mixA, err := NewMixer(p, "mixA", feed)
	require.NoError(t, err)
	mixB, err := NewMixer(p, "mixB", mixA.Outlet())
	require.NoError(t, err)
	valve, err := NewValve(p, "valve", mixB.Outlet())
	require.NoError(t, err)
	require.NoError(t, valve.SetOutletPressure(45, "bara"))
	splitB, err := NewSplitter(p, "splitB", valve.Outlet(), []float64{0.8, 0.2})
	require.NoError(t, err)
	recB, err = NewRecycle(p, "recB", splitB.Outlet(1))
	require.NoError(t, err)
	require.NoError(t, mixB.AddInlet(recB.Outlet()))
	splitA, err := NewSplitter(p, "splitA", splitB.Outlet(0), []float64{0.75, 0.25})
	require.NoError(t, err)
	recA, err = NewRecycle(p, "recA", splitA.Outlet(1))
	require.NoError(t, err)
	require.NoError(t, mixA.AddInlet(recA.Outlet()))
	for _, r := range []*Recycle{recA, recB} {
		require.NoError(t, r.SetTolerance(1e-6))
		require.NoError(t, r.SetMaxIterations(100))
	}
	return p, recA, recB, splitA.Outlet(0)
}

func TestRecycle_NestedLoopsConvergeTogether(t *testing.T) {
	p, recA, recB, product := buildNestedLoops(t)

	require.NoError(t, p.Run(context.Background()))
	run := p.LastRun()
	assert.True(t, run.Converged)
	assert.Less(t, run.Passes, 100)
	// both bindings are judged in the final pass
	assert.True(t, recA.Converged())
	assert.True(t, recB.Converged())
	assert.Equal(t, run.Passes, recA.Iterations())
	assert.Equal(t, run.Passes, recB.Iterations())

	assert.InDelta(t, 10.0/3.0, mustFlow(t, recA.Outlet()), 1e-4)
	assert.InDelta(t, 10.0/3.0, mustFlow(t, recB.Outlet()), 1e-4)
	assert.InDelta(t, 10.0, mustFlow(t, product), 1e-4)
}

func TestRecycle_NestedLoopsOneCapped(t *testing.T) {
	p, recA, recB, _ := buildNestedLoops(t)
	require.NoError(t, recB.SetMaxIterations(3))

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsUnconverged(err), "got %v", err)
	assert.Contains(t, err.Error(), "recB")
	assert.Equal(t, 3, p.LastRun().Passes)
	assert.False(t, recB.Converged())
	assert.Equal(t, 100, recA.MaxIterations())

	var fe *faults.Error
	require.True(t, errors.As(err, &fe))
	status, ok := fe.Details["recycles"].([]RecycleStatus)
	require.True(t, ok)
	byName := make(map[string]RecycleStatus, len(status))
	for _, st := range status {
		byName[st.Name] = st
	}
	assert.False(t, byName["recB"].Converged)
	assert.Equal(t, 3, byName["recB"].Iterations)
	assert.Equal(t, 3, byName["recB"].MaxIterations)
}

func TestRecycle_ConvergesToFixedPoint(t *testing.T) {
	p, rec, split := buildLoop(t)

	require.NoError(t, p.Run(context.Background()))
	assert.True(t, rec.Converged())
	assert.Less(t, rec.Iterations(), 50)
	assert.InDelta(t, 10.0/9.0, mustFlow(t, rec.Outlet()), 1e-4)
	assert.InDelta(t, 10.0, mustFlow(t, split.Outlet(0)), 1e-4)

	hist := rec.History()
	require.Len(t, hist, rec.Iterations())
	assert.True(t, math.IsInf(hist[0], 1), "first snapshot has nothing to compare with")
	for i := 2; i < len(hist) && hist[i-1] > 1e-5; i++ {
		assert.LessOrEqual(t, hist[i], hist[i-1]*1.0001, "residual grew at iteration %d", i)
	}

	run := p.LastRun()
	assert.True(t, run.Converged)
	assert.Equal(t, rec.Iterations(), run.Passes)
}

func TestRecycle_IterationCapReportsUnconverged(t *testing.T) {
	p, rec, _ := buildLoop(t)
	require.NoError(t, rec.SetMaxIterations(1))

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsUnconverged(err), "got %v", err)
	assert.False(t, rec.Converged())
	// last iterate stays readable
	assert.NotNil(t, rec.Outlet().Fluid())
	assert.False(t, p.LastRun().Converged)
}

func TestRecycle_MaxPassesOverride(t *testing.T) {
	p, _, _ := buildLoop(t, WithMaxPasses(2))
	err := p.Run(context.Background())
	assert.True(t, faults.IsUnconverged(err), "got %v", err)
	assert.Equal(t, 2, p.LastRun().Passes)
}

func TestRecycle_RerunResets(t *testing.T) {
	p, rec, _ := buildLoop(t)
	require.NoError(t, p.Run(context.Background()))
	first := rec.Iterations()
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, first, rec.Iterations())
}

func TestRecycle_Wegstein(t *testing.T) {
	p, rec, _ := buildLoop(t)
	rec.SetAcceleration(AccelerationWegstein)
	require.NoError(t, p.Run(context.Background()))
	assert.True(t, rec.Converged())
	assert.InDelta(t, 10.0/9.0, mustFlow(t, rec.Outlet()), 1e-4)
}

func TestRecycle_InitialGuess(t *testing.T) {
	p, rec, _ := buildLoop(t)
	rec.SetInitialGuess(newFluid(t, 290, 45, 1.1, part{"methane", 1}))
	require.NotNil(t, rec.Outlet().Fluid())
	require.NoError(t, p.Run(context.Background()))
	assert.InDelta(t, 10.0/9.0, mustFlow(t, rec.Outlet()), 1e-4)
}

func TestRecycle_Settings(t *testing.T) {
	p := New("settings")
	rec, err := NewRecycle(p, "r")
	require.NoError(t, err)
	assert.Equal(t, DefaultRecycleTolerance, rec.Tolerance())
	assert.Equal(t, DefaultRecycleMaxIterations, rec.MaxIterations())
	assert.True(t, faults.IsConfiguration(rec.SetTolerance(0)))
	assert.True(t, faults.IsConfiguration(rec.SetMaxIterations(0)))

	a, err := ParseAcceleration("wegstein")
	require.NoError(t, err)
	assert.Equal(t, AccelerationWegstein, a)
	_, err = ParseAcceleration("newton")
	assert.Error(t, err)
}

func TestSnapshotResidual(t *testing.T) {
	a := newFluid(t, 300, 50, 10, part{"methane", 0.9}, part{"ethane", 0.1})
	assert.True(t, math.IsInf(snapshotResidual(nil, a), 1))
	assert.Equal(t, 0.0, snapshotResidual(a, a.Clone()))

	b := a.Clone()
	require.NoError(t, b.SetTotalFlowRate(11, "mol/s"))
	assert.InDelta(t, 1.0/11.0, snapshotResidual(a, b), 1e-12)

	// ethane doubles: 0.1 -> 0.2
	c := newFluid(t, 300, 50, 10, part{"methane", 0.8}, part{"ethane", 0.2})
	assert.InDelta(t, 0.5, snapshotResidual(a, c), 1e-12)

	// a component that appears or vanishes is a full change
	d := newFluid(t, 300, 50, 10, part{"methane", 0.9}, part{"propane", 0.1})
	assert.InDelta(t, 1.0, snapshotResidual(a, d), 1e-12)

	// trace swings count relative to the trace amount
	e := newFluid(t, 300, 50, 10, part{"methane", 0.99999}, part{"ethane", 1e-5})
	g := newFluid(t, 300, 50, 10, part{"methane", 0.99998}, part{"ethane", 2e-5})
	assert.InDelta(t, 0.5, snapshotResidual(e, g), 1e-9)
	assert.Greater(t, snapshotResidual(e, g), 1e-6)

	// below the floor differences vanish
	h := newFluid(t, 300, 50, 10, part{"methane", 1}, part{"ethane", 1e-14})
	m := newFluid(t, 300, 50, 10, part{"methane", 1}, part{"ethane", 3e-14})
	assert.Less(t, snapshotResidual(h, m), 1e-3)
}

func TestWegsteinStep(t *testing.T) {
	// g(x) = 1 + 0.1x has the fixed point 10/9; one Wegstein step from two
	// points of a linear map lands on it.
	g := func(x float64) float64 { return 1 + 0.1*x }
	x0, x1 := 0.0, 1.0
	next := wegsteinStep([]float64{x0}, []float64{g(x0)}, []float64{x1}, []float64{g(x1)})
	assert.InDelta(t, 10.0/9.0, next[0], 1e-12)

	// a diverging slope is bounded by the q clamp
	h := func(x float64) float64 { return 3 * x }
	next = wegsteinStep([]float64{1}, []float64{h(1)}, []float64{2}, []float64{h(2)})
	assert.GreaterOrEqual(t, next[0], 0.0)
}

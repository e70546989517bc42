package cubic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

func mixtureFluid(t *testing.T, m thermo.Model, tk, pbar float64, parts map[string]float64) *Fluid {
	t.Helper()
	f, err := newFluid(m)
	require.NoError(t, err)
	for _, name := range sortedNames(parts) {
		require.NoError(t, f.AddComponent(name, parts[name], "mol"))
	}
	require.NoError(t, f.SetTemperature(tk, "K"))
	require.NoError(t, f.SetPressure(pbar, "bara"))
	return f
}

func sortedNames(parts map[string]float64) []string {
	names := make([]string, 0, len(parts))
	for _, n := range []string{"nitrogen", "CO2", "methane", "ethane", "propane", "n-butane", "n-pentane", "n-hexane", "n-heptane", "n-octane", "water"} {
		if _, ok := parts[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

var richGas = map[string]float64{
	"methane":   0.70,
	"ethane":    0.08,
	"propane":   0.06,
	"n-butane":  0.04,
	"n-pentane": 0.03,
	"n-hexane":  0.04,
	"n-heptane": 0.05,
}

func TestRachfordRice(t *testing.T) {
	z := []float64{0.5, 0.5}
	k := []float64{2, 0.5}
	beta, ok := rachfordRice(z, k)
	require.True(t, ok)
	assert.InDelta(t, 0.5, beta, 1e-12)

	_, ok = rachfordRice(z, []float64{0.5, 0.8})
	assert.False(t, ok)
	beta, ok = rachfordRice(z, []float64{1.5, 3})
	assert.False(t, ok)
	assert.Equal(t, 1.0, beta)
}

func TestCubicRoots(t *testing.T) {
	// (z-1)(z-2)(z-3)
	roots := cubicRoots(-6, 11, -6)
	require.Len(t, roots, 3)
	assert.InDelta(t, 1, roots[0], 1e-9)
	assert.InDelta(t, 2, roots[1], 1e-9)
	assert.InDelta(t, 3, roots[2], 1e-9)
}

func TestSinglePhaseGas(t *testing.T) {
	f := mixtureFluid(t, thermo.ModelPR, 300, 50, map[string]float64{"methane": 1})
	require.NoError(t, f.TPFlash())
	require.NoError(t, f.InitProperties())

	assert.Equal(t, []thermo.PhaseTag{thermo.PhaseGas}, f.Phases())
	assert.False(t, f.HasPhase(thermo.PhaseOil))

	z, err := f.Property(thermo.PropZ, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.92, z, 0.03)

	_, err = f.PhaseProperty(thermo.PhaseOil, thermo.PropDensity, "kg/m3")
	assert.True(t, faults.IsPhaseAbsent(err))
}

func TestTwoPhaseMaterialBalance(t *testing.T) {
	for _, m := range thermo.Models() {
		t.Run(m.String(), func(t *testing.T) {
			f := mixtureFluid(t, m, 280, 50, richGas)
			require.NoError(t, f.TPFlash())
			require.Equal(t, 2, f.NumberOfPhases())
			assert.True(t, f.HasPhase(thermo.PhaseGas))
			assert.True(t, f.HasPhase(thermo.PhaseOil))

			z := f.Composition()
			for i := range z {
				var sum float64
				for _, ph := range f.state.phases {
					sum += ph.beta * ph.x[i]
				}
				assert.InDelta(t, z[i], sum, 1e-8, "component %s", f.comps[i].name)
			}

			require.NoError(t, f.InitProperties())
			gas, err := f.PhaseProperty(thermo.PhaseGas, thermo.PropDensity, "kg/m3")
			require.NoError(t, err)
			oil, err := f.PhaseProperty(thermo.PhaseOil, thermo.PropDensity, "kg/m3")
			require.NoError(t, err)
			assert.Greater(t, oil, gas)
		})
	}
}

func TestFlashIsIdempotent(t *testing.T) {
	f := mixtureFluid(t, thermo.ModelSRK, 280, 50, richGas)
	require.NoError(t, f.TPFlash())
	require.NoError(t, f.InitProperties())
	h1, err := f.Property(thermo.PropEnthalpy, "J/mol")
	require.NoError(t, err)
	x1, err := f.PhaseComposition(thermo.PhaseOil)
	require.NoError(t, err)

	require.NoError(t, f.TPFlash())
	require.NoError(t, f.InitProperties())
	h2, err := f.Property(thermo.PropEnthalpy, "J/mol")
	require.NoError(t, err)
	x2, err := f.PhaseComposition(thermo.PhaseOil)
	require.NoError(t, err)

	assert.InDelta(t, h1, h2, 1e-9*math.Max(1, math.Abs(h1)))
	assert.InDeltaSlice(t, x1, x2, 1e-10)
}

func TestPHFlashRoundTrip(t *testing.T) {
	f := mixtureFluid(t, thermo.ModelPR, 320, 80, richGas)
	require.NoError(t, f.TPFlash())
	require.NoError(t, f.InitProperties())
	h, err := f.Property(thermo.PropEnthalpy, "J/mol")
	require.NoError(t, err)

	require.NoError(t, f.SetTemperature(250, "K"))
	require.NoError(t, f.PHFlash(h))
	assert.InDelta(t, 320, f.Temperature(), 1e-3)
}

func TestSaturationPressures(t *testing.T) {
	parts := map[string]float64{"propane": 0.5, "n-butane": 0.5}

	f := mixtureFluid(t, thermo.ModelPR, 300, 1, parts)
	require.NoError(t, f.BubblePointPressure())
	bubble := f.Pressure()

	g := mixtureFluid(t, thermo.ModelPR, 300, 1, parts)
	require.NoError(t, g.DewPointPressure())
	dew := g.Pressure()

	assert.Greater(t, bubble, dew)
	assert.InDelta(t, 6.3, bubble, 1.5)
	assert.InDelta(t, 4.2, dew, 1.2)

	h := mixtureFluid(t, thermo.ModelPR, 300, 1, parts)
	require.NoError(t, h.SaturationPressure())
	assert.InDelta(t, bubble, h.Pressure(), 1e-6*bubble)
}

func TestBubblePointTemperature(t *testing.T) {
	f := mixtureFluid(t, thermo.ModelPR, 250, 1.01325, map[string]float64{"n-butane": 1})
	require.NoError(t, f.BubblePointTemperature())
	assert.InDelta(t, 272.7, f.Temperature(), 3)
}

func TestFlashWithoutComponents(t *testing.T) {
	f, err := newFluid(thermo.ModelPR)
	require.NoError(t, err)
	assert.Error(t, f.TPFlash())

	_, err = f.Property(thermo.PropDensity, "kg/m3")
	assert.True(t, faults.IsFlash(err))
}

func TestCloneDropsPhaseResults(t *testing.T) {
	f := mixtureFluid(t, thermo.ModelPR, 280, 50, richGas)
	require.NoError(t, f.TPFlash())

	c := f.Clone()
	assert.False(t, c.Flashed())
	assert.Equal(t, f.Composition(), c.Composition())
	assert.Equal(t, f.Temperature(), c.Temperature())

	require.NoError(t, c.SetTemperature(400, "K"))
	assert.Equal(t, 280.0, f.Temperature())
}

func TestUnknownComponent(t *testing.T) {
	f, err := newFluid(thermo.ModelPR)
	require.NoError(t, err)
	err = f.AddComponent("unobtainium", 1, "mol")
	assert.True(t, faults.IsConfiguration(err))
	assert.True(t, KnownComponent("C1"))
	assert.True(t, KnownComponent("co2"))
}

func TestPseudoComponentFlash(t *testing.T) {
	f := mixtureFluid(t, thermo.ModelPR, 300, 20, map[string]float64{"methane": 0.6})
	require.NoError(t, f.AddPseudoComponent(thermo.PseudoComponent{
		Name:            "C10",
		Moles:           0.4,
		MolarMass:       0.134,
		RelativeDensity: 0.78,
	}))
	require.NoError(t, f.TPFlash())
	assert.Equal(t, 2, f.NumberOfPhases())
}

package pvt

import (
	"context"
	"fmt"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// Viscosity tabulates gas and oil viscosity in cP. An absent phase leaves
// its column NaN without recording an error.
func (r *Runner) Viscosity(ctx context.Context, f thermo.Fluid, c Conditions) (*Result, error) {
	return r.Run(ctx, Experiment{Kind: KindViscosity, Fluid: f, Conditions: c})
}

// GOR flashes a clone of f at each condition and takes the equilibrium oil
// to standard conditions, reporting the gas-oil ratio and formation volume
// factor of that oil. Points without an oil phase stay NaN.
func (r *Runner) GOR(ctx context.Context, f thermo.Fluid, c Conditions) (*Result, error) {
	return r.Run(ctx, Experiment{Kind: KindGOR, Fluid: f, Conditions: c})
}

// SaturationPressures searches the saturation pressure of f at each
// temperature.
func (r *Runner) SaturationPressures(ctx context.Context, f thermo.Fluid, temperatures []float64, unit string) (*Result, error) {
	return r.Run(ctx, Experiment{
		Kind:         KindSaturationPressure,
		Fluid:        f,
		Temperatures: temperatures,
		Conditions:   Conditions{TemperatureUnit: unit},
	})
}

// Swelling mixes increasing mole fractions of gas into the oil and reports
// the saturation pressure and the swelling factor, the saturated volume per
// mole of original oil relative to that of the oil alone. Every component of
// gas must also be a component of oil.
func (r *Runner) Swelling(ctx context.Context, oil, gas thermo.Fluid, temperature float64, fractions []float64) (*Result, error) {
	return r.Run(ctx, Experiment{
		Kind:         KindSwelling,
		Fluid:        oil,
		InjectionGas: gas,
		Conditions:   Conditions{Temperature: temperature},
		GasFractions: fractions,
	})
}

func (r *Runner) viscosity(ctx context.Context, f thermo.Fluid, cond canonical) (*Result, error) {
	res := newResult(KindViscosity, IndexPressure, cond.pressures,
		Column{Name: ColGasViscosity, Unit: "cP"},
		Column{Name: ColOilViscosity, Unit: "cP"},
	)
	res.Temperature = cond.temperature(0)
	for i, p := range cond.pressures {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.tp(ctx, f, cond.temperature(i), p); err != nil {
			res.fail(i, p, err)
			continue
		}
		res.set(ColGasViscosity, i, phaseValue(f, thermo.PhaseGas, thermo.PropViscosity, "cP"))
		res.set(ColOilViscosity, i, phaseValue(f, thermo.PhaseOil, thermo.PropViscosity, "cP"))
	}
	return res, nil
}

func (r *Runner) gor(ctx context.Context, f thermo.Fluid, cond canonical) (*Result, error) {
	res := newResult(KindGOR, IndexPressure, cond.pressures,
		Column{Name: ColGOR, Unit: "Sm3/Sm3"},
		Column{Name: ColBo, Unit: "m3/Sm3"},
	)
	res.Temperature = cond.temperature(0)
	for i, p := range cond.pressures {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.tp(ctx, f, cond.temperature(i), p); err != nil {
			res.fail(i, p, err)
			continue
		}
		if !f.HasPhase(thermo.PhaseOil) {
			continue
		}
		oilFraction := phaseFraction(f, thermo.PhaseOil)
		gasFraction := phaseFraction(f, thermo.PhaseGas)
		oilVolume := oilFraction * phaseValue(f, thermo.PhaseOil, thermo.PropMolarVolume, "m3/mol")

		x, err := f.PhaseComposition(thermo.PhaseOil)
		if err != nil {
			res.fail(i, p, err)
			continue
		}
		oil := f.Clone()
		if err := oil.SetComposition(x); err != nil {
			res.fail(i, p, err)
			continue
		}
		if err := r.tp(ctx, oil, thermo.StandardTemperature, thermo.StandardPressure); err != nil {
			res.fail(i, p, err)
			continue
		}
		if !oil.HasPhase(thermo.PhaseOil) {
			res.fail(i, p, faults.NewPhaseAbsentError(string(thermo.PhaseOil)))
			continue
		}
		stockFraction := phaseFraction(oil, thermo.PhaseOil)
		stockTank := oilFraction * stockFraction * phaseValue(oil, thermo.PhaseOil, thermo.PropMolarVolume, "m3/mol")
		gas := (gasFraction + oilFraction*(1-stockFraction)) * standardMolarVolume
		res.set(ColGOR, i, gas/stockTank)
		res.set(ColBo, i, oilVolume/stockTank)
	}
	return res, nil
}

func (r *Runner) saturationSweep(ctx context.Context, f thermo.Fluid, temperatures []float64, unit string) (*Result, error) {
	if len(temperatures) == 0 {
		return nil, invalid("no temperature points")
	}
	points := make([]float64, len(temperatures))
	for i, t := range temperatures {
		v, err := thermo.ToCanonical(thermo.QuantityTemperature, t, unit)
		if err != nil {
			return nil, err
		}
		points[i] = v
	}
	res := newResult(KindSaturationPressure, IndexTemperature, points,
		Column{Name: ColSaturationPressure, Unit: "bara"},
	)
	for i, t := range points {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.dispatcher.Flash(ctx, f, thermo.SaturationPressureAt(t, "K")); err != nil {
			res.fail(i, t, err)
			continue
		}
		res.set(ColSaturationPressure, i, f.Pressure())
	}
	return res, nil
}

// alignComposition maps the bulk composition of gas onto the component
// order of oil.
func alignComposition(oil, gas thermo.Fluid) ([]float64, error) {
	index := make(map[string]int)
	for i, name := range oil.Components() {
		index[name] = i
	}
	out := make([]float64, len(index))
	z := gas.Composition()
	for i, name := range gas.Components() {
		k, ok := index[name]
		if !ok {
			if z[i] == 0 {
				continue
			}
			return nil, faults.NewConfigurationError(
				fmt.Sprintf("injection gas component %s is not in the oil", name), nil).
				WithCode(faults.ErrCodeUnknownComponent)
		}
		out[k] = z[i]
	}
	return out, nil
}

func (r *Runner) swelling(ctx context.Context, oil, gas thermo.Fluid, t float64, fractions []float64) (*Result, error) {
	if gas == nil {
		return nil, invalid("swelling test needs an injection gas")
	}
	if t <= 0 || math.IsNaN(t) {
		return nil, invalid("swelling test needs a positive temperature, got %g", t)
	}
	if len(fractions) == 0 {
		return nil, invalid("no injection gas fractions")
	}
	for i, x := range fractions {
		if x < 0 || x >= 1 || math.IsNaN(x) {
			return nil, invalid("gas fraction %d must be in [0, 1), got %g", i, x)
		}
	}
	zg, err := alignComposition(oil, gas)
	if err != nil {
		return nil, err
	}
	zo := oil.Composition()

	res := newResult(KindSwelling, IndexGasFraction, fractions,
		Column{Name: ColSaturationPressure, Unit: "bara"},
		Column{Name: ColSwellingFactor},
	)
	res.Temperature = t

	psat, v0, err := r.saturation(ctx, oil, t)
	res.Summary[SummarySaturationPressure] = psat
	if err != nil {
		res.fail(ReferencePoint, 0, err)
	}

	for i, x := range fractions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		mix := oil.Clone()
		z := make([]float64, len(zo))
		for k := range z {
			z[k] = (1-x)*zo[k] + x*zg[k]
		}
		if err := mix.SetComposition(z); err != nil {
			res.fail(i, x, err)
			continue
		}
		p, v, err := r.saturation(ctx, mix, t)
		if err != nil {
			res.fail(i, x, err)
			continue
		}
		res.set(ColSaturationPressure, i, p)
		res.set(ColSwellingFactor, i, v/((1-x)*v0))
	}
	return res, nil
}

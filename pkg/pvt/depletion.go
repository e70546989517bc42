package pvt

import (
	"context"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// CME runs a constant mass expansion on a clone of f. Relative volumes are
// referred to the saturation volume at the first point's temperature; when
// the saturation search fails they are referred to the first converged
// point instead and the failure is recorded at ReferencePoint.
func (r *Runner) CME(ctx context.Context, f thermo.Fluid, c Conditions) (*Result, error) {
	return r.Run(ctx, Experiment{Kind: KindCME, Fluid: f, Conditions: c})
}

// CVD runs a constant volume depletion on a clone of f. Pressures must
// decrease strictly.
func (r *Runner) CVD(ctx context.Context, f thermo.Fluid, c Conditions) (*Result, error) {
	return r.Run(ctx, Experiment{Kind: KindCVD, Fluid: f, Conditions: c})
}

// DifferentialLiberation runs a differential liberation on a clone of f.
// Pressures must decrease strictly; the residual oil is flashed to standard
// conditions after the last point.
func (r *Runner) DifferentialLiberation(ctx context.Context, f thermo.Fluid, c Conditions) (*Result, error) {
	return r.Run(ctx, Experiment{Kind: KindDifferentialLiberation, Fluid: f, Conditions: c})
}

func (r *Runner) cme(ctx context.Context, f thermo.Fluid, cond canonical) (*Result, error) {
	res := newResult(KindCME, IndexPressure, cond.pressures,
		Column{Name: ColRelativeVolume},
		Column{Name: ColZ},
		Column{Name: ColYFunction},
		Column{Name: ColDensity, Unit: "kg/m3"},
	)
	res.Temperature = cond.temperature(0)

	psat, vref, err := r.saturation(ctx, f, res.Temperature)
	if err != nil {
		res.fail(ReferencePoint, res.Temperature, err)
	}
	res.Summary[SummarySaturationPressure] = psat

	for i, p := range cond.pressures {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.tp(ctx, f, cond.temperature(i), p); err != nil {
			res.fail(i, p, err)
			continue
		}
		v, err := f.Property(thermo.PropMolarVolume, "m3/mol")
		if err != nil {
			res.fail(i, p, err)
			continue
		}
		if math.IsNaN(vref) {
			vref = v
		}
		rel := v / vref
		res.set(ColRelativeVolume, i, rel)
		if z, err := f.Property(thermo.PropZ, ""); err == nil {
			res.set(ColZ, i, z)
		}
		if rho, err := f.Property(thermo.PropDensity, "kg/m3"); err == nil {
			res.set(ColDensity, i, rho)
		}
		if p < psat && rel > 1 {
			res.set(ColYFunction, i, (psat-p)/(p*(rel-1)))
		}
	}
	return res, nil
}

func (r *Runner) cvd(ctx context.Context, f thermo.Fluid, cond canonical) (*Result, error) {
	if err := cond.descending(KindCVD); err != nil {
		return nil, err
	}
	res := newResult(KindCVD, IndexPressure, cond.pressures,
		Column{Name: ColLiquidDropout, Unit: "%"},
		Column{Name: ColGasZ},
		Column{Name: ColCumulativeProduced, Unit: "%"},
	)
	t := cond.temperature(0)
	res.Temperature = t

	psat, vcell, err := r.saturation(ctx, f, t)
	res.Summary[SummarySaturationPressure] = psat
	if err != nil {
		// without the cell volume no point can be evaluated
		res.fail(ReferencePoint, t, err)
		for i, p := range cond.pressures {
			res.fail(i, p, err)
		}
		return res, nil
	}

	n, produced := 1.0, 0.0
	for i, p := range cond.pressures {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.tp(ctx, f, t, p); err != nil {
			res.fail(i, p, err)
			continue
		}
		v, err := f.Property(thermo.PropMolarVolume, "m3/mol")
		if err != nil {
			res.fail(i, p, err)
			continue
		}

		oil := 0.0
		if f.HasPhase(thermo.PhaseOil) {
			oil = n * phaseFraction(f, thermo.PhaseOil) * phaseValue(f, thermo.PhaseOil, thermo.PropMolarVolume, "m3/mol")
		}
		res.set(ColLiquidDropout, i, 100*oil/vcell)

		if f.HasPhase(thermo.PhaseGas) {
			res.set(ColGasZ, i, phaseValue(f, thermo.PhaseGas, thermo.PropZ, ""))
			vg := phaseValue(f, thermo.PhaseGas, thermo.PropMolarVolume, "m3/mol")
			remove := math.Min(math.Max((n*v-vcell)/vg, 0), n*phaseFraction(f, thermo.PhaseGas))
			if remove > 0 {
				if err := withdraw(f, n, remove, thermo.PhaseGas); err != nil {
					res.fail(i, p, err)
					continue
				}
				n -= remove
				produced += remove
			}
		}
		res.set(ColCumulativeProduced, i, 100*produced)
	}
	return res, nil
}

// withdraw removes moles of phase tag from a fluid holding n moles in total.
func withdraw(f thermo.Fluid, n, moles float64, tag thermo.PhaseTag) error {
	y, err := f.PhaseComposition(tag)
	if err != nil {
		return err
	}
	z := f.Composition()
	next := make([]float64, len(z))
	for k := range z {
		next[k] = math.Max(0, (n*z[k]-moles*y[k])/(n-moles))
	}
	return f.SetComposition(next)
}

func (r *Runner) differentialLiberation(ctx context.Context, f thermo.Fluid, cond canonical) (*Result, error) {
	if err := cond.descending(KindDifferentialLiberation); err != nil {
		return nil, err
	}
	res := newResult(KindDifferentialLiberation, IndexPressure, cond.pressures,
		Column{Name: ColBo, Unit: "m3/Sm3"},
		Column{Name: ColRs, Unit: "Sm3/Sm3"},
		Column{Name: ColBg, Unit: "m3/Sm3"},
		Column{Name: ColOilDensity, Unit: "kg/m3"},
		Column{Name: ColGasGravity},
	)
	t := cond.temperature(0)
	res.Temperature = t

	n := 1.0
	released := make([]float64, len(cond.pressures))
	oilVolume := make([]float64, len(cond.pressures))
	for i, p := range cond.pressures {
		oilVolume[i] = math.NaN()
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.tp(ctx, f, t, p); err != nil {
			res.fail(i, p, err)
			continue
		}
		if !f.HasPhase(thermo.PhaseOil) {
			res.fail(i, p, faults.NewPhaseAbsentError(string(thermo.PhaseOil)))
			continue
		}
		beta := phaseFraction(f, thermo.PhaseOil)
		oilVolume[i] = n * beta * phaseValue(f, thermo.PhaseOil, thermo.PropMolarVolume, "m3/mol")
		res.set(ColOilDensity, i, phaseValue(f, thermo.PhaseOil, thermo.PropDensity, "kg/m3"))

		if f.HasPhase(thermo.PhaseGas) {
			res.set(ColBg, i, phaseValue(f, thermo.PhaseGas, thermo.PropMolarVolume, "m3/mol")/standardMolarVolume)
			res.set(ColGasGravity, i, gasGravity(f))
			gas := n * phaseFraction(f, thermo.PhaseGas)
			if err := keepPhase(f, thermo.PhaseOil); err != nil {
				res.fail(i, p, err)
				oilVolume[i] = math.NaN()
				continue
			}
			released[i] = gas * standardMolarVolume
			n -= gas
		}
	}

	if err := r.tp(ctx, f, thermo.StandardTemperature, thermo.StandardPressure); err != nil {
		res.fail(ReferencePoint, thermo.StandardPressure, err)
		return res, nil
	}
	if !f.HasPhase(thermo.PhaseOil) {
		res.fail(ReferencePoint, thermo.StandardPressure, faults.NewPhaseAbsentError(string(thermo.PhaseOil)))
		return res, nil
	}
	beta := phaseFraction(f, thermo.PhaseOil)
	stockTank := n * beta * phaseValue(f, thermo.PhaseOil, thermo.PropMolarVolume, "m3/mol")
	dissolved := n * (1 - beta) * standardMolarVolume
	res.Summary[SummaryStockTankDensity] = phaseValue(f, thermo.PhaseOil, thermo.PropDensity, "kg/m3")

	for i := len(cond.pressures) - 1; i >= 0; i-- {
		if !math.IsNaN(oilVolume[i]) {
			res.set(ColBo, i, oilVolume[i]/stockTank)
			res.set(ColRs, i, dissolved/stockTank)
		}
		dissolved += released[i]
	}
	res.Summary[SummaryInitialRs] = dissolved / stockTank
	return res, nil
}

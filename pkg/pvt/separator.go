package pvt

import (
	"context"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// StockTank is the final separator stage at standard conditions.
var StockTank = Stage{Pressure: thermo.StandardPressure, Temperature: thermo.StandardTemperature}

// SeparatorTest flashes a clone of f through the separator stages, passing
// the liquid of each stage to the next. The reservoir oil volume is taken at
// the saturation point at reservoirT (K).
func (r *Runner) SeparatorTest(ctx context.Context, f thermo.Fluid, reservoirT float64, stages []Stage) (*Result, error) {
	return r.Run(ctx, Experiment{
		Kind:       KindSeparatorTest,
		Fluid:      f,
		Conditions: Conditions{Temperature: reservoirT},
		Stages:     stages,
	})
}

func withStockTank(stages []Stage) []Stage {
	out := append([]Stage(nil), stages...)
	if len(out) == 0 || out[len(out)-1] != StockTank {
		out = append(out, StockTank)
	}
	return out
}

func (r *Runner) separatorTest(ctx context.Context, f thermo.Fluid, reservoirT float64, stages []Stage) (*Result, error) {
	if reservoirT <= 0 || math.IsNaN(reservoirT) {
		return nil, invalid("separator test needs a positive reservoir temperature, got %g", reservoirT)
	}
	for i, s := range stages {
		if s.Pressure <= 0 || s.Temperature <= 0 {
			return nil, invalid("separator stage %d needs positive pressure and temperature", i)
		}
	}
	stages = withStockTank(stages)
	points := make([]float64, len(stages))
	for i, s := range stages {
		points[i] = s.Pressure
	}
	res := newResult(KindSeparatorTest, IndexStagePressure, points,
		Column{Name: ColGOR, Unit: "Sm3/Sm3"},
		Column{Name: ColGasGravity},
		Column{Name: ColOilDensity, Unit: "kg/m3"},
	)
	res.Temperature = reservoirT

	psat, reservoirVolume, err := r.saturation(ctx, f, reservoirT)
	res.Summary[SummarySaturationPressure] = psat
	if err != nil {
		res.fail(ReferencePoint, reservoirT, err)
	}

	n := 1.0
	gas := make([]float64, len(stages))
	stockTank := math.NaN()
	for i, s := range stages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.tp(ctx, f, s.Temperature, s.Pressure); err != nil {
			res.fail(i, s.Pressure, err)
			continue
		}
		if !f.HasPhase(thermo.PhaseOil) {
			// the remaining liquid vaporized; later stages have nothing to flash
			for k := i; k < len(stages); k++ {
				res.fail(k, stages[k].Pressure, faults.NewPhaseAbsentError(string(thermo.PhaseOil)))
			}
			return res, nil
		}
		res.set(ColOilDensity, i, phaseValue(f, thermo.PhaseOil, thermo.PropDensity, "kg/m3"))
		if f.HasPhase(thermo.PhaseGas) {
			res.set(ColGasGravity, i, gasGravity(f))
			gas[i] = n * phaseFraction(f, thermo.PhaseGas) * standardMolarVolume
			n *= phaseFraction(f, thermo.PhaseOil)
		}
		if i == len(stages)-1 {
			stockTank = n * phaseValue(f, thermo.PhaseOil, thermo.PropMolarVolume, "m3/mol")
			res.Summary[SummaryStockTankDensity] = phaseValue(f, thermo.PhaseOil, thermo.PropDensity, "kg/m3")
		}
		if err := keepPhase(f, thermo.PhaseOil); err != nil {
			res.fail(i, s.Pressure, err)
		}
	}

	total := 0.0
	for i := range stages {
		res.set(ColGOR, i, gas[i]/stockTank)
		total += gas[i]
	}
	res.Summary[SummaryGOR] = total / stockTank
	res.Summary[SummaryBo] = reservoirVolume / stockTank
	return res, nil
}

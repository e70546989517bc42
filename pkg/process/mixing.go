package process

import (
	"context"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// propertyOf reads a derived property, flashing a clone of f at its own
// conditions when f carries no phase results.
func (b *base) propertyOf(ctx context.Context, f thermo.Fluid, p thermo.Property) (float64, error) {
	v, err := f.Property(p, "")
	if err == nil {
		return v, nil
	}
	if !faults.IsFlash(err) {
		return 0, err
	}
	c := f.Clone()
	if err := b.tpFlash(ctx, c); err != nil {
		return 0, err
	}
	return c.Property(p, "")
}

// blend is the material combination of several inlet fluids.
type blend struct {
	fluid       thermo.Fluid
	flow        float64 // mol/s
	enthalpy    float64 // W, only when requested
	temperature float64 // flow-weighted, K
	pressure    float64 // lowest inlet pressure, bara
	sources     int
}

// combine sums component flows of the inlets into a new, unflashed fluid at
// the flow-weighted temperature and the lowest inlet pressure. Inlets that
// have not produced a fluid yet are skipped.
func (b *base) combine(ctx context.Context, inlets []*Stream, withEnthalpy bool) (blend, error) {
	var fluids []thermo.Fluid
	for _, s := range inlets {
		if s == nil {
			continue
		}
		if f := s.Fluid(); f != nil {
			fluids = append(fluids, f)
		}
	}
	if len(fluids) == 0 {
		return blend{}, missingInlet(b.name)
	}

	result := fluids[0].Clone()
	names := result.Components()
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}
	moles := make([]float64, len(names))

	out := blend{fluid: result, pressure: math.Inf(1), sources: len(fluids)}
	var weightedT float64
	for _, f := range fluids {
		q := f.TotalFlowRate()
		z := f.Composition()
		for k, n := range f.Components() {
			i, ok := index[n]
			if !ok {
				if err := addAbsent(result, f, n); err != nil {
					return blend{}, faults.NewConfigurationError("inlet components cannot be combined", err).
						WithCode(faults.ErrCodeUnknownComponent).
						WithUnit(b.name)
				}
				i = len(moles)
				index[n] = i
				moles = append(moles, 0)
			}
			moles[i] += z[k] * q
		}
		if q > 0 {
			out.pressure = math.Min(out.pressure, f.Pressure())
			weightedT += q * f.Temperature()
			if withEnthalpy {
				h, err := b.propertyOf(ctx, f, thermo.PropEnthalpy)
				if err != nil {
					return blend{}, err
				}
				out.enthalpy += q * h
			}
		}
		out.flow += q
	}

	if out.flow > 0 {
		z := make([]float64, len(moles))
		for i, n := range moles {
			z[i] = n / out.flow
		}
		if err := result.SetComposition(z); err != nil {
			return blend{}, err
		}
		out.temperature = weightedT / out.flow
	} else {
		out.temperature = fluids[0].Temperature()
		for _, f := range fluids {
			out.pressure = math.Min(out.pressure, f.Pressure())
		}
	}
	if err := result.SetTotalFlowRate(out.flow, "mol/s"); err != nil {
		return blend{}, err
	}
	if err := result.SetTemperature(out.temperature, "K"); err != nil {
		return blend{}, err
	}
	if err := result.SetPressure(out.pressure, "bara"); err != nil {
		return blend{}, err
	}
	return out, nil
}

// addAbsent adds component name of src to dst at zero amount, carrying
// the definition of pseudo-components.
func addAbsent(dst, src thermo.Fluid, name string) error {
	if pc, ok := src.PseudoComponent(name); ok {
		return dst.AddPseudoComponent(pc)
	}
	return dst.AddComponent(name, 0, "mol")
}

// phaseFluid builds a flashed fluid from the named phases of a flashed bulk
// fluid. When none of the phases is present the result carries the bulk
// composition at zero flow.
func (b *base) phaseFluid(ctx context.Context, bulk thermo.Fluid, tags ...thermo.PhaseTag) (thermo.Fluid, error) {
	out := bulk.Clone()
	n := len(bulk.Components())
	moles := make([]float64, n)
	var fraction float64
	for _, tag := range tags {
		if !bulk.HasPhase(tag) {
			continue
		}
		x, err := bulk.PhaseComposition(tag)
		if err != nil {
			return nil, err
		}
		beta, err := bulk.PhaseProperty(tag, thermo.PropMoleFraction, "")
		if err != nil {
			return nil, err
		}
		for i := range moles {
			moles[i] += beta * x[i]
		}
		fraction += beta
	}

	if fraction == 0 {
		if err := out.SetTotalFlowRate(0, "mol/s"); err != nil {
			return nil, err
		}
	} else {
		for i := range moles {
			moles[i] /= fraction
		}
		if err := out.SetComposition(moles); err != nil {
			return nil, err
		}
		if err := out.SetTotalFlowRate(bulk.TotalFlowRate()*fraction, "mol/s"); err != nil {
			return nil, err
		}
	}
	if err := b.tpFlash(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// scaledCopy returns a flashed copy of f carrying flow mol/s.
func (b *base) scaledCopy(ctx context.Context, f thermo.Fluid, flow float64) (thermo.Fluid, error) {
	out := f.Clone()
	if err := out.SetTotalFlowRate(flow, "mol/s"); err != nil {
		return nil, err
	}
	if err := b.tpFlash(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

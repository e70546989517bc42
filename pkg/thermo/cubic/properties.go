package cubic

import (
	"fmt"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// InitProperties computes derived properties of every phase.
func (f *Fluid) InitProperties() error {
	if f.state == nil {
		return faults.NewFlashError("properties requested before a flash", nil)
	}
	for _, ph := range f.state.phases {
		h, s, v := f.phaseThermo(f.t, f.p, ph)
		mm := f.molarMass(ph.x)
		ph.props = phaseProps{
			h:         h,
			s:         s,
			u:         h - f.p*1e5*v,
			cp:        f.phaseCp(ph),
			v:         v,
			rho:       mm / v,
			mu:        lbcViscosity(f.comps, ph.x, v, f.t),
			molarMass: mm,
		}
	}
	f.state.propsReady = true
	return nil
}

// phaseCp differentiates the phase enthalpy at fixed composition and root type.
func (f *Fluid) phaseCp(ph *phase) float64 {
	const dt = 0.05
	root := rootLiquid
	if ph.eval.vapor {
		root = rootVapor
	}
	enthalpy := func(t float64) float64 {
		m := f.mixtureAt(t)
		e := m.evaluate(ph.x, f.p, root)
		return idealEnthalpy(f.comps, ph.x, t) + m.residualEnthalpy(e)
	}
	return (enthalpy(f.t+dt) - enthalpy(f.t-dt)) / (2 * dt)
}

// Flashed reports whether phase results are current.
func (f *Fluid) Flashed() bool { return f.state != nil }

// NumberOfPhases returns the number of equilibrium phases, zero before a flash.
func (f *Fluid) NumberOfPhases() int {
	if f.state == nil {
		return 0
	}
	return len(f.state.phases)
}

// Phases returns the tags of the present phases.
func (f *Fluid) Phases() []thermo.PhaseTag {
	if f.state == nil {
		return nil
	}
	out := make([]thermo.PhaseTag, len(f.state.phases))
	for i, ph := range f.state.phases {
		out[i] = ph.tag
	}
	return out
}

// HasPhase reports whether a phase is present.
func (f *Fluid) HasPhase(tag thermo.PhaseTag) bool {
	return f.phase(tag) != nil
}

func (f *Fluid) phase(tag thermo.PhaseTag) *phase {
	if f.state == nil {
		return nil
	}
	if tag == thermo.PhaseLiquid {
		if ph := f.phase(thermo.PhaseOil); ph != nil {
			return ph
		}
		return f.phase(thermo.PhaseAqueous)
	}
	for _, ph := range f.state.phases {
		if ph.tag == tag {
			return ph
		}
	}
	return nil
}

func (f *Fluid) requireProps() error {
	if f.state == nil || !f.state.propsReady {
		return faults.NewFlashError("properties are not initialized; flash the fluid first", nil)
	}
	return nil
}

func convertOut(p thermo.Property, v float64, unit string, molarMass float64) (float64, error) {
	switch p {
	case thermo.PropMolarFlow, thermo.PropMassFlow:
		if unit == "" {
			unit = thermo.CanonicalUnit(p.Quantity())
		}
		if p == thermo.PropMassFlow {
			v /= molarMass
		}
		return thermo.MolarToFlow(v, unit, molarMass)
	}
	return thermo.FromCanonical(p.Quantity(), v, unit)
}

// Property returns a bulk property in the requested unit.
func (f *Fluid) Property(p thermo.Property, unit string) (float64, error) {
	z := f.Composition()
	mm := f.molarMass(z)
	flow := f.TotalFlowRate()

	var v float64
	switch p {
	case thermo.PropTemperature:
		v = f.t
	case thermo.PropPressure:
		v = f.p
	case thermo.PropMoleFraction:
		v = 1
	case thermo.PropMolarFlow:
		v = flow
	case thermo.PropMassFlow:
		v = flow * mm
	case thermo.PropMolarMass:
		v = mm
	default:
		if err := f.requireProps(); err != nil {
			return math.NaN(), err
		}
		var h, s, u, cp, vol, zf float64
		for _, ph := range f.state.phases {
			h += ph.beta * ph.props.h
			s += ph.beta * ph.props.s
			u += ph.beta * ph.props.u
			cp += ph.beta * ph.props.cp
			vol += ph.beta * ph.props.v
			zf += ph.beta * ph.eval.z
		}
		switch p {
		case thermo.PropEnthalpy:
			v = h
		case thermo.PropEntropy:
			v = s
		case thermo.PropInternalEnergy:
			v = u
		case thermo.PropCp:
			v = cp
		case thermo.PropMolarVolume:
			v = vol
		case thermo.PropDensity:
			v = mm / vol
		case thermo.PropZ:
			v = zf
		case thermo.PropVolumeFlow:
			v = flow * vol
		case thermo.PropViscosity:
			if len(f.state.phases) != 1 {
				return math.NaN(), faults.NewConfigurationError(
					"bulk viscosity is undefined for a multiphase fluid; request a phase viscosity", nil).
					WithCode(faults.ErrCodeInvalidParameter)
			}
			v = f.state.phases[0].props.mu
		default:
			return math.NaN(), unknownProperty(p)
		}
	}
	return convertOut(p, v, unit, mm)
}

// PhaseProperty returns a property of one phase in the requested unit.
func (f *Fluid) PhaseProperty(tag thermo.PhaseTag, p thermo.Property, unit string) (float64, error) {
	if err := f.requireProps(); err != nil {
		return math.NaN(), err
	}
	ph := f.phase(tag)
	if ph == nil {
		return math.NaN(), faults.NewPhaseAbsentError(string(tag))
	}
	flow := f.TotalFlowRate() * ph.beta
	var v float64
	switch p {
	case thermo.PropTemperature:
		v = f.t
	case thermo.PropPressure:
		v = f.p
	case thermo.PropMoleFraction:
		v = ph.beta
	case thermo.PropMolarFlow:
		v = flow
	case thermo.PropMassFlow:
		v = flow * ph.props.molarMass
	case thermo.PropVolumeFlow:
		v = flow * ph.props.v
	case thermo.PropMolarMass:
		v = ph.props.molarMass
	case thermo.PropEnthalpy:
		v = ph.props.h
	case thermo.PropEntropy:
		v = ph.props.s
	case thermo.PropInternalEnergy:
		v = ph.props.u
	case thermo.PropCp:
		v = ph.props.cp
	case thermo.PropMolarVolume:
		v = ph.props.v
	case thermo.PropDensity:
		v = ph.props.rho
	case thermo.PropZ:
		v = ph.eval.z
	case thermo.PropViscosity:
		v = ph.props.mu
	default:
		return math.NaN(), unknownProperty(p)
	}
	return convertOut(p, v, unit, ph.props.molarMass)
}

// PhaseComposition returns the mole fractions of a phase.
func (f *Fluid) PhaseComposition(tag thermo.PhaseTag) ([]float64, error) {
	ph := f.phase(tag)
	if ph == nil {
		return nil, faults.NewPhaseAbsentError(string(tag))
	}
	return append([]float64(nil), ph.x...), nil
}

func unknownProperty(p thermo.Property) error {
	return faults.NewConfigurationError(fmt.Sprintf("unsupported property %s", p), nil).
		WithCode(faults.ErrCodeInvalidParameter)
}

// lbcViscosity returns the Lohrenz-Bray-Clark viscosity in Pa s.
func lbcViscosity(comps []component, x []float64, molarVolume, t float64) float64 {
	const atm = 1.01325
	var num, den, tcm, pcm, mm, vcm float64
	for i, c := range comps {
		if x[i] == 0 {
			continue
		}
		m := c.molarMass * 1e3
		pcAtm := c.pc / atm
		xi := math.Pow(c.tc, 1.0/6) / (math.Sqrt(m) * math.Pow(pcAtm, 2.0/3))
		tr := t / c.tc
		var mu float64
		if tr <= 1.5 {
			mu = 34e-5 * math.Pow(tr, 0.94) / xi
		} else {
			mu = 17.78e-5 * math.Pow(4.58*tr-1.67, 0.625) / xi
		}
		sq := math.Sqrt(m)
		num += x[i] * mu * sq
		den += x[i] * sq
		tcm += x[i] * c.tc
		pcm += x[i] * pcAtm
		mm += x[i] * m
		vcm += x[i] * c.vc
	}
	if den == 0 {
		return 0
	}
	dilute := num / den
	xim := math.Pow(tcm, 1.0/6) / (math.Sqrt(mm) * math.Pow(pcm, 2.0/3))
	rhor := vcm / molarVolume
	poly := 0.1023 + 0.023364*rhor + 0.058533*rhor*rhor - 0.040758*math.Pow(rhor, 3) + 0.0093324*math.Pow(rhor, 4)
	return (dilute + (math.Pow(poly, 4)-1e-4)/xim) * 1e-3
}

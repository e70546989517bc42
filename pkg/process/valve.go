package process

import (
	"context"
	"math"
	"sync"

	"github.com/openfroyo/procsim/pkg/thermo"
)

// PressureFunc computes an outlet pressure in bara from the inlet fluid.
type PressureFunc func(inlet thermo.Fluid) (float64, error)

// Valve reduces pressure isenthalpically, or isentropically when requested.
// The outlet pressure is a fixed setpoint, a PressureFunc, or derived from a
// flow coefficient.
type Valve struct {
	base
	inlet  *Stream
	outlet *Stream

	settingsMu sync.RWMutex
	outletP    float64 // bara, 0 when unset
	pressureFn PressureFunc
	kv         float64 // m3/h at 1 bar drop
	isentropic bool
}

// NewValve registers a valve fed by inlet.
func NewValve(reg Registrar, name string, inlet *Stream) (*Valve, error) {
	if inlet == nil {
		return nil, missingInlet(name)
	}
	v := &Valve{inlet: inlet}
	if err := v.init(name, TypeValve); err != nil {
		return nil, err
	}
	v.outlet = newPort(name, "out")
	if err := register(reg, v); err != nil {
		return nil, err
	}
	return v, nil
}

// SetOutletPressure sets a fixed outlet pressure.
func (v *Valve) SetOutletPressure(value float64, unit string) error {
	p, err := thermo.ToCanonical(thermo.QuantityPressure, value, unit)
	if err != nil {
		return err
	}
	if p <= 0 {
		return invalidParameter(v.name, "outlet pressure must be positive, got %g bara", p)
	}
	v.settingsMu.Lock()
	v.outletP = p
	v.settingsMu.Unlock()
	return nil
}

// OutletPressure returns the fixed setpoint in bara, zero when unset.
func (v *Valve) OutletPressure() float64 {
	v.settingsMu.RLock()
	defer v.settingsMu.RUnlock()
	return v.outletP
}

// SetPressureFunc makes the outlet pressure adaptive. It takes precedence
// over a fixed setpoint.
func (v *Valve) SetPressureFunc(fn PressureFunc) {
	v.settingsMu.Lock()
	v.pressureFn = fn
	v.settingsMu.Unlock()
}

// SetKv sets a flow coefficient (m3/h of water at 1 bar drop); the outlet
// pressure is then derived from the inlet volume flow and density.
func (v *Valve) SetKv(kv float64) error {
	if kv <= 0 {
		return invalidParameter(v.name, "Kv must be positive, got %g", kv)
	}
	v.settingsMu.Lock()
	v.kv = kv
	v.settingsMu.Unlock()
	return nil
}

// SetIsentropic switches from the isenthalpic to the isentropic expansion.
func (v *Valve) SetIsentropic(on bool) {
	v.settingsMu.Lock()
	v.isentropic = on
	v.settingsMu.Unlock()
}

// Isentropic reports whether the expansion is isentropic.
func (v *Valve) Isentropic() bool {
	v.settingsMu.RLock()
	defer v.settingsMu.RUnlock()
	return v.isentropic
}

// Kv returns the flow coefficient, zero when unset.
func (v *Valve) Kv() float64 {
	v.settingsMu.RLock()
	defer v.settingsMu.RUnlock()
	return v.kv
}

// Run flashes a copy of the inlet to the outlet pressure.
func (v *Valve) Run(ctx context.Context) error {
	return v.finish(v.run(ctx))
}

func (v *Valve) targetPressure(ctx context.Context, in thermo.Fluid) (float64, error) {
	v.settingsMu.RLock()
	fn, fixed, kv := v.pressureFn, v.outletP, v.kv
	v.settingsMu.RUnlock()

	switch {
	case fn != nil:
		p, err := fn(in)
		if err != nil {
			return 0, err
		}
		return p, nil
	case fixed > 0:
		return fixed, nil
	case kv > 0:
		q, err := v.propertyOf(ctx, in, thermo.PropVolumeFlow)
		if err != nil {
			return 0, err
		}
		rho, err := v.propertyOf(ctx, in, thermo.PropDensity)
		if err != nil {
			return 0, err
		}
		qh := q * 3600
		drop := rho / 1000 * (qh / kv) * (qh / kv)
		return in.Pressure() - drop, nil
	}
	return 0, invalidParameter(v.name, "valve has no outlet pressure, pressure function or Kv")
}

func (v *Valve) run(ctx context.Context) error {
	in := v.inlet.Fluid()
	if in == nil {
		return missingInlet(v.name)
	}
	p, err := v.targetPressure(ctx, in)
	if err != nil {
		return err
	}
	if p <= 0 || math.IsNaN(p) {
		return invalidParameter(v.name, "computed outlet pressure %g bara is not positive", p)
	}
	if p > in.Pressure()*(1+1e-12) {
		return invalidParameter(v.name, "outlet pressure %.4f bara exceeds inlet pressure %.4f bara", p, in.Pressure())
	}

	out := in.Clone()
	var spec thermo.FlashSpec
	if v.Isentropic() {
		s, err := v.propertyOf(ctx, in, thermo.PropEntropy)
		if err != nil {
			return err
		}
		spec = thermo.PS(p, "bara", s, "J/molK")
	} else {
		h, err := v.propertyOf(ctx, in, thermo.PropEnthalpy)
		if err != nil {
			return err
		}
		spec = thermo.PH(p, "bara", h, "J/mol")
	}
	if err := v.flash(ctx, out, spec); err != nil {
		return err
	}
	v.outlet.SetFluid(out)
	return nil
}

// Inlet returns the inlet stream.
func (v *Valve) Inlet() *Stream { return v.inlet }

// Outlet returns the outlet stream.
func (v *Valve) Outlet() *Stream { return v.outlet }

// Inlets returns the inlet stream.
func (v *Valve) Inlets() []*Stream { return []*Stream{v.inlet} }

// Outlets returns the outlet stream.
func (v *Valve) Outlets() []*Stream { return []*Stream{v.outlet} }

// Scalars reports the pressure drop.
func (v *Valve) Scalars() map[string]float64 {
	in, out := v.inlet.Fluid(), v.outlet.Fluid()
	if in == nil || out == nil {
		return nil
	}
	return map[string]float64{
		"pressure_drop_bar":    in.Pressure() - out.Pressure(),
		"temperature_change_k": out.Temperature() - in.Temperature(),
	}
}

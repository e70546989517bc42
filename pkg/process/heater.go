package process

import (
	"context"
	"math"
	"sync"

	"github.com/openfroyo/procsim/pkg/thermo"
)

// Heater changes the temperature of its inlet at constant pressure less an
// optional pressure drop. The outlet is set by temperature or by duty.
// Cooler is the same unit registered with TypeCooler.
type Heater struct {
	base
	inlet  *Stream
	outlet *Stream

	settingsMu sync.RWMutex
	outletT    float64 // K, 0 when unset
	duty       float64 // W
	dutySet    bool
	dp         float64 // bar

	resultMu sync.RWMutex
	result   float64 // W
}

// Cooler is a Heater that removes heat.
type Cooler = Heater

// NewHeater registers a heater fed by inlet.
func NewHeater(reg Registrar, name string, inlet *Stream) (*Heater, error) {
	return newHeater(reg, name, TypeHeater, inlet)
}

// NewCooler registers a cooler fed by inlet.
func NewCooler(reg Registrar, name string, inlet *Stream) (*Cooler, error) {
	return newHeater(reg, name, TypeCooler, inlet)
}

func newHeater(reg Registrar, name string, kind UnitType, inlet *Stream) (*Heater, error) {
	if inlet == nil {
		return nil, missingInlet(name)
	}
	h := &Heater{inlet: inlet}
	if err := h.init(name, kind); err != nil {
		return nil, err
	}
	h.outlet = newPort(name, "out")
	if err := register(reg, h); err != nil {
		return nil, err
	}
	return h, nil
}

// SetOutletTemperature fixes the outlet temperature and clears any duty.
func (h *Heater) SetOutletTemperature(value float64, unit string) error {
	t, err := thermo.ToCanonical(thermo.QuantityTemperature, value, unit)
	if err != nil {
		return err
	}
	if t <= 0 {
		return invalidParameter(h.name, "outlet temperature must be above absolute zero, got %g K", t)
	}
	h.settingsMu.Lock()
	h.outletT = t
	h.dutySet = false
	h.settingsMu.Unlock()
	return nil
}

// SetDuty fixes the heat added, negative for cooling, and clears any
// outlet temperature.
func (h *Heater) SetDuty(value float64, unit string) error {
	q, err := thermo.ToCanonical(thermo.QuantityPower, value, unit)
	if err != nil {
		return err
	}
	h.settingsMu.Lock()
	h.duty = q
	h.dutySet = true
	h.outletT = 0
	h.settingsMu.Unlock()
	return nil
}

// SetPressureDrop sets the pressure loss across the unit.
func (h *Heater) SetPressureDrop(value float64, unit string) error {
	if math.IsNaN(value) || value < 0 {
		return invalidParameter(h.name, "pressure drop must be non-negative, got %g", value)
	}
	dp, err := thermo.DifferenceToCanonical(thermo.QuantityPressure, value, unit)
	if err != nil {
		return err
	}
	h.settingsMu.Lock()
	h.dp = dp
	h.settingsMu.Unlock()
	return nil
}

// OutletTemperature returns the outlet temperature setting in K, zero when
// the unit is set by duty.
func (h *Heater) OutletTemperature() float64 {
	h.settingsMu.RLock()
	defer h.settingsMu.RUnlock()
	return h.outletT
}

// DutySetting returns the fixed duty in W and whether one is set.
func (h *Heater) DutySetting() (float64, bool) {
	h.settingsMu.RLock()
	defer h.settingsMu.RUnlock()
	return h.duty, h.dutySet
}

// PressureDrop returns the pressure loss setting in bar.
func (h *Heater) PressureDrop() float64 {
	h.settingsMu.RLock()
	defer h.settingsMu.RUnlock()
	return h.dp
}

// Duty returns the heat added in W during the last evaluation.
func (h *Heater) Duty() float64 {
	h.resultMu.RLock()
	defer h.resultMu.RUnlock()
	return h.result
}

// Run flashes a copy of the inlet to the outlet specification.
func (h *Heater) Run(ctx context.Context) error {
	return h.finish(h.run(ctx))
}

func (h *Heater) run(ctx context.Context) error {
	in := h.inlet.Fluid()
	if in == nil {
		return missingInlet(h.name)
	}
	h.settingsMu.RLock()
	t, duty, dutySet, dp := h.outletT, h.duty, h.dutySet, h.dp
	h.settingsMu.RUnlock()

	p := in.Pressure() - dp
	if p <= 0 {
		return invalidParameter(h.name, "pressure drop %.4f bar exceeds inlet pressure %.4f bara", dp, in.Pressure())
	}
	h1, err := h.propertyOf(ctx, in, thermo.PropEnthalpy)
	if err != nil {
		return err
	}
	flow := in.TotalFlowRate()

	out := in.Clone()
	switch {
	case dutySet:
		if flow <= 0 {
			if err := out.SetPressure(p, "bara"); err != nil {
				return err
			}
			err = h.tpFlash(ctx, out)
		} else {
			err = h.flash(ctx, out, thermo.PH(p, "bara", h1+duty/flow, "J/mol"))
		}
	case t > 0:
		err = h.flash(ctx, out, thermo.TP(t, "K", p, "bara"))
	default:
		return invalidParameter(h.name, "neither outlet temperature nor duty is set")
	}
	if err != nil {
		return err
	}
	h2, err := out.Property(thermo.PropEnthalpy, "J/mol")
	if err != nil {
		return err
	}

	h.resultMu.Lock()
	h.result = flow * (h2 - h1)
	h.resultMu.Unlock()
	h.outlet.SetFluid(out)
	return nil
}

// Inlet returns the inlet stream.
func (h *Heater) Inlet() *Stream { return h.inlet }

// Outlet returns the outlet stream.
func (h *Heater) Outlet() *Stream { return h.outlet }

// Inlets returns the inlet stream.
func (h *Heater) Inlets() []*Stream { return []*Stream{h.inlet} }

// Outlets returns the outlet stream.
func (h *Heater) Outlets() []*Stream { return []*Stream{h.outlet} }

// Scalars reports the duty.
func (h *Heater) Scalars() map[string]float64 {
	return map[string]float64{"duty_w": h.Duty()}
}

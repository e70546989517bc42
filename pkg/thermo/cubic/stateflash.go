package cubic

import (
	"fmt"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

const (
	minSearchTemperature = 20.0
	maxSearchTemperature = 3000.0
	minSearchPressure    = 1e-5
	maxSearchPressure    = 1e4
)

// bulkState is the mole-weighted bulk of a set of equilibrium phases.
type bulkState struct {
	h float64 // J/mol
	s float64 // J/(mol K)
	v float64 // m3/mol
}

func (b bulkState) internalEnergy(p float64) float64 {
	return b.h - p*1e5*b.v
}

// phaseThermo returns molar enthalpy, entropy and volume of one phase.
func (f *Fluid) phaseThermo(t, p float64, ph *phase) (h, s, v float64) {
	m := &mixture{kind: f.kind, t: t}
	h = idealEnthalpy(f.comps, ph.x, t) + m.residualEnthalpy(ph.eval)
	s = idealEntropy(f.comps, ph.x, t, p) + m.residualEntropy(ph.eval)
	v = ph.eval.z * r * t / (p * 1e5)
	return h, s, v
}

func (f *Fluid) bulkAt(t, p float64, z []float64) (bulkState, error) {
	phases, err := f.flashAt(t, p, z)
	if err != nil {
		return bulkState{}, err
	}
	var b bulkState
	for _, ph := range phases {
		h, s, v := f.phaseThermo(t, p, ph)
		b.h += ph.beta * h
		b.s += ph.beta * s
		b.v += ph.beta * v
	}
	return b, nil
}

func searchFailed(kind string, target float64, err error) error {
	return faults.NewFlashError(fmt.Sprintf("%s flash: no solution for target %g", kind, target), err)
}

// solveTemperature finds T at the current pressure where value(T) = target.
func (f *Fluid) solveTemperature(kind string, target float64, value func(bulkState) float64) error {
	if err := f.requireComponents(); err != nil {
		return err
	}
	z := f.Composition()
	p := f.p
	t, err := thermo.FindRoot(func(t float64) (float64, error) {
		b, err := f.bulkAt(t, p, z)
		if err != nil {
			return 0, err
		}
		return value(b) - target, nil
	}, minSearchTemperature, maxSearchTemperature, f.t, 1e-9, 1e-7)
	if err != nil {
		return searchFailed(kind, target, err)
	}
	f.t = t
	return f.TPFlash()
}

// solvePressure finds P at the current temperature where value(P) = target.
func (f *Fluid) solvePressure(kind string, target float64, value func(bulkState) float64) error {
	if err := f.requireComponents(); err != nil {
		return err
	}
	z := f.Composition()
	t := f.t
	lnP, err := thermo.FindRoot(func(x float64) (float64, error) {
		b, err := f.bulkAt(t, math.Exp(x), z)
		if err != nil {
			return 0, err
		}
		return value(b) - target, nil
	}, math.Log(minSearchPressure), math.Log(maxSearchPressure), math.Log(f.p), 1e-12, 1e-10)
	if err != nil {
		return searchFailed(kind, target, err)
	}
	f.p = math.Exp(lnP)
	return f.TPFlash()
}

// PHFlash finds the temperature giving molar enthalpy h at the current pressure.
func (f *Fluid) PHFlash(h float64) error {
	return f.solveTemperature("PH", h, func(b bulkState) float64 { return b.h })
}

// PSFlash finds the temperature giving molar entropy s at the current pressure.
func (f *Fluid) PSFlash(s float64) error {
	return f.solveTemperature("PS", s, func(b bulkState) float64 { return b.s })
}

// PUFlash finds the temperature giving molar internal energy u at the current pressure.
func (f *Fluid) PUFlash(u float64) error {
	p := f.p
	return f.solveTemperature("PU", u, func(b bulkState) float64 { return b.internalEnergy(p) })
}

// TVFlash finds the pressure giving molar volume v at the current temperature.
func (f *Fluid) TVFlash(v float64) error {
	if v <= 0 {
		return faults.NewConfigurationError("TV flash: molar volume must be positive", nil).
			WithCode(faults.ErrCodeInvalidSpec)
	}
	return f.solvePressure("TV", math.Log(v), func(b bulkState) float64 { return math.Log(b.v) })
}

// TSFlash finds the pressure giving molar entropy s at the current temperature.
func (f *Fluid) TSFlash(s float64) error {
	return f.solvePressure("TS", s, func(b bulkState) float64 { return b.s })
}

// VHFlash finds temperature and pressure giving molar volume v and enthalpy h.
func (f *Fluid) VHFlash(v, h float64) error {
	return f.volumeEnergyFlash("VH", v, h, func(b bulkState, _ float64) float64 { return b.h })
}

// VUFlash finds temperature and pressure giving molar volume v and internal energy u.
func (f *Fluid) VUFlash(v, u float64) error {
	return f.volumeEnergyFlash("VU", v, u, func(b bulkState, p float64) float64 { return b.internalEnergy(p) })
}

// volumeEnergyFlash nests a TV pressure search inside a temperature search.
func (f *Fluid) volumeEnergyFlash(kind string, v, target float64, value func(bulkState, float64) float64) error {
	if v <= 0 {
		return faults.NewConfigurationError(kind+" flash: molar volume must be positive", nil).
			WithCode(faults.ErrCodeInvalidSpec)
	}
	if err := f.requireComponents(); err != nil {
		return err
	}
	z := f.Composition()
	lnV := math.Log(v)
	pressureAt := func(t, guess float64) (float64, bulkState, error) {
		var last bulkState
		lnP, err := thermo.FindRoot(func(x float64) (float64, error) {
			b, err := f.bulkAt(t, math.Exp(x), z)
			if err != nil {
				return 0, err
			}
			last = b
			return math.Log(b.v) - lnV, nil
		}, math.Log(minSearchPressure), math.Log(maxSearchPressure), math.Log(guess), 1e-12, 1e-10)
		if err != nil {
			return 0, last, err
		}
		p := math.Exp(lnP)
		b, err := f.bulkAt(t, p, z)
		return p, b, err
	}

	guess := f.p
	t, err := thermo.FindRoot(func(t float64) (float64, error) {
		p, b, err := pressureAt(t, guess)
		if err != nil {
			return 0, err
		}
		guess = p
		return value(b, p) - target, nil
	}, minSearchTemperature, maxSearchTemperature, f.t, 1e-9, 1e-7)
	if err != nil {
		return searchFailed(kind, target, err)
	}
	p, _, err := pressureAt(t, guess)
	if err != nil {
		return searchFailed(kind, target, err)
	}
	f.t, f.p = t, p
	return f.TPFlash()
}

package cubic

import (
	"fmt"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

const maxSaturationIterations = 1000

// bubblePressure returns the bubble-point pressure of z at the mixture temperature.
func (m *mixture) bubblePressure(z []float64) (float64, error) {
	var p float64
	for i, c := range m.comps {
		p += z[i] * c.pc * math.Exp(5.373*(1+c.omega)*(1-c.tc/m.t))
	}
	p = clampPressure(p)
	k := wilsonK(m.comps, m.t, p)
	y := make([]float64, len(z))

	for iter := 0; iter < maxSaturationIterations; iter++ {
		var sum float64
		for i := range z {
			y[i] = k[i] * z[i]
			sum += y[i]
		}
		for i := range y {
			y[i] /= sum
		}
		liq := m.evaluate(z, p, rootLiquid)
		vap := m.evaluate(y, p, rootVapor)
		var s, dist float64
		for i := range z {
			k[i] = math.Exp(liq.lnPhi[i] - vap.lnPhi[i])
			s += k[i] * z[i]
			d := math.Log(k[i])
			dist += d * d
		}
		if dist < 1e-8 {
			return 0, errTrivial
		}
		next := clampPressure(p * s)
		if math.Abs(s-1) < 1e-10 {
			return next, nil
		}
		p = next
	}
	return 0, thermo.ErrNoConvergence
}

// dewPressure returns the dew-point pressure of z at the mixture temperature.
func (m *mixture) dewPressure(z []float64) (float64, error) {
	var inv float64
	for i, c := range m.comps {
		inv += z[i] / (c.pc * math.Exp(5.373*(1+c.omega)*(1-c.tc/m.t)))
	}
	p := clampPressure(1 / inv)
	k := wilsonK(m.comps, m.t, p)
	x := make([]float64, len(z))

	for iter := 0; iter < maxSaturationIterations; iter++ {
		var sum float64
		for i := range z {
			x[i] = z[i] / k[i]
			sum += x[i]
		}
		for i := range x {
			x[i] /= sum
		}
		liq := m.evaluate(x, p, rootLiquid)
		vap := m.evaluate(z, p, rootVapor)
		var s, dist float64
		for i := range z {
			k[i] = math.Exp(liq.lnPhi[i] - vap.lnPhi[i])
			s += z[i] / k[i]
			d := math.Log(k[i])
			dist += d * d
		}
		if dist < 1e-8 {
			return 0, errTrivial
		}
		next := clampPressure(p / s)
		if math.Abs(s-1) < 1e-10 {
			return next, nil
		}
		p = next
	}
	return 0, thermo.ErrNoConvergence
}

func clampPressure(p float64) float64 {
	return math.Min(math.Max(p, minSearchPressure), maxSearchPressure)
}

func saturationFailed(kind string, err error) error {
	return faults.NewFlashError(kind+" search failed", err)
}

func (f *Fluid) saturationPressure(kind string, search func(*mixture, []float64) (float64, error)) error {
	if err := f.requireComponents(); err != nil {
		return err
	}
	p, err := search(f.mixtureAt(f.t), f.Composition())
	if err != nil {
		return saturationFailed(kind, err)
	}
	f.p = p
	return f.TPFlash()
}

func (f *Fluid) saturationTemperature(kind string, search func(*mixture, []float64) (float64, error)) error {
	if err := f.requireComponents(); err != nil {
		return err
	}
	z := f.Composition()
	target := math.Log(f.p)
	t, err := thermo.FindRoot(func(t float64) (float64, error) {
		p, err := search(f.mixtureAt(t), z)
		if err != nil {
			return 0, err
		}
		return math.Log(p) - target, nil
	}, minSearchTemperature, maxSearchTemperature, f.t, 1e-8, 1e-10)
	if err != nil {
		return saturationFailed(kind, err)
	}
	f.t = t
	return f.TPFlash()
}

func bubble(m *mixture, z []float64) (float64, error) {
	return m.bubblePressure(z)
}

func dew(m *mixture, z []float64) (float64, error) {
	return m.dewPressure(z)
}

// saturation tries the bubble point first and falls back to the dew point.
func saturation(m *mixture, z []float64) (float64, error) {
	if p, err := m.bubblePressure(z); err == nil {
		return p, nil
	}
	return m.dewPressure(z)
}

// BubblePointPressure sets the pressure to the bubble point at the current temperature.
func (f *Fluid) BubblePointPressure() error {
	return f.saturationPressure("bubble-point pressure", bubble)
}

// DewPointPressure sets the pressure to the dew point at the current temperature.
func (f *Fluid) DewPointPressure() error {
	return f.saturationPressure("dew-point pressure", dew)
}

// SaturationPressure sets the pressure to the bubble point, or the dew point
// when no bubble point exists at the current temperature.
func (f *Fluid) SaturationPressure() error {
	return f.saturationPressure("saturation pressure", saturation)
}

// BubblePointTemperature sets the temperature to the bubble point at the current pressure.
func (f *Fluid) BubblePointTemperature() error {
	return f.saturationTemperature("bubble-point temperature", bubble)
}

// DewPointTemperature sets the temperature to the dew point at the current pressure.
func (f *Fluid) DewPointTemperature() error {
	return f.saturationTemperature("dew-point temperature", dew)
}

// SaturationTemperature sets the temperature to the bubble or dew point at the current pressure.
func (f *Fluid) SaturationTemperature() error {
	return f.saturationTemperature("saturation temperature", saturation)
}

// Wagner-Pruss coefficients for the vapour pressure of water.
var wagnerWater = [6]float64{-7.85951783, 1.84408259, -11.7866497, 22.6807411, -15.9618719, 1.80122502}

const (
	waterCriticalTemp  = 647.096
	waterCriticalPress = 220.64
)

// waterVapourPressure returns the vapour pressure of water in bara.
func waterVapourPressure(t float64) float64 {
	if t >= waterCriticalTemp {
		return waterCriticalPress
	}
	tau := 1 - t/waterCriticalTemp
	a := wagnerWater
	sum := a[0]*tau + a[1]*math.Pow(tau, 1.5) + a[2]*math.Pow(tau, 3) +
		a[3]*math.Pow(tau, 3.5) + a[4]*math.Pow(tau, 4) + a[5]*math.Pow(tau, 7.5)
	return waterCriticalPress * math.Exp(waterCriticalTemp/t*sum)
}

// WaterDewPointTemperature sets the temperature at which the water content
// of the fluid saturates at the current pressure.
func (f *Fluid) WaterDewPointTemperature() error {
	if err := f.requireComponents(); err != nil {
		return err
	}
	w := f.waterIndex()
	z := f.Composition()
	if w < 0 || z[w] == 0 {
		return faults.NewFlashError("water dew point: fluid contains no water", nil)
	}
	partial := z[w] * f.p
	if partial >= waterCriticalPress {
		return faults.NewFlashError("water dew point: water partial pressure above critical", nil)
	}
	t, err := thermo.FindRoot(func(t float64) (float64, error) {
		return math.Log(waterVapourPressure(t)) - math.Log(partial), nil
	}, 150, waterCriticalTemp-1e-6, 280, 1e-9, 1e-12)
	if err != nil {
		return saturationFailed("water dew point", err)
	}
	f.t = t
	return f.TPFlash()
}

// HydrateTemperature sets the temperature to the hydrate formation
// temperature at the current pressure, estimated from the gas gravity of the
// water-free fluid (Motiee correlation).
func (f *Fluid) HydrateTemperature() error {
	if err := f.requireComponents(); err != nil {
		return err
	}
	w := f.waterIndex()
	z := f.Composition()
	if w < 0 || z[w] == 0 {
		return faults.NewFlashError("hydrate point: fluid contains no water", nil)
	}
	var dry, mass, formers float64
	for i, c := range f.comps {
		if i == w {
			continue
		}
		dry += z[i]
		mass += z[i] * c.molarMass
		if isHydrateFormer(c) {
			formers += z[i]
		}
	}
	if formers == 0 {
		return faults.NewFlashError("hydrate point: no hydrate-forming components", nil)
	}
	gamma := mass / dry / thermo.AirMolarMass
	psia := f.p / 0.0689475729
	lp := math.Log10(psia)
	tF := -238.24469 + 78.99667*lp - 5.352544*lp*lp + 349.473877*gamma - 150.854675*gamma*gamma - 27.604065*gamma*lp
	t := (tF + 459.67) * 5 / 9
	if t <= 0 || math.IsNaN(t) {
		return faults.NewFlashError(fmt.Sprintf("hydrate point: correlation out of range at %.3f bara", f.p), nil)
	}
	f.t = t
	return f.TPFlash()
}

func isHydrateFormer(c component) bool {
	switch c.name {
	case "methane", "ethane", "propane", "i-butane", "n-butane", "nitrogen", "CO2", "H2S":
		return true
	}
	return false
}

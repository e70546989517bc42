package thermo

import (
	"fmt"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
)

// CriticalEstimate holds estimated properties of a petroleum fraction.
type CriticalEstimate struct {
	BoilingPoint  float64 // K
	CriticalTemp  float64 // K
	CriticalPress float64 // bara
	Acentric      float64
	CriticalVol   float64 // m3/mol
	WatsonK       float64
}

// BoilingPointRiaziDaubert estimates the normal boiling point (K) from molar
// mass (kg/mol) and relative density.
func BoilingPointRiaziDaubert(molarMass, sg float64) float64 {
	m := molarMass * 1e3
	return math.Pow(m/(1.6607e-4*math.Pow(sg, -1.0164)), 1/2.1962)
}

// EstimateCritical estimates critical properties of a pseudo-component with
// the Kesler-Lee correlations. tb may be zero, in which case the boiling
// point is estimated from molar mass and relative density.
func EstimateCritical(molarMass, sg, tb float64) (CriticalEstimate, error) {
	if molarMass <= 0 || sg <= 0 {
		return CriticalEstimate{}, faults.NewConfigurationError(
			fmt.Sprintf("pseudo-component needs positive molar mass and density, got M=%g SG=%g", molarMass, sg), nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	if tb <= 0 {
		tb = BoilingPointRiaziDaubert(molarMass, sg)
	}

	tbR := tb * 1.8
	tcR := 341.7 + 811*sg + (0.4244+0.1174*sg)*tbR + (0.4669-3.2623*sg)*1e5/tbR
	lnPc := 8.3634 - 0.0566/sg -
		(0.24244+2.2898/sg+0.11857/(sg*sg))*1e-3*tbR +
		(1.4685+3.648/sg+0.47227/(sg*sg))*1e-7*tbR*tbR -
		(0.42019+1.6977/(sg*sg))*1e-10*tbR*tbR*tbR
	pcPsia := math.Exp(lnPc)

	kw := math.Cbrt(tbR) / sg
	tbr := tbR / tcR
	var omega float64
	if tbr < 0.8 {
		num := -math.Log(pcPsia/14.696) - 5.92714 + 6.09648/tbr + 1.28862*math.Log(tbr) - 0.169347*math.Pow(tbr, 6)
		den := 15.2518 - 15.6875/tbr - 13.4721*math.Log(tbr) + 0.43577*math.Pow(tbr, 6)
		omega = num / den
	} else {
		omega = -7.904 + 0.1352*kw - 0.007465*kw*kw + 8.359*tbr + (1.408-0.01063*kw)/tbr
	}

	tc := tcR / 1.8
	pc := pcPsia * 0.0689475729
	zc := 0.2918 - 0.0928*omega
	return CriticalEstimate{
		BoilingPoint:  tb,
		CriticalTemp:  tc,
		CriticalPress: pc,
		Acentric:      omega,
		CriticalVol:   zc * GasConstant * tc / (pc * 1e5),
		WatsonK:       kw,
	}, nil
}

// IdealGasCpKeslerLee returns polynomial coefficients (J/(mol K), T in K) of
// the Kesler-Lee ideal gas heat capacity for a petroleum fraction.
func IdealGasCpKeslerLee(molarMass, watsonK float64) [4]float64 {
	a0 := -1.41779 + 0.11828*watsonK
	a1 := -(6.99724 - 8.69326*watsonK + 0.27715*watsonK*watsonK) * 1e-4
	a2 := -2.2582e-6
	f := 4186.8 * molarMass
	return [4]float64{f * a0, f * a1 * 1.8, f * a2 * 3.24, 0}
}

package cubic

import (
	"fmt"
	"strings"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// component holds the pure-component constants used by the equation of state.
type component struct {
	name      string
	tc        float64    // K
	pc        float64    // bara
	omega     float64    // acentric factor
	molarMass float64    // kg/mol
	vc        float64    // m3/mol
	cp        [4]float64 // ideal gas Cp = c0 + c1 T + c2 T^2 + c3 T^3, J/(mol K)
	family    family
	pseudo    bool
	sg        float64
	def       thermo.PseudoComponent // pseudo only
}

type family int

const (
	familyHydrocarbon family = iota
	familyNitrogen
	familyCO2
	familyH2S
	familyWater
)

// database lists the defined components. Cp coefficients are from Reid,
// Prausnitz and Poling.
var database = map[string]component{
	"methane":   {name: "methane", tc: 190.56, pc: 45.99, omega: 0.011, molarMass: 0.016043, vc: 98.6e-6, cp: [4]float64{19.25, 5.213e-2, 1.197e-5, -1.132e-8}},
	"ethane":    {name: "ethane", tc: 305.32, pc: 48.72, omega: 0.099, molarMass: 0.03007, vc: 145.5e-6, cp: [4]float64{5.409, 1.781e-1, -6.938e-5, 8.713e-9}},
	"propane":   {name: "propane", tc: 369.83, pc: 42.48, omega: 0.152, molarMass: 0.044097, vc: 200.0e-6, cp: [4]float64{-4.224, 3.063e-1, -1.586e-4, 3.215e-8}},
	"i-butane":  {name: "i-butane", tc: 407.8, pc: 36.4, omega: 0.186, molarMass: 0.058123, vc: 262.7e-6, cp: [4]float64{-1.390, 3.847e-1, -1.846e-4, 2.895e-8}},
	"n-butane":  {name: "n-butane", tc: 425.12, pc: 37.96, omega: 0.200, molarMass: 0.058123, vc: 255.0e-6, cp: [4]float64{9.487, 3.313e-1, -1.108e-4, -2.822e-9}},
	"i-pentane": {name: "i-pentane", tc: 460.4, pc: 33.8, omega: 0.227, molarMass: 0.07215, vc: 306.0e-6, cp: [4]float64{-9.525, 5.066e-1, -2.729e-4, 5.723e-8}},
	"n-pentane": {name: "n-pentane", tc: 469.7, pc: 33.7, omega: 0.252, molarMass: 0.07215, vc: 311.0e-6, cp: [4]float64{-3.626, 4.873e-1, -2.580e-4, 5.305e-8}},
	"n-hexane":  {name: "n-hexane", tc: 507.6, pc: 30.25, omega: 0.300, molarMass: 0.086177, vc: 368.0e-6, cp: [4]float64{-4.413, 5.820e-1, -3.119e-4, 6.494e-8}},
	"n-heptane": {name: "n-heptane", tc: 540.2, pc: 27.4, omega: 0.350, molarMass: 0.100204, vc: 428.0e-6, cp: [4]float64{-5.146, 6.762e-1, -3.651e-4, 7.658e-8}},
	"n-octane":  {name: "n-octane", tc: 568.7, pc: 24.9, omega: 0.399, molarMass: 0.114231, vc: 492.0e-6, cp: [4]float64{-6.096, 7.712e-1, -4.195e-4, 8.855e-8}},
	"nitrogen":  {name: "nitrogen", tc: 126.2, pc: 33.98, omega: 0.037, molarMass: 0.028014, vc: 90.1e-6, cp: [4]float64{31.15, -1.357e-2, 2.680e-5, -1.168e-8}, family: familyNitrogen},
	"CO2":       {name: "CO2", tc: 304.12, pc: 73.74, omega: 0.225, molarMass: 0.04401, vc: 94.07e-6, cp: [4]float64{19.80, 7.344e-2, -5.602e-5, 1.715e-8}, family: familyCO2},
	"H2S":       {name: "H2S", tc: 373.53, pc: 89.63, omega: 0.094, molarMass: 0.03408, vc: 98.6e-6, cp: [4]float64{31.94, 1.436e-3, 2.432e-5, -1.176e-8}, family: familyH2S},
	"water":     {name: "water", tc: 647.14, pc: 220.64, omega: 0.344, molarMass: 0.018015, vc: 55.95e-6, cp: [4]float64{32.24, 1.924e-3, 1.055e-5, -3.596e-9}, family: familyWater},
}

var aliases = map[string]string{
	"c1":             "methane",
	"ch4":            "methane",
	"c2":             "ethane",
	"c3":             "propane",
	"ic4":            "i-butane",
	"isobutane":      "i-butane",
	"nc4":            "n-butane",
	"butane":         "n-butane",
	"ic5":            "i-pentane",
	"isopentane":     "i-pentane",
	"nc5":            "n-pentane",
	"pentane":        "n-pentane",
	"nc6":            "n-hexane",
	"hexane":         "n-hexane",
	"c6":             "n-hexane",
	"nc7":            "n-heptane",
	"heptane":        "n-heptane",
	"nc8":            "n-octane",
	"octane":         "n-octane",
	"n2":             "nitrogen",
	"co2":            "CO2",
	"carbon dioxide": "CO2",
	"h2s":            "H2S",
	"h2o":            "water",
}

// lookupComponent resolves a defined component by name or alias.
func lookupComponent(name string) (component, error) {
	if c, ok := database[name]; ok {
		return c, nil
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if c, ok := database[key]; ok {
		return c, nil
	}
	if canonical, ok := aliases[key]; ok {
		return database[canonical], nil
	}
	return component{}, faults.NewConfigurationError(fmt.Sprintf("unknown component %q", name), nil).
		WithCode(faults.ErrCodeUnknownComponent)
}

// KnownComponent reports whether name resolves to a defined component.
func KnownComponent(name string) bool {
	_, err := lookupComponent(name)
	return err == nil
}

// pseudoComponent builds EOS constants for a characterized fraction.
func pseudoComponent(pc thermo.PseudoComponent) (component, error) {
	est, err := thermo.EstimateCritical(pc.MolarMass, pc.RelativeDensity, pc.BoilingPoint)
	if err != nil {
		return component{}, err
	}
	c := component{
		name:      pc.Name,
		tc:        est.CriticalTemp,
		pc:        est.CriticalPress,
		omega:     est.Acentric,
		molarMass: pc.MolarMass,
		vc:        est.CriticalVol,
		cp:        thermo.IdealGasCpKeslerLee(pc.MolarMass, est.WatsonK),
		pseudo:    true,
		sg:        pc.RelativeDensity,
		def:       pc,
	}
	c.def.Moles = 0
	if pc.CriticalTemp > 0 && pc.CriticalPress > 0 {
		c.tc = pc.CriticalTemp
		c.pc = pc.CriticalPress
		c.omega = pc.Acentric
		zc := 0.2918 - 0.0928*c.omega
		c.vc = zc * thermo.GasConstant * c.tc / (c.pc * 1e5)
	}
	return c, nil
}

// interaction returns the binary interaction parameter used by the
// MixingClassicBIP rule.
func interaction(a, b component) float64 {
	if a.family > b.family {
		a, b = b, a
	}
	switch {
	case a.family == b.family:
		return 0
	case a.family == familyHydrocarbon && b.family == familyNitrogen:
		return 0.035
	case a.family == familyHydrocarbon && b.family == familyCO2:
		return 0.12
	case a.family == familyHydrocarbon && b.family == familyH2S:
		return 0.08
	case a.family == familyHydrocarbon && b.family == familyWater:
		return 0.5
	case a.family == familyNitrogen && b.family == familyCO2:
		return -0.017
	case a.family == familyNitrogen && b.family == familyWater:
		return 0.4
	case a.family == familyCO2 && b.family == familyH2S:
		return 0.097
	case a.family == familyCO2 && b.family == familyWater:
		return 0.19
	case a.family == familyH2S && b.family == familyWater:
		return 0.04
	}
	return 0
}

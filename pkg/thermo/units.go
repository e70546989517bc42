package thermo

import (
	"fmt"
	"strings"

	"github.com/openfroyo/procsim/pkg/faults"
)

// Quantity identifies the physical dimension of a value.
type Quantity int

const (
	QuantityDimensionless Quantity = iota
	QuantityTemperature
	QuantityPressure
	QuantityMolarEnergy
	QuantityMolarEntropy
	QuantityMolarVolume
	QuantityMolarFlow
	QuantityMassFlow
	QuantityVolumeFlow
	QuantityDensity
	QuantityViscosity
	QuantityPower
	QuantityMolarMass
)

// String returns the quantity name.
func (q Quantity) String() string {
	switch q {
	case QuantityTemperature:
		return "temperature"
	case QuantityPressure:
		return "pressure"
	case QuantityMolarEnergy:
		return "molar energy"
	case QuantityMolarEntropy:
		return "molar entropy"
	case QuantityMolarVolume:
		return "molar volume"
	case QuantityMolarFlow:
		return "molar flow"
	case QuantityMassFlow:
		return "mass flow"
	case QuantityVolumeFlow:
		return "volume flow"
	case QuantityDensity:
		return "density"
	case QuantityViscosity:
		return "viscosity"
	case QuantityPower:
		return "power"
	case QuantityMolarMass:
		return "molar mass"
	default:
		return "dimensionless"
	}
}

// ParseQuantity maps a quantity name such as "pressure" or "molar_flow"
// onto a Quantity.
func ParseQuantity(name string) (Quantity, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", " ")
	for q := QuantityDimensionless; q <= QuantityMolarMass; q++ {
		if q.String() == n {
			return q, nil
		}
	}
	return QuantityDimensionless, faults.NewConfigurationError(fmt.Sprintf("unknown quantity %q", name), nil).
		WithCode(faults.ErrCodeInvalidParameter)
}

// Physical constants shared by the engine and the flowsheet.
const (
	// GasConstant in J/(mol K).
	GasConstant = 8.314462618
	// StandardTemperature is the reference temperature for standard volumes, K.
	StandardTemperature = 288.15
	// StandardPressure is the reference pressure for standard volumes, bara.
	StandardPressure = 1.01325
	// AtmosphericPressure in bara, used for gauge units.
	AtmosphericPressure = 1.01325
	// AirMolarMass in kg/mol, used for gas specific gravity.
	AirMolarMass = 0.028966
)

// molPerSm3 is the ideal-gas moles in one standard cubic metre.
var molPerSm3 = StandardPressure * 1e5 / (GasConstant * StandardTemperature)

// linear maps a unit onto the canonical unit as canonical = v*scale + offset.
type linear struct {
	scale  float64
	offset float64
}

// canonicalUnits names the canonical unit of each quantity. An empty unit
// string resolves to this unit.
var canonicalUnits = map[Quantity]string{
	QuantityDimensionless: "",
	QuantityTemperature:   "K",
	QuantityPressure:      "bara",
	QuantityMolarEnergy:   "J/mol",
	QuantityMolarEntropy:  "J/molK",
	QuantityMolarVolume:   "m3/mol",
	QuantityMolarFlow:     "mol/s",
	QuantityMassFlow:      "kg/s",
	QuantityVolumeFlow:    "m3/s",
	QuantityDensity:       "kg/m3",
	QuantityViscosity:     "Pa*s",
	QuantityPower:         "W",
	QuantityMolarMass:     "kg/mol",
}

var unitTable = map[Quantity]map[string]linear{
	QuantityDimensionless: {
		"":  {1, 0},
		"-": {1, 0},
		"%": {0.01, 0},
	},
	QuantityTemperature: {
		"K": {1, 0},
		"C": {1, 273.15},
		"F": {5.0 / 9.0, 459.67 * 5.0 / 9.0},
		"R": {5.0 / 9.0, 0},
	},
	QuantityPressure: {
		"bara": {1, 0},
		"bar":  {1, 0},
		"barg": {1, AtmosphericPressure},
		"Pa":   {1e-5, 0},
		"kPa":  {1e-2, 0},
		"MPa":  {10, 0},
		"psia": {0.0689475729, 0},
		"psi":  {0.0689475729, 0},
		"psig": {0.0689475729, AtmosphericPressure},
		"atm":  {AtmosphericPressure, 0},
	},
	QuantityMolarEnergy: {
		"J/mol":   {1, 0},
		"kJ/mol":  {1e3, 0},
		"J/kmol":  {1e-3, 0},
		"kJ/kmol": {1, 0},
	},
	QuantityMolarEntropy: {
		"J/molK":   {1, 0},
		"kJ/molK":  {1e3, 0},
		"kJ/kmolK": {1, 0},
	},
	QuantityMolarVolume: {
		"m3/mol":  {1, 0},
		"m3/kmol": {1e-3, 0},
		"L/mol":   {1e-3, 0},
		"cm3/mol": {1e-6, 0},
	},
	QuantityMolarFlow: {
		"mol/s":     {1, 0},
		"mol/sec":   {1, 0},
		"mol/hr":    {1.0 / 3600, 0},
		"kmol/s":    {1e3, 0},
		"kmol/hr":   {1e3 / 3600, 0},
		"Sm3/hr":    {molPerSm3 / 3600, 0},
		"Sm3/day":   {molPerSm3 / 86400, 0},
		"MSm3/day":  {1e6 * molPerSm3 / 86400, 0},
		"MMSCFD":    {1e6 * 0.0283168466 * molPerSm3 / 86400, 0},
		"kmol/day":  {1e3 / 86400, 0},
		"mole/sec":  {1, 0},
		"mol/min":   {1.0 / 60, 0},
		"kmol/min":  {1e3 / 60, 0},
		"Mmol/day":  {1e6 / 86400, 0},
		"tonmol/hr": {1e6 / 3600, 0},
	},
	QuantityMassFlow: {
		"kg/s":     {1, 0},
		"kg/sec":   {1, 0},
		"kg/hr":    {1.0 / 3600, 0},
		"kg/min":   {1.0 / 60, 0},
		"tonne/hr": {1e3 / 3600, 0},
		"kg/day":   {1.0 / 86400, 0},
	},
	QuantityVolumeFlow: {
		"m3/s":   {1, 0},
		"m3/hr":  {1.0 / 3600, 0},
		"m3/day": {1.0 / 86400, 0},
		"L/s":    {1e-3, 0},
	},
	QuantityDensity: {
		"kg/m3":  {1, 0},
		"g/cm3":  {1e3, 0},
		"lb/ft3": {16.0184634, 0},
	},
	QuantityViscosity: {
		"Pa*s":    {1, 0},
		"Pas":     {1, 0},
		"kg/msec": {1, 0},
		"cP":      {1e-3, 0},
		"mPa*s":   {1e-3, 0},
	},
	QuantityPower: {
		"W":   {1, 0},
		"kW":  {1e3, 0},
		"MW":  {1e6, 0},
		"hp":  {745.699872, 0},
		"J/s": {1, 0},
	},
	QuantityMolarMass: {
		"kg/mol":  {1, 0},
		"g/mol":   {1e-3, 0},
		"kg/kmol": {1e-3, 0},
	},
}

func lookupUnit(q Quantity, unit string) (linear, error) {
	table, ok := unitTable[q]
	if !ok {
		return linear{}, faults.NewConfigurationError(fmt.Sprintf("no units registered for %s", q), nil).
			WithCode(faults.ErrCodeUnknownUnit)
	}
	unit = strings.TrimSpace(unit)
	if unit == "" {
		unit = canonicalUnits[q]
	}
	if l, ok := table[unit]; ok {
		return l, nil
	}
	return linear{}, faults.NewConfigurationError(fmt.Sprintf("unknown %s unit %q", q, unit), nil).
		WithCode(faults.ErrCodeUnknownUnit).
		WithDetail("unit", unit)
}

// CanonicalUnit returns the canonical unit of a quantity.
func CanonicalUnit(q Quantity) string {
	return canonicalUnits[q]
}

// ToCanonical converts a value in the given unit to the canonical unit.
// An empty unit string means the value is already canonical.
func ToCanonical(q Quantity, value float64, unit string) (float64, error) {
	l, err := lookupUnit(q, unit)
	if err != nil {
		return 0, err
	}
	return value*l.scale + l.offset, nil
}

// DifferenceToCanonical converts a difference such as a pressure drop or a
// temperature rise, ignoring unit offsets.
func DifferenceToCanonical(q Quantity, value float64, unit string) (float64, error) {
	l, err := lookupUnit(q, unit)
	if err != nil {
		return 0, err
	}
	return value * l.scale, nil
}

// FromCanonical converts a canonical value to the given unit.
func FromCanonical(q Quantity, value float64, unit string) (float64, error) {
	l, err := lookupUnit(q, unit)
	if err != nil {
		return 0, err
	}
	return (value - l.offset) / l.scale, nil
}

// Convert converts a value between two units of the same quantity.
func Convert(q Quantity, value float64, from, to string) (float64, error) {
	c, err := ToCanonical(q, value, from)
	if err != nil {
		return 0, err
	}
	return FromCanonical(q, c, to)
}

// IsMassFlowUnit reports whether unit is a mass flow unit.
func IsMassFlowUnit(unit string) bool {
	_, ok := unitTable[QuantityMassFlow][strings.TrimSpace(unit)]
	return ok
}

// FlowToMolar converts a molar or mass flow to mol/s. molarMass is in kg/mol
// and is only consulted for mass units.
func FlowToMolar(value float64, unit string, molarMass float64) (float64, error) {
	if IsMassFlowUnit(unit) {
		if molarMass <= 0 {
			return 0, faults.NewConfigurationError("mass flow requires a positive molar mass", nil).
				WithCode(faults.ErrCodeInvalidParameter)
		}
		kgs, err := ToCanonical(QuantityMassFlow, value, unit)
		if err != nil {
			return 0, err
		}
		return kgs / molarMass, nil
	}
	return ToCanonical(QuantityMolarFlow, value, unit)
}

// MolarToFlow converts mol/s to the requested molar or mass flow unit.
func MolarToFlow(value float64, unit string, molarMass float64) (float64, error) {
	if IsMassFlowUnit(unit) {
		return FromCanonical(QuantityMassFlow, value*molarMass, unit)
	}
	return FromCanonical(QuantityMolarFlow, value, unit)
}

// Units returns the registered unit names for a quantity.
func Units(q Quantity) []string {
	table := unitTable[q]
	out := make([]string, 0, len(table))
	for name := range table {
		out = append(out, name)
	}
	return out
}

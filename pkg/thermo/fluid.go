package thermo

// PhaseTag names an equilibrium phase.
type PhaseTag string

const (
	PhaseGas     PhaseTag = "gas"
	PhaseOil     PhaseTag = "oil"
	PhaseAqueous PhaseTag = "aqueous"
	// PhaseLiquid matches the first liquid phase present, oil before aqueous.
	PhaseLiquid PhaseTag = "liquid"
)

// Property identifies a bulk or phase property.
type Property int

const (
	PropTemperature Property = iota
	PropPressure
	PropMoleFraction
	PropMolarFlow
	PropMassFlow
	PropVolumeFlow
	PropMolarMass
	PropEnthalpy
	PropEntropy
	PropInternalEnergy
	PropCp
	PropMolarVolume
	PropDensity
	PropZ
	PropViscosity
)

var propertyNames = map[Property]string{
	PropTemperature:    "temperature",
	PropPressure:       "pressure",
	PropMoleFraction:   "mole_fraction",
	PropMolarFlow:      "molar_flow",
	PropMassFlow:       "mass_flow",
	PropVolumeFlow:     "volume_flow",
	PropMolarMass:      "molar_mass",
	PropEnthalpy:       "enthalpy",
	PropEntropy:        "entropy",
	PropInternalEnergy: "internal_energy",
	PropCp:             "cp",
	PropMolarVolume:    "molar_volume",
	PropDensity:        "density",
	PropZ:              "z",
	PropViscosity:      "viscosity",
}

// String returns the property name.
func (p Property) String() string {
	if n, ok := propertyNames[p]; ok {
		return n
	}
	return "unknown"
}

// ParseProperty maps a property name onto a Property.
func ParseProperty(name string) (Property, bool) {
	for p, n := range propertyNames {
		if n == name {
			return p, true
		}
	}
	return 0, false
}

// Quantity returns the dimension used to convert the property.
func (p Property) Quantity() Quantity {
	switch p {
	case PropTemperature:
		return QuantityTemperature
	case PropPressure:
		return QuantityPressure
	case PropMolarFlow:
		return QuantityMolarFlow
	case PropMassFlow:
		return QuantityMassFlow
	case PropVolumeFlow:
		return QuantityVolumeFlow
	case PropMolarMass:
		return QuantityMolarMass
	case PropEnthalpy, PropInternalEnergy:
		return QuantityMolarEnergy
	case PropEntropy, PropCp:
		return QuantityMolarEntropy
	case PropMolarVolume:
		return QuantityMolarVolume
	case PropDensity:
		return QuantityDensity
	case PropViscosity:
		return QuantityViscosity
	default:
		return QuantityDimensionless
	}
}

// PseudoComponent describes a characterized petroleum fraction. Critical
// properties are optional; engines estimate missing ones from molar mass and
// relative density.
type PseudoComponent struct {
	Name            string
	Moles           float64
	MolarMass       float64 // kg/mol
	RelativeDensity float64 // water = 1
	BoilingPoint    float64 // K, optional
	CriticalTemp    float64 // K, optional
	CriticalPress   float64 // bara, optional
	Acentric        float64 // optional when CriticalTemp is set

	// PlusFraction marks the heaviest residual cut; LumpCount is the number
	// of pseudo-components it should be split into. Both are consumed by
	// characterization and ignored by engines that take cuts as given.
	PlusFraction bool
	LumpCount    int
}

// Options are the phase-behaviour switches of a fluid.
type Options struct {
	MultiPhaseCheck bool
	SolidCheck      bool
	HydrateCheck    bool
}

// Fluid is an opaque thermodynamic state owned by exactly one holder.
//
// Mutating composition, temperature or pressure invalidates any phase result
// until the next flash. Flash entry points take canonical units; unit handling
// belongs to the Dispatcher. Implementations are not safe for concurrent use;
// Clone is the isolation mechanism.
type Fluid interface {
	Model() Model
	Components() []string

	AddComponent(name string, amount float64, unit string) error
	AddPseudoComponent(pc PseudoComponent) error
	// PseudoComponent returns the definition a pseudo-component was added
	// with, Moles zeroed. ok is false for database components.
	PseudoComponent(name string) (pc PseudoComponent, ok bool)
	// Composition returns bulk mole fractions aligned with Components.
	Composition() []float64
	// SetComposition replaces the bulk mole fractions; z is normalized.
	SetComposition(z []float64) error

	SetTemperature(value float64, unit string) error
	SetPressure(value float64, unit string) error
	SetTotalFlowRate(value float64, unit string) error
	Temperature() float64 // K
	Pressure() float64    // bara
	TotalFlowRate() float64

	SetMixingRule(rule MixingRule)
	MixingRule() MixingRule
	SetMultiPhaseCheck(on bool)
	SetSolidCheck(on bool)
	SetHydrateCheck(on bool)
	Options() Options

	TPFlash() error
	PHFlash(h float64) error
	PSFlash(s float64) error
	TVFlash(v float64) error
	TSFlash(s float64) error
	VHFlash(v, h float64) error
	VUFlash(v, u float64) error
	PUFlash(u float64) error
	BubblePointPressure() error
	BubblePointTemperature() error
	DewPointPressure() error
	DewPointTemperature() error
	SaturationPressure() error
	SaturationTemperature() error
	WaterDewPointTemperature() error
	HydrateTemperature() error

	// InitProperties computes derived phase properties after a flash.
	InitProperties() error
	Flashed() bool
	NumberOfPhases() int
	Phases() []PhaseTag
	// HasPhase is a presence query and never fails.
	HasPhase(tag PhaseTag) bool

	Property(p Property, unit string) (float64, error)
	PhaseProperty(tag PhaseTag, p Property, unit string) (float64, error)
	PhaseComposition(tag PhaseTag) ([]float64, error)

	// Clone copies model, composition, conditions and options but not
	// derived phase results.
	Clone() Fluid
}

// Engine builds fluids for a model.
type Engine interface {
	Name() string
	Supports(m Model) bool
	NewFluid(m Model) (Fluid, error)
}

// NewFluidAt creates a fluid for model m at the given temperature and
// pressure.
func NewFluidAt(e Engine, m Model, temperature, pressure Value) (Fluid, error) {
	f, err := e.NewFluid(m)
	if err != nil {
		return nil, err
	}
	if err := f.SetTemperature(temperature.V, temperature.Unit); err != nil {
		return nil, err
	}
	if err := f.SetPressure(pressure.V, pressure.Unit); err != nil {
		return nil, err
	}
	return f, nil
}

// MolarMass returns the bulk molar mass of a fluid in kg/mol, or zero when
// the engine cannot report it.
func MolarMass(f Fluid) float64 {
	v, err := f.Property(PropMolarMass, "kg/mol")
	if err != nil {
		return 0
	}
	return v
}

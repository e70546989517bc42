package cubic

import (
	"fmt"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// Fluid is the cubic-equation implementation of thermo.Fluid.
type Fluid struct {
	model   thermo.Model
	kind    eosKind
	comps   []component
	moles   []float64
	flow    float64
	flowSet bool
	t       float64
	p       float64
	rule    thermo.MixingRule
	opts    thermo.Options
	state   *equilibrium
}

// equilibrium is the result of the last flash.
type equilibrium struct {
	phases     []*phase
	propsReady bool
}

// phase is one equilibrium phase with its evaluation and derived properties.
type phase struct {
	tag   thermo.PhaseTag
	beta  float64
	x     []float64
	eval  phaseEval
	props phaseProps
}

type phaseProps struct {
	h         float64
	s         float64
	u         float64
	cp        float64
	v         float64
	rho       float64
	mu        float64
	molarMass float64
}

var _ thermo.Fluid = (*Fluid)(nil)

func newFluid(m thermo.Model) (*Fluid, error) {
	kind, err := kindFor(m)
	if err != nil {
		return nil, err
	}
	return &Fluid{
		model: m,
		kind:  kind,
		t:     288.15,
		p:     thermo.StandardPressure,
		rule:  thermo.MixingClassic,
	}, nil
}

// Model returns the equation-of-state model.
func (f *Fluid) Model() thermo.Model { return f.model }

// Components returns the component names in insertion order.
func (f *Fluid) Components() []string {
	out := make([]string, len(f.comps))
	for i, c := range f.comps {
		out[i] = c.name
	}
	return out
}

func (f *Fluid) invalidate() {
	f.state = nil
}

func (f *Fluid) indexOf(name string) int {
	for i, c := range f.comps {
		if c.name == name {
			return i
		}
	}
	return -1
}

// AddComponent adds moles of a defined component. Adding an existing
// component increases its amount. Units: "", "mol", "kmol" or a molar flow unit.
func (f *Fluid) AddComponent(name string, amount float64, unit string) error {
	if amount < 0 || math.IsNaN(amount) {
		return faults.NewConfigurationError(fmt.Sprintf("component %s: negative amount %g", name, amount), nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	c, err := lookupComponent(name)
	if err != nil {
		return err
	}
	moles, err := toMoles(amount, unit)
	if err != nil {
		return err
	}
	f.addMoles(c, moles)
	return nil
}

func toMoles(amount float64, unit string) (float64, error) {
	switch unit {
	case "", "mol", "mole":
		return amount, nil
	case "kmol":
		return amount * 1e3, nil
	}
	return thermo.ToCanonical(thermo.QuantityMolarFlow, amount, unit)
}

func (f *Fluid) addMoles(c component, moles float64) {
	if i := f.indexOf(c.name); i >= 0 {
		f.moles[i] += moles
	} else {
		f.comps = append(f.comps, c)
		f.moles = append(f.moles, moles)
	}
	f.invalidate()
}

// AddPseudoComponent adds a characterized fraction.
func (f *Fluid) AddPseudoComponent(pc thermo.PseudoComponent) error {
	if pc.Name == "" {
		return faults.NewConfigurationError("pseudo-component needs a name", nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	if pc.Moles < 0 {
		return faults.NewConfigurationError(fmt.Sprintf("pseudo-component %s: negative amount", pc.Name), nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	c, err := pseudoComponent(pc)
	if err != nil {
		return err
	}
	f.addMoles(c, pc.Moles)
	return nil
}

// PseudoComponent returns the definition of a characterized fraction.
func (f *Fluid) PseudoComponent(name string) (thermo.PseudoComponent, bool) {
	i := f.indexOf(name)
	if i < 0 || !f.comps[i].pseudo {
		return thermo.PseudoComponent{}, false
	}
	return f.comps[i].def, true
}

func (f *Fluid) totalMoles() float64 {
	var s float64
	for _, n := range f.moles {
		s += n
	}
	return s
}

// Composition returns bulk mole fractions.
func (f *Fluid) Composition() []float64 {
	z := make([]float64, len(f.moles))
	total := f.totalMoles()
	if total == 0 {
		return z
	}
	for i, n := range f.moles {
		z[i] = n / total
	}
	return z
}

// SetComposition replaces the bulk mole fractions, keeping the total amount.
func (f *Fluid) SetComposition(z []float64) error {
	if len(z) != len(f.comps) {
		return faults.NewConfigurationError(
			fmt.Sprintf("composition has %d entries, fluid has %d components", len(z), len(f.comps)), nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	var sum float64
	for _, v := range z {
		if v < 0 || math.IsNaN(v) {
			return faults.NewConfigurationError("composition entries must be non-negative", nil).
				WithCode(faults.ErrCodeInvalidParameter)
		}
		sum += v
	}
	if sum == 0 {
		return faults.NewConfigurationError("composition sums to zero", nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	total := f.totalMoles()
	if total == 0 {
		total = 1
	}
	for i, v := range z {
		f.moles[i] = v / sum * total
	}
	f.invalidate()
	return nil
}

// SetTemperature sets the temperature.
func (f *Fluid) SetTemperature(value float64, unit string) error {
	t, err := thermo.ToCanonical(thermo.QuantityTemperature, value, unit)
	if err != nil {
		return err
	}
	if t <= 0 || math.IsNaN(t) {
		return faults.NewConfigurationError(fmt.Sprintf("temperature must be positive, got %g K", t), nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	if t != f.t {
		f.t = t
		f.invalidate()
	}
	return nil
}

// SetPressure sets the pressure.
func (f *Fluid) SetPressure(value float64, unit string) error {
	p, err := thermo.ToCanonical(thermo.QuantityPressure, value, unit)
	if err != nil {
		return err
	}
	if p <= 0 || math.IsNaN(p) {
		return faults.NewConfigurationError(fmt.Sprintf("pressure must be positive, got %g bara", p), nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	if p != f.p {
		f.p = p
		f.invalidate()
	}
	return nil
}

// SetTotalFlowRate sets the total flow. Mass units use the bulk molar mass.
func (f *Fluid) SetTotalFlowRate(value float64, unit string) error {
	if value < 0 || math.IsNaN(value) {
		return faults.NewConfigurationError(fmt.Sprintf("flow rate must be non-negative, got %g", value), nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	q, err := thermo.FlowToMolar(value, unit, f.molarMass(f.Composition()))
	if err != nil {
		return err
	}
	f.flow = q
	f.flowSet = true
	return nil
}

// Temperature returns the temperature in K.
func (f *Fluid) Temperature() float64 { return f.t }

// Pressure returns the pressure in bara.
func (f *Fluid) Pressure() float64 { return f.p }

// TotalFlowRate returns the total flow in mol/s. Until a flow is set the
// total component amount is used.
func (f *Fluid) TotalFlowRate() float64 {
	if f.flowSet {
		return f.flow
	}
	return f.totalMoles()
}

// SetMixingRule selects the mixing rule.
func (f *Fluid) SetMixingRule(rule thermo.MixingRule) {
	if rule != f.rule {
		f.rule = rule
		f.invalidate()
	}
}

// MixingRule returns the mixing rule.
func (f *Fluid) MixingRule() thermo.MixingRule { return f.rule }

// SetMultiPhaseCheck enables the free-water aqueous phase.
func (f *Fluid) SetMultiPhaseCheck(on bool) {
	f.opts.MultiPhaseCheck = on
	f.invalidate()
}

// SetSolidCheck records the solid check flag. The cubic engine does not
// model solid phases.
func (f *Fluid) SetSolidCheck(on bool) { f.opts.SolidCheck = on }

// SetHydrateCheck records the hydrate check flag.
func (f *Fluid) SetHydrateCheck(on bool) { f.opts.HydrateCheck = on }

// Options returns the phase-behaviour switches.
func (f *Fluid) Options() thermo.Options { return f.opts }

// Clone copies the definition and conditions without phase results.
func (f *Fluid) Clone() thermo.Fluid {
	c := *f
	c.comps = append([]component(nil), f.comps...)
	c.moles = append([]float64(nil), f.moles...)
	c.state = nil
	return &c
}

func (f *Fluid) molarMass(z []float64) float64 {
	var m float64
	for i, c := range f.comps {
		m += z[i] * c.molarMass
	}
	return m
}

func (f *Fluid) interactions() [][]float64 {
	n := len(f.comps)
	kij := make([][]float64, n)
	for i := range kij {
		kij[i] = make([]float64, n)
		if f.rule != thermo.MixingClassicBIP {
			continue
		}
		for j := range kij[i] {
			kij[i][j] = interaction(f.comps[i], f.comps[j])
		}
	}
	return kij
}

func (f *Fluid) mixtureAt(t float64) *mixture {
	return newMixture(f.kind, f.comps, f.interactions(), t)
}

func (f *Fluid) waterIndex() int {
	for i, c := range f.comps {
		if c.family == familyWater {
			return i
		}
	}
	return -1
}

func (f *Fluid) requireComponents() error {
	if len(f.comps) == 0 || f.totalMoles() == 0 {
		return faults.NewConfigurationError("fluid has no components", nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	return nil
}

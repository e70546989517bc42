package characterization

import (
	"fmt"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// Component is a defined component given by name.
type Component struct {
	Name  string  `json:"name" yaml:"name" validate:"required"`
	Moles float64 `json:"moles" yaml:"moles" validate:"gte=0"`
	// Unit of Moles; empty means mol.
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Cut is a petroleum fraction. MolarMass is in kg/mol and BoilingPoint in K.
// Either MolarMass or BoilingPoint must be set.
type Cut struct {
	Name            string  `json:"name" yaml:"name" validate:"required"`
	Moles           float64 `json:"moles" yaml:"moles" validate:"gte=0"`
	MolarMass       float64 `json:"molar_mass,omitempty" yaml:"molar_mass,omitempty" validate:"gte=0"`
	RelativeDensity float64 `json:"relative_density" yaml:"relative_density" validate:"gt=0"`
	BoilingPoint    float64 `json:"boiling_point,omitempty" yaml:"boiling_point,omitempty" validate:"gte=0"`
	Plus            bool    `json:"plus,omitempty" yaml:"plus,omitempty"`
	Lumps           int     `json:"lumps,omitempty" yaml:"lumps,omitempty" validate:"gte=0"`
}

// Table is the tabular description of a fluid.
type Table struct {
	Components []Component `json:"components,omitempty" yaml:"components,omitempty" validate:"dive"`
	Cuts       []Cut       `json:"cuts,omitempty" yaml:"cuts,omitempty" validate:"dive"`
}

// FromPseudo converts an engine pseudo-component description into a cut.
func FromPseudo(pc thermo.PseudoComponent) Cut {
	return Cut{
		Name:            pc.Name,
		Moles:           pc.Moles,
		MolarMass:       pc.MolarMass,
		RelativeDensity: pc.RelativeDensity,
		BoilingPoint:    pc.BoilingPoint,
		Plus:            pc.PlusFraction,
		Lumps:           pc.LumpCount,
	}
}

// Pseudo returns the cut as an engine pseudo-component. The molar mass is
// estimated from the boiling point when it is missing.
func (c Cut) Pseudo() (thermo.PseudoComponent, error) {
	if err := c.validate(); err != nil {
		return thermo.PseudoComponent{}, err
	}
	m := c.MolarMass
	if m == 0 {
		m = MolarMassFromBoilingPoint(c.BoilingPoint, c.RelativeDensity)
	}
	return thermo.PseudoComponent{
		Name:            c.Name,
		Moles:           c.Moles,
		MolarMass:       m,
		RelativeDensity: c.RelativeDensity,
		BoilingPoint:    c.BoilingPoint,
		PlusFraction:    c.Plus,
		LumpCount:       c.Lumps,
	}, nil
}

func (c Cut) validate() error {
	invalid := func(format string, args ...interface{}) error {
		return faults.NewConfigurationError(fmt.Sprintf("cut %s: "+format, append([]interface{}{c.Name}, args...)...), nil).
			WithCode(faults.ErrCodeInvalidParameter).
			WithDetail("cut", c.Name)
	}
	switch {
	case c.Name == "":
		return faults.NewConfigurationError("cut needs a name", nil).WithCode(faults.ErrCodeInvalidParameter)
	case c.Moles < 0 || math.IsNaN(c.Moles):
		return invalid("negative amount %g", c.Moles)
	case c.RelativeDensity <= 0 || math.IsNaN(c.RelativeDensity):
		return invalid("relative density must be positive, got %g", c.RelativeDensity)
	case c.MolarMass < 0 || c.BoilingPoint < 0:
		return invalid("negative molar mass or boiling point")
	case c.MolarMass == 0 && c.BoilingPoint == 0:
		return invalid("needs a molar mass or a boiling point")
	case c.Lumps < 0:
		return invalid("negative lump count %d", c.Lumps)
	case c.Lumps > 0 && !c.Plus:
		return invalid("lump count given for a cut that is not a plus fraction")
	}
	return nil
}

// MolarMassFromBoilingPoint inverts the Riazi-Daubert correlation; tb is in
// K and the result in kg/mol.
func MolarMassFromBoilingPoint(tb, sg float64) float64 {
	return 1.6607e-4 * math.Pow(tb, 2.1962) * math.Pow(sg, -1.0164) * 1e-3
}

// Package cubic is a compact cubic equation-of-state engine (Peng-Robinson,
// PR78 and Soave-Redlich-Kwong) implementing the thermo.Engine contract.
//
// It covers the defined light components of natural gas processing plus
// characterized pseudo-components, vapour-liquid equilibrium by successive
// substitution, a free-water aqueous phase, state-function flashes by nested
// one-dimensional searches, and saturation, water dew point and hydrate
// temperature searches.
package cubic

import (
	"github.com/openfroyo/procsim/pkg/thermo"
)

// Engine builds cubic equation-of-state fluids.
type Engine struct{}

var _ thermo.Engine = (*Engine)(nil)

// NewEngine creates an engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Name returns the engine name.
func (e *Engine) Name() string { return "cubic" }

// Supports reports whether the model is available.
func (e *Engine) Supports(m thermo.Model) bool {
	_, ok := eosKinds[m]
	return ok
}

// NewFluid creates an empty fluid at 15 C and 1 atm.
func (e *Engine) NewFluid(m thermo.Model) (thermo.Fluid, error) {
	f, err := newFluid(m)
	if err != nil {
		return nil, err
	}
	return f, nil
}

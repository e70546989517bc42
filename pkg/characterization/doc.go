// Package characterization turns tabular fluid data into the component list
// consumed by a thermo.Fluid.
//
// A Table holds defined components (looked up by name in the engine's
// database) and petroleum cuts. Cuts carry a molar mass and relative
// density, or a true-boiling-point temperature from which the molar mass is
// estimated. A cut flagged as a plus fraction is split into single carbon
// number cuts with an exponential mole distribution and then lumped into a
// smaller number of pseudo-components of roughly equal mass.
//
// Basic usage:
//
//	table := characterization.Table{
//		Components: []characterization.Component{{Name: "methane", Moles: 0.7}},
//		Cuts: []characterization.Cut{
//			{Name: "C7+", Moles: 0.3, MolarMass: 0.190, RelativeDensity: 0.84, Plus: true, Lumps: 4},
//		},
//	}
//	fluid, result, err := characterization.New().NewFluid(engine, thermo.ModelPR, table, t, p)
package characterization

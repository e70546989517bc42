// Package thermo defines the narrow contract between the flowsheet core and an
// external equation-of-state engine, and the dispatcher that turns flash
// specifications into engine calls.
//
// # Overview
//
// A Fluid is an opaque thermodynamic state owned by exactly one holder: a
// stream, a unit-operation outlet, or a PVT experiment. The flowsheet never
// inspects engine internals; it sets temperature, pressure and composition,
// asks the Dispatcher to flash, and reads properties back in requested units.
//
//	fluid, _ := engine.NewFluid(thermo.ModelPR)
//	_ = fluid.AddComponent("methane", 0.9, "mol")
//	_ = fluid.AddComponent("ethane", 0.1, "mol")
//	spec := thermo.TP(25, "C", 60, "bara")
//	if err := thermo.DefaultDispatcher().Flash(ctx, fluid, spec); err != nil {
//	    // faults.IsFlash(err) == true
//	}
//	rho, _ := fluid.PhaseProperty(thermo.PhaseGas, thermo.PropDensity, "kg/m3")
//
// # Units
//
// All engine-facing values are canonical: Kelvin, bara, J/mol, J/(mol K),
// m3/mol, mol/s. Conversions and the fallback unit for every quantity are
// declared once in units.go.
//
// # Closed enumerations
//
// Model and MixingRule are closed sets. Configuration text is mapped to them
// through ParseModel and ParseMixingRule; unknown names are configuration
// errors rather than silent defaults.
package thermo

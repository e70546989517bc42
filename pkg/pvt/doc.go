// Package pvt runs laboratory PVT experiments on a fluid.
//
// Every experiment works on its own clone of the supplied fluid and drives
// it through thermo.Dispatcher TP flashes, one per pressure point. Output
// columns are aligned index for index with the input points. A point whose
// flash or property read fails is left as NaN and recorded in
// Result.Errors; the sweep continues with the next point. Only invalid
// input and context cancellation end an experiment early.
//
// Experiments:
//   - CME: constant mass expansion (relative volume, Z, Y-function, density)
//   - CVD: constant volume depletion (liquid dropout, gas Z, produced moles)
//   - DifferentialLiberation: Bo, Rs, Bg, oil density, gas gravity
//   - SeparatorTest: stage GOR and gas gravity, Bo and stock tank density
//   - Swelling: saturation pressure and swelling factor versus injected gas
//   - Viscosity: gas and oil viscosity
//   - GOR: flash GOR and Bo at each condition
//   - SaturationPressures: saturation pressure versus temperature
//
// RunBatch runs several experiments concurrently on a bounded worker pool.
package pvt

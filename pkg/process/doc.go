// Package process implements the flowsheet execution model: unit-operation
// nodes wired by streams, registered into a Process, evaluated in a validated
// order and driven to steady state around recycle loops.
//
// # Building a flowsheet
//
// Every constructor takes a Registrar: a *Process, or a *Batch for detached
// construction. Passing nil registers against the package default process.
//
//	p := process.New("gas-plant")
//	feed, _ := process.NewStream(p, "feed", fluid)
//	valve, _ := process.NewValve(p, "v-100", feed)
//	_ = valve.SetOutletPressure(50, "bara")
//	sep, _ := process.NewSeparator(p, "sep-100", valve.Outlet())
//	if err := p.Run(ctx); err != nil {
//	    // faults.IsUnconverged(err), faults.IsFlash(err), ...
//	}
//
// # Evaluation order
//
// Units run in registration order. Run and Validate reject flowsheets where a
// unit consumes a stream produced by a later unit unless that stream is a
// Recycle outlet. WithOrdering(OrderTopological) sorts units instead.
//
// # Recycles
//
// When at least one Recycle is registered, Run repeats full passes until every
// recycle reports convergence in the same pass or the pass cap is reached, in
// which case an unconverged-recycle error is returned and the last iterate
// stays readable on every unit.
//
// # Concurrency
//
// A Process is evaluated by one goroutine at a time. RunAsync runs the same
// algorithm on a background goroutine; reading unit state while it runs may
// observe a partially updated pass.
package process

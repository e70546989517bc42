// Package config loads flowsheet definitions written in CUE or YAML, builds
// them into processes and exports processes back to configuration.
//
// # Overview
//
// A flowsheet file names its fluids and lists its units in registration
// order. Units reference the streams they read by name: a feed stream by
// its own name, a unit outlet as "unit.port" ("sep.gas", "split.1"), and the
// outlet of a single-outlet unit by the bare unit name.
//
//	name: "let-down"
//	fluids: gas: {
//	    model: "pr"
//	    components: [
//	        {name: "methane", moles: 0.9},
//	        {name: "ethane", moles: 0.1},
//	    ]
//	}
//	units: [
//	    {name: "feed", type: "stream", fluid: "gas",
//	     temperature: {value: 30, unit: "C"}, pressure: {value: 100, unit: "bara"},
//	     flow: {value: 10, unit: "kg/s"}},
//	    {name: "valve", type: "valve", inlets: ["feed"], pressure: {value: 40, unit: "bara"}},
//	    {name: "sep", type: "separator", inlets: ["valve"]},
//	]
//
// Mixers, separators and recycles may reference streams produced later in
// the list; this is how recycle loops are closed.
//
// # Components
//
// CUEParser reads .cue files, CUE package directories and .yaml files and
// unifies them. Decoded flowsheets are checked against the built-in CUE
// schema and the struct validation tags; problems are collected as
// ValidationError values with file positions where available.
//
// Builder characterizes fluid tables, creates the units detached from any
// process and attaches them in one step. Settings that do not apply to a
// unit type are rejected.
//
// StarlarkEvaluator runs scripted units. Scripts see their inputs and a
// convert(value, quantity, from, to) helper; print is discarded and
// evaluation is bounded by a timeout and a step limit.
//
// # Usage Example
//
//	parser := config.NewCUEParser()
//	cfg, err := parser.Load(ctx, "plant.cue")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fs, err := config.NewBuilder().Build(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := fs.Process.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package config

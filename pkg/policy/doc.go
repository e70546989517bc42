// Package policy checks process run reports against operating-envelope
// rules written in Rego and evaluated with Open Policy Agent.
//
// Each policy is a Rego module whose package defines a "deny" set. The
// engine evaluates data.<package>.deny with the input
//
//	{
//	    "report":  <process.Report>,
//	    "context": {"operation": "run", "limits": {"max_pressure_bara": 120}}
//	}
//
// A deny member is either a message string or an object:
//
//	deny contains violation if {
//	    some s in input.report.streams
//	    s.producer == "k-100"
//	    s.temperature_k > 450
//	    violation := {
//	        "message": sprintf("%s discharge too hot", [s.name]),
//	        "severity": "error",
//	        "stream": s.name,
//	    }
//	}
//
// Violations of severity error or critical make Result.Allowed false.
//
// # Built-in Policies
//
//  1. recycle-convergence - every recycle binding converged
//  2. unit-failures - no unit ended in the failed state
//  3. physical-bounds - positive T and P, non-negative flow
//  4. pressure-envelope - limits.max_pressure_bara
//  5. temperature-envelope - limits.min_temperature_k and limits.max_temperature_k
//
// The envelope policies only fire when their limit is present.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	res, err := eng.Evaluate(ctx, p.Report())
//
// # Hot Reload
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(ps []policy.Policy) error {
//	    return eng.ReplacePolicies(ctx, ps)
//	})
package policy

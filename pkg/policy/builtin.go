package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		recycleConvergencePolicy(),
		unitFailuresPolicy(),
		physicalBoundsPolicy(),
		pressureEnvelopePolicy(),
		temperatureEnvelopePolicy(),
	}
}

var builtinNames = func() map[string]bool {
	m := make(map[string]bool)
	for _, p := range GetBuiltinPolicies() {
		m[p.Name] = true
	}
	return m
}()

func isBuiltin(name string) bool { return builtinNames[name] }

// recycleConvergencePolicy flags every recycle binding that did not converge.
func recycleConvergencePolicy() Policy {
	return Policy{
		Name:        "recycle-convergence",
		Description: "Every recycle binding must converge within its iteration cap",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"convergence"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package procsim.builtin.convergence

import rego.v1

deny contains violation if {
	some r in input.report.recycles
	not r.converged
	violation := {
		"message": sprintf("recycle %s did not converge after %v iterations (residual %v, tolerance %v)", [r.name, r.iterations, r.residual, r.tolerance]),
		"unit": r.name,
	}
}`,
	}
}

// unitFailuresPolicy flags units whose last evaluation failed.
func unitFailuresPolicy() Policy {
	return Policy{
		Name:        "unit-failures",
		Description: "No unit may finish a run in the failed state",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"execution"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package procsim.builtin.failures

import rego.v1

deny contains violation if {
	some u in input.report.units
	u.state == "failed"
	violation := {
		"message": sprintf("unit %s failed: %s", [u.name, object.get(u, "error", "unknown error")]),
		"unit": u.name,
	}
}`,
	}
}

// physicalBoundsPolicy rejects states no real stream can have.
func physicalBoundsPolicy() Policy {
	return Policy{
		Name:        "physical-bounds",
		Description: "Stream temperature and pressure must be positive and flow non-negative",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"physics"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package procsim.builtin.physics

import rego.v1

deny contains violation if {
	some s in input.report.streams
	not s.empty
	s.temperature_k <= 0
	violation := {
		"message": sprintf("stream %s has non-positive temperature %v K", [s.name, s.temperature_k]),
		"stream": s.name,
	}
}

deny contains violation if {
	some s in input.report.streams
	not s.empty
	s.pressure_bara <= 0
	violation := {
		"message": sprintf("stream %s has non-positive pressure %v bara", [s.name, s.pressure_bara]),
		"stream": s.name,
	}
}

deny contains violation if {
	some s in input.report.streams
	not s.empty
	s.molar_flow_mol_s < 0
	violation := {
		"message": sprintf("stream %s has negative flow %v mol/s", [s.name, s.molar_flow_mol_s]),
		"stream": s.name,
	}
}`,
	}
}

// pressureEnvelopePolicy applies the max_pressure_bara limit when set.
func pressureEnvelopePolicy() Policy {
	return Policy{
		Name:        "pressure-envelope",
		Description: "Stream pressures must not exceed limits.max_pressure_bara",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"envelope"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package procsim.builtin.pressure

import rego.v1

deny contains violation if {
	limit := input.context.limits.max_pressure_bara
	some s in input.report.streams
	not s.empty
	s.pressure_bara > limit
	violation := {
		"message": sprintf("stream %s at %v bara exceeds the %v bara limit", [s.name, s.pressure_bara, limit]),
		"stream": s.name,
		"limit": limit,
	}
}`,
	}
}

// temperatureEnvelopePolicy applies min_temperature_k and max_temperature_k
// when set.
func temperatureEnvelopePolicy() Policy {
	return Policy{
		Name:        "temperature-envelope",
		Description: "Stream temperatures must stay within limits.min_temperature_k and limits.max_temperature_k",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"envelope"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package procsim.builtin.temperature

import rego.v1

deny contains violation if {
	limit := input.context.limits.min_temperature_k
	some s in input.report.streams
	not s.empty
	s.temperature_k < limit
	violation := {
		"message": sprintf("stream %s at %v K is below the %v K minimum", [s.name, s.temperature_k, limit]),
		"stream": s.name,
		"limit": limit,
	}
}

deny contains violation if {
	limit := input.context.limits.max_temperature_k
	some s in input.report.streams
	not s.empty
	s.temperature_k > limit
	violation := {
		"message": sprintf("stream %s at %v K is above the %v K maximum", [s.name, s.temperature_k, limit]),
		"stream": s.name,
		"limit": limit,
	}
}`,
	}
}

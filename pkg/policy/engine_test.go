package policy

import (
	"context"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/procsim/pkg/process"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func healthyReport() process.Report {
	return process.Report{
		Process: "let-down",
		Run:     process.RunInfo{Process: "let-down", Passes: 1, Converged: true},
		Units: []process.UnitReport{
			{Name: "feed", Type: "stream", State: "succeeded"},
			{Name: "valve", Type: "valve", State: "succeeded"},
		},
		Streams: []process.StreamReport{
			{Name: "feed", Producer: "feed", TemperatureK: 300, PressureBara: 100, MolarFlow: 10},
			{Name: "valve", Producer: "valve", TemperatureK: 280, PressureBara: 40, MolarFlow: 10},
		},
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
	}
	want := []string{
		"physical-bounds",
		"pressure-envelope",
		"recycle-convergence",
		"temperature-envelope",
		"unit-failures",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("ListPolicies() = %v, want %v", names, want)
	}
}

func TestEvaluate_HealthyReport(t *testing.T) {
	eng := newTestEngine(t)

	res, err := eng.Evaluate(context.Background(), healthyReport())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !res.Allowed {
		t.Errorf("expected allowed, got violations %+v", res.Violations)
	}
	if len(res.Violations) != 0 {
		t.Errorf("expected no violations, got %+v", res.Violations)
	}
	if len(res.EvaluatedPolicies) != 5 {
		t.Errorf("expected 5 evaluated policies, got %v", res.EvaluatedPolicies)
	}
}

func TestEvaluate_BuiltinViolations(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*process.Report)
		limits   map[string]float64
		policy   string
		severity Severity
		unit     string
		stream   string
		allowed  bool
	}{
		{
			name: "unconverged recycle",
			mutate: func(r *process.Report) {
				r.Recycles = []process.RecycleStatus{
					{Name: "recycle", Iterations: 50, Residual: 1e-3, Tolerance: 1e-6, MaxIterations: 50},
				}
			},
			policy:   "recycle-convergence",
			severity: SeverityError,
			unit:     "recycle",
		},
		{
			name: "failed unit",
			mutate: func(r *process.Report) {
				r.Units[1].State = "failed"
				r.Units[1].Error = "flash did not converge"
			},
			policy:   "unit-failures",
			severity: SeverityError,
			unit:     "valve",
		},
		{
			name:     "negative flow",
			mutate:   func(r *process.Report) { r.Streams[1].MolarFlow = -1 },
			policy:   "physical-bounds",
			severity: SeverityCritical,
			stream:   "valve",
		},
		{
			name:     "pressure above limit",
			mutate:   func(r *process.Report) {},
			limits:   map[string]float64{"max_pressure_bara": 80},
			policy:   "pressure-envelope",
			severity: SeverityError,
			stream:   "feed",
		},
		{
			name:     "cold stream",
			mutate:   func(r *process.Report) {},
			limits:   map[string]float64{"min_temperature_k": 290},
			policy:   "temperature-envelope",
			severity: SeverityWarning,
			stream:   "valve",
			allowed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t)
			rep := healthyReport()
			tt.mutate(&rep)

			res, err := eng.EvaluateInput(context.Background(), &Input{
				Report:  rep,
				Context: &Context{Operation: "test", Limits: tt.limits},
			})
			if err != nil {
				t.Fatalf("EvaluateInput() error = %v", err)
			}
			if res.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v", res.Allowed, tt.allowed)
			}
			if len(res.Violations) != 1 {
				t.Fatalf("expected 1 violation, got %+v", res.Violations)
			}
			v := res.Violations[0]
			if v.Policy != tt.policy || v.Severity != tt.severity {
				t.Errorf("got %s/%s, want %s/%s", v.Policy, v.Severity, tt.policy, tt.severity)
			}
			if v.Unit != tt.unit || v.Stream != tt.stream {
				t.Errorf("got unit %q stream %q, want %q %q", v.Unit, v.Stream, tt.unit, tt.stream)
			}
			if v.Message == "" {
				t.Error("expected a message")
			}
			if res.Count(tt.severity) != 1 {
				t.Errorf("Count(%s) = %d", tt.severity, res.Count(tt.severity))
			}
		})
	}
}

func TestEvaluate_EngineLimits(t *testing.T) {
	eng := newTestEngine(t)
	eng.SetLimits(map[string]float64{"max_pressure_bara": 50})

	res, err := eng.Evaluate(context.Background(), healthyReport())
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || len(res.Violations) != 1 {
		t.Fatalf("expected the default limit to reject the feed, got %+v", res)
	}
	if limit, ok := res.Violations[0].Details["limit"]; !ok || limit == nil {
		t.Errorf("expected the limit in details, got %v", res.Violations[0].Details)
	}
}

func TestAddPolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:    "compressor-power",
		Enabled: true,
		Rego: `package site.compressors

import rego.v1

deny contains msg if {
	some u in input.report.units
	u.type == "compressor"
	u.scalars.power_w > 1000000
	msg := sprintf("%s draws more than 1 MW", [u.name])
}`,
	}
	if err := eng.AddPolicy(ctx, custom); err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	got, err := eng.GetPolicy("compressor-power")
	if err != nil {
		t.Fatal(err)
	}
	if got.Severity != SeverityWarning {
		t.Errorf("expected default severity warning, got %s", got.Severity)
	}

	rep := healthyReport()
	rep.Units = append(rep.Units, process.UnitReport{
		Name: "k-100", Type: "compressor", State: "succeeded",
		Scalars: map[string]float64{"power_w": 2.5e6},
	})
	res, err := eng.Evaluate(ctx, rep)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed {
		t.Error("a warning must not block the run")
	}
	if len(res.Violations) != 1 || res.Violations[0].Message != "k-100 draws more than 1 MW" {
		t.Errorf("unexpected violations %+v", res.Violations)
	}

	if err := eng.AddPolicy(ctx, Policy{Name: "broken", Rego: "package x\ndeny contains"}); err == nil {
		t.Error("expected a parse error")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	rep := healthyReport()
	rep.Streams[1].MolarFlow = -1

	if err := eng.DisablePolicy("physical-bounds"); err != nil {
		t.Fatal(err)
	}
	res, err := eng.Evaluate(context.Background(), rep)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Violations) != 0 {
		t.Errorf("disabled policy still reported %+v", res.Violations)
	}

	if err := eng.EnablePolicy("physical-bounds"); err != nil {
		t.Fatal(err)
	}
	res, err = eng.Evaluate(context.Background(), rep)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Violations) != 1 {
		t.Errorf("expected 1 violation after enabling, got %+v", res.Violations)
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("expected error for an unknown policy")
	}
}

func TestReplaceAndReloadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	site := func(name string) Policy {
		return Policy{Name: name, Enabled: true, Rego: "package site." + name + "\n\nimport rego.v1\n\ndeny contains \"x\" if { false }\n"}
	}
	if err := eng.ReplacePolicies(ctx, []Policy{site("a"), site("b")}); err != nil {
		t.Fatal(err)
	}
	if n := len(eng.ListPolicies()); n != 7 {
		t.Fatalf("expected 7 policies, got %d", n)
	}

	if err := eng.ReplacePolicies(ctx, []Policy{site("c")}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.GetPolicy("a"); err == nil {
		t.Error("expected policy a to be replaced")
	}
	if _, err := eng.GetPolicy("recycle-convergence"); err != nil {
		t.Error("built-in policies must survive a replace")
	}

	// A failed compile leaves the current set untouched.
	if err := eng.ReplacePolicies(ctx, []Policy{site("d"), {Name: "bad", Rego: "not rego"}}); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := eng.GetPolicy("c"); err != nil {
		t.Error("policy c should remain after a failed replace")
	}

	if err := eng.ReloadPolicies(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(eng.ListPolicies()); n != 5 {
		t.Errorf("expected only built-ins after reload, got %d", n)
	}
}

func TestEvaluate_NilInput(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.EvaluateInput(context.Background(), nil); err == nil {
		t.Error("expected error for nil input")
	}
}

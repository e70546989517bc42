package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	se := NewStarlarkEvaluator(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name    string
		script  string
		input   map[string]interface{}
		wantErr bool
		check   func(*testing.T, map[string]interface{})
	}{
		{
			name:   "arithmetic on inputs",
			script: `duty_w = flow * cp * (t_out - t_in)`,
			input: map[string]interface{}{
				"flow": 10.0, "cp": 35.0, "t_in": 300.0, "t_out": 320.0,
			},
			check: func(t *testing.T, out map[string]interface{}) {
				if out["duty_w"] != 7000.0 {
					t.Errorf("expected 7000, got %v", out["duty_w"])
				}
			},
		},
		{
			name: "helpers are not results",
			script: `
def ratio(a, b):
    return a / b
r = ratio(9.0, 3.0)
_scratch = 1
`,
			check: func(t *testing.T, out map[string]interface{}) {
				if out["r"] != 3.0 {
					t.Errorf("expected 3.0, got %v", out["r"])
				}
				if _, ok := out["ratio"]; ok {
					t.Error("functions should not appear in output")
				}
				if _, ok := out["_scratch"]; ok {
					t.Error("private globals should not appear in output")
				}
			},
		},
		{
			name:   "convert builtin",
			script: `t_c = convert(t_k, "temperature", "K", "C")`,
			input:  map[string]interface{}{"t_k": 373.15},
			check: func(t *testing.T, out map[string]interface{}) {
				v, _ := out["t_c"].(float64)
				if v < 99.999 || v > 100.001 {
					t.Errorf("expected 100 C, got %v", out["t_c"])
				}
			},
		},
		{
			name:    "convert with an unknown quantity",
			script:  `x = convert(1.0, "colour", "a", "b")`,
			wantErr: true,
		},
		{
			name:   "struct and tuples",
			script: `s = struct(a = 1, b = (2, 3))`,
			check: func(t *testing.T, out map[string]interface{}) {
				s, ok := out["s"].(map[string]interface{})
				if !ok {
					t.Fatalf("expected map, got %T", out["s"])
				}
				if s["a"] != int64(1) {
					t.Errorf("expected a=1, got %v", s["a"])
				}
				if b, ok := s["b"].([]interface{}); !ok || len(b) != 2 {
					t.Errorf("expected b to be a 2-element list, got %v", s["b"])
				}
			},
		},
		{
			name:   "print is discarded",
			script: "print(\"hello\")\nok = True",
			check: func(t *testing.T, out map[string]interface{}) {
				if out["ok"] != true {
					t.Errorf("expected ok=true, got %v", out["ok"])
				}
			},
		},
		{
			name:    "syntax error",
			script:  `x = (`,
			wantErr: true,
		},
		{
			name:    "runtime error",
			script:  `x = 1 / 0`,
			wantErr: true,
		},
		{
			name:    "undefined name",
			script:  `x = missing + 1`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := se.Evaluate(ctx, tt.script, tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if res == nil || res.Error == "" {
					t.Error("expected the result to carry the error message")
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if tt.check != nil {
				tt.check(t, res.Output)
			}
		})
	}
}

func TestStarlarkEvaluator_EvalUnit(t *testing.T) {
	se := NewStarlarkEvaluator(0)

	out, err := se.EvalUnit(context.Background(), `
pressure_bara = inlet["pressure_bara"] - 2.5
temperature_k = temperature_k_in + 10
`, map[string]interface{}{
		"pressure_bara":    40.0,
		"temperature_k_in": 300.0,
	})
	if err != nil {
		t.Fatalf("EvalUnit() error = %v", err)
	}
	if out["pressure_bara"] != 37.5 {
		t.Errorf("expected 37.5, got %v", out["pressure_bara"])
	}
	if out["temperature_k"] != 310.0 {
		t.Errorf("expected 310, got %v", out["temperature_k"])
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	se := NewStarlarkEvaluator(50 * time.Millisecond)

	script := `
def spin():
    n = 0
    for i in range(100000000):
        n += i
    return n
x = spin()
`
	start := time.Now()
	_, err := se.Evaluate(context.Background(), script, nil)
	if err == nil {
		t.Fatal("expected the script to be stopped")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("evaluation was not stopped promptly")
	}
}

func TestStarlarkEvaluator_Cancelled(t *testing.T) {
	se := NewStarlarkEvaluator(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := se.Evaluate(ctx, "x = 1", nil)
	// The script may finish before the cancellation is observed.
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("expected nil or context.Canceled, got %v", err)
	}
}

func TestStarlarkEvaluator_TypeConversion(t *testing.T) {
	se := NewStarlarkEvaluator(time.Second)

	input := map[string]interface{}{
		"flag":    true,
		"count":   3,
		"big":     int64(1) << 40,
		"ratio":   float32(0.5),
		"tag":     "pt-101",
		"z":       []float64{0.9, 0.1},
		"mixed":   []interface{}{1, "two", nil},
		"nothing": nil,
		"nested":  map[string]interface{}{"k": 1.5},
	}
	script := `
flag_out = not flag
count_out = count * 2
big_out = big + 1
ratio_out = ratio * 2
tag_out = tag.upper()
z_out = [x * 2 for x in z]
mixed_len = len(mixed)
nothing_out = nothing
nested_out = nested["k"]
`
	res, err := se.Evaluate(context.Background(), script, input)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	out := res.Output

	checks := map[string]interface{}{
		"flag_out":    false,
		"count_out":   int64(6),
		"big_out":     int64(1)<<40 + 1,
		"ratio_out":   1.0,
		"tag_out":     "PT-101",
		"mixed_len":   int64(3),
		"nothing_out": nil,
		"nested_out":  1.5,
	}
	for k, want := range checks {
		if out[k] != want {
			t.Errorf("%s = %v (%T), want %v (%T)", k, out[k], out[k], want, want)
		}
	}
	z, ok := out["z_out"].([]interface{})
	if !ok || len(z) != 2 || z[0] != 1.8 {
		t.Errorf("unexpected z_out %v", out["z_out"])
	}

	if _, err := se.Evaluate(context.Background(), "x = 1", map[string]interface{}{"bad": struct{}{}}); err == nil {
		t.Error("expected an unsupported input type to fail")
	}
}

func TestStarlarkEvaluator_NoLoad(t *testing.T) {
	se := NewStarlarkEvaluator(time.Second)
	if _, err := se.Evaluate(context.Background(), `load("os.star", "system")`, nil); err == nil {
		t.Error("expected load() to be unavailable")
	}
}

package process

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/procsim/pkg/thermo"
)

// ScriptEvaluator runs a unit script against its inputs and returns the
// script's global variables.
type ScriptEvaluator interface {
	EvalUnit(ctx context.Context, script string, inputs map[string]interface{}) (map[string]interface{}, error)
}

// ScriptedUnit is the open extension point of the equipment set. The script
// sees temperature_k, pressure_bara, molar_flow, composition and params and
// may set temperature_k, pressure_bara, flow_factor and a scalars dict. The
// outlet is a TP flash of the inlet at the resulting conditions.
type ScriptedUnit struct {
	base
	inlet     *Stream
	outlet    *Stream
	script    string
	evaluator ScriptEvaluator

	paramsMu sync.RWMutex
	params   map[string]interface{}

	resultMu sync.RWMutex
	scalars  map[string]float64
}

// NewScriptedUnit registers a scripted unit.
func NewScriptedUnit(reg Registrar, name string, inlet *Stream, eval ScriptEvaluator, script string) (*ScriptedUnit, error) {
	if inlet == nil {
		return nil, missingInlet(name)
	}
	if eval == nil {
		return nil, invalidParameter(name, "scripted unit needs an evaluator")
	}
	if script == "" {
		return nil, invalidParameter(name, "scripted unit needs a script")
	}
	u := &ScriptedUnit{inlet: inlet, script: script, evaluator: eval}
	if err := u.init(name, TypeScripted); err != nil {
		return nil, err
	}
	u.outlet = newPort(name, "out")
	if err := register(reg, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetParam exposes a value to the script under params[key].
func (u *ScriptedUnit) SetParam(key string, value interface{}) {
	u.paramsMu.Lock()
	if u.params == nil {
		u.params = make(map[string]interface{})
	}
	u.params[key] = value
	u.paramsMu.Unlock()
}

// Params returns a copy of the script parameters.
func (u *ScriptedUnit) Params() map[string]interface{} {
	u.paramsMu.RLock()
	defer u.paramsMu.RUnlock()
	out := make(map[string]interface{}, len(u.params))
	for k, v := range u.params {
		out[k] = v
	}
	return out
}

// Script returns the script source.
func (u *ScriptedUnit) Script() string { return u.script }

// Run evaluates the script and flashes the outlet.
func (u *ScriptedUnit) Run(ctx context.Context) error {
	return u.finish(u.run(ctx))
}

func (u *ScriptedUnit) run(ctx context.Context) error {
	in := u.inlet.Fluid()
	if in == nil {
		return missingInlet(u.name)
	}
	comp := make(map[string]interface{})
	z := in.Composition()
	for i, n := range in.Components() {
		comp[n] = z[i]
	}
	u.paramsMu.RLock()
	params := make(map[string]interface{}, len(u.params))
	for k, v := range u.params {
		params[k] = v
	}
	u.paramsMu.RUnlock()

	out, err := u.evaluator.EvalUnit(ctx, u.script, map[string]interface{}{
		"temperature_k": in.Temperature(),
		"pressure_bara": in.Pressure(),
		"molar_flow":    in.TotalFlowRate(),
		"composition":   comp,
		"params":        params,
	})
	if err != nil {
		return invalidParameter(u.name, "script failed: %v", err)
	}

	t, p, factor := in.Temperature(), in.Pressure(), 1.0
	for key, dst := range map[string]*float64{"temperature_k": &t, "pressure_bara": &p, "flow_factor": &factor} {
		v, ok := out[key]
		if !ok {
			continue
		}
		n, err := toFloat(v)
		if err != nil {
			return invalidParameter(u.name, "script output %s: %v", key, err)
		}
		*dst = n
	}
	if t <= 0 || p <= 0 || factor < 0 {
		return invalidParameter(u.name, "script produced T=%g K, P=%g bara, flow factor %g", t, p, factor)
	}

	scalars := make(map[string]float64)
	if raw, ok := out["scalars"].(map[string]interface{}); ok {
		for k, v := range raw {
			if n, err := toFloat(v); err == nil {
				scalars[k] = n
			}
		}
	}

	f := in.Clone()
	if err := f.SetTotalFlowRate(in.TotalFlowRate()*factor, "mol/s"); err != nil {
		return err
	}
	if err := u.flash(ctx, f, thermo.TP(t, "K", p, "bara")); err != nil {
		return err
	}

	u.resultMu.Lock()
	u.scalars = scalars
	u.resultMu.Unlock()
	u.outlet.SetFluid(f)
	return nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

// Inlet returns the inlet stream.
func (u *ScriptedUnit) Inlet() *Stream { return u.inlet }

// Outlet returns the outlet stream.
func (u *ScriptedUnit) Outlet() *Stream { return u.outlet }

// Inlets returns the inlet stream.
func (u *ScriptedUnit) Inlets() []*Stream { return []*Stream{u.inlet} }

// Outlets returns the outlet stream.
func (u *ScriptedUnit) Outlets() []*Stream { return []*Stream{u.outlet} }

// Scalars returns the values the script published.
func (u *ScriptedUnit) Scalars() map[string]float64 {
	u.resultMu.RLock()
	defer u.resultMu.RUnlock()
	out := make(map[string]float64, len(u.scalars))
	for k, v := range u.scalars {
		out[k] = v
	}
	return out
}

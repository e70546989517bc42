package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/procsim/pkg/thermo"
)

// DefaultScriptTimeout bounds a single script evaluation.
const DefaultScriptTimeout = 30 * time.Second

// maxScriptSteps bounds the work of a single script independently of time.
const maxScriptSteps = 10_000_000

// StarlarkResult is the outcome of one script evaluation.
type StarlarkResult struct {
	// Output holds the script's public globals.
	Output map[string]interface{} `json:"output"`

	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`

	ExecutionTime time.Duration `json:"execution_time"`
}

// StarlarkEvaluator executes Starlark scripts with a timeout. Print is
// discarded and no load() is available, so scripts only see their inputs
// and the predeclared helpers.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator returns an evaluator; a zero timeout means
// DefaultScriptTimeout.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// EvalUnit runs a scripted unit and returns its globals. It satisfies
// process.ScriptEvaluator. The inputs are also available as the dict
// "inlet", since a script that assigns temperature_k cannot read the
// predeclared temperature_k.
func (se *StarlarkEvaluator) EvalUnit(ctx context.Context, script string, inputs map[string]interface{}) (map[string]interface{}, error) {
	predeclared := make(map[string]interface{}, len(inputs)+1)
	for k, v := range inputs {
		predeclared[k] = v
	}
	predeclared["inlet"] = inputs
	res, err := se.Evaluate(ctx, script, predeclared)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// Evaluate runs script with input as predeclared globals and returns its
// public, non-function globals. The run is stopped when ctx is done or the
// evaluator timeout passes; the returned result then carries the message.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*StarlarkResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{Name: "procsim", Print: func(*starlark.Thread, string) {}}
	thread.SetMaxExecutionSteps(maxScriptSteps)

	res := &StarlarkResult{}
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		res.Output, err = execScript(thread, script, input)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		thread.Cancel(ctx.Err().Error())
		<-done
		err = fmt.Errorf("script stopped after %v: %w", time.Since(start).Round(time.Millisecond), ctx.Err())
		res.Output = nil
	}
	res.ExecutionTime = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	return res, nil
}

func execScript(thread *starlark.Thread, script string, input map[string]interface{}) (map[string]interface{}, error) {
	predeclared := starlark.StringDict{
		"struct":  starlarkstruct.Default,
		"convert": starlark.NewBuiltin("convert", builtinConvert),
	}
	for name, v := range input {
		sv, err := toStarlarkValue(v)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		predeclared[name] = sv
	}

	globals, err := starlark.ExecFile(thread, "unit.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("script failed: %w", err)
	}

	out := make(map[string]interface{}, len(globals))
	for name, v := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if _, helper := v.(starlark.Callable); helper {
			continue
		}
		gv, err := fromStarlarkValue(v)
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", name, err)
		}
		out[name] = gv
	}
	return out, nil
}

// builtinConvert implements convert(value, quantity, from, to).
func builtinConvert(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	var quantity, from, to string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &value, "quantity", &quantity, "from", &from, "to", &to); err != nil {
		return nil, err
	}
	v, ok := starlark.AsFloat(value)
	if !ok {
		return nil, fmt.Errorf("%s: value must be a number, got %s", b.Name(), value.Type())
	}
	q, err := thermo.ParseQuantity(quantity)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	out, err := thermo.Convert(q, v, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Float(out), nil
}

// toStarlarkValue converts an input value. Numbers keep their integer or
// float nature; slices become lists and string-keyed maps become dicts.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt(int(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := val.Float64()
		return starlark.Float(f), err
	case []float64:
		items := make([]starlark.Value, len(val))
		for i, f := range val {
			items[i] = starlark.Float(f)
		}
		return starlark.NewList(items), nil
	case []interface{}:
		items := make([]starlark.Value, len(val))
		for i := range val {
			item, err := toStarlarkValue(val[i])
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = item
		}
		return starlark.NewList(items), nil
	case map[string]interface{}:
		d := starlark.NewDict(len(val))
		for k := range val {
			item, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			if err := d.SetKey(starlark.String(k), item); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("cannot pass %T to a script", v)
}

// fromStarlarkValue converts a script global back to Go. Lists and tuples
// become []interface{}; dicts and structs become string-keyed maps.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return nil, fmt.Errorf("integer %s overflows int64", val)
	case *starlark.Dict:
		m := make(map[string]interface{}, val.Len())
		for _, kv := range val.Items() {
			key, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", kv[0])
			}
			item, err := fromStarlarkValue(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			m[key] = item
		}
		return m, nil
	case *starlarkstruct.Struct:
		names := val.AttrNames()
		m := make(map[string]interface{}, len(names))
		for _, name := range names {
			attr, err := val.Attr(name)
			if err != nil || attr == nil {
				continue
			}
			item, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			m[name] = item
		}
		return m, nil
	case *starlark.List, starlark.Tuple:
		seq := val.(starlark.Indexable)
		items := make([]interface{}, seq.Len())
		for i := range items {
			item, err := fromStarlarkValue(seq.Index(i))
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = item
		}
		return items, nil
	}
	return nil, fmt.Errorf("cannot return a %s from a script", v.Type())
}

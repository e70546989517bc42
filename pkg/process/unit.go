package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// Unit is the capability every flowsheet node provides.
type Unit interface {
	Name() string
	Run(ctx context.Context) error
}

// Measurer is implemented by units that expose a measured value.
type Measurer interface {
	Unit
	MeasuredValue(unit string) (float64, error)
}

// Connected is implemented by units that expose their streams. The process
// uses it to validate ordering and to draw the flowsheet graph.
type Connected interface {
	Inlets() []*Stream
	Outlets() []*Stream
}

// Scalars is implemented by units that report derived values such as duty
// or shaft power.
type Scalars interface {
	Scalars() map[string]float64
}

// UnitType is the closed set of built-in unit kinds.
type UnitType int

const (
	TypeCustom UnitType = iota
	TypeStream
	TypeSeparator
	TypeThreePhaseSeparator
	TypeValve
	TypeCompressor
	TypeExpander
	TypePump
	TypeHeater
	TypeCooler
	TypeMixer
	TypeSplitter
	TypeComponentSplitter
	TypeRecycle
	TypeTransmitter
	TypeScripted
)

var unitTypeNames = map[UnitType]string{
	TypeCustom:              "custom",
	TypeStream:              "stream",
	TypeSeparator:           "separator",
	TypeThreePhaseSeparator: "three_phase_separator",
	TypeValve:               "valve",
	TypeCompressor:          "compressor",
	TypeExpander:            "expander",
	TypePump:                "pump",
	TypeHeater:              "heater",
	TypeCooler:              "cooler",
	TypeMixer:               "mixer",
	TypeSplitter:            "splitter",
	TypeComponentSplitter:   "component_splitter",
	TypeRecycle:             "recycle",
	TypeTransmitter:         "transmitter",
	TypeScripted:            "scripted",
}

// String returns the configuration name of the type.
func (t UnitType) String() string {
	if n, ok := unitTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// ParseUnitType maps a configuration name onto the closed UnitType set.
func ParseUnitType(name string) (UnitType, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	for t, n := range unitTypeNames {
		if n == key && t != TypeCustom {
			return t, nil
		}
	}
	return TypeCustom, faults.NewConfigurationError(fmt.Sprintf("unknown equipment type %q", name), nil).
		WithCode(faults.ErrCodeUnknownEquipment)
}

// TypeOf returns the type of a unit, TypeCustom for units outside this package.
func TypeOf(u Unit) UnitType {
	if t, ok := u.(interface{ Type() UnitType }); ok {
		return t.Type()
	}
	return TypeCustom
}

// NodeState tracks the lifecycle of a unit.
type NodeState int

const (
	StateUnbuilt NodeState = iota
	StateRegistered
	StateSucceeded
	StateFailed
)

// String returns the state name.
func (s NodeState) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unbuilt"
	}
}

// Registrar accepts units at construction time. *Process and *Batch
// implement it.
type Registrar interface {
	register(u Unit) error
}

// register adds u to reg, falling back to the default process when reg is nil.
func register(reg Registrar, u Unit) error {
	if reg == nil {
		reg = Default()
	}
	return reg.register(u)
}

// base carries the state shared by every built-in unit.
type base struct {
	mu         sync.RWMutex
	name       string
	kind       UnitType
	state      NodeState
	lastErr    error
	dispatcher *thermo.Dispatcher
}

func (b *base) init(name string, kind UnitType) error {
	if strings.TrimSpace(name) == "" {
		return faults.NewConfigurationError(fmt.Sprintf("%s needs a name", kind), nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	b.name = name
	b.kind = kind
	b.dispatcher = thermo.DefaultDispatcher()
	return nil
}

// Name returns the unit name.
func (b *base) Name() string { return b.name }

// Type returns the unit kind.
func (b *base) Type() UnitType { return b.kind }

// State returns the lifecycle state.
func (b *base) State() NodeState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// LastError returns the error of the last evaluation, if it failed.
func (b *base) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

func (b *base) setState(s NodeState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *base) setDispatcher(d *thermo.Dispatcher) {
	if d != nil {
		b.dispatcher = d
	}
}

// finish records the outcome of an evaluation and attaches the unit name to
// classified errors.
func (b *base) finish(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.state = StateSucceeded
		b.lastErr = nil
		return nil
	}
	var fe *faults.Error
	if errors.As(err, &fe) && fe.Unit == "" {
		fe.WithUnit(b.name)
	}
	b.state = StateFailed
	b.lastErr = err
	return err
}

func (b *base) flash(ctx context.Context, f thermo.Fluid, spec thermo.FlashSpec) error {
	return b.dispatcher.Flash(ctx, f, spec)
}

// tpFlash flashes f at its current conditions.
func (b *base) tpFlash(ctx context.Context, f thermo.Fluid) error {
	return b.flash(ctx, f, thermo.TP(f.Temperature(), "K", f.Pressure(), "bara"))
}

func missingInlet(unit string) error {
	return faults.NewConfigurationError("inlet stream is missing", nil).
		WithCode(faults.ErrCodeMissingInlet).
		WithUnit(unit)
}

func invalidParameter(unit, format string, args ...interface{}) error {
	return faults.NewConfigurationError(fmt.Sprintf(format, args...), nil).
		WithCode(faults.ErrCodeInvalidParameter).
		WithUnit(unit)
}

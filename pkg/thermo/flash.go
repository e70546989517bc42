package thermo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/procsim/pkg/faults"
)

// FlashKind is the closed set of flash specifications.
type FlashKind int

const (
	FlashTP FlashKind = iota
	FlashPH
	FlashPS
	FlashTV
	FlashTS
	FlashVH
	FlashVU
	FlashPU
	FlashSaturationPressure
	FlashSaturationTemperature
	FlashBubblePointPressure
	FlashBubblePointTemperature
	FlashDewPointPressure
	FlashDewPointTemperature
	FlashWaterDewPoint
	FlashHydratePoint
)

// flashLayout declares the quantities of the two spec values. A second
// quantity of QuantityDimensionless means the second condition is the phase
// boundary itself and the value is ignored.
var flashLayout = map[FlashKind]struct {
	name   string
	first  Quantity
	second Quantity
}{
	FlashTP:                     {"TP", QuantityTemperature, QuantityPressure},
	FlashPH:                     {"PH", QuantityPressure, QuantityMolarEnergy},
	FlashPS:                     {"PS", QuantityPressure, QuantityMolarEntropy},
	FlashTV:                     {"TV", QuantityTemperature, QuantityMolarVolume},
	FlashTS:                     {"TS", QuantityTemperature, QuantityMolarEntropy},
	FlashVH:                     {"VH", QuantityMolarVolume, QuantityMolarEnergy},
	FlashVU:                     {"VU", QuantityMolarVolume, QuantityMolarEnergy},
	FlashPU:                     {"PU", QuantityPressure, QuantityMolarEnergy},
	FlashSaturationPressure:     {"saturation-pressure", QuantityTemperature, QuantityDimensionless},
	FlashSaturationTemperature:  {"saturation-temperature", QuantityPressure, QuantityDimensionless},
	FlashBubblePointPressure:    {"bubble-point-pressure", QuantityTemperature, QuantityDimensionless},
	FlashBubblePointTemperature: {"bubble-point-temperature", QuantityPressure, QuantityDimensionless},
	FlashDewPointPressure:       {"dew-point-pressure", QuantityTemperature, QuantityDimensionless},
	FlashDewPointTemperature:    {"dew-point-temperature", QuantityPressure, QuantityDimensionless},
	FlashWaterDewPoint:          {"water-dew-point", QuantityPressure, QuantityDimensionless},
	FlashHydratePoint:           {"hydrate-point", QuantityPressure, QuantityDimensionless},
}

// String returns the flash name.
func (k FlashKind) String() string {
	if l, ok := flashLayout[k]; ok {
		return l.name
	}
	return fmt.Sprintf("flash(%d)", int(k))
}

// Value is a number with its unit. An empty unit means canonical.
type Value struct {
	V    float64
	Unit string
}

// FlashSpec is a tagged flash specification carrying two independent values.
type FlashSpec struct {
	Kind   FlashKind
	First  Value
	Second Value
}

// TP returns a temperature-pressure specification.
func TP(t float64, tUnit string, p float64, pUnit string) FlashSpec {
	return FlashSpec{Kind: FlashTP, First: Value{t, tUnit}, Second: Value{p, pUnit}}
}

// PH returns a pressure-enthalpy specification; h is molar.
func PH(p float64, pUnit string, h float64, hUnit string) FlashSpec {
	return FlashSpec{Kind: FlashPH, First: Value{p, pUnit}, Second: Value{h, hUnit}}
}

// PS returns a pressure-entropy specification; s is molar.
func PS(p float64, pUnit string, s float64, sUnit string) FlashSpec {
	return FlashSpec{Kind: FlashPS, First: Value{p, pUnit}, Second: Value{s, sUnit}}
}

// TV returns a temperature-volume specification; v is molar.
func TV(t float64, tUnit string, v float64, vUnit string) FlashSpec {
	return FlashSpec{Kind: FlashTV, First: Value{t, tUnit}, Second: Value{v, vUnit}}
}

// TS returns a temperature-entropy specification.
func TS(t float64, tUnit string, s float64, sUnit string) FlashSpec {
	return FlashSpec{Kind: FlashTS, First: Value{t, tUnit}, Second: Value{s, sUnit}}
}

// VH returns a volume-enthalpy specification.
func VH(v float64, vUnit string, h float64, hUnit string) FlashSpec {
	return FlashSpec{Kind: FlashVH, First: Value{v, vUnit}, Second: Value{h, hUnit}}
}

// VU returns a volume-internal energy specification.
func VU(v float64, vUnit string, u float64, uUnit string) FlashSpec {
	return FlashSpec{Kind: FlashVU, First: Value{v, vUnit}, Second: Value{u, uUnit}}
}

// PU returns a pressure-internal energy specification.
func PU(p float64, pUnit string, u float64, uUnit string) FlashSpec {
	return FlashSpec{Kind: FlashPU, First: Value{p, pUnit}, Second: Value{u, uUnit}}
}

// SaturationPressureAt searches the saturation pressure at temperature t.
func SaturationPressureAt(t float64, tUnit string) FlashSpec {
	return FlashSpec{Kind: FlashSaturationPressure, First: Value{t, tUnit}}
}

// SaturationTemperatureAt searches the saturation temperature at pressure p.
func SaturationTemperatureAt(p float64, pUnit string) FlashSpec {
	return FlashSpec{Kind: FlashSaturationTemperature, First: Value{p, pUnit}}
}

// BubblePointPressureAt searches the bubble-point pressure at temperature t.
func BubblePointPressureAt(t float64, tUnit string) FlashSpec {
	return FlashSpec{Kind: FlashBubblePointPressure, First: Value{t, tUnit}}
}

// BubblePointTemperatureAt searches the bubble-point temperature at pressure p.
func BubblePointTemperatureAt(p float64, pUnit string) FlashSpec {
	return FlashSpec{Kind: FlashBubblePointTemperature, First: Value{p, pUnit}}
}

// DewPointPressureAt searches the dew-point pressure at temperature t.
func DewPointPressureAt(t float64, tUnit string) FlashSpec {
	return FlashSpec{Kind: FlashDewPointPressure, First: Value{t, tUnit}}
}

// DewPointTemperatureAt searches the dew-point temperature at pressure p.
func DewPointTemperatureAt(p float64, pUnit string) FlashSpec {
	return FlashSpec{Kind: FlashDewPointTemperature, First: Value{p, pUnit}}
}

// WaterDewPointAt searches the water dew-point temperature at pressure p.
func WaterDewPointAt(p float64, pUnit string) FlashSpec {
	return FlashSpec{Kind: FlashWaterDewPoint, First: Value{p, pUnit}}
}

// HydratePointAt searches the hydrate formation temperature at pressure p.
func HydratePointAt(p float64, pUnit string) FlashSpec {
	return FlashSpec{Kind: FlashHydratePoint, First: Value{p, pUnit}}
}

// SingleValued reports whether the second condition is the phase boundary.
func (s FlashSpec) SingleValued() bool {
	return flashLayout[s.Kind].second == QuantityDimensionless
}

// Validate checks the kind and the finiteness of the supplied values.
func (s FlashSpec) Validate() error {
	layout, ok := flashLayout[s.Kind]
	if !ok {
		return faults.NewConfigurationError(fmt.Sprintf("unknown flash kind %d", int(s.Kind)), nil).
			WithCode(faults.ErrCodeInvalidSpec)
	}
	if !finite(s.First.V) {
		return faults.NewConfigurationError(fmt.Sprintf("%s flash: first value is not finite", layout.name), nil).
			WithCode(faults.ErrCodeInvalidSpec)
	}
	if !s.SingleValued() && !finite(s.Second.V) {
		return faults.NewConfigurationError(fmt.Sprintf("%s flash: second value is not finite", layout.name), nil).
			WithCode(faults.ErrCodeInvalidSpec)
	}
	return nil
}

// Canonical returns the spec values in canonical units.
func (s FlashSpec) Canonical() (first, second float64, err error) {
	if err := s.Validate(); err != nil {
		return 0, 0, err
	}
	layout := flashLayout[s.Kind]
	first, err = ToCanonical(layout.first, s.First.V, s.First.Unit)
	if err != nil {
		return 0, 0, err
	}
	if s.SingleValued() {
		return first, 0, nil
	}
	second, err = ToCanonical(layout.second, s.Second.V, s.Second.Unit)
	if err != nil {
		return 0, 0, err
	}
	return first, second, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FlashObserver receives one callback per dispatched flash.
type FlashObserver interface {
	ObserveFlash(kind FlashKind, elapsed time.Duration, err error)
}

// Dispatcher translates flash specifications into engine calls. It never
// retries a failed flash.
type Dispatcher struct {
	logger    zerolog.Logger
	observers []FlashObserver
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger sets the logger used for per-flash debug events.
func WithDispatchLogger(l zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithFlashObserver adds an observer.
func WithFlashObserver(o FlashObserver) DispatcherOption {
	return func(d *Dispatcher) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var defaultDispatcher = NewDispatcher()

// DefaultDispatcher returns a dispatcher without logging or observers.
func DefaultDispatcher() *Dispatcher {
	return defaultDispatcher
}

// Flash sets the fixed conditions on f, invokes the engine solver for the
// spec kind and initializes derived properties. Composition is never touched.
// Failures are returned as flash-class errors; invalid specs and units as
// configuration-class errors.
func (d *Dispatcher) Flash(ctx context.Context, f Fluid, spec FlashSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := d.flash(f, spec)
	elapsed := time.Since(start)

	for _, o := range d.observers {
		o.ObserveFlash(spec.Kind, elapsed, err)
	}
	if err != nil {
		d.logger.Debug().Err(err).Str("flash", spec.Kind.String()).Dur("elapsed", elapsed).Msg("flash failed")
		return err
	}
	d.logger.Debug().
		Str("flash", spec.Kind.String()).
		Float64("temperature_k", f.Temperature()).
		Float64("pressure_bara", f.Pressure()).
		Int("phases", f.NumberOfPhases()).
		Dur("elapsed", elapsed).
		Msg("flash completed")
	return nil
}

func (d *Dispatcher) flash(f Fluid, spec FlashSpec) error {
	a, b, err := spec.Canonical()
	if err != nil {
		return err
	}
	layout := flashLayout[spec.Kind]

	switch layout.first {
	case QuantityTemperature:
		err = f.SetTemperature(a, "K")
	case QuantityPressure:
		err = f.SetPressure(a, "bara")
	}
	if err != nil {
		return err
	}

	switch spec.Kind {
	case FlashTP:
		if err = f.SetPressure(b, "bara"); err == nil {
			err = f.TPFlash()
		}
	case FlashPH:
		err = f.PHFlash(b)
	case FlashPS:
		err = f.PSFlash(b)
	case FlashTV:
		err = f.TVFlash(b)
	case FlashTS:
		err = f.TSFlash(b)
	case FlashVH:
		err = f.VHFlash(a, b)
	case FlashVU:
		err = f.VUFlash(a, b)
	case FlashPU:
		err = f.PUFlash(b)
	case FlashSaturationPressure:
		err = f.SaturationPressure()
	case FlashSaturationTemperature:
		err = f.SaturationTemperature()
	case FlashBubblePointPressure:
		err = f.BubblePointPressure()
	case FlashBubblePointTemperature:
		err = f.BubblePointTemperature()
	case FlashDewPointPressure:
		err = f.DewPointPressure()
	case FlashDewPointTemperature:
		err = f.DewPointTemperature()
	case FlashWaterDewPoint:
		err = f.WaterDewPointTemperature()
	case FlashHydratePoint:
		err = f.HydrateTemperature()
	}
	if err == nil {
		err = f.InitProperties()
	}
	if err == nil {
		return nil
	}

	var fe *faults.Error
	if errors.As(err, &fe) {
		if fe.Operation == "" {
			fe.WithOperation(spec.Kind.String())
		}
		return fe
	}
	return faults.NewFlashError(spec.Kind.String()+" flash failed", err).WithOperation(spec.Kind.String())
}

package process

import (
	"context"
	"math"
	"sync"

	"github.com/openfroyo/procsim/pkg/thermo"
)

// Measurement is the closed set of quantities a Transmitter can report.
type Measurement int

const (
	MeasurePressure Measurement = iota
	MeasureTemperature
	MeasureMolarFlow
	MeasureMassFlow
	MeasureWaterDewPoint
	MeasureHydrateTemperature
)

var measurementNames = map[Measurement]string{
	MeasurePressure:           "pressure",
	MeasureTemperature:        "temperature",
	MeasureMolarFlow:          "molar_flow",
	MeasureMassFlow:           "mass_flow",
	MeasureWaterDewPoint:      "water_dew_point",
	MeasureHydrateTemperature: "hydrate_temperature",
}

// String returns the configuration name.
func (m Measurement) String() string {
	if n, ok := measurementNames[m]; ok {
		return n
	}
	return "unknown"
}

// ParseMeasurement maps a configuration name to a Measurement.
func ParseMeasurement(name string) (Measurement, error) {
	for m, n := range measurementNames {
		if n == name {
			return m, nil
		}
	}
	return 0, invalidParameter("", "unknown measurement %q", name)
}

func (m Measurement) quantity() thermo.Quantity {
	switch m {
	case MeasurePressure:
		return thermo.QuantityPressure
	case MeasureMolarFlow:
		return thermo.QuantityMolarFlow
	case MeasureMassFlow:
		return thermo.QuantityMassFlow
	default:
		return thermo.QuantityTemperature
	}
}

// Transmitter reads one quantity from a stream. Dew point and hydrate
// measurements flash a clone of the stream fluid; the stream is untouched.
type Transmitter struct {
	base
	stream  *Stream
	measure Measurement

	valueMu sync.RWMutex
	value   float64 // canonical unit
}

// NewTransmitter registers a measurement device on stream.
func NewTransmitter(reg Registrar, name string, stream *Stream, m Measurement) (*Transmitter, error) {
	if stream == nil {
		return nil, missingInlet(name)
	}
	if _, ok := measurementNames[m]; !ok {
		return nil, invalidParameter(name, "unknown measurement %d", int(m))
	}
	t := &Transmitter{stream: stream, measure: m, value: math.NaN()}
	if err := t.init(name, TypeTransmitter); err != nil {
		return nil, err
	}
	if err := register(reg, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Measurement returns what the device measures.
func (t *Transmitter) Measurement() Measurement { return t.measure }

// Run takes a reading.
func (t *Transmitter) Run(ctx context.Context) error {
	return t.finish(t.run(ctx))
}

func (t *Transmitter) run(ctx context.Context) error {
	f := t.stream.Fluid()
	if f == nil {
		return missingInlet(t.name)
	}
	var v float64
	var err error
	switch t.measure {
	case MeasurePressure:
		v = f.Pressure()
	case MeasureTemperature:
		v = f.Temperature()
	case MeasureMolarFlow:
		v = f.TotalFlowRate()
	case MeasureMassFlow:
		v = f.TotalFlowRate() * thermo.MolarMass(f)
	case MeasureWaterDewPoint:
		c := f.Clone()
		err = t.flash(ctx, c, thermo.WaterDewPointAt(f.Pressure(), "bara"))
		v = c.Temperature()
	case MeasureHydrateTemperature:
		c := f.Clone()
		err = t.flash(ctx, c, thermo.HydratePointAt(f.Pressure(), "bara"))
		v = c.Temperature()
	}
	if err != nil {
		t.setValue(math.NaN())
		return err
	}
	t.setValue(v)
	return nil
}

func (t *Transmitter) setValue(v float64) {
	t.valueMu.Lock()
	t.value = v
	t.valueMu.Unlock()
}

// MeasuredValue returns the last reading in unit; NaN before the first
// successful evaluation.
func (t *Transmitter) MeasuredValue(unit string) (float64, error) {
	t.valueMu.RLock()
	v := t.value
	t.valueMu.RUnlock()
	if math.IsNaN(v) {
		return v, nil
	}
	return thermo.FromCanonical(t.measure.quantity(), v, unit)
}

// Inlets returns the measured stream.
func (t *Transmitter) Inlets() []*Stream { return []*Stream{t.stream} }

// Outlets returns nothing; a transmitter produces no material.
func (t *Transmitter) Outlets() []*Stream { return nil }

// Scalars reports the reading in canonical units.
func (t *Transmitter) Scalars() map[string]float64 {
	v, _ := t.MeasuredValue("")
	return map[string]float64{t.measure.String(): v}
}

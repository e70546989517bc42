package process

import (
	"context"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// Stream holds a fluid. Registered streams are feeds or wrap another stream;
// unregistered streams are the outlet ports of units.
type Stream struct {
	base
	fluid  thermo.Fluid
	source *Stream
	owner  string
	port   string
}

// NewStream registers a feed stream holding a copy of fluid. Later
// changes to fluid do not reach the stream; use SetFluid for that.
func NewStream(reg Registrar, name string, fluid thermo.Fluid) (*Stream, error) {
	if fluid == nil {
		return nil, faults.NewConfigurationError("stream needs a fluid", nil).
			WithCode(faults.ErrCodeInvalidParameter).
			WithUnit(name)
	}
	s := &Stream{fluid: fluid.Clone()}
	if err := s.init(name, TypeStream); err != nil {
		return nil, err
	}
	if err := register(reg, s); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStreamFrom registers a stream that copies source on every evaluation.
func NewStreamFrom(reg Registrar, name string, source *Stream) (*Stream, error) {
	if source == nil {
		return nil, missingInlet(name)
	}
	s := &Stream{source: source}
	if err := s.init(name, TypeStream); err != nil {
		return nil, err
	}
	if err := register(reg, s); err != nil {
		return nil, err
	}
	return s, nil
}

// newPort creates an unregistered outlet stream owned by a unit.
func newPort(owner, port string) *Stream {
	s := &Stream{owner: owner, port: port}
	s.name = owner + "." + port
	s.kind = TypeStream
	s.dispatcher = thermo.DefaultDispatcher()
	return s
}

// Fluid returns the current fluid, nil when nothing has been produced yet.
func (s *Stream) Fluid() thermo.Fluid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fluid
}

// SetFluid replaces the fluid. The stream takes ownership of f.
func (s *Stream) SetFluid(f thermo.Fluid) {
	s.mu.Lock()
	s.fluid = f
	s.mu.Unlock()
}

// Owner returns the name of the unit producing this stream, empty for
// registered streams.
func (s *Stream) Owner() string { return s.owner }

// Port returns the outlet port name for unit-owned streams.
func (s *Stream) Port() string { return s.port }

// Source returns the wrapped stream, if any.
func (s *Stream) Source() *Stream { return s.source }

// Run validates the held fluid and flashes it at its conditions. A stream
// built from another stream first copies its source.
func (s *Stream) Run(ctx context.Context) error {
	return s.finish(s.run(ctx))
}

func (s *Stream) run(ctx context.Context) error {
	if s.source != nil {
		src := s.source.Fluid()
		if src == nil {
			return missingInlet(s.name)
		}
		s.SetFluid(src.Clone())
	}
	f := s.Fluid()
	if f == nil {
		return missingInlet(s.name)
	}
	if len(f.Components()) == 0 {
		return invalidParameter(s.name, "stream fluid has no components")
	}
	if q := f.TotalFlowRate(); q < 0 || math.IsNaN(q) {
		return invalidParameter(s.name, "stream flow must be non-negative, got %g", q)
	}
	return s.tpFlash(ctx, f)
}

// Inlets returns the wrapped stream, if any.
func (s *Stream) Inlets() []*Stream {
	if s.source != nil {
		return []*Stream{s.source}
	}
	return nil
}

// Outlets returns the stream itself.
func (s *Stream) Outlets() []*Stream {
	return []*Stream{s}
}

// Property returns a bulk property of the held fluid.
func (s *Stream) Property(p thermo.Property, unit string) (float64, error) {
	f := s.Fluid()
	if f == nil {
		return math.NaN(), missingInlet(s.name)
	}
	return f.Property(p, unit)
}

// Temperature returns the stream temperature in unit.
func (s *Stream) Temperature(unit string) (float64, error) {
	return s.Property(thermo.PropTemperature, unit)
}

// Pressure returns the stream pressure in unit.
func (s *Stream) Pressure(unit string) (float64, error) {
	return s.Property(thermo.PropPressure, unit)
}

// FlowRate returns the total flow in a molar or mass unit.
func (s *Stream) FlowRate(unit string) (float64, error) {
	if thermo.IsMassFlowUnit(unit) {
		return s.Property(thermo.PropMassFlow, unit)
	}
	return s.Property(thermo.PropMolarFlow, unit)
}

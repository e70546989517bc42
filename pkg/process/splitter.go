package process

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/openfroyo/procsim/pkg/faults"
)

const fractionSumTolerance = 1e-9

// Splitter divides its inlet into outlets by bulk flow fraction. Outlet
// ports are named "0", "1", ... in fraction order.
type Splitter struct {
	base
	inlet   *Stream
	outlets []*Stream

	settingsMu sync.RWMutex
	fractions  []float64
}

// NewSplitter registers a splitter. Fractions must each lie in [0, 1] and
// sum to 1.
func NewSplitter(reg Registrar, name string, inlet *Stream, fractions []float64) (*Splitter, error) {
	if inlet == nil {
		return nil, missingInlet(name)
	}
	s := &Splitter{inlet: inlet}
	if err := s.init(name, TypeSplitter); err != nil {
		return nil, err
	}
	if err := validateSplit(name, fractions); err != nil {
		return nil, err
	}
	s.fractions = append([]float64(nil), fractions...)
	s.outlets = make([]*Stream, len(fractions))
	for i := range fractions {
		s.outlets[i] = newPort(name, strconv.Itoa(i))
	}
	if err := register(reg, s); err != nil {
		return nil, err
	}
	return s, nil
}

func validateSplit(unit string, fractions []float64) error {
	if len(fractions) == 0 {
		return invalidFraction(unit, "splitter needs at least one fraction")
	}
	var sum float64
	for i, f := range fractions {
		if math.IsNaN(f) || f < 0 || f > 1 {
			return invalidFraction(unit, fmt.Sprintf("fraction %d = %g is outside [0, 1]", i, f))
		}
		sum += f
	}
	if math.Abs(sum-1) > fractionSumTolerance {
		return invalidFraction(unit, fmt.Sprintf("fractions sum to %g, not 1", sum))
	}
	return nil
}

func invalidFraction(unit, msg string) error {
	return faults.NewConfigurationError(msg, nil).
		WithCode(faults.ErrCodeInvalidFraction).
		WithUnit(unit)
}

// SetFractions replaces the split. The number of outlets cannot change.
func (s *Splitter) SetFractions(fractions []float64) error {
	if len(fractions) != len(s.outlets) {
		return invalidFraction(s.name, fmt.Sprintf("expected %d fractions, got %d", len(s.outlets), len(fractions)))
	}
	if err := validateSplit(s.name, fractions); err != nil {
		return err
	}
	s.settingsMu.Lock()
	s.fractions = append([]float64(nil), fractions...)
	s.settingsMu.Unlock()
	return nil
}

// Fractions returns a copy of the split.
func (s *Splitter) Fractions() []float64 {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return append([]float64(nil), s.fractions...)
}

// Run fills every outlet with a scaled copy of the inlet.
func (s *Splitter) Run(ctx context.Context) error {
	return s.finish(s.run(ctx))
}

func (s *Splitter) run(ctx context.Context) error {
	in := s.inlet.Fluid()
	if in == nil {
		return missingInlet(s.name)
	}
	flow := in.TotalFlowRate()
	for i, f := range s.Fractions() {
		out, err := s.scaledCopy(ctx, in, flow*f)
		if err != nil {
			return err
		}
		s.outlets[i].SetFluid(out)
	}
	return nil
}

// Inlet returns the inlet stream.
func (s *Splitter) Inlet() *Stream { return s.inlet }

// Outlet returns outlet i, nil when out of range.
func (s *Splitter) Outlet(i int) *Stream {
	if i < 0 || i >= len(s.outlets) {
		return nil
	}
	return s.outlets[i]
}

// Inlets returns the inlet stream.
func (s *Splitter) Inlets() []*Stream { return []*Stream{s.inlet} }

// Outlets returns all outlet streams.
func (s *Splitter) Outlets() []*Stream { return append([]*Stream(nil), s.outlets...) }

// ComponentSplitter sends a per-component fraction of the inlet to each
// outlet. Fractions are indexed [outlet][component] and need not sum to 1
// across outlets; material not assigned to any outlet leaves the flowsheet.
type ComponentSplitter struct {
	base
	inlet   *Stream
	outlets []*Stream

	settingsMu sync.RWMutex
	fractions  [][]float64
}

// NewComponentSplitter registers a component splitter with one outlet per
// fraction vector.
func NewComponentSplitter(reg Registrar, name string, inlet *Stream, fractions [][]float64) (*ComponentSplitter, error) {
	if inlet == nil {
		return nil, missingInlet(name)
	}
	s := &ComponentSplitter{inlet: inlet}
	if err := s.init(name, TypeComponentSplitter); err != nil {
		return nil, err
	}
	if err := validateComponentSplit(name, fractions); err != nil {
		return nil, err
	}
	s.fractions = copyFractions(fractions)
	s.outlets = make([]*Stream, len(fractions))
	for i := range fractions {
		s.outlets[i] = newPort(name, strconv.Itoa(i))
	}
	if err := register(reg, s); err != nil {
		return nil, err
	}
	return s, nil
}

func validateComponentSplit(unit string, fractions [][]float64) error {
	if len(fractions) == 0 {
		return invalidFraction(unit, "component splitter needs at least one outlet")
	}
	n := len(fractions[0])
	for o, row := range fractions {
		if len(row) != n {
			return invalidFraction(unit, fmt.Sprintf("outlet %d has %d fractions, want %d", o, len(row), n))
		}
		for k, f := range row {
			if math.IsNaN(f) || f < 0 || f > 1 {
				return invalidFraction(unit, fmt.Sprintf("outlet %d component %d fraction %g is outside [0, 1]", o, k, f))
			}
		}
	}
	for k := 0; k < n; k++ {
		var sum float64
		for _, row := range fractions {
			sum += row[k]
		}
		if sum > 1+fractionSumTolerance {
			return invalidFraction(unit, fmt.Sprintf("component %d is split %g times", k, sum))
		}
	}
	return nil
}

func copyFractions(in [][]float64) [][]float64 {
	out := make([][]float64, len(in))
	for i, row := range in {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Fractions returns a copy of the split matrix.
func (s *ComponentSplitter) Fractions() [][]float64 {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return copyFractions(s.fractions)
}

// Run fills every outlet with its share of each component.
func (s *ComponentSplitter) Run(ctx context.Context) error {
	return s.finish(s.run(ctx))
}

func (s *ComponentSplitter) run(ctx context.Context) error {
	in := s.inlet.Fluid()
	if in == nil {
		return missingInlet(s.name)
	}
	z := in.Composition()
	flow := in.TotalFlowRate()
	fractions := s.Fractions()
	for o, row := range fractions {
		if len(row) != len(z) {
			return invalidFraction(s.name, fmt.Sprintf("outlet %d has %d fractions for %d components", o, len(row), len(z)))
		}
		moles := make([]float64, len(z))
		var total float64
		for k := range z {
			moles[k] = z[k] * flow * row[k]
			total += moles[k]
		}
		out := in.Clone()
		if total > 0 {
			for k := range moles {
				moles[k] /= total
			}
			if err := out.SetComposition(moles); err != nil {
				return err
			}
		}
		if err := out.SetTotalFlowRate(total, "mol/s"); err != nil {
			return err
		}
		if err := s.tpFlash(ctx, out); err != nil {
			return err
		}
		s.outlets[o].SetFluid(out)
	}
	return nil
}

// Inlet returns the inlet stream.
func (s *ComponentSplitter) Inlet() *Stream { return s.inlet }

// Outlet returns outlet i, nil when out of range.
func (s *ComponentSplitter) Outlet(i int) *Stream {
	if i < 0 || i >= len(s.outlets) {
		return nil
	}
	return s.outlets[i]
}

// Inlets returns the inlet stream.
func (s *ComponentSplitter) Inlets() []*Stream { return []*Stream{s.inlet} }

// Outlets returns all outlet streams.
func (s *ComponentSplitter) Outlets() []*Stream { return append([]*Stream(nil), s.outlets...) }

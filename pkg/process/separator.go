package process

import (
	"context"
	"sync"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// Separator splits its mixed inlets into gas and liquid at inlet conditions.
// Both outlet ports always exist; an absent phase leaves its port at zero flow.
type Separator struct {
	base
	inlets []*Stream
	ports  map[thermo.PhaseTag]*Stream
	order  []thermo.PhaseTag
	groups map[thermo.PhaseTag][]thermo.PhaseTag

	stateMu sync.RWMutex
	mixed   thermo.Fluid
}

// NewSeparator registers a two-phase separator with ports "gas" and "liquid".
func NewSeparator(reg Registrar, name string, inlets ...*Stream) (*Separator, error) {
	s := &Separator{
		order: []thermo.PhaseTag{thermo.PhaseGas, thermo.PhaseLiquid},
		groups: map[thermo.PhaseTag][]thermo.PhaseTag{
			thermo.PhaseGas:    {thermo.PhaseGas},
			thermo.PhaseLiquid: {thermo.PhaseOil, thermo.PhaseAqueous},
		},
	}
	if err := s.setup(reg, name, TypeSeparator, inlets); err != nil {
		return nil, err
	}
	return s, nil
}

// NewThreePhaseSeparator registers a separator with ports "gas", "oil" and
// "aqueous". The multiphase check is enabled on the mixed fluid.
func NewThreePhaseSeparator(reg Registrar, name string, inlets ...*Stream) (*Separator, error) {
	s := &Separator{
		order: []thermo.PhaseTag{thermo.PhaseGas, thermo.PhaseOil, thermo.PhaseAqueous},
		groups: map[thermo.PhaseTag][]thermo.PhaseTag{
			thermo.PhaseGas:     {thermo.PhaseGas},
			thermo.PhaseOil:     {thermo.PhaseOil},
			thermo.PhaseAqueous: {thermo.PhaseAqueous},
		},
	}
	if err := s.setup(reg, name, TypeThreePhaseSeparator, inlets); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Separator) setup(reg Registrar, name string, kind UnitType, inlets []*Stream) error {
	if err := s.init(name, kind); err != nil {
		return err
	}
	s.ports = make(map[thermo.PhaseTag]*Stream, len(s.order))
	for _, tag := range s.order {
		s.ports[tag] = newPort(name, string(tag))
	}
	for _, in := range inlets {
		if err := s.AddInlet(in); err != nil {
			return err
		}
	}
	return register(reg, s)
}

// AddInlet connects another inlet stream.
func (s *Separator) AddInlet(in *Stream) error {
	if in == nil {
		return missingInlet(s.name)
	}
	s.inlets = append(s.inlets, in)
	return nil
}

// Run mixes the inlets, flashes at the lowest inlet pressure and fills the ports.
func (s *Separator) Run(ctx context.Context) error {
	return s.finish(s.run(ctx))
}

func (s *Separator) run(ctx context.Context) error {
	if len(s.inlets) == 0 {
		return missingInlet(s.name)
	}
	mixed, err := mixInlets(ctx, &s.base, s.inlets, s.kind == TypeThreePhaseSeparator)
	if err != nil {
		return err
	}
	s.stateMu.Lock()
	s.mixed = mixed
	s.stateMu.Unlock()

	for _, port := range s.order {
		out, err := s.phaseFluid(ctx, mixed, s.groups[port]...)
		if err != nil {
			return err
		}
		s.ports[port].SetFluid(out)
	}
	return nil
}

// mixInlets combines inlets and flashes: TP for a single inlet, PH at the
// lowest inlet pressure for several.
func mixInlets(ctx context.Context, b *base, inlets []*Stream, multiPhase bool) (thermo.Fluid, error) {
	bl, err := b.combine(ctx, inlets, len(inlets) > 1)
	if err != nil {
		return nil, err
	}
	f := bl.fluid
	if multiPhase {
		f.SetMultiPhaseCheck(true)
	}
	if bl.sources > 1 && bl.flow > 0 {
		err = b.flash(ctx, f, thermo.PH(bl.pressure, "bara", bl.enthalpy/bl.flow, "J/mol"))
	} else {
		err = b.tpFlash(ctx, f)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Fluid returns the flashed mixed inlet fluid of the last evaluation.
func (s *Separator) Fluid() thermo.Fluid {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.mixed
}

// HasPhase reports whether the phase is present in the separator. It never fails.
func (s *Separator) HasPhase(tag thermo.PhaseTag) bool {
	f := s.Fluid()
	return f != nil && f.HasPhase(tag)
}

// PhaseFluid returns a fluid for one phase, or a phase-absent error.
func (s *Separator) PhaseFluid(ctx context.Context, tag thermo.PhaseTag) (thermo.Fluid, error) {
	f := s.Fluid()
	if f == nil || !f.HasPhase(tag) {
		return nil, faults.NewPhaseAbsentError(string(tag)).WithUnit(s.name)
	}
	return s.phaseFluid(ctx, f, tag)
}

// Port returns the outlet stream for a port tag, nil when the separator has
// no such port.
func (s *Separator) Port(tag thermo.PhaseTag) *Stream {
	return s.ports[tag]
}

// GasOutlet returns the gas port.
func (s *Separator) GasOutlet() *Stream { return s.ports[thermo.PhaseGas] }

// LiquidOutlet returns the liquid port of a two-phase separator, or the oil
// port of a three-phase separator.
func (s *Separator) LiquidOutlet() *Stream {
	if p, ok := s.ports[thermo.PhaseLiquid]; ok {
		return p
	}
	return s.ports[thermo.PhaseOil]
}

// OilOutlet returns the oil port of a three-phase separator.
func (s *Separator) OilOutlet() *Stream { return s.ports[thermo.PhaseOil] }

// AqueousOutlet returns the aqueous port of a three-phase separator.
func (s *Separator) AqueousOutlet() *Stream { return s.ports[thermo.PhaseAqueous] }

// Inlets returns the inlet streams.
func (s *Separator) Inlets() []*Stream { return append([]*Stream(nil), s.inlets...) }

// Outlets returns the ports in gas, liquid order.
func (s *Separator) Outlets() []*Stream {
	out := make([]*Stream, len(s.order))
	for i, tag := range s.order {
		out[i] = s.ports[tag]
	}
	return out
}

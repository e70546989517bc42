package process

import (
	"context"
	"sync"
)

// Mixer combines its inlets into one outlet. Several inlets are flashed on
// an enthalpy balance at the lowest inlet pressure.
type Mixer struct {
	base
	inletsMu sync.RWMutex
	inlets   []*Stream
	outlet   *Stream
}

// NewMixer registers a mixer. More inlets may be added with AddInlet.
func NewMixer(reg Registrar, name string, inlets ...*Stream) (*Mixer, error) {
	m := &Mixer{}
	if err := m.init(name, TypeMixer); err != nil {
		return nil, err
	}
	m.outlet = newPort(name, "out")
	for _, in := range inlets {
		if err := m.AddInlet(in); err != nil {
			return nil, err
		}
	}
	if err := register(reg, m); err != nil {
		return nil, err
	}
	return m, nil
}

// AddInlet connects another inlet stream.
func (m *Mixer) AddInlet(in *Stream) error {
	if in == nil {
		return missingInlet(m.name)
	}
	m.inletsMu.Lock()
	m.inlets = append(m.inlets, in)
	m.inletsMu.Unlock()
	return nil
}

// Run mixes the inlets that currently carry a fluid.
func (m *Mixer) Run(ctx context.Context) error {
	return m.finish(m.run(ctx))
}

func (m *Mixer) run(ctx context.Context) error {
	inlets := m.Inlets()
	if len(inlets) == 0 {
		return missingInlet(m.name)
	}
	out, err := mixInlets(ctx, &m.base, inlets, false)
	if err != nil {
		return err
	}
	m.outlet.SetFluid(out)
	return nil
}

// Outlet returns the outlet stream.
func (m *Mixer) Outlet() *Stream { return m.outlet }

// Inlets returns the connected inlets.
func (m *Mixer) Inlets() []*Stream {
	m.inletsMu.RLock()
	defer m.inletsMu.RUnlock()
	return append([]*Stream(nil), m.inlets...)
}

// Outlets returns the outlet stream.
func (m *Mixer) Outlets() []*Stream { return []*Stream{m.outlet} }

// Scalars reports the mixed flow and pressure.
func (m *Mixer) Scalars() map[string]float64 {
	f := m.outlet.Fluid()
	if f == nil {
		return nil
	}
	return map[string]float64{"flow_mol_s": f.TotalFlowRate(), "pressure_bara": f.Pressure()}
}

package process

import (
	"math"
	"sort"

	"github.com/openfroyo/procsim/pkg/thermo"
)

// Report is a snapshot of every unit and stream of a process.
type Report struct {
	Process  string          `json:"process" yaml:"process"`
	Run      RunInfo         `json:"run" yaml:"run"`
	Units    []UnitReport    `json:"units" yaml:"units"`
	Streams  []StreamReport  `json:"streams" yaml:"streams"`
	// Recycles carries a residual of -1 for bindings not yet evaluated twice.
	Recycles []RecycleStatus `json:"recycles,omitempty" yaml:"recycles,omitempty"`
}

// UnitReport is the state of one unit.
type UnitReport struct {
	Name    string             `json:"name" yaml:"name"`
	Type    string             `json:"type" yaml:"type"`
	State   string             `json:"state" yaml:"state"`
	Error   string             `json:"error,omitempty" yaml:"error,omitempty"`
	Scalars map[string]float64 `json:"scalars,omitempty" yaml:"scalars,omitempty"`
}

// StreamReport is the bulk state of one stream. A stream without a fluid
// reports Empty.
type StreamReport struct {
	Name         string             `json:"name" yaml:"name"`
	Producer     string             `json:"producer,omitempty" yaml:"producer,omitempty"`
	Empty        bool               `json:"empty,omitempty" yaml:"empty,omitempty"`
	TemperatureK float64            `json:"temperature_k" yaml:"temperature_k"`
	PressureBara float64            `json:"pressure_bara" yaml:"pressure_bara"`
	MolarFlow    float64            `json:"molar_flow_mol_s" yaml:"molar_flow_mol_s"`
	MassFlow     float64            `json:"mass_flow_kg_s" yaml:"mass_flow_kg_s"`
	Phases       []string           `json:"phases,omitempty" yaml:"phases,omitempty"`
	Composition  map[string]float64 `json:"composition,omitempty" yaml:"composition,omitempty"`
}

type stateful interface {
	State() NodeState
	LastError() error
}

// Report captures the current state. During a background run the values
// may mix passes.
func (p *Process) Report() Report {
	units := p.Units()
	rep := Report{Process: p.name, Run: p.LastRun()}
	seen := make(map[string]bool)

	for _, u := range units {
		ur := UnitReport{Name: u.Name(), Type: TypeOf(u).String()}
		if s, ok := u.(stateful); ok {
			ur.State = s.State().String()
			if err := s.LastError(); err != nil {
				ur.Error = err.Error()
			}
		}
		if s, ok := u.(Scalars); ok {
			ur.Scalars = finiteScalars(s.Scalars())
		}
		rep.Units = append(rep.Units, ur)

		c, ok := u.(Connected)
		if !ok {
			continue
		}
		for _, s := range c.Outlets() {
			if s == nil || seen[s.Name()] {
				continue
			}
			seen[s.Name()] = true
			rep.Streams = append(rep.Streams, streamReport(s, u.Name()))
		}
	}
	rep.Recycles = recycleStatuses(p.Recycles())
	for i := range rep.Recycles {
		if r := rep.Recycles[i].Residual; math.IsInf(r, 0) || math.IsNaN(r) {
			rep.Recycles[i].Residual = -1
		}
	}
	return rep
}

// finiteScalars drops values that text encoders cannot represent.
func finiteScalars(in map[string]float64) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if !math.IsInf(v, 0) && !math.IsNaN(v) {
			out[k] = v
		}
	}
	return out
}

func streamReport(s *Stream, producer string) StreamReport {
	sr := StreamReport{Name: s.Name(), Producer: producer}
	f := s.Fluid()
	if f == nil {
		sr.Empty = true
		return sr
	}
	sr.TemperatureK = f.Temperature()
	sr.PressureBara = f.Pressure()
	sr.MolarFlow = f.TotalFlowRate()
	sr.MassFlow = sr.MolarFlow * thermo.MolarMass(f)
	if f.Flashed() {
		for _, tag := range f.Phases() {
			sr.Phases = append(sr.Phases, string(tag))
		}
		sort.Strings(sr.Phases)
	}
	names := f.Components()
	z := f.Composition()
	sr.Composition = make(map[string]float64, len(names))
	for i, n := range names {
		sr.Composition[n] = z[i]
	}
	return sr
}

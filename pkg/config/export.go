package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/procsim/pkg/characterization"
	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/thermo"
	"github.com/openfroyo/procsim/pkg/thermo/cubic"
)

// Export returns the configuration of the flowsheet with unit settings read
// back from the live units, so changes made after Build are kept. Fluid
// definitions are carried over unchanged.
func (fs *Flowsheet) Export() (*FlowsheetConfig, error) {
	out := &FlowsheetConfig{
		Name:       fs.Process.Name(),
		Model:      fs.Config.Model,
		MixingRule: fs.Config.MixingRule,
		Ordering:   fs.Config.Ordering,
		MaxPasses:  fs.Config.MaxPasses,
		Fluids:     make(map[string]FluidConfig, len(fs.Config.Fluids)),
	}
	for k, v := range fs.Config.Fluids {
		out.Fluids[k] = v
	}
	fluidOf := make(map[string]string, len(fs.Config.Units))
	for _, uc := range fs.Config.Units {
		if uc.Fluid != "" {
			fluidOf[uc.Name] = uc.Fluid
		}
	}

	for _, u := range fs.Process.Units() {
		uc, err := unitConfig(u)
		if err != nil {
			return nil, err
		}
		if s, ok := u.(*process.Stream); ok && s.Source() == nil {
			name, ok := fluidOf[u.Name()]
			if !ok {
				fc, err := fluidConfig(s.Fluid())
				if err != nil {
					return nil, withUnit(err, u.Name())
				}
				name = u.Name()
				out.Fluids[name] = fc
			}
			uc.Fluid = name
		}
		out.Units = append(out.Units, uc)
	}
	return out, nil
}

// Export describes a process built in code. Each feed stream gets a fluid
// definition named after it. Only components known to the cubic database can
// be exported; characterized fluids need their original tables.
func Export(p *process.Process) (*FlowsheetConfig, error) {
	out := &FlowsheetConfig{
		Name:   p.Name(),
		Fluids: make(map[string]FluidConfig),
	}
	if p.Ordering() == process.OrderTopological {
		out.Ordering = p.Ordering().String()
	}
	for _, u := range p.Units() {
		uc, err := unitConfig(u)
		if err != nil {
			return nil, err
		}
		if s, ok := u.(*process.Stream); ok && s.Source() == nil {
			fc, err := fluidConfig(s.Fluid())
			if err != nil {
				return nil, withUnit(err, u.Name())
			}
			out.Fluids[u.Name()] = fc
			uc.Fluid = u.Name()
		}
		out.Units = append(out.Units, uc)
	}
	return out, nil
}

// MarshalYAML renders a flowsheet configuration as YAML.
func MarshalYAML(cfg *FlowsheetConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func fluidConfig(f thermo.Fluid) (FluidConfig, error) {
	if f == nil {
		return FluidConfig{}, faults.NewConfigurationError("feed stream has no fluid", nil).
			WithCode(faults.ErrCodeInvalidParameter).
			WithOperation("export")
	}
	fc := FluidConfig{
		Model:           f.Model().String(),
		MixingRule:      f.MixingRule().String(),
		MultiPhaseCheck: f.Options().MultiPhaseCheck,
	}
	z := f.Composition()
	for i, name := range f.Components() {
		if !cubic.KnownComponent(name) {
			return FluidConfig{}, faults.NewConfigurationError(
				fmt.Sprintf("component %q has no database entry and cannot be exported without its characterization table", name), nil).
				WithCode(faults.ErrCodeUnknownComponent).
				WithOperation("export")
		}
		fc.Components = append(fc.Components, characterization.Component{Name: name, Moles: z[i]})
	}
	return fc, nil
}

// unitConfig reads the settings of a built-in unit. Feed stream conditions
// are written in canonical units.
func unitConfig(u process.Unit) (UnitConfig, error) {
	uc := UnitConfig{Name: u.Name(), Type: process.TypeOf(u).String()}
	if c, ok := u.(process.Connected); ok {
		for _, in := range c.Inlets() {
			uc.Inlets = append(uc.Inlets, in.Name())
		}
	}

	switch v := u.(type) {
	case *process.Stream:
		if src := v.Source(); src != nil {
			uc.Inlets = []string{src.Name()}
			return uc, nil
		}
		uc.Inlets = nil
		if f := v.Fluid(); f != nil {
			uc.Temperature = Q(f.Temperature(), thermo.CanonicalUnit(thermo.QuantityTemperature))
			uc.Pressure = Q(f.Pressure(), thermo.CanonicalUnit(thermo.QuantityPressure))
			uc.Flow = Q(f.TotalFlowRate(), thermo.CanonicalUnit(thermo.QuantityMolarFlow))
		}
	case *process.Valve:
		if p := v.OutletPressure(); p > 0 {
			uc.Pressure = Q(p, "bara")
		}
		if kv := v.Kv(); kv > 0 {
			uc.Kv = &kv
		}
		uc.Isentropic = v.Isentropic()
	case *process.Compressor:
		machineConfig(&uc, v)
	case *process.Expander:
		machineConfig(&uc, v)
	case *process.Pump:
		machineConfig(&uc, v)
	case *process.Heater:
		if t := v.OutletTemperature(); t > 0 {
			uc.Temperature = Q(t, "K")
		}
		if q, ok := v.DutySetting(); ok {
			uc.Duty = Q(q, "W")
		}
		if dp := v.PressureDrop(); dp > 0 {
			uc.PressureDrop = Q(dp, "bar")
		}
	case *process.Splitter:
		uc.Fractions = v.Fractions()
	case *process.ComponentSplitter:
		uc.ComponentFractions = v.Fractions()
	case *process.Recycle:
		tol, iter := v.Tolerance(), v.MaxIterations()
		uc.Tolerance = &tol
		uc.MaxIterations = &iter
		if a := v.Acceleration(); a != process.AccelerationNone {
			uc.Acceleration = a.String()
		}
	case *process.Transmitter:
		uc.Measurement = v.Measurement().String()
	case *process.ScriptedUnit:
		uc.Script = v.Script()
		if params := v.Params(); len(params) > 0 {
			uc.Params = params
		}
	case *process.Mixer, *process.Separator:
	default:
		return UnitConfig{}, faults.NewConfigurationError(fmt.Sprintf("unit type %q cannot be exported", uc.Type), nil).
			WithCode(faults.ErrCodeUnknownEquipment).
			WithUnit(u.Name()).
			WithOperation("export")
	}
	return uc, nil
}

func machineConfig(uc *UnitConfig, m turbomachine) {
	if p := m.OutletPressure(); p > 0 {
		uc.Pressure = Q(p, "bara")
	}
	eff := m.IsentropicEfficiency()
	uc.Efficiency = &eff
	if curve, speed := m.PerformanceCurve(); curve != nil {
		uc.Curve = curve.Lines()
		uc.Speed = speed
	}
}

package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/procsim/pkg/characterization"
	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/thermo"
	"github.com/openfroyo/procsim/pkg/thermo/cubic"
)

// Builder turns a FlowsheetConfig into a process.
type Builder struct {
	engine        thermo.Engine
	characterizer *characterization.Characterizer
	evaluator     process.ScriptEvaluator
	logger        zerolog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithEngine sets the thermodynamic engine fluids are created with.
func WithEngine(e thermo.Engine) BuilderOption {
	return func(b *Builder) { b.engine = e }
}

// WithCharacterizer sets the characterizer applied to fluid tables.
func WithCharacterizer(c *characterization.Characterizer) BuilderOption {
	return func(b *Builder) { b.characterizer = c }
}

// WithScriptEvaluator sets the evaluator of scripted units.
func WithScriptEvaluator(e process.ScriptEvaluator) BuilderOption {
	return func(b *Builder) { b.evaluator = e }
}

// WithLogger sets the build logger.
func WithLogger(l zerolog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a builder backed by the cubic engine and a Starlark
// evaluator.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		engine:        cubic.NewEngine(),
		characterizer: characterization.New(),
		evaluator:     NewStarlarkEvaluator(DefaultScriptTimeout),
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Flowsheet is a process built from configuration together with the
// configuration it came from.
type Flowsheet struct {
	Process *process.Process
	Config  *FlowsheetConfig

	// Characterization holds the characterization result of each fluid
	// definition that a feed stream used.
	Characterization map[string]*characterization.Result

	streams map[string]*process.Stream
}

// Stream resolves a stream reference as used in Inlets.
func (fs *Flowsheet) Stream(ref string) (*process.Stream, bool) {
	s, ok := fs.streams[ref]
	return s, ok
}

// StreamNames returns every resolvable stream reference, sorted.
func (fs *Flowsheet) StreamNames() []string {
	names := make([]string, 0, len(fs.streams))
	for n := range fs.streams {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// inletAdder is implemented by units whose inlets may reference streams
// produced later in the unit list.
type inletAdder interface {
	AddInlet(in *process.Stream) error
}

type pendingInlet struct {
	unit inletAdder
	name string
	ref  string
}

// Build creates a process from cfg. Units are assembled detached and attached
// to the process in one step, so a failed build registers nothing. Options
// passed here override the ordering and pass cap from cfg.
func (b *Builder) Build(cfg *FlowsheetConfig, opts ...process.Option) (*Flowsheet, error) {
	if cfg == nil {
		return nil, buildError("", "flowsheet configuration is nil")
	}
	var popts []process.Option
	if cfg.Ordering != "" {
		mode, err := process.ParseOrderMode(cfg.Ordering)
		if err != nil {
			return nil, err
		}
		popts = append(popts, process.WithOrdering(mode))
	}
	if cfg.MaxPasses > 0 {
		popts = append(popts, process.WithMaxPasses(cfg.MaxPasses))
	}
	popts = append(popts, opts...)

	fs := &Flowsheet{
		Config:           cfg,
		Characterization: make(map[string]*characterization.Result),
		streams:          make(map[string]*process.Stream),
	}
	batch := process.NewBatch()
	var pending []pendingInlet

	for i := range cfg.Units {
		uc := &cfg.Units[i]
		if err := checkSettings(uc); err != nil {
			return nil, err
		}
		u, deferred, err := b.buildUnit(batch, cfg, fs, uc)
		if err != nil {
			return nil, withUnit(err, uc.Name)
		}
		pending = append(pending, deferred...)
		fs.index(u)
		b.logger.Debug().
			Str("unit", uc.Name).
			Str("type", uc.Type).
			Msg("Unit built")
	}

	for _, p := range pending {
		s, ok := fs.streams[p.ref]
		if !ok {
			return nil, unknownStream(p.name, p.ref)
		}
		if err := p.unit.AddInlet(s); err != nil {
			return nil, err
		}
	}

	fs.Process = process.New(cfg.Name, popts...)
	if err := batch.AttachTo(fs.Process); err != nil {
		return nil, err
	}
	if err := fs.Process.Validate(); err != nil {
		return nil, err
	}
	b.logger.Info().
		Str("process", cfg.Name).
		Int("units", len(cfg.Units)).
		Msg("Flowsheet built")
	return fs, nil
}

// index makes the streams of a new unit resolvable. A feed stream resolves
// by its own name; unit outlets resolve as "unit.port", and a unit with a
// single outlet also by its bare name.
func (fs *Flowsheet) index(u process.Unit) {
	if s, ok := u.(*process.Stream); ok {
		fs.streams[s.Name()] = s
		return
	}
	c, ok := u.(process.Connected)
	if !ok {
		return
	}
	outs := c.Outlets()
	for _, s := range outs {
		fs.streams[s.Name()] = s
	}
	if len(outs) == 1 {
		fs.streams[u.Name()] = outs[0]
	}
}

func (b *Builder) buildUnit(batch *process.Batch, cfg *FlowsheetConfig, fs *Flowsheet, uc *UnitConfig) (process.Unit, []pendingInlet, error) {
	kind, err := process.ParseUnitType(uc.Type)
	if err != nil {
		return nil, nil, err
	}

	single := func() (*process.Stream, error) {
		if len(uc.Inlets) != 1 {
			return nil, buildError(uc.Name, fmt.Sprintf("%s needs exactly one inlet, got %d", uc.Type, len(uc.Inlets))).
				WithCode(faults.ErrCodeMissingInlet)
		}
		s, ok := fs.streams[uc.Inlets[0]]
		if !ok {
			return nil, unknownStream(uc.Name, uc.Inlets[0])
		}
		return s, nil
	}

	// multi resolves the inlets already built and defers the rest.
	multi := func() ([]*process.Stream, []string) {
		var now []*process.Stream
		var later []string
		for _, ref := range uc.Inlets {
			if s, ok := fs.streams[ref]; ok {
				now = append(now, s)
			} else {
				later = append(later, ref)
			}
		}
		return now, later
	}
	deferInlets := func(u inletAdder, refs []string) []pendingInlet {
		out := make([]pendingInlet, 0, len(refs))
		for _, r := range refs {
			out = append(out, pendingInlet{unit: u, name: uc.Name, ref: r})
		}
		return out
	}

	switch kind {
	case process.TypeStream:
		if uc.Fluid == "" {
			src, err := single()
			if err != nil {
				return nil, nil, err
			}
			s, err := process.NewStreamFrom(batch, uc.Name, src)
			return s, nil, err
		}
		f, err := b.feedFluid(cfg, fs, uc)
		if err != nil {
			return nil, nil, err
		}
		s, err := process.NewStream(batch, uc.Name, f)
		return s, nil, err

	case process.TypeSeparator, process.TypeThreePhaseSeparator:
		now, later := multi()
		var sep *process.Separator
		if kind == process.TypeSeparator {
			sep, err = process.NewSeparator(batch, uc.Name, now...)
		} else {
			sep, err = process.NewThreePhaseSeparator(batch, uc.Name, now...)
		}
		if err != nil {
			return nil, nil, err
		}
		return sep, deferInlets(sep, later), nil

	case process.TypeMixer:
		now, later := multi()
		m, err := process.NewMixer(batch, uc.Name, now...)
		if err != nil {
			return nil, nil, err
		}
		return m, deferInlets(m, later), nil

	case process.TypeRecycle:
		now, later := multi()
		r, err := process.NewRecycle(batch, uc.Name, now...)
		if err != nil {
			return nil, nil, err
		}
		if err := applyRecycle(r, uc); err != nil {
			return nil, nil, err
		}
		return r, deferInlets(r, later), nil
	}

	in, err := single()
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case process.TypeValve:
		v, err := process.NewValve(batch, uc.Name, in)
		if err != nil {
			return nil, nil, err
		}
		return v, nil, applyValve(v, uc)

	case process.TypeCompressor:
		c, err := process.NewCompressor(batch, uc.Name, in)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, applyMachine(c, uc)

	case process.TypeExpander:
		e, err := process.NewExpander(batch, uc.Name, in)
		if err != nil {
			return nil, nil, err
		}
		return e, nil, applyMachine(e, uc)

	case process.TypePump:
		p, err := process.NewPump(batch, uc.Name, in)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, applyMachine(p, uc)

	case process.TypeHeater, process.TypeCooler:
		var h *process.Heater
		if kind == process.TypeHeater {
			h, err = process.NewHeater(batch, uc.Name, in)
		} else {
			h, err = process.NewCooler(batch, uc.Name, in)
		}
		if err != nil {
			return nil, nil, err
		}
		return h, nil, applyHeater(h, uc)

	case process.TypeSplitter:
		s, err := process.NewSplitter(batch, uc.Name, in, uc.Fractions)
		return s, nil, err

	case process.TypeComponentSplitter:
		s, err := process.NewComponentSplitter(batch, uc.Name, in, uc.ComponentFractions)
		return s, nil, err

	case process.TypeTransmitter:
		m, err := process.ParseMeasurement(uc.Measurement)
		if err != nil {
			return nil, nil, err
		}
		t, err := process.NewTransmitter(batch, uc.Name, in, m)
		return t, nil, err

	case process.TypeScripted:
		u, err := process.NewScriptedUnit(batch, uc.Name, in, b.evaluator, uc.Script)
		if err != nil {
			return nil, nil, err
		}
		keys := make([]string, 0, len(uc.Params))
		for k := range uc.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			u.SetParam(k, uc.Params[k])
		}
		return u, nil, nil
	}

	return nil, nil, buildError(uc.Name, fmt.Sprintf("unit type %q cannot be built from configuration", uc.Type)).
		WithCode(faults.ErrCodeUnknownEquipment)
}

// feedFluid characterizes the named fluid at the stream's conditions.
func (b *Builder) feedFluid(cfg *FlowsheetConfig, fs *Flowsheet, uc *UnitConfig) (thermo.Fluid, error) {
	fc, ok := cfg.Fluids[uc.Fluid]
	if !ok {
		return nil, buildError(uc.Name, fmt.Sprintf("unknown fluid %q", uc.Fluid)).
			WithDetail("fluid", uc.Fluid)
	}
	if uc.Temperature == nil || uc.Pressure == nil {
		return nil, buildError(uc.Name, "feed stream needs temperature and pressure")
	}

	modelName := fc.Model
	if modelName == "" {
		modelName = cfg.Model
	}
	if modelName == "" {
		modelName = thermo.ModelPR.String()
	}
	model, err := thermo.ParseModel(modelName)
	if err != nil {
		return nil, err
	}
	ruleName := fc.MixingRule
	if ruleName == "" {
		ruleName = cfg.MixingRule
	}
	rule, err := thermo.ParseMixingRule(ruleName)
	if err != nil {
		return nil, err
	}

	ch := b.characterizer
	if fc.LumpCount > 0 {
		ch = characterization.New(
			characterization.WithLogger(b.logger),
			characterization.WithLumpCount(fc.LumpCount),
		)
	}
	f, res, err := ch.NewFluid(b.engine, model, fc.Table(),
		thermo.Value{V: uc.Temperature.Value, Unit: uc.Temperature.Unit},
		thermo.Value{V: uc.Pressure.Value, Unit: uc.Pressure.Unit})
	if err != nil {
		return nil, withUnit(err, uc.Name)
	}
	f.SetMixingRule(rule)
	f.SetMultiPhaseCheck(fc.MultiPhaseCheck)
	if uc.Flow != nil {
		if err := f.SetTotalFlowRate(uc.Flow.Value, uc.Flow.Unit); err != nil {
			return nil, err
		}
	}
	if _, seen := fs.Characterization[uc.Fluid]; !seen {
		fs.Characterization[uc.Fluid] = res
	}
	return f, nil
}

func applyValve(v *process.Valve, uc *UnitConfig) error {
	if uc.Pressure != nil {
		if err := v.SetOutletPressure(uc.Pressure.Value, uc.Pressure.Unit); err != nil {
			return err
		}
	}
	if uc.Kv != nil {
		if err := v.SetKv(*uc.Kv); err != nil {
			return err
		}
	}
	v.SetIsentropic(uc.Isentropic)
	return nil
}

// turbomachine is the settings surface shared by compressors, expanders and
// pumps.
type turbomachine interface {
	SetOutletPressure(value float64, unit string) error
	OutletPressure() float64
	SetIsentropicEfficiency(eff float64) error
	IsentropicEfficiency() float64
	SetPerformanceCurve(curve *process.PerformanceCurve, speed float64) error
	PerformanceCurve() (*process.PerformanceCurve, float64)
}

func applyMachine(m turbomachine, uc *UnitConfig) error {
	if uc.Pressure != nil {
		if err := m.SetOutletPressure(uc.Pressure.Value, uc.Pressure.Unit); err != nil {
			return err
		}
	}
	if uc.Efficiency != nil {
		if err := m.SetIsentropicEfficiency(*uc.Efficiency); err != nil {
			return err
		}
	}
	if len(uc.Curve) > 0 {
		curve, err := process.NewPerformanceCurve(uc.Curve)
		if err != nil {
			return err
		}
		if err := m.SetPerformanceCurve(curve, uc.Speed); err != nil {
			return err
		}
	}
	return nil
}

func applyHeater(h *process.Heater, uc *UnitConfig) error {
	if uc.Temperature != nil && uc.Duty != nil {
		return buildError(uc.Name, "set either temperature or duty, not both").
			WithCode(faults.ErrCodeInvalidParameter)
	}
	if uc.Temperature != nil {
		if err := h.SetOutletTemperature(uc.Temperature.Value, uc.Temperature.Unit); err != nil {
			return err
		}
	}
	if uc.Duty != nil {
		if err := h.SetDuty(uc.Duty.Value, uc.Duty.Unit); err != nil {
			return err
		}
	}
	if uc.PressureDrop != nil {
		if err := h.SetPressureDrop(uc.PressureDrop.Value, uc.PressureDrop.Unit); err != nil {
			return err
		}
	}
	return nil
}

func applyRecycle(r *process.Recycle, uc *UnitConfig) error {
	if uc.Tolerance != nil {
		if err := r.SetTolerance(*uc.Tolerance); err != nil {
			return err
		}
	}
	if uc.MaxIterations != nil {
		if err := r.SetMaxIterations(*uc.MaxIterations); err != nil {
			return err
		}
	}
	a, err := process.ParseAcceleration(uc.Acceleration)
	if err != nil {
		return err
	}
	r.SetAcceleration(a)
	return nil
}

// allowedSettings lists the optional settings each unit type accepts.
var allowedSettings = map[string][]string{
	"stream":                {"inlets", "fluid", "temperature", "pressure", "flow"},
	"separator":             {"inlets"},
	"three_phase_separator": {"inlets"},
	"valve":                 {"inlets", "pressure", "kv", "isentropic"},
	"compressor":            {"inlets", "pressure", "efficiency", "curve", "speed"},
	"expander":              {"inlets", "pressure", "efficiency", "curve", "speed"},
	"pump":                  {"inlets", "pressure", "efficiency", "curve", "speed"},
	"heater":                {"inlets", "temperature", "duty", "pressure_drop"},
	"cooler":                {"inlets", "temperature", "duty", "pressure_drop"},
	"mixer":                 {"inlets"},
	"splitter":              {"inlets", "fractions"},
	"component_splitter":    {"inlets", "component_fractions"},
	"recycle":               {"inlets", "tolerance", "max_iterations", "acceleration"},
	"transmitter":           {"inlets", "measurement"},
	"scripted":              {"inlets", "script", "params"},
}

// setSettings returns the names of the optional settings present on uc.
func setSettings(uc *UnitConfig) []string {
	var out []string
	add := func(ok bool, name string) {
		if ok {
			out = append(out, name)
		}
	}
	add(len(uc.Inlets) > 0, "inlets")
	add(uc.Fluid != "", "fluid")
	add(uc.Temperature != nil, "temperature")
	add(uc.Pressure != nil, "pressure")
	add(uc.Flow != nil, "flow")
	add(uc.Duty != nil, "duty")
	add(uc.PressureDrop != nil, "pressure_drop")
	add(uc.Efficiency != nil, "efficiency")
	add(len(uc.Curve) > 0, "curve")
	add(uc.Speed != 0, "speed")
	add(uc.Kv != nil, "kv")
	add(uc.Isentropic, "isentropic")
	add(len(uc.Fractions) > 0, "fractions")
	add(len(uc.ComponentFractions) > 0, "component_fractions")
	add(uc.Tolerance != nil, "tolerance")
	add(uc.MaxIterations != nil, "max_iterations")
	add(uc.Acceleration != "", "acceleration")
	add(uc.Measurement != "", "measurement")
	add(uc.Script != "", "script")
	add(len(uc.Params) > 0, "params")
	return out
}

// checkSettings rejects settings that do not apply to the unit type.
func checkSettings(uc *UnitConfig) error {
	kind, err := process.ParseUnitType(uc.Type)
	if err != nil {
		return withUnit(err, uc.Name)
	}
	allowed, ok := allowedSettings[kind.String()]
	if !ok {
		return buildError(uc.Name, fmt.Sprintf("unit type %q cannot be built from configuration", uc.Type)).
			WithCode(faults.ErrCodeUnknownEquipment)
	}
	var extra []string
	for _, s := range setSettings(uc) {
		found := false
		for _, a := range allowed {
			if a == s {
				found = true
				break
			}
		}
		if !found {
			extra = append(extra, s)
		}
	}
	if len(extra) > 0 {
		return buildError(uc.Name, fmt.Sprintf("%s does not accept %s", kind, strings.Join(extra, ", "))).
			WithCode(faults.ErrCodeInvalidParameter).
			WithDetail("settings", extra)
	}
	if kind == process.TypeStream && uc.Fluid != "" && len(uc.Inlets) > 0 {
		return buildError(uc.Name, "stream takes either a fluid or an inlet, not both").
			WithCode(faults.ErrCodeInvalidParameter)
	}
	return nil
}

// withUnit attaches the unit name to a classified error that has none.
func withUnit(err error, unit string) error {
	var fe *faults.Error
	if errors.As(err, &fe) && fe.Unit == "" {
		fe.WithUnit(unit)
	}
	return err
}

func buildError(unit, msg string) *faults.Error {
	return faults.NewConfigurationError(msg, nil).
		WithUnit(unit).
		WithOperation("build")
}

func unknownStream(unit, ref string) error {
	return buildError(unit, fmt.Sprintf("unknown inlet stream %q", ref)).
		WithCode(faults.ErrCodeMissingInlet).
		WithDetail("stream", ref)
}

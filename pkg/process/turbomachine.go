package process

import (
	"context"
	"math"
	"sync"

	"github.com/openfroyo/procsim/pkg/thermo"
)

const defaultIsentropicEfficiency = 0.75

// machine is the shared model of compressors, expanders and pumps: an
// isentropic step to the outlet pressure corrected by an efficiency.
type machine struct {
	base
	inlet    *Stream
	outlet   *Stream
	expander bool

	settingsMu sync.RWMutex
	outletP    float64
	efficiency float64
	curve      *PerformanceCurve
	speed      float64

	resultMu   sync.RWMutex
	power      float64 // W, positive when absorbed
	head       float64 // isentropic head, J/kg
	polyHead   float64 // polytropic head, J/kg
	usedEff    float64
	curveRange bool
}

// Compressor raises gas pressure.
type Compressor struct{ machine }

// Expander lowers gas pressure and produces work.
type Expander struct{ machine }

// Pump raises liquid pressure.
type Pump struct{ machine }

// NewCompressor registers a compressor fed by inlet.
func NewCompressor(reg Registrar, name string, inlet *Stream) (*Compressor, error) {
	c := &Compressor{}
	if err := c.setup(reg, c, name, TypeCompressor, inlet, false); err != nil {
		return nil, err
	}
	return c, nil
}

// NewExpander registers an expander fed by inlet.
func NewExpander(reg Registrar, name string, inlet *Stream) (*Expander, error) {
	e := &Expander{}
	if err := e.setup(reg, e, name, TypeExpander, inlet, true); err != nil {
		return nil, err
	}
	return e, nil
}

// NewPump registers a pump fed by inlet.
func NewPump(reg Registrar, name string, inlet *Stream) (*Pump, error) {
	p := &Pump{}
	if err := p.setup(reg, p, name, TypePump, inlet, false); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *machine) setup(reg Registrar, u Unit, name string, kind UnitType, inlet *Stream, expander bool) error {
	if inlet == nil {
		return missingInlet(name)
	}
	if err := m.init(name, kind); err != nil {
		return err
	}
	m.inlet = inlet
	m.outlet = newPort(name, "out")
	m.expander = expander
	m.efficiency = defaultIsentropicEfficiency
	return register(reg, u)
}

// SetOutletPressure sets the discharge pressure.
func (m *machine) SetOutletPressure(value float64, unit string) error {
	p, err := thermo.ToCanonical(thermo.QuantityPressure, value, unit)
	if err != nil {
		return err
	}
	if p <= 0 {
		return invalidParameter(m.name, "outlet pressure must be positive, got %g bara", p)
	}
	m.settingsMu.Lock()
	m.outletP = p
	m.settingsMu.Unlock()
	return nil
}

// OutletPressure returns the discharge setpoint in bara.
func (m *machine) OutletPressure() float64 {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return m.outletP
}

// SetIsentropicEfficiency sets the efficiency used without a curve.
func (m *machine) SetIsentropicEfficiency(eff float64) error {
	if eff <= 0 || eff > 1 {
		return invalidParameter(m.name, "isentropic efficiency %g outside (0, 1]", eff)
	}
	m.settingsMu.Lock()
	m.efficiency = eff
	m.settingsMu.Unlock()
	return nil
}

// IsentropicEfficiency returns the configured efficiency.
func (m *machine) IsentropicEfficiency() float64 {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return m.efficiency
}

// SetPerformanceCurve makes head and efficiency follow the curve at speed;
// the outlet pressure is then a result rather than a setting.
func (m *machine) SetPerformanceCurve(curve *PerformanceCurve, speed float64) error {
	if curve != nil && speed <= 0 {
		return invalidParameter(m.name, "curve speed must be positive, got %g", speed)
	}
	m.settingsMu.Lock()
	m.curve = curve
	m.speed = speed
	m.settingsMu.Unlock()
	return nil
}

// PerformanceCurve returns the curve and speed, nil when unset.
func (m *machine) PerformanceCurve() (*PerformanceCurve, float64) {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return m.curve, m.speed
}

// Power returns the shaft power in W of the last evaluation, positive when
// absorbed by the fluid.
func (m *machine) Power() float64 {
	m.resultMu.RLock()
	defer m.resultMu.RUnlock()
	return m.power
}

// PolytropicHead returns the polytropic head in J/kg.
func (m *machine) PolytropicHead() float64 {
	m.resultMu.RLock()
	defer m.resultMu.RUnlock()
	return m.polyHead
}

// Run evaluates the machine.
func (m *machine) Run(ctx context.Context) error {
	return m.finish(m.run(ctx))
}

func (m *machine) run(ctx context.Context) error {
	in := m.inlet.Fluid()
	if in == nil {
		return missingInlet(m.name)
	}
	h1, err := m.propertyOf(ctx, in, thermo.PropEnthalpy)
	if err != nil {
		return err
	}
	s1, err := m.propertyOf(ctx, in, thermo.PropEntropy)
	if err != nil {
		return err
	}
	mw := thermo.MolarMass(in)
	p1 := in.Pressure()

	m.settingsMu.RLock()
	p2, eff, curve, speed := m.outletP, m.efficiency, m.curve, m.speed
	m.settingsMu.RUnlock()

	inRange := true
	if curve != nil {
		q, err := m.propertyOf(ctx, in, thermo.PropVolumeFlow)
		if err != nil {
			return err
		}
		var headKJ float64
		headKJ, eff, inRange = curve.At(speed, q*3600)
		p2, err = m.pressureForHead(ctx, in, s1, h1, headKJ*1e3*mw)
		if err != nil {
			return err
		}
	}
	if p2 <= 0 {
		return invalidParameter(m.name, "outlet pressure is not set")
	}
	if m.expander && p2 >= p1 {
		return invalidParameter(m.name, "expander outlet pressure %.4f bara must be below inlet %.4f bara", p2, p1)
	}
	if !m.expander && p2 <= p1 {
		return invalidParameter(m.name, "outlet pressure %.4f bara must exceed inlet %.4f bara", p2, p1)
	}

	out := in.Clone()
	if err := m.flash(ctx, out, thermo.PS(p2, "bara", s1, "J/molK")); err != nil {
		return err
	}
	hs, err := out.Property(thermo.PropEnthalpy, "J/mol")
	if err != nil {
		return err
	}
	var h2 float64
	if m.expander {
		h2 = h1 - eff*(h1-hs)
	} else {
		h2 = h1 + (hs-h1)/eff
	}
	if err := m.flash(ctx, out, thermo.PH(p2, "bara", h2, "J/mol")); err != nil {
		return err
	}

	v1, err := m.propertyOf(ctx, in, thermo.PropMolarVolume)
	if err != nil {
		return err
	}
	v2, err := out.Property(thermo.PropMolarVolume, "m3/mol")
	if err != nil {
		return err
	}

	flow := in.TotalFlowRate()
	m.resultMu.Lock()
	m.power = flow * (h2 - h1)
	m.usedEff = eff
	m.curveRange = inRange
	m.head, m.polyHead = 0, 0
	if mw > 0 {
		m.head = math.Abs(hs-h1) / mw
		m.polyHead = polytropicHead(p1, p2, v1, v2) / mw
	}
	m.resultMu.Unlock()

	m.outlet.SetFluid(out)
	return nil
}

// pressureForHead finds the discharge pressure whose isentropic enthalpy
// change equals dh (J/mol).
func (m *machine) pressureForHead(ctx context.Context, in thermo.Fluid, s1, h1, dh float64) (float64, error) {
	p1 := in.Pressure()
	lo, hi := math.Log(p1), math.Log(p1*100)
	if m.expander {
		lo, hi = math.Log(p1/100), math.Log(p1)
	}
	trial := in.Clone()
	lnP, err := thermo.FindRoot(func(x float64) (float64, error) {
		if err := m.flash(ctx, trial, thermo.PS(math.Exp(x), "bara", s1, "J/molK")); err != nil {
			return 0, err
		}
		hs, err := trial.Property(thermo.PropEnthalpy, "J/mol")
		if err != nil {
			return 0, err
		}
		return math.Abs(hs-h1) - dh, nil
	}, lo, hi, 0.5*(lo+hi), 1e-9, 1e-6)
	if err != nil {
		return 0, invalidParameter(m.name, "no discharge pressure matches the curve head: %v", err)
	}
	return math.Exp(lnP), nil
}

// polytropicHead returns n/(n-1) (P2 v2 - P1 v1) in J/mol.
func polytropicHead(p1, p2, v1, v2 float64) float64 {
	n := math.Log(p2/p1) / math.Log(v1/v2)
	if math.IsNaN(n) || math.IsInf(n, 0) || math.Abs(n-1) < 1e-9 {
		return 0
	}
	return n / (n - 1) * (p2*1e5*v2 - p1*1e5*v1)
}

// Inlet returns the inlet stream.
func (m *machine) Inlet() *Stream { return m.inlet }

// Outlet returns the outlet stream.
func (m *machine) Outlet() *Stream { return m.outlet }

// Inlets returns the inlet stream.
func (m *machine) Inlets() []*Stream { return []*Stream{m.inlet} }

// Outlets returns the outlet stream.
func (m *machine) Outlets() []*Stream { return []*Stream{m.outlet} }

// Scalars reports power, heads and the efficiency used.
func (m *machine) Scalars() map[string]float64 {
	m.resultMu.RLock()
	defer m.resultMu.RUnlock()
	in := 0.0
	if m.curveRange {
		in = 1
	}
	return map[string]float64{
		"power_w":               m.power,
		"isentropic_head_j_kg":  m.head,
		"polytropic_head_j_kg":  m.polyHead,
		"isentropic_efficiency": m.usedEff,
		"within_curve":          in,
	}
}

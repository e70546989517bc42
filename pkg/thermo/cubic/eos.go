package cubic

import (
	"fmt"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

const r = thermo.GasConstant

// eosKind carries the constants distinguishing the cubic models.
type eosKind struct {
	delta1 float64
	delta2 float64
	omegaA float64
	omegaB float64
	m      func(omega float64) float64
}

var sqrt2 = math.Sqrt2

var eosKinds = map[thermo.Model]eosKind{
	thermo.ModelPR: {
		delta1: 1 + sqrt2,
		delta2: 1 - sqrt2,
		omegaA: 0.45724,
		omegaB: 0.07780,
		m: func(w float64) float64 {
			return 0.37464 + 1.54226*w - 0.26992*w*w
		},
	},
	thermo.ModelPR78: {
		delta1: 1 + sqrt2,
		delta2: 1 - sqrt2,
		omegaA: 0.45724,
		omegaB: 0.07780,
		m: func(w float64) float64 {
			if w <= 0.491 {
				return 0.37464 + 1.54226*w - 0.26992*w*w
			}
			return 0.379642 + 1.48503*w - 0.164423*w*w + 0.016666*w*w*w
		},
	},
	thermo.ModelSRK: {
		delta1: 1,
		delta2: 0,
		omegaA: 0.42748,
		omegaB: 0.08664,
		m: func(w float64) float64 {
			return 0.480 + 1.574*w - 0.176*w*w
		},
	},
}

func kindFor(m thermo.Model) (eosKind, error) {
	k, ok := eosKinds[m]
	if !ok {
		return eosKind{}, faults.NewConfigurationError(fmt.Sprintf("model %s is not supported by the cubic engine", m), nil).
			WithCode(faults.ErrCodeUnknownModel)
	}
	return k, nil
}

// mixture holds the temperature-dependent pure-component parameters at T.
type mixture struct {
	kind  eosKind
	comps []component
	kij   [][]float64
	t     float64
	ai    []float64 // Pa m6/mol2
	bi    []float64 // m3/mol
	dai   []float64 // d(ai)/dT
}

func newMixture(kind eosKind, comps []component, kij [][]float64, t float64) *mixture {
	n := len(comps)
	m := &mixture{
		kind:  kind,
		comps: comps,
		kij:   kij,
		t:     t,
		ai:    make([]float64, n),
		bi:    make([]float64, n),
		dai:   make([]float64, n),
	}
	for i, c := range comps {
		pcPa := c.pc * 1e5
		ac := kind.omegaA * r * r * c.tc * c.tc / pcPa
		mi := kind.m(c.omega)
		sq := 1 + mi*(1-math.Sqrt(t/c.tc))
		m.ai[i] = ac * sq * sq
		m.dai[i] = -ac * mi * sq / math.Sqrt(t*c.tc)
		m.bi[i] = kind.omegaB * r * c.tc / pcPa
	}
	return m
}

type rootKind int

const (
	rootStable rootKind = iota
	rootLiquid
	rootVapor
)

// phaseEval is the equation-of-state evaluation of one phase composition.
type phaseEval struct {
	z        float64
	a        float64
	b        float64
	dadT     float64
	bigA     float64
	bigB     float64
	lnPhi    []float64
	vapor    bool // the selected root is the vapor-like root
	multiple bool // the cubic had more than one admissible root
}

// evaluate computes the compressibility and fugacity coefficients of
// composition x at pressure p (bara).
func (m *mixture) evaluate(x []float64, p float64, root rootKind) phaseEval {
	n := len(x)
	pPa := p * 1e5
	rt := r * m.t

	sumA := make([]float64, n)
	var a, b, dadT float64
	for i := 0; i < n; i++ {
		b += x[i] * m.bi[i]
		for j := 0; j < n; j++ {
			sq := math.Sqrt(m.ai[i] * m.ai[j])
			aij := sq * (1 - m.kij[i][j])
			sumA[i] += x[j] * aij
			a += x[i] * x[j] * aij
			if m.ai[i] > 0 && m.ai[j] > 0 {
				dadT += x[i] * x[j] * (1 - m.kij[i][j]) * 0.5 * sq * (m.dai[i]/m.ai[i] + m.dai[j]/m.ai[j])
			}
		}
	}

	bigA := a * pPa / (rt * rt)
	bigB := b * pPa / rt
	d1, d2 := m.kind.delta1, m.kind.delta2
	u, w := d1+d2, d1*d2

	c2 := -(1 + bigB - u*bigB)
	c1 := bigA + w*bigB*bigB - u*bigB - u*bigB*bigB
	c0 := -(bigA*bigB + w*bigB*bigB + w*bigB*bigB*bigB)

	roots := cubicRoots(c2, c1, c0)
	admissible := roots[:0]
	for _, z := range roots {
		if z > bigB {
			admissible = append(admissible, z)
		}
	}
	if len(admissible) == 0 {
		admissible = []float64{math.Max(roots[len(roots)-1], bigB*(1+1e-9))}
	}
	zl, zv := admissible[0], admissible[len(admissible)-1]

	var z float64
	var vapor bool
	switch root {
	case rootLiquid:
		z, vapor = zl, len(admissible) == 1 && zl*rt/pPa/b > liquidVolumeRatio
	case rootVapor:
		z, vapor = zv, len(admissible) > 1 || zv*rt/pPa/b > liquidVolumeRatio
	default:
		if len(admissible) == 1 {
			z = zl
			vapor = z*rt/pPa/b > liquidVolumeRatio
		} else if gibbsDifference(zv, zl, bigA, bigB, d1, d2) < 0 {
			z, vapor = zv, true
		} else {
			z, vapor = zl, false
		}
	}

	lnPhi := make([]float64, n)
	logTerm := math.Log((z + d1*bigB) / (z + d2*bigB))
	lnZB := math.Log(z - bigB)
	for i := 0; i < n; i++ {
		bb := m.bi[i] / b
		lnPhi[i] = bb*(z-1) - lnZB - bigA/(bigB*(d1-d2))*(2*sumA[i]/a-bb)*logTerm
	}

	return phaseEval{
		z:        z,
		a:        a,
		b:        b,
		dadT:     dadT,
		bigA:     bigA,
		bigB:     bigB,
		lnPhi:    lnPhi,
		vapor:    vapor,
		multiple: len(admissible) > 1,
	}
}

// liquidVolumeRatio is the v/b ratio below which a lone root is liquid-like.
const liquidVolumeRatio = 1.75

// gibbsDifference returns (G_v - G_l)/RT for two roots of the same composition.
func gibbsDifference(zv, zl, bigA, bigB, d1, d2 float64) float64 {
	return (zv - zl) - math.Log((zv-bigB)/(zl-bigB)) -
		bigA/(bigB*(d1-d2))*math.Log((zv+d1*bigB)*(zl+d2*bigB)/((zv+d2*bigB)*(zl+d1*bigB)))
}

// residualEnthalpy returns H - H_ig in J/mol.
func (m *mixture) residualEnthalpy(e phaseEval) float64 {
	d1, d2 := m.kind.delta1, m.kind.delta2
	logTerm := math.Log((e.z + d1*e.bigB) / (e.z + d2*e.bigB))
	return r*m.t*(e.z-1) + (m.t*e.dadT-e.a)/(e.b*(d1-d2))*logTerm
}

// residualEntropy returns S - S_ig(T, P) in J/(mol K).
func (m *mixture) residualEntropy(e phaseEval) float64 {
	d1, d2 := m.kind.delta1, m.kind.delta2
	logTerm := math.Log((e.z + d1*e.bigB) / (e.z + d2*e.bigB))
	return r*math.Log(e.z-e.bigB) + e.dadT/(e.b*(d1-d2))*logTerm
}

// referenceTemperature is the ideal-gas enthalpy reference state, K.
const referenceTemperature = 298.15

// idealEnthalpy returns the ideal-gas mixture enthalpy relative to 298.15 K.
func idealEnthalpy(comps []component, x []float64, t float64) float64 {
	t0 := referenceTemperature
	var h float64
	for i, c := range comps {
		if x[i] == 0 {
			continue
		}
		k := c.cp
		hi := k[0]*(t-t0) + k[1]/2*(t*t-t0*t0) + k[2]/3*(t*t*t-t0*t0*t0) + k[3]/4*(t*t*t*t-t0*t0*t0*t0)
		h += x[i] * hi
	}
	return h
}

// idealEntropy returns the ideal-gas mixture entropy relative to 298.15 K and
// one standard atmosphere, including the mixing term.
func idealEntropy(comps []component, x []float64, t, p float64) float64 {
	t0 := referenceTemperature
	var s float64
	for i, c := range comps {
		if x[i] <= 0 {
			continue
		}
		k := c.cp
		si := k[0]*math.Log(t/t0) + k[1]*(t-t0) + k[2]/2*(t*t-t0*t0) + k[3]/3*(t*t*t-t0*t0*t0)
		s += x[i] * (si - r*math.Log(x[i]))
	}
	return s - r*math.Log(p/thermo.StandardPressure)
}

// cubicRoots returns the real roots of z^3 + c2 z^2 + c1 z + c0 in ascending order.
func cubicRoots(c2, c1, c0 float64) []float64 {
	q := (3*c1 - c2*c2) / 9
	rr := (9*c2*c1 - 27*c0 - 2*c2*c2*c2) / 54
	disc := q*q*q + rr*rr
	shift := -c2 / 3

	if disc > 0 {
		sd := math.Sqrt(disc)
		s := math.Cbrt(rr + sd)
		t := math.Cbrt(rr - sd)
		return []float64{polish(s+t+shift, c2, c1, c0)}
	}
	if q == 0 {
		return []float64{shift}
	}
	theta := math.Acos(math.Max(-1, math.Min(1, rr/math.Sqrt(-q*q*q))))
	sq := 2 * math.Sqrt(-q)
	roots := []float64{
		sq*math.Cos(theta/3) + shift,
		sq*math.Cos((theta+2*math.Pi)/3) + shift,
		sq*math.Cos((theta+4*math.Pi)/3) + shift,
	}
	for i := range roots {
		roots[i] = polish(roots[i], c2, c1, c0)
	}
	sortAscending(roots)
	return roots
}

// polish refines a root with two Newton steps.
func polish(z, c2, c1, c0 float64) float64 {
	for i := 0; i < 2; i++ {
		f := ((z+c2)*z+c1)*z + c0
		df := (3*z+2*c2)*z + c1
		if df == 0 {
			break
		}
		z -= f / df
	}
	return z
}

func sortAscending(v []float64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}

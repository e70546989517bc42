package cubic

import (
	"errors"
	"fmt"
	"math"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

const (
	maxFlashIterations = 500
	flashTolerance     = 1e-13
	trivialTolerance   = 1e-5
)

var errTrivial = errors.New("converged to the trivial solution")

// twoPhaseResult is a vapour-liquid split of a feed.
type twoPhaseResult struct {
	beta  float64 // vapour mole fraction
	x, y  []float64
	liq   phaseEval
	vap   phaseEval
	split bool
	// single is the evaluation of the feed when split is false.
	single phaseEval
}

func wilsonK(comps []component, t, p float64) []float64 {
	k := make([]float64, len(comps))
	for i, c := range comps {
		k[i] = c.pc / p * math.Exp(5.373*(1+c.omega)*(1-c.tc/t))
	}
	return k
}

// rachfordRice solves sum z(K-1)/(1+beta(K-1)) = 0 on the negative-flash
// interval. ok is false when all K lie on one side of unity.
func rachfordRice(z, k []float64) (beta float64, ok bool) {
	kmin, kmax := math.Inf(1), math.Inf(-1)
	for i, ki := range k {
		if z[i] == 0 {
			continue
		}
		kmin = math.Min(kmin, ki)
		kmax = math.Max(kmax, ki)
	}
	if kmax <= 1 {
		return 0, false
	}
	if kmin >= 1 {
		return 1, false
	}
	lo := 1 / (1 - kmax)
	hi := 1 / (1 - kmin)
	g := func(b float64) (float64, float64) {
		var f, df float64
		for i, ki := range k {
			d := 1 + b*(ki-1)
			f += z[i] * (ki - 1) / d
			df -= z[i] * (ki - 1) * (ki - 1) / (d * d)
		}
		return f, df
	}
	beta = math.Min(math.Max(0.5, lo+1e-10*(hi-lo)), hi-1e-10*(hi-lo))
	for i := 0; i < 200; i++ {
		f, df := g(beta)
		if f > 0 {
			lo = beta
		} else {
			hi = beta
		}
		next := beta - f/df
		if df == 0 || next <= lo || next >= hi || math.IsNaN(next) {
			next = 0.5 * (lo + hi)
		}
		if math.Abs(next-beta) < 1e-15*math.Max(1, math.Abs(beta)) {
			beta = next
			break
		}
		beta = next
	}
	return beta, true
}

func splitCompositions(z, k []float64, beta float64) (x, y []float64) {
	x = make([]float64, len(z))
	y = make([]float64, len(z))
	var sx, sy float64
	for i := range z {
		x[i] = z[i] / (1 + beta*(k[i]-1))
		y[i] = k[i] * x[i]
		sx += x[i]
		sy += y[i]
	}
	for i := range z {
		x[i] /= sx
		y[i] /= sy
	}
	return x, y
}

// twoPhase performs a vapour-liquid TP flash by successive substitution from
// Wilson K-values with a negative-flash Rachford-Rice inner loop.
func (m *mixture) twoPhase(z []float64, p float64) (twoPhaseResult, error) {
	active := 0
	for _, v := range z {
		if v > 0 {
			active++
		}
	}
	if active <= 1 {
		return twoPhaseResult{single: m.evaluate(z, p, rootStable)}, nil
	}

	k := wilsonK(m.comps, m.t, p)
	var beta float64
	var x, y []float64
	var liq, vap phaseEval
	converged, exhausted, oneSided := false, true, false
	for iter := 0; iter < maxFlashIterations; iter++ {
		var ok bool
		beta, ok = rachfordRice(z, k)
		if !ok {
			exhausted, oneSided = false, true
			break
		}
		x, y = splitCompositions(z, k, beta)
		liq = m.evaluate(x, p, rootLiquid)
		vap = m.evaluate(y, p, rootVapor)

		var delta, spread float64
		for i := range k {
			if z[i] == 0 {
				continue
			}
			lnK := liq.lnPhi[i] - vap.lnPhi[i]
			d := lnK - math.Log(k[i])
			delta += d * d
			spread += lnK * lnK
			k[i] = math.Exp(lnK)
		}
		if spread < trivialTolerance*trivialTolerance*float64(active) {
			exhausted = false
			break
		}
		if delta < flashTolerance {
			converged, exhausted = true, false
			break
		}
	}

	if converged {
		beta, ok := rachfordRice(z, k)
		if ok && beta > 0 && beta < 1 {
			x, y = splitCompositions(z, k, beta)
			return twoPhaseResult{
				beta:  beta,
				x:     x,
				y:     y,
				liq:   m.evaluate(x, p, rootLiquid),
				vap:   m.evaluate(y, p, rootVapor),
				split: true,
			}, nil
		}
	} else if exhausted && beta > 1e-8 && beta < 1-1e-8 {
		return twoPhaseResult{}, faults.NewFlashError(
			fmt.Sprintf("TP flash did not converge at T=%.3f K, P=%.4f bara", m.t, p), nil)
	}

	single := m.evaluate(z, p, rootStable)
	if oneSided && !single.multiple {
		single.vapor = beta >= 1
	}
	return twoPhaseResult{single: single}, nil
}

// flashAt runs the full TP flash of composition z at (t, p), including the
// free-water phase when multiphase checking is on.
func (f *Fluid) flashAt(t, p float64, z []float64) ([]*phase, error) {
	mix := f.mixtureAt(t)
	w := f.waterIndex()
	if f.opts.MultiPhaseCheck && w >= 0 && z[w] > 0 && z[w] < 1 {
		phases, found, err := f.freeWaterFlash(mix, z, p, w)
		if err != nil || found {
			return phases, err
		}
	}
	res, err := mix.twoPhase(z, p)
	if err != nil {
		return nil, err
	}
	return f.labelPhases(res, z, 1, w), nil
}

// labelPhases converts a two-phase result into tagged phases scaled by scale.
func (f *Fluid) labelPhases(res twoPhaseResult, z []float64, scale float64, w int) []*phase {
	liquidTag := func(x []float64) thermo.PhaseTag {
		if w >= 0 && x[w] > 0.5 {
			return thermo.PhaseAqueous
		}
		return thermo.PhaseOil
	}
	if !res.split {
		tag := thermo.PhaseGas
		if !res.single.vapor {
			tag = liquidTag(z)
		}
		return []*phase{{tag: tag, beta: scale, x: append([]float64(nil), z...), eval: res.single}}
	}
	return []*phase{
		{tag: thermo.PhaseGas, beta: scale * res.beta, x: res.y, eval: res.vap},
		{tag: liquidTag(res.x), beta: scale * (1 - res.beta), x: res.x, eval: res.liq},
	}
}

// freeWaterFlash removes a pure aqueous phase until the water fugacity of
// the remaining hydrocarbon system equals that of pure liquid water.
func (f *Fluid) freeWaterFlash(mix *mixture, z []float64, p float64, w int) ([]*phase, bool, error) {
	n := len(z)
	pure := make([]float64, n)
	pure[w] = 1
	water := mix.evaluate(pure, p, rootLiquid)
	lnFw0 := water.lnPhi[w] + math.Log(p)

	remaining := func(free float64) []float64 {
		zz := make([]float64, n)
		for i := range z {
			zz[i] = z[i] / (1 - free)
		}
		zz[w] = (z[w] - free) / (1 - free)
		return zz
	}
	excess := func(free float64) (float64, twoPhaseResult, error) {
		zz := remaining(free)
		res, err := mix.twoPhase(zz, p)
		if err != nil {
			return 0, res, err
		}
		var lnF float64
		if res.split {
			lnF = math.Log(res.y[w]) + res.vap.lnPhi[w] + math.Log(p)
		} else {
			lnF = math.Log(zz[w]) + res.single.lnPhi[w] + math.Log(p)
		}
		return lnF - lnFw0, res, nil
	}

	g0, _, err := excess(0)
	if err != nil {
		return nil, false, err
	}
	if g0 <= 0 {
		return nil, false, nil
	}

	lo, hi := 0.0, z[w]*(1-1e-10)
	for i := 0; i < 80; i++ {
		mid := 0.5 * (lo + hi)
		g, _, err := excess(mid)
		if err != nil {
			return nil, false, err
		}
		if g > 0 {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < 1e-13 {
			break
		}
	}
	free := 0.5 * (lo + hi)
	_, res, err := excess(free)
	if err != nil {
		return nil, false, err
	}

	phases := f.labelPhases(res, remaining(free), 1-free, -1)
	phases = append(phases, &phase{tag: thermo.PhaseAqueous, beta: free, x: pure, eval: water})
	return phases, true, nil
}

// TPFlash flashes at the current temperature and pressure.
func (f *Fluid) TPFlash() error {
	if err := f.requireComponents(); err != nil {
		return err
	}
	phases, err := f.flashAt(f.t, f.p, f.Composition())
	if err != nil {
		return err
	}
	f.state = &equilibrium{phases: orderPhases(phases)}
	return nil
}

// orderPhases sorts phases gas, oil, aqueous and drops empty ones.
func orderPhases(phases []*phase) []*phase {
	rank := map[thermo.PhaseTag]int{thermo.PhaseGas: 0, thermo.PhaseOil: 1, thermo.PhaseAqueous: 2}
	out := make([]*phase, 0, len(phases))
	for _, ph := range phases {
		if ph.beta > 0 {
			out = append(out, ph)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank[out[j].tag] < rank[out[j-1].tag]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

package characterization

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

const (
	// DefaultPlusStart is the first carbon number of a plus fraction whose
	// name does not carry one.
	DefaultPlusStart = 7
	// DefaultMaxCarbonNumber is the last single carbon number cut of a split.
	DefaultMaxCarbonNumber = 80
)

// katzFiroozabadi holds generalized relative densities of single carbon
// number cuts C6 through C20.
var katzFiroozabadi = []float64{
	0.690, 0.727, 0.749, 0.768, 0.782, 0.793, 0.804, 0.815,
	0.826, 0.836, 0.843, 0.851, 0.856, 0.861, 0.866,
}

var plusName = regexp.MustCompile(`(?i)^c(\d+)\s*\+?$`)

// scnMolarMass is the molar mass of carbon number n in kg/mol.
func scnMolarMass(n int) float64 {
	return (14*float64(n) - 4) * 1e-3
}

// generalizedDensity returns the relative density of carbon number n.
func generalizedDensity(n int) float64 {
	switch {
	case n < 6:
		return katzFiroozabadi[0]
	case n-6 < len(katzFiroozabadi):
		return katzFiroozabadi[n-6]
	}
	last := katzFiroozabadi[len(katzFiroozabadi)-1]
	return math.Min(1.0, last+0.0045*float64(n-20))
}

// plusStart returns the first carbon number of a plus fraction, from its
// name when possible.
func plusStart(name string) int {
	if m := plusName.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return DefaultPlusStart
}

// exponentialMean is the mean molar mass of cuts start..last weighted by
// exp(b*M).
func exponentialMean(b float64, masses []float64) float64 {
	var w, wm float64
	m0 := masses[0]
	for _, m := range masses {
		e := math.Exp(b * (m - m0))
		w += e
		wm += e * m
	}
	return wm / w
}

// splitPlus distributes a plus fraction over single carbon number cuts. Mole
// fractions decay exponentially with molar mass so that the total moles and
// the mean molar mass of the plus fraction are preserved. Relative densities
// follow SG = SG0 + D ln(M/M0), anchored at the generalized density of the
// first cut, with D chosen to reproduce the plus fraction density.
func splitPlus(plus thermo.PseudoComponent, maxCarbon int) ([]thermo.PseudoComponent, error) {
	start := plusStart(plus.Name)
	fail := func(format string, args ...interface{}) error {
		return faults.NewConfigurationError(fmt.Sprintf("plus fraction %s: "+format, append([]interface{}{plus.Name}, args...)...), nil).
			WithCode(faults.ErrCodeInvalidParameter).
			WithOperation("split")
	}
	if maxCarbon <= start {
		return nil, fail("last carbon number %d must exceed the first %d", maxCarbon, start)
	}

	masses := make([]float64, 0, maxCarbon-start+1)
	for n := start; n <= maxCarbon; n++ {
		masses = append(masses, scnMolarMass(n))
	}
	target := plus.MolarMass
	if target <= masses[0] {
		return nil, fail("molar mass %g kg/mol is not above C%d", target, start)
	}
	if target >= exponentialMean(-1e-9, masses) {
		return nil, fail("molar mass %g kg/mol is too high for a split up to C%d", target, maxCarbon)
	}

	// b is in 1/(kg/mol); the mean falls monotonically as b decreases.
	b, err := thermo.FindRoot(func(b float64) (float64, error) {
		return exponentialMean(b, masses) - target, nil
	}, -1e4, -1e-9, -10, 1e-10, 1e-12)
	if err != nil {
		return nil, fail("no exponential distribution matches: %v", err)
	}

	fractions := make([]float64, len(masses))
	var sum float64
	for i, m := range masses {
		fractions[i] = math.Exp(b * (m - masses[0]))
		sum += fractions[i]
	}
	for i := range fractions {
		fractions[i] /= sum
	}

	sg0 := generalizedDensity(start)
	densityAt := func(d float64, i int) float64 {
		return math.Max(0.3, sg0+d*math.Log(masses[i]/masses[0]))
	}
	mixedDensity := func(d float64) float64 {
		var mass, volume float64
		for i, m := range masses {
			mass += fractions[i] * m
			volume += fractions[i] * m / densityAt(d, i)
		}
		return mass / volume
	}
	d, err := thermo.FindRoot(func(d float64) (float64, error) {
		return mixedDensity(d) - plus.RelativeDensity, nil
	}, -0.5, 1, 0.05, 1e-12, 1e-12)
	if err != nil {
		return nil, fail("relative density %g cannot be matched from C%d: %v", plus.RelativeDensity, start, err)
	}

	cuts := make([]thermo.PseudoComponent, len(masses))
	for i, m := range masses {
		cuts[i] = thermo.PseudoComponent{
			Name:            fmt.Sprintf("C%d", start+i),
			Moles:           plus.Moles * fractions[i],
			MolarMass:       m,
			RelativeDensity: densityAt(d, i),
		}
	}
	return cuts, nil
}

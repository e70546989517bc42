package process

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestSplitterConservation checks that outlet flows add up to the inlet flow
// for any valid split and any non-negative inlet flow.
func TestSplitterConservation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25

	properties := gopter.NewProperties(parameters)

	properties.Property("outlet flows sum to inlet flow", prop.ForAll(
		func(flow float64, weights []float64) bool {
			var sum float64
			for _, w := range weights {
				sum += w
			}
			if sum == 0 {
				return true
			}
			fractions := make([]float64, len(weights))
			var acc float64
			for i, w := range weights {
				fractions[i] = w / sum
				acc += fractions[i]
			}
			// absorb rounding into the last fraction
			fractions[len(fractions)-1] += 1 - acc
			if fractions[len(fractions)-1] < 0 {
				fractions[len(fractions)-1] = 0
			}

			p := New("prop")
			feed, err := NewStream(p, "feed", naturalGas(t, 300, 50, flow))
			if err != nil {
				return false
			}
			s, err := NewSplitter(p, "split", feed, fractions)
			if err != nil {
				return false
			}
			if err := p.Run(context.Background()); err != nil {
				return false
			}
			var out float64
			for _, o := range s.Outlets() {
				out += o.Fluid().TotalFlowRate()
			}
			return math.Abs(out-flow) <= 1e-9*math.Max(1, flow)
		},
		gen.Float64Range(0, 1e4),
		gen.SliceOfN(4, gen.Float64Range(0, 1)),
	))

	properties.Property("invalid fractions never construct", prop.ForAll(
		func(a, b float64) bool {
			p := New("invalid")
			feed, err := NewStream(p, "feed", naturalGas(t, 300, 50, 1))
			if err != nil {
				return false
			}
			_, err = NewSplitter(p, "split", feed, []float64{a, b})
			valid := a >= 0 && a <= 1 && b >= 0 && b <= 1 && math.Abs(a+b-1) <= fractionSumTolerance
			return (err == nil) == valid
		},
		gen.Float64Range(-0.5, 1.5),
		gen.Float64Range(-0.5, 1.5),
	))

	properties.TestingRun(t)
}

package process

import (
	"testing"

	"github.com/openfroyo/procsim/pkg/thermo"
	"github.com/openfroyo/procsim/pkg/thermo/cubic"
)

type part struct {
	name  string
	moles float64
}

// newFluid builds a Peng-Robinson fluid carrying flow mol/s.
func newFluid(t testing.TB, tempK, pBara, flow float64, parts ...part) thermo.Fluid {
	t.Helper()
	f, err := thermo.NewFluidAt(cubic.NewEngine(), thermo.ModelPR,
		thermo.Value{V: tempK, Unit: "K"}, thermo.Value{V: pBara, Unit: "bara"})
	if err != nil {
		t.Fatalf("NewFluidAt() error = %v", err)
	}
	for _, p := range parts {
		if err := f.AddComponent(p.name, p.moles, "mol"); err != nil {
			t.Fatalf("AddComponent(%s) error = %v", p.name, err)
		}
	}
	if err := f.SetTotalFlowRate(flow, "mol/s"); err != nil {
		t.Fatalf("SetTotalFlowRate() error = %v", err)
	}
	return f
}

func naturalGas(t testing.TB, tempK, pBara, flow float64) thermo.Fluid {
	return newFluid(t, tempK, pBara, flow, part{"methane", 0.9}, part{"ethane", 0.1})
}

func richGas(t testing.TB, tempK, pBara, flow float64) thermo.Fluid {
	return newFluid(t, tempK, pBara, flow,
		part{"methane", 0.70}, part{"ethane", 0.10}, part{"propane", 0.08},
		part{"n-butane", 0.05}, part{"n-pentane", 0.04}, part{"n-heptane", 0.03})
}

func mustFlow(t testing.TB, s *Stream) float64 {
	t.Helper()
	f := s.Fluid()
	if f == nil {
		t.Fatalf("stream %s has no fluid", s.Name())
	}
	return f.TotalFlowRate()
}

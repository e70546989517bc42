package thermo

import (
	"errors"
	"math"
	"testing"

	"github.com/openfroyo/procsim/pkg/faults"
)

func TestToCanonical(t *testing.T) {
	tests := []struct {
		q     Quantity
		value float64
		unit  string
		want  float64
	}{
		{QuantityTemperature, 25, "C", 298.15},
		{QuantityTemperature, 300, "", 300},
		{QuantityTemperature, 32, "F", 273.15},
		{QuantityPressure, 10, "barg", 10 + AtmosphericPressure},
		{QuantityPressure, 1, "MPa", 10},
		{QuantityPressure, 1e5, "Pa", 1},
		{QuantityMolarEnergy, 2, "kJ/mol", 2000},
		{QuantityPower, 1, "kW", 1000},
		{QuantityViscosity, 1, "cP", 1e-3},
		{QuantityMolarMass, 16.04, "g/mol", 0.01604},
	}
	for _, tt := range tests {
		got, err := ToCanonical(tt.q, tt.value, tt.unit)
		if err != nil {
			t.Errorf("ToCanonical(%v, %g, %q) error = %v", tt.q, tt.value, tt.unit, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9*math.Max(1, math.Abs(tt.want)) {
			t.Errorf("ToCanonical(%v, %g, %q) = %g, want %g", tt.q, tt.value, tt.unit, got, tt.want)
		}
	}
}

func TestConvertRoundTrip(t *testing.T) {
	for _, unit := range Units(QuantityPressure) {
		v, err := Convert(QuantityPressure, 42, unit, "bara")
		if err != nil {
			t.Fatalf("Convert(%s) error = %v", unit, err)
		}
		back, err := FromCanonical(QuantityPressure, v, unit)
		if err != nil {
			t.Fatalf("FromCanonical(%s) error = %v", unit, err)
		}
		if math.Abs(back-42) > 1e-9 {
			t.Errorf("round trip through %s = %g", unit, back)
		}
	}
}

func TestUnknownUnit(t *testing.T) {
	_, err := ToCanonical(QuantityPressure, 1, "furlongs")
	if !faults.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	var fe *faults.Error
	if !errors.As(err, &fe) || fe.Code != faults.ErrCodeUnknownUnit {
		t.Errorf("expected UNKNOWN_UNIT, got %v", err)
	}
}

func TestDifferenceToCanonical(t *testing.T) {
	dp, err := DifferenceToCanonical(QuantityPressure, 14.5, "psig")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(dp-0.99974) > 1e-4 {
		t.Errorf("psi difference = %g bar", dp)
	}
	dt, _ := DifferenceToCanonical(QuantityTemperature, 10, "C")
	if dt != 10 {
		t.Errorf("temperature difference = %g", dt)
	}
}

func TestFlowToMolar(t *testing.T) {
	q, err := FlowToMolar(3.6, "kg/hr", 0.018)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(q-1/0.018*1e-3) > 1e-9 {
		t.Errorf("FlowToMolar(kg/hr) = %g", q)
	}
	if _, err := FlowToMolar(1, "kg/s", 0); err == nil {
		t.Error("expected error for mass flow without molar mass")
	}
	back, err := MolarToFlow(q, "kg/hr", 0.018)
	if err != nil || math.Abs(back-3.6) > 1e-9 {
		t.Errorf("MolarToFlow = %g, %v", back, err)
	}
	if !IsMassFlowUnit("kg/hr") || IsMassFlowUnit("mol/s") {
		t.Error("IsMassFlowUnit misclassifies units")
	}
}

func TestParseModel(t *testing.T) {
	for name, want := range map[string]Model{
		"PR":            ModelPR,
		"peng-robinson": ModelPR,
		"pr78":          ModelPR78,
		" SRK ":         ModelSRK,
	} {
		got, err := ParseModel(name)
		if err != nil || got != want {
			t.Errorf("ParseModel(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseModel("gerg2008"); !faults.IsConfiguration(err) {
		t.Errorf("ParseModel(gerg2008) error = %v", err)
	}
	if r, err := ParseMixingRule("2"); err != nil || r != MixingClassicBIP {
		t.Errorf("ParseMixingRule(2) = %v, %v", r, err)
	}
}

func TestFlashSpec(t *testing.T) {
	spec := TP(25, "C", 10, "barg")
	a, b, err := spec.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(a-298.15) > 1e-12 || math.Abs(b-(10+AtmosphericPressure)) > 1e-12 {
		t.Errorf("Canonical() = %g, %g", a, b)
	}
	if spec.SingleValued() {
		t.Error("TP is two-valued")
	}
	if !DewPointTemperatureAt(50, "bara").SingleValued() {
		t.Error("dew point temperature is single-valued")
	}
	if err := PH(50, "bara", math.NaN(), "J/mol").Validate(); !faults.IsConfiguration(err) {
		t.Errorf("Validate(NaN) error = %v", err)
	}
	if err := (FlashSpec{Kind: FlashKind(99)}).Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}
	if FlashPH.String() != "PH" {
		t.Errorf("FlashPH.String() = %q", FlashPH.String())
	}
}

func TestFindRoot(t *testing.T) {
	root, err := FindRoot(func(x float64) (float64, error) { return x*x - 2, nil }, 0, 10, 5, 1e-12, 1e-14)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(root-math.Sqrt2) > 1e-9 {
		t.Errorf("root = %.12f, want sqrt(2)", root)
	}
	if _, err := FindRoot(func(x float64) (float64, error) { return x*x + 1, nil }, -1, 1, 0, 1e-9, 1e-9); err == nil {
		t.Error("expected an error without a sign change")
	}
}

func TestEstimateCritical(t *testing.T) {
	// a heptane-like cut
	est, err := EstimateCritical(0.1, 0.72, 0)
	if err != nil {
		t.Fatal(err)
	}
	if est.BoilingPoint < 355 || est.BoilingPoint > 380 {
		t.Errorf("Tb = %g K", est.BoilingPoint)
	}
	if est.CriticalTemp < 520 || est.CriticalTemp > 565 {
		t.Errorf("Tc = %g K", est.CriticalTemp)
	}
	if est.CriticalPress < 22 || est.CriticalPress > 35 {
		t.Errorf("Pc = %g bara", est.CriticalPress)
	}
	if est.Acentric < 0.25 || est.Acentric > 0.45 {
		t.Errorf("omega = %g", est.Acentric)
	}
	if _, err := EstimateCritical(0, 0.7, 0); !faults.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

package thermo_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
	"github.com/openfroyo/procsim/pkg/thermo/cubic"
)

type recordingObserver struct {
	mu    sync.Mutex
	kinds []thermo.FlashKind
	errs  int
}

func (r *recordingObserver) ObserveFlash(kind thermo.FlashKind, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	if err != nil {
		r.errs++
	}
}

func newGas(t *testing.T) thermo.Fluid {
	t.Helper()
	f, err := thermo.NewFluidAt(cubic.NewEngine(), thermo.ModelPR,
		thermo.Value{V: 20, Unit: "C"}, thermo.Value{V: 30, Unit: "bara"})
	if err != nil {
		t.Fatalf("NewFluidAt() error = %v", err)
	}
	if err := f.AddComponent("methane", 0.85, "mol"); err != nil {
		t.Fatal(err)
	}
	if err := f.AddComponent("ethane", 0.15, "mol"); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestDispatcherConvertsUnits(t *testing.T) {
	obs := &recordingObserver{}
	d := thermo.NewDispatcher(thermo.WithFlashObserver(obs))
	f := newGas(t)

	if err := d.Flash(context.Background(), f, thermo.TP(40, "C", 5, "MPa")); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	if got := f.Temperature(); math.Abs(got-313.15) > 1e-9 {
		t.Errorf("Temperature() = %g, want 313.15", got)
	}
	if got := f.Pressure(); got != 50 {
		t.Errorf("Pressure() = %g, want 50", got)
	}
	if !f.Flashed() {
		t.Error("fluid not flashed")
	}
	if _, err := f.Property(thermo.PropDensity, "kg/m3"); err != nil {
		t.Errorf("properties not initialized: %v", err)
	}
	if len(obs.kinds) != 1 || obs.kinds[0] != thermo.FlashTP {
		t.Errorf("observed %v", obs.kinds)
	}
}

func TestDispatcherLeavesCompositionAlone(t *testing.T) {
	f := newGas(t)
	before := f.Composition()
	if err := thermo.DefaultDispatcher().Flash(context.Background(), f, thermo.TP(-80, "C", 20, "bara")); err != nil {
		t.Fatal(err)
	}
	after := f.Composition()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("composition changed: %v -> %v", before, after)
		}
	}
}

func TestDispatcherPHAfterTP(t *testing.T) {
	d := thermo.DefaultDispatcher()
	ctx := context.Background()
	f := newGas(t)
	if err := d.Flash(ctx, f, thermo.TP(300, "K", 60, "bara")); err != nil {
		t.Fatal(err)
	}
	h, err := f.Property(thermo.PropEnthalpy, "J/mol")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Flash(ctx, f, thermo.PH(20, "bara", h, "J/mol")); err != nil {
		t.Fatalf("PH flash error = %v", err)
	}
	if f.Temperature() >= 300 {
		t.Errorf("expected Joule-Thomson cooling, T = %g", f.Temperature())
	}
}

func TestDispatcherRejectsBadSpecs(t *testing.T) {
	obs := &recordingObserver{}
	d := thermo.NewDispatcher(thermo.WithFlashObserver(obs))
	f := newGas(t)

	err := d.Flash(context.Background(), f, thermo.TP(300, "K", 10, "parsecs"))
	if !faults.IsConfiguration(err) {
		t.Errorf("unknown unit error = %v", err)
	}
	if obs.errs != 1 {
		t.Errorf("observer saw %d errors, want 1", obs.errs)
	}
}

func TestDispatcherHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := thermo.DefaultDispatcher().Flash(ctx, newGas(t), thermo.TP(300, "K", 10, "bara"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Flash() error = %v, want context.Canceled", err)
	}
}

func TestDispatcherEmptyFluid(t *testing.T) {
	f, err := cubic.NewEngine().NewFluid(thermo.ModelPR)
	if err != nil {
		t.Fatal(err)
	}
	err = thermo.DefaultDispatcher().Flash(context.Background(), f, thermo.TP(300, "K", 10, "bara"))
	if err == nil {
		t.Fatal("expected an error flashing a fluid without components")
	}
	if faults.ClassOf(err) == "" {
		t.Errorf("unclassified error %v", err)
	}
}

package stores

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/pvt"
	"github.com/openfroyo/procsim/pkg/thermo"
	"github.com/openfroyo/procsim/pkg/thermo/cubic"
)

func gas(t *testing.T) thermo.Fluid {
	t.Helper()
	f, err := thermo.NewFluidAt(cubic.NewEngine(), thermo.ModelPR,
		thermo.Value{V: 27, Unit: "C"}, thermo.Value{V: 100, Unit: "bara"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.AddComponent("methane", 0.9, "mol"); err != nil {
		t.Fatal(err)
	}
	if err := f.AddComponent("ethane", 0.1, "mol"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetTotalFlowRate(100, "mol/s"); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want RunStatus
	}{
		{nil, RunStatusCompleted},
		{context.Canceled, RunStatusCancelled},
		{fmt.Errorf("pass 3: %w", context.DeadlineExceeded), RunStatusCancelled},
		{faults.NewUnconvergedError("recycle", nil), RunStatusUnconverged},
		{faults.NewFlashError("no solution", nil), RunStatusFailed},
		{errors.New("boom"), RunStatusFailed},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRecorder_CompletedRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := NewRecorder(store, zerolog.Nop(), "let-down.cue")
	p := process.New("let-down", process.WithRecorder(rec))
	feed, err := process.NewStream(p, "feed", gas(t))
	if err != nil {
		t.Fatal(err)
	}
	valve, err := process.NewValve(p, "valve", feed)
	if err != nil {
		t.Fatal(err)
	}
	if err := valve.SetOutletPressure(50, "bara"); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	runID := p.LastRun().ID
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != RunStatusCompleted || run.Source != "let-down.cue" || run.Passes != 1 || run.Units != 2 {
		t.Errorf("unexpected run %+v", run)
	}

	units, err := store.ListUnitResults(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 || units[0].Unit != "feed" || units[1].UnitType != "valve" {
		t.Errorf("unexpected unit results %+v", units)
	}

	events, _ := store.GetEvents(ctx, &runID, nil, 10, 0)
	if len(events) != 0 {
		t.Errorf("completed run should not log events, got %+v", events)
	}
}

func TestRecorder_UnconvergedRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	p := process.New("loop", process.WithRecorder(NewRecorder(store, zerolog.Nop(), "")))
	feed, _ := process.NewStream(p, "feed", gas(t))
	mix, _ := process.NewMixer(p, "mixer", feed)
	split, _ := process.NewSplitter(p, "split", mix.Outlet(), []float64{0.8, 0.2})
	rec, _ := process.NewRecycle(p, "recycle", split.Outlet(1))
	if err := mix.AddInlet(rec.Outlet()); err != nil {
		t.Fatal(err)
	}
	if err := rec.SetMaxIterations(2); err != nil {
		t.Fatal(err)
	}

	if err := p.Run(ctx); !faults.IsUnconverged(err) {
		t.Fatalf("Run() error = %v, want unconverged", err)
	}

	runID := p.LastRun().ID
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunStatusUnconverged || run.Error == nil || run.CompletedAt == nil {
		t.Errorf("unexpected run %+v", run)
	}

	passes, err := store.ListRecyclePasses(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(passes) != 2 || passes[0].Recycle != "recycle" || passes[1].Converged {
		t.Errorf("unexpected recycle passes %+v", passes)
	}

	level := EventLevelError
	events, err := store.GetEvents(ctx, &runID, &level, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Details == nil {
		t.Fatalf("expected one error event with details, got %+v", events)
	}
}

func TestRecorder_ExperimentFinished(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rec := NewRecorder(store, zerolog.Nop(), "")

	res := &pvt.Result{
		ID:          "exp-9",
		Kind:        pvt.KindViscosity,
		Temperature: 350,
		Index:       pvt.IndexPressure,
		Points:      []float64{100, 50},
		Columns:     []pvt.Column{{Name: pvt.ColGasViscosity, Unit: "cP", Values: []float64{0.02, math.NaN()}}},
		Errors:      []pvt.PointError{{Index: 1, Point: 50, Message: "flash failed"}},
		Started:     time.Now(),
	}
	rec.ExperimentFinished(res, nil)

	got, err := store.GetPVTResult(ctx, "exp-9")
	if err != nil {
		t.Fatalf("GetPVTResult() error = %v", err)
	}
	if got.Kind != pvt.KindViscosity || got.Failed() != 1 {
		t.Errorf("unexpected result %+v", got)
	}

	rec.ExperimentFinished(nil, errors.New("experiment has no fluid"))

	events, err := store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected a warning and an error event, got %+v", events)
	}
}

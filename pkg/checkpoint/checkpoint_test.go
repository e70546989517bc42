package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/stores"
	"github.com/openfroyo/procsim/pkg/thermo"
	"github.com/openfroyo/procsim/pkg/thermo/cubic"
)

func methane(t *testing.T) thermo.Fluid {
	t.Helper()
	f, err := thermo.NewFluidAt(cubic.NewEngine(), thermo.ModelPR,
		thermo.Value{V: 300, Unit: "K"}, thermo.Value{V: 50, Unit: "bara"})
	require.NoError(t, err)
	require.NoError(t, f.AddComponent("methane", 0.95, "mol"))
	require.NoError(t, f.AddComponent("ethane", 0.05, "mol"))
	require.NoError(t, f.SetTotalFlowRate(10, "mol/s"))
	return f
}

// buildLoop wires feed -> mixer -> valve -> splitter with a tenth of the
// splitter returned through a recycle.
func buildLoop(t *testing.T, name string) *process.Process {
	t.Helper()
	p := process.New(name)
	feed, err := process.NewStream(p, "feed", methane(t))
	require.NoError(t, err)
	mix, err := process.NewMixer(p, "mixer", feed)
	require.NoError(t, err)
	valve, err := process.NewValve(p, "valve", mix.Outlet())
	require.NoError(t, err)
	require.NoError(t, valve.SetOutletPressure(45, "bara"))
	split, err := process.NewSplitter(p, "splitter", valve.Outlet(), []float64{0.9, 0.1})
	require.NoError(t, err)
	rec, err := process.NewRecycle(p, "recycle", split.Outlet(1))
	require.NoError(t, err)
	require.NoError(t, mix.AddInlet(rec.Outlet()))
	require.NoError(t, rec.SetTolerance(1e-6))
	require.NoError(t, rec.SetMaxIterations(50))
	return p
}

func openStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.Open(context.Background(), filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCapture(t *testing.T) {
	p := buildLoop(t, "loop")
	assert.Empty(t, Capture(p).Tears, "nothing to capture before a run")

	require.NoError(t, p.Run(context.Background()))
	snap := Capture(p)

	assert.Equal(t, "loop", snap.Process)
	assert.Equal(t, p.LastRun().ID, snap.RunID)
	require.Len(t, snap.Tears, 1)
	tear := snap.Tears[0]
	assert.Equal(t, "recycle", tear.Recycle)
	assert.Equal(t, []string{"methane", "ethane"}, tear.Components)
	assert.InDelta(t, 45, tear.PressureBara, 1e-6)
	assert.Greater(t, tear.MolarFlow, 1.0)
	require.Len(t, snap.Recycles, 1)
	assert.True(t, snap.Recycles[0].Converged)
}

func TestMarshalUnmarshal(t *testing.T) {
	p := buildLoop(t, "loop")
	require.NoError(t, p.Run(context.Background()))
	snap := Capture(p)

	data, err := Marshal(snap)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Process, got.Process)
	assert.Equal(t, snap.Tears, got.Tears)
	assert.True(t, snap.Taken.Equal(got.Taken))

	_, err = Unmarshal([]byte("not zstd"))
	assert.Error(t, err)
}

func TestWarmStart(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	cold := buildLoop(t, "loop")
	n, err := WarmStart(ctx, store, cold)
	require.NoError(t, err)
	assert.Zero(t, n, "no checkpoint stored yet")

	require.NoError(t, cold.Run(ctx))
	coldPasses := cold.LastRun().Passes
	_, err = Save(ctx, store, cold)
	require.NoError(t, err)

	warm := buildLoop(t, "loop")
	n, err = WarmStart(ctx, store, warm)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, warm.Run(ctx))
	assert.Less(t, warm.LastRun().Passes, coldPasses)

	snap, err := Load(ctx, store, "loop")
	require.NoError(t, err)
	assert.Equal(t, cold.LastRun().ID, snap.RunID)
}

func TestRestore_Mismatch(t *testing.T) {
	p := buildLoop(t, "loop")
	require.NoError(t, p.Run(context.Background()))
	snap := Capture(p)

	other := buildLoop(t, "other")
	_, err := Restore(other, snap)
	assert.True(t, faults.IsConfiguration(err))

	n, err := Restore(p, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	snap.Tears[0].Components = []string{"nitrogen"}
	n, err = Restore(p, snap)
	require.NoError(t, err)
	assert.Zero(t, n, "no feed matches the component list")
}

func TestLoad_UnsupportedEncoding(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.SaveCheckpoint(ctx, &stores.Checkpoint{
		ID: "cp-1", Process: "loop", Encoding: "json", Data: []byte("{}"),
	}))

	_, err := Load(ctx, store, "loop")
	assert.Error(t, err)
}

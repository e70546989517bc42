package config

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/procsim/pkg/characterization"
	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/thermo"
	"github.com/openfroyo/procsim/pkg/thermo/cubic"
)

func TestFlowsheet_ExportRoundTrip(t *testing.T) {
	fs, err := NewBuilder().Build(letDownConfig())
	require.NoError(t, err)

	u, ok := fs.Process.Unit("valve")
	require.True(t, ok)
	require.NoError(t, u.(*process.Valve).SetOutletPressure(30, "bara"))

	exported, err := fs.Export()
	require.NoError(t, err)
	assert.Equal(t, "let-down", exported.Name)
	require.Len(t, exported.Units, 4)
	assert.Equal(t, "gas", exported.Units[0].Fluid)
	assert.Equal(t, []string{"sep.gas"}, exported.Units[3].Inlets)

	data, err := MarshalYAML(exported)
	require.NoError(t, err)

	pc, err := NewCUEParser().ParseYAML(context.Background(), data)
	require.NoError(t, err)
	require.Empty(t, pc.Errors, "exported YAML:\n%s", data)

	rebuilt, err := NewBuilder().Build(pc.Flowsheet)
	require.NoError(t, err)
	require.NoError(t, rebuilt.Process.Run(context.Background()))

	out, ok := rebuilt.Stream("valve")
	require.True(t, ok)
	p, err := out.Pressure("bara")
	require.NoError(t, err)
	assert.InDelta(t, 30.0, p, 1e-9)

	feed, _ := rebuilt.Stream("feed")
	tc, err := feed.Temperature("C")
	require.NoError(t, err)
	assert.InDelta(t, 30.0, tc, 1e-9)
}

func TestExport_CodeBuiltProcess(t *testing.T) {
	f, err := thermo.NewFluidAt(cubic.NewEngine(), thermo.ModelSRK,
		thermo.Value{V: 20, Unit: "C"}, thermo.Value{V: 60, Unit: "bara"})
	require.NoError(t, err)
	require.NoError(t, f.AddComponent("methane", 0.95, "mol"))
	require.NoError(t, f.AddComponent("propane", 0.05, "mol"))
	require.NoError(t, f.SetTotalFlowRate(5, "mol/s"))

	p := process.New("code-built", process.WithOrdering(process.OrderTopological))
	feed, err := process.NewStream(p, "well", f)
	require.NoError(t, err)
	valve, err := process.NewValve(p, "choke", feed)
	require.NoError(t, err)
	require.NoError(t, valve.SetOutletPressure(20, "bara"))
	_, err = process.NewSeparator(p, "sep", valve.Outlet())
	require.NoError(t, err)

	cfg, err := Export(p)
	require.NoError(t, err)
	assert.Equal(t, "topological", cfg.Ordering)
	require.Contains(t, cfg.Fluids, "well")
	assert.Equal(t, "srk", cfg.Fluids["well"].Model)
	assert.Len(t, cfg.Fluids["well"].Components, 2)

	well := cfg.Units[0]
	assert.Equal(t, "well", well.Fluid)
	require.NotNil(t, well.Pressure)
	assert.InDelta(t, 60.0, well.Pressure.Value, 1e-9)
	require.NotNil(t, well.Flow)
	assert.InDelta(t, 5.0, well.Flow.Value, 1e-9)

	choke := cfg.Units[1]
	assert.Equal(t, "valve", choke.Type)
	assert.Equal(t, []string{"well"}, choke.Inlets)
	require.NotNil(t, choke.Pressure)
	assert.InDelta(t, 20.0, choke.Pressure.Value, 1e-9)

	require.NoError(t, NewSchemaRegistry().ValidateFlowsheet(context.Background(), cfg))
	_, err = NewBuilder().Build(cfg)
	require.NoError(t, err)
}

func TestExport_PseudoComponents(t *testing.T) {
	cfg := letDownConfig()
	cfg.Fluids["oil"] = FluidConfig{
		Components: []characterization.Component{{Name: "methane", Moles: 0.6}},
		Cuts: []characterization.Cut{
			{Name: "C7+", Moles: 0.4, MolarMass: 0.200, RelativeDensity: 0.83, Plus: true},
		},
		LumpCount: 3,
	}
	cfg.Units[0].Fluid = "oil"

	fs, err := NewBuilder().Build(cfg)
	require.NoError(t, err)

	// The config tables still describe the fluid.
	exported, err := fs.Export()
	require.NoError(t, err)
	assert.Equal(t, 3, exported.Fluids["oil"].LumpCount)

	_, err = Export(fs.Process)
	require.Error(t, err)
	var fe *faults.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, faults.ErrCodeUnknownComponent, fe.Code)
	assert.Equal(t, "feed", fe.Unit)
}

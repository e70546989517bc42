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
)

func letDownConfig() *FlowsheetConfig {
	return &FlowsheetConfig{
		Name:  "let-down",
		Model: "pr",
		Fluids: map[string]FluidConfig{
			"gas": {
				Components: []characterization.Component{
					{Name: "methane", Moles: 0.85},
					{Name: "ethane", Moles: 0.08},
					{Name: "propane", Moles: 0.05},
					{Name: "n-butane", Moles: 0.02},
				},
			},
		},
		Units: []UnitConfig{
			{Name: "feed", Type: "stream", Fluid: "gas",
				Temperature: Q(30, "C"), Pressure: Q(100, "bara"), Flow: Q(10, "mol/s")},
			{Name: "valve", Type: "valve", Inlets: []string{"feed"}, Pressure: Q(40, "bara")},
			{Name: "sep", Type: "separator", Inlets: []string{"valve"}},
			{Name: "pt", Type: "transmitter", Inlets: []string{"sep.gas"}, Measurement: "pressure"},
		},
	}
}

func loopConfig() *FlowsheetConfig {
	iter := 50
	return &FlowsheetConfig{
		Name: "loop",
		Fluids: map[string]FluidConfig{
			"gas": {Components: []characterization.Component{
				{Name: "methane", Moles: 0.9},
				{Name: "ethane", Moles: 0.1},
			}},
		},
		Units: []UnitConfig{
			{Name: "feed", Type: "stream", Fluid: "gas",
				Temperature: Q(300, "K"), Pressure: Q(50, "bara"), Flow: Q(10, "mol/s")},
			{Name: "mixer", Type: "mixer", Inlets: []string{"feed", "recycle"}},
			{Name: "split", Type: "splitter", Inlets: []string{"mixer"}, Fractions: []float64{0.9, 0.1}},
			{Name: "recycle", Type: "recycle", Inlets: []string{"split.1"}, MaxIterations: &iter},
		},
	}
}

func TestBuilder_BuildAndRun(t *testing.T) {
	fs, err := NewBuilder().Build(letDownConfig())
	require.NoError(t, err)

	order, err := fs.Process.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"feed", "valve", "sep", "pt"}, order)

	require.NoError(t, fs.Process.Run(context.Background()))

	out, ok := fs.Stream("valve")
	require.True(t, ok)
	p, err := out.Pressure("bara")
	require.NoError(t, err)
	assert.InDelta(t, 40.0, p, 1e-9)

	u, ok := fs.Process.Unit("pt")
	require.True(t, ok)
	reading, err := u.(*process.Transmitter).MeasuredValue("bara")
	require.NoError(t, err)
	assert.InDelta(t, 40.0, reading, 1e-6)

	assert.Contains(t, fs.StreamNames(), "sep.gas")
	assert.Contains(t, fs.StreamNames(), "sep.liquid")
	assert.Contains(t, fs.Characterization, "gas")
}

func TestBuilder_ForwardReferenceClosesLoop(t *testing.T) {
	fs, err := NewBuilder().Build(loopConfig())
	require.NoError(t, err)
	require.NoError(t, fs.Process.Run(context.Background()))

	rec, ok := fs.Process.Unit("recycle")
	require.True(t, ok)
	assert.True(t, rec.(*process.Recycle).Converged())

	s, ok := fs.Stream("recycle")
	require.True(t, ok)
	flow, err := s.FlowRate("mol/s")
	require.NoError(t, err)
	assert.InDelta(t, 10.0/9.0, flow, 1e-4)
}

func TestBuilder_ProcessOptions(t *testing.T) {
	cfg := loopConfig()
	cfg.Ordering = "topological"
	cfg.MaxPasses = 3

	fs, err := NewBuilder().Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, process.OrderTopological, fs.Process.Ordering())

	err = fs.Process.Run(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsUnconverged(err))
	assert.Equal(t, 3, fs.Process.LastRun().Passes)
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FlowsheetConfig)
		code   string
		unit   string
	}{
		{
			name:   "unknown inlet",
			mutate: func(c *FlowsheetConfig) { c.Units[1].Inlets = []string{"nowhere"} },
			code:   faults.ErrCodeMissingInlet,
			unit:   "valve",
		},
		{
			name:   "unresolved forward reference",
			mutate: func(c *FlowsheetConfig) { c.Units[2].Inlets = []string{"valve", "ghost.out"} },
			code:   faults.ErrCodeMissingInlet,
			unit:   "sep",
		},
		{
			name:   "duplicate name",
			mutate: func(c *FlowsheetConfig) { c.Units[2].Name = "valve" },
			code:   faults.ErrCodeDuplicateName,
			unit:   "valve",
		},
		{
			name:   "setting that does not apply",
			mutate: func(c *FlowsheetConfig) { c.Units[1].Fractions = []float64{0.5, 0.5} },
			code:   faults.ErrCodeInvalidParameter,
			unit:   "valve",
		},
		{
			name:   "unknown equipment type",
			mutate: func(c *FlowsheetConfig) { c.Units[2].Type = "reactor" },
			code:   faults.ErrCodeUnknownEquipment,
			unit:   "sep",
		},
		{
			name:   "unknown component",
			mutate: func(c *FlowsheetConfig) { c.Fluids["gas"].Components[0].Name = "unobtainium" },
			code:   faults.ErrCodeUnknownComponent,
			unit:   "feed",
		},
		{
			name:   "unknown model",
			mutate: func(c *FlowsheetConfig) { c.Model = "ideal-gas" },
			code:   faults.ErrCodeUnknownModel,
			unit:   "feed",
		},
		{
			name:   "valve with two inlets",
			mutate: func(c *FlowsheetConfig) { c.Units[1].Inlets = []string{"feed", "feed"} },
			code:   faults.ErrCodeMissingInlet,
			unit:   "valve",
		},
		{
			name:   "transmitter without measurement",
			mutate: func(c *FlowsheetConfig) { c.Units[3].Measurement = "" },
			code:   faults.ErrCodeInvalidParameter,
			unit:   "pt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := letDownConfig()
			tt.mutate(cfg)

			fs, err := NewBuilder().Build(cfg)
			require.Error(t, err)
			assert.Nil(t, fs)
			assert.True(t, faults.IsConfiguration(err), "got %v", err)

			var fe *faults.Error
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.code, fe.Code)
			assert.Equal(t, tt.unit, fe.Unit)
		})
	}
}

func TestBuilder_HeaterSettings(t *testing.T) {
	cfg := letDownConfig()
	cfg.Units = append(cfg.Units[:2], UnitConfig{
		Name: "heater", Type: "heater", Inlets: []string{"valve"},
		Temperature: Q(50, "C"), PressureDrop: Q(0.5, "bar"),
	})

	fs, err := NewBuilder().Build(cfg)
	require.NoError(t, err)
	require.NoError(t, fs.Process.Run(context.Background()))

	out, _ := fs.Stream("heater")
	tk, err := out.Temperature("C")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, tk, 1e-6)
	p, err := out.Pressure("bara")
	require.NoError(t, err)
	assert.InDelta(t, 39.5, p, 1e-9)

	cfg.Units[2].Duty = Q(10, "kW")
	_, err = NewBuilder().Build(cfg)
	require.Error(t, err)
	assert.True(t, faults.IsConfiguration(err))
}

func TestBuilder_ScriptedUnit(t *testing.T) {
	cfg := letDownConfig()
	cfg.Units = append(cfg.Units[:1], UnitConfig{
		Name:   "choke",
		Type:   "scripted",
		Inlets: []string{"feed"},
		Script: `
pressure_bara = inlet["pressure_bara"] * params["ratio"]
scalars = {"ratio": params["ratio"]}
`,
		Params: map[string]interface{}{"ratio": 0.5},
	})

	fs, err := NewBuilder().Build(cfg)
	require.NoError(t, err)
	require.NoError(t, fs.Process.Run(context.Background()))

	out, ok := fs.Stream("choke.out")
	require.True(t, ok)
	p, err := out.Pressure("bara")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, p, 1e-9)

	u, _ := fs.Process.Unit("choke")
	assert.Equal(t, 0.5, u.(process.Scalars).Scalars()["ratio"])
}

func TestBuilder_StreamCopy(t *testing.T) {
	cfg := letDownConfig()
	cfg.Units = append(cfg.Units, UnitConfig{Name: "gas-export", Type: "stream", Inlets: []string{"sep.gas"}})

	fs, err := NewBuilder().Build(cfg)
	require.NoError(t, err)
	require.NoError(t, fs.Process.Run(context.Background()))

	s, ok := fs.Stream("gas-export")
	require.True(t, ok)
	assert.NotNil(t, s.Fluid())

	cfg.Units[len(cfg.Units)-1].Fluid = "gas"
	_, err = NewBuilder().Build(cfg)
	require.Error(t, err)
	assert.True(t, faults.IsConfiguration(err))
}

func TestBuilder_CharacterizedFluid(t *testing.T) {
	cfg := letDownConfig()
	cfg.Fluids["oil"] = FluidConfig{
		Components: []characterization.Component{
			{Name: "methane", Moles: 0.45},
			{Name: "ethane", Moles: 0.07},
			{Name: "propane", Moles: 0.05},
			{Name: "n-hexane", Moles: 0.03},
		},
		Cuts: []characterization.Cut{
			{Name: "C7+", Moles: 0.40, MolarMass: 0.210, RelativeDensity: 0.84, Plus: true},
		},
		LumpCount: 4,
	}
	cfg.Units[0].Fluid = "oil"

	fs, err := NewBuilder().Build(cfg)
	require.NoError(t, err)

	res := fs.Characterization["oil"]
	require.NotNil(t, res)
	assert.Len(t, res.Pseudo, 4)

	feed, _ := fs.Stream("feed")
	assert.Len(t, feed.Fluid().Components(), 8)
}

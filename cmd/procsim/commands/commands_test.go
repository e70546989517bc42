package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/pvt"
	"github.com/openfroyo/procsim/pkg/stores"
)

const letDownCUE = `
name:  "let-down"
model: "pr"

fluids: gas: components: [
	{name: "methane", moles: 0.9},
	{name: "ethane", moles: 0.1},
]

units: [
	{name: "feed", type: "stream", fluid: "gas",
	 temperature: {value: 30, unit: "C"}
	 pressure: {value: 100, unit: "bara"}
	 flow: {value: 10, unit: "mol/s"}},
	{name: "valve", type: "valve", inlets: ["feed"], pressure: {value: 40, unit: "bara"}},
	{name: "sep", type: "separator", inlets: ["valve"]},
]
`

func writeFlowsheet(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "let-down.cue")
	require.NoError(t, os.WriteFile(path, []byte(letDownCUE), 0o644))
	return path
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"policy", fmt.Errorf("run: %w", errPolicyBlocked), 4},
		{"unconverged", faults.NewUnconvergedError("loop", nil), 3},
		{"configuration", faults.NewConfigurationError("bad unit", nil), 2},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestTimedOut(t *testing.T) {
	assert.NoError(t, timedOut(time.Second, nil), "a run that beat the cancellation succeeded")

	err := timedOut(time.Second, context.Canceled)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "run exceeded 1s: context canceled", err.Error())
	assert.NotContains(t, err.Error(), "%!w")
}

func TestParseStages(t *testing.T) {
	stages, err := parseStages([]string{"30@320", " 5 @ 300.5"})
	require.NoError(t, err)
	assert.Equal(t, []pvt.Stage{{Pressure: 30, Temperature: 320}, {Pressure: 5, Temperature: 300.5}}, stages)

	for _, bad := range []string{"30", "x@300", "30@y"} {
		_, err := parseStages([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestRunOptions_ParsedLimits(t *testing.T) {
	opts := runOptions{limits: map[string]string{"max_pressure_bara": "120", "min_temperature_k": "250.5"}}
	limits, err := opts.parsedLimits()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"max_pressure_bara": 120, "min_temperature_k": 250.5}, limits)

	opts.limits["max_temperature_k"] = "hot"
	_, err = opts.parsedLimits()
	assert.ErrorContains(t, err, "max_temperature_k")
}

func TestNewResultView_AbsentValuesAreNull(t *testing.T) {
	res := &pvt.Result{
		ID:     "r1",
		Kind:   pvt.KindCME,
		Index:  "pressure",
		Points: []float64{200, 100},
		Columns: []pvt.Column{
			{Name: "liquid_volume_fraction", Values: []float64{math.NaN(), 0.2}},
		},
		Summary: map[string]float64{"saturation_pressure": 150, "oil_density": math.NaN()},
	}
	view := newResultView(res)

	col := view.Columns["liquid_volume_fraction"]
	require.Len(t, col, 2)
	assert.Nil(t, col[0])
	require.NotNil(t, col[1])
	assert.Equal(t, 0.2, *col[1])
	assert.Equal(t, map[string]float64{"saturation_pressure": 150}, view.Summary)

	_, err := json.Marshal(view)
	assert.NoError(t, err)
}

func TestNum(t *testing.T) {
	assert.Equal(t, "-", num(math.NaN()))
	assert.Equal(t, "1.5", num(1.5))
	assert.Equal(t, "123457", num(123456.7))
}

func TestGraphCommand_Order(t *testing.T) {
	out, err := execute(t, "--db", "", "graph", writeFlowsheet(t), "--order")
	require.NoError(t, err)
	assert.Contains(t, out, "valve")
	assert.Contains(t, out, "sep")
}

func TestGraphCommand_DOT(t *testing.T) {
	out, err := execute(t, "--db", "", "graph", writeFlowsheet(t))
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "--db", "", "validate", writeFlowsheet(t))
	require.NoError(t, err)
	assert.Contains(t, out, "let-down")

	bad := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte(`name: "bad"
units: [{name: "v", type: "valve", inlets: ["nowhere"]}]
`), 0o644))
	_, err = execute(t, "--db", "", "validate", bad)
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestRunCommand_RecordsHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	plant := writeFlowsheet(t)

	out, err := execute(t, "--db", db, "run", plant)
	require.NoError(t, err)
	assert.Contains(t, out, "let-down")
	assert.Contains(t, out, "envelope ok")

	out, err = execute(t, "--db", db, "--json", "history", "runs")
	require.NoError(t, err)
	var runs []stores.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "let-down", runs[0].Process)
	assert.Equal(t, stores.RunStatusCompleted, runs[0].Status)

	out, err = execute(t, "--db", db, "--json", "history", "show", runs[0].ID)
	require.NoError(t, err)
	var detail struct {
		Run     stores.Run `json:"run"`
		Streams []struct {
			Name string `json:"name"`
		} `json:"streams"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, runs[0].ID, detail.Run.ID)
	assert.NotEmpty(t, detail.Streams)
}

func TestRunCommand_PolicyBlocked(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	out, err := execute(t, "--db", db, "run", writeFlowsheet(t), "--limit", "max_pressure_bara=50")
	require.Error(t, err)
	assert.Equal(t, 4, ExitCode(err))
	assert.Contains(t, out, "pressure-envelope")

	out, err = execute(t, "--db", db, "--json", "history", "events", "--level", "error")
	require.NoError(t, err)
	var events []stores.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	assert.NotEmpty(t, events)
}

func TestHistoryCommand_RequiresDatabase(t *testing.T) {
	_, err := execute(t, "--db", "", "history", "runs")
	assert.ErrorContains(t, err, "--db")
}

func TestExportCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "plant.yaml")
	_, err := execute(t, "--db", "", "export", writeFlowsheet(t), "-o", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "let-down")
	assert.Contains(t, string(data), "valve")

	_, err = execute(t, "--db", "", "run", out)
	assert.NoError(t, err)
}

func TestPVTCommand_UnknownFeed(t *testing.T) {
	_, err := execute(t, "--db", "", "pvt", "cme", writeFlowsheet(t), "--feed", "missing", "--pressures", "50")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestPVTCommand_UnknownKind(t *testing.T) {
	_, err := execute(t, "--db", "", "pvt", "cme,boiling", writeFlowsheet(t), "--feed", "feed")
	assert.Error(t, err)
}

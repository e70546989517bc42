package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/procsim/pkg/faults"
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

func TestCUEParser_ParseInline(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErrs  bool
		checkFunc func(*testing.T, *ParsedConfig)
	}{
		{
			name:    "valid flowsheet",
			content: letDownCUE,
			checkFunc: func(t *testing.T, pc *ParsedConfig) {
				fs := pc.Flowsheet
				if fs.Name != "let-down" {
					t.Errorf("expected name let-down, got %s", fs.Name)
				}
				if len(fs.Units) != 3 {
					t.Fatalf("expected 3 units, got %d", len(fs.Units))
				}
				if p := fs.Units[1].Pressure; p == nil || p.Value != 40 || p.Unit != "bara" {
					t.Errorf("unexpected valve pressure %+v", p)
				}
				if got := len(fs.Fluids["gas"].Components); got != 2 {
					t.Errorf("expected 2 components, got %d", got)
				}
			},
		},
		{
			name:    "flowsheet under a top-level field",
			content: "flowsheet: {\n" + letDownCUE + "\n}",
			checkFunc: func(t *testing.T, pc *ParsedConfig) {
				if pc.Flowsheet.Name != "let-down" {
					t.Errorf("expected name let-down, got %s", pc.Flowsheet.Name)
				}
			},
		},
		{
			name:     "invalid CUE syntax",
			content:  "name: \"x\"\nunits: [",
			wantErrs: true,
		},
		{
			name:     "unknown unit type",
			content:  strings.Replace(letDownCUE, `type: "separator"`, `type: "reactor"`, 1),
			wantErrs: true,
		},
		{
			name:     "missing units",
			content:  `name: "empty"`,
			wantErrs: true,
		},
		{
			name:     "conflicting values",
			content:  letDownCUE + "\nname: \"other\"\n",
			wantErrs: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := parser.ParseInline(ctx, tt.content)
			if err != nil {
				t.Fatalf("ParseInline() error = %v", err)
			}
			if tt.wantErrs {
				if len(pc.Errors) == 0 {
					t.Fatal("expected validation errors")
				}
				if pc.Flowsheet != nil {
					t.Error("expected no flowsheet when errors are reported")
				}
				return
			}
			if len(pc.Errors) > 0 {
				t.Fatalf("unexpected errors: %v", pc.Errors)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, pc)
			}
		})
	}
}

func TestCUEParser_ErrorPaths(t *testing.T) {
	parser := NewCUEParser()

	content := strings.Replace(letDownCUE, `{name: "sep", type: "separator", inlets: ["valve"]}`,
		`{name: "sep", type: "separator", inlets: ["valve"], efficiency: 2}`, 1)
	pc, err := parser.ParseInline(context.Background(), content)
	if err != nil {
		t.Fatal(err)
	}
	if len(pc.Errors) == 0 {
		t.Fatal("expected errors")
	}
	found := false
	for _, e := range pc.Errors {
		if strings.Contains(e.Path, "units") {
			found = true
		}
		if e.Severity != "error" {
			t.Errorf("unexpected severity %q", e.Severity)
		}
	}
	if !found {
		t.Errorf("expected an error located under units, got %v", pc.Errors)
	}
}

func TestCUEParser_ParseFiles(t *testing.T) {
	dir := t.TempDir()
	fluids := filepath.Join(dir, "fluids.cue")
	units := filepath.Join(dir, "units.yaml")

	if err := os.WriteFile(fluids, []byte(`
name: "split-plant"
fluids: gas: components: [{name: "methane", moles: 1}]
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(units, []byte(`
units:
  - name: feed
    type: stream
    fluid: gas
    temperature: {value: 300, unit: K}
    pressure: {value: 20, unit: bara}
  - name: cooler
    type: cooler
    inlets: [feed]
    temperature: {value: 5, unit: C}
`), 0o644); err != nil {
		t.Fatal(err)
	}

	parser := NewCUEParser()
	pc, err := parser.Parse(context.Background(), []string{fluids, units})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(pc.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", pc.Errors)
	}
	if len(pc.SourceFiles) != 2 {
		t.Errorf("expected 2 source files, got %v", pc.SourceFiles)
	}
	if pc.Flowsheet.Name != "split-plant" || len(pc.Flowsheet.Units) != 2 {
		t.Errorf("unexpected flowsheet %+v", pc.Flowsheet)
	}

	found, err := FindSources(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0] != fluids || found[1] != units {
		t.Errorf("FindSources() = %v", found)
	}
}

func TestCUEParser_ParseYAML(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	pc, err := parser.ParseYAML(ctx, []byte(`
name: pump-station
fluids:
  water:
    components: [{name: water, moles: 1}]
units:
  - {name: feed, type: stream, fluid: water, temperature: {value: 20, unit: C}, pressure: {value: 2, unit: bara}}
  - {name: p-101, type: pump, inlets: [feed], pressure: {value: 12, unit: bara}, efficiency: 0.7}
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(pc.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", pc.Errors)
	}
	if eff := pc.Flowsheet.Units[1].Efficiency; eff == nil || *eff != 0.7 {
		t.Errorf("unexpected efficiency %v", eff)
	}

	pc, err = parser.ParseYAML(ctx, []byte("name: [unclosed"))
	if err != nil {
		t.Fatal(err)
	}
	if len(pc.Errors) == 0 {
		t.Error("expected a YAML syntax error")
	}
}

func TestCUEParser_Load(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.cue")
	bad := filepath.Join(dir, "bad.cue")
	if err := os.WriteFile(good, []byte(letDownCUE), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte(`name: "bad"`), 0o644); err != nil {
		t.Fatal(err)
	}

	parser := NewCUEParser()
	ctx := context.Background()

	cfg, err := parser.Load(ctx, good)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Name != "let-down" {
		t.Errorf("expected let-down, got %s", cfg.Name)
	}

	_, err = parser.Load(ctx, bad)
	if !faults.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}

	if _, err := parser.Load(ctx, filepath.Join(dir, "missing.cue")); err == nil {
		t.Error("expected error for a missing source")
	}
	if _, err := parser.Parse(ctx, nil); err == nil {
		t.Error("expected error for no sources")
	}
}

func TestValidationError_String(t *testing.T) {
	ve := ValidationError{File: "plant.cue", Line: 4, Column: 2, Path: "units.0.type", Message: "conflict"}
	if got, want := ve.String(), "plant.cue:4:2: units.0.type: conflict"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := (ValidationError{Message: "no units"}).String(); got != "no units" {
		t.Errorf("String() = %q", got)
	}
}

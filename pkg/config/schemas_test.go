package config

import (
	"context"
	"reflect"
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#Setpoint: {
	tag:   string
	value: number
}
`

	if err := sr.RegisterSchema("setpoint", customSchema); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("setpoint")
	if !ok {
		t.Fatal("expected to find setpoint schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, name := range []string{"flowsheet", "fluid", "unit", "quantity", "cut"} {
		t.Run(name, func(t *testing.T) {
			schema, ok := sr.GetSchema(name)
			if !ok {
				t.Fatalf("built-in schema %s not found", name)
			}
			if schema.Err() != nil {
				t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
			}
		})
	}
}

func TestSchemaRegistry_ValidateUnit(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()
	eff := 0.75
	badEff := 1.5

	tests := []struct {
		name    string
		unit    UnitConfig
		wantErr bool
	}{
		{
			name: "valve with outlet pressure",
			unit: UnitConfig{Name: "valve", Type: "valve", Inlets: []string{"feed"}, Pressure: Q(40, "bara")},
		},
		{
			name: "compressor with efficiency",
			unit: UnitConfig{Name: "k-100", Type: "compressor", Inlets: []string{"sep.gas"}, Efficiency: &eff},
		},
		{
			name:    "unknown type",
			unit:    UnitConfig{Name: "r1", Type: "reactor"},
			wantErr: true,
		},
		{
			name:    "name with spaces",
			unit:    UnitConfig{Name: "hp sep", Type: "separator"},
			wantErr: true,
		},
		{
			name:    "efficiency above one",
			unit:    UnitConfig{Name: "k-100", Type: "compressor", Efficiency: &badEff},
			wantErr: true,
		},
		{
			name:    "split fraction above one",
			unit:    UnitConfig{Name: "split", Type: "splitter", Fractions: []float64{1.2, -0.2}},
			wantErr: true,
		},
		{
			name:    "unknown measurement",
			unit:    UnitConfig{Name: "pt", Type: "transmitter", Measurement: "ph"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateUnit(ctx, tt.unit)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUnit() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaRegistry_ValidateFlowsheet(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	valid := letDownConfig()
	if err := sr.ValidateFlowsheet(ctx, valid); err != nil {
		t.Fatalf("expected valid flowsheet, got %v", err)
	}

	empty := &FlowsheetConfig{Name: "empty"}
	if err := sr.ValidateFlowsheet(ctx, empty); err == nil {
		t.Error("expected a flowsheet without units to fail")
	}

	badOrder := letDownConfig()
	badOrder.Ordering = "random"
	if err := sr.ValidateFlowsheet(ctx, badOrder); err == nil {
		t.Error("expected an unknown ordering to fail")
	}
}

func TestSchemaRegistry_ValidateFluid(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	fluid := letDownConfig().Fluids["gas"]
	if err := sr.ValidateFluid(ctx, fluid); err != nil {
		t.Fatalf("expected valid fluid, got %v", err)
	}

	fluid.Components[0].Moles = -1
	if err := sr.ValidateFluid(ctx, fluid); err == nil {
		t.Error("expected negative moles to fail")
	}
}

func TestSchemaRegistry_ListSchemas(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("alarm", `#Alarm: {limit: number}`); err != nil {
		t.Fatal(err)
	}

	want := []string{"alarm", "cut", "flowsheet", "fluid", "quantity", "unit"}
	if got := sr.ListSchemas(); !reflect.DeepEqual(got, want) {
		t.Errorf("ListSchemas() = %v, want %v", got, want)
	}
}

func TestSchemaRegistry_InvalidSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("broken", `#Broken: { field: string &`); err == nil {
		t.Error("expected error for invalid schema")
	}
	if err := sr.ValidateAgainstSchema(context.Background(), "missing", struct{}{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}

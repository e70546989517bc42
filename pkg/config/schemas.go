package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

// registerBuiltInSchemas registers the flowsheet definitions. Each name is
// bound to one definition of the shared flowsheet schema source.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	defs := map[string]string{
		"flowsheet": "#Flowsheet",
		"fluid":     "#Fluid",
		"unit":      "#Unit",
		"quantity":  "#Quantity",
		"cut":       "#Cut",
	}
	for name, def := range defs {
		if err := sr.registerDefinition(name, builtinFlowsheetSchema, def); err != nil {
			panic(err)
		}
	}
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.mu.Lock()
	sr.schemas[name] = val
	sr.mu.Unlock()
	return nil
}

func (sr *SchemaRegistry) registerDefinition(name, schema, def string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	defVal := val.LookupPath(cue.ParsePath(def))
	if !defVal.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, def)
	}

	sr.mu.Lock()
	sr.schemas[name] = defVal
	sr.mu.Unlock()
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	if err := sr.validate(schemaName, data); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// validate returns the unwrapped CUE error so callers can read positions.
func (sr *SchemaRegistry) validate(schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return err
	}

	return schema.Unify(dataVal).Validate(cue.Concrete(true))
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateFlowsheet validates a flowsheet against the flowsheet schema.
func (sr *SchemaRegistry) ValidateFlowsheet(ctx context.Context, cfg *FlowsheetConfig) error {
	return sr.ValidateAgainstSchema(ctx, "flowsheet", cfg)
}

// ValidateFluid validates a fluid definition against the fluid schema.
func (sr *SchemaRegistry) ValidateFluid(ctx context.Context, fluid FluidConfig) error {
	return sr.ValidateAgainstSchema(ctx, "fluid", fluid)
}

// ValidateUnit validates a unit against the unit schema.
func (sr *SchemaRegistry) ValidateUnit(ctx context.Context, unit UnitConfig) error {
	return sr.ValidateAgainstSchema(ctx, "unit", unit)
}

const builtinFlowsheetSchema = `
#Name: string & =~"^[A-Za-z0-9_-]+$"

#Quantity: {
	value: number
	unit?: string
}

#Component: {
	name:  string & != ""
	moles: number & >=0
	unit?: string
}

#Cut: {
	name:              string & != ""
	moles:             number & >=0
	molar_mass?:       number & >=0
	relative_density:  number & >0
	boiling_point?:    number & >=0
	plus?:             bool
	lumps?:            int & >=0
}

#Fluid: {
	model?:             string
	mixing_rule?:       string
	multi_phase_check?: bool
	components?:        [...#Component]
	cuts?:              [...#Cut]
	lump_count?:        int & >=0
}

#SpeedLine: {
	speed: number & >0
	points: [...{
		flow:       number & >=0
		head:       number
		efficiency: number & >0 & <=1
	}]
}

#UnitType: "stream" | "separator" | "three_phase_separator" | "valve" |
	"compressor" | "expander" | "pump" | "heater" | "cooler" | "mixer" |
	"splitter" | "component_splitter" | "recycle" | "transmitter" | "scripted"

#Unit: {
	name:                 #Name
	type:                 #UnitType
	inlets?:              [...string & != ""]
	fluid?:               string
	temperature?:         #Quantity
	pressure?:            #Quantity
	flow?:                #Quantity
	duty?:                #Quantity
	pressure_drop?:       #Quantity
	efficiency?:          number & >0 & <=1
	curve?:               [...#SpeedLine]
	speed?:               number & >=0
	kv?:                  number & >0
	isentropic?:          bool
	fractions?:           [...(number & >=0 & <=1)]
	component_fractions?: [...[...(number & >=0 & <=1)]]
	tolerance?:           number & >0
	max_iterations?:      int & >0
	acceleration?:        "none" | "direct" | "wegstein"
	measurement?:         "pressure" | "temperature" | "molar_flow" | "mass_flow" | "water_dew_point" | "hydrate_temperature"
	script?:              string
	params?:              {[string]: _}
}

#Flowsheet: {
	name:         string & != ""
	model?:       string
	mixing_rule?: string
	ordering?:    "registration" | "topological" | "topo"
	max_passes?:  int & >=0
	fluids?:      {[string]: #Fluid}
	units:        [#Unit, ...#Unit]
}
`

package config

import (
	"time"

	"github.com/openfroyo/procsim/pkg/characterization"
	"github.com/openfroyo/procsim/pkg/process"
)

// FlowsheetConfig is the declarative description of a flowsheet.
type FlowsheetConfig struct {
	// Name is the process name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Model is the default equation of state for fluids (pr, pr78, srk).
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// MixingRule is the default mixing rule for fluids.
	MixingRule string `json:"mixing_rule,omitempty" yaml:"mixing_rule,omitempty"`

	// Ordering selects registration or topological evaluation order.
	Ordering string `json:"ordering,omitempty" yaml:"ordering,omitempty" validate:"omitempty,oneof=registration topological topo"`

	// MaxPasses overrides the pass cap derived from the recycles.
	MaxPasses int `json:"max_passes,omitempty" yaml:"max_passes,omitempty" validate:"gte=0"`

	// Fluids are named fluid definitions referenced by feed streams.
	Fluids map[string]FluidConfig `json:"fluids,omitempty" yaml:"fluids,omitempty" validate:"dive"`

	// Units are the equipment nodes in registration order.
	Units []UnitConfig `json:"units" yaml:"units" validate:"required,min=1,dive"`
}

// FluidConfig describes a fluid by its defined components and petroleum cuts.
type FluidConfig struct {
	// Model overrides the flowsheet model.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// MixingRule overrides the flowsheet mixing rule.
	MixingRule string `json:"mixing_rule,omitempty" yaml:"mixing_rule,omitempty"`

	// MultiPhaseCheck enables the free-water phase split.
	MultiPhaseCheck bool `json:"multi_phase_check,omitempty" yaml:"multi_phase_check,omitempty"`

	Components []characterization.Component `json:"components,omitempty" yaml:"components,omitempty" validate:"dive"`
	Cuts       []characterization.Cut       `json:"cuts,omitempty" yaml:"cuts,omitempty" validate:"dive"`

	// LumpCount is the default number of pseudo-components a plus fraction
	// is lumped into.
	LumpCount int `json:"lump_count,omitempty" yaml:"lump_count,omitempty" validate:"gte=0"`
}

// Table returns the characterization table of the fluid.
func (f FluidConfig) Table() characterization.Table {
	return characterization.Table{Components: f.Components, Cuts: f.Cuts}
}

// Quantity is a number with its unit. An empty unit means canonical.
type Quantity struct {
	Value float64 `json:"value" yaml:"value"`
	Unit  string  `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Q is shorthand for a Quantity.
func Q(value float64, unit string) *Quantity {
	return &Quantity{Value: value, Unit: unit}
}

// UnitConfig describes one equipment node. Which settings apply depends on
// Type; settings that do not apply to the type are rejected.
type UnitConfig struct {
	// Name is the unique unit name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Type is the unit kind, for example "valve" or "three_phase_separator".
	Type string `json:"type" yaml:"type" validate:"required"`

	// Inlets reference streams as "unit" or "unit.port". A bare unit name
	// resolves to a feed stream or to the single outlet of a unit.
	Inlets []string `json:"inlets,omitempty" yaml:"inlets,omitempty"`

	// Fluid names the fluid definition of a feed stream.
	Fluid string `json:"fluid,omitempty" yaml:"fluid,omitempty"`

	// Temperature is the feed temperature or the heater outlet temperature.
	Temperature *Quantity `json:"temperature,omitempty" yaml:"temperature,omitempty"`

	// Pressure is the feed pressure or the outlet pressure of a valve or
	// turbomachine.
	Pressure *Quantity `json:"pressure,omitempty" yaml:"pressure,omitempty"`

	// Flow is the feed flow rate, molar or mass.
	Flow *Quantity `json:"flow,omitempty" yaml:"flow,omitempty"`

	Duty         *Quantity `json:"duty,omitempty" yaml:"duty,omitempty"`
	PressureDrop *Quantity `json:"pressure_drop,omitempty" yaml:"pressure_drop,omitempty"`

	// Efficiency is the isentropic efficiency of a turbomachine.
	Efficiency *float64 `json:"efficiency,omitempty" yaml:"efficiency,omitempty" validate:"omitempty,gt=0,lte=1"`

	// Curve and Speed set a turbomachine performance curve.
	Curve []process.SpeedLine `json:"curve,omitempty" yaml:"curve,omitempty"`
	Speed float64             `json:"speed,omitempty" yaml:"speed,omitempty" validate:"gte=0"`

	Kv         *float64 `json:"kv,omitempty" yaml:"kv,omitempty" validate:"omitempty,gt=0"`
	Isentropic bool     `json:"isentropic,omitempty" yaml:"isentropic,omitempty"`

	Fractions          []float64   `json:"fractions,omitempty" yaml:"fractions,omitempty"`
	ComponentFractions [][]float64 `json:"component_fractions,omitempty" yaml:"component_fractions,omitempty"`

	Tolerance     *float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty" validate:"omitempty,gt=0"`
	MaxIterations *int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty" validate:"omitempty,gt=0"`
	Acceleration  string   `json:"acceleration,omitempty" yaml:"acceleration,omitempty" validate:"omitempty,oneof=none direct wegstein"`

	Measurement string `json:"measurement,omitempty" yaml:"measurement,omitempty"`

	Script string                 `json:"script,omitempty" yaml:"script,omitempty"`
	Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
}

// ParsedConfig is the result of parsing flowsheet sources.
type ParsedConfig struct {
	// Flowsheet is the decoded flowsheet; nil when parsing failed.
	Flowsheet *FlowsheetConfig `json:"flowsheet,omitempty"`

	// SourceFiles are the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the configuration path to the error (e.g., "units[2].pressure").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

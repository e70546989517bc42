package pvt

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/procsim/pkg/faults"
)

// Kind is the closed set of experiments.
type Kind int

const (
	KindCME Kind = iota
	KindCVD
	KindDifferentialLiberation
	KindSeparatorTest
	KindSwelling
	KindViscosity
	KindGOR
	KindSaturationPressure
)

var kindNames = map[Kind]string{
	KindCME:                    "cme",
	KindCVD:                    "cvd",
	KindDifferentialLiberation: "differential-liberation",
	KindSeparatorTest:          "separator-test",
	KindSwelling:               "swelling",
	KindViscosity:              "viscosity",
	KindGOR:                    "gor",
	KindSaturationPressure:     "saturation-pressure",
}

var kindAliases = map[string]Kind{
	"dl":         KindDifferentialLiberation,
	"separator":  KindSeparatorTest,
	"saturation": KindSaturationPressure,
	"psat":       KindSaturationPressure,
}

// String returns the experiment name.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseKind maps an experiment name onto a Kind.
func ParseKind(name string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == key {
			return k, nil
		}
	}
	if k, ok := kindAliases[key]; ok {
		return k, nil
	}
	return 0, faults.NewConfigurationError(fmt.Sprintf("unknown experiment %q", name), nil).
		WithCode(faults.ErrCodeInvalidParameter)
}

// Index names of Result.Points.
const (
	IndexPressure      = "pressure_bara"
	IndexTemperature   = "temperature_k"
	IndexStagePressure = "stage_pressure_bara"
	IndexGasFraction   = "gas_mole_fraction"
)

// Column names.
const (
	ColRelativeVolume     = "relative_volume"
	ColZ                  = "z"
	ColYFunction          = "y_function"
	ColDensity            = "density"
	ColLiquidDropout      = "liquid_dropout"
	ColGasZ               = "gas_z"
	ColCumulativeProduced = "cumulative_produced"
	ColBo                 = "bo"
	ColRs                 = "rs"
	ColBg                 = "bg"
	ColOilDensity         = "oil_density"
	ColGasGravity         = "gas_gravity"
	ColGOR                = "gor"
	ColSaturationPressure = "saturation_pressure"
	ColSwellingFactor     = "swelling_factor"
	ColGasViscosity       = "gas_viscosity"
	ColOilViscosity       = "oil_viscosity"
)

// Summary keys.
const (
	SummarySaturationPressure = "saturation_pressure"
	SummaryBo                 = "bo"
	SummaryGOR                = "gor"
	SummaryStockTankDensity   = "stock_tank_density"
	SummaryInitialRs          = "rs_initial"
)

// ReferencePoint is the PointError index of failures outside the sweep,
// such as the saturation reference or the stock tank flash.
const ReferencePoint = -1

// Column is one output sequence aligned with Result.Points.
type Column struct {
	Name   string    `json:"name" msgpack:"name"`
	Unit   string    `json:"unit,omitempty" msgpack:"unit,omitempty"`
	Values []float64 `json:"values" msgpack:"values"`
}

// PointError records a failed point.
type PointError struct {
	Index   int     `json:"index" msgpack:"index"`
	Point   float64 `json:"point" msgpack:"point"`
	Message string  `json:"error" msgpack:"error"`
	Err     error   `json:"-" msgpack:"-"`
}

// Error implements the error interface.
func (e PointError) Error() string {
	if e.Index == ReferencePoint {
		return fmt.Sprintf("reference point %g: %s", e.Point, e.Message)
	}
	return fmt.Sprintf("point %d (%g): %s", e.Index, e.Point, e.Message)
}

// Unwrap returns the underlying error.
func (e PointError) Unwrap() error {
	return e.Err
}

// Result is the tabulated output of one experiment.
type Result struct {
	ID          string             `json:"id" msgpack:"id"`
	Name        string             `json:"name,omitempty" msgpack:"name,omitempty"`
	Kind        Kind               `json:"kind" msgpack:"kind"`
	Temperature float64            `json:"temperature_k" msgpack:"temperature_k"`
	Index       string             `json:"index" msgpack:"index"`
	Points      []float64          `json:"points" msgpack:"points"`
	Columns     []Column           `json:"columns" msgpack:"columns"`
	Summary     map[string]float64 `json:"summary,omitempty" msgpack:"summary,omitempty"`
	Errors      []PointError       `json:"errors,omitempty" msgpack:"errors,omitempty"`
	Started     time.Time          `json:"started" msgpack:"started"`
	Elapsed     time.Duration      `json:"elapsed" msgpack:"elapsed"`
}

func newResult(kind Kind, index string, points []float64, columns ...Column) *Result {
	res := &Result{
		ID:          uuid.New().String(),
		Kind:        kind,
		Temperature: math.NaN(),
		Index:       index,
		Points:      append([]float64(nil), points...),
		Summary:     make(map[string]float64),
		Started:     time.Now(),
	}
	for _, c := range columns {
		c.Values = make([]float64, len(points))
		for i := range c.Values {
			c.Values[i] = math.NaN()
		}
		res.Columns = append(res.Columns, c)
	}
	return res
}

// Column returns the values of the named column, or nil.
func (r *Result) Column(name string) []float64 {
	for _, c := range r.Columns {
		if c.Name == name {
			return c.Values
		}
	}
	return nil
}

// Failed returns the number of failed points, not counting reference
// failures.
func (r *Result) Failed() int {
	n := 0
	for _, e := range r.Errors {
		if e.Index != ReferencePoint {
			n++
		}
	}
	return n
}

func (r *Result) set(name string, i int, v float64) {
	for k := range r.Columns {
		if r.Columns[k].Name == name {
			r.Columns[k].Values[i] = v
			return
		}
	}
}

// fail records a failed point and clears any values already set for it.
func (r *Result) fail(i int, point float64, err error) {
	if i >= 0 {
		for k := range r.Columns {
			r.Columns[k].Values[i] = math.NaN()
		}
	}
	r.Errors = append(r.Errors, PointError{Index: i, Point: point, Message: err.Error(), Err: err})
}

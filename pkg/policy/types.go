package policy

import (
	"time"

	"github.com/openfroyo/procsim/pkg/process"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for conditions an operator should review.
	SeverityWarning Severity = "warning"

	// SeverityError marks a result that is outside its operating envelope.
	SeverityError Severity = "error"

	// SeverityCritical marks a physically impossible or unsafe result.
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps text onto a Severity. Unknown text yields false.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return Severity(s), true
	}
	return "", false
}

// blocking reports whether violations of this severity reject a run.
func (s Severity) blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is an envelope rule written in Rego. The module must define a
// "deny" set in its package; each member is a message string or an object
// with message, severity, unit and stream fields.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	Enabled bool `json:"enabled"`

	Tags []string `json:"tags,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one deny result.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Unit names the offending unit, if any.
	Unit string `json:"unit,omitempty"`

	// Stream names the offending stream, if any.
	Stream string `json:"stream,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// Details carries any other fields of the deny object.
	Details map[string]interface{} `json:"details,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
}

// Result is the outcome of evaluating every enabled policy against one
// run report.
type Result struct {
	// Allowed is false when any violation is error or critical.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedAt       time.Time     `json:"evaluated_at"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Count returns the number of violations at the given severity.
func (r *Result) Count(s Severity) int {
	n := 0
	for i := range r.Violations {
		if r.Violations[i].Severity == s {
			n++
		}
	}
	return n
}

// Input is the document policies see as input.
type Input struct {
	Report  process.Report `json:"report"`
	Context *Context       `json:"context"`
}

// Context describes the evaluation.
type Context struct {
	// Operation is what produced the report, e.g. "run" or "watch".
	Operation string `json:"operation,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Limits are site-specific envelope limits read by the built-in
	// policies, e.g. "max_pressure_bara" or "min_temperature_k".
	Limits map[string]float64 `json:"limits,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Bundle is a versioned collection of policies stored as one JSON file.
type Bundle struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Policies    []Policy  `json:"policies"`
	CreatedAt   time.Time `json:"created_at"`
}

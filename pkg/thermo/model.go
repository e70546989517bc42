package thermo

import (
	"fmt"
	"strings"

	"github.com/openfroyo/procsim/pkg/faults"
)

// Model is the closed set of equation-of-state models a fluid can be built with.
type Model int

const (
	ModelUnknown Model = iota
	// ModelPR is Peng-Robinson (1976).
	ModelPR
	// ModelPR78 is Peng-Robinson with the 1978 alpha correction for heavy components.
	ModelPR78
	// ModelSRK is Soave-Redlich-Kwong.
	ModelSRK
)

var modelNames = map[Model]string{
	ModelPR:   "pr",
	ModelPR78: "pr78",
	ModelSRK:  "srk",
}

// modelAliases maps configuration text onto models.
var modelAliases = map[string]Model{
	"pr":                  ModelPR,
	"peng-robinson":       ModelPR,
	"pr76":                ModelPR,
	"pr78":                ModelPR78,
	"peng-robinson-1978":  ModelPR78,
	"srk":                 ModelSRK,
	"soave-redlich-kwong": ModelSRK,
}

// String returns the canonical model name.
func (m Model) String() string {
	if n, ok := modelNames[m]; ok {
		return n
	}
	return "unknown"
}

// Models returns every supported model in declaration order.
func Models() []Model {
	return []Model{ModelPR, ModelPR78, ModelSRK}
}

// ParseModel maps a model name onto the closed Model set.
func ParseModel(name string) (Model, error) {
	if m, ok := modelAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return m, nil
	}
	return ModelUnknown, faults.NewConfigurationError(fmt.Sprintf("unknown thermodynamic model %q", name), nil).
		WithCode(faults.ErrCodeUnknownModel)
}

// MixingRule is the closed set of mixing rules for the attraction parameter.
type MixingRule int

const (
	// MixingClassic is the van der Waals one-fluid rule with zero interaction parameters.
	MixingClassic MixingRule = iota
	// MixingClassicBIP is the van der Waals rule with tabulated binary interaction parameters.
	MixingClassicBIP
)

// String returns the rule name.
func (r MixingRule) String() string {
	switch r {
	case MixingClassicBIP:
		return "classic-bip"
	default:
		return "classic"
	}
}

// ParseMixingRule maps configuration text onto a MixingRule. Numeric codes
// 1 and 2 are accepted for compatibility with existing flowsheet files.
func ParseMixingRule(name string) (MixingRule, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "classic", "1":
		return MixingClassic, nil
	case "classic-bip", "bip", "2":
		return MixingClassicBIP, nil
	}
	return MixingClassic, faults.NewConfigurationError(fmt.Sprintf("unknown mixing rule %q", name), nil).
		WithCode(faults.ErrCodeInvalidParameter)
}

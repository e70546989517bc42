package characterization

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// DefaultLumpCount is the number of pseudo-components a plus fraction is
// lumped into when its cut does not say.
const DefaultLumpCount = 6

// Result is the outcome of characterizing a table.
type Result struct {
	// Components are the defined components, in table order.
	Components []Component `json:"components"`
	// Pseudo are the pseudo-components handed to the fluid, in table order
	// with each plus fraction replaced by its lumps.
	Pseudo []thermo.PseudoComponent `json:"pseudo"`
	// Split holds the single carbon number cuts of each plus fraction
	// before lumping, keyed by the plus fraction name.
	Split map[string][]thermo.PseudoComponent `json:"split,omitempty"`
}

// Characterizer converts tables into engine components.
type Characterizer struct {
	logger    zerolog.Logger
	lumps     int
	maxCarbon int
}

// Option configures a Characterizer.
type Option func(*Characterizer)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Characterizer) { c.logger = l }
}

// WithLumpCount sets the default number of lumps per plus fraction. Zero
// keeps the split cuts unlumped.
func WithLumpCount(n int) Option {
	return func(c *Characterizer) { c.lumps = n }
}

// WithMaxCarbonNumber sets the last carbon number of a plus fraction split.
func WithMaxCarbonNumber(n int) Option {
	return func(c *Characterizer) { c.maxCarbon = n }
}

// New creates a Characterizer.
func New(opts ...Option) *Characterizer {
	c := &Characterizer{
		logger:    zerolog.Nop(),
		lumps:     DefaultLumpCount,
		maxCarbon: DefaultMaxCarbonNumber,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Characterize validates the table, splits and lumps plus fractions and
// estimates missing molar masses of TBP cuts.
func (c *Characterizer) Characterize(table Table) (*Result, error) {
	res := &Result{Split: make(map[string][]thermo.PseudoComponent)}
	seen := make(map[string]bool)
	claim := func(name string) error {
		if seen[name] {
			return faults.NewConfigurationError(fmt.Sprintf("component %s listed twice", name), nil).
				WithCode(faults.ErrCodeDuplicateName)
		}
		seen[name] = true
		return nil
	}

	for _, comp := range table.Components {
		if comp.Name == "" || comp.Moles < 0 {
			return nil, faults.NewConfigurationError(fmt.Sprintf("invalid component %q with amount %g", comp.Name, comp.Moles), nil).
				WithCode(faults.ErrCodeInvalidParameter)
		}
		if err := claim(comp.Name); err != nil {
			return nil, err
		}
		res.Components = append(res.Components, comp)
	}

	for _, cut := range table.Cuts {
		pc, err := cut.Pseudo()
		if err != nil {
			return nil, err
		}
		if !pc.PlusFraction {
			if err := claim(pc.Name); err != nil {
				return nil, err
			}
			res.Pseudo = append(res.Pseudo, pc)
			continue
		}

		split, err := splitPlus(pc, c.maxCarbon)
		if err != nil {
			return nil, err
		}
		n := pc.LumpCount
		if n == 0 {
			n = c.lumps
		}
		lumps, err := lump(split, n)
		if err != nil {
			return nil, fmt.Errorf("lumping %s: %w", pc.Name, err)
		}
		for _, l := range lumps {
			if err := claim(l.Name); err != nil {
				return nil, err
			}
		}
		res.Split[pc.Name] = split
		res.Pseudo = append(res.Pseudo, lumps...)

		c.logger.Debug().
			Str("plus_fraction", pc.Name).
			Int("cuts", len(split)).
			Int("lumps", len(lumps)).
			Msg("Plus fraction characterized")
	}
	return res, nil
}

// Apply characterizes the table and adds the result to f.
func (c *Characterizer) Apply(f thermo.Fluid, table Table) (*Result, error) {
	res, err := c.Characterize(table)
	if err != nil {
		return nil, err
	}
	for _, comp := range res.Components {
		unit := comp.Unit
		if unit == "" {
			unit = "mol"
		}
		if err := f.AddComponent(comp.Name, comp.Moles, unit); err != nil {
			return nil, err
		}
	}
	for _, pc := range res.Pseudo {
		if err := f.AddPseudoComponent(pc); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// NewFluid creates a fluid at the given conditions and characterizes table
// into it.
func (c *Characterizer) NewFluid(e thermo.Engine, m thermo.Model, table Table, t, p thermo.Value) (thermo.Fluid, *Result, error) {
	f, err := thermo.NewFluidAt(e, m, t, p)
	if err != nil {
		return nil, nil, err
	}
	res, err := c.Apply(f, table)
	if err != nil {
		return nil, nil, err
	}
	return f, res, nil
}

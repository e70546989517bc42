package commands

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/procsim/pkg/config"
	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/pvt"
	"github.com/openfroyo/procsim/pkg/stores"
	"github.com/openfroyo/procsim/pkg/thermo"
)

func newPVTCommand() *cobra.Command {
	var (
		feed         string
		gas          string
		cond         pvt.Conditions
		temperatures []float64
		stages       []string
		fractions    []float64
		workers      int
	)

	cmd := &cobra.Command{
		Use:   "pvt <kind>[,<kind>...] <flowsheet>...",
		Short: "Run PVT experiments on a feed fluid",
		Long: `Run laboratory PVT experiments on the fluid of a feed stream.

Kinds: cme, cvd, differential-liberation (dl), separator-test (separator),
swelling, viscosity, gor, saturation-pressure (psat). Several kinds run
concurrently. Results are stored in the history database.`,
		Example: `  # Constant mass expansion at 100 C
  procsim pvt cme fluid.cue --feed reservoir --temperature 100 --temperature-unit C \
    --pressures 400,300,250,200,150,100

  # Three-stage separator test
  procsim pvt separator-test fluid.cue --feed reservoir --temperature 373.15 \
    --stage 30@320 --stage 5@300

  # Swelling with an injection gas from another feed
  procsim pvt swelling fluid.cue --feed oil --gas injection --temperature 373.15 \
    --fractions 0,0.1,0.2,0.3`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var kinds []pvt.Kind
			for _, name := range strings.Split(args[0], ",") {
				k, err := pvt.ParseKind(name)
				if err != nil {
					return err
				}
				kinds = append(kinds, k)
			}
			parsedStages, err := parseStages(stages)
			if err != nil {
				return err
			}

			s, err := openSession(ctx, sessionOptions{store: true})
			if err != nil {
				return err
			}
			defer s.Close()

			fs, err := s.loadAndBuild(ctx, args[1:])
			if err != nil {
				return err
			}
			fluid, err := feedFluid(fs, feed)
			if err != nil {
				return err
			}
			var injection thermo.Fluid
			if gas != "" {
				if injection, err = feedFluid(fs, gas); err != nil {
					return err
				}
			}

			exps := make([]pvt.Experiment, len(kinds))
			for i, k := range kinds {
				exps[i] = pvt.Experiment{
					Name:         fmt.Sprintf("%s/%s", feed, k),
					Kind:         k,
					Fluid:        fluid,
					Conditions:   cond,
					Stages:       parsedStages,
					InjectionGas: injection,
					GasFractions: fractions,
					Temperatures: temperatures,
				}
			}

			opts := s.tel.PVTOptions()
			if workers > 0 {
				opts = append(opts, pvt.WithWorkers(workers))
			}
			if s.store != nil {
				opts = append(opts, pvt.WithObserver(stores.NewRecorder(s.store, s.logger, strings.Join(args[1:], ","))))
			}
			results, runErr := pvt.NewRunner(opts...).RunBatch(ctx, exps)

			w := cmd.OutOrStdout()
			if jsonOutput {
				views := make([]resultView, 0, len(results))
				for _, res := range results {
					if res != nil {
						views = append(views, newResultView(res))
					}
				}
				if err := printJSON(w, views); err != nil {
					return err
				}
			} else {
				for _, res := range results {
					if res != nil {
						printResult(w, res)
					}
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&feed, "feed", "", "feed stream whose fluid is tested (required)")
	cmd.Flags().StringVar(&gas, "gas", "", "feed stream holding the injection gas of a swelling test")
	cmd.Flags().Float64SliceVar(&cond.Pressures, "pressures", nil, "sweep pressures")
	cmd.Flags().StringVar(&cond.PressureUnit, "pressure-unit", "bara", "unit of the sweep pressures")
	cmd.Flags().Float64Var(&cond.Temperature, "temperature", 0, "experiment temperature")
	cmd.Flags().StringVar(&cond.TemperatureUnit, "temperature-unit", "K", "unit of the temperatures")
	cmd.Flags().Float64SliceVar(&temperatures, "temperatures", nil, "temperatures of a saturation pressure sweep")
	cmd.Flags().StringArrayVar(&stages, "stage", nil, "separator stage as <bara>@<K>, repeatable")
	cmd.Flags().Float64SliceVar(&fractions, "fractions", nil, "injected gas mole fractions of a swelling test")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent experiments (default: one per CPU)")
	_ = cmd.MarkFlagRequired("feed")

	return cmd
}

// feedFluid returns the fluid of a feed stream of the flowsheet.
func feedFluid(fs *config.Flowsheet, name string) (thermo.Fluid, error) {
	st, ok := fs.Stream(name)
	if !ok || st.Fluid() == nil {
		return nil, faults.NewConfigurationError(
			fmt.Sprintf("no feed stream %q, have %s", name, strings.Join(fs.StreamNames(), ", ")), nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}
	return st.Fluid(), nil
}

// parseStages reads separator stages written as <bara>@<K>.
func parseStages(specs []string) ([]pvt.Stage, error) {
	out := make([]pvt.Stage, 0, len(specs))
	for _, spec := range specs {
		p, t, ok := strings.Cut(spec, "@")
		if !ok {
			return nil, fmt.Errorf("stage %q: want <bara>@<K>", spec)
		}
		pv, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", spec, err)
		}
		tv, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", spec, err)
		}
		out = append(out, pvt.Stage{Pressure: pv, Temperature: tv})
	}
	return out, nil
}

// resultView is a PVT result with absent values as null.
type resultView struct {
	ID      string                `json:"id"`
	Name    string                `json:"name,omitempty"`
	Kind    string                `json:"kind"`
	Index   string                `json:"index"`
	Points  []float64             `json:"points"`
	Columns map[string][]*float64 `json:"columns"`
	Summary map[string]float64    `json:"summary,omitempty"`
	Errors  []pvt.PointError      `json:"errors,omitempty"`
}

func newResultView(res *pvt.Result) resultView {
	v := resultView{
		ID:      res.ID,
		Name:    res.Name,
		Kind:    res.Kind.String(),
		Index:   res.Index,
		Points:  res.Points,
		Columns: make(map[string][]*float64, len(res.Columns)),
		Summary: make(map[string]float64, len(res.Summary)),
		Errors:  res.Errors,
	}
	for _, c := range res.Columns {
		vals := make([]*float64, len(c.Values))
		for i, x := range c.Values {
			if !math.IsNaN(x) && !math.IsInf(x, 0) {
				x := x
				vals[i] = &x
			}
		}
		v.Columns[c.Name] = vals
	}
	for k, x := range res.Summary {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			v.Summary[k] = x
		}
	}
	return v
}

func printResult(w io.Writer, res *pvt.Result) {
	title(w, fmt.Sprintf("%s  %s  (%d points, %d failed)", res.Kind, res.Name, len(res.Points), res.Failed()))

	headers := []string{res.Index}
	for _, c := range res.Columns {
		h := c.Name
		if c.Unit != "" {
			h += " [" + c.Unit + "]"
		}
		headers = append(headers, h)
	}
	rows := make([][]string, len(res.Points))
	for i, pt := range res.Points {
		row := []string{num(pt)}
		for _, c := range res.Columns {
			row = append(row, num(c.Values[i]))
		}
		rows[i] = row
	}
	printTable(w, headers, rows)

	if len(res.Summary) > 0 {
		keys := make([]string, 0, len(res.Summary))
		for k := range res.Summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s = %s\n", k, num(res.Summary[k]))
		}
	}
	for _, e := range res.Errors {
		fmt.Fprintln(w, status("  "+e.Error(), false))
	}
}

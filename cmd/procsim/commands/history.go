package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs, PVT results and events",
		Long: `Query the history database written by run, watch and pvt.

The database is selected with --db or PROCSIM_DB.`,
	}
	cmd.AddCommand(
		newHistoryRunsCommand(),
		newHistoryShowCommand(),
		newHistoryPVTCommand(),
		newHistoryPVTShowCommand(),
		newHistoryEventsCommand(),
	)
	return cmd
}

func newHistoryRunsCommand() *cobra.Command {
	var (
		processName string
		limit       int
		offset      int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, sessionOptions{requireStore: true})
			if err != nil {
				return err
			}
			defer s.Close()

			var filter *string
			if processName != "" {
				filter = &processName
			}
			runs, err := s.store.ListRuns(ctx, filter, limit, offset)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, runs)
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.ID, r.Process,
					status(string(r.Status), r.Status == stores.RunStatusCompleted),
					r.StartedAt.Local().Format(time.DateTime),
					strconv.Itoa(r.Passes), strconv.Itoa(r.Units), strconv.Itoa(r.Recycles),
				})
			}
			if len(rows) == 0 {
				fmt.Fprintln(w, "no runs recorded")
				return nil
			}
			printTable(w, []string{"id", "process", "status", "started", "passes", "units", "recycles"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&processName, "process", "", "only runs of this process")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many rows")
	return cmd
}

// runDetail is everything recorded about one run.
type runDetail struct {
	Run      *stores.Run            `json:"run"`
	Units    []*stores.UnitResult   `json:"units"`
	Recycles []*stores.RecyclePass  `json:"recycle_passes"`
	Streams  []process.StreamReport `json:"streams"`
	Events   []*stores.Event        `json:"events"`
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its units, recycles, streams and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, sessionOptions{requireStore: true})
			if err != nil {
				return err
			}
			defer s.Close()

			id := args[0]
			d := runDetail{}
			if d.Run, err = s.store.GetRun(ctx, id); err != nil {
				return err
			}
			if d.Units, err = s.store.ListUnitResults(ctx, id); err != nil {
				return err
			}
			if d.Recycles, err = s.store.ListRecyclePasses(ctx, id); err != nil {
				return err
			}
			if d.Streams, err = s.store.ListStreamStates(ctx, id); err != nil {
				return err
			}
			if d.Events, err = s.store.GetEvents(ctx, &id, nil, -1, 0); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, d)
			}
			printRunDetail(w, d)
			return nil
		},
	}
}

func printRunDetail(w io.Writer, d runDetail) {
	r := d.Run
	title(w, fmt.Sprintf("%s  run %s", r.Process, r.ID))
	fmt.Fprintf(w, "status   %s\n", status(string(r.Status), r.Status == stores.RunStatusCompleted))
	fmt.Fprintf(w, "started  %s\n", r.StartedAt.Local().Format(time.DateTime))
	if r.CompletedAt != nil {
		fmt.Fprintf(w, "elapsed  %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	if r.Source != "" {
		fmt.Fprintf(w, "source   %s\n", r.Source)
	}
	fmt.Fprintf(w, "passes   %d\n", r.Passes)
	if r.Error != nil {
		fmt.Fprintln(w, status("error    "+*r.Error, false))
	}

	units := make([][]string, 0, len(d.Units))
	for _, u := range d.Units {
		msg := ""
		if u.Error != nil {
			msg = *u.Error
		}
		units = append(units, []string{strconv.Itoa(u.Pass), u.Unit, u.UnitType, u.Elapsed.String(), msg})
	}
	printTable(w, []string{"pass", "unit", "type", "elapsed", "error"}, units)

	passes := make([][]string, 0, len(d.Recycles))
	for _, p := range d.Recycles {
		residual := "-"
		if p.Residual != nil {
			residual = num(*p.Residual)
		}
		passes = append(passes, []string{
			strconv.Itoa(p.Pass), p.Recycle, strconv.Itoa(p.Iterations), residual,
			num(p.Tolerance), status(strconv.FormatBool(p.Converged), p.Converged),
		})
	}
	printTable(w, []string{"pass", "recycle", "iterations", "residual", "tolerance", "converged"}, passes)

	streams := make([][]string, 0, len(d.Streams))
	for _, st := range d.Streams {
		if st.Empty {
			streams = append(streams, []string{st.Name, "-", "-", "-", "empty"})
			continue
		}
		streams = append(streams, []string{st.Name, num(st.TemperatureK), num(st.PressureBara), num(st.MolarFlow), fmt.Sprint(st.Phases)})
	}
	printTable(w, []string{"stream", "T [K]", "P [bara]", "mol/s", "phases"}, streams)

	printEvents(w, d.Events)
}

func printEvents(w io.Writer, events []*stores.Event) {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		run := ""
		if e.RunID != nil {
			run = *e.RunID
		}
		rows = append(rows, []string{
			e.Timestamp.Local().Format(time.DateTime),
			status(string(e.Level), e.Level != stores.EventLevelError && e.Level != stores.EventLevelWarning),
			run, e.Message,
		})
	}
	printTable(w, []string{"time", "level", "run", "message"}, rows)
}

func newHistoryPVTCommand() *cobra.Command {
	var (
		kind   string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "pvt",
		Short: "List stored PVT experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, sessionOptions{requireStore: true})
			if err != nil {
				return err
			}
			defer s.Close()

			var filter *string
			if kind != "" {
				filter = &kind
			}
			exps, err := s.store.ListPVTExperiments(ctx, filter, limit, offset)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, exps)
			}
			rows := make([][]string, 0, len(exps))
			for _, e := range exps {
				temp := "-"
				if e.Temperature != nil {
					temp = num(*e.Temperature)
				}
				rows = append(rows, []string{
					e.ID, e.Name, e.Kind, temp,
					status(strconv.Itoa(e.FailedPoints), e.FailedPoints == 0),
					e.StartedAt.Local().Format(time.DateTime),
				})
			}
			if len(rows) == 0 {
				fmt.Fprintln(w, "no PVT experiments recorded")
				return nil
			}
			printTable(w, []string{"id", "name", "kind", "T [K]", "failed", "started"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only experiments of this kind")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many rows")
	return cmd
}

func newHistoryPVTShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pvt-show <experiment-id>",
		Short: "Show a stored PVT result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, sessionOptions{requireStore: true})
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.store.GetPVTResult(ctx, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, newResultView(res))
			}
			printResult(w, res)
			return nil
		},
	}
}

func newHistoryEventsCommand() *cobra.Command {
	var (
		runID  string
		level  string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, sessionOptions{requireStore: true})
			if err != nil {
				return err
			}
			defer s.Close()

			var (
				runFilter   *string
				levelFilter *stores.EventLevel
			)
			if runID != "" {
				runFilter = &runID
			}
			if level != "" {
				l := stores.EventLevel(level)
				levelFilter = &l
			}
			events, err := s.store.GetEvents(ctx, runFilter, levelFilter, limit, offset)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(w, "no events recorded")
				return nil
			}
			printEvents(w, events)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only events of this run")
	cmd.Flags().StringVar(&level, "level", "", "only events of this level: debug, info, warning or error")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many rows")
	return cmd
}

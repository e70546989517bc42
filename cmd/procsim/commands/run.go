package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/procsim/pkg/checkpoint"
	"github.com/openfroyo/procsim/pkg/policy"
	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/stores"
)

// runOptions are the flags shared by run and watch.
type runOptions struct {
	policies   []string
	limits     map[string]string
	warmStart  bool
	checkpoint bool
	timeout    time.Duration
	ordering   string
	maxPasses  int
}

func (o *runOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&o.policies, "policy", nil, "Rego policy files or directories")
	cmd.Flags().StringToStringVar(&o.limits, "limit", nil, "envelope limits, e.g. max_pressure_bara=150")
	cmd.Flags().BoolVar(&o.warmStart, "warm-start", true, "seed recycles from the latest checkpoint")
	cmd.Flags().BoolVar(&o.checkpoint, "checkpoint", true, "store a checkpoint after a converged run")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "stop waiting for the run after this long (0 waits)")
	cmd.Flags().StringVar(&o.ordering, "ordering", "", "evaluation order: registration or topological")
	cmd.Flags().IntVar(&o.maxPasses, "max-passes", 0, "override the pass cap")
}

func (o *runOptions) parsedLimits() (map[string]float64, error) {
	out := make(map[string]float64, len(o.limits))
	for k, v := range o.limits {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("limit %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

// runOutcome is what one run produced.
type runOutcome struct {
	Report   process.Report `json:"report"`
	Policy   *policy.Result `json:"policy,omitempty"`
	Restored int            `json:"restored_recycles,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func newRunCommand() *cobra.Command {
	var (
		opts        runOptions
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run <flowsheet>...",
		Short: "Build and solve a flowsheet",
		Long: `Build a flowsheet from CUE or YAML sources and solve it.

The run is recorded in the history database together with the final
stream states. Recycles are seeded from the latest checkpoint of the same
process, and a converged run stores a new checkpoint. The report is then
checked against the built-in and user envelope policies.`,
		Example: `  # Solve a flowsheet
  procsim run ./plant/let-down.cue

  # Check against a site pressure limit
  procsim run plant.cue --limit max_pressure_bara=120 --policy ./policies

  # Serve metrics while running and give up waiting after 30s
  procsim run plant.cue --metrics-addr :9090 --timeout 30s`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			limits, err := opts.parsedLimits()
			if err != nil {
				return err
			}

			s, err := openSession(ctx, sessionOptions{metricsAddr: metricsAddr, store: true})
			if err != nil {
				return err
			}
			defer s.Close()

			engine, err := newPolicyEngine(ctx, opts.policies, limits)
			if err != nil {
				return err
			}

			out, runErr := s.runOnce(ctx, args, engine, opts)
			if out == nil {
				return runErr
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(w, out); err != nil {
					return err
				}
			} else {
				printReport(w, out.Report)
				printPolicyResult(w, out.Policy)
			}
			if runErr != nil {
				return runErr
			}
			if out.Policy != nil && !out.Policy.Allowed {
				return errPolicyBlocked
			}
			return nil
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// runOnce builds, solves and checks a flowsheet. A nil outcome means the
// flowsheet could not be built; otherwise the outcome is returned together
// with the run error.
func (s *session) runOnce(ctx context.Context, sources []string, engine *policy.Engine, opts runOptions) (*runOutcome, error) {
	extra, err := processOptions(opts.ordering, opts.maxPasses)
	if err != nil {
		return nil, err
	}
	fs, err := s.loadAndBuild(ctx, sources, extra...)
	if err != nil {
		return nil, err
	}
	p := fs.Process
	out := &runOutcome{}

	if opts.warmStart && s.store != nil && len(p.Recycles()) > 0 {
		n, err := checkpoint.WarmStart(ctx, s.store, p)
		if err != nil {
			log.Warn().Err(err).Str("process", p.Name()).Msg("Warm start skipped")
		} else if n > 0 {
			out.Restored = n
			log.Info().Int("recycles", n).Str("process", p.Name()).Msg("Recycles seeded from checkpoint")
		}
	}

	runErr := runWithTimeout(ctx, p, opts.timeout)
	out.Report = p.Report()
	if runErr != nil {
		out.Error = runErr.Error()
	}
	runID := out.Report.Run.ID

	if s.store != nil && runID != "" {
		if err := s.store.SaveStreamStates(ctx, runID, out.Report.Streams); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("Saving stream states failed")
		}
	}

	if engine != nil {
		res, err := engine.Evaluate(ctx, out.Report)
		if err != nil {
			log.Warn().Err(err).Msg("Policy evaluation failed")
		} else {
			out.Policy = res
			s.tel.RecordPolicyResult(runID, res)
			s.recordViolations(ctx, runID, res)
		}
	}

	if opts.checkpoint && runErr == nil && s.store != nil && len(p.Recycles()) > 0 {
		if _, err := checkpoint.Save(ctx, s.store, p); err != nil {
			log.Warn().Err(err).Msg("Saving checkpoint failed")
		}
	}
	return out, runErr
}

// runWithTimeout runs p in the background and waits at most timeout. On
// timeout the run is cancelled and its outcome reported once it stops.
func runWithTimeout(ctx context.Context, p *process.Process, timeout time.Duration) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := p.RunAsync(runCtx)
	done, err := h.Wait(timeout)
	if done {
		return err
	}
	log.Warn().Dur("timeout", timeout).Str("process", p.Name()).Msg("Run still going, cancelling")
	cancel()
	<-h.Done()
	return timedOut(timeout, h.Err())
}

// timedOut reports the outcome of a run cancelled after timeout. A run
// that finished before the cancellation took effect succeeded.
func timedOut(timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("run exceeded %s: %w", timeout, err)
}

func (s *session) recordViolations(ctx context.Context, runID string, res *policy.Result) {
	if s.store == nil || runID == "" {
		return
	}
	for _, v := range res.Violations {
		level := stores.EventLevelWarning
		if v.Severity == policy.SeverityError || v.Severity == policy.SeverityCritical {
			level = stores.EventLevelError
		}
		ev := &stores.Event{RunID: &runID, Level: level, Message: fmt.Sprintf("policy %s: %s", v.Policy, v.Message)}
		if data, err := json.Marshal(v); err == nil {
			details := string(data)
			ev.Details = &details
		}
		if err := s.store.AppendEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Msg("Recording policy violation failed")
			return
		}
	}
}

package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/procsim/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var (
		opts        runOptions
		metricsAddr string
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <flowsheet>...",
		Short: "Re-solve a flowsheet whenever its sources change",
		Long: `Solve a flowsheet, then watch its source files and solve it again after
every change. Policy paths given with --policy are watched too and reloaded
without restarting. Stop with Ctrl-C.`,
		Example: `  # Iterate on a flowsheet with live metrics
  procsim watch plant.cue --metrics-addr :9090 --policy ./policies`,
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
			if len(opts.policies) > 0 {
				loader := policy.NewLoader(log.Logger)
				if err := loader.Watch(ctx, opts.policies, func(ps []policy.Policy) error {
					return engine.ReplacePolicies(ctx, ps)
				}); err != nil {
					return err
				}
			}

			solve := func() {
				out, runErr := s.runOnce(ctx, args, engine, opts)
				w := cmd.OutOrStdout()
				switch {
				case out == nil:
					fmt.Fprintln(w, status(runErr.Error(), false))
				case jsonOutput:
					_ = printJSON(w, out)
				default:
					printReport(w, out.Report)
					printPolicyResult(w, out.Policy)
					if runErr != nil {
						fmt.Fprintln(w, status(runErr.Error(), false))
					}
				}
				if err := s.tel.Tracer.ForceFlush(ctx); err != nil {
					log.Warn().Err(err).Msg("Exporting spans failed")
				}
			}
			solve()
			return watchSources(ctx, args, debounce, solve)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "wait this long after the last change")

	return cmd
}

// watchSources calls onChange after writes to any of sources settle. The
// parent directories are watched so that editors replacing files by rename
// are seen. It returns when ctx is done.
func watchSources(ctx context.Context, sources []string, debounce time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool, len(sources))
	dirs := make(map[string]bool)
	for _, src := range sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			return err
		}
		if _, err := os.Stat(abs); err != nil {
			return err
		}
		watched[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	log.Info().Int("files", len(watched)).Msg("Watching flowsheet sources")

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !watched[abs] {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Flowsheet source changed")
			timer.Reset(debounce)

		case <-timer.C:
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

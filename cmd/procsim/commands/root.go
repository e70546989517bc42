package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/procsim/pkg/faults"
)

var (
	// Global flags
	dbPath        string
	jsonOutput    bool
	noColor       bool
	traceExporter string
	otlpEndpoint  string
)

// errPolicyBlocked is returned when a blocking envelope violation is found.
var errPolicyBlocked = errors.New("operating envelope violated")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error onto the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errPolicyBlocked):
		return 4
	case faults.IsUnconverged(err):
		return 3
	case faults.IsConfiguration(err):
		return 2
	default:
		return 1
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "procsim",
		Short: "procsim - process flowsheet simulator",
		Long: `procsim builds steady-state process flowsheets from CUE or YAML
definitions and solves them with a cubic equation of state.

Features:
  - Equipment: valves, separators, compressors, pumps, heaters, mixers,
    splitters, recycles, measurement devices and Starlark units
  - Recycle convergence with direct substitution or Wegstein acceleration
  - PVT experiments: CME, CVD, differential liberation, separator tests,
    swelling, viscosity and GOR sweeps
  - Run history and warm-start checkpoints in SQLite
  - Operating envelope policies written in Rego`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultDB := os.Getenv("PROCSIM_DB")
	if defaultDB == "" {
		defaultDB = "procsim.db"
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "run history database (empty disables recording)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable styled output")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace", "", "export spans: stdout (to stderr) or otlp")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP gRPC collector, implies --trace otlp")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newPVTCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newExportCommand())

	return rootCmd
}

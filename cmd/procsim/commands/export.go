package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/procsim/pkg/config"
)

func newExportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <flowsheet>...",
		Short: "Write a flowsheet back out as a single YAML document",
		Long: `Build a flowsheet and write it back out as YAML. Sources split over
several CUE or YAML files are merged, defaults are filled in and unit
settings are read back from the built units.`,
		Example: `  # Merge a base and a site overlay into one file
  procsim export base.cue site.cue -o plant.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			fs, err := s.loadAndBuild(ctx, args)
			if err != nil {
				return err
			}
			cfg, err := fs.Export()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := config.MarshalYAML(cfg)
			if err != nil {
				return fmt.Errorf("encoding %s: %w", strings.Join(args, ","), err)
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")

	return cmd
}

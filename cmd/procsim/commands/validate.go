package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/procsim/pkg/config"
	"github.com/openfroyo/procsim/pkg/faults"
)

func newValidateCommand() *cobra.Command {
	var (
		schemaOnly bool
		policies   []string
	)

	cmd := &cobra.Command{
		Use:   "validate <flowsheet>...",
		Short: "Validate flowsheet definitions",
		Long: `Validate flowsheet definitions without solving them.

This command checks:
  - CUE and YAML syntax
  - Schema conformance and field constraints
  - Fluid definitions and characterization
  - Stream references, port wiring and evaluation order
  - That the given Rego policies compile`,
		Example: `  # Validate a flowsheet split across files
  procsim validate base.cue site.cue

  # Only check syntax and schema
  procsim validate --schema-only plant.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			log.Debug().Strs("sources", args).Bool("schema_only", schemaOnly).Msg("Validating flowsheet")

			parsed, err := config.NewCUEParser().Parse(ctx, args)
			if err != nil {
				return err
			}
			if len(parsed.Errors) > 0 {
				if jsonOutput {
					_ = printJSON(w, parsed.Errors)
				} else {
					for _, ve := range parsed.Errors {
						fmt.Fprintln(w, status(ve.String(), false))
					}
				}
				return faults.NewConfigurationError(
					fmt.Sprintf("%d validation errors", len(parsed.Errors)), nil).
					WithCode(faults.ErrCodeInvalidParameter)
			}
			if schemaOnly {
				fmt.Fprintln(w, status(fmt.Sprintf("%s: schema ok", parsed.Flowsheet.Name), true))
				return nil
			}

			s, err := openSession(ctx, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			fs, err := s.build(parsed.Flowsheet, strings.Join(args, ","))
			if err != nil {
				return err
			}
			order, err := fs.Process.Order()
			if err != nil {
				return err
			}
			if len(policies) > 0 {
				if _, err := newPolicyEngine(ctx, policies, nil); err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(w, map[string]interface{}{
					"process":  fs.Process.Name(),
					"sources":  parsed.SourceFiles,
					"order":    order,
					"recycles": len(fs.Process.Recycles()),
				})
			}
			fmt.Fprintln(w, status(fmt.Sprintf("%s: %d units, %d recycles", fs.Process.Name(), len(order), len(fs.Process.Recycles())), true))
			fmt.Fprintln(w, "order:", strings.Join(order, " -> "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&schemaOnly, "schema-only", false, "check syntax and schema without building")
	cmd.Flags().StringSliceVar(&policies, "policy", nil, "Rego policy files or directories to compile")

	return cmd
}

package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newGraphCommand() *cobra.Command {
	var (
		output    string
		orderOnly bool
		ordering  string
	)

	cmd := &cobra.Command{
		Use:   "graph <flowsheet>...",
		Short: "Render the flowsheet graph",
		Long: `Render the flowsheet as a Graphviz digraph. Recycle back edges are
drawn dashed. With --order only the evaluation order is printed.`,
		Example: `  # Render to SVG
  procsim graph plant.cue | dot -Tsvg > plant.svg

  # Show the topological evaluation order
  procsim graph plant.cue --order --ordering topological`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			extra, err := processOptions(ordering, 0)
			if err != nil {
				return err
			}
			fs, err := s.loadAndBuild(ctx, args, extra...)
			if err != nil {
				return err
			}

			var text string
			if orderOnly {
				order, err := fs.Process.Order()
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), order)
				}
				text = strings.Join(order, "\n") + "\n"
			} else {
				text, err = fs.Process.DOT()
				if err != nil {
					return err
				}
			}

			if output == "" || output == "-" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), text)
				return err
			}
			return os.WriteFile(output, []byte(text), 0o644)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&orderOnly, "order", false, "print the evaluation order instead of DOT")
	cmd.Flags().StringVar(&ordering, "ordering", "", "evaluation order: registration or topological")

	return cmd
}

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/unitforge/pkg/config"
	"github.com/openfroyo/unitforge/pkg/engine"
)

func newImportCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import <file.cue|dir>...",
		Short: "Import a curriculum definition",
		Long: `Import a course with its books and units from CUE files.

All sources are unified into one curriculum and checked against the built-in
schema before anything is written. Units whose images are listed in the
definition leave the creating stage on import.`,
		Example: `  # Import one file
  unitforge import course.cue

  # Check a directory of definitions without writing
  unitforge import ./curriculum --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := config.NewCUEParser().Parse(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !parsed.Valid() {
				for _, e := range parsed.Errors {
					fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
				}
				return engine.NewValidationError(fmt.Sprintf("curriculum has %d problems", len(parsed.Errors)))
			}
			if dryRun {
				if jsonOutput {
					return printJSON(out, parsed.Curriculum)
				}
				fmt.Fprintf(out, "✓ %s is valid: %d books\n", parsed.Curriculum.Course.Title, len(parsed.Curriculum.Books))
				return nil
			}

			return runApp(cmd, "import", appOptions{}, func(ctx context.Context, a *app) error {
				res, err := config.Import(ctx, a.store, &parsed.Curriculum, a.logger)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, res)
				}
				printCourse(out, res.Course)
				for i := range res.Books {
					printBook(out, &res.Books[i])
				}
				fmt.Fprintf(out, "\n✓ Imported %d books and %d units (%d ready to generate)\n", len(res.Books), res.Units, res.Ready)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only, write nothing")
	return cmd
}

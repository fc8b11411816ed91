package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/unitforge/pkg/engine"
	"github.com/openfroyo/unitforge/pkg/stores"
)

func newUnitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Manage units",
	}

	cmd.AddCommand(newUnitCreateCommand())
	cmd.AddCommand(newUnitListCommand())
	cmd.AddCommand(newUnitAttachImageCommand())
	cmd.AddCommand(newUnitShowCommand())
	cmd.AddCommand(newUnitHistoryCommand())
	cmd.AddCommand(newUnitArchiveCommand())

	return cmd
}

func newUnitCreateCommand() *cobra.Command {
	var (
		in       stores.NewUnit
		unitType string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Append a unit to a book",
		Long: `Append a unit to a book. The unit starts in the creating stage and moves to
vocab_pending once its required images are attached.`,
		Example: `  unitforge unit create --book <id> --type lexical --title "At the station" --images 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Type = engine.UnitType(unitType)
			return runApp(cmd, "unit.create", appOptions{}, func(ctx context.Context, a *app) error {
				unit, err := a.store.CreateUnit(ctx, &in)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), unit)
				}
				printUnit(cmd.OutOrStdout(), unit)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in.BookID, "book", "", "book ID")
	cmd.Flags().StringVar(&unitType, "type", "", "unit type (lexical or grammar)")
	cmd.Flags().StringVar(&in.Title, "title", "", "unit title")
	cmd.Flags().IntVar(&in.RequiredImages, "images", 1, "number of required images (1 or 2)")
	_ = cmd.MarkFlagRequired("book")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newUnitListCommand() *cobra.Command {
	var bookID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the units of a book",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "unit.list", appOptions{}, func(ctx context.Context, a *app) error {
				units, err := a.store.ListUnits(ctx, bookID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), units)
				}
				for i := range units {
					printUnit(cmd.OutOrStdout(), &units[i])
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&bookID, "book", "", "book ID")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}

func newUnitAttachImageCommand() *cobra.Command {
	var ref engine.ImageRef

	cmd := &cobra.Command{
		Use:     "attach-image <unit-id>",
		Short:   "Attach an image to a unit",
		Example: `  unitforge unit attach-image <id> --uri img/station.png --description "a busy platform"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "unit.attach-image", appOptions{}, func(ctx context.Context, a *app) error {
				unit, err := a.store.AttachImage(ctx, args[0], ref)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), unit)
				}
				printUnit(cmd.OutOrStdout(), unit)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ref.URI, "uri", "", "image URI")
	cmd.Flags().StringVar(&ref.Description, "description", "", "image description")
	_ = cmd.MarkFlagRequired("uri")
	return cmd
}

func newUnitShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <unit-id>",
		Short: "Show a unit and its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "unit.show", appOptions{}, func(ctx context.Context, a *app) error {
				unit, err := a.store.GetUnit(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), unit)
				}
				printUnitContent(cmd.OutOrStdout(), unit)
				return nil
			})
		},
	}
}

func newUnitHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <unit-id>",
		Short: "Show the status transitions of a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "unit.history", appOptions{}, func(ctx context.Context, a *app) error {
				history, err := a.store.ListTransitions(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), history)
				}
				for _, t := range history {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  v%-3d %s -> %s  %s\n",
						t.Timestamp.Format("2006-01-02 15:04:05"), t.Version, t.From, t.To, t.Reason)
				}
				return nil
			})
		},
	}
}

func newUnitArchiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <unit-id>",
		Short: "Archive a unit",
		Long:  `Archive a unit. It keeps its position in the book but no longer feeds the context of later units.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "unit.archive", appOptions{}, func(ctx context.Context, a *app) error {
				if err := a.store.ArchiveUnit(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Archived unit %s\n", args[0])
				return nil
			})
		},
	}
}

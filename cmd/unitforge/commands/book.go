package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/unitforge/pkg/engine"
	"github.com/openfroyo/unitforge/pkg/stores"
)

func newBookCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Manage books",
	}

	cmd.AddCommand(newBookCreateCommand())
	cmd.AddCommand(newBookListCommand())
	cmd.AddCommand(newBookArchiveCommand())

	return cmd
}

func newBookCreateCommand() *cobra.Command {
	var (
		in    stores.NewBook
		level string
	)

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Append a book to a course",
		Example: `  unitforge book create --course <id> --level A1 --title "Getting Around"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Level = engine.CEFRLevel(level)
			return runApp(cmd, "book.create", appOptions{}, func(ctx context.Context, a *app) error {
				book, err := a.store.CreateBook(ctx, &in)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), book)
				}
				printBook(cmd.OutOrStdout(), book)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in.CourseID, "course", "", "course ID")
	cmd.Flags().StringVar(&level, "level", "", "CEFR level, one of the course levels")
	cmd.Flags().StringVar(&in.Title, "title", "", "book title")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("level")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newBookListCommand() *cobra.Command {
	var courseID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the books of a course",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "book.list", appOptions{}, func(ctx context.Context, a *app) error {
				books, err := a.store.ListBooks(ctx, courseID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), books)
				}
				for i := range books {
					printBook(cmd.OutOrStdout(), &books[i])
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&courseID, "course", "", "course ID")
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

func newBookArchiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <book-id>",
		Short: "Archive a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "book.archive", appOptions{}, func(ctx context.Context, a *app) error {
				if err := a.store.ArchiveBook(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Archived book %s\n", args[0])
				return nil
			})
		},
	}
}

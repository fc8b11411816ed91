package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/unitforge/pkg/engine"
	"github.com/openfroyo/unitforge/pkg/stores"
)

func newCourseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "course",
		Short: "Manage courses",
	}

	cmd.AddCommand(newCourseCreateCommand())
	cmd.AddCommand(newCourseListCommand())
	cmd.AddCommand(newCourseUpdateCommand())
	cmd.AddCommand(newCourseArchiveCommand())

	return cmd
}

func toLevels(in []string) []engine.CEFRLevel {
	levels := make([]engine.CEFRLevel, len(in))
	for i, l := range in {
		levels[i] = engine.CEFRLevel(l)
	}
	return levels
}

func newCourseCreateCommand() *cobra.Command {
	var in stores.NewCourse
	var levels []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a course",
		Example: `  unitforge course create --title "English for Travellers" --levels A1,A2 --methodology communicative`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Levels = toLevels(levels)
			return runApp(cmd, "course.create", appOptions{}, func(ctx context.Context, a *app) error {
				course, err := a.store.CreateCourse(ctx, &in)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), course)
				}
				printCourse(cmd.OutOrStdout(), course)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in.Title, "title", "", "course title")
	cmd.Flags().StringVar(&in.Description, "description", "", "course description")
	cmd.Flags().StringSliceVar(&levels, "levels", nil, "CEFR levels in ascending order")
	cmd.Flags().StringVar(&in.Methodology, "methodology", "", "teaching methodology")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("levels")
	_ = cmd.MarkFlagRequired("methodology")
	return cmd
}

func newCourseListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List courses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "course.list", appOptions{}, func(ctx context.Context, a *app) error {
				courses, err := a.store.ListCourses(ctx, all)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), courses)
				}
				if len(courses) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No courses")
				}
				for i := range courses {
					printCourse(cmd.OutOrStdout(), &courses[i])
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include archived courses")
	return cmd
}

func newCourseUpdateCommand() *cobra.Command {
	var (
		title, description, methodology string
		levels                          []string
	)

	cmd := &cobra.Command{
		Use:   "update <course-id>",
		Short: "Update course metadata",
		Long: `Update course metadata. Levels and methodology can only change while the
course has no books.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := &stores.CourseUpdate{}
			flags := cmd.Flags()
			if flags.Changed("title") {
				upd.Title = &title
			}
			if flags.Changed("description") {
				upd.Description = &description
			}
			if flags.Changed("methodology") {
				upd.Methodology = &methodology
			}
			if flags.Changed("levels") {
				upd.Levels = toLevels(levels)
			}

			return runApp(cmd, "course.update", appOptions{}, func(ctx context.Context, a *app) error {
				course, err := a.store.UpdateCourse(ctx, args[0], upd)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), course)
				}
				printCourse(cmd.OutOrStdout(), course)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "course title")
	cmd.Flags().StringVar(&description, "description", "", "course description")
	cmd.Flags().StringSliceVar(&levels, "levels", nil, "CEFR levels in ascending order")
	cmd.Flags().StringVar(&methodology, "methodology", "", "teaching methodology")
	return cmd
}

func newCourseArchiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <course-id>",
		Short: "Archive a course",
		Long:  `Archive a course. Its units can no longer be generated but keep their content.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "course.archive", appOptions{}, func(ctx context.Context, a *app) error {
				if err := a.store.ArchiveCourse(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Archived course %s\n", args[0])
				return nil
			})
		},
	}
}

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "unitforge",
		Short: "unitforge - course content generation",
		Long: `unitforge builds language courses unit by unit.

A course holds books, one per CEFR level, and each book holds ordered units.
Every unit moves through a fixed pipeline (vocabulary, sentences, strategy,
assessments) and each stage is generated with the context of the units before
it, so vocabulary is not repeated, strategies rotate and assessments stay varied.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ./unitforge.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newCourseCommand())
	rootCmd.AddCommand(newBookCommand())
	rootCmd.AddCommand(newUnitCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newGenerateBookCommand())
	rootCmd.AddCommand(newGenerateCourseCommand())
	rootCmd.AddCommand(newContentCommand())
	rootCmd.AddCommand(newContextCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/unitforge/pkg/config"
	"github.com/openfroyo/unitforge/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a unitforge workspace",
		Long: `Initialize a workspace: write a default config file, create the data and
policy directories and migrate the SQLite database.`,
		Example: `  # Initialize in the current directory
  unitforge init

  # Overwrite an existing config
  unitforge init --force --config ./conf/unitforge.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			path := configPath
			if path == "" {
				path = config.DefaultConfigFile
			}
			log.Info().Str("config", path).Bool("force", force).Msg("Initializing workspace")

			cfg, err := config.WriteDefault(path, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Created config file: %s\n", path)

			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", cfg.DataDir, err)
			}
			fmt.Fprintf(out, "✓ Created directory: %s\n", cfg.DataDir)

			for _, dir := range cfg.Policy.Paths {
				if filepath.Ext(dir) != "" {
					continue
				}
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Fprintf(out, "✓ Created policy directory: %s\n", dir)
			}

			store, err := stores.NewSQLiteStore(cfg.StoreConfig())
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			defer store.Close()
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Fprintf(out, "✓ Initialized SQLite database: %s\n", cfg.DatabasePath())

			fmt.Fprintf(out, "\nWorkspace initialized.\n\nNext steps:\n")
			fmt.Fprintf(out, "  1. Describe a course in CUE and import it:\n     unitforge import course.cue\n\n")
			fmt.Fprintf(out, "  2. Generate a book:\n     unitforge generate-book --book <id>\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/unitforge/pkg/engine"
)

func newContentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Delete or edit unit content",
		Long: `Delete or manually edit the content of a unit slot.

Both operations move the unit back to the stage that produces the slot and
clear every slot that depends on it, in one atomic write.`,
	}

	cmd.AddCommand(newContentDeleteCommand())
	cmd.AddCommand(newContentEditCommand())

	return cmd
}

func newContentDeleteCommand() *cobra.Command {
	var unitID, slotName string

	cmd := &cobra.Command{
		Use:     "delete",
		Short:   "Delete a slot and everything that depends on it",
		Example: `  unitforge content delete --unit <id> --slot sentences`,
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(slotName)
			if err != nil {
				return err
			}
			return runApp(cmd, "content.delete", appOptions{}, func(ctx context.Context, a *app) error {
				unit, err := a.orch.DeleteContent(ctx, unitID, slot)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), unit)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s\n", slot)
				printUnit(cmd.OutOrStdout(), unit)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&unitID, "unit", "", "unit ID")
	cmd.Flags().StringVar(&slotName, "slot", "", "slot to delete")
	_ = cmd.MarkFlagRequired("unit")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func newContentEditCommand() *cobra.Command {
	var unitID, file string

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Replace a slot with manually written content",
		Long: `Replace a slot with the artifact in a JSON file. The artifact's "slot" field
selects the slot; it is checked like generated content before it is written.`,
		Example: `  unitforge content edit --unit <id> --file strategy.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			artifact, err := readArtifact(file)
			if err != nil {
				return err
			}
			return runApp(cmd, "content.edit", appOptions{}, func(ctx context.Context, a *app) error {
				unit, err := a.orch.EditContent(ctx, unitID, artifact)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), unit)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Edited %s\n", artifact.Slot)
				printUnit(cmd.OutOrStdout(), unit)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&unitID, "unit", "", "unit ID")
	cmd.Flags().StringVarP(&file, "file", "f", "", "artifact JSON file")
	_ = cmd.MarkFlagRequired("unit")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readArtifact(path string) (*engine.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	var a engine.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("artifact %s: %v", path, err))
	}
	if _, err := parseSlot(string(a.Slot)); err != nil {
		return nil, err
	}
	return &a, nil
}

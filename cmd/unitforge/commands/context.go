package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/unitforge/pkg/engine"
)

// contextPreview is the JSON shape of the context command.
type contextPreview struct {
	Context     *engine.ContextBundle         `json:"context"`
	Constraints *engine.GenerationConstraints `json:"constraints"`
}

func newContextCommand() *cobra.Command {
	var unitID, slotName string

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Preview the context and constraints of the next generation",
		Long: `Show what the generator would receive for a slot: the vocabulary already
taught, strategy and assessment usage, and the constraints derived from them.
Nothing is generated or written.`,
		Example: `  unitforge context --unit <id> --slot strategy --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(slotName)
			if err != nil {
				return err
			}
			return runApp(cmd, "context", appOptions{}, func(ctx context.Context, a *app) error {
				bundle, constraints, err := a.orch.Preview(ctx, unitID, slot)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, contextPreview{Context: bundle, Constraints: constraints})
				}

				fmt.Fprintf(out, "Unit %s (%s, %s), scope %s, %d preceding positions\n",
					bundle.UnitID, bundle.Type, bundle.ProgressionLevel, bundle.Scope, bundle.Position)
				fmt.Fprintf(out, "Taught vocabulary: %d words, %d recent\n",
					len(bundle.TaughtVocabulary), len(bundle.RecentVocabulary()))
				fmt.Fprintf(out, "Fingerprint: %s\n\nConstraints for %s:\n", bundle.Fingerprint(), slot)
				printConstraints(out, constraints)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&unitID, "unit", "", "unit ID")
	cmd.Flags().StringVar(&slotName, "slot", "", "slot to preview")
	_ = cmd.MarkFlagRequired("unit")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func printConstraints(w io.Writer, c *engine.GenerationConstraints) {
	line := func(label string, v interface{}) { fmt.Fprintf(w, "  %-22s %v\n", label, v) }
	switch c.Slot {
	case engine.SlotVocabulary:
		line("new words:", c.VocabularyCount)
		line("forbidden:", len(c.Forbidden))
		line("reinforcement:", strings.Join(c.Reinforcement, ", "))
		line("reinforcement budget:", c.ReinforcementBudget)
	case engine.SlotSentences:
		line("sentences:", c.SentenceCount)
		line("required headwords:", strings.Join(c.RequiredHeadwords, ", "))
	case engine.SlotStrategy:
		line("family:", c.Family)
		line("eligible:", c.EligibleStrategies)
		line("quota:", c.StrategyQuota)
		line("forced:", c.StrategyForced)
	case engine.SlotAssessments:
		line("assessments:", c.Assessments)
		line("eligible:", c.EligibleAssessments)
	case engine.SlotQA:
		line("max pairs:", c.QACount)
	}
	if c.MinQuality > 0 {
		line("min quality:", c.MinQuality)
	}
}

package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/unitforge/pkg/engine"
	"github.com/openfroyo/unitforge/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and run content policies",
		Long: `Content policies are Rego rules evaluated against every generated artifact.
Built-in policies check IPA, sentence length per level, Q&A completeness and
assessment items; more are loaded from the configured policy paths.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyCheckCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "policy.list", appOptions{}, func(ctx context.Context, a *app) error {
				policies := a.policy.ListPolicies()
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), policies)
				}
				for _, p := range policies {
					state := "enabled"
					if !p.Enabled {
						state = "disabled"
					}
					source := "built-in"
					if !p.Builtin {
						source = p.Source
					}
					slots := "all slots"
					if len(p.Slots) > 0 {
						names := make([]string, len(p.Slots))
						for i, s := range p.Slots {
							names[i] = string(s)
						}
						slots = strings.Join(names, ",")
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-8s %-9s %-30s %s\n", p.Name, p.Severity, state, slots, source)
				}
				return nil
			})
		},
	}
}

// policyReport is the result of checking one slot.
type policyReport struct {
	Slot   engine.SlotKind `json:"slot"`
	Result *policy.Result  `json:"result"`
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		unitID, file    string
		level, unitType string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate policies against a unit or an artifact file",
		Example: `  # Check every slot a unit holds
  unitforge policy check --unit <id>

  # Check an artifact before using it with content edit
  unitforge policy check --file sentences.json --level A1 --type lexical`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (unitID == "") == (file == "") {
				return engine.NewValidationError("exactly one of --unit or --file is required")
			}
			return runApp(cmd, "policy.check", appOptions{}, func(ctx context.Context, a *app) error {
				inputs, err := policyInputs(ctx, a, unitID, file, engine.CEFRLevel(level), engine.UnitType(unitType))
				if err != nil {
					return err
				}

				var reports []policyReport
				blocked := 0
				for _, in := range inputs {
					res, err := a.policy.Evaluate(ctx, in)
					if err != nil {
						return err
					}
					if !res.Allowed {
						blocked++
					}
					reports = append(reports, policyReport{Slot: in.Artifact.Slot, Result: res})
				}

				if jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), reports); err != nil {
						return err
					}
				} else {
					printPolicyReports(cmd, reports)
				}
				if blocked > 0 {
					return engine.NewValidationError(fmt.Sprintf("%d slot(s) violate content policies", blocked))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&unitID, "unit", "", "unit ID")
	cmd.Flags().StringVarP(&file, "file", "f", "", "artifact JSON file")
	cmd.Flags().StringVar(&level, "level", string(engine.LevelA1), "CEFR level used with --file")
	cmd.Flags().StringVar(&unitType, "type", string(engine.UnitTypeLexical), "unit type used with --file")
	return cmd
}

func policyInputs(ctx context.Context, a *app, unitID, file string, level engine.CEFRLevel, unitType engine.UnitType) ([]*engine.PolicyInput, error) {
	if file != "" {
		artifact, err := readArtifact(file)
		if err != nil {
			return nil, err
		}
		return []*engine.PolicyInput{{Level: level, UnitType: unitType, Artifact: artifact}}, nil
	}

	unit, err := a.store.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	book, err := a.store.GetBook(ctx, unit.BookID)
	if err != nil {
		return nil, err
	}
	var inputs []*engine.PolicyInput
	for _, slot := range engine.AllSlots() {
		if artifact := unit.Content.Artifact(slot); artifact != nil {
			inputs = append(inputs, &engine.PolicyInput{
				UnitID:   unit.ID,
				Level:    book.Level,
				UnitType: unit.Type,
				Artifact: artifact,
			})
		}
	}
	return inputs, nil
}

func printPolicyReports(cmd *cobra.Command, reports []policyReport) {
	out := cmd.OutOrStdout()
	if len(reports) == 0 {
		fmt.Fprintln(out, "No content to check")
		return
	}
	for _, r := range reports {
		mark := "✓"
		if !r.Result.Allowed {
			mark = "✗"
		}
		fmt.Fprintf(out, "%s %s (%d policies)\n", mark, r.Slot, len(r.Result.EvaluatedPolicies))
		for _, v := range r.Result.Violations {
			fmt.Fprintf(out, "    error    %s: %s\n", v.Policy, v.Message)
		}
		for _, v := range r.Result.Warnings {
			fmt.Fprintf(out, "    warning  %s: %s\n", v.Policy, v.Message)
		}
	}
}

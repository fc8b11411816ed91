package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/unitforge/pkg/engine"
	"github.com/openfroyo/unitforge/pkg/telemetry"
)

func newGenerateCommand() *cobra.Command {
	var unitID, slotName string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one content slot of a unit",
		Long: `Generate one content slot of a unit.

The slot must be the one the unit's stage expects (vocabulary, sentences,
strategy, assessments), or qa once assessments exist. The content is generated
against the context of the preceding units, validated and committed together
with the stage advance.`,
		Example: `  unitforge generate --unit <id> --slot vocabulary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(slotName)
			if err != nil {
				return err
			}
			return runApp(cmd, "generate", appOptions{generator: true}, func(ctx context.Context, a *app) error {
				res, err := a.orch.RequestGeneration(ctx, unitID, slot)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, res)
				}
				fmt.Fprintf(out, "✓ Generated %s in %d attempt(s): %s -> %s\n\n", slot, res.Attempts, res.From, res.To)
				printUnitContent(out, res.Unit)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&unitID, "unit", "", "unit ID")
	cmd.Flags().StringVar(&slotName, "slot", "", "slot to generate")
	_ = cmd.MarkFlagRequired("unit")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

type batchFlags struct {
	opts     engine.BatchOptions
	progress bool
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.opts.IncludeQA, "include-qa", false, "also generate Q&A for completed units")
	cmd.Flags().BoolVar(&f.opts.FailFast, "fail-fast", false, "stop every book on the first failure")
	cmd.Flags().BoolVar(&f.progress, "progress", true, "print unit progress to stderr")
}

func newGenerateBookCommand() *cobra.Command {
	var (
		bookID string
		flags  batchFlags
	)

	cmd := &cobra.Command{
		Use:   "generate-book",
		Short: "Generate every pending slot of a book",
		Long: `Advance every unit of a book to completed, in sequence order. The book stops
at the first failing unit since later units depend on its content.`,
		Example: `  unitforge generate-book --book <id> --include-qa`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "generate-book", appOptions{generator: true, watch: true}, func(ctx context.Context, a *app) error {
				if flags.progress {
					subscribeProgress(a.tel, cmd.ErrOrStderr())
				}
				runner := engine.NewBatchRunner(a.orch, a.store, a.cfg.Generation.MaxParallelBooks)
				report, err := runner.RunBook(ctx, bookID, flags.opts)
				return finishBatch(cmd, report, err)
			})
		},
	}

	cmd.Flags().StringVar(&bookID, "book", "", "book ID")
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("book")
	return cmd
}

func newGenerateCourseCommand() *cobra.Command {
	var (
		courseID string
		flags    batchFlags
	)

	cmd := &cobra.Command{
		Use:   "generate-course",
		Short: "Generate every pending slot of a course",
		Long: `Advance every unit of every book of a course. Books run in parallel unless
cross-book context is enabled, in which case they run in order.`,
		Example: `  unitforge generate-course --course <id> --parallel 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, "generate-course", appOptions{generator: true, watch: true}, func(ctx context.Context, a *app) error {
				if flags.progress {
					subscribeProgress(a.tel, cmd.ErrOrStderr())
				}
				runner := engine.NewBatchRunner(a.orch, a.store, a.cfg.Generation.MaxParallelBooks)
				report, err := runner.RunCourse(ctx, courseID, flags.opts)
				return finishBatch(cmd, report, err)
			})
		},
	}

	cmd.Flags().StringVar(&courseID, "course", "", "course ID")
	cmd.Flags().IntVar(&flags.opts.MaxParallel, "parallel", 0, "books generated at once (default from config)")
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

func finishBatch(cmd *cobra.Command, report *engine.BatchReport, err error) error {
	if report != nil {
		if jsonOutput {
			if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
				return perr
			}
		} else {
			printReport(cmd.OutOrStdout(), report)
		}
	}
	return err
}

func subscribeProgress(tel *telemetry.Telemetry, w io.Writer) {
	tel.Events.Subscribe(func(e telemetry.Event) {
		switch e.Type {
		case string(engine.EventTypeUnitAdvanced):
			fmt.Fprintf(w, "  %s  %s -> %s\n", e.UnitID, e.From, e.To)
		default:
			fmt.Fprintf(w, "  %s  %s\n", e.UnitID, e.Message)
		}
	}, telemetry.FilterByType(
		engine.EventTypeUnitAdvanced,
		engine.EventTypeGenerationFailed,
		engine.EventTypePolicyViolation,
	))
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HierarchyLister lists the children of a course or book.
type HierarchyLister interface {
	// ListBooks lists the books of a course ordered by sequence.
	ListBooks(ctx context.Context, courseID string) ([]Book, error)

	// ListUnits lists the units of a book ordered by sequence.
	ListUnits(ctx context.Context, bookID string) ([]Unit, error)
}

// BatchStatus summarizes the outcome of a batch run.
type BatchStatus string

const (
	BatchStatusSucceeded BatchStatus = "succeeded"
	BatchStatusPartial   BatchStatus = "partial"
	BatchStatusFailed    BatchStatus = "failed"
)

// BatchOptions configures a batch run.
type BatchOptions struct {
	// MaxParallel is the maximum number of books generated concurrently.
	MaxParallel int `json:"max_parallel,omitempty"`

	// FailFast stops every book on the first failure.
	FailFast bool `json:"fail_fast,omitempty"`

	// IncludeQA also generates the optional QA slot for completed units lacking it.
	IncludeQA bool `json:"include_qa,omitempty"`
}

// UnitOutcome records what a batch run did to one unit.
type UnitOutcome struct {
	UnitID    string     `json:"unit_id"`
	BookID    string     `json:"book_id"`
	Sequence  int        `json:"sequence"`
	From      UnitStatus `json:"from"`
	To        UnitStatus `json:"to"`
	Generated []SlotKind `json:"generated,omitempty"`
	Skipped   string     `json:"skipped,omitempty"`
	Error     string     `json:"error,omitempty"`
	Code      string     `json:"code,omitempty"`
}

// BatchSummary provides statistics about a batch run.
type BatchSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// BatchReport is the result of a batch run.
type BatchReport struct {
	Status    BatchStatus   `json:"status"`
	Units     []UnitOutcome `json:"units"`
	Summary   BatchSummary  `json:"summary"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// BatchRunner advances whole books through the lifecycle.
// Units of one book run in sequence order since each unit's context depends on its
// predecessors. Books run in parallel unless cross-book context is enabled.
type BatchRunner struct {
	orchestrator *Orchestrator
	lister       HierarchyLister
	maxParallel  int

	mu sync.Mutex
}

// NewBatchRunner creates a batch runner.
func NewBatchRunner(orchestrator *Orchestrator, lister HierarchyLister, maxParallel int) *BatchRunner {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &BatchRunner{
		orchestrator: orchestrator,
		lister:       lister,
		maxParallel:  maxParallel,
	}
}

// RunBook generates every pending slot of every unit in the book, in sequence order.
// The book stops at the first unit it cannot finish, either because generation failed
// or because the unit still waits for images; later units would be generated against
// an incomplete history and are reported as skipped. Archived units are passed over.
func (r *BatchRunner) RunBook(ctx context.Context, bookID string, opts BatchOptions) (*BatchReport, error) {
	report := &BatchReport{StartedAt: time.Now()}
	err := r.runBook(ctx, bookID, opts, report)
	r.finish(report, err)
	return report, err
}

// RunCourse runs every non-archived book of the course.
func (r *BatchRunner) RunCourse(ctx context.Context, courseID string, opts BatchOptions) (*BatchReport, error) {
	report := &BatchReport{StartedAt: time.Now()}

	books, err := r.lister.ListBooks(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	limit := r.maxParallel
	if opts.MaxParallel > 0 && opts.MaxParallel < limit {
		limit = opts.MaxParallel
	}
	if r.orchestrator.Scope() == ScopeCourse {
		// Later books aggregate earlier ones, so books run in order.
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, book := range books {
		if book.ArchivedAt != nil {
			continue
		}
		bookID := book.ID
		g.Go(func() error {
			err := r.runBook(gctx, bookID, opts, report)
			if err != nil && opts.FailFast {
				return fmt.Errorf("book %s failed: %w", bookID, err)
			}
			return nil
		})
	}
	err = g.Wait()

	sort.SliceStable(report.Units, func(i, j int) bool {
		if report.Units[i].BookID != report.Units[j].BookID {
			return report.Units[i].BookID < report.Units[j].BookID
		}
		return report.Units[i].Sequence < report.Units[j].Sequence
	})
	r.finish(report, err)
	return report, err
}

func (r *BatchRunner) runBook(ctx context.Context, bookID string, opts BatchOptions, report *BatchReport) error {
	units, err := r.lister.ListUnits(ctx, bookID)
	if err != nil {
		return fmt.Errorf("failed to list units: %w", err)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Sequence < units[j].Sequence })

	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome := r.runUnit(ctx, &unit, opts)
		r.record(report, outcome)
		if outcome.Error != "" {
			return fmt.Errorf("unit %s: %s", unit.ID, outcome.Error)
		}
		if outcome.Skipped != "" && unit.ArchivedAt == nil {
			r.block(report, units[i+1:], unit.Sequence)
			return nil
		}
	}
	return nil
}

// block records the units after a waiting unit as skipped.
func (r *BatchRunner) block(report *BatchReport, rest []Unit, sequence int) {
	for _, u := range rest {
		r.record(report, UnitOutcome{
			UnitID:   u.ID,
			BookID:   u.BookID,
			Sequence: u.Sequence,
			From:     u.Status,
			To:       u.Status,
			Skipped:  fmt.Sprintf("blocked by unit %d", sequence),
		})
	}
}

func (r *BatchRunner) runUnit(ctx context.Context, unit *Unit, opts BatchOptions) UnitOutcome {
	outcome := UnitOutcome{
		UnitID:   unit.ID,
		BookID:   unit.BookID,
		Sequence: unit.Sequence,
		From:     unit.Status,
		To:       unit.Status,
	}
	switch {
	case unit.ArchivedAt != nil:
		outcome.Skipped = "archived"
		return outcome
	case unit.Status == UnitStatusCreating:
		outcome.Skipped = fmt.Sprintf("waiting for %d images", unit.RequiredImages-len(unit.Images))
		return outcome
	}

	status := unit.Status
	hasQA := unit.Content.Has(SlotQA)
	for {
		slot, ok := ExpectedSlot(status)
		if !ok {
			if !opts.IncludeQA || hasQA || status.Stage() < SlotQA.ProducingStatus().Stage() {
				break
			}
			slot = SlotQA
		}
		res, err := r.orchestrator.RequestGeneration(ctx, unit.ID, slot)
		if err != nil {
			outcome.Error = err.Error()
			outcome.Code = CodeOf(err)
			return outcome
		}
		outcome.Generated = append(outcome.Generated, slot)
		status = res.To
		outcome.To = status
		if slot == SlotQA {
			hasQA = true
		}
	}
	return outcome
}

func (r *BatchRunner) record(report *BatchReport, outcome UnitOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report.Units = append(report.Units, outcome)
}

func (r *BatchRunner) finish(report *BatchReport, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s BatchSummary
	for _, u := range report.Units {
		s.Total++
		switch {
		case u.Error != "":
			s.Failed++
		case u.Skipped != "":
			s.Skipped++
		case u.To == UnitStatusCompleted:
			s.Completed++
		}
	}
	report.Summary = s
	report.Duration = time.Since(report.StartedAt)

	switch {
	case err != nil && s.Completed == 0:
		report.Status = BatchStatusFailed
	case s.Failed > 0 && s.Completed == 0:
		report.Status = BatchStatusFailed
	case s.Failed > 0 || s.Skipped > 0 || err != nil:
		report.Status = BatchStatusPartial
	default:
		report.Status = BatchStatusSucceeded
	}
}

package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/openfroyo/unitforge/pkg/engine"
	"github.com/openfroyo/unitforge/pkg/stores"
)

func TestRunBookCompletesUnitsInOrder(t *testing.T) {
	f := newFixture(t, testConfig())
	for i := 0; i < 3; i++ {
		f.addUnit(t, engine.UnitTypeLexical)
	}
	pending, err := f.store.CreateUnit(context.Background(), &stores.NewUnit{
		BookID: f.book.ID, Type: engine.UnitTypeGrammar, Title: "No image yet", RequiredImages: 1,
	})
	if err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}

	runner := engine.NewBatchRunner(f.orch, f.store, 2)
	report, err := runner.RunBook(context.Background(), f.book.ID, engine.BatchOptions{IncludeQA: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Summary.Total != 4 || report.Summary.Completed != 3 || report.Summary.Skipped != 1 {
		t.Errorf("unexpected summary: %+v", report.Summary)
	}
	if report.Status != engine.BatchStatusPartial {
		t.Errorf("expected partial status with a skipped unit, got %s", report.Status)
	}
	for i, u := range report.Units {
		if u.Sequence != i+1 {
			t.Errorf("unit %d reported out of order: sequence %d", i, u.Sequence)
		}
		if u.UnitID == pending.ID {
			if u.Skipped == "" {
				t.Errorf("creating unit should be skipped")
			}
			continue
		}
		if len(u.Generated) != 5 || u.Generated[4] != engine.SlotQA {
			t.Errorf("unit %d generated %v", u.Sequence, u.Generated)
		}
	}

	// A second run has nothing left to do.
	again, err := runner.RunBook(context.Background(), f.book.ID, engine.BatchOptions{IncludeQA: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, u := range again.Units {
		if len(u.Generated) != 0 {
			t.Errorf("unit %d regenerated %v", u.Sequence, u.Generated)
		}
	}
}

func TestRunBookStopsAtWaitingUnit(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	first := f.addUnit(t, engine.UnitTypeLexical)
	waiting, err := f.store.CreateUnit(ctx, &stores.NewUnit{
		BookID: f.book.ID, Type: engine.UnitTypeLexical, Title: "No image yet", RequiredImages: 2,
	})
	if err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}
	last := f.addUnit(t, engine.UnitTypeGrammar)

	runner := engine.NewBatchRunner(f.orch, f.store, 1)
	report, err := runner.RunBook(ctx, f.book.ID, engine.BatchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary.Total != 3 || report.Summary.Completed != 1 || report.Summary.Skipped != 2 {
		t.Errorf("unexpected summary: %+v", report.Summary)
	}
	if report.Status != engine.BatchStatusPartial {
		t.Errorf("expected partial status, got %s", report.Status)
	}

	tests := []struct {
		unitID  string
		skipped bool
	}{
		{first.ID, false},
		{waiting.ID, true},
		{last.ID, true},
	}
	for i, tt := range tests {
		got := report.Units[i]
		if got.UnitID != tt.unitID {
			t.Fatalf("outcome %d is for unit %s, want %s", i, got.UnitID, tt.unitID)
		}
		if (got.Skipped != "") != tt.skipped {
			t.Errorf("unit %d: skipped=%q", got.Sequence, got.Skipped)
		}
	}
	if got := report.Units[2].Skipped; got != "blocked by unit 2" {
		t.Errorf("unexpected skip reason: %q", got)
	}
	if s := f.status(t, last.ID); s != engine.UnitStatusVocabPending {
		t.Errorf("unit after the waiting one should not be generated, status %s", s)
	}
}

func TestRunBookStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, testConfig())
	first := f.addUnit(t, engine.UnitTypeLexical)
	f.addUnit(t, engine.UnitTypeLexical)

	f.gen.fn = func(_ context.Context, req *engine.GenerationRequest, _ int) (*engine.Artifact, error) {
		if req.Unit.UnitID == first.ID && req.Slot == engine.SlotStrategy {
			return nil, errors.New("model overloaded")
		}
		return validArtifact(req), nil
	}

	runner := engine.NewBatchRunner(f.orch, f.store, 1)
	report, err := runner.RunBook(context.Background(), f.book.ID, engine.BatchOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(report.Units) != 1 {
		t.Fatalf("later units must not run after a failure, got %d outcomes", len(report.Units))
	}
	got := report.Units[0]
	if got.Code != engine.ErrCodeGenerationFailed || got.To != engine.UnitStatusContentPending {
		t.Errorf("unexpected outcome: %+v", got)
	}
	if report.Status != engine.BatchStatusFailed {
		t.Errorf("expected failed status, got %s", report.Status)
	}
}

func TestRunCourseRunsEveryBook(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	f.addUnit(t, engine.UnitTypeLexical)

	second, err := f.store.CreateBook(ctx, &stores.NewBook{CourseID: f.course.ID, Level: engine.LevelA2, Title: "Arrivals"})
	if err != nil {
		t.Fatalf("failed to create book: %v", err)
	}
	archived, err := f.store.CreateBook(ctx, &stores.NewBook{CourseID: f.course.ID, Level: engine.LevelA2, Title: "Retired"})
	if err != nil {
		t.Fatalf("failed to create book: %v", err)
	}
	for _, bookID := range []string{second.ID, archived.ID} {
		u, err := f.store.CreateUnit(ctx, &stores.NewUnit{BookID: bookID, Type: engine.UnitTypeGrammar, Title: "Unit", RequiredImages: 1})
		if err != nil {
			t.Fatalf("failed to create unit: %v", err)
		}
		if _, err := f.store.AttachImage(ctx, u.ID, engine.ImageRef{URI: "file://" + u.ID}); err != nil {
			t.Fatalf("failed to attach image: %v", err)
		}
	}
	if err := f.store.ArchiveBook(ctx, archived.ID); err != nil {
		t.Fatalf("failed to archive book: %v", err)
	}

	runner := engine.NewBatchRunner(f.orch, f.store, 4)
	report, err := runner.RunCourse(ctx, f.course.ID, engine.BatchOptions{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != engine.BatchStatusSucceeded || report.Summary.Completed != 2 {
		t.Errorf("unexpected report: status=%s summary=%+v", report.Status, report.Summary)
	}
	for _, u := range report.Units {
		if u.BookID == archived.ID {
			t.Errorf("archived book should not run")
		}
	}
}

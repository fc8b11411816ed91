package stores

import (
	"context"
	"fmt"
	"testing"

	"github.com/openfroyo/unitforge/pkg/engine"
)

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		store := setupTestStore(t)
		defer store.Close()
		fn(t, store)
	})
}

// seedUnit creates a course, a book and a unit with all of its images attached.
func seedUnit(t *testing.T, store Store, images int) (*engine.Course, *engine.Book, *engine.Unit) {
	t.Helper()
	ctx := context.Background()

	course, err := store.CreateCourse(ctx, &NewCourse{
		Title:       "English for Travel",
		Levels:      []engine.CEFRLevel{engine.LevelA1, engine.LevelA2},
		Methodology: "communicative",
	})
	if err != nil {
		t.Fatalf("failed to create course: %v", err)
	}
	book, err := store.CreateBook(ctx, &NewBook{CourseID: course.ID, Level: engine.LevelA1, Title: "Book One"})
	if err != nil {
		t.Fatalf("failed to create book: %v", err)
	}
	unit := addUnit(t, store, book.ID, engine.UnitTypeLexical, images)
	return course, book, unit
}

func addUnit(t *testing.T, store Store, bookID string, typ engine.UnitType, images int) *engine.Unit {
	t.Helper()
	ctx := context.Background()
	unit, err := store.CreateUnit(ctx, &NewUnit{
		BookID:         bookID,
		Type:           typ,
		Title:          "At the airport",
		RequiredImages: images,
	})
	if err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}
	for i := 1; i <= images; i++ {
		unit, err = store.AttachImage(ctx, unit.ID, engine.ImageRef{URI: fmt.Sprintf("file:///img/%d.png", i)})
		if err != nil {
			t.Fatalf("failed to attach image: %v", err)
		}
	}
	return unit
}

func vocabArtifact(words ...string) *engine.Artifact {
	a := &engine.Artifact{Slot: engine.SlotVocabulary}
	for _, w := range words {
		a.Vocabulary = append(a.Vocabulary, engine.VocabularyItem{Headword: w, IPA: "/" + w + "/"})
	}
	return a
}

// completeUnit commits one artifact per stage until the unit is completed.
func completeUnit(t *testing.T, store Store, unitID string, words ...string) *engine.Unit {
	t.Helper()
	ctx := context.Background()
	artifacts := []*engine.Artifact{
		vocabArtifact(words...),
		{Slot: engine.SlotSentences, Sentences: []engine.Sentence{{Text: "A sentence with " + words[0]}}},
		{Slot: engine.SlotStrategy, Strategy: &engine.StrategyRecord{Kind: engine.TipsAssociation, Title: "Link", Body: "Link words."}},
		{Slot: engine.SlotAssessments, Assessments: []engine.AssessmentRecord{
			{Kind: engine.AssessmentMultipleChoice, Instructions: "Choose."},
			{Kind: engine.AssessmentClozeTest, Instructions: "Fill in."},
		}},
	}
	var unit *engine.Unit
	for _, a := range artifacts {
		status, version, err := store.GetStatus(ctx, unitID)
		if err != nil {
			t.Fatalf("failed to get status: %v", err)
		}
		next, _ := status.Next()
		unit, err = store.CommitTransition(ctx, &engine.Commit{
			UnitID:          unitID,
			ExpectedVersion: version,
			From:            status,
			Steps:           []engine.UnitStatus{next},
			Artifact:        a,
			Reason:          "generated " + string(a.Slot),
		})
		if err != nil {
			t.Fatalf("failed to commit %s: %v", a.Slot, err)
		}
	}
	return unit
}

func TestCourseOperations(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		if _, err := store.CreateCourse(ctx, &NewCourse{
			Title:       "Bad",
			Levels:      []engine.CEFRLevel{engine.LevelB1, engine.LevelA2},
			Methodology: "x",
		}); engine.CodeOf(err) != engine.ErrCodeValidation {
			t.Errorf("expected validation error for descending levels, got %v", err)
		}
		if _, err := store.CreateCourse(ctx, &NewCourse{Title: "Bad", Methodology: "x"}); engine.CodeOf(err) != engine.ErrCodeValidation {
			t.Errorf("expected validation error for missing levels, got %v", err)
		}

		course, err := store.CreateCourse(ctx, &NewCourse{
			Title:       "General English",
			Levels:      []engine.CEFRLevel{engine.LevelA1, engine.LevelA2},
			Methodology: "communicative",
		})
		if err != nil {
			t.Fatalf("failed to create course: %v", err)
		}

		got, err := store.GetCourse(ctx, course.ID)
		if err != nil {
			t.Fatalf("failed to get course: %v", err)
		}
		if got.Title != "General English" || len(got.Levels) != 2 {
			t.Errorf("unexpected course: %+v", got)
		}

		title := "General English Plus"
		levels := []engine.CEFRLevel{engine.LevelA1}
		updated, err := store.UpdateCourse(ctx, course.ID, &CourseUpdate{Title: &title, Levels: levels})
		if err != nil {
			t.Fatalf("failed to update course: %v", err)
		}
		if updated.Title != title || len(updated.Levels) != 1 {
			t.Errorf("update not applied: %+v", updated)
		}

		if _, err := store.CreateBook(ctx, &NewBook{CourseID: course.ID, Level: engine.LevelA1, Title: "One"}); err != nil {
			t.Fatalf("failed to create book: %v", err)
		}
		method := "task-based"
		if _, err := store.UpdateCourse(ctx, course.ID, &CourseUpdate{Methodology: &method}); engine.CodeOf(err) != engine.ErrCodeValidation {
			t.Errorf("expected methodology to be immutable once books exist, got %v", err)
		}
		desc := "Updated description"
		if _, err := store.UpdateCourse(ctx, course.ID, &CourseUpdate{Description: &desc}); err != nil {
			t.Errorf("description should stay editable: %v", err)
		}

		if err := store.ArchiveCourse(ctx, course.ID); err != nil {
			t.Fatalf("failed to archive course: %v", err)
		}
		active, err := store.ListCourses(ctx, false)
		if err != nil {
			t.Fatalf("failed to list courses: %v", err)
		}
		if len(active) != 0 {
			t.Errorf("expected no active courses, got %d", len(active))
		}
		all, err := store.ListCourses(ctx, true)
		if err != nil {
			t.Fatalf("failed to list courses: %v", err)
		}
		if len(all) != 1 || all[0].ArchivedAt == nil {
			t.Errorf("expected one archived course, got %+v", all)
		}

		if err := store.ArchiveCourse(ctx, "missing"); !engine.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestBookSequencing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		course, err := store.CreateCourse(ctx, &NewCourse{
			Title:       "Course",
			Levels:      []engine.CEFRLevel{engine.LevelA1, engine.LevelA2},
			Methodology: "communicative",
		})
		if err != nil {
			t.Fatalf("failed to create course: %v", err)
		}

		for i := 1; i <= 3; i++ {
			b, err := store.CreateBook(ctx, &NewBook{CourseID: course.ID, Level: engine.LevelA2, Title: fmt.Sprintf("Book %d", i)})
			if err != nil {
				t.Fatalf("failed to create book %d: %v", i, err)
			}
			if b.Sequence != i {
				t.Errorf("expected sequence %d, got %d", i, b.Sequence)
			}
		}

		if _, err := store.CreateBook(ctx, &NewBook{CourseID: course.ID, Level: engine.LevelC1, Title: "Off level"}); engine.CodeOf(err) != engine.ErrCodeValidation {
			t.Errorf("expected validation error for level outside course, got %v", err)
		}
		if _, err := store.CreateBook(ctx, &NewBook{CourseID: "missing", Level: engine.LevelA1, Title: "x"}); !engine.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}

		books, err := store.ListBooks(ctx, course.ID)
		if err != nil {
			t.Fatalf("failed to list books: %v", err)
		}
		if len(books) != 3 || books[0].Sequence != 1 || books[2].Sequence != 3 {
			t.Errorf("unexpected books: %+v", books)
		}

		if err := store.ArchiveCourse(ctx, course.ID); err != nil {
			t.Fatalf("failed to archive course: %v", err)
		}
		if _, err := store.CreateBook(ctx, &NewBook{CourseID: course.ID, Level: engine.LevelA1, Title: "Late"}); engine.CodeOf(err) != engine.ErrCodeArchived {
			t.Errorf("expected archived error, got %v", err)
		}
	})
}

func TestUnitImagesLeaveCreating(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		_, book, _ := seedUnit(t, store, 1)

		unit, err := store.CreateUnit(ctx, &NewUnit{BookID: book.ID, Type: engine.UnitTypeGrammar, Title: "Past simple", RequiredImages: 2})
		if err != nil {
			t.Fatalf("failed to create unit: %v", err)
		}
		if unit.Sequence != 2 || unit.Status != engine.UnitStatusCreating || unit.Version != 1 {
			t.Fatalf("unexpected new unit: %+v", unit)
		}

		unit, err = store.AttachImage(ctx, unit.ID, engine.ImageRef{URI: "file:///a.png"})
		if err != nil {
			t.Fatalf("failed to attach first image: %v", err)
		}
		if unit.Status != engine.UnitStatusCreating {
			t.Errorf("unit left creating with one of two images")
		}

		if _, err := store.AttachImage(ctx, unit.ID, engine.ImageRef{}); engine.CodeOf(err) != engine.ErrCodeValidation {
			t.Errorf("expected validation error for empty uri, got %v", err)
		}

		unit, err = store.AttachImage(ctx, unit.ID, engine.ImageRef{URI: "file:///b.png"})
		if err != nil {
			t.Fatalf("failed to attach second image: %v", err)
		}
		if unit.Status != engine.UnitStatusVocabPending {
			t.Errorf("expected %s, got %s", engine.UnitStatusVocabPending, unit.Status)
		}
		if unit.Version != 3 {
			t.Errorf("expected version 3, got %d", unit.Version)
		}

		if _, err := store.AttachImage(ctx, unit.ID, engine.ImageRef{URI: "file:///c.png"}); !engine.IsInvalidTransition(err) {
			t.Errorf("expected invalid transition, got %v", err)
		}

		history, err := store.ListTransitions(ctx, unit.ID)
		if err != nil {
			t.Fatalf("failed to list transitions: %v", err)
		}
		if len(history) != 1 || history[0].From != engine.UnitStatusCreating || history[0].To != engine.UnitStatusVocabPending {
			t.Errorf("unexpected history: %+v", history)
		}

		if _, err := store.CreateUnit(ctx, &NewUnit{BookID: book.ID, Type: engine.UnitTypeLexical, Title: "x", RequiredImages: 3}); engine.CodeOf(err) != engine.ErrCodeValidation {
			t.Errorf("expected validation error for 3 images, got %v", err)
		}
	})
}

func TestCommitTransitionAdvances(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		_, _, unit := seedUnit(t, store, 1)

		committed, err := store.CommitTransition(ctx, &engine.Commit{
			UnitID:          unit.ID,
			ExpectedVersion: unit.Version,
			From:            unit.Status,
			Steps:           []engine.UnitStatus{engine.UnitStatusSentencesPending},
			Artifact:        vocabArtifact("passport", "ticket"),
			Reason:          "generated vocabulary",
		})
		if err != nil {
			t.Fatalf("failed to commit: %v", err)
		}
		if committed.Status != engine.UnitStatusSentencesPending {
			t.Errorf("expected %s, got %s", engine.UnitStatusSentencesPending, committed.Status)
		}
		if committed.Version != unit.Version+1 {
			t.Errorf("expected version %d, got %d", unit.Version+1, committed.Version)
		}

		got, err := store.GetUnit(ctx, unit.ID)
		if err != nil {
			t.Fatalf("failed to get unit: %v", err)
		}
		if len(got.Content.Vocabulary) != 2 || got.Content.Vocabulary[0].Headword != "passport" {
			t.Errorf("vocabulary not persisted: %+v", got.Content.Vocabulary)
		}

		// The stale version loses.
		_, err = store.CommitTransition(ctx, &engine.Commit{
			UnitID:          unit.ID,
			ExpectedVersion: unit.Version,
			From:            unit.Status,
			Steps:           []engine.UnitStatus{engine.UnitStatusSentencesPending},
			Artifact:        vocabArtifact("luggage"),
		})
		if !engine.IsConcurrentModification(err) {
			t.Errorf("expected concurrent modification, got %v", err)
		}

		// Skipping a stage is rejected.
		_, err = store.CommitTransition(ctx, &engine.Commit{
			UnitID:          unit.ID,
			ExpectedVersion: committed.Version,
			From:            committed.Status,
			Steps:           []engine.UnitStatus{engine.UnitStatusAssessmentsPending},
		})
		if !engine.IsInvalidTransition(err) {
			t.Errorf("expected invalid transition, got %v", err)
		}

		after, _, err := store.GetStatus(ctx, unit.ID)
		if err != nil {
			t.Fatalf("failed to get status: %v", err)
		}
		if after != engine.UnitStatusSentencesPending {
			t.Errorf("rejected commits changed status to %s", after)
		}
	})
}

func TestCommitRegressionClearsSlots(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		_, _, unit := seedUnit(t, store, 1)
		unit = completeUnit(t, store, unit.ID, "passport", "ticket")
		if unit.Status != engine.UnitStatusCompleted {
			t.Fatalf("expected completed, got %s", unit.Status)
		}

		var sm engine.StateMachine
		steps, err := sm.DeletionPath(unit.ID, unit.Status, engine.SlotVocabulary)
		if err != nil {
			t.Fatalf("failed to compute deletion path: %v", err)
		}
		regressed, err := store.CommitTransition(ctx, &engine.Commit{
			UnitID:          unit.ID,
			ExpectedVersion: unit.Version,
			From:            unit.Status,
			Steps:           steps,
			Clear:           engine.SlotsClearedAt(engine.UnitStatusVocabPending),
			Reason:          "deleted vocabulary",
		})
		if err != nil {
			t.Fatalf("failed to regress: %v", err)
		}
		if regressed.Status != engine.UnitStatusVocabPending {
			t.Errorf("expected %s, got %s", engine.UnitStatusVocabPending, regressed.Status)
		}
		for _, slot := range engine.AllSlots() {
			if regressed.Content.Has(slot) {
				t.Errorf("slot %s not cleared", slot)
			}
		}

		history, err := store.ListTransitions(ctx, unit.ID)
		if err != nil {
			t.Fatalf("failed to list transitions: %v", err)
		}
		// creating->vocab, four forward steps, four backward steps
		if len(history) != 9 {
			t.Fatalf("expected 9 transitions, got %d", len(history))
		}
		for _, rec := range history[5:] {
			if rec.Version != regressed.Version {
				t.Errorf("regression step %s->%s has version %d, want %d", rec.From, rec.To, rec.Version, regressed.Version)
			}
			if rec.To.Stage() != rec.From.Stage()-1 {
				t.Errorf("step %s->%s is not a single stage", rec.From, rec.To)
			}
		}
	})
}

func TestLineage(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		course, book1, first := seedUnit(t, store, 1)
		completeUnit(t, store, first.ID, "passport")
		second := addUnit(t, store, book1.ID, engine.UnitTypeLexical, 1)
		completeUnit(t, store, second.ID, "gate")
		third := addUnit(t, store, book1.ID, engine.UnitTypeLexical, 1)
		fourth := addUnit(t, store, book1.ID, engine.UnitTypeGrammar, 1)

		book2, err := store.CreateBook(ctx, &NewBook{CourseID: course.ID, Level: engine.LevelA2, Title: "Book Two"})
		if err != nil {
			t.Fatalf("failed to create book: %v", err)
		}
		other := addUnit(t, store, book2.ID, engine.UnitTypeLexical, 1)

		lineage, err := store.GetAncestorsAndSiblings(ctx, third.ID, engine.ScopeBook)
		if err != nil {
			t.Fatalf("failed to get lineage: %v", err)
		}
		if lineage.Course.ID != course.ID || lineage.Book.ID != book1.ID || lineage.Target.ID != third.ID {
			t.Errorf("unexpected ancestors: course=%s book=%s target=%s", lineage.Course.ID, lineage.Book.ID, lineage.Target.ID)
		}
		if len(lineage.Preceding) != 2 || lineage.Preceding[0].ID != first.ID || lineage.Preceding[1].ID != second.ID {
			t.Fatalf("unexpected preceding: %+v", lineage.Preceding)
		}
		if len(lineage.Preceding[1].Vocabulary) != 1 || lineage.Preceding[1].Vocabulary[0].Headword != "gate" {
			t.Errorf("summary vocabulary missing: %+v", lineage.Preceding[1])
		}
		if len(lineage.Following) != 1 || lineage.Following[0].ID != fourth.ID {
			t.Errorf("unexpected following: %+v", lineage.Following)
		}

		// Book scope never crosses books.
		lineage, err = store.GetAncestorsAndSiblings(ctx, other.ID, engine.ScopeBook)
		if err != nil {
			t.Fatalf("failed to get lineage: %v", err)
		}
		if len(lineage.Preceding) != 0 {
			t.Errorf("book scope leaked %d units", len(lineage.Preceding))
		}

		lineage, err = store.GetAncestorsAndSiblings(ctx, other.ID, engine.ScopeCourse)
		if err != nil {
			t.Fatalf("failed to get lineage: %v", err)
		}
		if len(lineage.Preceding) != 4 {
			t.Fatalf("expected 4 preceding units in course scope, got %d", len(lineage.Preceding))
		}
		if lineage.Preceding[0].ID != first.ID || lineage.Preceding[3].ID != fourth.ID {
			t.Errorf("course scope not ordered by book then unit sequence")
		}

		// Archived units keep their position but expose no content.
		if err := store.ArchiveUnit(ctx, second.ID); err != nil {
			t.Fatalf("failed to archive unit: %v", err)
		}
		lineage, err = store.GetAncestorsAndSiblings(ctx, third.ID, engine.ScopeBook)
		if err != nil {
			t.Fatalf("failed to get lineage: %v", err)
		}
		if len(lineage.Preceding) != 2 || !lineage.Preceding[1].Archived {
			t.Fatalf("archived unit not kept in place: %+v", lineage.Preceding)
		}
		if len(lineage.Preceding[1].Vocabulary) != 0 {
			t.Errorf("archived unit still exposes vocabulary")
		}

		if _, err := store.GetAncestorsAndSiblings(ctx, third.ID, engine.Scope("galaxy")); engine.CodeOf(err) != engine.ErrCodeValidation {
			t.Errorf("expected validation error for bad scope, got %v", err)
		}
		if _, err := store.GetAncestorsAndSiblings(ctx, "missing", engine.ScopeBook); !engine.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestArchiveUnit(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		_, book, unit := seedUnit(t, store, 1)

		if err := store.ArchiveUnit(ctx, unit.ID); err != nil {
			t.Fatalf("failed to archive unit: %v", err)
		}
		got, err := store.GetUnit(ctx, unit.ID)
		if err != nil {
			t.Fatalf("failed to get unit: %v", err)
		}
		if got.ArchivedAt == nil || got.Version != unit.Version+1 {
			t.Errorf("archive should stamp the unit and bump its version: %+v", got)
		}

		// Archiving twice is a no-op.
		if err := store.ArchiveUnit(ctx, unit.ID); err != nil {
			t.Fatalf("second archive failed: %v", err)
		}

		_, err = store.CommitTransition(ctx, &engine.Commit{
			UnitID:          unit.ID,
			ExpectedVersion: got.Version,
			From:            got.Status,
			Steps:           []engine.UnitStatus{engine.UnitStatusSentencesPending},
			Artifact:        vocabArtifact("late"),
		})
		if engine.CodeOf(err) != engine.ErrCodeArchived {
			t.Errorf("expected archived error, got %v", err)
		}

		// The sequence index stays taken.
		next := addUnit(t, store, book.ID, engine.UnitTypeLexical, 1)
		if next.Sequence != 2 {
			t.Errorf("expected sequence 2 after archived unit, got %d", next.Sequence)
		}

		units, err := store.ListUnits(ctx, book.ID)
		if err != nil {
			t.Fatalf("failed to list units: %v", err)
		}
		if len(units) != 2 {
			t.Errorf("expected 2 units, got %d", len(units))
		}

		if err := store.ArchiveBook(ctx, book.ID); err != nil {
			t.Fatalf("failed to archive book: %v", err)
		}
		if _, err := store.CreateUnit(ctx, &NewUnit{BookID: book.ID, Type: engine.UnitTypeLexical, Title: "x", RequiredImages: 1}); engine.CodeOf(err) != engine.ErrCodeArchived {
			t.Errorf("expected archived error, got %v", err)
		}
		if err := store.ArchiveUnit(ctx, "missing"); !engine.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if _, err := store.GetUnit(ctx, "missing"); !engine.IsNotFound(err) {
			t.Errorf("GetUnit: expected not found, got %v", err)
		}
		if _, _, err := store.GetStatus(ctx, "missing"); !engine.IsNotFound(err) {
			t.Errorf("GetStatus: expected not found, got %v", err)
		}
		if _, err := store.GetBook(ctx, "missing"); !engine.IsNotFound(err) {
			t.Errorf("GetBook: expected not found, got %v", err)
		}
		if _, err := store.ListUnits(ctx, "missing"); !engine.IsNotFound(err) {
			t.Errorf("ListUnits: expected not found, got %v", err)
		}
		if _, err := store.ListTransitions(ctx, "missing"); !engine.IsNotFound(err) {
			t.Errorf("ListTransitions: expected not found, got %v", err)
		}
		if _, err := store.CommitTransition(ctx, &engine.Commit{UnitID: "missing"}); !engine.IsNotFound(err) {
			t.Errorf("CommitTransition: expected not found, got %v", err)
		}
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	_, _, unit := seedUnit(t, store, 1)
	unit = completeUnit(t, store, unit.ID, "passport")

	unit.Content.Vocabulary[0].Headword = "mutated"
	got, err := store.GetUnit(context.Background(), unit.ID)
	if err != nil {
		t.Fatalf("failed to get unit: %v", err)
	}
	if got.Content.Vocabulary[0].Headword != "passport" {
		t.Errorf("store record was mutated through a returned copy")
	}
}

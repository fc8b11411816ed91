package stores

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/unitforge/pkg/engine"
)

// followingLimit is how many later siblings a lineage carries for window checks.
const followingLimit = engine.AssessmentWindowSize - 1

var validate = validator.New()

// validateInput runs struct tag validation and maps failures to VALIDATION_ERROR.
func validateInput(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return engine.NewValidationError(err.Error())
	}
	return nil
}

// checkLevels requires a strictly ascending list of CEFR levels.
func checkLevels(levels []engine.CEFRLevel) error {
	prev := 0
	for _, l := range levels {
		if err := l.Validate(); err != nil {
			return engine.NewValidationError(err.Error())
		}
		if l.Rank() <= prev {
			return engine.NewValidationError("course levels must be ascending without duplicates")
		}
		prev = l.Rank()
	}
	return nil
}

func checkImageRef(ref engine.ImageRef) error {
	if strings.TrimSpace(ref.URI) == "" {
		return engine.NewValidationError("image uri is required")
	}
	return nil
}

// applyCommit validates commit against the unit and applies it in place.
// It returns the transition records produced; the unit version is bumped once.
func applyCommit(unit *engine.Unit, commit *engine.Commit, now time.Time) ([]TransitionRecord, error) {
	if unit.ArchivedAt != nil {
		return nil, engine.NewArchivedError("unit", unit.ID)
	}
	if unit.Version != commit.ExpectedVersion || unit.Status != commit.From {
		return nil, engine.NewConcurrentModificationError(unit.ID, commit.ExpectedVersion).
			WithDetail("actual_version", unit.Version)
	}
	var sm engine.StateMachine
	if err := sm.ValidatePath(unit.ID, unit.Status, commit.Steps); err != nil {
		return nil, err
	}

	for _, slot := range commit.Clear {
		unit.Content.Clear(slot)
	}
	if commit.Artifact != nil {
		if err := commit.Artifact.Slot.Validate(); err != nil {
			return nil, engine.NewValidationError(err.Error()).WithResource(unit.ID)
		}
		unit.Content.Apply(commit.Artifact)
	}
	final := commit.Target()
	for _, slot := range engine.SlotsClearedAt(final) {
		unit.Content.Clear(slot)
	}

	version := unit.Version + 1
	records := make([]TransitionRecord, 0, len(commit.Steps))
	cur := unit.Status
	for _, step := range commit.Steps {
		records = append(records, TransitionRecord{
			UnitID:    unit.ID,
			From:      cur,
			To:        step,
			Version:   version,
			Reason:    commit.Reason,
			Timestamp: now,
		})
		cur = step
	}

	unit.Status = final
	unit.Version = version
	unit.UpdatedAt = now
	return records, nil
}

// attachImage appends an image and leaves creating once enough images are attached.
func attachImage(unit *engine.Unit, ref engine.ImageRef, now time.Time) ([]TransitionRecord, error) {
	if err := checkImageRef(ref); err != nil {
		return nil, err
	}
	if unit.ArchivedAt != nil {
		return nil, engine.NewArchivedError("unit", unit.ID)
	}
	if unit.Status != engine.UnitStatusCreating {
		return nil, engine.NewInvalidTransitionError(unit.ID, unit.Status,
			"images can only be attached while the unit is creating")
	}
	if len(unit.Images) >= unit.RequiredImages {
		return nil, engine.NewValidationError(
			fmt.Sprintf("unit already has %d of %d images", len(unit.Images), unit.RequiredImages)).
			WithResource(unit.ID)
	}

	unit.Images = append(unit.Images, ref)
	unit.Version++
	unit.UpdatedAt = now

	var records []TransitionRecord
	if len(unit.Images) == unit.RequiredImages {
		var sm engine.StateMachine
		next, err := sm.LeaveCreating(unit.ID, unit.Status, len(unit.Images), unit.RequiredImages)
		if err != nil {
			return nil, err
		}
		records = append(records, TransitionRecord{
			UnitID:    unit.ID,
			From:      unit.Status,
			To:        next,
			Version:   unit.Version,
			Reason:    "images attached",
			Timestamp: now,
		})
		unit.Status = next
	}
	return records, nil
}

// summarize builds the aggregation view of a unit.
func summarize(u *engine.Unit, book *engine.Book) engine.UnitSummary {
	s := engine.UnitSummary{
		ID:           u.ID,
		BookID:       u.BookID,
		BookSequence: book.Sequence,
		Sequence:     u.Sequence,
		Type:         u.Type,
		Status:       u.Status,
		Archived:     u.ArchivedAt != nil || book.ArchivedAt != nil,
	}
	if !s.Archived {
		s.Vocabulary = u.Content.Vocabulary
		s.Strategy = u.Content.Strategy
		s.Assessments = u.Content.Assessments
	}
	return s
}

// orderSummaries sorts by (book sequence, unit sequence).
func orderSummaries(list []engine.UnitSummary) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].BookSequence != list[j].BookSequence {
			return list[i].BookSequence < list[j].BookSequence
		}
		return list[i].Sequence < list[j].Sequence
	})
}

func checkScope(scope engine.Scope) error {
	switch scope {
	case engine.ScopeBook, engine.ScopeCourse:
		return nil
	default:
		return engine.NewValidationError(fmt.Sprintf("invalid scope %q", scope))
	}
}

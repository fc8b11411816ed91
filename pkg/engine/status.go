package engine

import (
	"encoding/json"
	"fmt"
)

// UnitStatus represents the lifecycle stage of a unit.
type UnitStatus string

const (
	// UnitStatusCreating is the initial stage; the unit waits for its images.
	UnitStatusCreating UnitStatus = "creating"

	// UnitStatusVocabPending indicates vocabulary is the next slot to generate.
	UnitStatusVocabPending UnitStatus = "vocab_pending"

	// UnitStatusSentencesPending indicates sentences are the next slot to generate.
	UnitStatusSentencesPending UnitStatus = "sentences_pending"

	// UnitStatusContentPending indicates the strategy is the next slot to generate.
	UnitStatusContentPending UnitStatus = "content_pending"

	// UnitStatusAssessmentsPending indicates assessments are the next slot to generate.
	UnitStatusAssessmentsPending UnitStatus = "assessments_pending"

	// UnitStatusCompleted is terminal for forward progress.
	UnitStatusCompleted UnitStatus = "completed"
)

// statusOrder lists the lifecycle stages in forward order.
var statusOrder = []UnitStatus{
	UnitStatusCreating,
	UnitStatusVocabPending,
	UnitStatusSentencesPending,
	UnitStatusContentPending,
	UnitStatusAssessmentsPending,
	UnitStatusCompleted,
}

// Stage returns the zero-based position of the status in the lifecycle, or -1 if unknown.
func (s UnitStatus) Stage() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the immediate successor stage.
func (s UnitStatus) Next() (UnitStatus, bool) {
	i := s.Stage()
	if i < 0 || i == len(statusOrder)-1 {
		return "", false
	}
	return statusOrder[i+1], true
}

// Prev returns the immediate predecessor stage.
func (s UnitStatus) Prev() (UnitStatus, bool) {
	i := s.Stage()
	if i <= 0 {
		return "", false
	}
	return statusOrder[i-1], true
}

// IsTerminal returns true if no forward transition exists from this status.
func (s UnitStatus) IsTerminal() bool {
	return s == UnitStatusCompleted
}

// Validate checks if the unit status is valid.
func (s UnitStatus) Validate() error {
	if s.Stage() < 0 {
		return fmt.Errorf("invalid unit status: %s", s)
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s UnitStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *UnitStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = UnitStatus(str)
	return s.Validate()
}

// SlotKind identifies a generated content slot of a unit.
type SlotKind string

const (
	SlotVocabulary  SlotKind = "vocabulary"
	SlotSentences   SlotKind = "sentences"
	SlotStrategy    SlotKind = "strategy"
	SlotAssessments SlotKind = "assessments"
	SlotQA          SlotKind = "qa"
)

// AllSlots lists every slot kind in dependency order.
func AllSlots() []SlotKind {
	return []SlotKind{SlotVocabulary, SlotSentences, SlotStrategy, SlotAssessments, SlotQA}
}

// Validate checks if the slot kind is valid.
func (k SlotKind) Validate() error {
	switch k {
	case SlotVocabulary, SlotSentences, SlotStrategy, SlotAssessments, SlotQA:
		return nil
	default:
		return fmt.Errorf("invalid slot kind: %s", k)
	}
}

// IsAuxiliary reports whether the slot is generated without advancing the lifecycle.
func (k SlotKind) IsAuxiliary() bool {
	return k == SlotQA
}

// ProducingStatus returns the status in which the slot is generated.
// QA has no producing stage of its own; it may be generated from assessments_pending onward.
func (k SlotKind) ProducingStatus() UnitStatus {
	switch k {
	case SlotVocabulary:
		return UnitStatusVocabPending
	case SlotSentences:
		return UnitStatusSentencesPending
	case SlotStrategy:
		return UnitStatusContentPending
	case SlotAssessments:
		return UnitStatusAssessmentsPending
	case SlotQA:
		return UnitStatusAssessmentsPending
	default:
		return ""
	}
}

// PresentFrom returns the lowest status at which the slot may hold content.
// A slot is cleared whenever the unit regresses below this status.
func (k SlotKind) PresentFrom() UnitStatus {
	switch k {
	case SlotVocabulary:
		return UnitStatusSentencesPending
	case SlotSentences:
		return UnitStatusContentPending
	case SlotStrategy:
		return UnitStatusAssessmentsPending
	case SlotAssessments:
		return UnitStatusCompleted
	case SlotQA:
		return UnitStatusAssessmentsPending
	default:
		return ""
	}
}

// ExpectedSlot returns the slot whose generation advances the given status.
func ExpectedSlot(s UnitStatus) (SlotKind, bool) {
	switch s {
	case UnitStatusVocabPending:
		return SlotVocabulary, true
	case UnitStatusSentencesPending:
		return SlotSentences, true
	case UnitStatusContentPending:
		return SlotStrategy, true
	case UnitStatusAssessmentsPending:
		return SlotAssessments, true
	default:
		return "", false
	}
}

// SlotsClearedAt returns the slots that may not hold content at the given status.
func SlotsClearedAt(s UnitStatus) []SlotKind {
	var cleared []SlotKind
	for _, slot := range AllSlots() {
		if s.Stage() < slot.PresentFrom().Stage() {
			cleared = append(cleared, slot)
		}
	}
	return cleared
}

// StateMachine validates unit lifecycle transitions.
// It holds no state; the unit status stored by the hierarchy accessor is the single
// source of truth.
type StateMachine struct{}

// ValidateStep checks a single transition: exactly one stage forward or one stage back.
func (StateMachine) ValidateStep(unitID string, from, to UnitStatus) error {
	if err := from.Validate(); err != nil {
		return NewInvalidTransitionError(unitID, from, err.Error())
	}
	if next, ok := from.Next(); ok && next == to {
		return nil
	}
	if prev, ok := from.Prev(); ok && prev == to {
		return nil
	}
	return NewInvalidTransitionError(unitID, from,
		fmt.Sprintf("transition %s -> %s skips or repeats a stage", from, to)).
		WithDetail("target", string(to))
}

// ValidatePath checks that every step of a multi-step path is a single-stage transition.
func (sm StateMachine) ValidatePath(unitID string, from UnitStatus, steps []UnitStatus) error {
	cur := from
	for _, to := range steps {
		if err := sm.ValidateStep(unitID, cur, to); err != nil {
			return err
		}
		cur = to
	}
	return nil
}

// Advance returns the target status for generating slot in the current status.
// Auxiliary slots return the current status unchanged.
func (StateMachine) Advance(unitID string, current UnitStatus, slot SlotKind) (UnitStatus, error) {
	if err := slot.Validate(); err != nil {
		return "", NewInvalidTransitionError(unitID, current, err.Error())
	}
	if slot.IsAuxiliary() {
		if current.Stage() < slot.ProducingStatus().Stage() {
			return "", NewInvalidTransitionError(unitID, current,
				fmt.Sprintf("slot %s requires status %s or later", slot, slot.ProducingStatus())).
				WithDetail("slot", string(slot))
		}
		return current, nil
	}
	expected, ok := ExpectedSlot(current)
	if !ok || expected != slot {
		return "", NewInvalidTransitionError(unitID, current,
			fmt.Sprintf("slot %s cannot be generated in status %s", slot, current)).
			WithDetail("slot", string(slot)).
			WithDetail("expected_slot", string(expected))
	}
	next, _ := current.Next()
	return next, nil
}

// LeaveCreating validates the creating -> vocab_pending transition.
func (sm StateMachine) LeaveCreating(unitID string, current UnitStatus, attached, required int) (UnitStatus, error) {
	if current != UnitStatusCreating {
		return "", NewInvalidTransitionError(unitID, current, "unit is no longer in creating")
	}
	if attached < required {
		return "", NewInvalidTransitionError(unitID, current,
			fmt.Sprintf("unit needs %d images before leaving creating, has %d", required, attached))
	}
	return UnitStatusVocabPending, sm.ValidateStep(unitID, current, UnitStatusVocabPending)
}

// RegressionPath returns the single-stage steps from current down to target.
// An empty path means the unit is already at target.
func (sm StateMachine) RegressionPath(unitID string, current, target UnitStatus) ([]UnitStatus, error) {
	if current.Stage() < target.Stage() {
		return nil, NewInvalidTransitionError(unitID, current,
			fmt.Sprintf("cannot regress from %s to later stage %s", current, target))
	}
	var steps []UnitStatus
	cur := current
	for cur != target {
		prev, ok := cur.Prev()
		if !ok {
			return nil, NewInvalidTransitionError(unitID, current, "regression below creating")
		}
		steps = append(steps, prev)
		cur = prev
	}
	return steps, sm.ValidatePath(unitID, current, steps)
}

// DeletionPath returns the regression steps required to delete slot content.
// Deleting a stage slot regresses to the stage that produces it; deleting QA keeps the status.
func (sm StateMachine) DeletionPath(unitID string, current UnitStatus, slot SlotKind) ([]UnitStatus, error) {
	if err := slot.Validate(); err != nil {
		return nil, NewInvalidTransitionError(unitID, current, err.Error())
	}
	if current.Stage() < slot.PresentFrom().Stage() {
		return nil, NewInvalidTransitionError(unitID, current,
			fmt.Sprintf("slot %s holds no content in status %s", slot, current)).
			WithDetail("slot", string(slot))
	}
	if slot.IsAuxiliary() {
		return nil, nil
	}
	return sm.RegressionPath(unitID, current, slot.ProducingStatus())
}

// EditPath returns the regression steps for a manual overwrite of slot content.
// Dependents are invalidated, so the unit regresses to the stage right after the slot.
func (sm StateMachine) EditPath(unitID string, current UnitStatus, slot SlotKind) ([]UnitStatus, error) {
	if err := slot.Validate(); err != nil {
		return nil, NewInvalidTransitionError(unitID, current, err.Error())
	}
	if current.Stage() < slot.PresentFrom().Stage() {
		return nil, NewInvalidTransitionError(unitID, current,
			fmt.Sprintf("slot %s has not been generated yet", slot)).
			WithDetail("slot", string(slot))
	}
	if slot.IsAuxiliary() {
		return nil, nil
	}
	return sm.RegressionPath(unitID, current, slot.PresentFrom())
}

package engine

import (
	"context"
	"fmt"
	"time"
)

// DeleteContent removes the content of slot from a unit.
// Deleting a stage slot regresses the unit, one stage at a time, to the stage that
// produces the slot and clears every dependent slot, QA included, in the same commit.
// Deleting QA clears QA only.
func (o *Orchestrator) DeleteContent(ctx context.Context, unitID string, slot SlotKind) (*Unit, error) {
	status, version, err := o.accessor.GetStatus(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if _, err := o.snapshot(ctx, unitID, status, version); err != nil {
		return nil, err
	}

	steps, err := o.sm.DeletionPath(unitID, status, slot)
	if err != nil {
		return nil, err
	}
	commit := &Commit{
		UnitID:          unitID,
		ExpectedVersion: version,
		From:            status,
		Steps:           steps,
		Reason:          "deleted " + string(slot),
	}
	if slot.IsAuxiliary() {
		commit.Clear = []SlotKind{slot}
	} else {
		commit.Clear = stageChangeClears(commit.Target())
	}

	unit, err := o.commit(ctx, commit)
	if err != nil {
		return nil, err
	}
	o.regressed(ctx, commit, slot)
	return unit, nil
}

// EditContent overwrites a slot with manually supplied content.
// Content that depended on the edited slot is invalidated, so the unit regresses to
// the stage right after the slot and every later slot is cleared along with QA.
func (o *Orchestrator) EditContent(ctx context.Context, unitID string, artifact *Artifact) (*Unit, error) {
	if artifact == nil {
		return nil, NewValidationError("artifact is nil").WithResource(unitID)
	}
	status, version, err := o.accessor.GetStatus(ctx, unitID)
	if err != nil {
		return nil, err
	}
	lineage, err := o.snapshot(ctx, unitID, status, version)
	if err != nil {
		return nil, err
	}
	steps, err := o.sm.EditPath(unitID, status, artifact.Slot)
	if err != nil {
		return nil, err
	}
	bundle, err := o.aggregate(ctx, lineage)
	if err != nil {
		return nil, err
	}
	if err := ValidateEdit(bundle, artifact); err != nil {
		return nil, err
	}

	commit := &Commit{
		UnitID:          unitID,
		ExpectedVersion: version,
		From:            status,
		Steps:           steps,
		Artifact:        artifact,
		Reason:          "edited " + string(artifact.Slot),
	}
	if !artifact.Slot.IsAuxiliary() {
		commit.Clear = stageChangeClears(commit.Target())
	}

	unit, err := o.commit(ctx, commit)
	if err != nil {
		return nil, err
	}
	if len(steps) > 0 {
		o.regressed(ctx, commit, artifact.Slot)
	} else {
		o.publish(ctx, &Event{
			Type:    EventTypeContentUpdated,
			UnitID:  unitID,
			Slot:    artifact.Slot,
			From:    status,
			To:      status,
			Message: fmt.Sprintf("%s edited", artifact.Slot),
			Level:   "info",
		})
	}
	return unit, nil
}

// stageChangeClears lists the slots emptied when stage content is deleted or edited
// and the unit lands on target. QA is written against the whole unit, so it goes too.
func stageChangeClears(target UnitStatus) []SlotKind {
	cleared := SlotsClearedAt(target)
	for _, slot := range cleared {
		if slot == SlotQA {
			return cleared
		}
	}
	return append(cleared, SlotQA)
}

func (o *Orchestrator) regressed(ctx context.Context, commit *Commit, slot SlotKind) {
	if len(commit.Steps) == 0 {
		return
	}
	o.metrics.RecordTransition("backward", len(commit.Steps))
	o.logger.Info().
		Str("unit_id", commit.UnitID).
		Str("slot", string(slot)).
		Str("from", string(commit.From)).
		Str("to", string(commit.Target())).
		Int("steps", len(commit.Steps)).
		Msg("Unit regressed")
	o.publish(ctx, &Event{
		Type:      EventTypeUnitRegressed,
		Timestamp: time.Now(),
		UnitID:    commit.UnitID,
		Slot:      slot,
		From:      commit.From,
		To:        commit.Target(),
		Message:   commit.Reason,
		Level:     "info",
	})
}

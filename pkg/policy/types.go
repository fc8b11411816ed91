package policy

import (
	"time"

	"github.com/openfroyo/unitforge/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but do not reject an artifact.
	SeverityWarning Severity = "warning"

	// SeverityError rejects the artifact; the generator is asked again.
	SeverityError Severity = "error"
)

// Blocking reports whether violations of this severity reject an artifact.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Policy represents a content policy with its Rego code.
// Rego modules must define a `deny` set in their package; each element is either a
// message string or an object with message and optional severity.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with unitforge.
	Builtin bool `json:"builtin,omitempty"`

	// Slots restricts the policy to artifacts of these slots. Empty means all.
	Slots []engine.SlotKind `json:"slots,omitempty"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was compiled.
	LoadedAt time.Time `json:"loaded_at"`
}

// appliesTo reports whether the policy evaluates artifacts of slot.
func (p *Policy) appliesTo(slot engine.SlotKind) bool {
	if len(p.Slots) == 0 {
		return true
	}
	for _, s := range p.Slots {
		if s == slot {
			return true
		}
	}
	return false
}

// Result is the outcome of evaluating every enabled policy against one artifact.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []engine.PolicyViolation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []engine.PolicyViolation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// document is the input handed to Rego: the engine input plus the slot at top level.
type document struct {
	UnitID   string           `json:"unit_id"`
	Level    engine.CEFRLevel `json:"level"`
	UnitType engine.UnitType  `json:"unit_type"`
	Slot     engine.SlotKind  `json:"slot"`
	Artifact *engine.Artifact `json:"artifact"`
}

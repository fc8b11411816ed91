package engine

import (
	"context"
	"time"
)

// HierarchyAccessor provides read views over the Course/Book/Unit hierarchy and
// atomic compare-and-set writes to a unit's status and content.
type HierarchyAccessor interface {
	// GetUnit retrieves a unit by ID.
	GetUnit(ctx context.Context, unitID string) (*Unit, error)

	// GetStatus returns the current status and version of a unit.
	GetStatus(ctx context.Context, unitID string) (UnitStatus, int64, error)

	// GetAncestorsAndSiblings returns a consistent snapshot of the unit, its book and
	// course, and the ordered sibling summaries within scope.
	GetAncestorsAndSiblings(ctx context.Context, unitID string, scope Scope) (*Lineage, error)

	// CommitTransition applies a status path and content change atomically.
	// It fails with a CONCURRENT_MODIFICATION error when the unit version no longer
	// matches commit.ExpectedVersion. On success the updated unit is returned.
	CommitTransition(ctx context.Context, commit *Commit) (*Unit, error)
}

// Commit describes one atomic write to a unit.
type Commit struct {
	// UnitID is the unit being written.
	UnitID string `json:"unit_id"`

	// ExpectedVersion is the version the caller read; the write is rejected if it changed.
	ExpectedVersion int64 `json:"expected_version"`

	// From is the status the caller read.
	From UnitStatus `json:"from"`

	// Steps is the ordered list of single-stage statuses to pass through.
	// An empty list leaves the status unchanged.
	Steps []UnitStatus `json:"steps,omitempty"`

	// Artifact, if set, is written into its slot.
	Artifact *Artifact `json:"artifact,omitempty"`

	// Clear lists slots to empty before the artifact is applied.
	Clear []SlotKind `json:"clear,omitempty"`

	// Reason is recorded in the transition history.
	Reason string `json:"reason,omitempty"`
}

// Target returns the status the unit ends in after the commit.
func (c *Commit) Target() UnitStatus {
	if len(c.Steps) == 0 {
		return c.From
	}
	return c.Steps[len(c.Steps)-1]
}

// Generator is the external content generator.
// Implementations must be safe to call repeatedly with identical requests.
type Generator interface {
	// Generate produces a candidate artifact for the requested slot.
	Generate(ctx context.Context, req *GenerationRequest) (*Artifact, error)
}

// GenerationRequest is the bundle handed to the external generator.
type GenerationRequest struct {
	// Slot is the content slot to generate.
	Slot SlotKind `json:"slot"`

	// Unit carries the metadata of the unit being generated.
	Unit UnitMetadata `json:"unit"`

	// Context is the aggregated history of the unit.
	Context *ContextBundle `json:"context"`

	// Constraints are the hard constraints the artifact must satisfy.
	Constraints *GenerationConstraints `json:"constraints"`

	// Attempt is the 1-based attempt number.
	Attempt int `json:"attempt"`

	// Feedback lists the problems found with the previous attempt, if any.
	Feedback []string `json:"feedback,omitempty"`
}

// UnitMetadata describes the unit and the content it already holds.
type UnitMetadata struct {
	UnitID      string           `json:"unit_id"`
	Title       string           `json:"title"`
	Type        UnitType         `json:"unit_type"`
	Level       CEFRLevel        `json:"level"`
	Methodology string           `json:"methodology"`
	CourseTitle string           `json:"course_title"`
	BookTitle   string           `json:"book_title"`
	Images      []ImageRef       `json:"images,omitempty"`
	Vocabulary  []VocabularyItem `json:"vocabulary,omitempty"`
	Sentences   []Sentence       `json:"sentences,omitempty"`
	Strategy    *StrategyRecord  `json:"strategy,omitempty"`
}

// Artifact is a generated (or manually edited) content slot.
type Artifact struct {
	Slot        SlotKind           `json:"slot"`
	Vocabulary  []VocabularyItem   `json:"vocabulary,omitempty"`
	Sentences   []Sentence         `json:"sentences,omitempty"`
	Strategy    *StrategyRecord    `json:"strategy,omitempty"`
	Assessments []AssessmentRecord `json:"assessments,omitempty"`
	QA          []QAItem           `json:"qa,omitempty"`

	// Quality is the generator's self-reported quality signal.
	Quality *Quality `json:"quality,omitempty"`

	// Model identifies the generator that produced the artifact.
	Model string `json:"model,omitempty"`
}

// Quality is a self-reported quality signal in [0,1].
type Quality struct {
	Score float64  `json:"score"`
	Notes []string `json:"notes,omitempty"`
}

// ContentPolicy evaluates extra content rules over a candidate artifact.
type ContentPolicy interface {
	// EvaluateArtifact returns the violations found, or an error if evaluation failed.
	EvaluateArtifact(ctx context.Context, input *PolicyInput) ([]PolicyViolation, error)
}

// PolicyInput is the document handed to content policies.
type PolicyInput struct {
	UnitID   string    `json:"unit_id"`
	Level    CEFRLevel `json:"level"`
	UnitType UnitType  `json:"unit_type"`
	Artifact *Artifact `json:"artifact"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the policy name that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity (error, warning).
	Severity string `json:"severity"`
}

// RateLimiter throttles generator calls. *rate.Limiter satisfies it.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// MetricsRecorder receives engine measurements.
type MetricsRecorder interface {
	RecordGeneration(slot, outcome string, duration time.Duration)
	RecordGeneratorAttempt(slot, result string)
	RecordTransition(direction string, steps int)
	RecordBalancingExhausted(slot string)
	RecordConcurrentModification()
	RecordPolicyViolation(policy string)
}

// EventType represents the type of lifecycle event.
type EventType string

const (
	EventTypeUnitAdvanced     EventType = "unit.advanced"
	EventTypeUnitRegressed    EventType = "unit.regressed"
	EventTypeContentUpdated   EventType = "unit.content_updated"
	EventTypeGenerationFailed EventType = "generation.failed"
	EventTypePolicyViolation  EventType = "policy.violation"
)

// Event represents a unit lifecycle event.
type Event struct {
	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// UnitID is the unit the event concerns.
	UnitID string `json:"unit_id"`

	// Slot is the content slot involved, if any.
	Slot SlotKind `json:"slot,omitempty"`

	// From and To are the statuses before and after the transition.
	From UnitStatus `json:"from,omitempty"`
	To   UnitStatus `json:"to,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}

// EventPublisher publishes lifecycle events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

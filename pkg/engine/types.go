package engine

import (
	"strings"
	"time"
)

// Course is the root of the hierarchy.
type Course struct {
	// ID is the unique identifier for this course.
	ID string `json:"id"`

	// Title is the human-readable course name.
	Title string `json:"title"`

	// Description is free-form metadata; it stays editable after books exist.
	Description string `json:"description,omitempty"`

	// Levels is the ordered set of CEFR levels the course spans.
	Levels []CEFRLevel `json:"levels"`

	// Methodology tags the pedagogical approach of the course.
	Methodology string `json:"methodology"`

	// ArchivedAt is set when the course is soft-archived.
	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLevel reports whether the course spans the given level.
func (c *Course) HasLevel(level CEFRLevel) bool {
	for _, l := range c.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// Book belongs to one course and targets one CEFR level.
type Book struct {
	// ID is the unique identifier for this book.
	ID string `json:"id"`

	// CourseID is the parent course.
	CourseID string `json:"course_id"`

	// Level must be one of the parent course levels.
	Level CEFRLevel `json:"level"`

	// Sequence is unique within the course, starting at 1.
	Sequence int `json:"sequence"`

	// Title is the human-readable book name.
	Title string `json:"title"`

	// ArchivedAt is set when the book is soft-archived.
	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ImageRef points at an image attached to a unit. Images are never processed here.
type ImageRef struct {
	URI         string `json:"uri"`
	Description string `json:"description,omitempty"`
}

// VocabularyItem is a single taught word.
type VocabularyItem struct {
	Headword string   `json:"headword"`
	IPA      string   `json:"ipa"`
	Gloss    string   `json:"gloss,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// NormalizeHeadword folds a headword for set membership checks.
func NormalizeHeadword(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// Sentence is an example sentence built on the unit vocabulary.
type Sentence struct {
	Text        string `json:"text"`
	Translation string `json:"translation,omitempty"`
}

// StrategyRecord is the TIPS or GRAMMAR strategy attached to a unit.
type StrategyRecord struct {
	Kind  StrategyKind `json:"kind"`
	Title string       `json:"title"`
	Body  string       `json:"body"`
}

// AssessmentItem is one question of an assessment.
type AssessmentItem struct {
	Prompt  string   `json:"prompt"`
	Answer  string   `json:"answer"`
	Options []string `json:"options,omitempty"`
}

// AssessmentRecord is one assessment attached to a unit.
type AssessmentRecord struct {
	Kind         AssessmentKind   `json:"kind"`
	Instructions string           `json:"instructions"`
	Items        []AssessmentItem `json:"items"`
}

// QAItem is an optional question/answer pair.
type QAItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// UnitContent holds the generated content slots of a unit.
type UnitContent struct {
	Vocabulary  []VocabularyItem   `json:"vocabulary,omitempty"`
	Sentences   []Sentence         `json:"sentences,omitempty"`
	Strategy    *StrategyRecord    `json:"strategy,omitempty"`
	Assessments []AssessmentRecord `json:"assessments,omitempty"`
	QA          []QAItem           `json:"qa,omitempty"`
}

// Has reports whether the slot currently holds content.
func (c *UnitContent) Has(slot SlotKind) bool {
	switch slot {
	case SlotVocabulary:
		return len(c.Vocabulary) > 0
	case SlotSentences:
		return len(c.Sentences) > 0
	case SlotStrategy:
		return c.Strategy != nil
	case SlotAssessments:
		return len(c.Assessments) > 0
	case SlotQA:
		return len(c.QA) > 0
	default:
		return false
	}
}

// Clear empties the given slot.
func (c *UnitContent) Clear(slot SlotKind) {
	switch slot {
	case SlotVocabulary:
		c.Vocabulary = nil
	case SlotSentences:
		c.Sentences = nil
	case SlotStrategy:
		c.Strategy = nil
	case SlotAssessments:
		c.Assessments = nil
	case SlotQA:
		c.QA = nil
	}
}

// Apply writes the artifact content into its slot.
func (c *UnitContent) Apply(a *Artifact) {
	if a == nil {
		return
	}
	switch a.Slot {
	case SlotVocabulary:
		c.Vocabulary = a.Vocabulary
	case SlotSentences:
		c.Sentences = a.Sentences
	case SlotStrategy:
		c.Strategy = a.Strategy
	case SlotAssessments:
		c.Assessments = a.Assessments
	case SlotQA:
		c.QA = a.QA
	}
}

// Artifact returns the content of slot as an artifact, or nil if the slot is empty.
func (c *UnitContent) Artifact(slot SlotKind) *Artifact {
	if !c.Has(slot) {
		return nil
	}
	a := &Artifact{Slot: slot}
	switch slot {
	case SlotVocabulary:
		a.Vocabulary = c.Vocabulary
	case SlotSentences:
		a.Sentences = c.Sentences
	case SlotStrategy:
		a.Strategy = c.Strategy
	case SlotAssessments:
		a.Assessments = c.Assessments
	case SlotQA:
		a.QA = c.QA
	}
	return a
}

// Unit is the leaf of the hierarchy and the subject of the lifecycle.
type Unit struct {
	// ID is the unique identifier for this unit.
	ID string `json:"id"`

	// BookID is the parent book.
	BookID string `json:"book_id"`

	// Sequence is unique and dense within the book, starting at 1.
	// Archived units keep their index.
	Sequence int `json:"sequence"`

	// Type selects the strategy family.
	Type UnitType `json:"unit_type"`

	// Title is the human-readable unit name.
	Title string `json:"title"`

	// Status is the lifecycle stage and the single source of truth for slot ordering.
	Status UnitStatus `json:"status"`

	// Version is the optimistic-lock counter, bumped on every committed write.
	Version int64 `json:"version"`

	// RequiredImages is the number of images (1 or 2) needed to leave creating.
	RequiredImages int `json:"required_images"`

	// Images are the attached image references.
	Images []ImageRef `json:"images,omitempty"`

	// Content holds the generated slots.
	Content UnitContent `json:"content"`

	// ArchivedAt is set when the unit is soft-archived.
	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UnitSummary is the read-only view of a sibling or ancestor-book unit used for aggregation.
type UnitSummary struct {
	ID           string             `json:"id"`
	BookID       string             `json:"book_id"`
	BookSequence int                `json:"book_sequence"`
	Sequence     int                `json:"sequence"`
	Type         UnitType           `json:"unit_type"`
	Status       UnitStatus         `json:"status"`
	Archived     bool               `json:"archived"`
	Vocabulary   []VocabularyItem   `json:"vocabulary,omitempty"`
	Strategy     *StrategyRecord    `json:"strategy,omitempty"`
	Assessments  []AssessmentRecord `json:"assessments,omitempty"`
}

// Scope selects how far back context aggregation looks.
type Scope string

const (
	// ScopeBook restricts aggregation to earlier units of the same book.
	ScopeBook Scope = "book"

	// ScopeCourse also includes units of earlier books of the same course.
	ScopeCourse Scope = "course"
)

// Lineage is a consistent snapshot of a unit, its ancestors and its siblings.
type Lineage struct {
	Course Course `json:"course"`
	Book   Book   `json:"book"`

	// Target is the unit as of the snapshot, including its version.
	Target Unit `json:"target"`

	// Preceding lists earlier units ordered ascending by (book sequence, unit sequence).
	// Archived units are included so positions stay stable.
	Preceding []UnitSummary `json:"preceding"`

	// Following lists later units of the same book, ascending, used for window checks.
	Following []UnitSummary `json:"following,omitempty"`
}

// Archived reports whether the target or any ancestor is archived.
func (l *Lineage) Archived() bool {
	return l.Target.ArchivedAt != nil || l.Book.ArchivedAt != nil || l.Course.ArchivedAt != nil
}

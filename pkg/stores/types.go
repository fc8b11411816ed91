package stores

import (
	"context"
	"time"

	"github.com/openfroyo/unitforge/pkg/engine"
)

// NewCourse is the input for creating a course.
type NewCourse struct {
	Title       string             `json:"title" validate:"required,max=200"`
	Description string             `json:"description,omitempty" validate:"max=2000"`
	Levels      []engine.CEFRLevel `json:"levels" validate:"required,min=1,max=6,dive,oneof=A1 A2 B1 B2 C1 C2"`
	Methodology string             `json:"methodology" validate:"required,max=100"`
}

// CourseUpdate changes course fields. Nil fields are left untouched.
// Levels and Methodology may only change while the course has no books.
type CourseUpdate struct {
	Title       *string            `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string            `json:"description,omitempty" validate:"omitempty,max=2000"`
	Levels      []engine.CEFRLevel `json:"levels,omitempty" validate:"omitempty,min=1,max=6,dive,oneof=A1 A2 B1 B2 C1 C2"`
	Methodology *string            `json:"methodology,omitempty" validate:"omitempty,min=1,max=100"`
}

// NewBook is the input for creating a book.
type NewBook struct {
	CourseID string           `json:"course_id" validate:"required"`
	Level    engine.CEFRLevel `json:"level" validate:"required,oneof=A1 A2 B1 B2 C1 C2"`
	Title    string           `json:"title" validate:"required,max=200"`
}

// NewUnit is the input for creating a unit.
type NewUnit struct {
	BookID         string          `json:"book_id" validate:"required"`
	Type           engine.UnitType `json:"unit_type" validate:"required,oneof=lexical grammar"`
	Title          string          `json:"title" validate:"required,max=200"`
	RequiredImages int             `json:"required_images" validate:"min=1,max=2"`
}

// TransitionRecord is one single-stage status change of a unit.
type TransitionRecord struct {
	ID        int64             `json:"id"`
	UnitID    string            `json:"unit_id"`
	From      engine.UnitStatus `json:"from"`
	To        engine.UnitStatus `json:"to"`
	Version   int64             `json:"version"`
	Reason    string            `json:"reason"`
	Timestamp time.Time         `json:"timestamp"`
}

// Store defines the interface for the hierarchy persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Read views and compare-and-set commits used by the engine
	engine.HierarchyAccessor
	engine.HierarchyLister

	// Course operations
	CreateCourse(ctx context.Context, in *NewCourse) (*engine.Course, error)
	GetCourse(ctx context.Context, id string) (*engine.Course, error)
	ListCourses(ctx context.Context, includeArchived bool) ([]engine.Course, error)
	UpdateCourse(ctx context.Context, id string, upd *CourseUpdate) (*engine.Course, error)
	ArchiveCourse(ctx context.Context, id string) error

	// Book operations
	CreateBook(ctx context.Context, in *NewBook) (*engine.Book, error)
	GetBook(ctx context.Context, id string) (*engine.Book, error)
	ArchiveBook(ctx context.Context, id string) error

	// Unit operations
	CreateUnit(ctx context.Context, in *NewUnit) (*engine.Unit, error)
	AttachImage(ctx context.Context, unitID string, ref engine.ImageRef) (*engine.Unit, error)
	ArchiveUnit(ctx context.Context, id string) error
	ListTransitions(ctx context.Context, unitID string) ([]TransitionRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

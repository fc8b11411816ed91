package config

import (
	"time"

	"github.com/openfroyo/unitforge/pkg/engine"
)

// CurriculumConfig is a course with its books and units, as written in CUE.
type CurriculumConfig struct {
	// Course is the course to create.
	Course CourseDefinition `json:"course" validate:"required"`

	// Books are created in order; their sequence follows list order.
	Books []BookDefinition `json:"books,omitempty" validate:"dive"`
}

// CourseDefinition describes a course.
type CourseDefinition struct {
	Title       string             `json:"title" validate:"required,max=200"`
	Description string             `json:"description,omitempty" validate:"max=2000"`
	Levels      []engine.CEFRLevel `json:"levels" validate:"required,min=1,max=6,dive,oneof=A1 A2 B1 B2 C1 C2"`
	Methodology string             `json:"methodology" validate:"required,max=100"`
}

// BookDefinition describes a book and its units.
type BookDefinition struct {
	Title string           `json:"title" validate:"required,max=200"`
	Level engine.CEFRLevel `json:"level" validate:"required,oneof=A1 A2 B1 B2 C1 C2"`
	Units []UnitDefinition `json:"units,omitempty" validate:"dive"`
}

// UnitDefinition describes a unit. Images listed here are attached on import.
type UnitDefinition struct {
	Title string          `json:"title" validate:"required,max=200"`
	Type  engine.UnitType `json:"unit_type" validate:"required,oneof=lexical grammar"`

	// RequiredImages defaults to 1.
	RequiredImages int               `json:"required_images,omitempty" validate:"omitempty,min=1,max=2"`
	Images         []engine.ImageRef `json:"images,omitempty" validate:"max=2,dive"`
}

// Required returns the effective number of required images.
func (u UnitDefinition) Required() int {
	if u.RequiredImages == 0 {
		return 1
	}
	return u.RequiredImages
}

// ParsedCurriculum is the outcome of parsing curriculum sources.
type ParsedCurriculum struct {
	// Curriculum is the decoded curriculum. It is only meaningful when Errors is empty.
	Curriculum CurriculumConfig `json:"curriculum"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the curriculum was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Valid reports whether parsing produced no errors.
func (p *ParsedCurriculum) Valid() bool {
	return len(p.Errors) == 0
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "books[0].units[2].unit_type").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// Error formats the error with its location.
func (e ValidationError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmtLocation(e.File, e.Line, e.Column) + ": " + e.Message
	case e.Path != "":
		return e.Path + ": " + e.Message
	default:
		return e.Message
	}
}

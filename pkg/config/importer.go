package config

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/unitforge/pkg/engine"
	"github.com/openfroyo/unitforge/pkg/stores"
)

// HierarchyWriter is the part of the store a curriculum import needs.
type HierarchyWriter interface {
	CreateCourse(ctx context.Context, in *stores.NewCourse) (*engine.Course, error)
	CreateBook(ctx context.Context, in *stores.NewBook) (*engine.Book, error)
	CreateUnit(ctx context.Context, in *stores.NewUnit) (*engine.Unit, error)
	AttachImage(ctx context.Context, unitID string, ref engine.ImageRef) (*engine.Unit, error)
}

// ImportResult summarizes an imported curriculum.
type ImportResult struct {
	Course *engine.Course `json:"course"`
	Books  []engine.Book  `json:"books"`
	Units  int            `json:"units"`

	// Ready counts units that received all their images and left creating.
	Ready int `json:"ready"`
}

// Import creates the course, books and units of a curriculum in order and attaches
// the listed images. It stops at the first store error; records created before it remain.
func Import(ctx context.Context, w HierarchyWriter, c *CurriculumConfig, logger zerolog.Logger) (*ImportResult, error) {
	course, err := w.CreateCourse(ctx, &stores.NewCourse{
		Title:       c.Course.Title,
		Description: c.Course.Description,
		Levels:      c.Course.Levels,
		Methodology: c.Course.Methodology,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create course: %w", err)
	}
	res := &ImportResult{Course: course}
	logger.Info().Str("course_id", course.ID).Str("title", course.Title).Msg("Course created")

	for i, bd := range c.Books {
		book, err := w.CreateBook(ctx, &stores.NewBook{
			CourseID: course.ID,
			Level:    bd.Level,
			Title:    bd.Title,
		})
		if err != nil {
			return res, fmt.Errorf("failed to create book %d: %w", i+1, err)
		}
		res.Books = append(res.Books, *book)

		for j, ud := range bd.Units {
			unit, err := w.CreateUnit(ctx, &stores.NewUnit{
				BookID:         book.ID,
				Type:           ud.Type,
				Title:          ud.Title,
				RequiredImages: ud.Required(),
			})
			if err != nil {
				return res, fmt.Errorf("failed to create unit %d of book %d: %w", j+1, i+1, err)
			}
			res.Units++

			for _, img := range ud.Images {
				attached, err := w.AttachImage(ctx, unit.ID, img)
				if err != nil {
					return res, fmt.Errorf("failed to attach image to unit %s: %w", unit.ID, err)
				}
				unit = attached
			}
			if unit.Status != engine.UnitStatusCreating {
				res.Ready++
			}
		}

		logger.Debug().
			Str("book_id", book.ID).
			Int("sequence", book.Sequence).
			Int("units", len(bd.Units)).
			Msg("Book imported")
	}

	return res, nil
}

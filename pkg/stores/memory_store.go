package stores

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/unitforge/pkg/engine"
)

// MemoryStore is an in-process arena keyed by stable IDs.
// Records never reference each other directly; lookups go through the ID maps.
// Every read returns a copy, so callers cannot mutate stored records.
type MemoryStore struct {
	mu          sync.RWMutex
	courses     map[string]*engine.Course
	books       map[string]*engine.Book
	units       map[string]*engine.Unit
	transitions map[string][]TransitionRecord
	nextID      int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		courses:     make(map[string]*engine.Course),
		books:       make(map[string]*engine.Book),
		units:       make(map[string]*engine.Unit),
		transitions: make(map[string][]TransitionRecord),
	}
}

// Init is a no-op for the memory store.
func (m *MemoryStore) Init(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }

// Migrate is a no-op for the memory store.
func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// HealthCheck always succeeds.
func (m *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// CreateCourse creates a course.
func (m *MemoryStore) CreateCourse(_ context.Context, in *NewCourse) (*engine.Course, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := checkLevels(in.Levels); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c := &engine.Course{
		ID:          uuid.New().String(),
		Title:       in.Title,
		Description: in.Description,
		Levels:      append([]engine.CEFRLevel(nil), in.Levels...),
		Methodology: in.Methodology,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[c.ID] = c
	return clone(c), nil
}

// GetCourse retrieves a course by ID.
func (m *MemoryStore) GetCourse(_ context.Context, id string) (*engine.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, engine.NewNotFoundError("course", id)
	}
	return clone(c), nil
}

// ListCourses lists courses ordered by creation time.
func (m *MemoryStore) ListCourses(_ context.Context, includeArchived bool) ([]engine.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Course, 0, len(m.courses))
	for _, c := range m.courses {
		if c.ArchivedAt != nil && !includeArchived {
			continue
		}
		out = append(out, *clone(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateCourse changes course fields.
func (m *MemoryStore) UpdateCourse(_ context.Context, id string, upd *CourseUpdate) (*engine.Course, error) {
	if err := validateInput(upd); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, engine.NewNotFoundError("course", id)
	}
	if upd.Levels != nil || upd.Methodology != nil {
		if m.countBooks(id) > 0 {
			return nil, engine.NewValidationError("course levels and methodology are immutable once books exist").
				WithResource(id)
		}
		if upd.Levels != nil {
			if err := checkLevels(upd.Levels); err != nil {
				return nil, err
			}
		}
	}

	next := clone(c)
	if upd.Title != nil {
		next.Title = *upd.Title
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.Levels != nil {
		next.Levels = append([]engine.CEFRLevel(nil), upd.Levels...)
	}
	if upd.Methodology != nil {
		next.Methodology = *upd.Methodology
	}
	next.UpdatedAt = time.Now().UTC()
	m.courses[id] = next
	return clone(next), nil
}

// ArchiveCourse soft-archives a course.
func (m *MemoryStore) ArchiveCourse(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return engine.NewNotFoundError("course", id)
	}
	if c.ArchivedAt == nil {
		now := time.Now().UTC()
		c.ArchivedAt = &now
		c.UpdatedAt = now
	}
	return nil
}

// CreateBook creates a book at the next sequence index of its course.
func (m *MemoryStore) CreateBook(_ context.Context, in *NewBook) (*engine.Book, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[in.CourseID]
	if !ok {
		return nil, engine.NewNotFoundError("course", in.CourseID)
	}
	if c.ArchivedAt != nil {
		return nil, engine.NewArchivedError("course", c.ID)
	}
	if !c.HasLevel(in.Level) {
		return nil, engine.NewValidationError("book level " + string(in.Level) + " is not a course level").
			WithResource(c.ID)
	}

	now := time.Now().UTC()
	b := &engine.Book{
		ID:        uuid.New().String(),
		CourseID:  c.ID,
		Level:     in.Level,
		Sequence:  m.countBooks(c.ID) + 1,
		Title:     in.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.books[b.ID] = b
	return clone(b), nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(_ context.Context, id string) (*engine.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return nil, engine.NewNotFoundError("book", id)
	}
	return clone(b), nil
}

// ListBooks lists the books of a course ordered by sequence.
func (m *MemoryStore) ListBooks(_ context.Context, courseID string) ([]engine.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.courses[courseID]; !ok {
		return nil, engine.NewNotFoundError("course", courseID)
	}
	var out []engine.Book
	for _, b := range m.books {
		if b.CourseID == courseID {
			out = append(out, *clone(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// ArchiveBook soft-archives a book.
func (m *MemoryStore) ArchiveBook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return engine.NewNotFoundError("book", id)
	}
	if b.ArchivedAt == nil {
		now := time.Now().UTC()
		b.ArchivedAt = &now
		b.UpdatedAt = now
	}
	return nil
}

// CreateUnit creates a unit at the next sequence index of its book.
func (m *MemoryStore) CreateUnit(_ context.Context, in *NewUnit) (*engine.Unit, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[in.BookID]
	if !ok {
		return nil, engine.NewNotFoundError("book", in.BookID)
	}
	if b.ArchivedAt != nil {
		return nil, engine.NewArchivedError("book", b.ID)
	}
	if c := m.courses[b.CourseID]; c != nil && c.ArchivedAt != nil {
		return nil, engine.NewArchivedError("course", c.ID)
	}

	seq := 0
	for _, u := range m.units {
		if u.BookID == b.ID && u.Sequence > seq {
			seq = u.Sequence
		}
	}
	now := time.Now().UTC()
	u := &engine.Unit{
		ID:             uuid.New().String(),
		BookID:         b.ID,
		Sequence:       seq + 1,
		Type:           in.Type,
		Title:          in.Title,
		Status:         engine.UnitStatusCreating,
		Version:        1,
		RequiredImages: in.RequiredImages,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.units[u.ID] = u
	return clone(u), nil
}

// GetUnit retrieves a unit by ID.
func (m *MemoryStore) GetUnit(_ context.Context, id string) (*engine.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	if !ok {
		return nil, engine.NewNotFoundError("unit", id)
	}
	return clone(u), nil
}

// GetStatus returns the current status and version of a unit.
func (m *MemoryStore) GetStatus(_ context.Context, id string) (engine.UnitStatus, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	if !ok {
		return "", 0, engine.NewNotFoundError("unit", id)
	}
	return u.Status, u.Version, nil
}

// ListUnits lists the units of a book ordered by sequence.
func (m *MemoryStore) ListUnits(_ context.Context, bookID string) ([]engine.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.books[bookID]; !ok {
		return nil, engine.NewNotFoundError("book", bookID)
	}
	var out []engine.Unit
	for _, u := range m.units {
		if u.BookID == bookID {
			out = append(out, *clone(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// AttachImage attaches an image reference to a unit in creating.
func (m *MemoryStore) AttachImage(_ context.Context, unitID string, ref engine.ImageRef) (*engine.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[unitID]
	if !ok {
		return nil, engine.NewNotFoundError("unit", unitID)
	}
	next := clone(u)
	records, err := attachImage(next, ref, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	m.units[unitID] = next
	m.appendTransitions(records)
	return clone(next), nil
}

// ArchiveUnit soft-archives a unit. Its sequence index is kept.
func (m *MemoryStore) ArchiveUnit(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok {
		return engine.NewNotFoundError("unit", id)
	}
	if u.ArchivedAt == nil {
		now := time.Now().UTC()
		u.ArchivedAt = &now
		u.UpdatedAt = now
		u.Version++
	}
	return nil
}

// GetAncestorsAndSiblings returns a consistent snapshot of the unit lineage.
func (m *MemoryStore) GetAncestorsAndSiblings(_ context.Context, unitID string, scope engine.Scope) (*engine.Lineage, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	target, ok := m.units[unitID]
	if !ok {
		return nil, engine.NewNotFoundError("unit", unitID)
	}
	book, ok := m.books[target.BookID]
	if !ok {
		return nil, engine.NewNotFoundError("book", target.BookID)
	}
	course, ok := m.courses[book.CourseID]
	if !ok {
		return nil, engine.NewNotFoundError("course", book.CourseID)
	}

	lineage := &engine.Lineage{
		Course:    *clone(course),
		Book:      *clone(book),
		Target:    *clone(target),
		Preceding: []engine.UnitSummary{},
	}
	for _, u := range m.units {
		if u.ID == target.ID {
			continue
		}
		b := m.books[u.BookID]
		switch {
		case u.BookID == book.ID && u.Sequence < target.Sequence:
			lineage.Preceding = append(lineage.Preceding, summarize(clone(u), b))
		case u.BookID == book.ID && u.Sequence > target.Sequence:
			lineage.Following = append(lineage.Following, summarize(clone(u), b))
		case scope == engine.ScopeCourse && b.CourseID == course.ID && b.Sequence < book.Sequence:
			lineage.Preceding = append(lineage.Preceding, summarize(clone(u), b))
		}
	}
	orderSummaries(lineage.Preceding)
	orderSummaries(lineage.Following)
	if len(lineage.Following) > followingLimit {
		lineage.Following = lineage.Following[:followingLimit]
	}
	return lineage, nil
}

// CommitTransition applies a commit if the unit version still matches.
func (m *MemoryStore) CommitTransition(_ context.Context, commit *engine.Commit) (*engine.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[commit.UnitID]
	if !ok {
		return nil, engine.NewNotFoundError("unit", commit.UnitID)
	}
	next := clone(u)
	records, err := applyCommit(next, commit, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	m.units[commit.UnitID] = next
	m.appendTransitions(records)
	return clone(next), nil
}

// ListTransitions returns the transition history of a unit, oldest first.
func (m *MemoryStore) ListTransitions(_ context.Context, unitID string) ([]TransitionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.units[unitID]; !ok {
		return nil, engine.NewNotFoundError("unit", unitID)
	}
	return append([]TransitionRecord{}, m.transitions[unitID]...), nil
}

func (m *MemoryStore) appendTransitions(records []TransitionRecord) {
	for _, r := range records {
		m.nextID++
		r.ID = m.nextID
		m.transitions[r.UnitID] = append(m.transitions[r.UnitID], r)
	}
}

func (m *MemoryStore) countBooks(courseID string) int {
	n := 0
	for _, b := range m.books {
		if b.CourseID == courseID {
			n++
		}
	}
	return n
}

// clone deep-copies a record through its JSON form.
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stores: clone marshal: " + err.Error())
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic("stores: clone unmarshal: " + err.Error())
	}
	return out
}

package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/unitforge/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if s.path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const courseColumns = `id, title, description, levels, methodology, archived_at, created_at, updated_at`

const bookColumns = `id, course_id, level, sequence, title, archived_at, created_at, updated_at`

const unitColumns = `id, book_id, sequence, unit_type, title, status, version, required_images,
	images, content, archived_at, created_at, updated_at`

// CreateCourse creates a new course record
func (s *SQLiteStore) CreateCourse(ctx context.Context, in *NewCourse) (*engine.Course, error) {
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
	levels, err := json.Marshal(c.Levels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode levels: %w", err)
	}

	query := `
		INSERT INTO courses (id, title, description, levels, methodology, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		c.ID, c.Title, c.Description, string(levels), c.Methodology, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create course: %w", err)
	}
	return c, nil
}

// GetCourse retrieves a course by ID
func (s *SQLiteStore) GetCourse(ctx context.Context, id string) (*engine.Course, error) {
	return getCourse(ctx, s.db, id)
}

// ListCourses lists courses ordered by creation time
func (s *SQLiteStore) ListCourses(ctx context.Context, includeArchived bool) ([]engine.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	courses := []engine.Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating courses: %w", err)
	}
	return courses, nil
}

// UpdateCourse changes course fields
func (s *SQLiteStore) UpdateCourse(ctx context.Context, id string, upd *CourseUpdate) (*engine.Course, error) {
	if err := validateInput(upd); err != nil {
		return nil, err
	}
	var out *engine.Course
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCourse(ctx, tx, id)
		if err != nil {
			return err
		}
		if upd.Levels != nil || upd.Methodology != nil {
			var books int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM books WHERE course_id = ?`, id).Scan(&books); err != nil {
				return fmt.Errorf("failed to count books: %w", err)
			}
			if books > 0 {
				return engine.NewValidationError("course levels and methodology are immutable once books exist").
					WithResource(id)
			}
			if upd.Levels != nil {
				if err := checkLevels(upd.Levels); err != nil {
					return err
				}
				c.Levels = append([]engine.CEFRLevel(nil), upd.Levels...)
			}
			if upd.Methodology != nil {
				c.Methodology = *upd.Methodology
			}
		}
		if upd.Title != nil {
			c.Title = *upd.Title
		}
		if upd.Description != nil {
			c.Description = *upd.Description
		}
		c.UpdatedAt = time.Now().UTC()

		levels, err := json.Marshal(c.Levels)
		if err != nil {
			return fmt.Errorf("failed to encode levels: %w", err)
		}
		query := `
			UPDATE courses
			SET title = ?, description = ?, levels = ?, methodology = ?, updated_at = ?
			WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, query,
			c.Title, c.Description, string(levels), c.Methodology, c.UpdatedAt, id,
		); err != nil {
			return fmt.Errorf("failed to update course: %w", err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ArchiveCourse soft-archives a course
func (s *SQLiteStore) ArchiveCourse(ctx context.Context, id string) error {
	return s.archive(ctx, "courses", "course", id, "")
}

// CreateBook creates a book at the next sequence index of its course
func (s *SQLiteStore) CreateBook(ctx context.Context, in *NewBook) (*engine.Book, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	var out *engine.Book
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCourse(ctx, tx, in.CourseID)
		if err != nil {
			return err
		}
		if c.ArchivedAt != nil {
			return engine.NewArchivedError("course", c.ID)
		}
		if !c.HasLevel(in.Level) {
			return engine.NewValidationError("book level " + string(in.Level) + " is not a course level").
				WithResource(c.ID)
		}

		var seq int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence), 0) FROM books WHERE course_id = ?`, c.ID,
		).Scan(&seq); err != nil {
			return fmt.Errorf("failed to read book sequence: %w", err)
		}

		now := time.Now().UTC()
		b := &engine.Book{
			ID:        uuid.New().String(),
			CourseID:  c.ID,
			Level:     in.Level,
			Sequence:  seq + 1,
			Title:     in.Title,
			CreatedAt: now,
			UpdatedAt: now,
		}
		query := `
			INSERT INTO books (id, course_id, level, sequence, title, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query,
			b.ID, b.CourseID, b.Level, b.Sequence, b.Title, b.CreatedAt, b.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create book: %w", err)
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBook retrieves a book by ID
func (s *SQLiteStore) GetBook(ctx context.Context, id string) (*engine.Book, error) {
	return getBook(ctx, s.db, id)
}

// ListBooks lists the books of a course ordered by sequence
func (s *SQLiteStore) ListBooks(ctx context.Context, courseID string) ([]engine.Book, error) {
	if _, err := getCourse(ctx, s.db, courseID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE course_id = ? ORDER BY sequence ASC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	books := []engine.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating books: %w", err)
	}
	return books, nil
}

// ArchiveBook soft-archives a book
func (s *SQLiteStore) ArchiveBook(ctx context.Context, id string) error {
	return s.archive(ctx, "books", "book", id, "")
}

// CreateUnit creates a unit at the next sequence index of its book
func (s *SQLiteStore) CreateUnit(ctx context.Context, in *NewUnit) (*engine.Unit, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	var out *engine.Unit
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBook(ctx, tx, in.BookID)
		if err != nil {
			return err
		}
		if b.ArchivedAt != nil {
			return engine.NewArchivedError("book", b.ID)
		}
		c, err := getCourse(ctx, tx, b.CourseID)
		if err != nil {
			return err
		}
		if c.ArchivedAt != nil {
			return engine.NewArchivedError("course", c.ID)
		}

		var seq int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence), 0) FROM units WHERE book_id = ?`, b.ID,
		).Scan(&seq); err != nil {
			return fmt.Errorf("failed to read unit sequence: %w", err)
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
		query := `
			INSERT INTO units (id, book_id, sequence, unit_type, title, status, version,
				required_images, images, content, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, '[]', '{}', ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query,
			u.ID, u.BookID, u.Sequence, u.Type, u.Title, u.Status, u.Version,
			u.RequiredImages, u.CreatedAt, u.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create unit: %w", err)
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetUnit retrieves a unit by ID
func (s *SQLiteStore) GetUnit(ctx context.Context, id string) (*engine.Unit, error) {
	return getUnit(ctx, s.db, id)
}

// GetStatus returns the current status and version of a unit
func (s *SQLiteStore) GetStatus(ctx context.Context, id string) (engine.UnitStatus, int64, error) {
	var (
		status  engine.UnitStatus
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT status, version FROM units WHERE id = ?`, id).Scan(&status, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, engine.NewNotFoundError("unit", id)
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to get unit status: %w", err)
	}
	return status, version, nil
}

// ListUnits lists the units of a book ordered by sequence
func (s *SQLiteStore) ListUnits(ctx context.Context, bookID string) ([]engine.Unit, error) {
	if _, err := getBook(ctx, s.db, bookID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM units WHERE book_id = ? ORDER BY sequence ASC`, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	units := []engine.Unit{}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating units: %w", err)
	}
	return units, nil
}

// AttachImage attaches an image reference to a unit in creating
func (s *SQLiteStore) AttachImage(ctx context.Context, unitID string, ref engine.ImageRef) (*engine.Unit, error) {
	var out *engine.Unit
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		u, err := getUnit(ctx, tx, unitID)
		if err != nil {
			return err
		}
		expected := u.Version
		records, err := attachImage(u, ref, time.Now().UTC())
		if err != nil {
			return err
		}
		if err := updateUnit(ctx, tx, u, expected); err != nil {
			return err
		}
		if err := insertTransitions(ctx, tx, records); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ArchiveUnit soft-archives a unit; its sequence index is kept
func (s *SQLiteStore) ArchiveUnit(ctx context.Context, id string) error {
	return s.archive(ctx, "units", "unit", id, ", version = version + 1")
}

// GetAncestorsAndSiblings returns a consistent snapshot of the unit lineage
func (s *SQLiteStore) GetAncestorsAndSiblings(ctx context.Context, unitID string, scope engine.Scope) (*engine.Lineage, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	var lineage *engine.Lineage
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		target, err := getUnit(ctx, tx, unitID)
		if err != nil {
			return err
		}
		book, err := getBook(ctx, tx, target.BookID)
		if err != nil {
			return err
		}
		course, err := getCourse(ctx, tx, book.CourseID)
		if err != nil {
			return err
		}

		var preceding []engine.UnitSummary
		if scope == engine.ScopeCourse {
			preceding, err = listSummaries(ctx, tx, `
				WHERE b.course_id = ? AND u.id <> ?
				  AND (b.sequence < ? OR (u.book_id = ? AND u.sequence < ?))
				ORDER BY b.sequence ASC, u.sequence ASC`,
				course.ID, target.ID, book.Sequence, book.ID, target.Sequence)
		} else {
			preceding, err = listSummaries(ctx, tx, `
				WHERE u.book_id = ? AND u.sequence < ?
				ORDER BY u.sequence ASC`,
				book.ID, target.Sequence)
		}
		if err != nil {
			return err
		}
		following, err := listSummaries(ctx, tx, `
			WHERE u.book_id = ? AND u.sequence > ?
			ORDER BY u.sequence ASC
			LIMIT ?`,
			book.ID, target.Sequence, followingLimit)
		if err != nil {
			return err
		}

		if preceding == nil {
			preceding = []engine.UnitSummary{}
		}
		lineage = &engine.Lineage{
			Course:    *course,
			Book:      *book,
			Target:    *target,
			Preceding: preceding,
			Following: following,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lineage, nil
}

// CommitTransition applies a commit if the unit version still matches
func (s *SQLiteStore) CommitTransition(ctx context.Context, commit *engine.Commit) (*engine.Unit, error) {
	var out *engine.Unit
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		u, err := getUnit(ctx, tx, commit.UnitID)
		if err != nil {
			return err
		}
		records, err := applyCommit(u, commit, time.Now().UTC())
		if err != nil {
			return err
		}
		if err := updateUnit(ctx, tx, u, commit.ExpectedVersion); err != nil {
			return err
		}
		if err := insertTransitions(ctx, tx, records); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListTransitions returns the transition history of a unit, oldest first
func (s *SQLiteStore) ListTransitions(ctx context.Context, unitID string) ([]TransitionRecord, error) {
	if _, err := getUnit(ctx, s.db, unitID); err != nil {
		return nil, err
	}
	query := `
		SELECT id, unit_id, from_status, to_status, version, reason, created_at
		FROM unit_transitions
		WHERE unit_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	records := []TransitionRecord{}
	for rows.Next() {
		var r TransitionRecord
		if err := rows.Scan(&r.ID, &r.UnitID, &r.From, &r.To, &r.Version, &r.Reason, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) archive(ctx context.Context, table, kind, id, extra string) error {
	now := time.Now().UTC()
	query := `UPDATE ` + table + ` SET archived_at = COALESCE(archived_at, ?), updated_at = ?` + extra +
		` WHERE id = ? AND archived_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", kind, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", kind, err)
		}
		if exists == 0 {
			return engine.NewNotFoundError(kind, id)
		}
	}
	return nil
}

func getCourse(ctx context.Context, q queryer, id string) (*engine.Course, error) {
	c, err := scanCourse(q.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("course", id)
	}
	return c, err
}

func getBook(ctx context.Context, q queryer, id string) (*engine.Book, error) {
	b, err := scanBook(q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("book", id)
	}
	return b, err
}

func getUnit(ctx context.Context, q queryer, id string) (*engine.Unit, error) {
	u, err := scanUnit(q.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("unit", id)
	}
	return u, err
}

func scanCourse(row rowScanner) (*engine.Course, error) {
	var (
		c      engine.Course
		levels string
	)
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &levels, &c.Methodology,
		&c.ArchivedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan course: %w", err)
	}
	if err := json.Unmarshal([]byte(levels), &c.Levels); err != nil {
		return nil, fmt.Errorf("failed to decode course levels: %w", err)
	}
	return &c, nil
}

func scanBook(row rowScanner) (*engine.Book, error) {
	var b engine.Book
	if err := row.Scan(&b.ID, &b.CourseID, &b.Level, &b.Sequence, &b.Title,
		&b.ArchivedAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan book: %w", err)
	}
	return &b, nil
}

func scanUnit(row rowScanner) (*engine.Unit, error) {
	var (
		u       engine.Unit
		images  string
		content string
	)
	if err := row.Scan(&u.ID, &u.BookID, &u.Sequence, &u.Type, &u.Title, &u.Status, &u.Version,
		&u.RequiredImages, &images, &content, &u.ArchivedAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan unit: %w", err)
	}
	if err := json.Unmarshal([]byte(images), &u.Images); err != nil {
		return nil, fmt.Errorf("failed to decode unit images: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &u.Content); err != nil {
		return nil, fmt.Errorf("failed to decode unit content: %w", err)
	}
	return &u, nil
}

func listSummaries(ctx context.Context, tx *sql.Tx, where string, args ...interface{}) ([]engine.UnitSummary, error) {
	query := `
		SELECT u.id, u.book_id, b.sequence, u.sequence, u.unit_type, u.status,
		       u.archived_at, b.archived_at, u.content
		FROM units u
		JOIN books b ON b.id = u.book_id
	` + where

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unit summaries: %w", err)
	}
	defer rows.Close()

	var out []engine.UnitSummary
	for rows.Next() {
		var (
			s            engine.UnitSummary
			unitArchived sql.NullTime
			bookArchived sql.NullTime
			raw          string
		)
		if err := rows.Scan(&s.ID, &s.BookID, &s.BookSequence, &s.Sequence, &s.Type, &s.Status,
			&unitArchived, &bookArchived, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan unit summary: %w", err)
		}
		s.Archived = unitArchived.Valid || bookArchived.Valid
		if !s.Archived {
			var content engine.UnitContent
			if err := json.Unmarshal([]byte(raw), &content); err != nil {
				return nil, fmt.Errorf("failed to decode unit content: %w", err)
			}
			s.Vocabulary = content.Vocabulary
			s.Strategy = content.Strategy
			s.Assessments = content.Assessments
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unit summaries: %w", err)
	}
	return out, nil
}

// updateUnit writes the mutable unit fields guarded by the expected version.
func updateUnit(ctx context.Context, tx *sql.Tx, u *engine.Unit, expectedVersion int64) error {
	images, err := json.Marshal(u.Images)
	if err != nil {
		return fmt.Errorf("failed to encode unit images: %w", err)
	}
	if u.Images == nil {
		images = []byte("[]")
	}
	content, err := json.Marshal(u.Content)
	if err != nil {
		return fmt.Errorf("failed to encode unit content: %w", err)
	}

	query := `
		UPDATE units
		SET status = ?, version = ?, images = ?, content = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := tx.ExecContext(ctx, query,
		u.Status, u.Version, string(images), string(content), u.UpdatedAt, u.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update unit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewConcurrentModificationError(u.ID, expectedVersion)
	}
	return nil
}

func insertTransitions(ctx context.Context, tx *sql.Tx, records []TransitionRecord) error {
	query := `
		INSERT INTO unit_transitions (unit_id, from_status, to_status, version, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, query, r.UnitID, r.From, r.To, r.Version, r.Reason, r.Timestamp); err != nil {
			return fmt.Errorf("failed to record transition: %w", err)
		}
	}
	return nil
}

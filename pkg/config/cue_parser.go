package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// CUEParser parses and validates curriculum definitions written in CUE.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	sr := NewSchemaRegistry()
	return &CUEParser{
		// Schemas and sources must share one context to unify.
		ctx:            sr.ctx,
		schemaRegistry: sr,
		validator:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Parse parses curriculum files or directories. CUE and schema problems are
// reported in ParsedCurriculum.Errors; the returned error covers I/O failures only.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedCurriculum, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		var errs []ValidationError
		if info.IsDir() {
			var files []string
			val, files, errs = cp.loadDirectory(source)
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs = cp.loadFile(source)
			sourceFiles = append(sourceFiles, source)
		}
		parseErrors = append(parseErrors, errs...)

		if val.Exists() {
			if cueValue.Exists() {
				cueValue = cueValue.Unify(val)
			} else {
				cueValue = val
			}
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedCurriculum{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	return cp.extractCurriculum(cueValue, sourceFiles), nil
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(_ context.Context, content string) (*ParsedCurriculum, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedCurriculum{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractCurriculum(val, []string{"inline"}), nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractCurriculum checks the value against the curriculum schema and decodes it.
func (cp *CUEParser) extractCurriculum(val cue.Value, sourceFiles []string) *ParsedCurriculum {
	parsed := &ParsedCurriculum{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	if err := val.Err(); err != nil {
		parsed.Errors = cp.convertCUEErrors(err)
		return parsed
	}

	unified, err := cp.schemaRegistry.Unify("curriculum", val)
	if err != nil {
		parsed.Errors = cp.convertCUEErrors(err)
		return parsed
	}

	if err := unified.Decode(&parsed.Curriculum); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Message:  fmt.Sprintf("failed to decode curriculum: %v", err),
			Severity: "error",
		})
		return parsed
	}

	parsed.Errors = append(parsed.Errors, cp.checkCurriculum(&parsed.Curriculum)...)
	return parsed
}

// checkCurriculum runs struct validation and the rules CUE does not express.
func (cp *CUEParser) checkCurriculum(c *CurriculumConfig) []ValidationError {
	var errs []ValidationError

	if err := cp.validator.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, ValidationError{
					Path:     fe.Namespace(),
					Message:  fmt.Sprintf("fails %q", fe.Tag()),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, ValidationError{Message: err.Error(), Severity: "error"})
		}
	}

	levels := make(map[string]bool, len(c.Course.Levels))
	for i, l := range c.Course.Levels {
		if levels[string(l)] {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("course.levels[%d]", i),
				Message:  fmt.Sprintf("duplicate level %s", l),
				Severity: "error",
			})
		}
		if i > 0 && l.Rank() < c.Course.Levels[i-1].Rank() {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("course.levels[%d]", i),
				Message:  "levels must be in ascending order",
				Severity: "error",
			})
		}
		levels[string(l)] = true
	}

	for i, b := range c.Books {
		if !levels[string(b.Level)] {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("books[%d].level", i),
				Message:  fmt.Sprintf("level %s is not one of the course levels", b.Level),
				Severity: "error",
			})
		}
		for j, u := range b.Units {
			if len(u.Images) > u.Required() {
				errs = append(errs, ValidationError{
					Path:     fmt.Sprintf("books[%d].units[%d].images", i, j),
					Message:  fmt.Sprintf("%d images listed, unit requires %d", len(u.Images), u.Required()),
					Severity: "error",
				})
			}
		}
	}

	return errs
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

func fmtLocation(file string, line, column int) string {
	loc := file + ":" + strconv.Itoa(line)
	if column > 0 {
		loc += ":" + strconv.Itoa(column)
	}
	return loc
}

// ValidateWithSchema validates Go data against a registered schema.
func (cp *CUEParser) ValidateWithSchema(ctx context.Context, data interface{}, schemaName string) error {
	return cp.schemaRegistry.ValidateAgainstSchema(ctx, schemaName, data)
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExportJSON renders a parsed curriculum as indented JSON.
func ExportJSON(c *CurriculumConfig) ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode curriculum: %w", err)
	}
	return data, nil
}

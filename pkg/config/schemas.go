package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with the built-in curriculum schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	for name, def := range map[string]string{
		"curriculum": "#Curriculum",
		"course":     "#Course",
		"book":       "#Book",
		"unit":       "#Unit",
	} {
		if err := sr.RegisterSchema(name, builtinCurriculumSchema, def); err != nil {
			panic(fmt.Sprintf("built-in schema %s: %v", name, err))
		}
	}

	return sr
}

// RegisterSchema compiles schema and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify checks an already compiled value against a named schema.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return unified, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names in order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateCurriculum validates a decoded curriculum against the curriculum schema.
func (sr *SchemaRegistry) ValidateCurriculum(ctx context.Context, c CurriculumConfig) error {
	return sr.ValidateAgainstSchema(ctx, "curriculum", c)
}

// ValidateUnit validates a unit definition against the unit schema.
func (sr *SchemaRegistry) ValidateUnit(ctx context.Context, u UnitDefinition) error {
	return sr.ValidateAgainstSchema(ctx, "unit", u)
}

const builtinCurriculumSchema = `
#Level: "A1" | "A2" | "B1" | "B2" | "C1" | "C2"

#Image: {
	uri:          string & !=""
	description?: string
}

#Unit: {
	title:            string & !=""
	unit_type:        "lexical" | "grammar"
	required_images?: int & >=1 & <=2
	images?: [...#Image]
}

#Book: {
	title: string & !=""
	level: #Level
	units?: [...#Unit]
}

#Course: {
	title:        string & !=""
	description?: string
	levels: [#Level, ...#Level]
	methodology: string & !=""
}

#Curriculum: {
	course: #Course
	books?: [...#Book]
}
`

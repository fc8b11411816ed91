package generators

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/openfroyo/unitforge/pkg/engine"
)

//go:embed schemas/artifact.json
var artifactSchema []byte

const schemaResource = "artifact.json"

// maxProblems bounds the schema problems fed back to the next attempt.
const maxProblems = 8

// Schemas holds the compiled per-slot artifact schemas.
type Schemas struct {
	bySlot map[engine.SlotKind]*jsonschema.Schema
}

// CompileSchemas compiles the embedded artifact schema once per slot.
func CompileSchemas() (*Schemas, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResource, bytes.NewReader(artifactSchema)); err != nil {
		return nil, fmt.Errorf("failed to add artifact schema: %w", err)
	}

	s := &Schemas{bySlot: make(map[engine.SlotKind]*jsonschema.Schema)}
	for _, slot := range engine.AllSlots() {
		schema, err := compiler.Compile(schemaResource + "#/$defs/" + string(slot))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", slot, err)
		}
		s.bySlot[slot] = schema
	}
	return s, nil
}

// Decode parses a generator reply into an artifact for slot. Replies that are not
// JSON or do not match the slot schema are constraint violations, so the engine
// retries with the problems as feedback.
func (s *Schemas) Decode(slot engine.SlotKind, content string) (*engine.Artifact, error) {
	schema, ok := s.bySlot[slot]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("no schema for slot %q", slot), nil).
			WithCode(engine.ErrCodeValidation)
	}

	raw, err := parseStructuredJSON(content)
	if err != nil {
		return nil, engine.NewConstraintViolationError(slot, []string{err.Error()})
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, engine.NewConstraintViolationError(slot, []string{err.Error()})
	}
	if err := schema.Validate(doc); err != nil {
		return nil, engine.NewConstraintViolationError(slot, schemaProblems(err))
	}

	var a engine.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, engine.NewConstraintViolationError(slot, []string{err.Error()})
	}
	a.Slot = slot
	return &a, nil
}

func schemaProblems(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var problems []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(problems) >= maxProblems {
			return
		}
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			problems = append(problems, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return problems
}

// parseStructuredJSON accepts a bare JSON object, one wrapped in a code fence, or
// one embedded in surrounding prose.
func parseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("empty structured output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONObject(content); extracted != "" {
		candidates = append(candidates, extracted)
	}

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || !json.Valid([]byte(candidate)) {
			continue
		}
		return json.RawMessage(candidate), nil
	}
	return nil, errors.New("reply is not a JSON object")
}

func stripCodeFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if last := len(lines) - 1; strings.TrimSpace(lines[last]) == "```" {
		lines = lines[:last]
	}
	return strings.Join(lines, "\n")
}

func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

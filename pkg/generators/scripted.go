package generators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/unitforge/pkg/engine"
)

// entryPoint is the function a generator script must define.
const entryPoint = "generate"

// defaultMaxSteps bounds a single generate call.
const defaultMaxSteps = 10_000_000

// Scripted runs a Starlark script as the generator. The script defines
// generate(request) and returns a dict shaped like the slot artifact:
//
//	def generate(request):
//	    if request["slot"] == "vocabulary":
//	        return {"vocabulary": [{"headword": "ticket", "ipa": "ˈtɪkɪt"}]}
//	    ...
//
// The reply is checked against the same slot schemas as model output.
type Scripted struct {
	name     string
	generate starlark.Callable
	schemas  *Schemas
	maxSteps uint64
	logger   zerolog.Logger
}

var _ engine.Generator = (*Scripted)(nil)

// LoadScripted reads and compiles the script at path.
func LoadScripted(path string, logger zerolog.Logger) (*Scripted, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read generator script: %w", err)
	}
	return NewScripted(filepath.Base(path), string(src), logger)
}

// NewScripted compiles src. The script's top level runs once and its globals are
// frozen, so generate may be called from several goroutines.
func NewScripted(name, src string, logger zerolog.Logger) (*Scripted, error) {
	schemas, err := CompileSchemas()
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("component", "generator").Str("script", name).Logger()

	thread := newThread(name, logger)
	globals, err := starlark.ExecFile(thread, name, src, predeclared())
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("generator script %s: %v", name, err))
	}
	globals.Freeze()

	fn, ok := globals[entryPoint].(starlark.Callable)
	if !ok {
		return nil, engine.NewValidationError(fmt.Sprintf("generator script %s does not define %s(request)", name, entryPoint))
	}

	return &Scripted{
		name:     name,
		generate: fn,
		schemas:  schemas,
		maxSteps: defaultMaxSteps,
		logger:   logger,
	}, nil
}

// Generate calls generate(request) and decodes the returned dict.
func (s *Scripted) Generate(ctx context.Context, req *engine.GenerationRequest) (*engine.Artifact, error) {
	input, err := requestValue(req)
	if err != nil {
		return nil, engine.NewPermanentError("failed to convert request", err).WithCode(engine.ErrCodeInternal)
	}

	thread := newThread(s.name, s.logger)
	thread.SetMaxExecutionSteps(s.maxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	result, err := starlark.Call(thread, s.generate, starlark.Tuple{input}, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, engine.NewTransientError(fmt.Sprintf("generator script %s failed", s.name), err).
			WithCode(engine.ErrCodeGenerationFailed)
	}

	out, err := fromStarlarkValue(result)
	if err != nil {
		return nil, engine.NewConstraintViolationError(req.Slot, []string{err.Error()})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, engine.NewConstraintViolationError(req.Slot, []string{err.Error()})
	}

	artifact, err := s.schemas.Decode(req.Slot, string(data))
	if err != nil {
		return nil, err
	}
	if artifact.Model == "" {
		artifact.Model = "script:" + s.name
	}
	return artifact, nil
}

func newThread(name string, logger zerolog.Logger) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug().Msg(msg)
		},
	}
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
}

// requestValue hands the request to the script as plain dicts and lists, keyed
// by the JSON field names.
func requestValue(req *engine.GenerationRequest) (starlark.Value, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return toStarlarkValue(v)
}

// toStarlarkValue converts a decoded JSON value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, err
		}
		return starlark.Float(f), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a JSON encodable Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return sequence(val)
	case starlark.Tuple:
		return sequence(val)
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func sequence(seq starlark.Indexable) ([]interface{}, error) {
	list := make([]interface{}, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}

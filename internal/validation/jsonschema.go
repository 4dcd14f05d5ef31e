package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/playbook/pkg/schema"
)

// routineSchemaJSON is the JSON Schema for GraphDefinition validation.
// Embedded as a constant to avoid filesystem dependencies. Step types are not
// enumerated: unrecognized types degrade to no-op passthrough at run time, so
// the schema only enforces shape.
const routineSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://playbook.dev/schemas/routine.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "minLength": 1
        },
        "key": { "type": "string" },
        "label": { "type": "string" },
        "config": { "type": "object" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "source": {
          "type": "string",
          "minLength": 1
        },
        "target": {
          "type": "string",
          "minLength": 1
        },
        "handle": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator implements the Validator interface using JSON Schema
// Draft 2020-12. Safe for concurrent use.
type JSONSchemaValidator struct {
	routineSchema *jsonschema.Schema

	// mu guards the cache for dynamic schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the routine schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(routineSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal routine schema: %w", err)
	}
	if err := c.AddResource("https://playbook.dev/schemas/routine.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add routine schema resource: %w", err)
	}

	compiled, err := c.Compile("https://playbook.dev/schemas/routine.json")
	if err != nil {
		return nil, fmt.Errorf("compile routine schema: %w", err)
	}

	return &JSONSchemaValidator{
		routineSchema: compiled,
		cache:         make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition validates a GraphDefinition against the routine JSON
// Schema, plus structural checks JSON Schema cannot express. Semantic graph
// validation (single trigger, reachability, acyclicity) lives in graph.Build.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.GraphDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "routine definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize routine definition").WithCause(err)
	}

	if err := v.routineSchema.Validate(doc); err != nil {
		return toPlaybookError(err)
	}

	seen := make(map[string]struct{}, len(def.Steps))
	for _, step := range def.Steps {
		if _, exists := seen[step.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}
	}

	return nil
}

// ValidateParams validates handler parameters against a JSON Schema provided
// as raw bytes. The schema is compiled and cached for subsequent calls.
func (v *JSONSchemaValidator) ValidateParams(params map[string]any, paramSchema []byte) error {
	if params == nil {
		return schema.NewError(schema.ErrCodeValidation, "params is nil")
	}
	if len(paramSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(paramSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid param schema").WithCause(err)
	}

	doc, err := toJSONValue(params)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize params").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toPlaybookError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new
// one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions.
	url := fmt.Sprintf("playbook://param-schema/%d", len(v.cache))

	// Fresh compiler per dynamic schema to avoid resource collision.
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toPlaybookError converts a jsonschema.ValidationError into a PlaybookError
// with per-location violation messages.
func toPlaybookError(err error) *schema.PlaybookError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

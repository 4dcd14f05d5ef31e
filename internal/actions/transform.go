package actions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/playbook/pkg/schema"
)

// TransformHandlers returns the data transformation handlers.
func TransformHandlers() []Handler {
	return []Handler{
		&transformHandler{codes: make(map[string]*gojq.Code)},
	}
}

// transformHandler applies a jq query to step data. Compiled queries are
// cached per query string.
type transformHandler struct {
	mu    sync.RWMutex
	codes map[string]*gojq.Code
}

func (h *transformHandler) Name() string { return "transform" }

func (h *transformHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description: "Apply a jq query to the step input data",
	}
}

func (h *transformHandler) Validate(params map[string]any) error {
	query, _ := params["query"].(string)
	if query == "" {
		return schema.NewError(schema.ErrCodeValidation, "transform requires non-empty 'query' parameter")
	}
	if _, err := gojq.Parse(query); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid jq query: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (h *transformHandler) Execute(ctx context.Context, input HandlerInput) (*HandlerOutput, error) {
	query, _ := input.Params["query"].(string)
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform requires non-empty 'query' parameter")
	}

	code, err := h.compiled(query)
	if err != nil {
		return nil, err
	}

	// Explicit input wins; otherwise the query runs over the execution context.
	var data any
	if v, ok := input.Params["input"]; ok {
		data = v
	} else {
		data = mapToAny(input.Context)
	}

	var results []any
	iter := code.RunWithContext(ctx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if iterErr, ok := v.(error); ok {
			return nil, schema.NewErrorf(schema.ErrCodeHandler, "jq query failed: %s", iterErr.Error()).WithCause(iterErr)
		}
		results = append(results, v)
	}

	out := map[string]any{"results": results}
	if len(results) == 1 {
		out["result"] = results[0]
	}
	return marshalOutput(out, "transform applied")
}

func (h *transformHandler) compiled(query string) (*gojq.Code, error) {
	h.mu.RLock()
	code, ok := h.codes[query]
	h.mu.RUnlock()
	if ok {
		return code, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if code, ok := h.codes[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid jq query: %s", err.Error()).WithCause(err)
	}
	code, err = gojq.Compile(parsed)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "compile jq query: %s", err.Error()).WithCause(err)
	}
	h.codes[query] = code
	return code, nil
}

// mapToAny widens a typed map for gojq, which only accepts plain JSON values.
func mapToAny(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

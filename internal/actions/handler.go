package actions

import (
	"context"
	"encoding/json"
)

// Handler is an executable unit of work bound to an action step's key.
type Handler interface {
	Name() string
	Schema() HandlerSchema
	Execute(ctx context.Context, input HandlerInput) (*HandlerOutput, error)
	Validate(params map[string]any) error
}

// HandlerRegistry manages the lifecycle and lookup of available handlers.
type HandlerRegistry interface {
	Register(h Handler) error
	Get(name string) (Handler, error)
	Has(name string) bool
	List() []HandlerInfo
}

// HandlerSchema describes the input/output contract of a handler.
type HandlerSchema struct {
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// HandlerInput is the data provided to a handler at execution time. Params
// come from the step's config after interpolation; Context carries the
// execution data scope (payload, memory, config) plus correlation IDs.
type HandlerInput struct {
	Params  map[string]any `json:"params"`
	Context map[string]any `json:"context,omitempty"`
}

// HandlerOutput is the result of a handler execution. Summary, when set, is
// folded into the step's narrative log.
type HandlerOutput struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Summary string          `json:"summary,omitempty"`
}

// HandlerInfo is a summary of a registered handler for listing.
type HandlerInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// marshalOutput marshals a result map into a HandlerOutput.
func marshalOutput(result map[string]any, summary string) (*HandlerOutput, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &HandlerOutput{Data: data, Summary: summary}, nil
}

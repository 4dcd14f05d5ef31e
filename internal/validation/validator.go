package validation

import "github.com/rendis/playbook/pkg/schema"

// Validator checks routine definitions and handler parameters before they
// reach the graph builder or a handler. Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateDefinition(def *schema.GraphDefinition) error
	ValidateParams(params map[string]any, paramSchema []byte) error
}

package diagram

import (
	"github.com/rendis/playbook/internal/graph"
	"github.com/rendis/playbook/pkg/schema"
)

// Build constructs a Model from a routine definition. The definition is
// validated through graph.Build first, so an invalid graph fails with the
// same error the engine would report.
func Build(title string, def *schema.GraphDefinition) (*Model, error) {
	if _, err := graph.Build(def); err != nil {
		return nil, err
	}

	model := &Model{Title: title}
	for i := range def.Steps {
		step := &def.Steps[i]
		model.Nodes = append(model.Nodes, Node{
			ID:    step.ID,
			Label: stepLabel(step),
			Kind:  stepKind(step.Type),
		})
	}
	for _, edge := range def.Edges {
		label := edge.Handle
		if label == schema.HandleContinue {
			label = ""
		}
		model.Edges = append(model.Edges, Edge{
			From:  edge.Source,
			To:    edge.Target,
			Label: label,
		})
	}
	return model, nil
}

func stepLabel(step *schema.StepDefinition) string {
	if step.Label != "" {
		return step.Label
	}
	if step.Key != "" {
		return step.Key
	}
	return step.ID
}

func stepKind(t schema.StepType) NodeKind {
	switch t {
	case schema.StepTypeTrigger:
		return NodeKindTrigger
	case schema.StepTypeAction:
		return NodeKindAction
	case schema.StepTypeRule:
		return NodeKindRule
	case schema.StepTypeButtons:
		return NodeKindButtons
	case schema.StepTypeWaitInput:
		return NodeKindWaitInput
	case schema.StepTypeTag:
		return NodeKindTag
	case schema.StepTypeStage:
		return NodeKindStage
	default:
		return NodeKindOther
	}
}

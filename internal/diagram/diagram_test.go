package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/pkg/schema"
)

func reviewDefinition() *schema.GraphDefinition {
	return &schema.GraphDefinition{
		Steps: []schema.StepDefinition{
			{ID: "t", Type: schema.StepTypeTrigger, Key: "invoice_received"},
			{ID: "check", Type: schema.StepTypeRule, Label: "Over budget?"},
			{ID: "approve", Type: schema.StepTypeButtons, Label: "Approve?"},
			{ID: "tag", Type: schema.StepTypeTag, Key: "paid"},
		},
		Edges: []schema.EdgeDefinition{
			{Source: "t", Target: "check"},
			{Source: "check", Target: "approve", Handle: "true"},
			{Source: "check", Target: "tag", Handle: "false"},
			{Source: "approve", Target: "tag", Handle: "yes"},
		},
	}
}

func TestBuild(t *testing.T) {
	model, err := Build("Invoice Review", reviewDefinition())
	require.NoError(t, err)

	assert.Equal(t, "Invoice Review", model.Title)
	require.Len(t, model.Nodes, 4)
	assert.Equal(t, NodeKindTrigger, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindRule, model.Nodes[1].Kind)
	assert.Equal(t, NodeKindButtons, model.Nodes[2].Kind)
	assert.Equal(t, NodeKindTag, model.Nodes[3].Kind)

	// Label falls back to key then id.
	assert.Equal(t, "invoice_received", model.Nodes[0].Label)
	assert.Equal(t, "Over budget?", model.Nodes[1].Label)

	require.Len(t, model.Edges, 4)
	assert.Empty(t, model.Edges[0].Label)
	assert.Equal(t, "true", model.Edges[1].Label)
}

func TestBuildDropsContinueHandle(t *testing.T) {
	def := reviewDefinition()
	def.Edges[0].Handle = schema.HandleContinue

	model, err := Build("", def)
	require.NoError(t, err)
	assert.Empty(t, model.Edges[0].Label)
}

func TestBuildRejectsInvalidGraph(t *testing.T) {
	def := reviewDefinition()
	def.Steps = def.Steps[1:] // drop the trigger

	_, err := Build("x", def)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeGraph, schema.ErrorCode(err))
}

func TestRenderMermaid(t *testing.T) {
	model, err := Build("Invoice Review", reviewDefinition())
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "%% Invoice Review")
	assert.Contains(t, out, `t(("invoice_received"))`)
	assert.Contains(t, out, `check{"Over budget?"}`)
	assert.Contains(t, out, `approve(["Approve?"])`)
	assert.Contains(t, out, `tag[["paid"]]`)
	assert.Contains(t, out, "check -->|true| approve")
	assert.Contains(t, out, "check -->|false| tag")
	assert.Contains(t, out, "t --> check")
}

func TestRenderMermaidSanitizesIDs(t *testing.T) {
	model := &Model{
		Nodes: []Node{{ID: "step-1.a", Label: "Do thing", Kind: NodeKindAction}},
		Edges: []Edge{{From: "step-1.a", To: "step-1.a"}},
	}
	out := RenderMermaid(model)
	assert.Contains(t, out, `step_1_a["Do thing"]`)
	assert.NotContains(t, out, "step-1.a[")
}

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/pkg/schema"
)

func linearDef() *schema.GraphDefinition {
	return &schema.GraphDefinition{
		Steps: []schema.StepDefinition{
			{ID: "t", Type: schema.StepTypeTrigger, Key: "new_client_signed"},
			{ID: "a", Type: schema.StepTypeAction, Key: "send_message", Label: "Send Welcome"},
			{ID: "b", Type: schema.StepTypeAction, Key: "create_folder", Label: "Create Folder"},
		},
		Edges: []schema.EdgeDefinition{
			{Source: "t", Target: "a"},
			{Source: "a", Target: "b"},
		},
	}
}

func TestBuild_Linear(t *testing.T) {
	g, err := Build(linearDef())
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, "t", g.TriggerNode().ID)
	assert.Equal(t, "a", g.StepAfterTrigger().ID)
	assert.Equal(t, "b", g.DefaultNext("a").ID)
	assert.Nil(t, g.DefaultNext("b"))
}

func TestBuild_NoTrigger(t *testing.T) {
	def := &schema.GraphDefinition{
		Steps: []schema.StepDefinition{{ID: "a", Type: schema.StepTypeAction}},
	}
	_, err := Build(def)
	require.Error(t, err)
	pbErr := err.(*schema.PlaybookError)
	assert.Equal(t, schema.ErrCodeGraph, pbErr.Code)
	assert.Contains(t, pbErr.Message, "no trigger")
}

func TestBuild_TwoTriggers(t *testing.T) {
	def := &schema.GraphDefinition{
		Steps: []schema.StepDefinition{
			{ID: "t1", Type: schema.StepTypeTrigger},
			{ID: "t2", Type: schema.StepTypeTrigger},
		},
	}
	_, err := Build(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one trigger")
}

func TestBuild_EdgeTargetMissing(t *testing.T) {
	def := linearDef()
	def.Edges = append(def.Edges, schema.EdgeDefinition{Source: "b", Target: "ghost"})
	_, err := Build(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edge target not found")
}

func TestBuild_UnreachableStep(t *testing.T) {
	def := linearDef()
	def.Steps = append(def.Steps, schema.StepDefinition{ID: "orphan", Type: schema.StepTypeTag})
	_, err := Build(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestBuild_TriggerWithIncomingEdge(t *testing.T) {
	def := linearDef()
	def.Edges = append(def.Edges, schema.EdgeDefinition{Source: "b", Target: "t", Handle: "loop"})
	_, err := Build(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incoming edges")
}

func TestBuild_MultipleDefaultEdges(t *testing.T) {
	def := linearDef()
	// A second unset-handle edge from "a" is ambiguous, not silently resolved.
	def.Steps = append(def.Steps, schema.StepDefinition{ID: "c", Type: schema.StepTypeTag})
	def.Edges = append(def.Edges, schema.EdgeDefinition{Source: "a", Target: "c", Handle: schema.HandleContinue})
	_, err := Build(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default edges")
}

func TestBuild_Cycle(t *testing.T) {
	def := linearDef()
	def.Edges = append(def.Edges, schema.EdgeDefinition{Source: "b", Target: "a", Handle: "back"})
	_, err := Build(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestDefaultNext_FirstDeclaredWins(t *testing.T) {
	def := &schema.GraphDefinition{
		Steps: []schema.StepDefinition{
			{ID: "t", Type: schema.StepTypeTrigger},
			{ID: "q", Type: schema.StepTypeButtons},
			{ID: "x", Type: schema.StepTypeTag},
			{ID: "y", Type: schema.StepTypeStage},
		},
		Edges: []schema.EdgeDefinition{
			{Source: "t", Target: "q"},
			// Labeled edge declared before the default one: the default edge
			// still wins for auto-advance, and declaration order decides among
			// labeled edges only via NextByHandle.
			{Source: "q", Target: "x", Handle: "opt_a"},
			{Source: "q", Target: "y", Handle: schema.HandleContinue},
		},
	}
	g, err := Build(def)
	require.NoError(t, err)

	assert.Equal(t, "y", g.DefaultNext("q").ID)
	assert.Equal(t, "x", g.NextByHandle("q", "opt_a").ID)
	assert.Nil(t, g.NextByHandle("q", "opt_z"))
}

func TestOutgoingEdges_DeclarationOrder(t *testing.T) {
	def := &schema.GraphDefinition{
		Steps: []schema.StepDefinition{
			{ID: "t", Type: schema.StepTypeTrigger},
			{ID: "q", Type: schema.StepTypeButtons},
			{ID: "x", Type: schema.StepTypeTag},
			{ID: "y", Type: schema.StepTypeStage},
		},
		Edges: []schema.EdgeDefinition{
			{Source: "t", Target: "q"},
			{Source: "q", Target: "x", Handle: "b1"},
			{Source: "q", Target: "y", Handle: "b2"},
		},
	}
	g, err := Build(def)
	require.NoError(t, err)

	edges := g.OutgoingEdges("q")
	require.Len(t, edges, 2)
	assert.Equal(t, "b1", edges[0].Handle)
	assert.Equal(t, "b2", edges[1].Handle)
}

package graph

import (
	"github.com/rendis/playbook/pkg/schema"
)

// Graph is the in-memory representation of a routine definition: nodes indexed
// by id with outgoing edges kept in declaration order. Immutable after Build.
type Graph struct {
	steps    map[string]*schema.StepDefinition
	order    []string                          // step ids in declaration order
	outgoing map[string][]schema.EdgeDefinition // source id → edges, declaration order
	trigger  *schema.StepDefinition
}

// Build parses and validates a GraphDefinition. It fails with a GRAPH_ERROR
// on: no trigger, more than one trigger, a trigger with incoming edges, edge
// endpoints not present in steps, unreachable non-trigger nodes, more than one
// default (unset or "continue" handle) edge from a single node, or a cycle.
func Build(def *schema.GraphDefinition) (*Graph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeGraph, "graph definition is nil")
	}
	if len(def.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeGraph, "graph has no steps")
	}

	g := &Graph{
		steps:    make(map[string]*schema.StepDefinition, len(def.Steps)),
		order:    make([]string, 0, len(def.Steps)),
		outgoing: make(map[string][]schema.EdgeDefinition, len(def.Steps)),
	}

	// First pass: register steps, find the trigger.
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "step at index %d has empty ID", i)
		}
		if _, exists := g.steps[step.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "duplicate step ID: %s", step.ID)
		}
		g.steps[step.ID] = step
		g.order = append(g.order, step.ID)

		if step.Type == schema.StepTypeTrigger {
			if g.trigger != nil {
				return nil, schema.NewErrorf(schema.ErrCodeGraph,
					"graph has more than one trigger: %s and %s", g.trigger.ID, step.ID)
			}
			g.trigger = step
		}
	}
	if g.trigger == nil {
		return nil, schema.NewError(schema.ErrCodeGraph, "graph has no trigger step")
	}

	// Second pass: edges. Track incoming counts and default-edge counts.
	incoming := make(map[string]int, len(def.Steps))
	defaults := make(map[string]int, len(def.Steps))
	for _, edge := range def.Edges {
		if _, ok := g.steps[edge.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "edge source not found: %s", edge.Source)
		}
		if _, ok := g.steps[edge.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "edge target not found: %s", edge.Target)
		}
		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
		incoming[edge.Target]++
		if isDefaultHandle(edge.Handle) {
			defaults[edge.Source]++
		}
	}

	if incoming[g.trigger.ID] > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "trigger step %s has incoming edges", g.trigger.ID)
	}
	for _, id := range g.order {
		if id != g.trigger.ID && incoming[id] == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "step %s is unreachable: no incoming edges", id)
		}
		if defaults[id] > 1 {
			return nil, schema.NewErrorf(schema.ErrCodeGraph,
				"step %s has %d default edges, at most one unset/%q handle is allowed",
				id, defaults[id], schema.HandleContinue)
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	return g, nil
}

// checkAcyclic runs Kahn's algorithm over the edge set. Re-entering a node via
// resume is external re-invocation, not a graph cycle, so plain edge cycles
// are always an error.
func (g *Graph) checkAcyclic() error {
	inDegree := make(map[string]int, len(g.steps))
	for id := range g.steps {
		inDegree[id] = 0
	}
	for _, edges := range g.outgoing {
		for _, e := range edges {
			inDegree[e.Target]++
		}
	}

	queue := make([]string, 0, len(g.steps))
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, e := range g.outgoing[id] {
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	if visited != len(g.steps) {
		return schema.NewError(schema.ErrCodeGraph, "graph contains a cycle")
	}
	return nil
}

// Node returns the step with the given id, or nil.
func (g *Graph) Node(id string) *schema.StepDefinition {
	return g.steps[id]
}

// OutgoingEdges returns the edges leaving the given node in declaration order.
func (g *Graph) OutgoingEdges(id string) []schema.EdgeDefinition {
	return g.outgoing[id]
}

// TriggerNode returns the unique trigger step.
func (g *Graph) TriggerNode() *schema.StepDefinition {
	return g.trigger
}

// DefaultNext resolves the auto-advance target from a node: the first declared
// outgoing edge with an unset or "continue" handle. Returns nil when none
// exists, which ends the run. First match wins; this ordering rule is load
// bearing for determinism.
func (g *Graph) DefaultNext(id string) *schema.StepDefinition {
	for _, e := range g.outgoing[id] {
		if isDefaultHandle(e.Handle) {
			return g.steps[e.Target]
		}
	}
	return nil
}

// NextByHandle resolves the outgoing edge whose handle equals the given
// selector. Returns nil when no edge matches.
func (g *Graph) NextByHandle(id, handle string) *schema.StepDefinition {
	for _, e := range g.outgoing[id] {
		if e.Handle == handle {
			return g.steps[e.Target]
		}
	}
	return nil
}

// StepAfterTrigger returns the first actionable step: the trigger's sole
// default-edge target. Nil for a trigger-only graph.
func (g *Graph) StepAfterTrigger() *schema.StepDefinition {
	return g.DefaultNext(g.trigger.ID)
}

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.steps) }

func isDefaultHandle(h string) bool {
	return h == "" || h == schema.HandleContinue
}

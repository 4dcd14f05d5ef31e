package diagram

// NodeKind classifies a diagram node by its routine step type.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAction    NodeKind = "action"
	NodeKindRule      NodeKind = "rule"
	NodeKindButtons   NodeKind = "buttons"
	NodeKindWaitInput NodeKind = "wait_input"
	NodeKindTag       NodeKind = "tag"
	NodeKindStage     NodeKind = "stage"
	NodeKindOther     NodeKind = "other"
)

// Model is the intermediate representation consumed by the renderer.
type Model struct {
	Title string
	Nodes []Node
	Edges []Edge
}

// Node represents a single step in the diagram.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind
}

// Edge represents a routing edge between two nodes. Label carries the edge
// handle ("true", "false", a choice id) when one is set.
type Edge struct {
	From  string
	To    string
	Label string
}

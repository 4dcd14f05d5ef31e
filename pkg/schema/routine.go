package schema

import "time"

// Template is the reusable, versionless definition a routine is created from.
// Immutable once published.
type Template struct {
	ID          string          `json:"id"`
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Definition  GraphDefinition `json:"definition"`
}

// GraphDefinition is the JSON-serializable routine graph format.
// Declaration order of steps and edges is significant: the interpreter's
// auto-advance rule and edge resolution depend on it.
type GraphDefinition struct {
	Steps []StepDefinition `json:"steps"`
	Edges []EdgeDefinition `json:"edges"`
}

// StepDefinition describes a single node in a routine graph.
type StepDefinition struct {
	ID     string         `json:"id"`
	Type   StepType       `json:"type"`
	Key    string         `json:"key,omitempty"`    // trigger key or action handler key
	Label  string         `json:"label,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// EdgeDefinition is a directed connection between two steps. Handle
// disambiguates multiple outgoing paths from the same source (one per button,
// "true"/"false" for rules). An empty or "continue" handle marks the default
// path.
type EdgeDefinition struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Handle string `json:"handle,omitempty"`
}

// StepType enumerates the kinds of steps in a routine graph.
// Unrecognized types degrade to a no-op passthrough at execution time; only
// graph construction restricts nothing beyond the single-trigger rule.
type StepType string

const (
	StepTypeTrigger   StepType = "trigger"
	StepTypeAction    StepType = "action"
	StepTypeButtons   StepType = "buttons"
	StepTypeWaitInput StepType = "wait_input"
	StepTypeTag       StepType = "tag"
	StepTypeStage     StepType = "stage"
	StepTypeRule      StepType = "rule"
)

// HandleContinue is the explicit handle value equivalent to an unset handle.
const HandleContinue = "continue"

// RoutineStatus is the lifecycle state of a routine instance. It is the single
// authority consulted by the trigger dispatcher.
type RoutineStatus string

const (
	RoutineStatusActive   RoutineStatus = "active"
	RoutineStatusPaused   RoutineStatus = "paused"
	RoutineStatusArchived RoutineStatus = "archived"
)

// RunState is the interpreter's state over one interactive run.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateSuspended RunState = "suspended"
	RunStateCompleted RunState = "completed"
)

// ExecutionStatus classifies a single step execution outcome.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusSuspended ExecutionStatus = "suspended"
)

// MessageRole identifies the author of a ChatMessage.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleAssistant MessageRole = "assistant"
	RoleUser      MessageRole = "user"
)

// ChatMessage is an observable event emitted by the interpreter during an
// interactive run. It is a side channel distinct from ExecutionResult.
type ChatMessage struct {
	ID        string         `json:"id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ResumeInput is the external input delivered to a suspended run.
// ChoiceID selects a button edge by handle; Content is always logged as a
// user message first.
type ResumeInput struct {
	Content  string `json:"content"`
	ChoiceID string `json:"choice_id,omitempty"`
}

// ResumePolicy decides whether a suspended interactive run may resume while
// its owning routine instance is not active.
type ResumePolicy string

const (
	// ResumePolicyBlock rejects Resume when the owning instance is paused or
	// archived. Default.
	ResumePolicyBlock ResumePolicy = "block"
	// ResumePolicyDetached decouples suspended runs from instance status.
	ResumePolicyDetached ResumePolicy = "detached"
)

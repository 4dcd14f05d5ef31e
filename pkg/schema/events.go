package schema

// Event type constants for the lifecycle event log and the streaming hub.
const (
	EventRoutineInstantiated  = "routine_instantiated"
	EventRoutineStatusChanged = "routine_status_changed"
	EventVersionSnapshotted   = "version_snapshotted"
	EventVersionRolledBack    = "version_rolled_back"

	EventStepExecuted = "step_executed"
	EventStepFailed   = "step_failed"
	EventStepSkipped  = "step_skipped"

	EventRunStarted   = "run_started"
	EventRunSuspended = "run_suspended"
	EventRunResumed   = "run_resumed"
	EventRunCompleted = "run_completed"
	EventFlowEnded    = "flow_ended"

	EventTriggerDispatched = "trigger_dispatched"
	EventTriggerIgnored    = "trigger_ignored"

	EventChatMessage = "chat_message"
)

// ValidRoutineTransitions defines the allowed lifecycle transitions for
// routine instances. Archived is terminal.
var ValidRoutineTransitions = map[RoutineStatus][]RoutineStatus{
	RoutineStatusActive:   {RoutineStatusPaused, RoutineStatusArchived},
	RoutineStatusPaused:   {RoutineStatusActive, RoutineStatusArchived},
	RoutineStatusArchived: {},
}

// CanTransition reports whether a routine status transition is allowed.
func CanTransition(from, to RoutineStatus) bool {
	for _, allowed := range ValidRoutineTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/playbook/pkg/schema"
)

// Routine is the persisted running instance of a template. Never deleted,
// only archived; mutated only by status transitions and version increments.
type Routine struct {
	ID             string                 `json:"id"`
	TemplateID     string                 `json:"template_id"`
	ScopeID        string                 `json:"scope_id"`
	Name           string                 `json:"name"`
	Status         schema.RoutineStatus   `json:"status"`
	CurrentVersion int                    `json:"current_version"`
	Configuration  map[string]any         `json:"configuration,omitempty"`
	Definition     schema.GraphDefinition `json:"definition"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// VersionSnapshot is one immutable entry in a routine's version history.
// Version numbers are monotonically increasing and never reused; rollback
// appends a new version whose definition equals an old snapshot's.
type VersionSnapshot struct {
	RoutineID  string                 `json:"routine_id"`
	Version    int                    `json:"version"`
	Definition schema.GraphDefinition `json:"definition"`
	CreatedAt  time.Time              `json:"created_at"`
	CreatedBy  string                 `json:"created_by,omitempty"`
}

// ExecutionRecord is one append-only row of the execution audit trail. The
// narrative log is the audit-facing contract: a human-readable sentence, never
// a raw payload dump.
type ExecutionRecord struct {
	ID           int64                  `json:"id"`
	RoutineID    string                 `json:"routine_id"`
	ExecutionID  string                 `json:"execution_id"`
	StepID       string                 `json:"step_id"`
	StepLabel    string                 `json:"step_label,omitempty"`
	Status       schema.ExecutionStatus `json:"status"`
	Success      bool                   `json:"success"`
	NarrativeLog string                 `json:"narrative_log"`
	OutputData   json.RawMessage        `json:"output_data,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Event is an immutable entry in the lifecycle event log.
type Event struct {
	ID        int64           `json:"id"`
	RoutineID string          `json:"routine_id"`
	StepID    string          `json:"step_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ScheduledTrigger is a cron-fired trigger ingress entry: when due, the
// dispatcher is invoked with the trigger key, payload, and scope.
type ScheduledTrigger struct {
	ID          string          `json:"id"`
	TriggerKey  string          `json:"trigger_key"`
	ScopeID     string          `json:"scope_id"`
	CronExpr    string          `json:"cron_expression"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Enabled     bool            `json:"enabled"`
	LastFiredAt *time.Time      `json:"last_fired_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RoutineFilter specifies criteria for listing routines.
type RoutineFilter struct {
	ScopeID string               `json:"scope_id,omitempty"`
	Status  *schema.RoutineStatus `json:"status,omitempty"`
	Limit   int                  `json:"limit,omitempty"`
}

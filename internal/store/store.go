package store

import (
	"context"
	"time"

	"github.com/rendis/playbook/pkg/schema"
)

// Store defines the persistence contract consumed by the engine. The core
// never assumes a specific storage engine; MemoryStore and LibSQLStore are the
// two shipped adapters. All implementations must be safe for concurrent use.
type Store interface {
	// Templates
	StoreTemplate(ctx context.Context, tpl *schema.Template) error
	GetTemplate(ctx context.Context, key string) (*schema.Template, error)
	ListTemplates(ctx context.Context) ([]*schema.Template, error)

	// Routines
	CreateRoutine(ctx context.Context, r *Routine) error
	GetRoutine(ctx context.Context, id string) (*Routine, error)
	ListRoutines(ctx context.Context, filter RoutineFilter) ([]*Routine, error)
	UpdateRoutineStatus(ctx context.Context, id string, status schema.RoutineStatus) error
	UpdateRoutineDefinition(ctx context.Context, id string, version int, def schema.GraphDefinition) error

	// Version snapshots (append-only)
	AppendSnapshot(ctx context.Context, snap *VersionSnapshot) error
	GetSnapshot(ctx context.Context, routineID string, version int) (*VersionSnapshot, error)
	ListSnapshots(ctx context.Context, routineID string) ([]*VersionSnapshot, error)

	// Execution audit trail (append-only)
	AppendExecution(ctx context.Context, rec *ExecutionRecord) error
	ListExecutions(ctx context.Context, routineID string) ([]*ExecutionRecord, error)

	// Lifecycle event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, routineID string, since int64) ([]*Event, error)

	// Chat transcripts
	AppendMessage(ctx context.Context, sessionID string, msg *schema.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]*schema.ChatMessage, error)

	// Scheduled triggers
	CreateScheduledTrigger(ctx context.Context, st *ScheduledTrigger) error
	ListScheduledTriggers(ctx context.Context, enabledOnly bool) ([]*ScheduledTrigger, error)
	MarkTriggerFired(ctx context.Context, id string, at time.Time) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}

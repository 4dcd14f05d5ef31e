// Package lifecycle manages routine instances: instantiation from templates,
// version snapshots and rollback, and status transitions.
package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/playbook/internal/engine"
	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/internal/graph"
	"github.com/rendis/playbook/internal/logging"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

// Manager owns the write path of routine lifecycle state. Version history is
// append-only: snapshots are never rewritten, and rollback records a new
// version carrying old content.
type Manager struct {
	store  store.Store
	fsm    *engine.RoutineFSM
	logger *slog.Logger
}

// NewManager creates a lifecycle Manager.
func NewManager(s store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  s,
		fsm:    engine.NewRoutineFSM(s),
		logger: logger,
	}
}

// Instantiate creates a live routine instance from a template. The template's
// step configs are hydrated against the instance config (literal string
// interpolation of top-level values), and the instance starts active at
// version 1 with its first snapshot recorded.
func (m *Manager) Instantiate(ctx context.Context, tpl *schema.Template, scopeID string, config map[string]any) (*store.Routine, error) {
	if tpl == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "template is nil")
	}
	if scopeID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "scope id is empty")
	}

	// A definition that cannot build never becomes an instance.
	if _, err := graph.Build(&tpl.Definition); err != nil {
		return nil, err
	}

	def := hydrateDefinition(tpl.Definition, config)

	routine := &store.Routine{
		ID:             uuid.NewString(),
		TemplateID:     tpl.ID,
		ScopeID:        scopeID,
		Name:           tpl.Name,
		Status:         schema.RoutineStatusActive,
		CurrentVersion: 1,
		Configuration:  config,
		Definition:     def,
	}

	ctx = logging.WithIDs(ctx, routine.ID, "", scopeID)

	if err := m.store.CreateRoutine(ctx, routine); err != nil {
		return nil, asStoreError(err, "create routine")
	}
	if err := m.store.AppendSnapshot(ctx, &store.VersionSnapshot{
		RoutineID:  routine.ID,
		Version:    1,
		Definition: def,
		CreatedBy:  "instantiate",
	}); err != nil {
		return nil, asStoreError(err, "record initial snapshot")
	}

	m.appendEvent(ctx, routine.ID, schema.EventRoutineInstantiated, map[string]any{
		"template_id":  tpl.ID,
		"template_key": tpl.Key,
		"scope_id":     scopeID,
	})
	logging.LogWith(ctx, m.logger).Info("routine instantiated",
		slog.String("template_key", tpl.Key), slog.String("name", routine.Name))

	return routine, nil
}

// Snapshot records an updated definition as the routine's next version.
func (m *Manager) Snapshot(ctx context.Context, routineID string, def schema.GraphDefinition, createdBy string) (*store.VersionSnapshot, error) {
	if _, err := graph.Build(&def); err != nil {
		return nil, err
	}
	if _, err := m.store.GetRoutine(ctx, routineID); err != nil {
		return nil, err
	}

	version, err := m.nextVersion(ctx, routineID)
	if err != nil {
		return nil, err
	}

	snap := &store.VersionSnapshot{
		RoutineID:  routineID,
		Version:    version,
		Definition: def,
		CreatedBy:  createdBy,
	}
	if err := m.store.AppendSnapshot(ctx, snap); err != nil {
		return nil, asStoreError(err, "append snapshot")
	}
	if err := m.store.UpdateRoutineDefinition(ctx, routineID, version, def); err != nil {
		return nil, asStoreError(err, "update routine definition")
	}

	m.appendEvent(ctx, routineID, schema.EventVersionSnapshotted, map[string]any{
		"version":    version,
		"created_by": createdBy,
	})

	return snap, nil
}

// Rollback restores an old version's definition by appending it as a new
// version. History is never truncated: rolling a routine at version 3 back to
// version 1 yields version 4 with version 1's content, snapshots 1-3 intact.
func (m *Manager) Rollback(ctx context.Context, routineID string, targetVersion int) (*store.Routine, error) {
	routine, err := m.store.GetRoutine(ctx, routineID)
	if err != nil {
		return nil, err
	}

	target, err := m.store.GetSnapshot(ctx, routineID, targetVersion)
	if err != nil {
		return nil, err
	}

	version, err := m.nextVersion(ctx, routineID)
	if err != nil {
		return nil, err
	}

	if err := m.store.AppendSnapshot(ctx, &store.VersionSnapshot{
		RoutineID:  routineID,
		Version:    version,
		Definition: target.Definition,
		CreatedBy:  "rollback",
	}); err != nil {
		return nil, asStoreError(err, "append rollback snapshot")
	}
	if err := m.store.UpdateRoutineDefinition(ctx, routineID, version, target.Definition); err != nil {
		return nil, asStoreError(err, "update routine definition")
	}

	m.appendEvent(ctx, routineID, schema.EventVersionRolledBack, map[string]any{
		"from_version":   routine.CurrentVersion,
		"target_version": targetVersion,
		"new_version":    version,
	})
	logging.LogWith(logging.WithRoutineID(ctx, routineID), m.logger).Info("routine rolled back",
		slog.Int("target_version", targetVersion), slog.Int("new_version", version))

	routine.CurrentVersion = version
	routine.Definition = target.Definition
	return routine, nil
}

// SetStatus transitions a routine's lifecycle status through the FSM, which
// validates the transition and emits the status change event.
func (m *Manager) SetStatus(ctx context.Context, routineID string, status schema.RoutineStatus) (*store.Routine, error) {
	routine, err := m.store.GetRoutine(ctx, routineID)
	if err != nil {
		return nil, err
	}

	if err := m.fsm.Transition(ctx, routineID, routine.Status, status); err != nil {
		return nil, err
	}
	if err := m.store.UpdateRoutineStatus(ctx, routineID, status); err != nil {
		return nil, asStoreError(err, "update routine status")
	}

	logging.LogWith(logging.WithRoutineID(ctx, routineID), m.logger).Info("routine status changed",
		slog.String("from", string(routine.Status)), slog.String("to", string(status)))

	routine.Status = status
	return routine, nil
}

// FSM exposes the transition table, letting callers register hooks.
func (m *Manager) FSM() *engine.RoutineFSM {
	return m.fsm
}

func (m *Manager) nextVersion(ctx context.Context, routineID string) (int, error) {
	snaps, err := m.store.ListSnapshots(ctx, routineID)
	if err != nil {
		return 0, asStoreError(err, "list snapshots")
	}
	max := 0
	for _, s := range snaps {
		if s.Version > max {
			max = s.Version
		}
	}
	return max + 1, nil
}

func (m *Manager) appendEvent(ctx context.Context, routineID, eventType string, payload map[string]any) {
	raw, _ := json.Marshal(payload)
	if err := m.store.AppendEvent(ctx, &store.Event{
		RoutineID: routineID,
		Type:      eventType,
		Payload:   raw,
	}); err != nil {
		logging.LogWith(ctx, m.logger).Error("append lifecycle event",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
}

// hydrateDefinition returns a copy of def with each step's top-level string
// config values interpolated against the instance config, reachable as
// {{config.<key>}}. Run-time namespaces stay untouched until execution.
func hydrateDefinition(def schema.GraphDefinition, config map[string]any) schema.GraphDefinition {
	scope := map[string]any{"config": config}
	out := schema.GraphDefinition{
		Steps: make([]schema.StepDefinition, len(def.Steps)),
		Edges: append([]schema.EdgeDefinition(nil), def.Edges...),
	}
	for i, step := range def.Steps {
		hydrated := step
		if step.Config != nil {
			hydrated.Config = expressions.InterpolateShallow(step.Config, scope)
		}
		out.Steps[i] = hydrated
	}
	return out
}

func asStoreError(err error, op string) error {
	if pe, ok := err.(*schema.PlaybookError); ok {
		return pe
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

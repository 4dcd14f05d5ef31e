package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

// TransitionHook is called before or after a status transition.
type TransitionHook func(from, to schema.RoutineStatus) error

// EventAppender is satisfied by the Store; used by the FSM to emit events on
// transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type hookKey struct {
	from, to schema.RoutineStatus
}

// RoutineFSM manages routine lifecycle status transitions. It is the only
// path through which a routine's status may change: active <-> paused, and
// either into archived, which is terminal.
type RoutineFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

// NewRoutineFSM creates a RoutineFSM that emits events via the given appender.
func NewRoutineFSM(appender EventAppender) *RoutineFSM {
	return &RoutineFSM{
		appender: appender,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *RoutineFSM) OnBefore(from, to schema.RoutineStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *RoutineFSM) OnAfter(from, to schema.RoutineStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a routine status transition, emitting a
// status change event. The caller persists the new status to the store.
func (f *RoutineFSM) Transition(ctx context.Context, routineID string, from, to schema.RoutineStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !schema.CanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid routine transition: %s -> %s", from, to).
			WithDetails(map[string]any{"routine_id": routineID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	payload, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
	event := &store.Event{
		RoutineID: routineID,
		Type:      schema.EventRoutineStatusChanged,
		Payload:   payload,
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit status event: %s", err.Error()).WithCause(err)
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	return nil
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/playbook/pkg/schema"
)

// MemoryStore is an in-memory Store implementation used for tests and for
// simulated deployments without a database file. Safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	templates  map[string]*schema.Template
	routines   map[string]*Routine
	snapshots  map[string][]*VersionSnapshot // routine ID → append order
	executions map[string][]*ExecutionRecord // routine ID → append order
	events     map[string][]*Event           // routine ID → append order
	messages   map[string][]*schema.ChatMessage
	triggers   map[string]*ScheduledTrigger

	execSeq  int64
	eventSeq int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates:  make(map[string]*schema.Template),
		routines:   make(map[string]*Routine),
		snapshots:  make(map[string][]*VersionSnapshot),
		executions: make(map[string][]*ExecutionRecord),
		events:     make(map[string][]*Event),
		messages:   make(map[string][]*schema.ChatMessage),
		triggers:   make(map[string]*ScheduledTrigger),
	}
}

// --- Templates ---

func (s *MemoryStore) StoreTemplate(_ context.Context, tpl *schema.Template) error {
	if tpl == nil || tpl.Key == "" {
		return schema.NewError(schema.ErrCodeValidation, "template key is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tpl
	s.templates[tpl.Key] = &cp
	return nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, key string) (*schema.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "template not found: %s", key)
	}
	cp := *tpl
	return &cp, nil
}

func (s *MemoryStore) ListTemplates(_ context.Context) ([]*schema.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		cp := *tpl
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// --- Routines ---

func (s *MemoryStore) CreateRoutine(_ context.Context, r *Routine) error {
	if r == nil || r.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "routine ID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.routines[r.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "routine %s already exists", r.ID)
	}
	cp := *r
	s.routines[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRoutine(_ context.Context, id string) (*Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routines[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "routine not found: %s", id)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRoutines(_ context.Context, filter RoutineFilter) ([]*Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Routine, 0, len(s.routines))
	for _, r := range s.routines {
		if filter.ScopeID != "" && r.ScopeID != filter.ScopeID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateRoutineStatus(_ context.Context, id string, status schema.RoutineStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routines[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "routine not found: %s", id)
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateRoutineDefinition(_ context.Context, id string, version int, def schema.GraphDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routines[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "routine not found: %s", id)
	}
	r.CurrentVersion = version
	r.Definition = def
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Version snapshots ---

func (s *MemoryStore) AppendSnapshot(_ context.Context, snap *VersionSnapshot) error {
	if snap == nil || snap.RoutineID == "" {
		return schema.NewError(schema.ErrCodeValidation, "snapshot routine ID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.snapshots[snap.RoutineID] {
		if existing.Version == snap.Version {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"snapshot version %d already exists for routine %s", snap.Version, snap.RoutineID)
		}
	}
	cp := *snap
	s.snapshots[snap.RoutineID] = append(s.snapshots[snap.RoutineID], &cp)
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, routineID string, version int) (*VersionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, snap := range s.snapshots[routineID] {
		if snap.Version == version {
			cp := *snap
			return &cp, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound,
		"snapshot version %d not found for routine %s", version, routineID)
}

func (s *MemoryStore) ListSnapshots(_ context.Context, routineID string) ([]*VersionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.snapshots[routineID]
	out := make([]*VersionSnapshot, 0, len(snaps))
	for _, snap := range snaps {
		cp := *snap
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// --- Execution audit trail ---

func (s *MemoryStore) AppendExecution(_ context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.RoutineID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution record routine ID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execSeq++
	cp := *rec
	cp.ID = s.execSeq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	rec.ID = cp.ID
	s.executions[rec.RoutineID] = append(s.executions[rec.RoutineID], &cp)
	return nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, routineID string) ([]*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.executions[routineID]
	out := make([]*ExecutionRecord, 0, len(recs))
	for _, rec := range recs {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// --- Lifecycle event log ---

func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	if event == nil || event.RoutineID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event routine ID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSeq++
	cp := *event
	cp.ID = s.eventSeq
	cp.Sequence = int64(len(s.events[event.RoutineID]) + 1)
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	event.ID = cp.ID
	event.Sequence = cp.Sequence
	s.events[event.RoutineID] = append(s.events[event.RoutineID], &cp)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, routineID string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, 0, len(s.events[routineID]))
	for _, ev := range s.events[routineID] {
		if ev.Sequence <= since {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

// --- Chat transcripts ---

func (s *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg *schema.ChatMessage) error {
	if sessionID == "" || msg == nil {
		return schema.NewError(schema.ErrCodeValidation, "session ID or message is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.messages[sessionID] = append(s.messages[sessionID], &cp)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]*schema.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]*schema.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// --- Scheduled triggers ---

func (s *MemoryStore) CreateScheduledTrigger(_ context.Context, st *ScheduledTrigger) error {
	if st == nil || st.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled trigger ID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.triggers[st.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled trigger %s already exists", st.ID)
	}
	cp := *st
	s.triggers[st.ID] = &cp
	return nil
}

func (s *MemoryStore) ListScheduledTriggers(_ context.Context, enabledOnly bool) ([]*ScheduledTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ScheduledTrigger, 0, len(s.triggers))
	for _, st := range s.triggers {
		if enabledOnly && !st.Enabled {
			continue
		}
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) MarkTriggerFired(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.triggers[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled trigger not found: %s", id)
	}
	st.LastFiredAt = &at
	return nil
}

// Migrate is a no-op for the in-memory adapter.
func (s *MemoryStore) Migrate(_ context.Context) error { return nil }

// Close is a no-op for the in-memory adapter.
func (s *MemoryStore) Close() error { return nil }

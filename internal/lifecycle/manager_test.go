package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

func welcomeTemplate() *schema.Template {
	return &schema.Template{
		ID:   "tpl-1",
		Key:  "client_onboarding",
		Name: "Client Onboarding",
		Definition: schema.GraphDefinition{
			Steps: []schema.StepDefinition{
				{ID: "t", Type: schema.StepTypeTrigger, Key: "new_client_signed"},
				{ID: "s1", Type: schema.StepTypeAction, Key: "send_message", Label: "Send Welcome", Config: map[string]any{
					"to":      "{{payload.clientEmail}}",
					"subject": "Welcome from {{config.company_name}}",
					"body":    "Hello!",
				}},
			},
			Edges: []schema.EdgeDefinition{{Source: "t", Target: "s1"}},
		},
	}
}

func altDefinition() schema.GraphDefinition {
	return schema.GraphDefinition{
		Steps: []schema.StepDefinition{
			{ID: "t", Type: schema.StepTypeTrigger, Key: "new_client_signed"},
			{ID: "s1", Type: schema.StepTypeTag, Label: "Tag Only", Config: map[string]any{"tag": "v2"}},
		},
		Edges: []schema.EdgeDefinition{{Source: "t", Target: "s1"}},
	}
}

func newManagerFixture(t *testing.T) (*Manager, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewManager(s, nil), s
}

func TestInstantiate(t *testing.T) {
	m, s := newManagerFixture(t)
	ctx := context.Background()

	routine, err := m.Instantiate(ctx, welcomeTemplate(), "client-1", map[string]any{
		"company_name": "Acme",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, routine.ID)
	assert.Equal(t, "tpl-1", routine.TemplateID)
	assert.Equal(t, "client-1", routine.ScopeID)
	assert.Equal(t, schema.RoutineStatusActive, routine.Status)
	assert.Equal(t, 1, routine.CurrentVersion)

	// Instance config resolves at instantiation; run-time placeholders stay.
	cfg := routine.Definition.Steps[1].Config
	assert.Equal(t, "Welcome from Acme", cfg["subject"])
	assert.Equal(t, "{{payload.clientEmail}}", cfg["to"])

	stored, err := s.GetRoutine(ctx, routine.ID)
	require.NoError(t, err)
	assert.Equal(t, routine.ID, stored.ID)

	snaps, err := s.ListSnapshots(ctx, routine.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].Version)

	events, err := s.GetEvents(ctx, routine.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, schema.EventRoutineInstantiated, events[0].Type)
}

func TestInstantiateRejectsInvalidDefinition(t *testing.T) {
	m, s := newManagerFixture(t)

	tpl := welcomeTemplate()
	tpl.Definition.Steps = tpl.Definition.Steps[1:] // drop the trigger

	_, err := m.Instantiate(context.Background(), tpl, "client-1", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeGraph, schema.ErrorCode(err))

	routines, lerr := s.ListRoutines(context.Background(), store.RoutineFilter{})
	require.NoError(t, lerr)
	assert.Empty(t, routines)
}

func TestSnapshotAdvancesVersion(t *testing.T) {
	m, s := newManagerFixture(t)
	ctx := context.Background()

	routine, err := m.Instantiate(ctx, welcomeTemplate(), "client-1", nil)
	require.NoError(t, err)

	snap, err := m.Snapshot(ctx, routine.ID, altDefinition(), "operator")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version)
	assert.Equal(t, "operator", snap.CreatedBy)

	stored, err := s.GetRoutine(ctx, routine.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentVersion)
	assert.Equal(t, "Tag Only", stored.Definition.Steps[1].Label)
}

func TestRollbackIsAdditive(t *testing.T) {
	m, s := newManagerFixture(t)
	ctx := context.Background()

	routine, err := m.Instantiate(ctx, welcomeTemplate(), "client-1", nil)
	require.NoError(t, err)

	_, err = m.Snapshot(ctx, routine.ID, altDefinition(), "operator")
	require.NoError(t, err)
	v3 := altDefinition()
	v3.Steps[1].Label = "Tag v3"
	_, err = m.Snapshot(ctx, routine.ID, v3, "operator")
	require.NoError(t, err)

	// v3 -> rollback to v1 produces v4 with v1's content.
	rolled, err := m.Rollback(ctx, routine.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, rolled.CurrentVersion)
	assert.Equal(t, "Send Welcome", rolled.Definition.Steps[1].Label)

	// History is never truncated.
	snaps, err := s.ListSnapshots(ctx, routine.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 4)
	for i, snap := range snaps {
		assert.Equal(t, i+1, snap.Version)
	}
	assert.Equal(t, "rollback", snaps[3].CreatedBy)
	assert.Equal(t, snaps[0].Definition.Steps[1].Label, snaps[3].Definition.Steps[1].Label)

	events, err := s.GetEvents(ctx, routine.ID, 0)
	require.NoError(t, err)
	var sawRollback bool
	for _, ev := range events {
		if ev.Type == schema.EventVersionRolledBack {
			sawRollback = true
		}
	}
	assert.True(t, sawRollback)
}

func TestRollbackUnknownVersion(t *testing.T) {
	m, _ := newManagerFixture(t)
	ctx := context.Background()

	routine, err := m.Instantiate(ctx, welcomeTemplate(), "client-1", nil)
	require.NoError(t, err)

	_, err = m.Rollback(ctx, routine.ID, 99)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}

func TestSetStatus(t *testing.T) {
	m, s := newManagerFixture(t)
	ctx := context.Background()

	routine, err := m.Instantiate(ctx, welcomeTemplate(), "client-1", nil)
	require.NoError(t, err)

	paused, err := m.SetStatus(ctx, routine.ID, schema.RoutineStatusPaused)
	require.NoError(t, err)
	assert.Equal(t, schema.RoutineStatusPaused, paused.Status)

	stored, err := s.GetRoutine(ctx, routine.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RoutineStatusPaused, stored.Status)

	_, err = m.SetStatus(ctx, routine.ID, schema.RoutineStatusArchived)
	require.NoError(t, err)

	// Archived is terminal.
	_, err = m.SetStatus(ctx, routine.ID, schema.RoutineStatusActive)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.ErrorCode(err))

	stored, err = s.GetRoutine(ctx, routine.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RoutineStatusArchived, stored.Status)
}

func TestSetStatusUnknownRoutine(t *testing.T) {
	m, _ := newManagerFixture(t)

	_, err := m.SetStatus(context.Background(), "ghost", schema.RoutineStatusPaused)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

func newDispatcherFixture(t *testing.T) (*Dispatcher, *engineFixture) {
	t.Helper()
	f := newEngineFixture(t, InterpreterConfig{})
	d := NewDispatcher(f.store, f.interp, 4, nil)
	t.Cleanup(d.Shutdown)
	return d, f
}

func TestDispatchSkipsPausedInstance(t *testing.T) {
	d, f := newDispatcherFixture(t)

	f.newRoutine(t, "active-1", schema.RoutineStatusActive, welcomeDefinition())
	f.newRoutine(t, "paused-1", schema.RoutineStatusPaused, welcomeDefinition())

	result, err := d.Dispatch(context.Background(), "new_client_signed", "client-1", map[string]any{
		"clientEmail": "a@b.com",
		"clientName":  "Ada",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 1, result.Ignored)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "active-1", result.Results[0].RoutineID)
	assert.Equal(t, schema.RunStateCompleted, result.Results[0].State)

	// The paused instance was counted and narrated, never executed.
	assert.Contains(t, f.eventTypes(t, "paused-1"), schema.EventTriggerIgnored)
	recs, err := f.store.ListExecutions(context.Background(), "paused-1")
	require.NoError(t, err)
	assert.Empty(t, recs)

	// The active instance ran with the interpolated payload.
	narratives := f.narratives(t, "active-1")
	require.NotEmpty(t, narratives)
	assert.Contains(t, narratives[0], "a@b.com")
}

func TestDispatchNoMatchingTrigger(t *testing.T) {
	d, f := newDispatcherFixture(t)
	f.newRoutine(t, "r1", schema.RoutineStatusActive, welcomeDefinition())

	result, err := d.Dispatch(context.Background(), "invoice_overdue", "client-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Matched)
	assert.Empty(t, result.Results)
}

func TestDispatchScopeIsolation(t *testing.T) {
	d, f := newDispatcherFixture(t)

	inScope := f.newRoutine(t, "r1", schema.RoutineStatusActive, welcomeDefinition())
	outOfScope := &store.Routine{
		ID:         "r2",
		TemplateID: "tpl-r2",
		ScopeID:    "client-2",
		Name:       "r2",
		Status:     schema.RoutineStatusActive,
		Definition: welcomeDefinition(),
	}
	require.NoError(t, f.store.CreateRoutine(context.Background(), outOfScope))

	result, err := d.Dispatch(context.Background(), "new_client_signed", "client-1", map[string]any{
		"clientEmail": "a@b.com",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Matched)
	require.Len(t, result.Results, 1)
	assert.Equal(t, inScope.ID, result.Results[0].RoutineID)

	recs, err := f.store.ListExecutions(context.Background(), "r2")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDispatchEmptyTriggerKey(t *testing.T) {
	d, _ := newDispatcherFixture(t)

	_, err := d.Dispatch(context.Background(), "", "client-1", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestDispatchFailureIsolatedPerInstance(t *testing.T) {
	d, f := newDispatcherFixture(t)

	f.newRoutine(t, "healthy", schema.RoutineStatusActive, welcomeDefinition())

	// Same trigger, but the action has no body so its handler fails.
	broken := welcomeDefinition()
	broken.Steps[1].Config = map[string]any{"to": "{{payload.clientEmail}}"}
	f.newRoutine(t, "broken", schema.RoutineStatusActive, broken)

	result, err := d.Dispatch(context.Background(), "new_client_signed", "client-1", map[string]any{
		"clientEmail": "a@b.com",
		"clientName":  "Ada",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 0, result.Ignored)
	require.Len(t, result.Results, 2)

	outcomes := map[string]FlowOutcome{}
	for _, snap := range result.Results {
		outcomes[snap.RoutineID] = snap.Outcome
	}
	assert.Equal(t, FlowOutcomeCompleted, outcomes["healthy"])
	assert.Equal(t, FlowOutcomeFailed, outcomes["broken"])

	// The healthy instance's run is untouched by its sibling's failure.
	assert.Contains(t, f.narratives(t, "healthy")[0], "a@b.com")
	assert.Contains(t, f.narratives(t, "broken")[0], `Failed to execute "Send Welcome"`)
}

func TestDispatchSuspendedRunsCountAsStarted(t *testing.T) {
	d, f := newDispatcherFixture(t)

	def := schema.GraphDefinition{
		Steps: []schema.StepDefinition{
			{ID: "t", Type: schema.StepTypeTrigger, Key: "approval_needed"},
			{ID: "ask", Type: schema.StepTypeButtons, Config: map[string]any{
				"prompt":  "Approve?",
				"buttons": []any{map[string]any{"id": "yes", "label": "Yes"}},
			}},
			{ID: "done", Type: schema.StepTypeTag, Config: map[string]any{"tag": "approved"}},
		},
		Edges: []schema.EdgeDefinition{
			{Source: "t", Target: "ask"},
			{Source: "ask", Target: "done", Handle: "yes"},
		},
	}
	f.newRoutine(t, "r1", schema.RoutineStatusActive, def)

	result, err := d.Dispatch(context.Background(), "approval_needed", "client-1", nil)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, schema.RunStateSuspended, result.Results[0].State)

	// The suspended session is resumable through the interpreter afterwards.
	snap, err := f.interp.Resume(context.Background(), result.Results[0].SessionID, schema.ResumeInput{ChoiceID: "yes"})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStateCompleted, snap.State)
	assert.Contains(t, f.narratives(t, "r1"), `Applied tag "approved"`)
}

func TestDispatchInvalidDefinitionSkipped(t *testing.T) {
	d, f := newDispatcherFixture(t)

	// No trigger step at all: the routine cannot match and must not break the
	// batch.
	invalid := &store.Routine{
		ID:         "no-trigger",
		TemplateID: "tpl",
		ScopeID:    "client-1",
		Name:       "no-trigger",
		Status:     schema.RoutineStatusActive,
		Definition: schema.GraphDefinition{
			Steps: []schema.StepDefinition{{ID: "a", Type: schema.StepTypeTag}},
		},
	}
	require.NoError(t, f.store.CreateRoutine(context.Background(), invalid))
	f.newRoutine(t, "valid", schema.RoutineStatusActive, welcomeDefinition())

	result, err := d.Dispatch(context.Background(), "new_client_signed", "client-1", map[string]any{
		"clientEmail": "a@b.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "valid", result.Results[0].RoutineID)
}

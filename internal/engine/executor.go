package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rendis/playbook/internal/actions"
	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/internal/logging"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

// RunData is the mutable data scope of one interactive run. Payload holds the
// trigger payload, Memory accumulates step outputs and collected inputs,
// Config carries the routine's hydrated configuration.
type RunData struct {
	Payload map[string]any
	Memory  map[string]any
	Config  map[string]any
}

// NewRunData builds a RunData with non-nil maps.
func NewRunData(payload, config map[string]any) *RunData {
	if payload == nil {
		payload = make(map[string]any)
	}
	if config == nil {
		config = make(map[string]any)
	}
	return &RunData{
		Payload: payload,
		Memory:  make(map[string]any),
		Config:  config,
	}
}

// Scope returns the named-namespace view used by the interpolator and the
// rule engines.
func (d *RunData) Scope() map[string]any {
	return map[string]any{
		"payload": d.Payload,
		"memory":  d.Memory,
		"config":  d.Config,
	}
}

// StepOutcome is the recorded result of one step execution attempt.
type StepOutcome struct {
	StepID    string
	Label     string
	Success   bool
	Narrative string
	Output    json.RawMessage
	Err       *schema.PlaybookError
}

// StepExecutor dispatches action steps to registered handlers. It is the
// fault barrier of the engine: a handler error or panic becomes a failed
// outcome with a human-readable narrative, never a crash.
type StepExecutor struct {
	registry actions.HandlerRegistry
	store    store.Store
	logger   *slog.Logger
}

// NewStepExecutor creates a StepExecutor.
func NewStepExecutor(registry actions.HandlerRegistry, s store.Store, logger *slog.Logger) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepExecutor{registry: registry, store: s, logger: logger}
}

// HasHandler reports whether a handler is registered for the given action key.
func (e *StepExecutor) HasHandler(key string) bool {
	return e.registry.Has(key)
}

// ExecuteAction runs a single action step: resolves the handler by key,
// interpolates the step config against the run data, executes, and appends
// an execution record to the audit trail. Step output is merged into
// data.Memory under the step's ID.
func (e *StepExecutor) ExecuteAction(ctx context.Context, routineID, executionID string, step *schema.StepDefinition, data *RunData) *StepOutcome {
	label := StepLabel(step)
	outcome := &StepOutcome{StepID: step.ID, Label: label}

	defer func() {
		if r := recover(); r != nil {
			outcome.Success = false
			outcome.Err = schema.NewErrorf(schema.ErrCodeHandler, "handler panic: %v", r).WithStep(step.ID)
			outcome.Narrative = failNarrative(label, fmt.Sprintf("panic: %v", r))
			e.record(ctx, routineID, executionID, outcome)
		}
	}()

	handler, err := e.registry.Get(step.Key)
	if err != nil {
		outcome.Err = asPlaybookError(err, schema.ErrCodeHandler).WithStep(step.ID)
		outcome.Narrative = failNarrative(label, outcome.Err.Message)
		e.record(ctx, routineID, executionID, outcome)
		return outcome
	}

	params := expressions.InterpolateDeep(step.Config, data.Scope())

	out, err := handler.Execute(ctx, actions.HandlerInput{
		Params:  params,
		Context: data.Scope(),
	})
	if err != nil {
		outcome.Err = asPlaybookError(err, schema.ErrCodeHandler).WithStep(step.ID)
		outcome.Narrative = failNarrative(label, outcome.Err.Message)
		e.record(ctx, routineID, executionID, outcome)
		return outcome
	}

	outcome.Success = true
	outcome.Narrative = fmt.Sprintf("Executed %q", label)
	if out != nil {
		outcome.Output = out.Data
		if out.Summary != "" {
			outcome.Narrative = fmt.Sprintf("Executed %q: %s", label, out.Summary)
		}
		if len(out.Data) > 0 {
			var parsed map[string]any
			if err := json.Unmarshal(out.Data, &parsed); err == nil {
				data.Memory[step.ID] = parsed
			}
		}
	}

	e.record(ctx, routineID, executionID, outcome)
	return outcome
}

// record appends the execution record. Best-effort: audit failures are logged
// and do not change the outcome.
func (e *StepExecutor) record(ctx context.Context, routineID, executionID string, outcome *StepOutcome) {
	status := schema.ExecutionStatusCompleted
	if !outcome.Success {
		status = schema.ExecutionStatusFailed
	}
	rec := &store.ExecutionRecord{
		RoutineID:    routineID,
		ExecutionID:  executionID,
		StepID:       outcome.StepID,
		StepLabel:    outcome.Label,
		Status:       status,
		Success:      outcome.Success,
		NarrativeLog: outcome.Narrative,
		OutputData:   outcome.Output,
	}
	if err := e.store.AppendExecution(ctx, rec); err != nil {
		logging.LogWith(ctx, e.logger).Error("append execution record",
			slog.String("step_id", outcome.StepID), slog.String("error", err.Error()))
	}
}

// StepLabel picks the audit-facing name of a step.
func StepLabel(step *schema.StepDefinition) string {
	if step.Label != "" {
		return step.Label
	}
	if step.Key != "" {
		return step.Key
	}
	return step.ID
}

func failNarrative(label, reason string) string {
	return fmt.Sprintf("Failed to execute %q: %s", label, reason)
}

func asPlaybookError(err error, fallbackCode string) *schema.PlaybookError {
	if pe, ok := err.(*schema.PlaybookError); ok {
		return pe
	}
	return schema.NewError(fallbackCode, err.Error()).WithCause(err)
}

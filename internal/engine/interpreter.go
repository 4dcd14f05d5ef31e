package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/internal/graph"
	"github.com/rendis/playbook/internal/logging"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/internal/streaming"
	"github.com/rendis/playbook/pkg/schema"
)

// FlowOutcome classifies how a run's flow ended.
type FlowOutcome string

const (
	FlowOutcomeCompleted FlowOutcome = "completed"
	FlowOutcomeFailed    FlowOutcome = "failed"
)

// ButtonOption is one choice offered by a buttons step.
type ButtonOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// RunSnapshot is the observable state of a session after Start or Resume.
type RunSnapshot struct {
	SessionID   string           `json:"session_id"`
	RoutineID   string           `json:"routine_id"`
	State       schema.RunState  `json:"state"`
	Outcome     FlowOutcome      `json:"outcome,omitempty"`
	SuspendedAt string           `json:"suspended_at,omitempty"`
	Prompt      string           `json:"prompt,omitempty"`
	Buttons     []ButtonOption   `json:"buttons,omitempty"`
	Error       *schema.PlaybookError `json:"error,omitempty"`
}

// Session is one interactive run of a routine. A session walks the routine
// graph step by step and suspends at buttons and wait_input steps until
// external input arrives through the resume gateway.
type Session struct {
	ID          string
	RoutineID   string
	ExecutionID string

	graph *graph.Graph
	data  *RunData

	mu       sync.Mutex
	state    schema.RunState
	current  *schema.StepDefinition // the step the session is suspended at
	resuming bool                   // a Resume call is in flight
}

// State returns the session's current run state.
func (s *Session) State() schema.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SuspendedAt returns the ID of the step the session is suspended at, or "".
func (s *Session) SuspendedAt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// InterpreterConfig holds interpreter tuning options.
type InterpreterConfig struct {
	// ResumePolicy decides whether suspended runs may resume while the owning
	// routine is paused or archived. Defaults to block.
	ResumePolicy schema.ResumePolicy
}

// Interpreter drives interactive runs over routine graphs. It also serves as
// the resume gateway: external input enters suspended sessions only through
// Resume, which enforces the instance status gate.
type Interpreter struct {
	store    store.Store
	executor *StepExecutor
	hub      streaming.EventHub
	logger   *slog.Logger
	policy   schema.ResumePolicy
	engines  map[string]expressions.Engine

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewInterpreter creates an Interpreter. The CEL engine is the default for
// rule steps; Expr is available under the "expr" engine name.
func NewInterpreter(s store.Store, executor *StepExecutor, hub streaming.EventHub, logger *slog.Logger, cfg InterpreterConfig) (*Interpreter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ResumePolicy == "" {
		cfg.ResumePolicy = schema.ResumePolicyBlock
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	exprEngine := expressions.NewExprEngine()

	return &Interpreter{
		store:    s,
		executor: executor,
		hub:      hub,
		logger:   logger,
		policy:   cfg.ResumePolicy,
		engines: map[string]expressions.Engine{
			celEngine.Name():  celEngine,
			exprEngine.Name(): exprEngine,
		},
		sessions: make(map[string]*Session),
	}, nil
}

// StartRun begins a new interactive run of the routine with the given trigger
// payload. It advances through the graph until the flow ends or suspends.
func (i *Interpreter) StartRun(ctx context.Context, routine *store.Routine, payload map[string]any) (*RunSnapshot, error) {
	if routine == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "routine is nil")
	}

	g, err := graph.Build(&routine.Definition)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:          uuid.NewString(),
		RoutineID:   routine.ID,
		ExecutionID: uuid.NewString(),
		graph:       g,
		data:        NewRunData(payload, routine.Configuration),
		state:       schema.RunStateRunning,
	}

	i.mu.Lock()
	i.sessions[sess.ID] = sess
	i.mu.Unlock()

	ctx = logging.WithIDs(ctx, routine.ID, "", routine.ScopeID)
	i.appendEvent(ctx, sess, "", schema.EventRunStarted, map[string]any{"session_id": sess.ID})

	return i.advance(ctx, sess, g.StepAfterTrigger()), nil
}

// Resume delivers external input to a suspended session. The input's Content
// is always logged as a user message first; ChoiceID selects a button edge.
func (i *Interpreter) Resume(ctx context.Context, sessionID string, input schema.ResumeInput) (*RunSnapshot, error) {
	i.mu.Lock()
	sess, ok := i.sessions[sessionID]
	i.mu.Unlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session not found: %s", sessionID)
	}

	// Exactly one Resume may route a suspended session onward; a concurrent
	// caller gets a conflict instead of a double-executed path.
	sess.mu.Lock()
	if sess.state != schema.RunStateSuspended || sess.current == nil {
		state := sess.state
		sess.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"session %s is not suspended (state: %s)", sessionID, state)
	}
	if sess.resuming {
		sess.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"session %s already has a resume in flight", sessionID)
	}
	sess.resuming = true
	current := sess.current
	sess.mu.Unlock()
	defer func() {
		sess.mu.Lock()
		sess.resuming = false
		sess.mu.Unlock()
	}()

	// Instance status gate: under the block policy a suspended run may only
	// resume while its owning routine is active.
	routine, err := i.store.GetRoutine(ctx, sess.RoutineID)
	if err != nil {
		return nil, err
	}
	if i.policy == schema.ResumePolicyBlock && routine.Status != schema.RoutineStatusActive {
		return nil, schema.NewErrorf(schema.ErrCodeStatusGate,
			"routine %s is %s; resume is blocked", routine.ID, routine.Status).
			WithDetails(map[string]any{"session_id": sessionID, "status": string(routine.Status)})
	}

	ctx = logging.WithIDs(ctx, sess.RoutineID, current.ID, routine.ScopeID)

	// User input is transcribed before any routing decision.
	if input.Content != "" || input.ChoiceID != "" {
		var meta map[string]any
		if input.ChoiceID != "" {
			meta = map[string]any{"choice_id": input.ChoiceID}
		}
		i.emitMessage(ctx, sess, schema.RoleUser, input.Content, meta)
	}

	// Collected free-form input is stored before routing.
	if current.Type == schema.StepTypeWaitInput {
		sess.data.Memory[stepSaveKey(current)] = input.Content
	}

	// Edge resolution: an explicit choice wins, then the default edge. When
	// neither resolves the flow ends as completed with a narrated reason,
	// never an error.
	var next *schema.StepDefinition
	if input.ChoiceID != "" {
		next = sess.graph.NextByHandle(current.ID, input.ChoiceID)
	}
	if next == nil {
		next = sess.graph.DefaultNext(current.ID)
	}

	sess.mu.Lock()
	sess.state = schema.RunStateRunning
	sess.current = nil
	sess.mu.Unlock()

	i.appendEvent(ctx, sess, current.ID, schema.EventRunResumed, map[string]any{
		"session_id": sess.ID,
		"choice_id":  input.ChoiceID,
	})

	if next == nil {
		i.emitMessage(ctx, sess, schema.RoleSystem, "Flow ended: no path found",
			map[string]any{"code": schema.ErrCodeRouting})
		i.recordExecution(ctx, sess, current, schema.ExecutionStatusCompleted, true,
			fmt.Sprintf("Flow ended at %q: no path found", StepLabel(current)))
		return i.finish(ctx, sess, FlowOutcomeCompleted, nil), nil
	}

	return i.advance(ctx, sess, next), nil
}

// Session returns a snapshot of a known session, or a NotFound error.
func (i *Interpreter) Session(sessionID string) (*RunSnapshot, error) {
	i.mu.Lock()
	sess, ok := i.sessions[sessionID]
	i.mu.Unlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session not found: %s", sessionID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	snap := &RunSnapshot{
		SessionID: sess.ID,
		RoutineID: sess.RoutineID,
		State:     sess.state,
	}
	if sess.current != nil {
		snap.SuspendedAt = sess.current.ID
		snap.Prompt = stepPrompt(sess.current)
		snap.Buttons = stepButtons(sess.current)
	}
	return snap, nil
}

// SessionsByRoutine returns snapshots for all sessions of a routine.
func (i *Interpreter) SessionsByRoutine(routineID string) []*RunSnapshot {
	i.mu.Lock()
	defer i.mu.Unlock()

	var out []*RunSnapshot
	for _, sess := range i.sessions {
		if sess.RoutineID != routineID {
			continue
		}
		sess.mu.Lock()
		snap := &RunSnapshot{
			SessionID: sess.ID,
			RoutineID: sess.RoutineID,
			State:     sess.state,
		}
		if sess.current != nil {
			snap.SuspendedAt = sess.current.ID
		}
		sess.mu.Unlock()
		out = append(out, snap)
	}
	return out
}

// advance walks the graph from node until the flow ends or suspends.
func (i *Interpreter) advance(ctx context.Context, sess *Session, node *schema.StepDefinition) *RunSnapshot {
	for node != nil {
		stepCtx := logging.WithStepID(ctx, node.ID)

		switch node.Type {
		case schema.StepTypeButtons, schema.StepTypeWaitInput:
			return i.suspend(stepCtx, sess, node)

		case schema.StepTypeAction:
			// Unrecognized action keys are a forward-compatible no-op: the
			// step is narrated and skipped, never a flow failure.
			if !i.executor.HasHandler(node.Key) {
				i.emitMessage(stepCtx, sess, schema.RoleSystem,
					fmt.Sprintf("Processed %q", StepLabel(node)), nil)
				i.appendEvent(stepCtx, sess, node.ID, schema.EventStepSkipped, map[string]any{
					"type": string(node.Type),
					"key":  node.Key,
				})
				node = sess.graph.DefaultNext(node.ID)
				continue
			}
			outcome := i.executor.ExecuteAction(stepCtx, sess.RoutineID, sess.ExecutionID, node, sess.data)
			if !outcome.Success {
				i.appendEvent(stepCtx, sess, node.ID, schema.EventStepFailed, map[string]any{
					"narrative": outcome.Narrative,
				})
				return i.finish(stepCtx, sess, FlowOutcomeFailed, outcome.Err)
			}
			i.appendEvent(stepCtx, sess, node.ID, schema.EventStepExecuted, map[string]any{
				"narrative": outcome.Narrative,
			})

		case schema.StepTypeTag:
			i.applyTag(stepCtx, sess, node)

		case schema.StepTypeStage:
			i.enterStage(stepCtx, sess, node)

		case schema.StepTypeRule:
			next, err := i.routeRule(stepCtx, sess, node)
			if err != nil {
				i.appendEvent(stepCtx, sess, node.ID, schema.EventStepFailed, map[string]any{
					"narrative": err.Message,
				})
				return i.finish(stepCtx, sess, FlowOutcomeFailed, err)
			}
			node = next
			continue

		default:
			// Unrecognized types degrade to a no-op passthrough.
			i.appendEvent(stepCtx, sess, node.ID, schema.EventStepSkipped, map[string]any{
				"type": string(node.Type),
			})
		}

		node = sess.graph.DefaultNext(node.ID)
	}

	return i.finish(ctx, sess, FlowOutcomeCompleted, nil)
}

// suspend parks the session at an interactive step and emits its prompt,
// interpolated against the run data.
func (i *Interpreter) suspend(ctx context.Context, sess *Session, node *schema.StepDefinition) *RunSnapshot {
	prompt := expressions.Interpolate(stepPrompt(node), sess.data.Scope())
	buttons := stepButtons(node)

	if prompt != "" {
		var meta map[string]any
		if len(buttons) > 0 {
			meta = map[string]any{"buttons": buttons}
		}
		i.emitMessage(ctx, sess, schema.RoleAssistant, prompt, meta)
	}

	i.recordExecution(ctx, sess, node, schema.ExecutionStatusSuspended, true,
		fmt.Sprintf("Waiting at %q", StepLabel(node)))

	sess.mu.Lock()
	sess.state = schema.RunStateSuspended
	sess.current = node
	sess.mu.Unlock()

	i.appendEvent(ctx, sess, node.ID, schema.EventRunSuspended, map[string]any{
		"session_id": sess.ID,
		"step_type":  string(node.Type),
	})

	return &RunSnapshot{
		SessionID:   sess.ID,
		RoutineID:   sess.RoutineID,
		State:       schema.RunStateSuspended,
		SuspendedAt: node.ID,
		Prompt:      prompt,
		Buttons:     buttons,
	}
}

// finish terminates the flow and marks the session completed.
func (i *Interpreter) finish(ctx context.Context, sess *Session, outcome FlowOutcome, ferr *schema.PlaybookError) *RunSnapshot {
	sess.mu.Lock()
	sess.state = schema.RunStateCompleted
	sess.current = nil
	sess.mu.Unlock()

	i.appendEvent(ctx, sess, "", schema.EventFlowEnded, map[string]any{
		"session_id": sess.ID,
		"outcome":    string(outcome),
	})
	i.appendEvent(ctx, sess, "", schema.EventRunCompleted, map[string]any{"session_id": sess.ID})

	return &RunSnapshot{
		SessionID: sess.ID,
		RoutineID: sess.RoutineID,
		State:     schema.RunStateCompleted,
		Outcome:   outcome,
		Error:     ferr,
	}
}

func (i *Interpreter) applyTag(ctx context.Context, sess *Session, node *schema.StepDefinition) {
	tag, _ := node.Config["tag"].(string)
	if tag == "" {
		tag = StepLabel(node)
	}
	tag = expressions.Interpolate(tag, sess.data.Scope())

	tags, _ := sess.data.Memory["tags"].([]any)
	sess.data.Memory["tags"] = append(tags, tag)

	i.recordExecution(ctx, sess, node, schema.ExecutionStatusCompleted, true,
		fmt.Sprintf("Applied tag %q", tag))
	i.appendEvent(ctx, sess, node.ID, schema.EventStepExecuted, map[string]any{"tag": tag})
}

func (i *Interpreter) enterStage(ctx context.Context, sess *Session, node *schema.StepDefinition) {
	stage, _ := node.Config["stage"].(string)
	if stage == "" {
		stage = StepLabel(node)
	}
	sess.data.Memory["stage"] = stage

	i.recordExecution(ctx, sess, node, schema.ExecutionStatusCompleted, true,
		fmt.Sprintf("Entered stage %q", stage))
	i.appendEvent(ctx, sess, node.ID, schema.EventStepExecuted, map[string]any{"stage": stage})
}

// routeRule evaluates a rule step's expression and picks the matching branch
// by the "true"/"false" edge handle.
func (i *Interpreter) routeRule(ctx context.Context, sess *Session, node *schema.StepDefinition) (*schema.StepDefinition, *schema.PlaybookError) {
	expression, _ := node.Config["expression"].(string)
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "rule step has no expression").WithStep(node.ID)
	}

	engineName, _ := node.Config["engine"].(string)
	if engineName == "" {
		engineName = "cel"
	}
	engine, ok := i.engines[engineName]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "unknown rule engine %q", engineName).WithStep(node.ID)
	}

	result, err := engine.Evaluate(ctx, expression, sess.data.Scope())
	if err != nil {
		return nil, asPlaybookError(err, schema.ErrCodeExpression).WithStep(node.ID)
	}

	verdict, ok := result.(bool)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"rule expression returned %T, want bool", result).WithStep(node.ID)
	}

	i.recordExecution(ctx, sess, node, schema.ExecutionStatusCompleted, true,
		fmt.Sprintf("Evaluated rule %q: %t", StepLabel(node), verdict))

	handle := "false"
	if verdict {
		handle = "true"
	}
	next := sess.graph.NextByHandle(node.ID, handle)
	if next == nil {
		// A rule branch with no edge ends the flow on that side.
		return nil, nil
	}
	return next, nil
}

// emitMessage persists a chat message to the transcript and publishes it.
func (i *Interpreter) emitMessage(ctx context.Context, sess *Session, role schema.MessageRole, content string, meta map[string]any) {
	msg := &schema.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	}
	if err := i.store.AppendMessage(ctx, sess.ID, msg); err != nil {
		logging.LogWith(ctx, i.logger).Error("append chat message", slog.String("error", err.Error()))
	}
	_ = i.hub.Publish(ctx, streaming.StreamEvent{
		RoutineID: sess.RoutineID,
		SessionID: sess.ID,
		EventType: schema.EventChatMessage,
		Payload:   msg,
	})
}

// appendEvent writes to the lifecycle event log and mirrors to the hub.
func (i *Interpreter) appendEvent(ctx context.Context, sess *Session, stepID, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	if err := i.store.AppendEvent(ctx, &store.Event{
		RoutineID: sess.RoutineID,
		StepID:    stepID,
		Type:      eventType,
		Payload:   raw,
	}); err != nil {
		logging.LogWith(ctx, i.logger).Error("append event",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
	_ = i.hub.Publish(ctx, streaming.StreamEvent{
		RoutineID: sess.RoutineID,
		SessionID: sess.ID,
		StepID:    stepID,
		EventType: eventType,
		Payload:   payload,
	})
}

func (i *Interpreter) recordExecution(ctx context.Context, sess *Session, node *schema.StepDefinition, status schema.ExecutionStatus, success bool, narrative string) {
	rec := &store.ExecutionRecord{
		RoutineID:    sess.RoutineID,
		ExecutionID:  sess.ExecutionID,
		StepID:       node.ID,
		StepLabel:    StepLabel(node),
		Status:       status,
		Success:      success,
		NarrativeLog: narrative,
	}
	if err := i.store.AppendExecution(ctx, rec); err != nil {
		logging.LogWith(ctx, i.logger).Error("append execution record", slog.String("error", err.Error()))
	}
}

func stepPrompt(node *schema.StepDefinition) string {
	for _, key := range []string{"prompt", "body", "message"} {
		if prompt, _ := node.Config[key].(string); prompt != "" {
			return prompt
		}
	}
	return ""
}

func stepButtons(node *schema.StepDefinition) []ButtonOption {
	raw, ok := node.Config["buttons"].([]any)
	if !ok {
		return nil
	}
	out := make([]ButtonOption, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		opt := ButtonOption{}
		opt.ID, _ = m["id"].(string)
		opt.Label, _ = m["label"].(string)
		if opt.ID != "" {
			out = append(out, opt)
		}
	}
	return out
}

func stepSaveKey(node *schema.StepDefinition) string {
	if saveAs, _ := node.Config["save_as"].(string); saveAs != "" {
		return saveAs
	}
	if node.Key != "" {
		return node.Key
	}
	return node.ID
}

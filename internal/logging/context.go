package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	routineIDKey ctxKey = iota
	stepIDKey
	scopeIDKey
)

// WithRoutineID returns a context with the routine ID set.
func WithRoutineID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, routineIDKey, id)
}

// WithStepID returns a context with the step ID set.
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

// WithScopeID returns a context with the scope ID set.
func WithScopeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, scopeIDKey, id)
}

// RoutineID extracts the routine ID from the context, or "" if absent.
func RoutineID(ctx context.Context) string {
	v, _ := ctx.Value(routineIDKey).(string)
	return v
}

// StepID extracts the step ID from the context, or "" if absent.
func StepID(ctx context.Context) string {
	v, _ := ctx.Value(stepIDKey).(string)
	return v
}

// ScopeID extracts the scope ID from the context, or "" if absent.
func ScopeID(ctx context.Context) string {
	v, _ := ctx.Value(scopeIDKey).(string)
	return v
}

// WithIDs sets all three correlation IDs on the context at once.
func WithIDs(ctx context.Context, routineID, stepID, scopeID string) context.Context {
	ctx = WithRoutineID(ctx, routineID)
	ctx = WithStepID(ctx, stepID)
	ctx = WithScopeID(ctx, scopeID)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if rID := RoutineID(ctx); rID != "" {
		logger = logger.With(slog.String("routine_id", rID))
	}
	if sID := StepID(ctx); sID != "" {
		logger = logger.With(slog.String("step_id", sID))
	}
	if scID := ScopeID(ctx); scID != "" {
		logger = logger.With(slog.String("scope_id", scID))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := RoutineID(ctx); v != "" {
		r.AddAttrs(slog.String("routine_id", v))
	}
	if v := StepID(ctx); v != "" {
		r.AddAttrs(slog.String("step_id", v))
	}
	if v := ScopeID(ctx); v != "" {
		r.AddAttrs(slog.String("scope_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/internal/streaming"
	"github.com/rendis/playbook/pkg/schema"
)

// ScopeNotifier pushes notifications to connected scope operators.
type ScopeNotifier interface {
	Notify(ctx context.Context, scopeID string, payload map[string]any) error
}

// MCPNotifier implements ScopeNotifier using MCP push notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via the MCP server.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the scope's MCP session.
// Best-effort: returns nil if the scope has no connected session.
func (n *MCPNotifier) Notify(_ context.Context, scopeID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(scopeID)
	if !ok {
		return nil // scope not connected, best-effort
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send — not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// StreamBridge forwards chat messages and run events from the streaming hub
// to scope operators through a ScopeNotifier.
type StreamBridge struct {
	store    store.Store
	hub      streaming.EventHub
	notifier ScopeNotifier
	logger   *slog.Logger
	stop     func()
	done     chan struct{}
}

// NewStreamBridge creates an unstarted bridge.
func NewStreamBridge(s store.Store, hub streaming.EventHub, notifier ScopeNotifier, logger *slog.Logger) *StreamBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamBridge{store: s, hub: hub, notifier: notifier, logger: logger}
}

// Start subscribes to the hub and forwards events until Stop or ctx
// cancellation.
func (b *StreamBridge) Start(ctx context.Context) error {
	events, cancel, err := b.hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{
			schema.EventChatMessage,
			schema.EventRunSuspended,
			schema.EventRunCompleted,
		},
	})
	if err != nil {
		return err
	}
	b.stop = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		for event := range events {
			b.forward(ctx, event)
		}
	}()
	return nil
}

// Stop unsubscribes and waits for the forwarding goroutine to exit.
func (b *StreamBridge) Stop() {
	if b.stop == nil {
		return
	}
	b.stop()
	<-b.done
	b.stop = nil
}

func (b *StreamBridge) forward(ctx context.Context, event streaming.StreamEvent) {
	routine, err := b.store.GetRoutine(ctx, event.RoutineID)
	if err != nil {
		return // routine gone; nothing to route the notification to
	}

	payload := map[string]any{
		"event_type": event.EventType,
		"routine_id": event.RoutineID,
		"session_id": event.SessionID,
		"payload":    event.Payload,
	}
	if err := b.notifier.Notify(ctx, routine.ScopeID, payload); err != nil {
		b.logger.Error("push scope notification",
			slog.String("scope_id", routine.ScopeID),
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()))
	}
}

package channel

import "context"

// Provider delivers outbound messages on behalf of routine steps. Handlers
// treat it as an opaque delivery service; a failed Send surfaces as a step
// failure, never as a crash.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg *OutboundMessage) (*Receipt, error)
}

// OutboundMessage is a single delivery request.
type OutboundMessage struct {
	To      string         `json:"to"`
	Subject string         `json:"subject,omitempty"`
	Body    string         `json:"body"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Receipt acknowledges a delivery.
type Receipt struct {
	MessageID string `json:"message_id"`
	Provider  string `json:"provider"`
}

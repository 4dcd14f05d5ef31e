package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rendis/playbook/internal/logging"
)

// SimulatedProvider logs deliveries instead of sending them. It records every
// message so tests and interactive sessions can inspect what a routine would
// have sent.
type SimulatedProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []*OutboundMessage
}

// NewSimulatedProvider creates a provider that only logs.
func NewSimulatedProvider(logger *slog.Logger) *SimulatedProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedProvider{logger: logger}
}

func (p *SimulatedProvider) Name() string { return "simulated" }

func (p *SimulatedProvider) Send(ctx context.Context, msg *OutboundMessage) (*Receipt, error) {
	if msg == nil {
		return nil, nil
	}
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()

	logging.LogWith(ctx, p.logger).Info("simulated delivery",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_len", len(msg.Body)),
	)

	return &Receipt{
		MessageID: uuid.NewString(),
		Provider:  p.Name(),
	}, nil
}

// Sent returns a copy of all messages delivered so far.
func (p *SimulatedProvider) Sent() []*OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*OutboundMessage, len(p.sent))
	copy(out, p.sent)
	return out
}

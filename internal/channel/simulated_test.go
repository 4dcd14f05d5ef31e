package channel

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedProviderSend(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := NewSimulatedProvider(logger)

	receipt, err := p.Send(context.Background(), &OutboundMessage{
		To:      "client@example.com",
		Subject: "Welcome",
		Body:    "Welcome aboard!",
	})
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.NotEmpty(t, receipt.MessageID)
	assert.Equal(t, "simulated", receipt.Provider)

	assert.Contains(t, buf.String(), "simulated delivery")
	assert.Contains(t, buf.String(), "client@example.com")

	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Welcome aboard!", sent[0].Body)
}

func TestSimulatedProviderNilMessage(t *testing.T) {
	p := NewSimulatedProvider(nil)
	receipt, err := p.Send(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, receipt)
	assert.Empty(t, p.Sent())
}

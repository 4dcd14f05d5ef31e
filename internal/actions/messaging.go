package actions

import (
	"context"
	"fmt"

	"github.com/rendis/playbook/internal/channel"
	"github.com/rendis/playbook/pkg/schema"
)

// MessagingHandlers returns the outbound messaging handlers backed by the
// given channel provider.
func MessagingHandlers(provider channel.Provider) []Handler {
	return []Handler{
		&sendMessageHandler{provider: provider},
		&notifyChannelHandler{provider: provider},
	}
}

const sendMessageInputSchema = `{
  "type": "object",
  "properties": {
    "to": {"type": "string"},
    "subject": {"type": "string"},
    "body": {"type": "string"}
  },
  "required": ["body"]
}`

// --- send_message ---

type sendMessageHandler struct {
	provider channel.Provider
}

func (h *sendMessageHandler) Name() string { return "send_message" }

func (h *sendMessageHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description: "Send a message to a recipient via the configured channel provider",
		InputSchema: []byte(sendMessageInputSchema),
	}
}

func (h *sendMessageHandler) Validate(params map[string]any) error {
	body, _ := params["body"].(string)
	if body == "" {
		return schema.NewError(schema.ErrCodeValidation, "send_message requires non-empty 'body' parameter")
	}
	return nil
}

func (h *sendMessageHandler) Execute(ctx context.Context, input HandlerInput) (*HandlerOutput, error) {
	body, _ := input.Params["body"].(string)
	if body == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "send_message requires non-empty 'body' parameter")
	}
	to, _ := input.Params["to"].(string)
	subject, _ := input.Params["subject"].(string)

	receipt, err := h.provider.Send(ctx, &channel.OutboundMessage{
		To:      to,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "send message: %s", err.Error()).WithCause(err)
	}

	summary := fmt.Sprintf("message sent via %s", receipt.Provider)
	if to != "" {
		summary = fmt.Sprintf("message sent to %s via %s", to, receipt.Provider)
	}
	return marshalOutput(map[string]any{
		"message_id": receipt.MessageID,
		"provider":   receipt.Provider,
		"to":         to,
	}, summary)
}

// --- notify_channel ---

type notifyChannelHandler struct {
	provider channel.Provider
}

func (h *notifyChannelHandler) Name() string { return "notify_channel" }

func (h *notifyChannelHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description: "Post a notification to a named channel",
	}
}

func (h *notifyChannelHandler) Validate(params map[string]any) error {
	ch, _ := params["channel"].(string)
	if ch == "" {
		return schema.NewError(schema.ErrCodeValidation, "notify_channel requires non-empty 'channel' parameter")
	}
	msg, _ := params["message"].(string)
	if msg == "" {
		return schema.NewError(schema.ErrCodeValidation, "notify_channel requires non-empty 'message' parameter")
	}
	return nil
}

func (h *notifyChannelHandler) Execute(ctx context.Context, input HandlerInput) (*HandlerOutput, error) {
	if err := h.Validate(input.Params); err != nil {
		return nil, err
	}
	ch, _ := input.Params["channel"].(string)
	msg, _ := input.Params["message"].(string)

	receipt, err := h.provider.Send(ctx, &channel.OutboundMessage{
		To:   ch,
		Body: msg,
		Meta: map[string]any{"kind": "channel_notification"},
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "notify channel %q: %s", ch, err.Error()).WithCause(err)
	}

	return marshalOutput(map[string]any{
		"message_id": receipt.MessageID,
		"channel":    ch,
	}, fmt.Sprintf("notified %s", ch))
}

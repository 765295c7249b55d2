package handlers

import (
	"context"
	"fmt"

	"github.com/liamcoop/automations/rules"
)

// Notification is an in-app notification addressed to a user or a channel
type Notification struct {
	UserID     string
	Channel    string
	Title      string
	Message    string
	EntityType rules.EntityKind
	EntityID   string
}

// Email is a rendered outbound email
type Email struct {
	To      string
	Subject string
	Body    string
}

// ChatMessage is a message posted to a chat platform channel
type ChatMessage struct {
	Channel string
	Text    string
}

// Delegation hands an event to another automation, typically an AI agent
type Delegation struct {
	Automation string
	Prompt     string
	Input      map[string]any
	Event      rules.Event
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Mailer sends email
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// ChatPoster posts chat messages
type ChatPoster interface {
	Post(ctx context.Context, m ChatMessage) error
}

// Delegator runs a delegated automation and returns its result
type Delegator interface {
	Delegate(ctx context.Context, d Delegation) (any, error)
}

// NotificationHandler performs send_notification.
// Config keys: user_id or channel (one required), title, message.
type NotificationHandler struct {
	Notifier Notifier
}

// Execute implements rules.ActionHandler.
func (h *NotificationHandler) Execute(ctx context.Context, action rules.Action, ev rules.Event) (any, error) {
	n := Notification{EntityType: ev.EntityType, EntityID: ev.EntityID}

	var err error
	if n.UserID, err = stringConfig(action, "user_id", ev); err != nil {
		return nil, err
	}
	if n.Channel, err = stringConfig(action, "channel", ev); err != nil {
		return nil, err
	}
	if n.UserID == "" && n.Channel == "" {
		return nil, fmt.Errorf("%w: %s requires config \"user_id\" or \"channel\"", ErrMissingConfig, action.Type)
	}
	if n.Title, err = stringConfig(action, "title", ev); err != nil {
		return nil, err
	}
	if n.Message, err = stringConfig(action, "message", ev); err != nil {
		return nil, err
	}

	if err := h.Notifier.Notify(ctx, n); err != nil {
		return nil, fmt.Errorf("notification failed: %w", err)
	}
	return map[string]any{"user_id": n.UserID, "channel": n.Channel}, nil
}

// EmailHandler performs send_email.
// Config keys: to (required), subject, body.
type EmailHandler struct {
	Mailer Mailer
}

// Execute implements rules.ActionHandler.
func (h *EmailHandler) Execute(ctx context.Context, action rules.Action, ev rules.Event) (any, error) {
	var e Email
	var err error
	if e.To, err = requiredString(action, "to", ev); err != nil {
		return nil, err
	}
	if e.Subject, err = stringConfig(action, "subject", ev); err != nil {
		return nil, err
	}
	if e.Body, err = stringConfig(action, "body", ev); err != nil {
		return nil, err
	}

	if err := h.Mailer.Send(ctx, e); err != nil {
		return nil, fmt.Errorf("email failed: %w", err)
	}
	return map[string]any{"to": e.To}, nil
}

// ChatHandler performs send_chat_message.
// Config keys: channel and message (both required).
type ChatHandler struct {
	Poster ChatPoster
}

// Execute implements rules.ActionHandler.
func (h *ChatHandler) Execute(ctx context.Context, action rules.Action, ev rules.Event) (any, error) {
	var m ChatMessage
	var err error
	if m.Channel, err = requiredString(action, "channel", ev); err != nil {
		return nil, err
	}
	if m.Text, err = requiredString(action, "message", ev); err != nil {
		return nil, err
	}

	if err := h.Poster.Post(ctx, m); err != nil {
		return nil, fmt.Errorf("chat message failed: %w", err)
	}
	return map[string]any{"channel": m.Channel}, nil
}

// DelegateHandler performs delegate_to_automation.
// Config keys: automation (required), prompt, input (map).
type DelegateHandler struct {
	Delegator Delegator
}

// Execute implements rules.ActionHandler.
func (h *DelegateHandler) Execute(ctx context.Context, action rules.Action, ev rules.Event) (any, error) {
	d := Delegation{Event: ev}
	var err error
	if d.Automation, err = requiredString(action, "automation", ev); err != nil {
		return nil, err
	}
	if d.Prompt, err = stringConfig(action, "prompt", ev); err != nil {
		return nil, err
	}
	if raw, ok := action.Config["input"]; ok && raw != nil {
		input, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config \"input\" must be an object, got %T", raw)
		}
		d.Input = renderValue(input, ev).(map[string]any)
	}

	result, err := h.Delegator.Delegate(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("delegation to %s failed: %w", d.Automation, err)
	}
	return result, nil
}

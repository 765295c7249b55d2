package handlers

import (
	"context"
	"log/slog"

	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/rules"
)

// Deps are the collaborators handlers deliver through. Nil fields leave the
// corresponding action types unregistered, so rules using them fail validation.
type Deps struct {
	Webhook   *WebhookConfig
	Notifier  Notifier
	Mailer    Mailer
	Chat      ChatPoster
	Delegator Delegator
	Entities  EntityService
}

// RegisterAll registers a handler for every action type whose dependency is set
func RegisterAll(x *rules.Executor, deps Deps) {
	if deps.Webhook != nil {
		x.Register(rules.ActionCallWebhook, NewWebhook(*deps.Webhook))
	}
	if deps.Notifier != nil {
		x.Register(rules.ActionSendNotification, &NotificationHandler{Notifier: deps.Notifier})
	}
	if deps.Mailer != nil {
		x.Register(rules.ActionSendEmail, &EmailHandler{Mailer: deps.Mailer})
	}
	if deps.Chat != nil {
		x.Register(rules.ActionSendChatMessage, &ChatHandler{Poster: deps.Chat})
	}
	if deps.Delegator != nil {
		x.Register(rules.ActionDelegateToAutomation, &DelegateHandler{Delegator: deps.Delegator})
	}
	if deps.Entities != nil {
		h := &EntityHandler{Entities: deps.Entities}
		for _, t := range []rules.ActionType{
			rules.ActionAssignEntity,
			rules.ActionChangeStatus,
			rules.ActionAddLabel,
			rules.ActionUpdateField,
			rules.ActionCreateEntity,
		} {
			x.Register(t, h)
		}
	}
}

// LogSink satisfies every delivery interface by logging what would have been
// sent. It backs the service when no real delivery backend is configured.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink on the handlers logger
func NewLogSink() *LogSink {
	return &LogSink{log: logger.Component("handlers.log")}
}

func (s *LogSink) Notify(ctx context.Context, n Notification) error {
	s.log.InfoContext(ctx, "Notification", "user_id", n.UserID, "channel", n.Channel, "title", n.Title, "message", n.Message)
	return nil
}

func (s *LogSink) Send(ctx context.Context, e Email) error {
	s.log.InfoContext(ctx, "Email", "to", e.To, "subject", e.Subject)
	return nil
}

func (s *LogSink) Post(ctx context.Context, m ChatMessage) error {
	s.log.InfoContext(ctx, "Chat message", "channel", m.Channel, "text", m.Text)
	return nil
}

func (s *LogSink) Delegate(ctx context.Context, d Delegation) (any, error) {
	s.log.InfoContext(ctx, "Delegation", "automation", d.Automation, "entity_id", d.Event.EntityID)
	return map[string]any{"delegated": false}, nil
}

func (s *LogSink) Assign(ctx context.Context, kind rules.EntityKind, id, assigneeID string) error {
	s.log.InfoContext(ctx, "Assign", "entity_type", kind, "entity_id", id, "assignee_id", assigneeID)
	return nil
}

func (s *LogSink) SetStatus(ctx context.Context, kind rules.EntityKind, id, status string) error {
	s.log.InfoContext(ctx, "Change status", "entity_type", kind, "entity_id", id, "status", status)
	return nil
}

func (s *LogSink) AddLabel(ctx context.Context, kind rules.EntityKind, id, label string) error {
	s.log.InfoContext(ctx, "Add label", "entity_type", kind, "entity_id", id, "label", label)
	return nil
}

func (s *LogSink) UpdateField(ctx context.Context, kind rules.EntityKind, id, field string, value any) error {
	s.log.InfoContext(ctx, "Update field", "entity_type", kind, "entity_id", id, "field", field, "value", value)
	return nil
}

func (s *LogSink) Create(ctx context.Context, kind rules.EntityKind, fields map[string]any) (string, error) {
	s.log.InfoContext(ctx, "Create entity", "entity_type", kind, "fields", len(fields))
	return "", nil
}

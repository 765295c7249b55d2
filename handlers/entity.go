package handlers

import (
	"context"
	"fmt"

	"github.com/liamcoop/automations/rules"
)

// EntityService mutates domain entities (tasks, projects, ...)
type EntityService interface {
	Assign(ctx context.Context, kind rules.EntityKind, id, assigneeID string) error
	SetStatus(ctx context.Context, kind rules.EntityKind, id, status string) error
	AddLabel(ctx context.Context, kind rules.EntityKind, id, label string) error
	UpdateField(ctx context.Context, kind rules.EntityKind, id, field string, value any) error
	Create(ctx context.Context, kind rules.EntityKind, fields map[string]any) (string, error)
}

// EntityHandler performs the entity mutation actions: assign_entity,
// change_status, add_label, update_field and create_entity.
//
// The target defaults to the event's entity; config "entity_id" and
// "entity_type" override it.
type EntityHandler struct {
	Entities EntityService
}

// Execute implements rules.ActionHandler.
func (h *EntityHandler) Execute(ctx context.Context, action rules.Action, ev rules.Event) (any, error) {
	if action.Type == rules.ActionCreateEntity {
		return h.create(ctx, action, ev)
	}

	kind, id, err := h.target(action, ev)
	if err != nil {
		return nil, err
	}

	switch action.Type {
	case rules.ActionAssignEntity:
		assignee, err := requiredString(action, "assignee_id", ev)
		if err != nil {
			return nil, err
		}
		if err := h.Entities.Assign(ctx, kind, id, assignee); err != nil {
			return nil, fmt.Errorf("assign %s %s: %w", kind, id, err)
		}
		return map[string]any{"entity_id": id, "assignee_id": assignee}, nil

	case rules.ActionChangeStatus:
		status, err := requiredString(action, "status", ev)
		if err != nil {
			return nil, err
		}
		if err := h.Entities.SetStatus(ctx, kind, id, status); err != nil {
			return nil, fmt.Errorf("change status of %s %s: %w", kind, id, err)
		}
		return map[string]any{"entity_id": id, "status": status}, nil

	case rules.ActionAddLabel:
		label, err := requiredString(action, "label", ev)
		if err != nil {
			return nil, err
		}
		if err := h.Entities.AddLabel(ctx, kind, id, label); err != nil {
			return nil, fmt.Errorf("add label to %s %s: %w", kind, id, err)
		}
		return map[string]any{"entity_id": id, "label": label}, nil

	case rules.ActionUpdateField:
		field, err := requiredString(action, "field", ev)
		if err != nil {
			return nil, err
		}
		value, ok := action.Config["value"]
		if !ok {
			return nil, fmt.Errorf("%w: %s requires config \"value\"", ErrMissingConfig, action.Type)
		}
		value = renderValue(value, ev)
		if err := h.Entities.UpdateField(ctx, kind, id, field, value); err != nil {
			return nil, fmt.Errorf("update %s of %s %s: %w", field, kind, id, err)
		}
		return map[string]any{"entity_id": id, "field": field}, nil
	}

	return nil, fmt.Errorf("%w: %s", rules.ErrUnknownActionType, action.Type)
}

func (h *EntityHandler) create(ctx context.Context, action rules.Action, ev rules.Event) (any, error) {
	kindStr, err := requiredString(action, "entity_type", ev)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if raw, ok := action.Config["fields"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config \"fields\" must be an object, got %T", raw)
		}
		fields = renderValue(m, ev).(map[string]any)
	}

	kind := rules.EntityKind(kindStr)
	id, err := h.Entities.Create(ctx, kind, fields)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", kind, err)
	}
	return map[string]any{"entity_id": id, "entity_type": kindStr}, nil
}

func (h *EntityHandler) target(action rules.Action, ev rules.Event) (rules.EntityKind, string, error) {
	kind := ev.EntityType
	id := ev.EntityID

	s, err := stringConfig(action, "entity_type", ev)
	if err != nil {
		return "", "", err
	}
	if s != "" {
		kind = rules.EntityKind(s)
	}
	if s, err = stringConfig(action, "entity_id", ev); err != nil {
		return "", "", err
	}
	if s != "" {
		id = s
	}

	if id == "" {
		return "", "", fmt.Errorf("%w: %s has no target entity", ErrMissingConfig, action.Type)
	}
	return kind, id, nil
}

// Package handlers provides the action handlers behind each rules.ActionType.
//
// Delivery (notifications, email, chat, AI delegates) and entity mutations are
// performed by injected collaborators; handlers only read the action config,
// render placeholders against the triggering event, and report the outcome.
package handlers

import (
	"fmt"
	"regexp"

	"github.com/liamcoop/automations/rules"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render replaces {{path}} placeholders in s with values from the event.
// Paths resolve against the event data first; entity_id, entity_type and
// event_type fall back to the event envelope. Unknown paths render empty.
func Render(s string, ev rules.Event) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		path := placeholder.FindStringSubmatch(m)[1]
		if v, ok := rules.Lookup(ev.Data, path); ok {
			return rules.Text(v)
		}
		switch path {
		case "entity_id":
			return ev.EntityID
		case "entity_type":
			return string(ev.EntityType)
		case "event_type":
			return string(ev.Type)
		}
		return ""
	})
}

// renderValue renders every string inside v, descending into maps and lists
func renderValue(v any, ev rules.Event) any {
	switch t := v.(type) {
	case string:
		return Render(t, ev)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = renderValue(item, ev)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = renderValue(item, ev)
		}
		return out
	default:
		return v
	}
}

// stringConfig returns the rendered string at key, or "" when absent
func stringConfig(action rules.Action, key string, ev rules.Event) (string, error) {
	raw, ok := action.Config[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("config %q must be a string, got %T", key, raw)
	}
	return Render(s, ev), nil
}

// requiredString is stringConfig for keys that must render non-empty
func requiredString(action rules.Action, key string, ev rules.Event) (string, error) {
	s, err := stringConfig(action, key, ev)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s requires config %q", ErrMissingConfig, action.Type, key)
	}
	return s, nil
}

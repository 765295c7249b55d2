package rules

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxNameLength = 200
	maxConditions = 50
	maxActions    = 25
)

var fieldSegment = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// ValidateRule checks a rule before it is stored.
//
// Problems make the rule invalid and are returned as a *ValidationError.
// Warnings (unknown condition operators, which evaluate to false at run time,
// and rules without actions) are returned either way. hasHandler reports
// whether an action type can be executed; nil skips that check.
func ValidateRule(rule *Rule, hasHandler func(ActionType) bool) ([]string, error) {
	v := &ValidationError{RuleName: rule.Name}

	name := strings.TrimSpace(rule.Name)
	if name == "" {
		v.Problems = append(v.Problems, "name cannot be empty")
	}
	if len(rule.Name) > maxNameLength {
		v.Problems = append(v.Problems, fmt.Sprintf("name length %d exceeds maximum of %d characters", len(rule.Name), maxNameLength))
	}

	if !isKnownEventType(rule.Trigger.Type) {
		v.Problems = append(v.Problems, fmt.Sprintf("trigger has unknown event type %q", rule.Trigger.Type))
	}
	if !isKnownEntityKind(rule.Trigger.Entity) {
		v.Problems = append(v.Problems, fmt.Sprintf("trigger has unknown entity kind %q", rule.Trigger.Entity))
	}
	for path := range rule.Trigger.Filters {
		if err := validateFieldPath(path); err != nil {
			v.Problems = append(v.Problems, fmt.Sprintf("trigger filter %q: %v", path, err))
		}
	}

	if len(rule.Conditions) > maxConditions {
		v.Problems = append(v.Problems, fmt.Sprintf("rule contains %d conditions, maximum allowed is %d", len(rule.Conditions), maxConditions))
	}
	for i, c := range rule.Conditions {
		if err := validateFieldPath(c.Field); err != nil {
			v.Problems = append(v.Problems, fmt.Sprintf("condition %d field %q: %v", i, c.Field, err))
		}
		switch c.LogicalOperator {
		case "", LogicalAnd, LogicalOr:
		default:
			v.Problems = append(v.Problems, fmt.Sprintf("condition %d has invalid logical operator %q (must be AND or OR)", i, c.LogicalOperator))
		}
		if !KnownOperator(c.Operator) {
			v.Warnings = append(v.Warnings, fmt.Sprintf("condition %d has unknown operator %q and will always evaluate to false", i, c.Operator))
			continue
		}
		if c.Operator == OpIn || c.Operator == OpNotIn {
			if _, ok := ValueOf(c.Value).(List); !ok {
				v.Warnings = append(v.Warnings, fmt.Sprintf("condition %d uses %s with a non-list value and will always evaluate to false", i, c.Operator))
			}
		}
	}

	if len(rule.Actions) == 0 {
		v.Warnings = append(v.Warnings, "rule has no actions")
	}
	if len(rule.Actions) > maxActions {
		v.Problems = append(v.Problems, fmt.Sprintf("rule contains %d actions, maximum allowed is %d", len(rule.Actions), maxActions))
	}
	for i, a := range rule.Actions {
		if a.Type == "" {
			v.Problems = append(v.Problems, fmt.Sprintf("action %d has empty type", i))
			continue
		}
		if hasHandler != nil && !hasHandler(a.Type) {
			v.Problems = append(v.Problems, fmt.Sprintf("action %d: %v: %s", i, ErrUnknownActionType, a.Type))
		}
		if a.DelayMinutes != nil && *a.DelayMinutes < 0 {
			v.Problems = append(v.Problems, fmt.Sprintf("action %d has negative delay", i))
		}
	}

	if len(v.Problems) > 0 {
		return v.Warnings, v
	}
	return v.Warnings, nil
}

// validateFieldPath checks a dot-separated path has no empty or malformed segments
func validateFieldPath(path string) error {
	if path == "" {
		return fmt.Errorf("field path cannot be empty")
	}
	for _, seg := range strings.Split(path, ".") {
		if !fieldSegment.MatchString(seg) {
			return fmt.Errorf("invalid path segment %q (letters, digits, '_' and '-' only)", seg)
		}
	}
	return nil
}

func isKnownEventType(t EventType) bool {
	switch t {
	case EventTaskCreated, EventTaskUpdated, EventTaskCompleted, EventTaskAssigned,
		EventDeadlineApproaching, EventProjectCreated, EventUserJoined,
		EventSprintStarted, EventSprintEnded, EventCustom:
		return true
	}
	return false
}

func isKnownEntityKind(k EntityKind) bool {
	switch k {
	case EntityTask, EntityProject, EntityUser, EntitySprint, EntityTeam:
		return true
	}
	return false
}

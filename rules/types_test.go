package rules

import (
	"encoding/json"
	"strings"
	"testing"
)

// TestRuleJSONShape verifies the wire names clients depend on
func TestRuleJSONShape(t *testing.T) {
	rule := &Rule{
		ID:      "r1",
		Name:    "Notify",
		Active:  true,
		Trigger: Trigger{Type: EventTaskCreated, Entity: EntityTask},
		Conditions: []Condition{
			{Field: "priority", Operator: OpEquals, Value: "high", LogicalOperator: LogicalAnd},
		},
		Actions: []Action{{Type: ActionSendNotification}},
	}

	b, err := json.Marshal(rule)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	s := string(b)
	for _, want := range []string{
		`"isActive":true`,
		`"type":"task_created"`,
		`"entity":"task"`,
		`"operator":"equals"`,
		`"logicalOperator":"AND"`,
		`"type":"send_notification"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}
}

func TestRuleCloneIsDeep(t *testing.T) {
	delay := 5
	rule := &Rule{
		Trigger:    Trigger{Filters: map[string]any{"priority": "high"}},
		Conditions: []Condition{{Field: "a"}},
		Actions:    []Action{{Type: ActionAddLabel, Config: map[string]any{"label": "x"}, DelayMinutes: &delay}},
	}

	c := rule.Clone()
	c.Trigger.Filters["priority"] = "low"
	c.Conditions[0].Field = "b"
	c.Actions[0].Config["label"] = "y"
	*c.Actions[0].DelayMinutes = 10

	if rule.Trigger.Filters["priority"] != "high" ||
		rule.Conditions[0].Field != "a" ||
		rule.Actions[0].Config["label"] != "x" ||
		*rule.Actions[0].DelayMinutes != 5 {
		t.Errorf("clone shares state with original: %+v", rule)
	}
}

func TestRulePatchApply(t *testing.T) {
	rule := &Rule{Name: "old", Description: "keep", Active: true, Expression: "true"}

	name := "new"
	active := false
	empty := ""
	RulePatch{Name: &name, Active: &active, Expression: &empty}.Apply(rule)

	if rule.Name != "new" || rule.Active || rule.Expression != "" {
		t.Errorf("patch not applied: %+v", rule)
	}
	if rule.Description != "keep" {
		t.Errorf("nil patch field changed Description to %q", rule.Description)
	}
}

func TestRuleInScope(t *testing.T) {
	tests := []struct {
		name  string
		rule  Rule
		scope string
		want  bool
	}{
		{"global", Rule{}, "p1", true},
		{"project match", Rule{ProjectID: "p1"}, "p1", true},
		{"workspace match", Rule{WorkspaceID: "w1"}, "w1", true},
		{"other project", Rule{ProjectID: "p2"}, "p1", false},
		{"global in empty scope", Rule{}, "", true},
		{"workspace rule in empty scope", Rule{WorkspaceID: "w1"}, "", false},
		{"project rule in empty scope", Rule{ProjectID: "p1"}, "", false},
	}
	for _, tt := range tests {
		if got := tt.rule.InScope(tt.scope); got != tt.want {
			t.Errorf("%s: InScope(%q) = %v, want %v", tt.name, tt.scope, got, tt.want)
		}
	}
}

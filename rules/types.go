package rules

import "time"

// EventType identifies what happened to an entity
type EventType string

const (
	EventTaskCreated         EventType = "task_created"
	EventTaskUpdated         EventType = "task_updated"
	EventTaskCompleted       EventType = "task_completed"
	EventTaskAssigned        EventType = "task_assigned"
	EventDeadlineApproaching EventType = "deadline_approaching"
	EventProjectCreated      EventType = "project_created"
	EventUserJoined          EventType = "user_joined"
	EventSprintStarted       EventType = "sprint_started"
	EventSprintEnded         EventType = "sprint_ended"
	EventCustom              EventType = "custom"
)

// EntityKind identifies the kind of entity an event is about
type EntityKind string

const (
	EntityTask    EntityKind = "task"
	EntityProject EntityKind = "project"
	EntityUser    EntityKind = "user"
	EntitySprint  EntityKind = "sprint"
	EntityTeam    EntityKind = "team"
)

// Operator is a field-level comparison used by a Condition
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// LogicalOperator says how a condition combines with the running result of
// the conditions before it. The empty value behaves as AND.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ActionType selects the handler that performs an action
type ActionType string

const (
	ActionSendNotification     ActionType = "send_notification"
	ActionSendEmail            ActionType = "send_email"
	ActionSendChatMessage      ActionType = "send_chat_message"
	ActionAssignEntity         ActionType = "assign_entity"
	ActionChangeStatus         ActionType = "change_status"
	ActionAddLabel             ActionType = "add_label"
	ActionCreateEntity         ActionType = "create_entity"
	ActionUpdateField          ActionType = "update_field"
	ActionCallWebhook          ActionType = "call_webhook"
	ActionDelegateToAutomation ActionType = "delegate_to_automation"
)

// Status is the lifecycle state of an Execution or ActionExecution.
// Both move pending -> running -> completed|failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Rule is a named trigger + conditions + actions definition.
// A rule with Active=false never matches.
type Rule struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	ProjectID   string      `json:"projectId,omitempty" yaml:"project_id,omitempty"`
	WorkspaceID string      `json:"workspaceId,omitempty" yaml:"workspace_id,omitempty"`
	Active      bool        `json:"isActive" yaml:"active"`
	Trigger     Trigger     `json:"trigger" yaml:"trigger"`
	Conditions  []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions     []Action    `json:"actions" yaml:"actions"`

	// Expression is an optional CEL boolean gate evaluated after Conditions
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// Global reports whether the rule has no project or workspace scope
func (r *Rule) Global() bool {
	return r.ProjectID == "" && r.WorkspaceID == ""
}

// InScope reports whether the rule applies within scopeID.
// The empty scope only sees global rules.
func (r *Rule) InScope(scopeID string) bool {
	if r.Global() {
		return true
	}
	if scopeID == "" {
		return false
	}
	return r.ProjectID == scopeID || r.WorkspaceID == scopeID
}

// Clone returns a deep copy of the rule
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	c.Trigger.Filters = cloneMap(r.Trigger.Filters)
	if r.Conditions != nil {
		c.Conditions = make([]Condition, len(r.Conditions))
		copy(c.Conditions, r.Conditions)
	}
	if r.Actions != nil {
		c.Actions = make([]Action, len(r.Actions))
		for i, a := range r.Actions {
			c.Actions[i] = a
			c.Actions[i].Config = cloneMap(a.Config)
			if a.DelayMinutes != nil {
				d := *a.DelayMinutes
				c.Actions[i].DelayMinutes = &d
			}
		}
	}
	return &c
}

// RulePatch carries a partial update. Nil fields are left unchanged.
// There is no ID field: identifiers are immutable once assigned.
type RulePatch struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	ProjectID   *string      `json:"projectId,omitempty"`
	WorkspaceID *string      `json:"workspaceId,omitempty"`
	Active      *bool        `json:"isActive,omitempty"`
	Trigger     *Trigger     `json:"trigger,omitempty"`
	Conditions  *[]Condition `json:"conditions,omitempty"`
	Actions     *[]Action    `json:"actions,omitempty"`
	Expression  *string      `json:"expression,omitempty"`
}

// Apply writes the non-nil fields of p onto r
func (p RulePatch) Apply(r *Rule) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.ProjectID != nil {
		r.ProjectID = *p.ProjectID
	}
	if p.WorkspaceID != nil {
		r.WorkspaceID = *p.WorkspaceID
	}
	if p.Active != nil {
		r.Active = *p.Active
	}
	if p.Trigger != nil {
		r.Trigger = *p.Trigger
	}
	if p.Conditions != nil {
		r.Conditions = *p.Conditions
	}
	if p.Actions != nil {
		r.Actions = *p.Actions
	}
	if p.Expression != nil {
		r.Expression = *p.Expression
	}
}

// Trigger is the event gate that makes a rule eligible for firing.
// Filters are field-path -> literal equalities, all of which must hold.
type Trigger struct {
	Type    EventType      `json:"type" yaml:"type"`
	Entity  EntityKind     `json:"entity" yaml:"entity"`
	Filters map[string]any `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// Condition is a field-level predicate over event data
type Condition struct {
	Field           string          `json:"field" yaml:"field"`
	Operator        Operator        `json:"operator" yaml:"operator"`
	Value           any             `json:"value,omitempty" yaml:"value,omitempty"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty" yaml:"logical_operator,omitempty"`
}

// Action is a single side-effecting step. Config is interpreted only by the
// handler registered for Type. DelayMinutes is advisory and is not enforced
// by the engine.
type Action struct {
	Type         ActionType     `json:"type" yaml:"type"`
	Config       map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	DelayMinutes *int           `json:"delayMinutes,omitempty" yaml:"delay_minutes,omitempty"`
}

// Event is a typed occurrence fed into the engine
type Event struct {
	Type       EventType      `json:"eventType"`
	EntityType EntityKind     `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Data       map[string]any `json:"data"`
}

// Execution is the audit record of one rule firing for one event
type Execution struct {
	ID          string            `json:"id"`
	RuleID      string            `json:"ruleId"`
	RuleName    string            `json:"ruleName"`
	EventType   EventType         `json:"eventType"`
	EntityType  EntityKind        `json:"entityType"`
	EntityID    string            `json:"entityId"`
	Status      Status            `json:"status"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Error       string            `json:"error,omitempty"`
	Actions     []ActionExecution `json:"actions"`
}

// FailedActions returns the action executions that ended in failure
func (e *Execution) FailedActions() []ActionExecution {
	var failed []ActionExecution
	for _, a := range e.Actions {
		if a.Status == StatusFailed {
			failed = append(failed, a)
		}
	}
	return failed
}

// Succeeded reports whether the execution completed with every action completed.
// Status alone only says every action was attempted.
func (e *Execution) Succeeded() bool {
	return e.Status == StatusCompleted && len(e.FailedActions()) == 0
}

// Clone returns a deep copy of the execution
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	if e.Actions != nil {
		c.Actions = make([]ActionExecution, len(e.Actions))
		for i, a := range e.Actions {
			c.Actions[i] = a
			if a.StartedAt != nil {
				t := *a.StartedAt
				c.Actions[i].StartedAt = &t
			}
			if a.CompletedAt != nil {
				t := *a.CompletedAt
				c.Actions[i].CompletedAt = &t
			}
		}
	}
	return &c
}

// ActionExecution is the audit record of one action attempt within an Execution
type ActionExecution struct {
	ID          string     `json:"id"`
	ActionType  ActionType `json:"actionType"`
	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      any        `json:"result,omitempty"`
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

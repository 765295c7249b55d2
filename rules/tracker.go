package rules

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExecutionSink receives finished executions for the audit log / read model.
// Records passed to a sink are copies and are never mutated afterwards.
type ExecutionSink interface {
	Record(ctx context.Context, exec *Execution) error
}

// ExecutionSinkFunc adapts a function to ExecutionSink
type ExecutionSinkFunc func(ctx context.Context, exec *Execution) error

// Record calls f.
func (f ExecutionSinkFunc) Record(ctx context.Context, exec *Execution) error {
	return f(ctx, exec)
}

// Tracker creates and mutates Execution records while a rule fires.
// Each Execution is owned by the single goroutine processing its event.
type Tracker struct {
	now func() time.Time
}

// NewTracker creates a tracker using clock for timestamps
func NewTracker(clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{now: clock}
}

// Begin creates a pending Execution with one pending ActionExecution per
// action, mirroring the rule's action list at fire time.
func (t *Tracker) Begin(rule *Rule, ev Event) *Execution {
	exec := &Execution{
		ID:         uuid.NewString(),
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		EventType:  ev.Type,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Status:     StatusPending,
		StartedAt:  t.now(),
		Actions:    make([]ActionExecution, len(rule.Actions)),
	}
	for i, a := range rule.Actions {
		exec.Actions[i] = ActionExecution{
			ID:         uuid.NewString(),
			ActionType: a.Type,
			Status:     StatusPending,
		}
	}
	return exec
}

// Start moves the execution to running
func (t *Tracker) Start(exec *Execution) {
	exec.Status = StatusRunning
}

// StartAction moves action i to running
func (t *Tracker) StartAction(exec *Execution, i int) {
	now := t.now()
	exec.Actions[i].Status = StatusRunning
	exec.Actions[i].StartedAt = &now
}

// FinishAction records the outcome of action i
func (t *Tracker) FinishAction(exec *Execution, i int, outcome ActionOutcome) {
	now := t.now()
	a := &exec.Actions[i]
	a.Status = outcome.Status
	a.CompletedAt = &now
	a.Result = outcome.Result
	if outcome.Err != nil {
		a.Error = outcome.Err.Error()
	}
}

// Finish marks the execution completed: every action has been attempted.
func (t *Tracker) Finish(exec *Execution) {
	now := t.now()
	exec.Status = StatusCompleted
	exec.CompletedAt = &now
}

// Fail marks the execution failed with a top-level error
func (t *Tracker) Fail(exec *Execution, err error) {
	now := t.now()
	exec.Status = StatusFailed
	exec.CompletedAt = &now
	if err != nil {
		exec.Error = err.Error()
	}
}

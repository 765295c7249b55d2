package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ActionHandler performs the side effect for one action type.
// A returned error marks the action failed; the result is stored on the
// ActionExecution as an opaque payload.
type ActionHandler interface {
	Execute(ctx context.Context, action Action, ev Event) (any, error)
}

// ActionHandlerFunc adapts a function to ActionHandler
type ActionHandlerFunc func(ctx context.Context, action Action, ev Event) (any, error)

// Execute calls f.
func (f ActionHandlerFunc) Execute(ctx context.Context, action Action, ev Event) (any, error) {
	return f(ctx, action, ev)
}

// ActionOutcome is the result of a single action attempt
type ActionOutcome struct {
	Status   Status
	Err      error
	Result   any
	Duration time.Duration
}

// Executor dispatches actions to handlers registered by action type.
// It makes exactly one attempt per action; retries belong to handlers.
type Executor struct {
	handlers map[ActionType]ActionHandler
	mu       sync.RWMutex
}

// NewExecutor creates an executor with no handlers registered
func NewExecutor() *Executor {
	return &Executor{handlers: make(map[ActionType]ActionHandler)}
}

// Register installs handler for actionType, replacing any previous one
func (x *Executor) Register(actionType ActionType, handler ActionHandler) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.handlers[actionType] = handler
}

// RegisterFunc installs a function as the handler for actionType
func (x *Executor) RegisterFunc(actionType ActionType, fn func(ctx context.Context, action Action, ev Event) (any, error)) {
	x.Register(actionType, ActionHandlerFunc(fn))
}

// Has reports whether a handler is registered for actionType
func (x *Executor) Has(actionType ActionType) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.handlers[actionType]
	return ok
}

// Types returns the registered action types, sorted
func (x *Executor) Types() []ActionType {
	x.mu.RLock()
	defer x.mu.RUnlock()

	types := make([]ActionType, 0, len(x.handlers))
	for t := range x.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Run executes one action. It never panics: a panicking handler is recorded
// as a failure, as is an action type with no registered handler.
func (x *Executor) Run(ctx context.Context, action Action, ev Event) (outcome ActionOutcome) {
	x.mu.RLock()
	handler, ok := x.handlers[action.Type]
	x.mu.RUnlock()

	if !ok {
		return ActionOutcome{
			Status: StatusFailed,
			Err:    fmt.Errorf("%w: %s", ErrUnknownActionType, action.Type),
		}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			outcome = ActionOutcome{
				Status:   StatusFailed,
				Err:      fmt.Errorf("handler for %s panicked: %v", action.Type, r),
				Duration: time.Since(start),
			}
		}
	}()

	result, err := handler.Execute(ctx, action, ev)
	outcome = ActionOutcome{Result: result, Duration: time.Since(start)}
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		return outcome
	}
	outcome.Status = StatusCompleted
	return outcome
}

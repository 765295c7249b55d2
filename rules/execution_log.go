package rules

import (
	"context"
	"sync"
)

// DefaultExecutionLogSize is the number of executions ExecutionLog retains
const DefaultExecutionLogSize = 1000

// ExecutionLog is a bounded in-memory ExecutionSink and read model.
// When full, the oldest execution is dropped.
type ExecutionLog struct {
	entries []*Execution
	max     int
	mu      sync.RWMutex
}

// NewExecutionLog creates a log retaining at most max executions
func NewExecutionLog(max int) *ExecutionLog {
	if max <= 0 {
		max = DefaultExecutionLogSize
	}
	return &ExecutionLog{max: max}
}

// Record appends a copy of exec
func (l *ExecutionLog) Record(_ context.Context, exec *Execution) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.max {
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = nil
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, exec.Clone())
	return nil
}

// ExecutionFilter narrows List results. Empty fields match everything.
type ExecutionFilter struct {
	RuleID   string
	EntityID string
}

// List returns matching executions, oldest first
func (l *ExecutionLog) List(filter ExecutionFilter) []*Execution {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Execution
	for _, e := range l.entries {
		if filter.RuleID != "" && e.RuleID != filter.RuleID {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// Len returns the number of retained executions
func (l *ExecutionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// MultiSink fans an execution out to every sink, returning the first error
type MultiSink []ExecutionSink

// Record implements ExecutionSink.
func (m MultiSink) Record(ctx context.Context, exec *Execution) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, exec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

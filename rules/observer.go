package rules

import "time"

// Observer receives engine activity for metrics. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	EventProcessed(eventType EventType, matched int, duration time.Duration)
	EventRejected(eventType EventType)
	RuleFired(ruleID string)
	RuleSkipped(ruleID string)
	ActionFinished(actionType ActionType, status Status, duration time.Duration)
	QueueDepth(depth int)
}

// NopObserver discards everything
type NopObserver struct{}

func (NopObserver) EventProcessed(EventType, int, time.Duration) {}
func (NopObserver) EventRejected(EventType) {}
func (NopObserver) RuleFired(string) {}
func (NopObserver) RuleSkipped(string) {}
func (NopObserver) ActionFinished(ActionType, Status, time.Duration) {}
func (NopObserver) QueueDepth(int) {}

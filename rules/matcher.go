package rules

// Match returns the rules eligible to fire for an event, in the order given.
//
// A rule matches when it is active, its trigger type and entity kind equal the
// event's, and every trigger filter resolves on data to a value equal to the
// configured literal. Missing filter fields simply fail the match.
func Match(rules []*Rule, eventType EventType, entityType EntityKind, data map[string]any) []*Rule {
	var matched []*Rule
	for _, r := range rules {
		if MatchesTrigger(r, eventType, entityType, data) {
			matched = append(matched, r)
		}
	}
	return matched
}

// MatchesTrigger reports whether a single rule's trigger accepts the event
func MatchesTrigger(r *Rule, eventType EventType, entityType EntityKind, data map[string]any) bool {
	if r == nil || !r.Active {
		return false
	}
	if r.Trigger.Type != eventType || r.Trigger.Entity != entityType {
		return false
	}
	for path, want := range r.Trigger.Filters {
		got, ok := Lookup(data, path)
		if !ok || !Equal(got, ValueOf(want)) {
			return false
		}
	}
	return true
}

package rules

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RuleStore manages rule persistence and retrieval.
// List methods return rules in insertion order, which becomes execution order.
type RuleStore interface {
	// Create assigns a fresh ID and timestamps and stores the rule
	Create(rule *Rule) (*Rule, error)

	// Get a rule by ID
	Get(id string) (*Rule, error)

	// Update applies a partial update; returns ErrRuleNotFound if absent
	Update(id string, patch RulePatch) (*Rule, error)

	// Delete a rule, reporting whether it existed
	Delete(id string) (bool, error)

	// ListAll returns every rule, active or not
	ListAll() ([]*Rule, error)

	// ListForScope returns active rules scoped to scopeID plus global rules.
	// The empty scope returns global rules only.
	ListForScope(scopeID string) ([]*Rule, error)
}

// InMemoryRuleStore implements RuleStore using an in-memory map plus an
// insertion-order index. Updates replace the stored pointer with a new copy,
// so a rule handed to a reader is never mutated underneath it.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	order []string
	now   func() time.Time
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
		now:   time.Now,
	}
}

// Create stores a copy of rule under a fresh ID.
// Any ID already on the input is ignored.
func (s *InMemoryRuleStore) Create(rule *Rule) (*Rule, error) {
	stored := rule.Clone()
	stored.ID = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.rules[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	return stored.Clone(), nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, notFound(id)
	}
	return rule.Clone(), nil
}

// Update applies patch to a copy of the stored rule and swaps it in.
// CreatedAt is preserved, UpdatedAt is refreshed.
func (s *InMemoryRuleStore) Update(id string, patch RulePatch) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[id]
	if !exists {
		return nil, notFound(id)
	}

	next := existing.Clone()
	patch.Apply(next)
	next.ID = existing.ID
	next.CreatedAt = existing.CreatedAt
	next.UpdatedAt = s.now()
	s.rules[id] = next
	return next.Clone(), nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return false, nil
	}

	delete(s.rules, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// ListAll returns all rules in insertion order
func (s *InMemoryRuleStore) ListAll() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, s.rules[id].Clone())
	}
	return all, nil
}

// ListForScope returns active rules that apply within scopeID
func (s *InMemoryRuleStore) ListForScope(scopeID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scoped []*Rule
	for _, id := range s.order {
		rule := s.rules[id]
		if rule.Active && rule.InScope(scopeID) {
			scoped = append(scoped, rule.Clone())
		}
	}
	return scoped, nil
}

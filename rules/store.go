package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a rule does not exist.
var ErrNotFound = errors.New("rule not found")

// RuleStore manages rule persistence and retrieval
type RuleStore interface {
	// Add a new rule; an empty ID is assigned
	Add(rule *StoredRule) error

	// Get a rule by ID
	Get(id string) (*StoredRule, error)

	// List the rules of a node ordered by position
	List(nodeID string) ([]*StoredRule, error)

	// Update an existing rule
	Update(rule *StoredRule) error

	// Delete a rule
	Delete(id string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map
type InMemoryRuleStore struct {
	rules map[string]*StoredRule
	mu    sync.RWMutex
}

var _ RuleStore = (*InMemoryRuleStore)(nil)

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*StoredRule),
	}
}

// Add adds a new rule to the store. Positions are unique per node.
func (s *InMemoryRuleStore) Add(rule *StoredRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}
	for _, r := range s.rules {
		if r.NodeID == rule.NodeID && r.Position == rule.Position {
			return fmt.Errorf("node %s already has a rule at position %d", rule.NodeID, rule.Position)
		}
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(id string) (*StoredRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	cp := *rule
	return &cp, nil
}

// List returns the rules of a node ordered by position
func (s *InMemoryRuleStore) List(nodeID string) ([]*StoredRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*StoredRule
	for _, rule := range s.rules {
		if rule.NodeID == nodeID {
			cp := *rule
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Position < list[j].Position })
	return list, nil
}

// Update updates an existing rule, preserving CreatedAt
func (s *InMemoryRuleStore) Update(rule *StoredRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}

	delete(s.rules, id)
	return nil
}

// ReplaceNode deletes the node's rules from store and adds raws in order.
func ReplaceNode(store RuleStore, nodeID string, raws []RawRule) error {
	existing, err := store.List(nodeID)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if err := store.Delete(r.ID); err != nil {
			return err
		}
	}
	for i, raw := range raws {
		sr := &StoredRule{
			NodeID:     nodeID,
			Position:   i + 1,
			Name:       raw.Name,
			Definition: raw,
			Active:     raw.Enabled == nil || *raw.Enabled,
		}
		if err := store.Add(sr); err != nil {
			return fmt.Errorf("failed to store rule %d: %w", i+1, err)
		}
	}
	return nil
}

package rules

import "sync"

// ruleCache holds a node's normalised rules between store reads. It is filled on the
// first read and dropped whenever the engine changes the stored rules.
type ruleCache struct {
	mu    sync.RWMutex
	rules []Rule
	valid bool
}

// get returns a copy of the cached rules.
func (c *ruleCache) get() ([]Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return nil, false
	}
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out, true
}

func (c *ruleCache) put(rules []Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]Rule, len(rules))
	copy(c.rules, rules)
	c.valid = true
}

func (c *ruleCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = nil
	c.valid = false
}

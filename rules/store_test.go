package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/timecontrol/resolve"
)

// TestInMemoryRuleStoreCRUD verifies add, get, update and delete
func TestInMemoryRuleStoreCRUD(t *testing.T) {
	store := NewInMemoryRuleStore()

	rule := &StoredRule{
		NodeID:     "blind",
		Position:   1,
		Name:       "morning",
		Definition: RawRule{Name: "morning", OutputType: resolve.KindNum, OutputValue: "40"},
		Active:     true,
	}
	require.NoError(t, store.Add(rule))
	require.NotEmpty(t, rule.ID, "ID is assigned")
	assert.False(t, rule.CreatedAt.IsZero())

	got, err := store.Get(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "morning", got.Name)
	assert.Equal(t, "40", got.Definition.OutputValue)

	got.Active = false
	require.NoError(t, store.Update(got))
	updated, err := store.Get(rule.ID)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, rule.CreatedAt, updated.CreatedAt, "CreatedAt is preserved")

	require.NoError(t, store.Delete(rule.ID))
	_, err = store.Get(rule.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(rule.ID), ErrNotFound)
	assert.ErrorIs(t, store.Update(rule), ErrNotFound)
}

// TestInMemoryRuleStoreDuplicates verifies unique IDs and unique positions per node
func TestInMemoryRuleStoreDuplicates(t *testing.T) {
	store := NewInMemoryRuleStore()
	require.NoError(t, store.Add(&StoredRule{ID: "a", NodeID: "n", Position: 1}))

	assert.Error(t, store.Add(&StoredRule{ID: "a", NodeID: "n", Position: 2}))
	assert.Error(t, store.Add(&StoredRule{ID: "b", NodeID: "n", Position: 1}))
	assert.NoError(t, store.Add(&StoredRule{ID: "c", NodeID: "other", Position: 1}))
}

// TestInMemoryRuleStoreReturnsCopies verifies callers cannot mutate stored rules
func TestInMemoryRuleStoreReturnsCopies(t *testing.T) {
	store := NewInMemoryRuleStore()
	require.NoError(t, store.Add(&StoredRule{ID: "a", NodeID: "n", Position: 1, Active: true}))

	got, err := store.Get("a")
	require.NoError(t, err)
	got.Active = false

	again, err := store.Get("a")
	require.NoError(t, err)
	assert.True(t, again.Active)
}

// TestReplaceNode verifies a node's rule list is replaced in order
func TestReplaceNode(t *testing.T) {
	store := NewInMemoryRuleStore()
	disabled := false

	require.NoError(t, ReplaceNode(store, "n", []RawRule{{Name: "old"}}))
	require.NoError(t, ReplaceNode(store, "n", []RawRule{
		{Name: "first"},
		{Name: "second", Enabled: &disabled},
		{Name: "third"},
	}))
	require.NoError(t, ReplaceNode(store, "other", []RawRule{{Name: "elsewhere"}}))

	list, err := store.List("n")
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, want := range []string{"first", "second", "third"} {
		assert.Equal(t, want, list[i].Name)
		assert.Equal(t, i+1, list[i].Position)
	}
	assert.False(t, list[1].Active)
}

// TestInMemoryRuleStoreConcurrentAccess verifies the store is safe for concurrent use
func TestInMemoryRuleStoreConcurrentAccess(t *testing.T) {
	store := NewInMemoryRuleStore()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(pos int) {
			defer wg.Done()
			_ = store.Add(&StoredRule{NodeID: "n", Position: pos})
			_, _ = store.List("n")
		}(i + 1)
	}
	wg.Wait()

	list, err := store.List("n")
	require.NoError(t, err)
	assert.Len(t, list, 20)
}

// TestRuleCacheInvalidation verifies the cache hands out copies and empties on invalidate
func TestRuleCacheInvalidation(t *testing.T) {
	var cache ruleCache
	_, ok := cache.get()
	assert.False(t, ok)

	cache.put([]Rule{{ID: 1}})
	got, ok := cache.get()
	require.True(t, ok)
	require.Len(t, got, 1)
	got[0].ID = 99
	again, _ := cache.get()
	assert.Equal(t, 1, again[0].ID, "get returns a copy")

	cache.put(nil)
	empty, ok := cache.get()
	assert.True(t, ok, "an empty rule list is still a cached result")
	assert.Empty(t, empty)

	cache.invalidate()
	_, ok = cache.get()
	assert.False(t, ok)
}

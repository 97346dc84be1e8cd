// Package kvstore persists node state (overwrite state, last-good values, random caches)
// between events and across restarts.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when the key does not exist in the scope.
var ErrNotFound = errors.New("key not found")

// Store is a scoped key-value store. Scopes are usually "node:<id>", "flow" or "global".
type Store interface {
	Get(ctx context.Context, scope, key string) ([]byte, error)
	Set(ctx context.Context, scope, key string, value []byte) error
	Delete(ctx context.Context, scope, key string) error
}

// NodeScope returns the scope owned by one node instance.
func NodeScope(nodeID string) string {
	return "node:" + nodeID
}

// GetJSON loads key into out. It returns false without error when the key is absent.
func GetJSON(ctx context.Context, s Store, scope, key string, out any) (bool, error) {
	raw, err := s.Get(ctx, scope, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", scope, key, err)
	}
	return true, nil
}

// SetJSON stores v under key as JSON.
func SetJSON(ctx context.Context, s Store, scope, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", scope, key, err)
	}
	return s.Set(ctx, scope, key, raw)
}

// GetValue decodes a dot-separated path below key. "a.b.c" reads key "a" and walks
// into its JSON object; used for flow/global property lookups.
func GetValue(ctx context.Context, s Store, scope, path string) (any, bool, error) {
	parts := strings.Split(path, ".")
	var v any
	ok, err := GetJSON(ctx, s, scope, parts[0], &v)
	if err != nil || !ok {
		return nil, false, err
	}
	for _, p := range parts[1:] {
		m, isMap := v.(map[string]any)
		if !isMap {
			return nil, false, nil
		}
		if v, ok = m[p]; !ok {
			return nil, false, nil
		}
	}
	return v, true, nil
}

// Memory is an in-process Store. Safe for concurrent use.
type Memory struct {
	data map[string]map[string][]byte
	mu   sync.RWMutex
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, scope, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[scope][key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(_ context.Context, scope, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.data[scope]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[scope] = bucket
	}
	v := make([]byte, len(value))
	copy(v, value)
	bucket[key] = v
	return nil
}

func (m *Memory) Delete(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[scope], key)
	return nil
}

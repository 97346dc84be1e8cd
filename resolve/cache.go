package resolve

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/liamcoop/timecontrol/kvstore"
)

const (
	tempDataKey    = "tempData"
	randomCacheKey = "randomCache"
)

// TempData holds the last successfully resolved value per property key. It is
// consulted when a later resolution of the same key fails.
type TempData struct {
	values map[string]any
	dirty  bool
	mu     sync.Mutex
}

// NewTempData creates an empty cache
func NewTempData() *TempData {
	return &TempData{values: make(map[string]any)}
}

// Get returns the last good value for key.
func (td *TempData) Get(key string) (any, bool) {
	if td == nil {
		return nil, false
	}
	td.mu.Lock()
	defer td.mu.Unlock()
	v, ok := td.values[key]
	return v, ok
}

// Set records a good value; unchanged values do not mark the cache dirty.
func (td *TempData) Set(key string, v any) {
	if td == nil {
		return
	}
	td.mu.Lock()
	defer td.mu.Unlock()
	if old, ok := td.values[key]; ok && reflect.DeepEqual(old, v) {
		return
	}
	td.values[key] = v
	td.dirty = true
}

// Len returns the number of cached keys.
func (td *TempData) Len() int {
	td.mu.Lock()
	defer td.mu.Unlock()
	return len(td.values)
}

// Load replaces the cache content with what was persisted for scope.
func (td *TempData) Load(ctx context.Context, s kvstore.Store, scope string) error {
	values := make(map[string]any)
	if _, err := kvstore.GetJSON(ctx, s, scope, tempDataKey, &values); err != nil {
		return fmt.Errorf("load temp data: %w", err)
	}
	td.mu.Lock()
	defer td.mu.Unlock()
	td.values = values
	td.dirty = false
	return nil
}

// Save persists the cache if it changed since the last Load/Save.
func (td *TempData) Save(ctx context.Context, s kvstore.Store, scope string) error {
	td.mu.Lock()
	if !td.dirty {
		td.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]any, len(td.values))
	for k, v := range td.values {
		snapshot[k] = v
	}
	td.mu.Unlock()

	if err := kvstore.SetJSON(ctx, s, scope, tempDataKey, snapshot); err != nil {
		return fmt.Errorf("save temp data: %w", err)
	}

	td.mu.Lock()
	td.dirty = false
	td.mu.Unlock()
	return nil
}

type randomEntry struct {
	Period int     `json:"period"`
	Value  float64 `json:"value"`
}

// RandomCache keeps one pseudo-random number per "min_max" key and period (day or
// week), regenerating it when the period changes.
type RandomCache struct {
	entries map[string]randomEntry
	rnd     *rand.Rand
	dirty   bool
	mu      sync.Mutex
}

// NewRandomCache creates a cache; a nil source seeds from the global generator.
func NewRandomCache(rnd *rand.Rand) *RandomCache {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	return &RandomCache{entries: make(map[string]randomEntry), rnd: rnd}
}

// ParseRange parses "min_max".
func ParseRange(s string) (float64, float64, error) {
	parts := strings.Split(strings.TrimSpace(s), "_")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("random range %q must be min_max", s)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("random range %q: %w", s, err)
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("random range %q: %w", s, err)
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi, nil
}

// Get returns the cached number for key in period, generating a new one when the
// period differs from the stored one.
func (rc *RandomCache) Get(key string, period int, lo, hi float64) float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if e, ok := rc.entries[key]; ok && e.Period == period {
		return e.Value
	}
	v := lo + rc.rnd.Float64()*(hi-lo)
	rc.entries[key] = randomEntry{Period: period, Value: v}
	rc.dirty = true
	return v
}

// Load replaces the cache content with what was persisted for scope.
func (rc *RandomCache) Load(ctx context.Context, s kvstore.Store, scope string) error {
	entries := make(map[string]randomEntry)
	if _, err := kvstore.GetJSON(ctx, s, scope, randomCacheKey, &entries); err != nil {
		return fmt.Errorf("load random cache: %w", err)
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries = entries
	rc.dirty = false
	return nil
}

// Save persists the cache if a number was generated since the last Load/Save.
func (rc *RandomCache) Save(ctx context.Context, s kvstore.Store, scope string) error {
	rc.mu.Lock()
	if !rc.dirty {
		rc.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]randomEntry, len(rc.entries))
	for k, v := range rc.entries {
		snapshot[k] = v
	}
	rc.mu.Unlock()

	if err := kvstore.SetJSON(ctx, s, scope, randomCacheKey, snapshot); err != nil {
		return fmt.Errorf("save random cache: %w", err)
	}

	rc.mu.Lock()
	rc.dirty = false
	rc.mu.Unlock()
	return nil
}

package kvstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.Get(ctx, "node:a", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Set(ctx, "node:a", "k", []byte("v1")))
	got, err := s.Get(ctx, "node:a", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// scopes are isolated
	_, err = s.Get(ctx, "node:b", "k")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Delete(ctx, "node:a", "k"))
	_, err = s.Get(ctx, "node:a", "k")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "x", "k", buf))
	buf[0] = 'z'

	got, err := s.Get(ctx, "x", "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	type state struct {
		Active     bool `json:"active"`
		Importance int  `json:"importance"`
	}

	var out state
	ok, err := GetJSON(ctx, s, NodeScope("n1"), "overwrite", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, s, NodeScope("n1"), "overwrite", state{Active: true, Importance: 2}))
	ok, err = GetJSON(ctx, s, NodeScope("n1"), "overwrite", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, state{Active: true, Importance: 2}, out)
}

func TestGetJSONCorrupt(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Set(ctx, "x", "k", []byte("{not json")))

	var out map[string]any
	_, err := GetJSON(ctx, s, "x", "k", &out)
	assert.Error(t, err)
}

func TestGetValuePath(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, SetJSON(ctx, s, "flow", "house", map[string]any{
		"living": map[string]any{"presence": true},
	}))

	v, ok, err := GetValue(ctx, s, "flow", "house.living.presence")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, true, v)

	_, ok, err = GetValue(ctx, s, "flow", "house.kitchen.presence")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = GetValue(ctx, s, "flow", "nothing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNATSKey(t *testing.T) {
	assert.Equal(t, "node_livingroom.overwrite", natsKey("node:livingroom", "overwrite"))
	assert.Equal(t, "flow.a.b", natsKey("flow", "a/b"))
}

func TestMemoryConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Set(ctx, "scope", "k", []byte{byte(i)})
			_, _ = s.Get(ctx, "scope", "k")
		}(i)
	}
	wg.Wait()
}

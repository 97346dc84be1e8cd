package overwrite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/timecontrol/kvstore"
)

func dur(d time.Duration) *time.Duration { return &d }

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// TestActivateAndExpire verifies an expiring override ends exactly at its expiry
func TestActivateAndExpire(t *testing.T) {
	l := NewLifecycle(0)
	assert.Equal(t, Inactive, l.State().Phase())

	tr := l.Apply(Request{Value: 50, Expire: dur(time.Second)}, t0)
	assert.Equal(t, ActionActivated, tr.Action)
	assert.Equal(t, Inactive, tr.From)
	assert.Equal(t, ActiveExpiring, tr.To)

	at, ok := l.State().ExpiresAt()
	require.True(t, ok)
	assert.True(t, at.Equal(t0.Add(time.Second)))

	assert.False(t, l.Expire(t0.Add(999*time.Millisecond)))
	assert.True(t, l.Active())
	assert.True(t, l.Expire(t0.Add(time.Second)))
	assert.False(t, l.Active())
	assert.Equal(t, State{}, l.State())
}

// TestExpiryResolution verifies explicit expiry beats the default and zero never expires
func TestExpiryResolution(t *testing.T) {
	tests := []struct {
		name     string
		def      time.Duration
		expire   *time.Duration
		want     Phase
		expireAt time.Time
	}{
		{"default", time.Minute, nil, ActiveExpiring, t0.Add(time.Minute)},
		{"explicit", time.Minute, dur(5 * time.Second), ActiveExpiring, t0.Add(5 * time.Second)},
		{"explicit never", time.Minute, dur(0), ActiveNoExpiry, time.Time{}},
		{"no default", 0, nil, ActiveNoExpiry, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLifecycle(tt.def)
			l.Apply(Request{Value: "x", Expire: tt.expire}, t0)
			assert.Equal(t, tt.want, l.State().Phase())
			at, ok := l.State().ExpiresAt()
			assert.Equal(t, !tt.expireAt.IsZero(), ok)
			if ok {
				assert.True(t, at.Equal(tt.expireAt))
			}
			if tt.want == ActiveNoExpiry {
				assert.False(t, l.Expire(t0.Add(24*time.Hour)))
			}
		})
	}
}

// TestImportanceGuard verifies lower-importance requests cannot replace an important override
func TestImportanceGuard(t *testing.T) {
	tests := []struct {
		name    string
		current int
		req     Request
		want    Action
	}{
		{"lower ignored", 5, Request{Value: 1, Importance: 3}, ActionIgnored},
		{"equal replaces", 5, Request{Value: 1, Importance: 5}, ActionUpdated},
		{"higher replaces", 5, Request{Value: 1, Importance: 7}, ActionUpdated},
		{"zero current accepts anything", 0, Request{Value: 1, Importance: 0}, ActionUpdated},
		{"exact mismatch ignored", 5, Request{Value: 1, Importance: 7, ExactImportance: true}, ActionIgnored},
		{"exact match replaces", 5, Request{Value: 1, Importance: 5, ExactImportance: true}, ActionUpdated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLifecycle(0)
			l.Apply(Request{Value: 99, Importance: tt.current}, t0)
			tr := l.Apply(tt.req, t0)
			assert.Equal(t, tt.want, tr.Action)
			if tt.want == ActionIgnored {
				assert.Equal(t, 99, l.State().Value)
			} else {
				assert.Equal(t, 1, l.State().Value)
			}
		})
	}
}

// TestResetThenSet verifies a reset clears the override even when the guard would block
func TestResetThenSet(t *testing.T) {
	l := NewLifecycle(0)
	l.Apply(Request{Value: 10, Importance: 9}, t0)

	tr := l.Apply(Request{Reset: true}, t0)
	assert.Equal(t, ActionReset, tr.Action)
	assert.Equal(t, Inactive, tr.To)

	l.Apply(Request{Value: 10, Importance: 9}, t0)
	tr = l.Apply(Request{Reset: true, Value: 20, Importance: 1}, t0)
	assert.Equal(t, ActionActivated, tr.Action)
	assert.Equal(t, 20, l.State().Value)

	tr = NewLifecycle(0).Apply(Request{Reset: true}, t0)
	assert.Equal(t, ActionNone, tr.Action, "resetting an inactive override does nothing")
}

// TestExpiryOnlyRequest verifies an expiry without value retimes the active override
func TestExpiryOnlyRequest(t *testing.T) {
	l := NewLifecycle(0)
	assert.Equal(t, ActionNone, l.Apply(Request{Expire: dur(time.Second)}, t0).Action)

	l.Apply(Request{Value: 1}, t0)
	tr := l.Apply(Request{Expire: dur(2 * time.Second)}, t0.Add(time.Second))
	assert.Equal(t, ActionExpiryUpdated, tr.Action)
	assert.Equal(t, ActiveNoExpiry, tr.From)
	assert.Equal(t, ActiveExpiring, tr.To)
	at, _ := l.State().ExpiresAt()
	assert.True(t, at.Equal(t0.Add(3*time.Second)))
	assert.Equal(t, 1, l.State().Value)
}

// TestRuleReset verifies rules flagged resetOverwrite end the override on rule change only
func TestRuleReset(t *testing.T) {
	l := NewLifecycle(0)
	l.Apply(Request{Value: 1}, t0)

	assert.False(t, l.RuleReset(true, 2, 2), "same rule keeps the override")
	assert.False(t, l.RuleReset(false, 3, 2), "flag not set")
	assert.True(t, l.Active())
	assert.True(t, l.RuleReset(true, 3, 2))
	assert.False(t, l.Active())
	assert.False(t, l.RuleReset(true, 4, 3), "nothing to reset")
}

// TestArbitrate verifies the override wins ties and loses to more important rules
func TestArbitrate(t *testing.T) {
	l := NewLifecycle(0)
	assert.False(t, l.Arbitrate(0), "inactive override never wins")

	l.Apply(Request{Value: 1, Importance: 3}, t0)
	assert.True(t, l.Arbitrate(0))
	assert.True(t, l.Arbitrate(3))
	assert.False(t, l.Arbitrate(4))
}

// TestPersistence verifies state survives a save/load cycle and saves only when dirty
func TestPersistence(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	scope := kvstore.NodeScope("blind")

	l := NewLifecycle(time.Minute)
	require.NoError(t, l.Load(ctx, store, scope))
	assert.False(t, l.Active(), "missing state loads inactive")

	l.Apply(Request{Value: "open", Importance: 2}, t0)
	require.NoError(t, l.Save(ctx, store, scope))

	restored := NewLifecycle(time.Minute)
	require.NoError(t, restored.Load(ctx, store, scope))
	st := restored.State()
	assert.True(t, st.Active)
	assert.Equal(t, "open", st.Value)
	assert.Equal(t, 2, st.Importance)
	assert.Equal(t, t0.Add(time.Minute).UnixMilli(), st.ExpireTs)

	require.NoError(t, store.Delete(ctx, scope, stateKey))
	require.NoError(t, restored.Save(ctx, store, scope))
	_, err := store.Get(ctx, scope, stateKey)
	assert.ErrorIs(t, err, kvstore.ErrNotFound, "clean state is not rewritten")
}

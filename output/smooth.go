package output

import (
	"math"
	"time"
)

// Suppression reasons.
const (
	ReasonSmoothed = "smoothed"
	ReasonMinDelta = "minDelta"
)

// State is the last emitted value and when it last changed.
type State struct {
	Value     float64   `json:"value"`
	Set       bool      `json:"set"`
	ChangedAt time.Time `json:"changedAt"`
}

// Decision is the outcome of filtering one candidate value.
type Decision struct {
	Value      float64
	Changed    bool
	Suppressed bool
	Reason     string
	// Retry is set when a smoothed change may pass after this delay
	Retry time.Duration
}

// Smoother suppresses rapid or tiny changes of a numeric output.
type Smoother struct {
	SmoothTime time.Duration
	MinDelta   float64
	Limits     Limits
}

// Filter decides whether next replaces prev.Value at now. Suppressed decisions carry the
// previous value.
func (s Smoother) Filter(prev State, next float64, now time.Time) Decision {
	if !prev.Set {
		return Decision{Value: next, Changed: true}
	}
	if next == prev.Value {
		return Decision{Value: next}
	}
	if s.SmoothTime > 0 {
		if elapsed := now.Sub(prev.ChangedAt); elapsed < s.SmoothTime {
			return Decision{
				Value:      prev.Value,
				Suppressed: true,
				Reason:     ReasonSmoothed,
				Retry:      s.SmoothTime - elapsed,
			}
		}
	}
	if s.MinDelta > 0 && math.Abs(next-prev.Value) < s.MinDelta && !s.Limits.AtExtreme(next) {
		return Decision{Value: prev.Value, Suppressed: true, Reason: ReasonMinDelta}
	}
	return Decision{Value: next, Changed: true}
}

// Advance returns the state after emitting d at now.
func (prev State) Advance(d Decision, now time.Time) State {
	if d.Suppressed {
		return prev
	}
	next := State{Value: d.Value, Set: true, ChangedAt: prev.ChangedAt}
	if d.Changed {
		next.ChangedAt = now
	}
	return next
}

// Package overwrite tracks the manual override of a node: a value set by hand that
// supersedes rule output until it expires, is reset, or a more important rule wins.
package overwrite

import (
	"context"
	"fmt"
	"time"

	"github.com/liamcoop/timecontrol/kvstore"
)

const stateKey = "overwrite"

// Phase is the lifecycle state of an override.
type Phase string

const (
	Inactive       Phase = "INACTIVE"
	ActiveNoExpiry Phase = "ACTIVE_NO_EXPIRY"
	ActiveExpiring Phase = "ACTIVE_EXPIRING"
)

// State is the persisted override.
type State struct {
	Active     bool  `json:"active"`
	Value      any   `json:"value,omitempty"`
	Importance int   `json:"importance"`
	Expires    bool  `json:"expires"`
	ExpireTs   int64 `json:"expireTs,omitempty"`
}

// Phase derives the lifecycle phase.
func (s State) Phase() Phase {
	switch {
	case !s.Active:
		return Inactive
	case s.Expires:
		return ActiveExpiring
	default:
		return ActiveNoExpiry
	}
}

// ExpiresAt returns the expiry instant of an expiring override.
func (s State) ExpiresAt() (time.Time, bool) {
	if !s.Active || !s.Expires {
		return time.Time{}, false
	}
	return time.UnixMilli(s.ExpireTs), true
}

// Request is the override part of an incoming event.
type Request struct {
	// Value sets the override; nil leaves the value untouched
	Value      any
	Importance int
	// Expire overrides the node's default duration; zero or negative never expires
	Expire *time.Duration
	// Reset clears the override before anything else is applied
	Reset bool
	// ExactImportance ignores requests whose importance differs from the active one
	ExactImportance bool
}

// Action is what Apply did.
type Action string

const (
	ActionNone          Action = "none"
	ActionActivated     Action = "activated"
	ActionUpdated       Action = "updated"
	ActionIgnored       Action = "ignored"
	ActionReset         Action = "reset"
	ActionExpiryUpdated Action = "expiryUpdated"
	ActionExpired       Action = "expired"
)

// Transition describes one state change.
type Transition struct {
	Action Action
	From   Phase
	To     Phase
}

// Lifecycle owns the override state of one node. It is not safe for concurrent use;
// the controller serialises access.
type Lifecycle struct {
	state         State
	defaultExpire time.Duration
	dirty         bool
}

// NewLifecycle creates an inactive override. defaultExpire applies to requests that
// carry no explicit duration; zero means such overrides never expire.
func NewLifecycle(defaultExpire time.Duration) *Lifecycle {
	return &Lifecycle{defaultExpire: defaultExpire}
}

// State returns a copy of the current state.
func (l *Lifecycle) State() State {
	return l.state
}

// Active reports whether an override is in force.
func (l *Lifecycle) Active() bool {
	return l.state.Active
}

// Apply processes the override part of an event at now.
//
// While an override with importance above 0 is active, a request with lower importance
// (or, in exact mode, a different importance) is ignored and the active override stays.
// A request with only an expiry updates the timer of the active override.
func (l *Lifecycle) Apply(req Request, now time.Time) Transition {
	from := l.state.Phase()
	tr := Transition{Action: ActionNone, From: from}

	if req.Reset && l.state.Active {
		l.reset()
		tr.Action = ActionReset
	}

	if req.Value == nil {
		if req.Expire != nil && l.state.Active {
			l.setExpiry(req.Expire, now)
			l.dirty = true
			tr.Action = ActionExpiryUpdated
		}
		tr.To = l.state.Phase()
		return tr
	}

	if l.state.Active && l.state.Importance > 0 {
		ignored := req.Importance < l.state.Importance
		if req.ExactImportance {
			ignored = req.Importance != l.state.Importance
		}
		if ignored {
			tr.Action = ActionIgnored
			tr.To = from
			return tr
		}
	}

	wasActive := l.state.Active
	l.state = State{
		Active:     true,
		Value:      req.Value,
		Importance: req.Importance,
	}
	l.setExpiry(req.Expire, now)
	l.dirty = true

	if wasActive {
		tr.Action = ActionUpdated
	} else {
		tr.Action = ActionActivated
	}
	tr.To = l.state.Phase()
	return tr
}

func (l *Lifecycle) setExpiry(expire *time.Duration, now time.Time) {
	d := l.defaultExpire
	if expire != nil {
		d = *expire
	}
	if d > 0 {
		l.state.Expires = true
		l.state.ExpireTs = now.Add(d).UnixMilli()
		return
	}
	l.state.Expires = false
	l.state.ExpireTs = 0
}

// Expire ends an expiring override whose expiry is at or before now.
func (l *Lifecycle) Expire(now time.Time) bool {
	if !l.state.Active || !l.state.Expires || now.UnixMilli() < l.state.ExpireTs {
		return false
	}
	l.reset()
	return true
}

// RuleReset ends the override when the winning rule asks for it and differs from the
// rule that was active before.
func (l *Lifecycle) RuleReset(resetOverwrite bool, ruleID, prevRuleID int) bool {
	if !l.state.Active || !resetOverwrite || ruleID == prevRuleID {
		return false
	}
	l.reset()
	return true
}

// Arbitrate reports whether the override wins over a rule of the given importance.
// Ties favour the override.
func (l *Lifecycle) Arbitrate(ruleImportance int) bool {
	return l.state.Active && !(ruleImportance > l.state.Importance)
}

func (l *Lifecycle) reset() {
	l.state = State{}
	l.dirty = true
}

// Load restores the persisted state; missing state leaves the override inactive.
func (l *Lifecycle) Load(ctx context.Context, s kvstore.Store, scope string) error {
	var st State
	if _, err := kvstore.GetJSON(ctx, s, scope, stateKey, &st); err != nil {
		return fmt.Errorf("load overwrite: %w", err)
	}
	l.state = st
	l.dirty = false
	return nil
}

// Save persists the state if it changed.
func (l *Lifecycle) Save(ctx context.Context, s kvstore.Store, scope string) error {
	if !l.dirty {
		return nil
	}
	if err := kvstore.SetJSON(ctx, s, scope, stateKey, l.state); err != nil {
		return fmt.Errorf("save overwrite: %w", err)
	}
	l.dirty = false
	return nil
}

// Package controller runs one configured node: it applies manual overrides, selects
// the active rule, post-processes the value and keeps the timers that re-evaluate the
// node on its own.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/timecontrol/daytime"
	"github.com/liamcoop/timecontrol/expression"
	"github.com/liamcoop/timecontrol/internal/logger"
	"github.com/liamcoop/timecontrol/kvstore"
	"github.com/liamcoop/timecontrol/output"
	"github.com/liamcoop/timecontrol/overwrite"
	"github.com/liamcoop/timecontrol/resolve"
	"github.com/liamcoop/timecontrol/rules"
	"github.com/liamcoop/timecontrol/scheduler"
)

// ErrShutdown is returned by Evaluate after Shutdown.
var ErrShutdown = errors.New("controller shut down")

// Reason codes of a result.
const (
	ReasonDefault          = "default"
	ReasonRule             = "rule"
	ReasonOverwrite        = "overwrite"
	ReasonSmoothed         = output.ReasonSmoothed
	ReasonMinDelta         = output.ReasonMinDelta
	ReasonOverwriteIgnored = "overwriteIgnored"
)

// What started an evaluation.
const (
	TriggerInput   = "input"
	TriggerAuto    = "autoTrigger"
	TriggerExpired = "overwriteExpired"
)

const lastStateKey = "lastState"

// Emitter receives the results of timer-driven evaluations.
type Emitter interface {
	Emit(ctx context.Context, res *Result)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, res *Result)

func (f EmitterFunc) Emit(ctx context.Context, res *Result) { f(ctx, res) }

// Event is one input to a node.
type Event struct {
	ID      string
	Topic   string
	Payload any
	Msg     map[string]any
	// Timestamp replaces the evaluation instant when set
	Timestamp *time.Time
	Overwrite *overwrite.Request

	EnableRules  []int
	DisableRules []int

	Trigger string
}

// Result is the outcome of one evaluation.
type Result struct {
	EventID     string      `json:"eventId"`
	NodeID      string      `json:"nodeId"`
	Trigger     string      `json:"trigger"`
	Timestamp   time.Time   `json:"timestamp"`
	Value       any         `json:"value"`
	Topic       string      `json:"topic,omitempty"`
	Slat        any         `json:"slat,omitempty"`
	Reason      Reason      `json:"reason"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Reason explains a result: a machine code plus human-readable texts.
type Reason struct {
	Code        string `json:"code"`
	State       string `json:"state"`
	Description string `json:"description"`
}

// Diagnostics carry the details behind a result.
type Diagnostics struct {
	RuleID            int           `json:"ruleId"`
	RuleName          string        `json:"ruleName,omitempty"`
	Importance        int           `json:"importance"`
	ConditionText     string        `json:"conditionText,omitempty"`
	WindowSource      string        `json:"windowSource,omitempty"`
	Boundary          *time.Time    `json:"boundary,omitempty"`
	Bracketed         bool          `json:"bracketed,omitempty"`
	Overwrite         OverwriteInfo `json:"overwrite"`
	NextTrigger       *time.Time    `json:"nextTrigger,omitempty"`
	NextTriggerReason string        `json:"nextTriggerReason,omitempty"`
}

// OverwriteInfo describes the override after the evaluation.
type OverwriteInfo struct {
	Active     bool             `json:"active"`
	Phase      overwrite.Phase  `json:"phase"`
	Importance int              `json:"importance"`
	Value      any              `json:"value,omitempty"`
	ExpiresAt  *time.Time       `json:"expiresAt,omitempty"`
	Transition overwrite.Action `json:"transition,omitempty"`
}

type lastState struct {
	RuleID int          `json:"ruleId"`
	Output output.State `json:"output"`
}

// Controller is one node instance. Evaluate and the timer callbacks are serialised.
type Controller struct {
	nodeID    string
	settings  Settings
	loc       *time.Location
	engine    *rules.Engine
	resolver  *resolve.Resolver
	overwrite *overwrite.Lifecycle
	temp      *resolve.TempData
	smoother  output.Smoother

	last      lastState
	lastDirty bool
	result    *Result

	store     kvstore.Store
	scope     string
	clock     scheduler.Clock
	expiry    *scheduler.Slot
	retrigger *scheduler.Slot
	emitter   Emitter
	metrics   *Metrics
	log       *slog.Logger

	closed bool
	mu     sync.Mutex
}

// New validates cfg, stores its rules and restores the node's persisted state.
// Configuration problems are returned wrapped in ErrInvalidConfig.
func New(cfg Config, deps Deps) (*Controller, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("%w: node id is required", ErrInvalidConfig)
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Rules != nil {
		if _, err := rules.Normalize(cfg.Rules); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	if deps.Rules == nil {
		deps.Rules = rules.NewInMemoryRuleStore()
	}
	if deps.Store == nil {
		deps.Store = kvstore.NewMemory()
	}
	if deps.Expressions == nil {
		exprs, err := expression.New()
		if err != nil {
			return nil, err
		}
		deps.Expressions = exprs
	}
	if deps.Astro == nil && cfg.Settings.SunTable != nil {
		deps.Astro = cfg.Settings.SunTable
	}
	log := logger.OrDefault(deps.Logger, "controller").With(slog.String("node", cfg.NodeID))

	if cfg.Rules != nil {
		if err := rules.ReplaceNode(deps.Rules, cfg.NodeID, cfg.Rules); err != nil {
			return nil, fmt.Errorf("failed to store rules: %w", err)
		}
	}

	loc := cfg.Settings.location()
	r := resolve.New(resolve.Options{
		Locale:      resolve.Locale{Location: loc, ClockLayouts: cfg.Settings.clockLayouts()},
		Location:    cfg.Settings.Location,
		Astro:       deps.Astro,
		Expressions: deps.Expressions,
		Store:       deps.Store,
		Logger:      log,
		Rand:        deps.Rand,
	})
	engine, err := rules.NewEngine(cfg.NodeID, deps.Rules, r, rules.Defaults{
		Value: cfg.Settings.DefaultValue,
		Topic: cfg.Settings.DefaultTopic,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	sched := scheduler.New(deps.Clock)
	c := &Controller{
		nodeID:    cfg.NodeID,
		settings:  cfg.Settings,
		loc:       loc,
		engine:    engine,
		resolver:  r,
		overwrite: overwrite.NewLifecycle(ms(cfg.Settings.OverwriteExpire)),
		temp:      resolve.NewTempData(),
		smoother:  cfg.Settings.smoother(),
		store:     deps.Store,
		scope:     kvstore.NodeScope(cfg.NodeID),
		clock:     sched.Clock(),
		expiry:    scheduler.NewSlot(sched),
		retrigger: scheduler.NewSlot(sched),
		emitter:   deps.Emitter,
		metrics:   deps.Metrics,
		log:       log,
	}

	if err := c.load(context.Background()); err != nil {
		log.Warn("persisted state not restored", slog.Any("error", err))
	}
	c.mu.Lock()
	c.scheduleExpiry(c.clock.Now())
	c.mu.Unlock()

	log.Info("node configured", slog.Bool("overwriteActive", c.overwrite.Active()))
	return c, nil
}

// NodeID returns the node's id.
func (c *Controller) NodeID() string {
	return c.nodeID
}

// Settings returns the node's settings.
func (c *Controller) Settings() Settings {
	return c.settings
}

// Rules returns the normalised rules with their current enabled state.
func (c *Controller) Rules() ([]rules.Rule, error) {
	return c.engine.Rules()
}

// SetRuleEnabled toggles the rule at 1-based position id.
func (c *Controller) SetRuleEnabled(id int, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.SetEnabled(id, enabled)
}

// Overwrite returns the current override state.
func (c *Controller) Overwrite() overwrite.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overwrite.State()
}

// Last returns the most recent result, nil before the first evaluation.
func (c *Controller) Last() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Evaluate processes one event at now.
func (c *Controller) Evaluate(ctx context.Context, ev Event, now time.Time) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrShutdown
	}
	start := time.Now()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Trigger == "" {
		ev.Trigger = TriggerInput
	}
	if ev.Timestamp != nil && !ev.Timestamp.IsZero() {
		now = *ev.Timestamp
	}
	now = now.In(c.loc)

	c.toggleRules(ev.EnableRules, true)
	c.toggleRules(ev.DisableRules, false)

	rc := &resolve.Context{
		Ctx:     ctx,
		Now:     daytime.NewNow(now),
		Msg:     ev.Msg,
		Payload: ev.Payload,
		Topic:   ev.Topic,
		Temp:    c.temp,
	}

	if c.overwrite.Expire(now) {
		c.log.Info("overwrite expired")
	}
	var tr overwrite.Transition
	if ev.Overwrite != nil {
		tr = c.overwrite.Apply(*ev.Overwrite, now)
		c.logTransition(tr, ev.Overwrite)
	}

	sel := c.engine.Select(rc)

	if tr.Action != overwrite.ActionActivated && tr.Action != overwrite.ActionUpdated {
		if c.overwrite.RuleReset(sel.Main.ResetOverwrite, sel.Main.RuleID, c.last.RuleID) {
			c.log.Info("overwrite reset by rule", slog.Int("rule", sel.Main.RuleID))
		}
	}
	if sel.Main.RuleID != c.last.RuleID {
		c.last.RuleID = sel.Main.RuleID
		c.lastDirty = true
	}

	res := &Result{
		EventID:   ev.ID,
		NodeID:    c.nodeID,
		Trigger:   ev.Trigger,
		Timestamp: now,
		Diagnostics: Diagnostics{
			RuleID:        sel.Main.RuleID,
			RuleName:      sel.Main.Name,
			Importance:    sel.Main.Importance,
			ConditionText: sel.Main.ConditionText,
			WindowSource:  string(sel.Main.Window.Source),
		},
	}
	if b := sel.Main.Window.Boundary; !b.IsZero() {
		res.Diagnostics.Boundary = &b
	}

	var delay output.Delay
	if c.overwrite.Arbitrate(sel.Main.Importance) {
		c.applyOverwrite(res, tr, now)
	} else {
		c.applyRule(res, &sel, &delay, now)
	}

	res.Topic = firstNonEmpty(topicOf(sel.Topic), sel.Main.Topic, c.settings.DefaultTopic, ev.Topic)
	if sel.Slat != nil {
		res.Slat = sel.Slat.Value
	}

	st := c.overwrite.State()
	res.Diagnostics.Overwrite = OverwriteInfo{
		Active:     st.Active,
		Phase:      st.Phase(),
		Importance: st.Importance,
		Value:      st.Value,
		Transition: tr.Action,
	}
	if at, ok := st.ExpiresAt(); ok {
		res.Diagnostics.Overwrite.ExpiresAt = &at
	}

	c.scheduleExpiry(now)
	c.scheduleRetrigger(res, &sel, &delay, now)

	if err := c.save(ctx); err != nil {
		c.log.Warn("state not persisted", slog.Any("error", err))
	}

	c.result = res
	c.metrics.observe(c.nodeID, res, time.Since(start))
	c.log.Debug("node evaluated",
		slog.String("reason", res.Reason.Code),
		slog.Int("rule", res.Diagnostics.RuleID))
	return res, nil
}

func (c *Controller) applyOverwrite(res *Result, tr overwrite.Transition, now time.Time) {
	st := c.overwrite.State()
	value := st.Value
	if f, ok := numeric(value); ok {
		f = c.settings.Limits.Apply(f)
		value = f
		changed := !c.last.Output.Set || f != c.last.Output.Value
		c.emitted(output.Decision{Value: f, Changed: changed}, now)
	}

	code := ReasonOverwrite
	if tr.Action == overwrite.ActionIgnored {
		code = ReasonOverwriteIgnored
	}
	res.Value = value
	res.Reason = Reason{
		Code:        code,
		State:       fmt.Sprintf("%v - overwrite", value),
		Description: describeOverwrite(st),
	}
}

func (c *Controller) applyRule(res *Result, sel *rules.Selection, delay *output.Delay, now time.Time) {
	value := sel.Main.Value
	code := ReasonRule
	label := fmt.Sprintf("rule %d", sel.Main.RuleID)
	if sel.Default {
		code = ReasonDefault
		label = "default"
	}

	if f, ok := numeric(value); ok {
		f, res.Diagnostics.Bracketed = sel.Bracket(f)
		f = c.settings.Limits.Apply(f)
		d := c.smoother.Filter(c.last.Output, f, now)
		if d.Suppressed {
			code = d.Reason
			if d.Retry > 0 {
				delay.Offer(d.Retry, ReasonSmoothed)
			}
		}
		c.emitted(d, now)
		value = d.Value
	}

	res.Value = value
	res.Reason = Reason{
		Code:        code,
		State:       fmt.Sprintf("%v - %s", value, label),
		Description: sel.Main.Description,
	}
}

func (c *Controller) emitted(d output.Decision, now time.Time) {
	next := c.last.Output.Advance(d, now)
	if next != c.last.Output {
		c.last.Output = next
		c.lastDirty = true
	}
}

func (c *Controller) toggleRules(ids []int, enabled bool) {
	for _, id := range ids {
		if err := c.engine.SetEnabled(id, enabled); err != nil {
			c.log.Warn("rule toggle failed", slog.Int("rule", id), slog.Any("error", err))
		}
	}
}

func (c *Controller) logTransition(tr overwrite.Transition, req *overwrite.Request) {
	switch tr.Action {
	case overwrite.ActionNone:
		return
	case overwrite.ActionIgnored:
		c.log.Debug("overwrite request ignored",
			slog.Int("importance", req.Importance),
			slog.String("phase", string(tr.From)))
	default:
		c.log.Info("overwrite "+string(tr.Action),
			slog.String("from", string(tr.From)),
			slog.String("to", string(tr.To)),
			slog.Int("importance", req.Importance))
	}
}

// scheduleExpiry must be called with c.mu held.
func (c *Controller) scheduleExpiry(now time.Time) {
	at, ok := c.overwrite.State().ExpiresAt()
	if !ok {
		c.expiry.Clear()
		return
	}
	d := at.Sub(now)
	c.expiry.Reset(d, func() { c.fire(TriggerExpired) })
	c.metrics.timer(c.nodeID, TriggerExpired)
	c.log.Debug("overwrite expiry scheduled", slog.Time("at", at))
}

// scheduleRetrigger must be called with c.mu held.
func (c *Controller) scheduleRetrigger(res *Result, sel *rules.Selection, delay *output.Delay, now time.Time) {
	if c.settings.AutoTrigger.Enabled {
		delay.Offer(c.settings.autoTriggerInterval(), "interval")
		if !sel.NextBoundary.IsZero() {
			delay.Offer(sel.NextBoundary.Sub(now), "boundary")
		}
	}

	d, reason, ok := delay.Get()
	if !ok {
		c.retrigger.Clear()
		return
	}
	c.retrigger.Reset(d, func() { c.fire(TriggerAuto) })
	c.metrics.timer(c.nodeID, TriggerAuto)

	at := now.Add(d)
	res.Diagnostics.NextTrigger = &at
	res.Diagnostics.NextTriggerReason = reason
	c.log.Debug("re-evaluation scheduled", slog.Duration("in", d), slog.String("reason", reason))
}

func (c *Controller) fire(trigger string) {
	ctx := context.Background()
	res, err := c.Evaluate(ctx, Event{Trigger: trigger}, c.clock.Now())
	if err != nil {
		if !errors.Is(err, ErrShutdown) {
			c.log.Error("timer evaluation failed", slog.String("trigger", trigger), slog.Any("error", err))
		}
		return
	}
	if c.emitter != nil {
		c.emitter.Emit(ctx, res)
	}
}

// Shutdown cancels all timers and persists the state. Later evaluations fail with
// ErrShutdown.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.expiry.Clear()
	c.retrigger.Clear()

	if err := c.save(context.Background()); err != nil {
		c.log.Warn("state not persisted on shutdown", slog.Any("error", err))
	}
	c.metrics.forget(c.nodeID)
	c.log.Info("node shut down")
}

func (c *Controller) load(ctx context.Context) error {
	var last lastState
	_, err := kvstore.GetJSON(ctx, c.store, c.scope, lastStateKey, &last)
	if err == nil {
		c.last = last
	}
	return errors.Join(
		err,
		c.overwrite.Load(ctx, c.store, c.scope),
		c.temp.Load(ctx, c.store, c.scope),
		c.resolver.Random().Load(ctx, c.store, c.scope),
	)
}

func (c *Controller) save(ctx context.Context) error {
	var errs []error
	if c.lastDirty {
		if err := kvstore.SetJSON(ctx, c.store, c.scope, lastStateKey, c.last); err != nil {
			errs = append(errs, fmt.Errorf("save last state: %w", err))
		} else {
			c.lastDirty = false
		}
	}
	errs = append(errs,
		c.overwrite.Save(ctx, c.store, c.scope),
		c.temp.Save(ctx, c.store, c.scope),
		c.resolver.Random().Save(ctx, c.store, c.scope),
	)
	return errors.Join(errs...)
}

func describeOverwrite(st overwrite.State) string {
	desc := fmt.Sprintf("overwrite %v (importance %d)", st.Value, st.Importance)
	if at, ok := st.ExpiresAt(); ok {
		desc += " until " + at.Format(time.RFC3339)
	}
	return desc
}

func topicOf(rec *rules.Record) string {
	if rec == nil {
		return ""
	}
	return rec.Topic
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

package rules

import (
	"fmt"
	"log/slog"

	"github.com/liamcoop/timecontrol/condition"
	"github.com/liamcoop/timecontrol/internal/logger"
	"github.com/liamcoop/timecontrol/resolve"
	"github.com/liamcoop/timecontrol/timewindow"
)

// Engine selects the active rule of one node. The rule list is read from the store
// through a cache; only enable toggles and store mutations invalidate it.
type Engine struct {
	nodeID     string
	store      RuleStore
	cache      ruleCache
	matcher    *timewindow.Matcher
	conditions *condition.Evaluator
	resolver   *resolve.Resolver
	defaults   Defaults
	log        *slog.Logger
}

// Defaults describe the synthetic rule used when no rule matches.
type Defaults struct {
	Value resolve.Property
	Topic string
}

// NewEngine creates an engine for nodeID. The rules are normalised once up front so
// configuration errors surface here.
func NewEngine(nodeID string, store RuleStore, r *resolve.Resolver, defaults Defaults, log *slog.Logger) (*Engine, error) {
	log = logger.OrDefault(log, "rules")
	en := &Engine{
		nodeID:     nodeID,
		store:      store,
		matcher:    timewindow.NewMatcher(r),
		conditions: condition.NewEvaluator(r, log),
		resolver:   r,
		defaults:   defaults,
		log:        log.With(slog.String("node", nodeID)),
	}

	if _, err := en.Rules(); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return en, nil
}

// Rules returns the normalised rule list, from cache when valid.
func (en *Engine) Rules() ([]Rule, error) {
	if rules, ok := en.cache.get(); ok {
		return rules, nil
	}

	stored, err := en.store.List(en.nodeID)
	if err != nil {
		return nil, err
	}
	raws := make([]RawRule, len(stored))
	for i, sr := range stored {
		raws[i] = sr.Definition
	}
	rules, err := Normalize(raws)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		rules[i].Enabled = stored[i].Active
	}

	en.cache.put(rules)
	return rules, nil
}

// SetEnabled toggles the rule at 1-based position id.
func (en *Engine) SetEnabled(id int, enabled bool) error {
	stored, err := en.store.List(en.nodeID)
	if err != nil {
		return err
	}
	if id < 1 || id > len(stored) {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}

	sr := stored[id-1]
	if sr.Active == enabled {
		return nil
	}
	sr.Active = enabled
	if err := en.store.Update(sr); err != nil {
		return err
	}
	en.cache.invalidate()

	en.log.Info("rule toggled", slog.Int("rule", id), slog.Bool("enabled", enabled))
	return nil
}

// Select scans the enabled rules in position order. A rule matches when its conditions
// pass and then its time window (if any) contains now. The first matching main rule
// wins; min/max brackets and topic/slat oversteers matched before it are collected.
// Rules whose window cannot be computed are logged and skipped.
func (en *Engine) Select(c *resolve.Context) Selection {
	var sel Selection

	rules, err := en.Rules()
	if err != nil {
		en.log.Error("rules unavailable, using default", slog.Any("error", err))
		rules = nil
	}

	for i := range rules {
		r := &rules[i]
		if !r.Enabled {
			continue
		}

		out := en.conditions.Evaluate(r.Conditions, c)
		if !out.Result {
			continue
		}

		var win timewindow.Result
		if r.Time != nil {
			win, err = en.matcher.Match(r.Time, c)
			if err != nil {
				logger.ErrorWindow(en.log, r.ID, &timewindow.WindowError{RuleID: r.ID, Err: err})
				continue
			}
			sel.noteBoundary(win, c)
			if !win.Matched {
				continue
			}
		}

		rec, err := en.record(r, out, win, c)
		if err != nil {
			en.log.Warn("rule output not resolved, rule skipped", slog.Int("rule", r.ID), slog.Any("error", err))
			continue
		}

		switch r.Designation {
		case DesignationMin:
			if sel.Min == nil {
				sel.Min = rec
			}
		case DesignationMax:
			if sel.Max == nil {
				sel.Max = rec
			}
		case DesignationTopic:
			if sel.Topic == nil {
				sel.Topic = rec
			}
		case DesignationSlat:
			if sel.Slat == nil {
				sel.Slat = rec
			}
		default:
			sel.Main = *rec
			return sel
		}
	}

	sel.Main = en.defaultRecord(c)
	sel.Default = true
	return sel
}

func (sel *Selection) noteBoundary(win timewindow.Result, c *resolve.Context) {
	b := win.Boundary
	if b.IsZero() || !b.After(c.Now.Time) {
		return
	}
	if sel.NextBoundary.IsZero() || b.Before(sel.NextBoundary) {
		sel.NextBoundary = b
	}
}

func (en *Engine) record(r *Rule, out condition.Outcome, win timewindow.Result, c *resolve.Context) (*Record, error) {
	rec := &Record{
		RuleID:         r.ID,
		Name:           r.Name,
		Importance:     r.Importance,
		ResetOverwrite: r.ResetOverwrite,
		Topic:          r.Topic,
		ConditionText:  out.Text,
		Window:         win,
	}

	var err error
	switch r.Designation {
	case DesignationMin, DesignationMax:
		rec.Value, err = en.resolver.Float(r.Output, c)
	case DesignationTopic:
		rec.Value = r.Topic
	default:
		rec.Value, err = en.resolver.Value(r.Output, c, resolve.NoError())
	}
	if err != nil {
		return nil, err
	}

	rec.Description = describe(r, win)
	return rec, nil
}

func (en *Engine) defaultRecord(c *resolve.Context) Record {
	v, err := en.resolver.Value(en.defaults.Value, c, resolve.NoError())
	if err != nil {
		en.log.Warn("default value not resolved", slog.Any("error", err))
	}
	return Record{
		Name:        "default",
		Value:       v,
		Topic:       en.defaults.Topic,
		Description: "default",
	}
}

func describe(r *Rule, win timewindow.Result) string {
	desc := r.String()
	if r.Time == nil {
		return desc
	}
	desc += fmt.Sprintf(" %s %s", r.Time.Operator, win.Boundary.Format("15:04"))
	if win.Source != timewindow.SourceRaw && win.Source != "" {
		desc += fmt.Sprintf(" (%s)", win.Source)
	}
	return desc
}

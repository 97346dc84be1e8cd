package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/liamcoop/timecontrol/astro"
	"github.com/liamcoop/timecontrol/daytime"
	"github.com/liamcoop/timecontrol/expression"
	"github.com/liamcoop/timecontrol/kvstore"
	"github.com/liamcoop/timecontrol/output"
	"github.com/liamcoop/timecontrol/resolve"
	"github.com/liamcoop/timecontrol/rules"
	"github.com/liamcoop/timecontrol/scheduler"
)

// ErrInvalidConfig wraps every configuration failure. A node with an invalid
// configuration refuses to evaluate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Settings are the per-node options. Durations are milliseconds.
type Settings struct {
	Location     astro.Location   `json:"location" yaml:"location"`
	TimeZone     string           `json:"timeZone,omitempty" yaml:"timeZone,omitempty"`
	ClockLayouts []string         `json:"clockLayouts,omitempty" yaml:"clockLayouts,omitempty"`
	DefaultValue resolve.Property `json:"defaultValue" yaml:"defaultValue"`
	DefaultTopic string           `json:"defaultTopic,omitempty" yaml:"defaultTopic,omitempty"`

	Limits     output.Limits `json:"limits" yaml:"limits"`
	SmoothTime int64         `json:"smoothTime,omitempty" yaml:"smoothTime,omitempty"`
	MinDelta   float64       `json:"minDelta,omitempty" yaml:"minDelta,omitempty"`

	// OverwriteExpire is the default override duration; 0 keeps overrides until reset
	OverwriteExpire int64       `json:"overwriteExpire,omitempty" yaml:"overwriteExpire,omitempty"`
	AutoTrigger     AutoTrigger `json:"autoTrigger" yaml:"autoTrigger"`

	// SunTable serves astronomical values from fixed times when no service is injected
	SunTable *astro.Table `json:"sunTable,omitempty" yaml:"sunTable,omitempty"`
}

// AutoTrigger configures timer-driven re-evaluation.
type AutoTrigger struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Interval is the default re-evaluation interval
	Interval int64 `json:"interval,omitempty" yaml:"interval,omitempty"`
}

const defaultAutoTriggerInterval = 20 * time.Minute

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Validate checks the settings.
func (s Settings) Validate() error {
	var errs []error
	if !s.Location.Valid() {
		errs = append(errs, fmt.Errorf("coordinates %v/%v out of range", s.Location.Latitude, s.Location.Longitude))
	}
	if s.TimeZone != "" {
		if _, err := time.LoadLocation(s.TimeZone); err != nil {
			errs = append(errs, fmt.Errorf("time zone: %w", err))
		}
	}
	if !s.DefaultValue.IsZero() && !s.DefaultValue.Type.Known() {
		errs = append(errs, fmt.Errorf("default value: unknown type %q", s.DefaultValue.Type))
	}
	if err := s.Limits.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("limits: %w", err))
	}
	if s.SmoothTime < 0 {
		errs = append(errs, errors.New("smoothTime must not be negative"))
	}
	if s.MinDelta < 0 {
		errs = append(errs, errors.New("minDelta must not be negative"))
	}
	if s.OverwriteExpire < 0 {
		errs = append(errs, errors.New("overwriteExpire must not be negative"))
	}
	if s.AutoTrigger.Interval < 0 {
		errs = append(errs, errors.New("autoTrigger interval must not be negative"))
	}
	return errors.Join(errs...)
}

func (s Settings) location() *time.Location {
	if s.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (s Settings) clockLayouts() []string {
	if len(s.ClockLayouts) == 0 {
		return daytime.DefaultClockLayouts
	}
	return s.ClockLayouts
}

func (s Settings) autoTriggerInterval() time.Duration {
	if s.AutoTrigger.Interval > 0 {
		return ms(s.AutoTrigger.Interval)
	}
	return defaultAutoTriggerInterval
}

func (s Settings) smoother() output.Smoother {
	return output.Smoother{
		SmoothTime: ms(s.SmoothTime),
		MinDelta:   s.MinDelta,
		Limits:     s.Limits,
	}
}

// Config is what a node is configured with.
type Config struct {
	NodeID   string
	Settings Settings
	// Rules, when not nil, replace the node's rules in the rule store
	Rules []rules.RawRule
}

// Deps are the collaborators a controller uses. Zero fields get in-process defaults.
type Deps struct {
	Rules       rules.RuleStore
	Store       kvstore.Store
	Astro       astro.Service
	Expressions *expression.Evaluator
	Clock       scheduler.Clock
	Emitter     Emitter
	Metrics     *Metrics
	Logger      *slog.Logger
	Rand        *rand.Rand
}

// NewDeps returns in-memory dependencies with metrics registered on reg (nil disables).
func NewDeps(reg prometheus.Registerer) Deps {
	return Deps{
		Rules:   rules.NewInMemoryRuleStore(),
		Store:   kvstore.NewMemory(),
		Metrics: NewMetrics(reg),
	}
}

// Package resolve turns typed property descriptors into concrete values at a given
// instant. Everything the rule engine compares or emits goes through a Resolver.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamcoop/timecontrol/daytime"
)

// Kind selects how a property value is obtained.
type Kind string

const (
	KindNone   Kind = "none"
	KindNum    Kind = "num"
	KindStr    Kind = "str"
	KindBool   Kind = "bool"
	KindJSON   Kind = "json"
	KindDate   Kind = "date"
	KindMsg    Kind = "msg"
	KindFlow   Kind = "flow"
	KindGlobal Kind = "global"
	KindEnv    Kind = "env"

	// KindEntered is a time of day ("10:00") on the current date
	KindEntered Kind = "entered"
	// KindSunTime is a named sun time ("sunrise", "sunset", ...)
	KindSunTime Kind = "pdsTime"
	// KindMoonTime is "rise" or "set"
	KindMoonTime Kind = "pdmTime"

	KindSunAzimuth        Kind = "pdsCalcAzimuth"
	KindSunElevation      Kind = "pdsCalcElevation"
	KindMoonAzimuth       Kind = "pdmCalcAzimuth"
	KindMoonElevation     Kind = "pdmCalcElevation"
	KindMoonIllumination  Kind = "pdmCalcIllumination"
	KindOddDay            Kind = "oddDay"
	KindEvenDay           Kind = "evenDay"
	KindOddWeek           Kind = "oddWeek"
	KindEvenWeek          Kind = "evenWeek"
	KindRandomCachedDay   Kind = "randmNumCachedDay"
	KindRandomCachedWeek  Kind = "randmNumCachedWeek"
	KindExpr              Kind = "expr"
)

var knownKinds = map[Kind]bool{
	KindNone: true, KindNum: true, KindStr: true, KindBool: true, KindJSON: true,
	KindDate: true, KindMsg: true, KindFlow: true, KindGlobal: true, KindEnv: true,
	KindEntered: true, KindSunTime: true, KindMoonTime: true,
	KindSunAzimuth: true, KindSunElevation: true, KindMoonAzimuth: true,
	KindMoonElevation: true, KindMoonIllumination: true,
	KindOddDay: true, KindEvenDay: true, KindOddWeek: true, KindEvenWeek: true,
	KindRandomCachedDay: true, KindRandomCachedWeek: true, KindExpr: true,
}

// Known reports whether k is a supported kind.
func (k Kind) Known() bool {
	return knownKinds[k]
}

// Property is a typed value descriptor.
type Property struct {
	Type  Kind   `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// Key is the temp-data cache key for the property.
func (p Property) Key() string {
	return string(p.Type) + "." + p.Value
}

// IsZero reports whether the property is unset.
func (p Property) IsZero() bool {
	return p.Type == "" || p.Type == KindNone
}

func (p Property) String() string {
	if p.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s(%s)", p.Type, p.Value)
}

// TimeSpec is a property resolving to an instant, shifted by an offset.
type TimeSpec struct {
	Type       Kind    `json:"type" yaml:"type"`
	Value      string  `json:"value" yaml:"value"`
	Offset     string  `json:"offset,omitempty" yaml:"offset,omitempty"`
	OffsetType Kind    `json:"offsetType,omitempty" yaml:"offsetType,omitempty"`
	// Multiplier converts one offset unit to milliseconds (default 60000, minutes)
	Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// Base returns the property the boundary time is resolved from.
func (ts TimeSpec) Base() Property {
	return Property{Type: ts.Type, Value: ts.Value}
}

// HasOffset reports whether an offset is configured.
func (ts TimeSpec) HasOffset() bool {
	return ts.Offset != "" && ts.OffsetType != "" && ts.OffsetType != KindNone
}

// Context is the per-event input to resolution.
type Context struct {
	Ctx     context.Context
	Now     daytime.Now
	Msg     map[string]any
	Payload any
	Topic   string
	Temp    *TempData
}

func (c *Context) context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// ErrUnresolved marks a lookup that produced no value.
var ErrUnresolved = errors.New("value could not be resolved")

// ResolutionError is returned when a property cannot be resolved and no fallback applies.
type ResolutionError struct {
	Kind  Kind
	Value string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s(%s): %v", e.Kind, e.Value, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Option adjusts the failure policy of one resolution.
type Option func(*policy)

type policy struct {
	def        any
	hasDefault bool
	noError    bool
}

// WithDefault returns v when neither the lookup nor the last-good cache yields a value.
func WithDefault(v any) Option {
	return func(p *policy) {
		p.def = v
		p.hasDefault = true
	}
}

// NoError returns nil instead of a ResolutionError as the last resort.
func NoError() Option {
	return func(p *policy) {
		p.noError = true
	}
}

func collect(opts []Option) policy {
	var p policy
	for _, o := range opts {
		o(&p)
	}
	return p
}

// Package output post-processes a selected numeric value before it is emitted:
// range limits, increment rounding, smoothing and re-trigger scheduling.
package output

import (
	"errors"
	"fmt"
	"math"
)

const gridEpsilon = 1e-9

// Limits bounds a numeric output. The zero value passes values through unchanged.
//
// Min and Max narrow the usable range and are applied first; the value is then rounded
// to Increment and finally clamped to the absolute Floor and Ceiling.
type Limits struct {
	Floor     float64  `json:"floor" yaml:"floor"`
	Ceiling   float64  `json:"ceiling" yaml:"ceiling"`
	Min       *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Increment float64  `json:"increment,omitempty" yaml:"increment,omitempty"`
}

// Bounded reports whether floor and ceiling are configured.
func (l Limits) Bounded() bool {
	return l.Floor != 0 || l.Ceiling != 0
}

// Validate checks that the limits are consistent and that floor and ceiling lie on the
// increment grid.
func (l Limits) Validate() error {
	var errs []error
	if l.Bounded() && l.Floor >= l.Ceiling {
		errs = append(errs, fmt.Errorf("floor %v must be below ceiling %v", l.Floor, l.Ceiling))
	}
	if l.Increment < 0 {
		errs = append(errs, fmt.Errorf("increment %v must not be negative", l.Increment))
	}
	if l.Increment > 0 && l.Bounded() {
		if !onGrid(l.Floor, l.Increment) {
			errs = append(errs, fmt.Errorf("floor %v is not a multiple of increment %v", l.Floor, l.Increment))
		}
		if !onGrid(l.Ceiling, l.Increment) {
			errs = append(errs, fmt.Errorf("ceiling %v is not a multiple of increment %v", l.Ceiling, l.Increment))
		}
	}
	if l.Min != nil && l.Max != nil && *l.Min > *l.Max {
		errs = append(errs, fmt.Errorf("min %v must not exceed max %v", *l.Min, *l.Max))
	}
	if l.Bounded() {
		if l.Min != nil && (*l.Min < l.Floor || *l.Min > l.Ceiling) {
			errs = append(errs, fmt.Errorf("min %v outside [%v, %v]", *l.Min, l.Floor, l.Ceiling))
		}
		if l.Max != nil && (*l.Max < l.Floor || *l.Max > l.Ceiling) {
			errs = append(errs, fmt.Errorf("max %v outside [%v, %v]", *l.Max, l.Floor, l.Ceiling))
		}
	}
	return errors.Join(errs...)
}

func onGrid(v, inc float64) bool {
	q := v / inc
	return math.Abs(q-math.Round(q)) < gridEpsilon
}

// Apply runs the full pipeline: min/max, increment rounding, floor/ceiling.
func (l Limits) Apply(x float64) float64 {
	return l.Clamp(l.Round(l.Range(x)))
}

// Range clamps to the configured min/max.
func (l Limits) Range(x float64) float64 {
	if l.Min != nil && x < *l.Min {
		x = *l.Min
	}
	if l.Max != nil && x > *l.Max {
		x = *l.Max
	}
	return x
}

// Round rounds to the nearest multiple of the increment, halves away from zero.
func (l Limits) Round(x float64) float64 {
	if l.Increment <= 0 {
		return x
	}
	return math.Round(x/l.Increment) * l.Increment
}

// Clamp clamps to the absolute floor and ceiling.
func (l Limits) Clamp(x float64) float64 {
	if !l.Bounded() {
		return x
	}
	return math.Min(math.Max(x, l.Floor), l.Ceiling)
}

// AtExtreme reports whether x sits on the floor or the ceiling.
func (l Limits) AtExtreme(x float64) bool {
	return l.Bounded() && (x <= l.Floor || x >= l.Ceiling)
}

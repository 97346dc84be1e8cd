// Package timewindow decides whether "now" lies inside a rule's time window.
//
// A window is anchored on one boundary time resolved for the current day. UNTIL rules
// are active before the boundary, FROM rules from the boundary on. Calendar filters
// (weekdays, months, odd/even days and ISO weeks, a year-agnostic date range) run
// first; optional min/max specs bracket the boundary by resolving their own times.
package timewindow

import (
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/timecontrol/daytime"
	"github.com/liamcoop/timecontrol/resolve"
)

// Operator selects which side of the boundary the rule is active on.
type Operator int

const (
	// Until: active while now < boundary
	Until Operator = 0
	// From: active while now >= boundary
	From Operator = 1
)

func (op Operator) String() string {
	switch op {
	case Until:
		return "UNTIL"
	case From:
		return "FROM"
	}
	return fmt.Sprintf("Operator(%d)", int(op))
}

// Spec is the canonical time window of a rule.
type Spec struct {
	resolve.TimeSpec `yaml:",inline"`
	Operator         Operator `json:"operator" yaml:"operator"`

	Days   []time.Weekday `json:"days,omitempty" yaml:"days,omitempty"`
	Months []time.Month   `json:"months,omitempty" yaml:"months,omitempty"`

	OnlyOddDays   bool `json:"onlyOddDays,omitempty" yaml:"onlyOddDays,omitempty"`
	OnlyEvenDays  bool `json:"onlyEvenDays,omitempty" yaml:"onlyEvenDays,omitempty"`
	OnlyOddWeeks  bool `json:"onlyOddWeeks,omitempty" yaml:"onlyOddWeeks,omitempty"`
	OnlyEvenWeeks bool `json:"onlyEvenWeeks,omitempty" yaml:"onlyEvenWeeks,omitempty"`

	// DateStart and DateEnd are "MM-DD"; the year is ignored
	DateStart string `json:"dateStart,omitempty" yaml:"dateStart,omitempty"`
	DateEnd   string `json:"dateEnd,omitempty" yaml:"dateEnd,omitempty"`

	Min *resolve.TimeSpec `json:"min,omitempty" yaml:"min,omitempty"`
	Max *resolve.TimeSpec `json:"max,omitempty" yaml:"max,omitempty"`
}

// Normalize clears parity pairs that have both flags set; such a filter would reject
// every day.
func (s *Spec) Normalize() {
	if s.OnlyOddDays && s.OnlyEvenDays {
		s.OnlyOddDays, s.OnlyEvenDays = false, false
	}
	if s.OnlyOddWeeks && s.OnlyEvenWeeks {
		s.OnlyOddWeeks, s.OnlyEvenWeeks = false, false
	}
}

// Validate reports configuration errors in the window.
func (s *Spec) Validate() error {
	var errs []error
	if s.Operator != Until && s.Operator != From {
		errs = append(errs, fmt.Errorf("invalid time operator %d", int(s.Operator)))
	}
	errs = append(errs, validateTimeSpec("time", s.TimeSpec))
	if s.Min != nil {
		errs = append(errs, validateTimeSpec("min", *s.Min))
	}
	if s.Max != nil {
		errs = append(errs, validateTimeSpec("max", *s.Max))
	}
	for _, d := range s.Days {
		if d < time.Sunday || d > time.Saturday {
			errs = append(errs, fmt.Errorf("invalid weekday %d", int(d)))
		}
	}
	for _, m := range s.Months {
		if m < time.January || m > time.December {
			errs = append(errs, fmt.Errorf("invalid month %d", int(m)))
		}
	}
	if _, _, err := s.dateRange(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateTimeSpec(field string, ts resolve.TimeSpec) error {
	if ts.Base().IsZero() {
		return fmt.Errorf("%s: type is required", field)
	}
	if !ts.Type.Known() {
		return fmt.Errorf("%s: unknown type %q", field, ts.Type)
	}
	if ts.HasOffset() && !ts.OffsetType.Known() {
		return fmt.Errorf("%s: unknown offset type %q", field, ts.OffsetType)
	}
	if ts.Multiplier < 0 {
		return fmt.Errorf("%s: multiplier must not be negative", field)
	}
	return nil
}

func (s *Spec) dateRange() (daytime.MonthDay, daytime.MonthDay, error) {
	var start, end daytime.MonthDay
	var err error
	if s.DateStart != "" {
		if start, err = daytime.ParseMonthDay(s.DateStart); err != nil {
			return start, end, fmt.Errorf("dateStart: %w", err)
		}
	}
	if s.DateEnd != "" {
		if end, err = daytime.ParseMonthDay(s.DateEnd); err != nil {
			return start, end, fmt.Errorf("dateEnd: %w", err)
		}
	}
	return start, end, nil
}

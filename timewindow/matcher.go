package timewindow

import (
	"fmt"
	"slices"
	"time"

	"github.com/liamcoop/timecontrol/daytime"
	"github.com/liamcoop/timecontrol/resolve"
)

// Source tells where the effective boundary came from.
type Source string

const (
	SourceRaw Source = "raw"
	SourceMin Source = "min"
	SourceMax Source = "max"
)

// Rejection reasons reported in Result.Reason.
const (
	ReasonWeekday   = "weekday"
	ReasonMonth     = "month"
	ReasonOddDay    = "onlyOddDays"
	ReasonEvenDay   = "onlyEvenDays"
	ReasonOddWeek   = "onlyOddWeeks"
	ReasonEvenWeek  = "onlyEvenWeeks"
	ReasonDateRange = "dateRange"
	ReasonOtherDay  = "otherDay"
	ReasonOutside   = "outside"
)

// Result is the outcome of matching one window.
type Result struct {
	Matched bool
	// Boundary is the effective boundary; zero when a calendar filter rejected the rule
	Boundary time.Time
	Source   Source
	Reason   string
}

// WindowError wraps a failure to compute a rule's boundary.
type WindowError struct {
	RuleID int
	Err    error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("rule %d time window: %v", e.RuleID, e.Err)
}

func (e *WindowError) Unwrap() error {
	return e.Err
}

// Matcher resolves boundaries through a resolver.
type Matcher struct {
	resolver *resolve.Resolver
}

// NewMatcher creates a matcher.
func NewMatcher(r *resolve.Resolver) *Matcher {
	return &Matcher{resolver: r}
}

// Match runs the calendar filters, resolves and brackets the boundary and compares
// now against it. A resolution failure is returned as an error; callers treat it as
// no match.
func (m *Matcher) Match(s *Spec, c *resolve.Context) (Result, error) {
	now := c.Now

	if reason := Filter(s, now); reason != "" {
		return Result{Reason: reason}, nil
	}

	boundary, source, err := m.Boundary(s, c)
	if err != nil {
		return Result{}, err
	}

	res := Result{Boundary: boundary, Source: source}
	if daytime.DayID(boundary) != now.DayID {
		res.Reason = ReasonOtherDay
		return res, nil
	}

	switch s.Operator {
	case Until:
		res.Matched = now.Time.Before(boundary)
	case From:
		res.Matched = !now.Time.Before(boundary)
	default:
		return Result{}, fmt.Errorf("invalid time operator %d", int(s.Operator))
	}
	if !res.Matched {
		res.Reason = ReasonOutside
	}
	return res, nil
}

// Boundary resolves the window's boundary and applies the min/max bracket. A min
// later than the boundary replaces it, as does a max earlier than it.
func (m *Matcher) Boundary(s *Spec, c *resolve.Context) (time.Time, Source, error) {
	loc := c.Now.Time.Location()
	boundary, err := m.resolver.Time(s.TimeSpec, c)
	if err != nil {
		return time.Time{}, "", err
	}
	boundary = boundary.In(loc)
	source := SourceRaw

	if s.Min != nil {
		lo, err := m.resolver.Time(*s.Min, c)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("min: %w", err)
		}
		if lo.After(boundary) {
			boundary, source = lo.In(loc), SourceMin
		}
	}
	if s.Max != nil {
		hi, err := m.resolver.Time(*s.Max, c)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("max: %w", err)
		}
		if hi.Before(boundary) {
			boundary, source = hi.In(loc), SourceMax
		}
	}
	return boundary, source, nil
}

// Filter applies the calendar filters in order and returns the rejecting reason, or ""
// when the day passes.
func Filter(s *Spec, now daytime.Now) string {
	if len(s.Days) > 0 && !slices.Contains(s.Days, now.Weekday) {
		return ReasonWeekday
	}
	if len(s.Months) > 0 && !slices.Contains(s.Months, now.Month) {
		return ReasonMonth
	}

	oddDay, evenDay := s.OnlyOddDays, s.OnlyEvenDays
	if !(oddDay && evenDay) {
		if oddDay && !now.OddDay {
			return ReasonOddDay
		}
		if evenDay && now.OddDay {
			return ReasonEvenDay
		}
	}
	oddWeek, evenWeek := s.OnlyOddWeeks, s.OnlyEvenWeeks
	if !(oddWeek && evenWeek) {
		if oddWeek && !now.OddWeek {
			return ReasonOddWeek
		}
		if evenWeek && now.OddWeek {
			return ReasonEvenWeek
		}
	}

	if s.DateStart != "" || s.DateEnd != "" {
		start, end, err := s.dateRange()
		if err != nil {
			return ReasonDateRange
		}
		if !InDateRange(now, start, end) {
			return ReasonDateRange
		}
	}
	return ""
}

// InDateRange reports whether the day of now lies in [start, end], both re-anchored to
// now's year. A start after end wraps across New Year. A zero start means January 1,
// a zero end December 31.
func InDateRange(now daytime.Now, start, end daytime.MonthDay) bool {
	if start.IsZero() {
		start = daytime.MonthDay{Month: time.January, Day: 1}
	}
	if end.IsZero() {
		end = daytime.MonthDay{Month: time.December, Day: 31}
	}
	loc := now.Time.Location()
	today := now.StartOfDay()
	s := start.Anchor(now.Year, loc)
	e := end.Anchor(now.Year, loc)

	if !s.After(e) {
		return !today.Before(s) && !today.After(e)
	}
	return !(today.After(e) && today.Before(s))
}

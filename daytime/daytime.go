// Package daytime builds the per-event time snapshot every rule is matched against,
// plus the small calendar helpers the matcher and resolver share.
package daytime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Now is an immutable snapshot of "now" taken once per event. All matching within
// one evaluation is done relative to the same snapshot.
type Now struct {
	Time       time.Time
	DayID      int
	Weekday    time.Weekday
	DayOfMonth int
	Month      time.Month
	Year       int
	Week       int
	WeekYear   int
	OddDay     bool
	OddWeek    bool
}

// NewNow snapshots t in its own location.
func NewNow(t time.Time) Now {
	year, week := t.ISOWeek()
	return Now{
		Time:       t,
		DayID:      DayID(t),
		Weekday:    t.Weekday(),
		DayOfMonth: t.Day(),
		Month:      t.Month(),
		Year:       t.Year(),
		Week:       week,
		WeekYear:   year,
		OddDay:     t.Day()%2 == 1,
		OddWeek:    week%2 == 1,
	}
}

// In returns the snapshot re-taken in loc.
func (n Now) In(loc *time.Location) Now {
	if loc == nil {
		return n
	}
	return NewNow(n.Time.In(loc))
}

// Millis returns the snapshot instant in epoch milliseconds.
func (n Now) Millis() int64 {
	return n.Time.UnixMilli()
}

// StartOfDay returns midnight of the snapshot's calendar day.
func (n Now) StartOfDay() time.Time {
	return time.Date(n.Year, n.Month, n.DayOfMonth, 0, 0, 0, 0, n.Time.Location())
}

// DayID encodes the calendar day of t as yyyymmdd.
func DayID(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// WeekKey identifies an ISO week as yyyyww.
func WeekKey(t time.Time) int {
	y, w := t.ISOWeek()
	return y*100 + w
}

// DefaultClockLayouts are the time-of-day layouts accepted when no locale overrides them.
var DefaultClockLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04:05pm",
	"3:04pm",
	"3:04:05 pm",
	"3:04 pm",
	"15",
}

// ParseClock parses a time of day and places it on the calendar day of day.
func ParseClock(text string, day time.Time, layouts []string) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time of day")
	}
	if len(layouts) == 0 {
		layouts = DefaultClockLayouts
	}
	for _, layout := range layouts {
		p, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(),
			p.Hour(), p.Minute(), p.Second(), p.Nanosecond(), day.Location()), nil
	}
	return time.Time{}, fmt.Errorf("invalid time of day %q", text)
}

// MonthDay is a year-agnostic calendar date.
type MonthDay struct {
	Month time.Month
	Day   int
}

// ParseMonthDay accepts "MM-DD", "M-D" and full "YYYY-MM-DD" (the year is dropped).
func ParseMonthDay(text string) (MonthDay, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return MonthDay{}, fmt.Errorf("empty date")
	}
	parts := strings.Split(s, "-")
	if len(parts) == 3 {
		parts = parts[1:]
	}
	if len(parts) != 2 {
		return MonthDay{}, fmt.Errorf("invalid date %q", text)
	}
	m, err := strconv.Atoi(parts[0])
	if err != nil || m < 1 || m > 12 {
		return MonthDay{}, fmt.Errorf("invalid month in %q", text)
	}
	d, err := strconv.Atoi(parts[1])
	if err != nil || d < 1 || d > 31 {
		return MonthDay{}, fmt.Errorf("invalid day in %q", text)
	}
	return MonthDay{Month: time.Month(m), Day: d}, nil
}

// IsZero reports whether md is unset.
func (md MonthDay) IsZero() bool {
	return md.Month == 0
}

// Anchor places md at midnight in the given year and location.
func (md MonthDay) Anchor(year int, loc *time.Location) time.Time {
	return time.Date(year, md.Month, md.Day, 0, 0, 0, 0, loc)
}

func (md MonthDay) String() string {
	return fmt.Sprintf("%02d-%02d", int(md.Month), md.Day)
}

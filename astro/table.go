package astro

import (
	"fmt"
	"sort"
	"time"

	"github.com/liamcoop/timecontrol/daytime"
)

// Table answers every query from fixed configuration: named sun times are clock times
// repeated each day, positions are constants. Location arguments are ignored.
type Table struct {
	// Times maps names such as "sunrise" or "sunset" to "HH:MM" clock times
	Times    map[string]string `json:"sunTimes" yaml:"sunTimes"`
	MoonRise string            `json:"moonRise" yaml:"moonRise"`
	MoonSet  string            `json:"moonSet" yaml:"moonSet"`

	Sun          SunPosition      `json:"sun" yaml:"sun"`
	Moon         MoonPosition     `json:"moon" yaml:"moon"`
	Illumination MoonIllumination `json:"illumination" yaml:"illumination"`
}

var _ Service = (*Table)(nil)

func (tb *Table) SunPosition(time.Time, float64, float64) (SunPosition, error) {
	return tb.Sun, nil
}

func (tb *Table) SunTimes(t time.Time, _, _, _ float64) (map[string]TimeEvent, error) {
	out := make(map[string]TimeEvent, len(tb.Times))
	names := make([]string, 0, len(tb.Times))
	for name, clock := range tb.Times {
		v, err := daytime.ParseClock(clock, t, nil)
		if err != nil {
			return nil, fmt.Errorf("sun time %s: %w", name, err)
		}
		out[name] = TimeEvent{Value: v, Valid: true}
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		return out[names[i]].Value.Before(out[names[j]].Value)
	})
	for pos, name := range names {
		ev := out[name]
		ev.Pos = pos
		out[name] = ev
	}
	return out, nil
}

func (tb *Table) MoonPosition(time.Time, float64, float64) (MoonPosition, error) {
	return tb.Moon, nil
}

func (tb *Table) MoonTimes(t time.Time, _, _ float64) (MoonTimes, error) {
	var mt MoonTimes
	if tb.MoonRise != "" {
		v, err := daytime.ParseClock(tb.MoonRise, t, nil)
		if err != nil {
			return mt, fmt.Errorf("moon rise: %w", err)
		}
		mt.Rise = v
	}
	if tb.MoonSet != "" {
		v, err := daytime.ParseClock(tb.MoonSet, t, nil)
		if err != nil {
			return mt, fmt.Errorf("moon set: %w", err)
		}
		mt.Set = v
	}
	return mt, nil
}

func (tb *Table) MoonIllumination(time.Time) (MoonIllumination, error) {
	return tb.Illumination, nil
}

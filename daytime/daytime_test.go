package daytime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNow(t *testing.T) {
	// 2024-01-01 is a Monday in ISO week 1
	n := NewNow(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC))

	assert.Equal(t, 20240101, n.DayID)
	assert.Equal(t, time.Monday, n.Weekday)
	assert.Equal(t, 1, n.Week)
	assert.True(t, n.OddDay)
	assert.True(t, n.OddWeek)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), n.StartOfDay())
}

func TestNewNow_ISOWeekAcrossYear(t *testing.T) {
	// 2021-01-03 belongs to ISO week 53 of 2020
	n := NewNow(time.Date(2021, 1, 3, 12, 0, 0, 0, time.UTC))

	assert.Equal(t, 53, n.Week)
	assert.Equal(t, 2020, n.WeekYear)
	assert.True(t, n.OddWeek)
	assert.Equal(t, 202053, WeekKey(n.Time))
}

func TestParseClock(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"10:00", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"07:15:30", time.Date(2024, 6, 1, 7, 15, 30, 0, time.UTC)},
		{"7:15pm", time.Date(2024, 6, 1, 19, 15, 0, 0, time.UTC)},
		{" 7:15 PM ", time.Date(2024, 6, 1, 19, 15, 0, 0, time.UTC)},
		{"23", time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseClock(tc.in, day, nil)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %v want %v", got, tc.want)
		})
	}

	_, err := ParseClock("25:99", day, nil)
	assert.Error(t, err)
	_, err = ParseClock("", day, nil)
	assert.Error(t, err)
}

func TestParseMonthDay(t *testing.T) {
	md, err := ParseMonthDay("12-24")
	require.NoError(t, err)
	assert.Equal(t, MonthDay{Month: time.December, Day: 24}, md)

	md, err = ParseMonthDay("2019-3-5")
	require.NoError(t, err)
	assert.Equal(t, MonthDay{Month: time.March, Day: 5}, md)
	assert.Equal(t, "03-05", md.String())

	_, err = ParseMonthDay("13-01")
	assert.Error(t, err)
	_, err = ParseMonthDay("nope")
	assert.Error(t, err)
}

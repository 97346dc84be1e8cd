package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/timecontrol/astro"
	"github.com/liamcoop/timecontrol/daytime"
	"github.com/liamcoop/timecontrol/resolve"
	"github.com/liamcoop/timecontrol/timewindow"
)

func boolPtr(b bool) *bool { return &b }

func newTestEngine(t *testing.T, raws []RawRule) *Engine {
	t.Helper()
	store := NewInMemoryRuleStore()
	require.NoError(t, ReplaceNode(store, "blind", raws))

	r := resolve.New(resolve.Options{
		Locale: resolve.Locale{Location: time.UTC},
		Astro:  &astro.Table{Times: map[string]string{"sunrise": "05:10", "sunset": "21:30"}},
	})
	en, err := NewEngine("blind", store, r, Defaults{Value: resolve.Property{Type: resolve.KindNum, Value: "100"}}, nil)
	require.NoError(t, err)
	return en
}

func ctxAt(hour, minute int, msg map[string]any) *resolve.Context {
	return &resolve.Context{
		Now:  daytime.NewNow(time.Date(2024, 6, 1, hour, minute, 0, 0, time.UTC)),
		Msg:  msg,
		Temp: resolve.NewTempData(),
	}
}

func fromRule(name, clock, value string) RawRule {
	return RawRule{
		Name:        name,
		Time:        &RawTime{RawTimeBound: RawTimeBound{Type: resolve.KindEntered, Value: clock}, Operator: "from"},
		OutputType:  resolve.KindNum,
		OutputValue: value,
	}
}

func untilRule(name, clock, value string) RawRule {
	return RawRule{
		Name:        name,
		Time:        &RawTime{RawTimeBound: RawTimeBound{Type: resolve.KindEntered, Value: clock}, Operator: 0},
		OutputType:  resolve.KindNum,
		OutputValue: value,
	}
}

// TestBasicWindowScenario verifies a single FROM 10:00 rule against the default
func TestBasicWindowScenario(t *testing.T) {
	en := newTestEngine(t, []RawRule{fromRule("morning", "10:00", "40")})

	sel := en.Select(ctxAt(9, 59, nil))
	assert.True(t, sel.Default)
	assert.Equal(t, 0, sel.Main.RuleID)
	assert.Equal(t, 100.0, sel.Main.Value)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), sel.NextBoundary)

	sel = en.Select(ctxAt(10, 1, nil))
	assert.False(t, sel.Default)
	assert.Equal(t, 1, sel.Main.RuleID)
	assert.Equal(t, 40.0, sel.Main.Value)
	assert.Equal(t, `rule 1 "morning" FROM 10:00`, sel.Main.Description)
}

// TestLowestPositionWins verifies precedence is by position, never by importance
func TestLowestPositionWins(t *testing.T) {
	night := untilRule("night", "06:00", "0")
	day := fromRule("day", "06:00", "80")
	late := fromRule("late", "20:00", "30")
	late.Importance = 10

	// FROM rules listed latest first so the most recent boundary wins
	en := newTestEngine(t, []RawRule{night, late, day})

	tests := []struct {
		hour   int
		wantID int
		want   float64
	}{
		{5, 1, 0},
		{12, 3, 80},
		{21, 2, 30},
	}
	for _, tt := range tests {
		sel := en.Select(ctxAt(tt.hour, 0, nil))
		assert.Equal(t, tt.wantID, sel.Main.RuleID, "hour %d", tt.hour)
		assert.Equal(t, tt.want, sel.Main.Value, "hour %d", tt.hour)
	}
}

// TestConditionsGateTheWindow verifies a failing condition skips the rule
func TestConditionsGateTheWindow(t *testing.T) {
	hot := fromRule("shade", "00:00", "20")
	hot.Conditions = []RawCondition{{
		ValueType: resolve.KindMsg, Value: "temp", Operator: "gt",
		ThresholdType: resolve.KindNum, Threshold: "25",
	}}
	hot.Importance = 5
	hot.ResetOverwrite = true
	en := newTestEngine(t, []RawRule{hot, fromRule("normal", "00:00", "70")})

	sel := en.Select(ctxAt(12, 0, map[string]any{"temp": 30}))
	assert.Equal(t, 1, sel.Main.RuleID)
	assert.Equal(t, 5, sel.Main.Importance)
	assert.True(t, sel.Main.ResetOverwrite)
	assert.Equal(t, "msg(temp) gt num(25)", sel.Main.ConditionText)

	sel = en.Select(ctxAt(12, 0, map[string]any{"temp": 20}))
	assert.Equal(t, 2, sel.Main.RuleID)
}

// TestDisabledRulesAreSkipped verifies enable toggling
func TestDisabledRulesAreSkipped(t *testing.T) {
	first := fromRule("first", "00:00", "10")
	first.Enabled = boolPtr(false)
	en := newTestEngine(t, []RawRule{first, fromRule("second", "00:00", "20")})

	assert.Equal(t, 2, en.Select(ctxAt(12, 0, nil)).Main.RuleID)

	require.NoError(t, en.SetEnabled(1, true))
	assert.Equal(t, 1, en.Select(ctxAt(12, 0, nil)).Main.RuleID)

	require.NoError(t, en.SetEnabled(1, false))
	assert.Equal(t, 2, en.Select(ctxAt(12, 0, nil)).Main.RuleID)

	assert.ErrorIs(t, en.SetEnabled(9, true), ErrNotFound)
}

// TestWindowErrorSkipsRule verifies a broken rule never aborts the pass
func TestWindowErrorSkipsRule(t *testing.T) {
	broken := RawRule{
		Name:        "broken",
		Time:        &RawTime{RawTimeBound: RawTimeBound{Type: resolve.KindSunTime, Value: "goldenHour"}, Operator: 1},
		OutputType:  resolve.KindNum,
		OutputValue: "1",
	}
	en := newTestEngine(t, []RawRule{broken, fromRule("ok", "00:00", "2")})

	sel := en.Select(ctxAt(12, 0, nil))
	assert.Equal(t, 2, sel.Main.RuleID)
}

// TestBracketsAndOversteers verifies auxiliary designations are collected before the winner
func TestBracketsAndOversteers(t *testing.T) {
	minRule := fromRule("min", "00:00", "30")
	minRule.Designation = DesignationMin
	maxRule := fromRule("max", "00:00", "60")
	maxRule.Designation = DesignationMax
	topic := fromRule("topic", "00:00", "0")
	topic.Designation = DesignationTopic
	topic.Topic = "blind/storm"
	slat := fromRule("slat", "00:00", "45")
	slat.Designation = DesignationSlat
	after := fromRule("after", "00:00", "99")
	after.Designation = DesignationMax

	en := newTestEngine(t, []RawRule{minRule, maxRule, topic, slat, fromRule("main", "00:00", "10"), after})
	sel := en.Select(ctxAt(12, 0, nil))

	require.NotNil(t, sel.Min)
	require.NotNil(t, sel.Max)
	require.NotNil(t, sel.Topic)
	require.NotNil(t, sel.Slat)
	assert.Equal(t, 5, sel.Main.RuleID)
	assert.Equal(t, 2, sel.Max.RuleID, "rules after the winner are not collected")
	assert.Equal(t, "blind/storm", sel.Topic.Value)
	assert.Equal(t, 45.0, sel.Slat.Value)

	v, changed := sel.Bracket(10)
	assert.True(t, changed)
	assert.Equal(t, 30.0, v)
	v, _ = sel.Bracket(75)
	assert.Equal(t, 60.0, v)
	v, changed = sel.Bracket(50)
	assert.False(t, changed)
	assert.Equal(t, 50.0, v)
}

// TestUnconditionalRuleWithoutTime verifies a rule with neither conditions nor time always wins
func TestUnconditionalRuleWithoutTime(t *testing.T) {
	en := newTestEngine(t, []RawRule{{OutputType: resolve.KindStr, OutputValue: "open"}})
	sel := en.Select(ctxAt(3, 0, nil))
	assert.Equal(t, 1, sel.Main.RuleID)
	assert.Equal(t, "open", sel.Main.Value)
	assert.Equal(t, "rule 1", sel.Main.Description)
}

// TestSelectIsIdempotent verifies repeated selection at the same instant is stable
func TestSelectIsIdempotent(t *testing.T) {
	en := newTestEngine(t, []RawRule{untilRule("night", "06:00", "0"), fromRule("day", "06:00", "80")})
	c := ctxAt(7, 0, nil)
	assert.Equal(t, en.Select(c), en.Select(c))
}

// TestMinBracketedWindow verifies min/max timing flows through selection
func TestMinBracketedWindow(t *testing.T) {
	r := RawRule{
		Name: "after sunrise",
		Time: &RawTime{
			RawTimeBound: RawTimeBound{Type: resolve.KindSunTime, Value: "sunrise"},
			Operator:     1,
			Min:          &RawTimeBound{Type: resolve.KindEntered, Value: "07:00"},
		},
		OutputType:  resolve.KindNum,
		OutputValue: "100",
	}
	en := newTestEngine(t, []RawRule{r})

	sel := en.Select(ctxAt(6, 0, nil))
	assert.True(t, sel.Default)

	sel = en.Select(ctxAt(7, 0, nil))
	assert.Equal(t, 1, sel.Main.RuleID)
	assert.Equal(t, timewindow.SourceMin, sel.Main.Window.Source)
	assert.Contains(t, sel.Main.Description, "(min)")
}

// TestNewEngineRejectsInvalidRules verifies configuration errors abort construction
func TestNewEngineRejectsInvalidRules(t *testing.T) {
	store := NewInMemoryRuleStore()
	require.NoError(t, ReplaceNode(store, "x", []RawRule{{OutputType: "weird"}}))

	_, err := NewEngine("x", store, resolve.New(resolve.Options{}), Defaults{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output type")
}

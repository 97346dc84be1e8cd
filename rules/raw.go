package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/liamcoop/timecontrol/condition"
	"github.com/liamcoop/timecontrol/resolve"
	"github.com/liamcoop/timecontrol/timewindow"
)

// RawCondition is a condition as written in configuration.
type RawCondition struct {
	ValueType     resolve.Kind `json:"valueType" yaml:"valueType"`
	Value         string       `json:"value" yaml:"value"`
	Operator      string       `json:"operator" yaml:"operator"`
	ThresholdType resolve.Kind `json:"thresholdType,omitempty" yaml:"thresholdType,omitempty"`
	Threshold     string       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Condition     string       `json:"condition,omitempty" yaml:"condition,omitempty"`
	Text          string       `json:"text,omitempty" yaml:"text,omitempty"`
}

// RawTimeBound is a min or max bracket as written in configuration.
type RawTimeBound struct {
	Type       resolve.Kind `json:"type" yaml:"type"`
	Value      string       `json:"value" yaml:"value"`
	Offset     string       `json:"offset,omitempty" yaml:"offset,omitempty"`
	OffsetType resolve.Kind `json:"offsetType,omitempty" yaml:"offsetType,omitempty"`
	Multiplier float64      `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// RawTime is a time window as written in configuration. Operator accepts 0/1 or
// "until"/"from"; Days and Months accept lists or comma separated strings.
type RawTime struct {
	RawTimeBound `yaml:",inline"`
	Operator     any `json:"operator,omitempty" yaml:"operator,omitempty"`
	Days         any `json:"days,omitempty" yaml:"days,omitempty"`
	Months       any `json:"months,omitempty" yaml:"months,omitempty"`

	OnlyOddDays   bool   `json:"onlyOddDays,omitempty" yaml:"onlyOddDays,omitempty"`
	OnlyEvenDays  bool   `json:"onlyEvenDays,omitempty" yaml:"onlyEvenDays,omitempty"`
	OnlyOddWeeks  bool   `json:"onlyOddWeeks,omitempty" yaml:"onlyOddWeeks,omitempty"`
	OnlyEvenWeeks bool   `json:"onlyEvenWeeks,omitempty" yaml:"onlyEvenWeeks,omitempty"`
	DateStart     string `json:"dateStart,omitempty" yaml:"dateStart,omitempty"`
	DateEnd       string `json:"dateEnd,omitempty" yaml:"dateEnd,omitempty"`

	Min *RawTimeBound `json:"min,omitempty" yaml:"min,omitempty"`
	Max *RawTimeBound `json:"max,omitempty" yaml:"max,omitempty"`
}

// RawRule is a rule as written in configuration. Older configurations carry a flat
// time window (timeType/timeValue/timeOp...), a single inline condition
// (validOperandA...) and output fields named payloadType/payloadValue; Normalize
// migrates those into the canonical Rule.
type RawRule struct {
	Name           string         `json:"name,omitempty" yaml:"name,omitempty"`
	Enabled        *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Importance     int            `json:"importance,omitempty" yaml:"importance,omitempty"`
	ResetOverwrite bool           `json:"resetOverwrite,omitempty" yaml:"resetOverwrite,omitempty"`
	Conditions     []RawCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Time           *RawTime       `json:"time,omitempty" yaml:"time,omitempty"`
	OutputType     resolve.Kind   `json:"outputType,omitempty" yaml:"outputType,omitempty"`
	OutputValue    string         `json:"outputValue,omitempty" yaml:"outputValue,omitempty"`
	Designation    Designation    `json:"designation,omitempty" yaml:"designation,omitempty"`
	Topic          string         `json:"topic,omitempty" yaml:"topic,omitempty"`

	// legacy flat time window
	TimeType         resolve.Kind `json:"timeType,omitempty" yaml:"timeType,omitempty"`
	TimeValue        string       `json:"timeValue,omitempty" yaml:"timeValue,omitempty"`
	TimeOp           any          `json:"timeOp,omitempty" yaml:"timeOp,omitempty"`
	OffsetType       resolve.Kind `json:"offsetType,omitempty" yaml:"offsetType,omitempty"`
	Offset           string       `json:"offset,omitempty" yaml:"offset,omitempty"`
	Multiplier       float64      `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	TimeDays         any          `json:"timeDays,omitempty" yaml:"timeDays,omitempty"`
	TimeMonths       any          `json:"timeMonths,omitempty" yaml:"timeMonths,omitempty"`
	TimeOnlyOddDays  bool         `json:"timeOnlyOddDays,omitempty" yaml:"timeOnlyOddDays,omitempty"`
	TimeOnlyEvenDays bool         `json:"timeOnlyEvenDays,omitempty" yaml:"timeOnlyEvenDays,omitempty"`
	TimeMinType      resolve.Kind `json:"timeMinType,omitempty" yaml:"timeMinType,omitempty"`
	TimeMinValue     string       `json:"timeMinValue,omitempty" yaml:"timeMinValue,omitempty"`
	TimeMaxType      resolve.Kind `json:"timeMaxType,omitempty" yaml:"timeMaxType,omitempty"`
	TimeMaxValue     string       `json:"timeMaxValue,omitempty" yaml:"timeMaxValue,omitempty"`

	// legacy single condition
	ValidOperandAType  resolve.Kind `json:"validOperandAType,omitempty" yaml:"validOperandAType,omitempty"`
	ValidOperandAValue string       `json:"validOperandAValue,omitempty" yaml:"validOperandAValue,omitempty"`
	ValidOperator      string       `json:"validOperator,omitempty" yaml:"validOperator,omitempty"`
	ValidOperandBType  resolve.Kind `json:"validOperandBType,omitempty" yaml:"validOperandBType,omitempty"`
	ValidOperandBValue string       `json:"validOperandBValue,omitempty" yaml:"validOperandBValue,omitempty"`

	// legacy output
	PayloadType  resolve.Kind `json:"payloadType,omitempty" yaml:"payloadType,omitempty"`
	PayloadValue string       `json:"payloadValue,omitempty" yaml:"payloadValue,omitempty"`
}

// Normalize converts raw rules into canonical rules. IDs are assigned from the
// position (1-based). All problems are reported together.
func Normalize(raws []RawRule) ([]Rule, error) {
	out := make([]Rule, 0, len(raws))
	var errs []error
	for i := range raws {
		r, err := raws[i].normalize(i + 1)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i+1, err))
			continue
		}
		out = append(out, r)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (raw RawRule) normalize(id int) (Rule, error) {
	r := Rule{
		ID:             id,
		Name:           raw.Name,
		Enabled:        raw.Enabled == nil || *raw.Enabled,
		Importance:     raw.Importance,
		ResetOverwrite: raw.ResetOverwrite,
		Designation:    raw.Designation,
		Topic:          raw.Topic,
	}
	var errs []error

	if r.Importance < 0 {
		errs = append(errs, fmt.Errorf("importance must not be negative"))
	}
	if r.Designation == "" {
		r.Designation = DesignationMain
	}
	if !r.Designation.valid() {
		errs = append(errs, fmt.Errorf("unknown designation %q", r.Designation))
	}

	r.Output = resolve.Property{Type: raw.OutputType, Value: raw.OutputValue}
	if r.Output.Type == "" && raw.PayloadType != "" {
		r.Output = resolve.Property{Type: raw.PayloadType, Value: raw.PayloadValue}
	}
	if r.Output.Type == "" {
		r.Output.Type = resolve.KindNone
	}
	if !r.Output.Type.Known() {
		errs = append(errs, fmt.Errorf("unknown output type %q", r.Output.Type))
	}
	if r.Designation == DesignationTopic && r.Topic == "" {
		errs = append(errs, fmt.Errorf("topic oversteer needs a topic"))
	}

	conds := raw.Conditions
	if len(conds) == 0 && raw.ValidOperandAType != "" && raw.ValidOperandAType != resolve.KindNone {
		conds = []RawCondition{{
			ValueType:     raw.ValidOperandAType,
			Value:         raw.ValidOperandAValue,
			Operator:      raw.ValidOperator,
			ThresholdType: raw.ValidOperandBType,
			Threshold:     raw.ValidOperandBValue,
		}}
	}
	for i, rc := range conds {
		c, err := rc.normalize()
		if err == nil {
			err = c.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("condition %d: %w", i+1, err))
			continue
		}
		r.Conditions = append(r.Conditions, c)
	}

	rt := raw.Time
	if rt == nil && raw.TimeType != "" && raw.TimeType != resolve.KindNone {
		rt = raw.legacyTime()
	}
	if rt != nil && rt.Type != "" && rt.Type != resolve.KindNone {
		spec, err := rt.normalize()
		if err == nil {
			err = spec.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("time: %w", err))
		} else {
			r.Time = spec
		}
	}

	return r, errors.Join(errs...)
}

func (raw RawRule) legacyTime() *RawTime {
	rt := &RawTime{
		RawTimeBound: RawTimeBound{
			Type:       raw.TimeType,
			Value:      raw.TimeValue,
			Offset:     raw.Offset,
			OffsetType: raw.OffsetType,
			Multiplier: raw.Multiplier,
		},
		Operator:     raw.TimeOp,
		Days:         raw.TimeDays,
		Months:       raw.TimeMonths,
		OnlyOddDays:  raw.TimeOnlyOddDays,
		OnlyEvenDays: raw.TimeOnlyEvenDays,
	}
	if raw.TimeMinType != "" && raw.TimeMinType != resolve.KindNone {
		rt.Min = &RawTimeBound{Type: raw.TimeMinType, Value: raw.TimeMinValue}
	}
	if raw.TimeMaxType != "" && raw.TimeMaxType != resolve.KindNone {
		rt.Max = &RawTimeBound{Type: raw.TimeMaxType, Value: raw.TimeMaxValue}
	}
	return rt
}

func (rc RawCondition) normalize() (condition.Condition, error) {
	join, err := condition.ParseJoin(rc.Condition)
	if err != nil {
		return condition.Condition{}, err
	}
	c := condition.Condition{
		Value:    resolve.Property{Type: rc.ValueType, Value: rc.Value},
		Operator: condition.Operator(rc.Operator),
		Join:     join,
		Text:     rc.Text,
	}
	if c.Operator.NeedsThreshold() {
		c.Threshold = resolve.Property{Type: rc.ThresholdType, Value: rc.Threshold}
	}
	return c, nil
}

func (b RawTimeBound) spec() resolve.TimeSpec {
	return resolve.TimeSpec{
		Type:       b.Type,
		Value:      b.Value,
		Offset:     b.Offset,
		OffsetType: b.OffsetType,
		Multiplier: b.Multiplier,
	}
}

func (rt *RawTime) normalize() (*timewindow.Spec, error) {
	op, err := parseOperator(rt.Operator)
	if err != nil {
		return nil, err
	}
	days, err := parseIntList(rt.Days, "days")
	if err != nil {
		return nil, err
	}
	months, err := parseIntList(rt.Months, "months")
	if err != nil {
		return nil, err
	}

	spec := &timewindow.Spec{
		TimeSpec:      rt.spec(),
		Operator:      op,
		OnlyOddDays:   rt.OnlyOddDays,
		OnlyEvenDays:  rt.OnlyEvenDays,
		OnlyOddWeeks:  rt.OnlyOddWeeks,
		OnlyEvenWeeks: rt.OnlyEvenWeeks,
		DateStart:     rt.DateStart,
		DateEnd:       rt.DateEnd,
	}
	for _, d := range days {
		spec.Days = append(spec.Days, time.Weekday(d))
	}
	for _, m := range months {
		spec.Months = append(spec.Months, time.Month(m))
	}
	if rt.Min != nil && rt.Min.Type != "" && rt.Min.Type != resolve.KindNone {
		ts := rt.Min.spec()
		spec.Min = &ts
	}
	if rt.Max != nil && rt.Max.Type != "" && rt.Max.Type != resolve.KindNone {
		ts := rt.Max.spec()
		spec.Max = &ts
	}
	spec.Normalize()
	return spec, nil
}

func parseOperator(v any) (timewindow.Operator, error) {
	switch t := v.(type) {
	case nil:
		return timewindow.Until, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "0", "until":
			return timewindow.Until, nil
		case "1", "from":
			return timewindow.From, nil
		}
		return 0, fmt.Errorf("invalid time operator %q", t)
	}
	f, err := resolve.ToFloat(v)
	if err != nil {
		return 0, fmt.Errorf("invalid time operator %v", v)
	}
	switch f {
	case 0:
		return timewindow.Until, nil
	case 1:
		return timewindow.From, nil
	}
	return 0, fmt.Errorf("invalid time operator %v", v)
}

// parseIntList accepts a list of numbers or a comma separated string ("1,2,5").
func parseIntList(v any, field string) ([]int, error) {
	var items []any
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	case []any:
		items = t
	case []int:
		return t, nil
	default:
		return nil, fmt.Errorf("%s: unsupported value %v", field, v)
	}

	out := make([]int, 0, len(items))
	for _, it := range items {
		var n int
		var err error
		if s, ok := it.(string); ok {
			n, err = strconv.Atoi(strings.TrimSpace(s))
		} else {
			var f float64
			f, err = resolve.ToFloat(it)
			n = int(f)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: invalid entry %v", field, it)
		}
		out = append(out, n)
	}
	return out, nil
}

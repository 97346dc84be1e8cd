package rules

import (
	"fmt"
	"time"

	"github.com/liamcoop/timecontrol/condition"
	"github.com/liamcoop/timecontrol/resolve"
	"github.com/liamcoop/timecontrol/timewindow"
)

// Designation selects what a matching rule contributes to the selection.
type Designation string

const (
	// DesignationMain rules compete for the main output; the first match wins
	DesignationMain Designation = "main"
	// DesignationMin and DesignationMax bracket the main value
	DesignationMin Designation = "min"
	DesignationMax Designation = "max"
	// DesignationTopic and DesignationSlat oversteer only the secondary outputs
	DesignationTopic Designation = "topic"
	DesignationSlat  Designation = "slat"
)

func (d Designation) valid() bool {
	switch d {
	case DesignationMain, DesignationMin, DesignationMax, DesignationTopic, DesignationSlat:
		return true
	}
	return false
}

// Rule is the canonical, normalised form of one configured rule. Rules are read-only
// after normalisation except for Enabled.
type Rule struct {
	// ID is the 1-based position in the rule list
	ID             int
	Name           string
	Enabled        bool
	Importance     int
	ResetOverwrite bool
	Conditions     []condition.Condition
	Time           *timewindow.Spec
	Output         resolve.Property
	Designation    Designation
	Topic          string
}

func (r *Rule) String() string {
	if r.Name != "" {
		return fmt.Sprintf("rule %d %q", r.ID, r.Name)
	}
	return fmt.Sprintf("rule %d", r.ID)
}

// StoredRule is the persisted form of a rule: its raw definition plus bookkeeping.
type StoredRule struct {
	ID         string
	NodeID     string
	Position   int
	Name       string
	Definition RawRule
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Record is the outcome of one matching rule.
type Record struct {
	RuleID         int
	Name           string
	Value          any
	Importance     int
	ResetOverwrite bool
	Topic          string
	// ConditionText is the description of the last evaluated condition
	ConditionText string
	Window        timewindow.Result
	Description   string
}

// Selection is the result of one selection pass.
type Selection struct {
	Main Record
	// Default is true when no rule matched and Main is the synthetic default rule
	Default bool

	// Brackets and oversteers met before the main winner
	Min   *Record
	Max   *Record
	Topic *Record
	Slat  *Record

	// NextBoundary is the earliest boundary after now seen during the scan
	NextBoundary time.Time
}

// Bracket applies the min/max bracket rules to a numeric value.
func (s *Selection) Bracket(v float64) (float64, bool) {
	changed := false
	if s.Min != nil {
		if lo, ok := s.Min.Value.(float64); ok && v < lo {
			v, changed = lo, true
		}
	}
	if s.Max != nil {
		if hi, ok := s.Max.Value.(float64); ok && v > hi {
			v, changed = hi, true
		}
	}
	return v, changed
}

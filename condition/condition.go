package condition

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/liamcoop/timecontrol/internal/logger"
	"github.com/liamcoop/timecontrol/resolve"
)

// Join combines a condition with the result of the conditions before it.
type Join string

const (
	And Join = "AND"
	Or  Join = "OR"
)

// ParseJoin accepts "and"/"or" in any case plus the legacy numeric forms (0 = AND, 1 = OR).
func ParseJoin(s string) (Join, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND", "0", "&&":
		return And, nil
	case "OR", "1", "||":
		return Or, nil
	}
	return "", fmt.Errorf("invalid condition join %q", s)
}

// Condition is one comparison of a rule.
type Condition struct {
	Value     resolve.Property `json:"value" yaml:"value"`
	Operator  Operator         `json:"operator" yaml:"operator"`
	Threshold resolve.Property `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	// Join links this condition to the previous one; ignored on the first
	Join Join `json:"condition,omitempty" yaml:"condition,omitempty"`
	// Text is a human-readable description used in diagnostics
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
}

// Description returns Text or a generated description.
func (c Condition) Description() string {
	if c.Text != "" {
		return c.Text
	}
	if c.Operator.NeedsThreshold() {
		return fmt.Sprintf("%s %s %s", c.Value, c.Operator, c.Threshold)
	}
	return fmt.Sprintf("%s %s", c.Value, c.Operator)
}

// Validate checks the operator and operand kinds.
func (c Condition) Validate() error {
	var errs []error
	if !c.Operator.Known() {
		errs = append(errs, fmt.Errorf("unknown operator %q", c.Operator))
	}
	if c.Value.IsZero() && c.Operator != Null {
		errs = append(errs, errors.New("condition value is required"))
	} else if !c.Value.IsZero() && !c.Value.Type.Known() {
		errs = append(errs, fmt.Errorf("unknown value type %q", c.Value.Type))
	}
	if c.Operator.NeedsThreshold() && !c.Threshold.IsZero() && !c.Threshold.Type.Known() {
		errs = append(errs, fmt.Errorf("unknown threshold type %q", c.Threshold.Type))
	}
	if c.Join != "" && c.Join != And && c.Join != Or {
		errs = append(errs, fmt.Errorf("invalid join %q", c.Join))
	}
	return errors.Join(errs...)
}

// Outcome is the folded result of a condition list.
type Outcome struct {
	Result bool
	// Index of the last evaluated condition, -1 when the list is empty
	Index int
	Text  string
}

// Evaluator resolves operands and folds condition lists.
type Evaluator struct {
	resolver *resolve.Resolver
	log      *slog.Logger
}

// NewEvaluator creates an evaluator resolving operands through r.
func NewEvaluator(r *resolve.Resolver, log *slog.Logger) *Evaluator {
	return &Evaluator{resolver: r, log: logger.OrDefault(log, "condition")}
}

// Compare is the package Compare with unknown operators logged.
func (e *Evaluator) Compare(a any, op Operator, b any) bool {
	ok, err := Compare(a, op, b)
	if err != nil {
		logger.ErrorSampled(e.log, "comparison failed, using truthiness of value", slog.String("operator", string(op)), slog.Any("error", err))
	}
	return ok
}

// Evaluate folds conds left to right. A true result followed by an OR join ends the
// fold; a false result followed by an AND join skips that condition. An empty list is
// true.
func (e *Evaluator) Evaluate(conds []Condition, c *resolve.Context) Outcome {
	if len(conds) == 0 {
		return Outcome{Result: true, Index: -1}
	}

	out := Outcome{Result: e.evaluateOne(conds[0], c), Index: 0, Text: conds[0].Description()}
	for i := 1; i < len(conds); i++ {
		join := conds[i].Join
		if join == "" {
			join = And
		}
		if out.Result && join == Or {
			break
		}
		if !out.Result && join == And {
			continue
		}
		out.Result = e.evaluateOne(conds[i], c)
		out.Index = i
		out.Text = conds[i].Description()
	}
	return out
}

func (e *Evaluator) evaluateOne(cond Condition, c *resolve.Context) bool {
	var opts []resolve.Option
	switch cond.Operator {
	case Null, NotNull, Empty, NotEmpty:
		opts = append(opts, resolve.NoError())
	}

	valueProp := cond.Value
	if cond.Operator == Expr {
		valueProp = resolve.Property{Type: resolve.KindExpr, Value: cond.Value.Value}
	}

	a, err := e.resolver.Value(valueProp, c, opts...)
	if err != nil {
		e.log.Warn("condition value not resolved, condition is false",
			slog.String("condition", cond.Description()), slog.Any("error", err))
		return false
	}

	var b any
	if cond.Operator.NeedsThreshold() {
		b, err = e.resolver.Value(cond.Threshold, c)
		if err != nil {
			e.log.Warn("condition threshold not resolved, condition is false",
				slog.String("condition", cond.Description()), slog.Any("error", err))
			return false
		}
	}
	return e.Compare(a, cond.Operator, b)
}

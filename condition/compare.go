// Package condition evaluates rule conditions: single comparisons between two resolved
// operands and the left-to-right AND/OR fold over a rule's condition list.
package condition

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Operator names a comparison.
type Operator string

const (
	Equal        Operator = "equal"
	NotEqual     Operator = "nequal"
	Less         Operator = "lt"
	LessEqual    Operator = "lte"
	Greater      Operator = "gt"
	GreaterEqual Operator = "gte"

	True     Operator = "true"
	False    Operator = "false"
	Null     Operator = "null"
	NotNull  Operator = "nnull"
	Empty    Operator = "empty"
	NotEmpty Operator = "nempty"

	TrueExpr     Operator = "true_expr"
	FalseExpr    Operator = "false_expr"
	NotTrueExpr  Operator = "ntrue_expr"
	NotFalseExpr Operator = "nfalse_expr"

	Contain      Operator = "contain"
	ContainSome  Operator = "containSome"
	ContainEvery Operator = "containEvery"

	// Expr evaluates the condition value as a CEL expression that must yield true
	Expr Operator = "expr"
)

var needsThreshold = map[Operator]bool{
	Equal: true, NotEqual: true, Less: true, LessEqual: true, Greater: true, GreaterEqual: true,
	Contain: true, ContainSome: true, ContainEvery: true,
}

var unary = map[Operator]bool{
	True: true, False: true, Null: true, NotNull: true, Empty: true, NotEmpty: true,
	TrueExpr: true, FalseExpr: true, NotTrueExpr: true, NotFalseExpr: true, Expr: true,
}

// NeedsThreshold reports whether op compares against a second operand.
func (op Operator) NeedsThreshold() bool {
	return needsThreshold[op]
}

// Known reports whether op is a supported operator.
func (op Operator) Known() bool {
	return needsThreshold[op] || unary[op]
}

// ErrUnknownOperator is returned by Compare for unsupported operators.
var ErrUnknownOperator = errors.New("unknown operator")

// Compare applies op to a and b. For an unknown operator it returns
// ErrUnknownOperator together with IsTrue(a).
func Compare(a any, op Operator, b any) (bool, error) {
	switch op {
	case Equal:
		return LooseEquals(a, b), nil
	case NotEqual:
		return !LooseEquals(a, b), nil
	case Less:
		return order(a, b, func(c int) bool { return c < 0 }), nil
	case LessEqual:
		return order(a, b, func(c int) bool { return c <= 0 }), nil
	case Greater:
		return order(a, b, func(c int) bool { return c > 0 }), nil
	case GreaterEqual:
		return order(a, b, func(c int) bool { return c >= 0 }), nil
	case True:
		return isLiteral(a, true), nil
	case False:
		return isLiteral(a, false), nil
	case Null:
		return a == nil, nil
	case NotNull:
		return a != nil, nil
	case Empty:
		return IsEmpty(a), nil
	case NotEmpty:
		return !IsEmpty(a), nil
	case TrueExpr:
		return IsTrue(a), nil
	case FalseExpr:
		return IsFalse(a), nil
	case NotTrueExpr:
		return !IsTrue(a), nil
	case NotFalseExpr:
		return !IsFalse(a), nil
	case Expr:
		return isLiteral(a, true), nil
	case Contain:
		return contains(a, toString(b)), nil
	case ContainSome:
		for _, part := range splitList(b) {
			if contains(a, part) {
				return true, nil
			}
		}
		return false, nil
	case ContainEvery:
		parts := splitList(b)
		if len(parts) == 0 {
			return false, nil
		}
		for _, part := range parts {
			if !contains(a, part) {
				return false, nil
			}
		}
		return true, nil
	default:
		return IsTrue(a), fmt.Errorf("%w %q", ErrUnknownOperator, op)
	}
}

// LooseEquals compares with cross-type coercion:
//
//	nil      vs nil              equal
//	nil      vs anything         not equal
//	bool     vs number/string    bool as 0/1, other side parsed as number
//	number   vs string           string parsed as number ("" is 0)
//	string   vs string           byte equality
//	other                        equality of the formatted values
func LooseEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	_, aBool := a.(bool)
	_, bBool := b.(bool)
	_, aNum := number(a)
	_, bNum := number(b)
	_, aStr := a.(string)
	_, bStr := b.(string)

	switch {
	case aBool && bBool:
		return a == b
	case aBool || bBool || aNum || bNum:
		if (aNum || aBool || aStr) && (bNum || bBool || bStr) {
			x, y := coerce(a), coerce(b)
			return !math.IsNaN(x) && !math.IsNaN(y) && x == y
		}
	case aStr && bStr:
		return a == b
	}
	return toString(a) == toString(b)
}

// IsTrue reports whether v is truthy: true, "true", "yes", "on", or a number above 0.
func IsTrue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		switch s {
		case "true", "yes", "on":
			return true
		}
		f, err := strconv.ParseFloat(s, 64)
		return err == nil && f > 0
	}
	if f, ok := number(v); ok {
		return f > 0
	}
	return false
}

// IsFalse reports whether v is falsy: false, "false", "no", "off", or a number of 0 or below.
func IsFalse(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return !t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		switch s {
		case "false", "no", "off":
			return true
		}
		f, err := strconv.ParseFloat(s, 64)
		return err == nil && f <= 0
	}
	if f, ok := number(v); ok {
		return f <= 0
	}
	return false
}

// IsEmpty reports whether v is nil or has zero length (strings, slices, maps, buffers).
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func isLiteral(v any, want bool) bool {
	switch t := v.(type) {
	case bool:
		return t == want
	case string:
		return strings.EqualFold(strings.TrimSpace(t), strconv.FormatBool(want))
	}
	return false
}

// order compares lexically when both sides are strings, numerically otherwise.
// Any side that is not a number makes the comparison false.
func order(a, b any, ok func(int) bool) bool {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return ok(strings.Compare(as, bs))
	}
	if a == nil || b == nil {
		return false
	}
	x, y := coerce(a), coerce(b)
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	switch {
	case x < y:
		return ok(-1)
	case x > y:
		return ok(1)
	}
	return ok(0)
}

// coerce converts v to a number the way loose comparison does; NaN when impossible.
func coerce(v any) float64 {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	if f, ok := number(v); ok {
		return f
	}
	return math.NaN()
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	}
	if f, ok := number(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func splitList(v any) []string {
	fields := strings.FieldsFunc(toString(v), func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// contains tests membership for lists and substring containment otherwise.
func contains(haystack any, needle string) bool {
	switch h := haystack.(type) {
	case []any:
		for _, el := range h {
			if LooseEquals(el, needle) {
				return true
			}
		}
		return false
	case []string:
		for _, el := range h {
			if el == needle {
				return true
			}
		}
		return false
	}
	return strings.Contains(toString(haystack), needle)
}

package resolve

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/liamcoop/timecontrol/daytime"
)

// ToFloat coerces v to a number. Strings are parsed after trimming; empty or
// unparsable strings fail. Booleans map to 0/1.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, fmt.Errorf("empty string is not a number")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("no value")
	default:
		return 0, fmt.Errorf("%T is not a number", v)
	}
}

// ToTime coerces v to an instant. Strings are RFC 3339 timestamps or clock times on
// the snapshot's day; numbers are epoch milliseconds.
func ToTime(v any, now daytime.Now, layouts []string) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.In(now.Time.Location()), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("no value")
		}
		return t.In(now.Time.Location()), nil
	case string:
		s := strings.TrimSpace(t)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.In(now.Time.Location()), nil
		}
		return daytime.ParseClock(s, now.Time, layouts)
	case nil:
		return time.Time{}, fmt.Errorf("no value")
	default:
		ms, err := ToFloat(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%T is not a time", v)
		}
		return time.UnixMilli(int64(ms)).In(now.Time.Location()), nil
	}
}

// lookupPath walks a dot-separated path through nested maps.
func lookupPath(root map[string]any, path string) (any, bool) {
	if root == nil || path == "" {
		return nil, false
	}
	var cur any = root
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

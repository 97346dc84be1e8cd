package expression

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := New()
	require.NoError(t, err)
	return e
}

func TestEval(t *testing.T) {
	e := newEvaluator(t)
	vars := Vars{
		Msg:     map[string]any{"level": 40.0, "mode": "auto"},
		Payload: 12,
		Topic:   "blind/set",
		Now:     time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name string
		src  string
		want any
	}{
		{"arithmetic", `msg.level * 2.0`, 80.0},
		{"string field", `msg.mode`, "auto"},
		{"topic", `topic.startsWith("blind")`, true},
		{"payload", `payload + 1`, int64(13)},
		{"now", `now.getHours()`, int64(10)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Eval(tc.src, vars)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalTimestamp(t *testing.T) {
	e := newEvaluator(t)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	got, err := e.Eval(`now + duration("90m")`, Vars{Now: now})
	require.NoError(t, err)

	ts, ok := got.(time.Time)
	require.True(t, ok, "got %T", got)
	assert.True(t, ts.Equal(now.Add(90*time.Minute)))
}

func TestCompileErrors(t *testing.T) {
	e := newEvaluator(t)

	for _, src := range []string{`msg.level >=`, `(1 + 2`, `unknownVar > 1`} {
		_, err := e.Compile(src)
		assert.Error(t, err, src)
	}
}

func TestCompileCaches(t *testing.T) {
	e := newEvaluator(t)

	_, err := e.Compile(`1 + 1`)
	require.NoError(t, err)
	_, err = e.Compile(`1 + 1`)
	require.NoError(t, err)

	assert.Len(t, e.programs, 1)
}

func TestEvalBool(t *testing.T) {
	e := newEvaluator(t)

	ok, err := e.EvalBool(`msg.a > 1`, Vars{Msg: map[string]any{"a": 2}})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.EvalBool(`"text"`, Vars{})
	assert.Error(t, err)
}

func TestConcurrentCompile(t *testing.T) {
	e := newEvaluator(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Eval(`msg.x == 1`, Vars{Msg: map[string]any{"x": 1}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

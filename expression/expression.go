// Package expression compiles and evaluates CEL expressions used as property values and
// rule conditions.
package expression

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// DefaultCostLimit caps the runtime cost of a single evaluation
const DefaultCostLimit = 1000000

// Vars are the variables visible to an expression.
type Vars struct {
	Msg     map[string]any
	Payload any
	Topic   string
	Now     time.Time
}

func (v Vars) activation() map[string]any {
	msg := v.Msg
	if msg == nil {
		msg = map[string]any{}
	}
	return map[string]any{
		"msg":     msg,
		"payload": v.Payload,
		"topic":   v.Topic,
		"now":     v.Now,
	}
}

// Evaluator holds the CEL environment and a cache of compiled programs keyed by source.
// Safe for concurrent use.
type Evaluator struct {
	env       *cel.Env
	costLimit uint64
	programs  map[string]cel.Program
	mu        sync.RWMutex
}

// New creates an evaluator declaring msg, payload, topic and now.
func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("msg", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("payload", cel.DynType),
		cel.Variable("topic", cel.StringType),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:       env,
		costLimit: DefaultCostLimit,
		programs:  make(map[string]cel.Program),
	}, nil
}

// Compile compiles source, returning the cached program when it was seen before.
func (e *Evaluator) Compile(source string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.programs[source]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := e.env.Program(ast, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	e.mu.Lock()
	e.programs[source] = prog
	e.mu.Unlock()

	return prog, nil
}

// Eval compiles (or reuses) source and evaluates it, returning the native Go value.
func (e *Evaluator) Eval(source string, vars Vars) (any, error) {
	prog, err := e.Compile(source)
	if err != nil {
		return nil, err
	}

	out, _, err := prog.Eval(vars.activation())
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", source, err)
	}
	return out.Value(), nil
}

// EvalBool evaluates source and requires a boolean result.
func (e *Evaluator) EvalBool(source string, vars Vars) (bool, error) {
	v, err := e.Eval(source, vars)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", source, v)
	}
	return b, nil
}

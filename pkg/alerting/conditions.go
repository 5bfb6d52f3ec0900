package alerting

import (
	"fmt"
	"strconv"
)

// Condition decides whether a rule matches a context. A field missing from
// the context is "not matched", never an error.
type Condition interface {
	Evaluate(ctx Context) (bool, error)
}

// Operator compares a context value with a threshold
type Operator string

const (
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
)

// ParseOperator validates an operator read from configuration
func ParseOperator(value string) (Operator, error) {
	switch op := Operator(value); op {
	case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual, OpEqual, OpNotEqual:
		return op, nil
	default:
		return "", fmt.Errorf("unsupported operator %q", value)
	}
}

// Threshold matches when a numeric field compares true against Value
type Threshold struct {
	Field string   `json:"field" yaml:"field"`
	Op    Operator `json:"op" yaml:"op"`
	Value float64  `json:"value" yaml:"value"`
}

// Evaluate implements Condition
func (t Threshold) Evaluate(ctx Context) (bool, error) {
	raw, exists := ctx[t.Field]
	if !exists || raw == nil {
		return false, nil
	}

	value, ok := ctx.Float(t.Field)
	if !ok {
		return false, fmt.Errorf("field %s is not numeric (got %T)", t.Field, raw)
	}

	switch t.Op {
	case OpGreater:
		return value > t.Value, nil
	case OpGreaterOrEqual:
		return value >= t.Value, nil
	case OpLess:
		return value < t.Value, nil
	case OpLessOrEqual:
		return value <= t.Value, nil
	case OpEqual:
		return value == t.Value, nil
	case OpNotEqual:
		return value != t.Value, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", t.Op)
	}
}

func (t Threshold) String() string {
	return t.Field + " " + string(t.Op) + " " + strconv.FormatFloat(t.Value, 'f', -1, 64)
}

// Flag matches when a boolean field is true
type Flag struct {
	Field string `json:"field" yaml:"field"`
}

// Evaluate implements Condition
func (f Flag) Evaluate(ctx Context) (bool, error) {
	raw, exists := ctx[f.Field]
	if !exists || raw == nil {
		return false, nil
	}

	value, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("field %s is not a boolean (got %T)", f.Field, raw)
	}
	return value, nil
}

func (f Flag) String() string {
	return f.Field + " is true"
}

// ConditionFunc adapts a plain function for fully custom rules
type ConditionFunc func(ctx Context) (bool, error)

// Evaluate implements Condition
func (f ConditionFunc) Evaluate(ctx Context) (bool, error) {
	return f(ctx)
}

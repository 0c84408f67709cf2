package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/expr-lang/expr"

	"github.com/aren-assistant/aren/internal/aren/skills"
)

var (
	// ErrNotFinite is returned for division by zero and other results that
	// are not a real number.
	ErrNotFinite = errors.New("result is not a finite number")
	// ErrBadExpression is returned when the expression cannot be evaluated.
	ErrBadExpression = errors.New("cannot evaluate expression")
)

// Calculator evaluates percentages and arithmetic expressions. Expressions
// come from the arithmetic slot rule in canonical form ("15 + 3 * sqrt(16)")
// and are evaluated with expr.
type Calculator struct{}

var sqrtFunc = expr.Function("sqrt", func(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("sqrt takes one argument, got %d", len(params))
	}
	f, ok := toFloat(params[0])
	if !ok {
		return nil, fmt.Errorf("sqrt of %v", params[0])
	}
	if f < 0 {
		return nil, fmt.Errorf("%w: sqrt of a negative number", ErrNotFinite)
	}
	return math.Sqrt(f), nil
})

// Invoke implements skills.Invoker.
func (Calculator) Invoke(ctx context.Context, req skills.Request) (*skills.Result, error) {
	switch req.Slots["operation"] {
	case skills.OpPercentage:
		value, err := strconv.ParseFloat(req.Slots["value"], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value %q", ErrBadExpression, req.Slots["value"])
		}
		of, err := strconv.ParseFloat(req.Slots["of"], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: of %q", ErrBadExpression, req.Slots["of"])
		}
		result, err := finite(value * of / 100)
		if err != nil {
			return nil, err
		}
		return fields(
			"expression", req.Slots["value"]+"% of "+req.Slots["of"],
			"result", result,
		), nil

	case skills.OpArithmetic:
		result, err := Evaluate(req.Slots["expression"])
		if err != nil {
			return nil, err
		}
		return fields("expression", req.Slots["expression"], "result", result), nil
	}
	return nil, fmt.Errorf("%w: operation %q", ErrBadExpression, req.Slots["operation"])
}

// Evaluate computes a canonical arithmetic expression and formats the
// result without trailing zeros.
func Evaluate(expression string) (string, error) {
	if expression == "" {
		return "", fmt.Errorf("%w: empty", ErrBadExpression)
	}
	program, err := expr.Compile(expression, sqrtFunc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadExpression, err)
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadExpression, err)
	}
	f, ok := toFloat(out)
	if !ok {
		return "", fmt.Errorf("%w: result %v is not a number", ErrBadExpression, out)
	}
	return finite(f)
}

func finite(f float64) (string, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "", ErrNotFinite
	}
	return FormatNumber(f), nil
}

// FormatNumber prints f with at most ten decimals and no trailing zeros.
func FormatNumber(f float64) string {
	f = math.Round(f*1e10) / 1e10
	if f == 0 {
		f = 0 // drop negative zero
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ZanzyTHEbar/stepwise"
)

// ErrDivisionByZero is returned by divide for a zero divisor.
var ErrDivisionByZero = errors.New("cannot divide by zero")

// Alias tables: planners name the same operand in many ways. The first
// non-nil value in table order wins.
var (
	sumFirst  = stepwise.ParamSpec{Name: "a", Aliases: []string{"num1", "number1", "addend1", "augend", "x", "val1", "arg1"}}
	sumSecond = stepwise.ParamSpec{Name: "b", Aliases: []string{"num2", "number2", "addend2", "y", "val2", "arg2"}}
	sumAddend = stepwise.ParamSpec{Name: "addend"}

	subtractFirst  = stepwise.ParamSpec{Name: "a", Aliases: []string{"num1", "number1", "minuend", "x", "val1", "arg1"}}
	subtractSecond = stepwise.ParamSpec{Name: "b", Aliases: []string{"num2", "number2", "subtrahend", "y", "val2", "arg2"}}

	multiplyFirst  = stepwise.ParamSpec{Name: "a", Aliases: []string{"num1", "number1", "multiplicand", "x", "val1", "arg1"}}
	multiplySecond = stepwise.ParamSpec{Name: "b", Aliases: []string{"num2", "number2", "multiplier", "y", "val2", "arg2"}}

	divideFirst  = stepwise.ParamSpec{Name: "a", Aliases: []string{"num1", "number1", "dividend", "numerator", "x", "val1", "arg1"}}
	divideSecond = stepwise.ParamSpec{Name: "b", Aliases: []string{"num2", "number2", "divisor", "denominator", "y", "val2", "arg2"}}

	numbersParam = "numbers"
)

// number is an int or a float64 operand.
type number struct {
	i       int
	f       float64
	isFloat bool
}

func intNumber(i int) number { return number{i: i} }

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n number) isZero() bool {
	return n.float() == 0
}

// toNumber converts a resolved argument. Strings are coerced like argument
// literals and fall back to def when they are not numbers.
func toNumber(v any, def number) (number, error) {
	switch t := v.(type) {
	case nil:
		return def, nil
	case string:
		parsed, ok := stepwise.ParseNumber(t)
		if !ok {
			return def, nil
		}
		return toNumber(parsed, def)
	case bool:
		if t {
			return intNumber(1), nil
		}
		return intNumber(0), nil
	case int:
		return intNumber(t), nil
	case float64:
		return number{f: t, isFloat: true}, nil
	case float32:
		return number{f: float64(t), isFloat: true}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return intNumber(int(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return intNumber(int(rv.Uint())), nil
	}
	return number{}, fmt.Errorf("unsupported operand type %T", v)
}

// operands extracts the two operands of a binary tool.
func operands(args stepwise.Kwargs, first, second stepwise.ParamSpec) (any, any) {
	v1, _ := args.Lookup(first)
	v2, _ := args.Lookup(second)
	return v1, v2
}

// numbersOverride returns the first two entries of a "numbers" list argument.
func numbersOverride(args stepwise.Kwargs) (any, any, bool) {
	raw, ok := args[numbersParam]
	if !ok || raw == nil {
		return nil, nil, false
	}
	rv := reflect.ValueOf(raw)
	if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Len() < 2 {
		return nil, nil, false
	}
	return rv.Index(0).Interface(), rv.Index(1).Interface(), true
}

func coerce(v1, v2 any, def1, def2 number) (number, number, error) {
	n1, err := toNumber(v1, def1)
	if err != nil {
		return number{}, number{}, fmt.Errorf("first operand: %w", err)
	}
	n2, err := toNumber(v2, def2)
	if err != nil {
		return number{}, number{}, fmt.Errorf("second operand: %w", err)
	}
	return n1, n2, nil
}

func arithmetic(n1, n2 number, ints func(int, int) int, floats func(float64, float64) float64) any {
	if !n1.isFloat && !n2.isFloat {
		return ints(n1.i, n2.i)
	}
	return floats(n1.float(), n2.float())
}

// Sum adds two numbers. A single "addend" fills whichever operand is missing;
// a "numbers" list of at least two entries overrides both.
func Sum(_ context.Context, args stepwise.Kwargs) (any, error) {
	v1, v2 := operands(args, sumFirst, sumSecond)
	if addend, ok := args.Lookup(sumAddend); ok {
		if v1 == nil {
			v1 = addend
		} else if v2 == nil {
			v2 = addend
		}
	}
	if a, b, ok := numbersOverride(args); ok {
		v1, v2 = a, b
	}

	n1, n2, err := coerce(v1, v2, intNumber(0), intNumber(0))
	if err != nil {
		return nil, fmt.Errorf("sum: %w", err)
	}
	return arithmetic(n1, n2,
		func(a, b int) int { return a + b },
		func(a, b float64) float64 { return a + b }), nil
}

// Subtract returns the first operand minus the second.
func Subtract(_ context.Context, args stepwise.Kwargs) (any, error) {
	v1, v2 := operands(args, subtractFirst, subtractSecond)
	n1, n2, err := coerce(v1, v2, intNumber(0), intNumber(0))
	if err != nil {
		return nil, fmt.Errorf("subtract: %w", err)
	}
	return arithmetic(n1, n2,
		func(a, b int) int { return a - b },
		func(a, b float64) float64 { return a - b }), nil
}

// Multiply multiplies two numbers. Missing operands default to 1; a "numbers"
// list of at least two entries overrides both.
func Multiply(_ context.Context, args stepwise.Kwargs) (any, error) {
	v1, v2 := operands(args, multiplyFirst, multiplySecond)
	if a, b, ok := numbersOverride(args); ok {
		v1, v2 = a, b
	}
	n1, n2, err := coerce(v1, v2, intNumber(1), intNumber(1))
	if err != nil {
		return nil, fmt.Errorf("multiply: %w", err)
	}
	return arithmetic(n1, n2,
		func(a, b int) int { return a * b },
		func(a, b float64) float64 { return a * b }), nil
}

// Divide returns the first operand divided by the second as a float64. A
// missing divisor defaults to 1; a zero divisor is ErrDivisionByZero.
func Divide(_ context.Context, args stepwise.Kwargs) (any, error) {
	v1, v2 := operands(args, divideFirst, divideSecond)
	n1, n2, err := coerce(v1, v2, intNumber(0), intNumber(1))
	if err != nil {
		return nil, fmt.Errorf("divide: %w", err)
	}
	if n2.isZero() {
		return nil, ErrDivisionByZero
	}
	return n1.float() / n2.float(), nil
}

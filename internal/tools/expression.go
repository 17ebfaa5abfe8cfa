package tools

import (
	"fmt"
	"math"
	"sync"

	"github.com/Knetic/govaluate"
)

// ExpressionFunctionRegistry holds the functions an expression may call.
// Expressions cannot reach anything that is not registered here.
type ExpressionFunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]govaluate.ExpressionFunction
}

// NewExpressionFunctionRegistry creates a registry holding the built-in math
// functions min, max, abs, sqrt and pow.
func NewExpressionFunctionRegistry() *ExpressionFunctionRegistry {
	r := &ExpressionFunctionRegistry{functions: make(map[string]govaluate.ExpressionFunction)}
	r.Register("min", variadic("min", math.Min))
	r.Register("max", variadic("max", math.Max))
	r.Register("abs", unary("abs", math.Abs))
	r.Register("sqrt", unary("sqrt", math.Sqrt))
	r.Register("pow", binary("pow", math.Pow))
	return r
}

var globalExprFuncRegistry = NewExpressionFunctionRegistry()

// RegisterExpressionFunction registers fn on the process-wide registry used
// by the default calculate tool.
func RegisterExpressionFunction(name string, fn govaluate.ExpressionFunction) {
	globalExprFuncRegistry.Register(name, fn)
}

// ValidateExpression checks an expression against the process-wide registry.
func ValidateExpression(expr string) error {
	return globalExprFuncRegistry.Validate(expr)
}

// Register adds or replaces a function.
func (r *ExpressionFunctionRegistry) Register(name string, fn govaluate.ExpressionFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = fn
}

// whitelist returns a copy of the registered functions.
func (r *ExpressionFunctionRegistry) whitelist() map[string]govaluate.ExpressionFunction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	whitelist := make(map[string]govaluate.ExpressionFunction, len(r.functions))
	for k, v := range r.functions {
		whitelist[k] = v
	}
	return whitelist
}

// Validate parses expr without evaluating it.
func (r *ExpressionFunctionRegistry) Validate(expr string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(expr, r.whitelist())
	return err
}

// Evaluate parses and evaluates expr. Numeric results are float64.
func (r *ExpressionFunctionRegistry) Evaluate(expr string, parameters map[string]interface{}) (interface{}, error) {
	eval, err := govaluate.NewEvaluableExpressionWithFunctions(expr, r.whitelist())
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, err)
	}
	result, err := eval.Evaluate(parameters)
	if err != nil {
		return nil, fmt.Errorf("cannot evaluate %q: %w", expr, err)
	}
	if f, ok := result.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return nil, fmt.Errorf("expression %q has no finite value", expr)
	}
	return result, nil
}

func floatArgs(name string, args []interface{}) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		f, ok := a.(float64)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d is %T, not a number", name, i, a)
		}
		out[i] = f
	}
	return out, nil
}

func unary(name string, fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		f, err := floatArgs(name, args)
		if err != nil {
			return nil, err
		}
		if len(f) != 1 {
			return nil, fmt.Errorf("%s takes 1 argument, got %d", name, len(f))
		}
		return fn(f[0]), nil
	}
}

func binary(name string, fn func(float64, float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		f, err := floatArgs(name, args)
		if err != nil {
			return nil, err
		}
		if len(f) != 2 {
			return nil, fmt.Errorf("%s takes 2 arguments, got %d", name, len(f))
		}
		return fn(f[0], f[1]), nil
	}
}

func variadic(name string, fold func(float64, float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		f, err := floatArgs(name, args)
		if err != nil {
			return nil, err
		}
		if len(f) == 0 {
			return nil, fmt.Errorf("%s needs at least 1 argument", name)
		}
		acc := f[0]
		for _, v := range f[1:] {
			acc = fold(acc, v)
		}
		return acc, nil
	}
}

// Package tools provides the built-in tools: arithmetic with planner-friendly
// parameter aliases and an expression calculator.
package tools

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/adapters"
)

var (
	expressionParam = stepwise.ParamSpec{Name: "expression", Aliases: []string{"expr", "formula", "arg0"}}
	variablesParam  = stepwise.ParamSpec{Name: "variables", Aliases: []string{"vars", "params"}}
)

const maxExpressionLength = 1000

func numberParam(name, description string) stepwise.ParameterDescriptor {
	return stepwise.ParameterDescriptor{Name: name, Type: "number", Description: description, Required: true}
}

// MathTools returns the sum, subtract, multiply and divide tools.
func MathTools() []adapters.DescribedTool {
	return []adapters.DescribedTool{
		adapters.NewGoToolAdapter("sum", Sum,
			adapters.WithDescription("Adds two numbers together"),
			adapters.WithCategory("Math"),
			adapters.WithParameters(
				numberParam("a", "First number to add"),
				numberParam("b", "Second number to add"),
			),
			adapters.WithReturnType("number"),
		),
		adapters.NewGoToolAdapter("subtract", Subtract,
			adapters.WithDescription("Subtracts second number from the first"),
			adapters.WithCategory("Math"),
			adapters.WithParameters(
				numberParam("a", "Number to subtract from"),
				numberParam("b", "Number to subtract"),
			),
			adapters.WithReturnType("number"),
		),
		adapters.NewGoToolAdapter("multiply", Multiply,
			adapters.WithDescription("Multiplies two numbers together"),
			adapters.WithCategory("Math"),
			adapters.WithParameters(
				numberParam("a", "First number to multiply"),
				numberParam("b", "Second number to multiply"),
			),
			adapters.WithReturnType("number"),
		),
		adapters.NewGoToolAdapter("divide", Divide,
			adapters.WithDescription("Divides first number by the second"),
			adapters.WithCategory("Math"),
			adapters.WithParameters(
				numberParam("a", "Numerator"),
				numberParam("b", "Denominator (cannot be zero)"),
			),
			adapters.WithReturnType("number"),
		),
	}
}

// CalculateTool returns a tool evaluating arithmetic expressions with the
// functions in registry. A nil registry uses the process-wide one.
func CalculateTool(registry *ExpressionFunctionRegistry) adapters.DescribedTool {
	if registry == nil {
		registry = globalExprFuncRegistry
	}
	return adapters.NewGoToolAdapter("calculate", Calculate(registry),
		adapters.WithDescription("Calculates a mathematical expression such as '(a + 2) * max(3, b)'"),
		adapters.WithCategory("Math"),
		adapters.WithParameters(
			stepwise.ParameterDescriptor{Name: "expression", Type: "string", Description: "Expression to evaluate", Required: true},
			stepwise.ParameterDescriptor{Name: "variables", Type: "object", Description: "Values for names used in the expression"},
		),
		adapters.WithReturnType("number"),
		adapters.WithValidator(validateCalculationInput),
	)
}

// Calculate evaluates the "expression" argument. An optional "variables"
// object supplies named values; numeric strings among them are coerced.
func Calculate(registry *ExpressionFunctionRegistry) stepwise.ToolFunc {
	return func(ctx context.Context, args stepwise.Kwargs) (any, error) {
		raw, _ := args.Lookup(expressionParam)
		expr := fmt.Sprint(raw)

		var params map[string]interface{}
		if v, ok := args.Lookup(variablesParam); ok {
			vars, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("calculate: variables must be an object, got %T", v)
			}
			params = make(map[string]interface{}, len(vars))
			for name, value := range vars {
				if s, ok := value.(string); ok {
					if n, ok := stepwise.ParseNumber(s); ok {
						value = n
					}
				}
				params[name] = toGovaluate(value)
			}
		}
		return registry.Evaluate(expr, params)
	}
}

// toGovaluate widens ints: govaluate only does arithmetic on float64.
func toGovaluate(v any) any {
	if i, ok := v.(int); ok {
		return float64(i)
	}
	return v
}

// validateCalculationInput validates the input for the calculation tool.
func validateCalculationInput(input stepwise.Kwargs) error {
	expr, ok := input.Lookup(expressionParam)
	if !ok {
		return fmt.Errorf("missing expression (expected at key 'expression')")
	}

	switch e := expr.(type) {
	case string:
		if len(e) == 0 {
			return fmt.Errorf("expression cannot be empty")
		}
		if len(e) > maxExpressionLength {
			return fmt.Errorf("expression too long (max %d characters)", maxExpressionLength)
		}
	case int, float64:
		// A bare number was coerced by the resolver; it is its own value.
	default:
		return fmt.Errorf("expression must be a string, got %T", expr)
	}
	return nil
}

// SetupTools creates a toolbox with every built-in tool.
func SetupTools() *adapters.Toolbox {
	tb := adapters.NewToolbox()
	tb.MustRegister(MathTools()...)
	tb.MustRegister(CalculateTool(nil))
	return tb
}

package adapters

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/stepwise"
)

// GoToolAdapter adapts a standard Go function to the stepwise.Tool interface
// and carries the descriptor planners see.
type GoToolAdapter struct {
	toolFunc   stepwise.ToolFunc
	descriptor stepwise.ToolDescriptor
	validator  func(stepwise.Kwargs) error
	category   string
}

// ToolOption represents an option for configuring a GoToolAdapter.
type ToolOption func(*GoToolAdapter)

// WithValidator sets a validator run before every call.
func WithValidator(validator func(stepwise.Kwargs) error) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.validator = validator
	}
}

// WithCategory sets the tool's category.
func WithCategory(category string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.category = category
	}
}

// WithDescription sets a detailed description for the tool.
func WithDescription(description string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.descriptor.Description = description
	}
}

// WithParameters describes the tool's parameters in declaration order.
func WithParameters(parameters ...stepwise.ParameterDescriptor) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.descriptor.Parameters = append(stepwise.Parameters(nil), parameters...)
	}
}

// WithReturnType sets the advertised return type. The default is "any".
func WithReturnType(returnType string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.descriptor.ReturnType = returnType
	}
}

// NewGoToolAdapter creates a new adapter for a Go function.
func NewGoToolAdapter(name string, toolFunc stepwise.ToolFunc, options ...ToolOption) *GoToolAdapter {
	adapter := &GoToolAdapter{
		toolFunc:   toolFunc,
		descriptor: stepwise.ToolDescriptor{Name: name, ReturnType: "any"},
	}

	for _, option := range options {
		option(adapter)
	}
	for i, p := range adapter.descriptor.Parameters {
		if p.Type == "" {
			adapter.descriptor.Parameters[i].Type = "string"
		}
	}
	if adapter.descriptor.ReturnType == "" {
		adapter.descriptor.ReturnType = "any"
	}

	return adapter
}

// Call implements the stepwise.Tool interface. Validation failures are
// returned like any other tool error.
func (a *GoToolAdapter) Call(ctx context.Context, args stepwise.Kwargs) (any, error) {
	if a.toolFunc == nil {
		return nil, fmt.Errorf("tool %s has no function", a.descriptor.Name)
	}
	if err := a.Validate(args); err != nil {
		return nil, fmt.Errorf("input validation failed for %s: %w", a.descriptor.Name, err)
	}
	return a.toolFunc(ctx, args)
}

// Validate runs the configured validator, if any.
func (a *GoToolAdapter) Validate(args stepwise.Kwargs) error {
	if a.validator != nil {
		return a.validator(args)
	}
	return nil
}

// Descriptor returns a copy of the tool's descriptor.
func (a *GoToolAdapter) Descriptor() stepwise.ToolDescriptor {
	d := a.descriptor
	d.Parameters = append(stepwise.Parameters(nil), a.descriptor.Parameters...)
	return d
}

// Name returns the registered tool name.
func (a *GoToolAdapter) Name() string {
	return a.descriptor.Name
}

// Category returns the tool's category, if set.
func (a *GoToolAdapter) Category() string {
	return a.category
}

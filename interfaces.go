package stepwise

import "context"

// Kwargs are the resolved keyword arguments handed to a tool.
type Kwargs map[string]any

// ParamSpec statically declares a tool parameter together with the alternate
// names planners are known to use for it.
type ParamSpec struct {
	Name    string
	Aliases []string
}

// Lookup returns the first non-nil value found under the parameter name or,
// failing that, its aliases in declaration order.
func (k Kwargs) Lookup(spec ParamSpec) (any, bool) {
	if v, ok := k[spec.Name]; ok && v != nil {
		return v, true
	}
	for _, alias := range spec.Aliases {
		if v, ok := k[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Tool is an executable capability invoked with keyword arguments.
type Tool interface {
	Call(ctx context.Context, args Kwargs) (any, error)
}

// ToolFunc adapts an ordinary function to the Tool interface.
type ToolFunc func(ctx context.Context, args Kwargs) (any, error)

// Call implements Tool.
func (f ToolFunc) Call(ctx context.Context, args Kwargs) (any, error) {
	return f(ctx, args)
}

// Registry resolves tool names. It is shared read-only between runs.
type Registry interface {
	Lookup(name string) (Tool, bool)
}

// Catalog describes the registered tools to a Planner.
type Catalog interface {
	Descriptors() []ToolDescriptor
}

// Toolset is a Registry that can also describe itself.
type Toolset interface {
	Registry
	Catalog
}

// PlanRequest is the Planner's input.
type PlanRequest struct {
	Instructions string           `json:"instructions"`
	Tools        []ToolDescriptor `json:"tools"`
}

// Planner turns natural-language instructions into a Plan.
type Planner interface {
	GeneratePlan(ctx context.Context, req PlanRequest) (*Plan, error)
}

// Executor runs a Plan and returns the final step's output.
type Executor interface {
	ExecutePlan(ctx context.Context, plan *Plan) (any, error)
}

// Cache provides storage for generated plans.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
}

// FieldGetter lets a stored result expose named fields to "{name.field}"
// references without reflection.
type FieldGetter interface {
	Field(name string) (any, bool)
}

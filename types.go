package stepwise

import (
	"fmt"
	"strings"
	"sync"
)

// RunState represents the lifecycle state of a single plan execution.
type RunState string

const (
	// RunStateIdle indicates no plan has been started.
	RunStateIdle RunState = "idle"
	// RunStateRunning indicates steps are being executed.
	RunStateRunning RunState = "running"
	// RunStateCompleted indicates every step finished without error.
	RunStateCompleted RunState = "completed"
	// RunStateFailed indicates a step failed and the run stopped.
	RunStateFailed RunState = "failed"
)

// IsTerminal reports whether the state ends a run.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// Argument is one named raw argument expression of a ToolCall.
type Argument struct {
	Name  string
	Value any
}

// Arguments is an ordered mapping from parameter name to raw, unresolved
// argument expression. It encodes as a JSON/YAML object and keeps key order.
type Arguments []Argument

// Args builds Arguments from alternating name/value pairs.
// It panics on an odd count or a non-string name.
func Args(pairs ...any) Arguments {
	if len(pairs)%2 != 0 {
		panic("stepwise.Args: odd number of arguments")
	}
	args := make(Arguments, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("stepwise.Args: argument name at position %d is %T, not string", i, pairs[i]))
		}
		args = args.With(name, pairs[i+1])
	}
	return args
}

// Get returns the raw value stored under name.
func (a Arguments) Get(name string) (any, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// With returns a copy of a with name set to value. An existing name keeps
// its position.
func (a Arguments) With(name string, value any) Arguments {
	out := a.Clone()
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, Argument{Name: name, Value: value})
}

// Names returns the argument names in order.
func (a Arguments) Names() []string {
	names := make([]string, len(a))
	for i, arg := range a {
		names[i] = arg.Name
	}
	return names
}

// Clone returns a shallow copy.
func (a Arguments) Clone() Arguments {
	if a == nil {
		return nil
	}
	out := make(Arguments, len(a))
	copy(out, a)
	return out
}

// ToolCall is one planned tool invocation.
type ToolCall struct {
	// ToolName is not validated until the step runs.
	ToolName  string
	Arguments Arguments
	// ResultName is where the step's output is stored. Uniqueness within a
	// plan is expected but not enforced; a later step overwrites.
	ResultName  string
	Description string
	// DependsOn is advisory. It only affects ordering when the executor is
	// configured with ScheduleDependsOn.
	DependsOn []string
}

// Clone returns a copy that shares no slices with c.
func (c ToolCall) Clone() ToolCall {
	c.Arguments = c.Arguments.Clone()
	if c.DependsOn != nil {
		c.DependsOn = append([]string(nil), c.DependsOn...)
	}
	return c
}

func (c ToolCall) String() string {
	parts := make([]string, len(c.Arguments))
	for i, arg := range c.Arguments {
		parts[i] = fmt.Sprintf("%s=%v", arg.Name, arg.Value)
	}
	return fmt.Sprintf("%s(%s) -> %s", c.ToolName, strings.Join(parts, ", "), c.ResultName)
}

// Plan is an immutable, ordered sequence of tool calls.
type Plan struct {
	name  string
	steps []ToolCall
}

// NewPlan creates a plan from the given steps. The steps are copied.
func NewPlan(steps ...ToolCall) *Plan {
	return NewNamedPlan("", steps...)
}

// NewNamedPlan creates a plan carrying an informational name.
func NewNamedPlan(name string, steps ...ToolCall) *Plan {
	p := &Plan{name: name, steps: make([]ToolCall, len(steps))}
	for i, step := range steps {
		p.steps[i] = step.Clone()
	}
	return p
}

// Name returns the plan's informational name.
func (p *Plan) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.steps)
}

// Step returns a copy of the i-th step.
func (p *Plan) Step(i int) ToolCall {
	return p.steps[i].Clone()
}

// Steps returns a copy of all steps in execution order.
func (p *Plan) Steps() []ToolCall {
	if p == nil {
		return nil
	}
	out := make([]ToolCall, len(p.steps))
	for i, step := range p.steps {
		out[i] = step.Clone()
	}
	return out
}

// Last returns the final step. ok is false for an empty plan.
func (p *Plan) Last() (ToolCall, bool) {
	if p.Len() == 0 {
		return ToolCall{}, false
	}
	return p.Step(p.Len() - 1), true
}

func (p *Plan) String() string {
	var b strings.Builder
	b.WriteString("Plan[")
	for i, step := range p.Steps() {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(step.String())
	}
	b.WriteString("]")
	return b.String()
}

// Results is the result namespace of a run: an insertion-ordered mapping from
// result name to tool output.
type Results struct {
	mu     sync.RWMutex
	keys   []string
	values map[string]any
}

// NewResults creates an empty namespace.
func NewResults() *Results {
	return &Results{values: make(map[string]any)}
}

// Get returns the value stored under name.
func (r *Results) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[name]
	return v, ok
}

// Has reports whether name is present.
func (r *Results) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Set stores value under name. Overwriting keeps the original position.
func (r *Results) Set(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, exists := r.values[name]; !exists {
		r.keys = append(r.keys, name)
	}
	r.values[name] = value
}

// Len returns the number of entries.
func (r *Results) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// Keys returns the result names in insertion order.
func (r *Results) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.keys...)
}

// Snapshot returns a copy of the namespace as a plain map.
func (r *Results) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy, order included.
func (r *Results) Clone() *Results {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Results{keys: append([]string(nil), r.keys...), values: make(map[string]any, len(r.values))}
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// Reset empties the namespace.
func (r *Results) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = nil
	r.values = make(map[string]any)
}

package adapters

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/stepwise"
)

// DescribedTool is a tool that can describe itself to planners.
type DescribedTool interface {
	stepwise.Tool
	Descriptor() stepwise.ToolDescriptor
}

// Toolbox is a concurrency-safe tool registry. It is written during setup and
// read by any number of executors.
type Toolbox struct {
	mu    sync.RWMutex
	tools map[string]DescribedTool
	order []string
}

// NewToolbox creates an empty toolbox.
func NewToolbox() *Toolbox {
	return &Toolbox{tools: make(map[string]DescribedTool)}
}

// Register adds a tool under its descriptor name. Names are unique.
func (tb *Toolbox) Register(tool DescribedTool) error {
	if tool == nil {
		return stepwise.NewValidationError("registration", "tool cannot be nil", nil)
	}
	name := tool.Descriptor().Name
	if strings.TrimSpace(name) == "" {
		return stepwise.NewValidationError("registration", "tool name cannot be empty", nil)
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()
	if _, exists := tb.tools[name]; exists {
		return stepwise.NewValidationError("registration", fmt.Sprintf("tool '%s' is already registered", name), nil)
	}
	tb.tools[name] = tool
	tb.order = append(tb.order, name)
	return nil
}

// RegisterFunc wraps fn in a GoToolAdapter and registers it.
func (tb *Toolbox) RegisterFunc(name string, fn func(ctx context.Context, args stepwise.Kwargs) (any, error), options ...ToolOption) error {
	return tb.Register(NewGoToolAdapter(name, fn, options...))
}

// MustRegister is Register for setup code; it panics on error.
func (tb *Toolbox) MustRegister(tools ...DescribedTool) *Toolbox {
	for _, tool := range tools {
		if err := tb.Register(tool); err != nil {
			panic(err)
		}
	}
	return tb
}

// Lookup implements stepwise.Registry.
func (tb *Toolbox) Lookup(name string) (stepwise.Tool, bool) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	tool, ok := tb.tools[name]
	if !ok {
		return nil, false
	}
	return tool, true
}

// Descriptors implements stepwise.Catalog, in registration order.
func (tb *Toolbox) Descriptors() []stepwise.ToolDescriptor {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	out := make([]stepwise.ToolDescriptor, 0, len(tb.order))
	for _, name := range tb.order {
		out = append(out, tb.tools[name].Descriptor())
	}
	return out
}

// Names returns the registered tool names, sorted.
func (tb *Toolbox) Names() []string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	names := append([]string(nil), tb.order...)
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (tb *Toolbox) Len() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return len(tb.order)
}

var _ stepwise.Toolset = (*Toolbox)(nil)

package executor

import (
	"context"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/sourcegraph/conc/pool"
)

// BatchResult is the outcome of one plan in ExecuteAll.
type BatchResult struct {
	Index   int
	Value   any
	Err     error
	Results map[string]any
	Metrics ExecutorMetrics
}

// ExecuteAll runs plans concurrently, at most maxConcurrent at a time, each
// with its own executor over the shared registry. Results are returned in
// plan order. A failing plan does not stop the others.
func ExecuteAll(ctx context.Context, tools stepwise.Registry, plans []*stepwise.Plan, maxConcurrent int, options ...ExecutorOption) []BatchResult {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	out := make([]BatchResult, len(plans))

	p := pool.New().WithMaxGoroutines(maxConcurrent)
	for i, plan := range plans {
		p.Go(func() {
			exec := NewExecutor(tools, options...)
			value, err := exec.ExecutePlan(ctx, plan)
			out[i] = BatchResult{
				Index:   i,
				Value:   value,
				Err:     err,
				Results: exec.Results().Snapshot(),
				Metrics: exec.Metrics(),
			}
		})
	}
	p.Wait()
	return out
}

package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteAll(t *testing.T) {
	reg := arithmeticRegistry()
	plans := []*stepwise.Plan{
		stepwise.NewPlan(step("sum", "R1", "a", 1, "b", 2)),
		stepwise.NewPlan(step("divide", "R1", "a", 1, "b", 0)),
		stepwise.NewPlan(),
		stepwise.NewPlan(
			step("sum", "R1", "a", 10, "b", 20),
			step("multiply", "R2", "a", "R1", "b", 100),
		),
	}

	results := ExecuteAll(context.Background(), reg, plans, 2)

	require.Len(t, results, len(plans))
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 3, results[0].Value)
	assert.True(t, stepwise.HasCode(results[1].Err, stepwise.ErrCodeToolInvocation))
	assert.NoError(t, results[2].Err)
	assert.Nil(t, results[2].Value)
	assert.Equal(t, 3000, results[3].Value)
	assert.Equal(t, map[string]any{"R1": 30, "R2": 3000}, results[3].Results)
	assert.Equal(t, 2, results[3].Metrics.StepsSucceeded)
}

func TestExecuteAll_BoundsConcurrency(t *testing.T) {
	var active, maxActive atomic.Int32
	reg := newMockRegistry().add("slow", func(context.Context, stepwise.Kwargs) (any, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	})

	plans := make([]*stepwise.Plan, 8)
	for i := range plans {
		plans[i] = stepwise.NewPlan(step("slow", "R"))
	}
	results := ExecuteAll(context.Background(), reg, plans, 3)

	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.LessOrEqual(t, maxActive.Load(), int32(3))
}

package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mockRegistry is a map-backed registry that records every call.
type mockRegistry struct {
	mu    sync.Mutex
	tools map[string]stepwise.Tool
	calls []string
	seen  []stepwise.Kwargs
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{tools: make(map[string]stepwise.Tool)}
}

func (m *mockRegistry) add(name string, fn func(ctx context.Context, args stepwise.Kwargs) (any, error)) *mockRegistry {
	m.tools[name] = stepwise.ToolFunc(func(ctx context.Context, args stepwise.Kwargs) (any, error) {
		m.mu.Lock()
		m.calls = append(m.calls, name)
		m.seen = append(m.seen, args)
		m.mu.Unlock()
		return fn(ctx, args)
	})
	return m
}

func (m *mockRegistry) Lookup(name string) (stepwise.Tool, bool) {
	t, ok := m.tools[name]
	return t, ok
}

func (m *mockRegistry) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

var errDivide = errors.New("cannot divide by zero")

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func arithmeticRegistry() *mockRegistry {
	return newMockRegistry().
		add("sum", func(_ context.Context, a stepwise.Kwargs) (any, error) {
			return asInt(a["a"]) + asInt(a["b"]), nil
		}).
		add("multiply", func(_ context.Context, a stepwise.Kwargs) (any, error) {
			return asInt(a["a"]) * asInt(a["b"]), nil
		}).
		add("divide", func(_ context.Context, a stepwise.Kwargs) (any, error) {
			if asInt(a["b"]) == 0 {
				return nil, errDivide
			}
			return float64(asInt(a["a"])) / float64(asInt(a["b"])), nil
		}).
		add("echo", func(_ context.Context, a stepwise.Kwargs) (any, error) {
			return a["value"], nil
		})
}

func step(tool, result string, args ...any) stepwise.ToolCall {
	return stepwise.ToolCall{ToolName: tool, Arguments: stepwise.Args(args...), ResultName: result}
}

func TestExecutePlan_SumThenMultiply(t *testing.T) {
	exec := NewExecutor(arithmeticRegistry())
	plan := stepwise.NewPlan(
		step("sum", "R1", "a", 10, "b", 20),
		step("multiply", "R2", "a", "R1", "b", 100),
	)

	got, err := exec.ExecutePlan(context.Background(), plan)

	require.NoError(t, err)
	assert.Equal(t, 3000, got)
	assert.Equal(t, stepwise.RunStateCompleted, exec.State())
	assert.Equal(t, []string{"R1", "R2"}, exec.Results().Keys())
	assert.Equal(t, stepwise.NoStep, exec.CurrentStep())
	assert.NotEmpty(t, exec.RunID())
}

func TestExecutePlan_StringLiteralsAreCoerced(t *testing.T) {
	exec := NewExecutor(arithmeticRegistry())
	plan := stepwise.NewPlan(
		step("sum", "sum_result", "a", "10", "b", "20"),
		step("multiply", "final_result", "a", "sum_result", "b", "100"),
	)
	got, err := exec.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 3000, got)
}

func TestExecutePlan_DivideByZero(t *testing.T) {
	exec := NewExecutor(arithmeticRegistry())
	plan := stepwise.NewPlan(step("divide", "R", "a", 10, "b", 0))

	got, err := exec.ExecutePlan(context.Background(), plan)

	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errDivide), "tool error must stay reachable")
	assert.True(t, stepwise.HasCode(err, stepwise.ErrCodeToolInvocation))
	var se *stepwise.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 0, se.Step)
	assert.Equal(t, "R", se.ResultName)
	assert.Equal(t, stepwise.RunStateFailed, exec.State())
	assert.Equal(t, 0, exec.Results().Len())
}

func TestExecutePlan_UnknownToolBeforeResolution(t *testing.T) {
	reg := arithmeticRegistry()
	exec := NewExecutor(reg)
	plan := stepwise.NewPlan(
		step("sum", "R1", "a", 1, "b", 2),
		// The malformed list would warn if resolution ran.
		step("foo", "R2", "a", "[R1, \xff]"),
		step("sum", "R3", "a", 1, "b", 1),
	)

	_, err := exec.ExecutePlan(context.Background(), plan)

	require.Error(t, err)
	assert.True(t, errors.Is(err, stepwise.ErrUnknownTool))
	assert.True(t, stepwise.HasCode(err, stepwise.ErrCodeUnknownTool))
	assert.Equal(t, []string{"sum"}, reg.Calls(), "no step after the unknown tool may run")
	assert.Equal(t, 0, exec.Metrics().ArgumentWarnings)
	assert.Equal(t, 1, exec.CurrentStep())
	assert.Equal(t, []string{"R1"}, exec.Results().Keys(), "earlier results are not rolled back")
}

func TestExecutePlan_EmptyPlan(t *testing.T) {
	exec := NewExecutor(arithmeticRegistry())
	for _, plan := range []*stepwise.Plan{stepwise.NewPlan(), nil} {
		got, err := exec.ExecutePlan(context.Background(), plan)
		assert.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, stepwise.RunStateCompleted, exec.State())
		assert.Equal(t, 0, exec.Results().Len())
	}
}

func TestExecutePlan_ListArgument(t *testing.T) {
	exec := NewExecutor(arithmeticRegistry())
	plan := stepwise.NewPlan(
		step("echo", "R1", "value", 7),
		step("echo", "R2", "value", `[R1, 5, "x"]`),
	)
	got, err := exec.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []any{7, 5, "x"}, got)
}

func TestExecutePlan_ReferenceKeepsIdentity(t *testing.T) {
	payload := map[string]any{"id": "t-1"}
	reg := arithmeticRegistry().add("make", func(context.Context, stepwise.Kwargs) (any, error) {
		return payload, nil
	})
	exec := NewExecutor(reg)
	plan := stepwise.NewPlan(
		step("make", "task"),
		step("echo", "same", "value", "task"),
		step("echo", "id", "value", "{task.id}"),
	)
	got, err := exec.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, "t-1", got)
	same, _ := exec.Results().Get("same")
	assert.Equal(t, fmt.Sprintf("%p", payload), fmt.Sprintf("%p", same))
}

func TestExecutePlan_OverwriteAndFinalResult(t *testing.T) {
	exec := NewExecutor(arithmeticRegistry())
	plan := stepwise.NewPlan(
		step("echo", "x", "value", 1),
		step("echo", "y", "value", "x"),
		step("echo", "x", "value", 2),
	)
	got, err := exec.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Equal(t, []string{"x", "y"}, exec.Results().Keys())
}

func TestExecutePlan_RoundTrip(t *testing.T) {
	exec := NewExecutor(arithmeticRegistry())
	plan := stepwise.NewPlan(
		step("sum", "R1", "a", 2, "b", 3),
		step("multiply", "R2", "a", "R1", "b", "R1"),
	)
	first, err := exec.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	second, err := exec.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 25, second)
	assert.Equal(t, 2, exec.Results().Len())
}

func TestExecutePlan_NamespaceResetBetweenRuns(t *testing.T) {
	exec := NewExecutor(arithmeticRegistry())
	_, err := exec.ExecutePlan(context.Background(), stepwise.NewPlan(step("echo", "old", "value", 1)))
	require.NoError(t, err)

	got, err := exec.ExecutePlan(context.Background(), stepwise.NewPlan(step("echo", "new", "value", "old")))
	require.NoError(t, err)
	assert.Equal(t, "old", got, "results of a previous run must not leak")
}

func TestExecutePlan_DependsOnIgnoredByDefault(t *testing.T) {
	reg := arithmeticRegistry()
	exec := NewExecutor(reg)
	plan := stepwise.NewPlan(
		stepwise.ToolCall{ToolName: "echo", Arguments: stepwise.Args("value", "B"), ResultName: "A", DependsOn: []string{"B"}},
		stepwise.ToolCall{ToolName: "echo", Arguments: stepwise.Args("value", 1), ResultName: "B"},
	)
	_, err := exec.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	a, _ := exec.Results().Get("A")
	assert.Equal(t, "B", a, "forward reference resolves to its literal")
}

func TestExecutePlan_DependsOnScheduling(t *testing.T) {
	reg := arithmeticRegistry()
	exec := NewExecutor(reg, WithScheduling(stepwise.ScheduleDependsOn))
	plan := stepwise.NewPlan(
		stepwise.ToolCall{ToolName: "multiply", Arguments: stepwise.Args("a", "B", "b", 2), ResultName: "A", DependsOn: []string{"B"}},
		stepwise.ToolCall{ToolName: "sum", Arguments: stepwise.Args("a", 1, "b", 2), ResultName: "B"},
		stepwise.ToolCall{ToolName: "echo", Arguments: stepwise.Args("value", "A"), ResultName: "C", DependsOn: []string{"A"}},
	)
	got, err := exec.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 6, got)
	assert.Equal(t, []string{"sum", "multiply", "echo"}, reg.Calls())
}

func TestExecutePlan_DependsOnValidation(t *testing.T) {
	tests := []struct {
		name  string
		steps []stepwise.ToolCall
	}{
		{"unknown dependency", []stepwise.ToolCall{
			{ToolName: "echo", ResultName: "A", DependsOn: []string{"missing"}},
		}},
		{"cycle", []stepwise.ToolCall{
			{ToolName: "echo", ResultName: "A", DependsOn: []string{"B"}},
			{ToolName: "echo", ResultName: "B", DependsOn: []string{"A"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := arithmeticRegistry()
			exec := NewExecutor(reg, WithScheduling(stepwise.ScheduleDependsOn))
			_, err := exec.ExecutePlan(context.Background(), stepwise.NewPlan(tt.steps...))
			require.Error(t, err)
			assert.True(t, stepwise.HasCode(err, stepwise.ErrCodeValidation))
			assert.Empty(t, reg.Calls(), "no step may run")
			assert.Equal(t, stepwise.RunStateFailed, exec.State())
		})
	}
}

func TestExecutePlan_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := arithmeticRegistry().add("cancel", func(context.Context, stepwise.Kwargs) (any, error) {
		cancel()
		return "done", nil
	})
	exec := NewExecutor(reg)
	plan := stepwise.NewPlan(
		step("cancel", "R1"),
		step("echo", "R2", "value", "R1"),
	)

	_, err := exec.ExecutePlan(ctx, plan)

	require.Error(t, err)
	assert.True(t, stepwise.HasCode(err, stepwise.ErrCodeCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []string{"cancel"}, reg.Calls())
	assert.Equal(t, 1, exec.CurrentStep())
}

func TestExecutePlan_NilRegistry(t *testing.T) {
	exec := NewExecutor(nil)
	_, err := exec.ExecutePlan(context.Background(), stepwise.NewPlan(step("sum", "R")))
	assert.True(t, stepwise.HasCode(err, stepwise.ErrCodeUnknownTool))
}

func TestExecutePlan_ParseWarningIsReported(t *testing.T) {
	const malformed = "[[1], \xff]"
	core, logs := observer.New(zap.WarnLevel)
	bus := eventbus.NewChannelEventBus(eventbus.WithWorkerCount(1))
	defer bus.Close()
	warnings := make(chan eventbus.Event, 1)
	_, err := bus.Subscribe([]eventbus.EventType{eventbus.EventArgumentParseWarning}, func(_ context.Context, e eventbus.Event) error {
		warnings <- e
		return nil
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	exec := NewExecutor(arithmeticRegistry(),
		WithLogger(zap.New(core)),
		WithEventBus(bus),
		WithMetrics(m))
	got, err := exec.ExecutePlan(context.Background(), stepwise.NewPlan(step("echo", "R", "value", malformed)))

	require.NoError(t, err, "a parse warning never aborts the run")
	assert.Equal(t, malformed, got)
	assert.Equal(t, 1, exec.Metrics().ArgumentWarnings)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ArgumentWarnings))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Runs.WithLabelValues(outcomeSuccess)))

	entries := logs.FilterField(zap.String("expression", malformed)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)

	select {
	case e := <-warnings:
		assert.Equal(t, 0, e.Metadata()["step"])
		w, ok := e.Payload().(*stepwise.Error)
		require.True(t, ok)
		assert.Equal(t, stepwise.ErrCodeArgumentParse, w.Code)
	case <-time.After(time.Second):
		t.Fatal("no argument_parse_warning event")
	}
}

func TestExecutePlan_StepMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	exec := NewExecutor(arithmeticRegistry(), WithMetrics(m))

	_, err = exec.ExecutePlan(context.Background(), stepwise.NewPlan(
		step("sum", "R1", "a", 1, "b", 1),
		step("divide", "R2", "a", "R1", "b", 0),
	))
	require.Error(t, err)

	stats := exec.Metrics()
	assert.Equal(t, 2, stats.StepsExecuted)
	assert.Equal(t, 1, stats.StepsSucceeded)
	assert.Equal(t, 1, stats.StepsFailed)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Steps.WithLabelValues("sum", outcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Steps.WithLabelValues("divide", outcomeFailure)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Runs.WithLabelValues(outcomeFailure)))
}

func TestExecutePlan_ConcurrentCallsSerialise(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	reg := arithmeticRegistry().add("slow", func(_ context.Context, a stepwise.Kwargs) (any, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return a["value"], nil
	})
	exec := NewExecutor(reg)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := exec.ExecutePlan(context.Background(), stepwise.NewPlan(step("slow", "R", "value", i)))
			assert.NoError(t, err)
			assert.Equal(t, i, got)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

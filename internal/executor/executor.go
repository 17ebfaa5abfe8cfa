package executor

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const eventSource = "executor"

// PlanExecutor runs plans step by step against a tool registry.
//
// It keeps the result namespace of its latest run until the next ExecutePlan
// call. Concurrent ExecutePlan calls on one executor run one after another;
// independent runs should use independent executors sharing one registry.
type PlanExecutor struct {
	tools      stepwise.Registry
	results    *stepwise.Results
	log        *zap.Logger
	eventBus   eventbus.EventBus
	prom       *Metrics
	scheduling stepwise.Scheduling

	// Statistics of the latest run
	metrics ExecutorMetrics

	runMu   sync.Mutex // serialises runs
	stateMu sync.RWMutex
	state   stepwise.RunState
	current int
	runID   string
}

// ExecutorOption represents an option for configuring the PlanExecutor.
type ExecutorOption func(*PlanExecutor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *PlanExecutor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEventBus publishes run and step lifecycle events on bus.
func WithEventBus(bus eventbus.EventBus) ExecutorOption {
	return func(e *PlanExecutor) {
		e.eventBus = bus
	}
}

// WithMetrics records run and step activity in Prometheus collectors.
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *PlanExecutor) {
		e.prom = m
	}
}

// WithScheduling selects the step order. The default is list order.
func WithScheduling(mode stepwise.Scheduling) ExecutorOption {
	return func(e *PlanExecutor) {
		e.scheduling = mode
	}
}

// NewExecutor creates an executor over tools. The registry is only read.
func NewExecutor(tools stepwise.Registry, options ...ExecutorOption) *PlanExecutor {
	e := &PlanExecutor{
		tools:      tools,
		results:    stepwise.NewResults(),
		log:        zap.NewNop(),
		scheduling: stepwise.ScheduleListOrder,
		state:      stepwise.RunStateIdle,
		current:    stepwise.NoStep,
	}
	for _, option := range options {
		option(e)
	}
	if e.tools == nil {
		e.log.Warn("executor created without a tool registry; every step will fail with UNKNOWN_TOOL")
	}
	return e
}

// Factory returns a stepwise.ExecutorFactory. Executors follow the runtime's
// scheduling mode and publish on its event bus; options are applied after
// and may override both.
func Factory(options ...ExecutorOption) stepwise.ExecutorFactory {
	return func(tools stepwise.Registry, cfg stepwise.Config, bus eventbus.EventBus) stepwise.Executor {
		return NewExecutor(tools, append(runtimeOptions(cfg, bus), options...)...)
	}
}

func runtimeOptions(cfg stepwise.Config, bus eventbus.EventBus) []ExecutorOption {
	options := []ExecutorOption{WithScheduling(cfg.Scheduling)}
	if bus != nil {
		options = append(options, WithEventBus(bus))
	}
	return options
}

// ExecutePlan runs plan and returns the output of its last step. An empty plan
// completes with a nil value and no error.
//
// The result namespace is emptied first. A failing step stops the run; results
// of earlier steps stay in Results.
func (e *PlanExecutor) ExecutePlan(ctx context.Context, plan *stepwise.Plan) (any, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	runID := uuid.New().String()
	e.results.Reset()
	e.metrics.reset()
	e.setState(stepwise.RunStateRunning, stepwise.NoStep, runID)

	log := e.log.With(zap.String("run_id", runID))
	startTime := time.Now()
	steps := plan.Steps()

	order, err := orderSteps(steps, e.scheduling)
	if err != nil {
		return nil, e.fail(ctx, log, runID, startTime, err)
	}

	if len(steps) == 0 {
		e.setState(stepwise.RunStateCompleted, stepwise.NoStep, runID)
		e.metrics.finish(time.Since(startTime))
		e.prom.observeRun(outcomeSuccess)
		log.Debug("empty plan, nothing to execute")
		e.emit(ctx, eventbus.NewEvent(eventbus.EventRunCompleted, nil, eventSource, nil).WithMetadata("run_id", runID))
		return nil, nil
	}

	log.Info("starting plan execution",
		zap.String("plan", plan.Name()),
		zap.Int("total_steps", len(steps)),
		zap.String("scheduling", string(e.scheduling)))
	e.emit(ctx, eventbus.NewEvent(eventbus.EventRunStarted, len(steps), eventSource, nil).WithMetadata("run_id", runID))

	for _, i := range order {
		step := steps[i]
		if err := ctx.Err(); err != nil {
			return nil, e.fail(ctx, log, runID, startTime, stepwise.NewCancelledError("execution", err).AtStep(i, step.ResultName))
		}
		e.setCurrent(i)

		value, err := e.invoke(ctx, log, runID, i, step)
		if err != nil {
			return nil, e.fail(ctx, log, runID, startTime, err)
		}
		e.results.Set(step.ResultName, value)
	}

	final, _ := e.results.Get(steps[len(steps)-1].ResultName)
	execDuration := time.Since(startTime)
	e.metrics.finish(execDuration)
	e.prom.observeRun(outcomeSuccess)
	e.setState(stepwise.RunStateCompleted, stepwise.NoStep, runID)

	stats := e.metrics.Copy()
	log.Info("plan execution finished",
		zap.Int("steps", stats.StepsExecuted),
		zap.Int("argument_warnings", stats.ArgumentWarnings),
		zap.Duration("duration", execDuration))
	e.emit(ctx, eventbus.NewEvent(eventbus.EventRunCompleted, final, eventSource, nil).WithMetadata("run_id", runID))
	return final, nil
}

// invoke runs one step: tool lookup, argument resolution, call. The tool is
// looked up before any argument is resolved. Tool errors are wrapped without
// losing the original for errors.Is and errors.As.
func (e *PlanExecutor) invoke(ctx context.Context, log *zap.Logger, runID string, index int, step stepwise.ToolCall) (any, error) {
	log = log.With(
		zap.Int("step", index),
		zap.String("tool", step.ToolName),
		zap.String("result_name", step.ResultName))

	var tool stepwise.Tool
	ok := false
	if e.tools != nil {
		tool, ok = e.tools.Lookup(step.ToolName)
	}
	if !ok || tool == nil {
		e.metrics.recordStep(0, true)
		e.prom.observeStep(step.ToolName, 0, true)
		return nil, stepwise.NewUnknownToolError("execution", step.ToolName).AtStep(index, step.ResultName)
	}

	resolver := NewResolver(e.results, func(expression string, w *stepwise.Error) {
		w.AtStep(index, step.ResultName)
		e.metrics.recordWarning()
		e.prom.observeWarning()
		log.Warn("argument expression fell back to literal resolution",
			zap.String("expression", expression),
			zap.Error(w.Cause))
		e.emit(ctx, eventbus.NewEvent(eventbus.EventArgumentParseWarning, w, eventSource, nil).
			WithMetadata("run_id", runID).
			WithMetadata("step", index))
	})
	kwargs := resolver.ResolveAll(step.Arguments)

	log.Debug("invoking tool")
	e.emit(ctx, stepEvent(eventbus.EventStepStarted, step.ToolName, runID, index, step.ResultName))

	start := time.Now()
	value, err := tool.Call(ctx, kwargs)
	duration := time.Since(start)

	e.metrics.recordStep(duration, err != nil)
	e.prom.observeStep(step.ToolName, duration, err != nil)
	if err != nil {
		return nil, stepwise.NewToolInvocationError("execution", step.ToolName, err).AtStep(index, step.ResultName)
	}

	log.Debug("tool returned", zap.Duration("duration", duration))
	e.emit(ctx, stepEvent(eventbus.EventStepSucceeded, value, runID, index, step.ResultName))
	return value, nil
}

func (e *PlanExecutor) fail(ctx context.Context, log *zap.Logger, runID string, startTime time.Time, err error) error {
	e.metrics.finish(time.Since(startTime))
	step := stepwise.NoStep
	se, isStepErr := err.(*stepwise.Error)
	if isStepErr {
		step = se.Step
	}
	e.setState(stepwise.RunStateFailed, step, runID)

	outcome := outcomeFailure
	if stepwise.HasCode(err, stepwise.ErrCodeCancelled) {
		outcome = outcomeCancelled
	}
	e.prom.observeRun(outcome)

	log.Error("plan execution failed", zap.Error(err), zap.Duration("duration", time.Since(startTime)))
	if isStepErr && se.Step != stepwise.NoStep {
		// Publish on a fresh context: ctx may be the reason the run failed.
		e.emit(context.WithoutCancel(ctx), stepEvent(eventbus.EventStepFailed, err, runID, se.Step, se.ResultName))
	}
	e.emit(context.WithoutCancel(ctx), eventbus.NewEvent(eventbus.EventRunFailed, err, eventSource, nil).WithMetadata("run_id", runID))
	return err
}

func stepEvent(t eventbus.EventType, payload any, runID string, index int, resultName string) *eventbus.BaseEvent {
	return eventbus.NewEvent(t, payload, eventSource, nil).
		WithMetadata("run_id", runID).
		WithMetadata("step", index).
		WithMetadata("result_name", resultName)
}

func (e *PlanExecutor) emit(ctx context.Context, event eventbus.Event) {
	if err := eventbus.Emit(ctx, e.eventBus, event); err != nil {
		e.log.Debug("event not published", zap.String("event_type", string(event.Type())), zap.Error(err))
	}
}

func (e *PlanExecutor) setState(state stepwise.RunState, current int, runID string) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.state = state
	e.current = current
	e.runID = runID
}

func (e *PlanExecutor) setCurrent(i int) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.current = i
}

// State returns the lifecycle state of the latest run.
func (e *PlanExecutor) State() stepwise.RunState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// CurrentStep returns the index of the running step, or of the failed step
// after a failure. It is stepwise.NoStep otherwise.
func (e *PlanExecutor) CurrentStep() int {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.current
}

// RunID identifies the latest run in logs and events.
func (e *PlanExecutor) RunID() string {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.runID
}

// Results returns a copy of the latest run's namespace.
func (e *PlanExecutor) Results() *stepwise.Results {
	return e.results.Clone()
}

// Metrics returns statistics of the latest run.
func (e *PlanExecutor) Metrics() ExecutorMetrics {
	return e.metrics.Copy()
}

var _ stepwise.Executor = (*PlanExecutor)(nil)

package stepwise

import (
	"context"
	"errors"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AsyncState is the lifecycle state of an async execution.
type AsyncState string

const (
	AsyncPending   AsyncState = "pending" // waiting for a run slot
	AsyncRunning   AsyncState = "running"
	AsyncCompleted AsyncState = "completed"
	AsyncFailed    AsyncState = "failed"
	AsyncCancelled AsyncState = "cancelled"
)

// IsTerminal reports whether the execution has finished.
func (s AsyncState) IsTerminal() bool {
	return s == AsyncCompleted || s == AsyncFailed || s == AsyncCancelled
}

// AsyncStatus represents the status information for an async execution.
type AsyncStatus struct {
	ExecutionID  string        `json:"execution_id"`
	Instructions string        `json:"instructions,omitempty"`
	PlanName     string        `json:"plan_name,omitempty"`
	State        AsyncState    `json:"state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
}

type asyncRun struct {
	id           string
	instructions string
	planName     string
	state        AsyncState
	start        time.Time
	end          time.Time
	result       any
	err          error
	cancel       context.CancelFunc
	done         chan struct{}
}

func (a *asyncRun) duration() time.Duration {
	if a.end.IsZero() {
		return time.Since(a.start)
	}
	return a.end.Sub(a.start)
}

// ExecuteAsync starts executing plan in the background and returns its
// execution ID. At most Config.MaxConcurrentRuns executions run at once;
// the rest wait in the pending state.
func (r *Runtime) ExecuteAsync(ctx context.Context, plan *Plan) (string, error) {
	return r.startAsync(ctx, "", plan.Name(), func(ctx context.Context) (any, error) {
		return r.Execute(ctx, plan)
	})
}

// ProcessAsync plans and executes instructions in the background.
func (r *Runtime) ProcessAsync(ctx context.Context, instructions string) (string, error) {
	if r.planner == nil {
		return "", NewConfigurationError("no planner configured", nil)
	}
	return r.startAsync(ctx, instructions, "", func(ctx context.Context) (any, error) {
		return r.Process(ctx, instructions)
	})
}

func (r *Runtime) startAsync(ctx context.Context, instructions, planName string, fn func(context.Context) (any, error)) (string, error) {
	executionID := uuid.New().String()

	// The execution outlives the caller's request but keeps its values.
	asyncCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &asyncRun{
		id:           executionID,
		instructions: instructions,
		planName:     planName,
		state:        AsyncPending,
		start:        time.Now(),
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	r.asyncMu.Lock()
	r.async[executionID] = run
	r.asyncMu.Unlock()

	log := r.log.With(zap.String("execution_id", executionID))
	r.emitAsync(ctx, eventbus.EventAsyncStarted, run, 0, nil)

	go func() {
		defer close(run.done)
		defer cancel()

		var result any
		err := r.slots.Acquire(asyncCtx, 1)
		if err == nil {
			r.transition(run, AsyncRunning)
			result, err = fn(asyncCtx)
			r.slots.Release(1)
		} else {
			err = NewCancelledError("async", err)
		}

		r.asyncMu.Lock()
		run.end = time.Now()
		run.result, run.err = result, err
		if run.state != AsyncCancelled {
			if err != nil {
				run.state = AsyncFailed
			} else {
				run.state = AsyncCompleted
			}
		}
		state, d := run.state, run.duration()
		r.asyncMu.Unlock()

		switch state {
		case AsyncCompleted:
			log.Info("async execution completed", zap.Duration("duration", d))
			r.emitAsync(context.Background(), eventbus.EventAsyncSucceeded, run, d, nil)
		case AsyncFailed:
			log.Warn("async execution failed", zap.Error(err))
			r.emitAsync(context.Background(), eventbus.EventAsyncFailed, run, d, err)
		}
	}()

	return executionID, nil
}

func (r *Runtime) transition(run *asyncRun, state AsyncState) {
	r.asyncMu.Lock()
	defer r.asyncMu.Unlock()
	if !run.state.IsTerminal() {
		run.state = state
	}
}

// emitAsync publishes an async lifecycle event. run.id and run.instructions
// never change, so run is read without the lock.
func (r *Runtime) emitAsync(ctx context.Context, t eventbus.EventType, run *asyncRun, d time.Duration, err error) {
	event := eventbus.NewEvent(t, run.instructions, "runtime", nil).
		WithMetadata("execution_id", run.id).
		WithMetadata("duration_ms", d.Milliseconds())
	if err != nil {
		event.WithMetadata("error", err.Error())
	}
	_ = eventbus.Emit(ctx, r.eventBus, event)
}

func (r *Runtime) lookupAsync(executionID string) (*asyncRun, error) {
	run, ok := r.async[executionID]
	if !ok {
		return nil, NewAsyncNotFoundError(executionID)
	}
	return run, nil
}

// AsyncStatus retrieves the current status of an async execution.
func (r *Runtime) AsyncStatus(executionID string) (*AsyncStatus, error) {
	r.asyncMu.RLock()
	defer r.asyncMu.RUnlock()

	run, err := r.lookupAsync(executionID)
	if err != nil {
		return nil, err
	}
	status := &AsyncStatus{
		ExecutionID:  run.id,
		Instructions: run.instructions,
		PlanName:     run.planName,
		State:        run.state,
		StartTime:    run.start,
		Duration:     run.duration(),
	}
	if run.err != nil {
		status.ErrorMessage = run.err.Error()
		var se *Error
		if errors.As(run.err, &se) {
			status.ErrorCode = se.Code
		}
	}
	return status, nil
}

// AsyncResult returns the result of a finished async execution, or the error
// it failed with.
func (r *Runtime) AsyncResult(executionID string) (any, error) {
	r.asyncMu.RLock()
	defer r.asyncMu.RUnlock()

	run, err := r.lookupAsync(executionID)
	if err != nil {
		return nil, err
	}
	switch run.state {
	case AsyncCompleted:
		return run.result, nil
	case AsyncFailed:
		return nil, run.err
	case AsyncCancelled:
		return nil, NewCancelledError("async", context.Canceled)
	}
	return nil, NewAsyncInProgressError(executionID, run.state)
}

// WaitAsync blocks until the execution finishes or ctx is done, then behaves
// like AsyncResult.
func (r *Runtime) WaitAsync(ctx context.Context, executionID string) (any, error) {
	r.asyncMu.RLock()
	run, err := r.lookupAsync(executionID)
	r.asyncMu.RUnlock()
	if err != nil {
		return nil, err
	}

	select {
	case <-run.done:
		return r.AsyncResult(executionID)
	case <-ctx.Done():
		return nil, NewCancelledError("async", ctx.Err())
	}
}

// CancelAsync cancels an ongoing async execution. It returns false when the
// execution had already finished.
func (r *Runtime) CancelAsync(executionID string) (bool, error) {
	r.asyncMu.Lock()
	run, err := r.lookupAsync(executionID)
	if err != nil {
		r.asyncMu.Unlock()
		return false, err
	}
	if run.state.IsTerminal() {
		r.asyncMu.Unlock()
		return false, nil
	}
	run.state = AsyncCancelled
	run.cancel()
	d := run.duration()
	r.asyncMu.Unlock()

	r.log.Info("async execution cancelled", zap.String("execution_id", executionID))
	r.emitAsync(context.Background(), eventbus.EventAsyncCancelled, run, d, nil)
	return true, nil
}

// ListAsync returns every known execution ID with its state.
func (r *Runtime) ListAsync() map[string]AsyncState {
	r.asyncMu.RLock()
	defer r.asyncMu.RUnlock()

	out := make(map[string]AsyncState, len(r.async))
	for id, run := range r.async {
		out[id] = run.state
	}
	return out
}

// CleanupCompleted removes finished executions that ended more than olderThan
// ago and returns how many were removed.
func (r *Runtime) CleanupCompleted(olderThan time.Duration) int {
	r.asyncMu.Lock()
	defer r.asyncMu.Unlock()

	now := time.Now()
	count := 0
	for id, run := range r.async {
		if !run.state.IsTerminal() || run.end.IsZero() {
			continue
		}
		if now.Sub(run.end) > olderThan {
			delete(r.async, id)
			count++
		}
	}
	return count
}

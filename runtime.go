// Package stepwise plans tool calls from natural-language instructions and
// executes them step by step, feeding each step's result to later steps.
package stepwise

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/stepwise/internal/cache"
	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ExecutorFactory creates a fresh Executor bound to tools. The runtime creates
// one per run so runs never share a result namespace, and passes its
// configuration and event bus (nil when events are disabled).
type ExecutorFactory func(tools Registry, config Config, bus eventbus.EventBus) Executor

// Runtime is the main entry point: it plans instructions with a Planner and
// runs the resulting plans against a shared Toolset.
type Runtime struct {
	planner     Planner
	tools       Toolset
	newExecutor ExecutorFactory
	cache       Cache
	eventBus    eventbus.EventBus
	log         *zap.Logger
	config      Config

	// closers release components the runtime created itself.
	closers []func() error

	// Async processing
	slots   *semaphore.Weighted
	asyncMu sync.RWMutex
	async   map[string]*asyncRun
}

// Option is a function that configures a Runtime.
type Option func(*Runtime)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(r *Runtime) {
		r.config = config
	}
}

// WithPlanner sets the planner component. Without one only Execute and
// ExecuteAsync are available.
func WithPlanner(planner Planner) Option {
	return func(r *Runtime) {
		r.planner = planner
	}
}

// WithExecutorFactory sets how executors are created.
func WithExecutorFactory(factory ExecutorFactory) Option {
	return func(r *Runtime) {
		r.newExecutor = factory
	}
}

// WithTools sets the tools that plans may call.
func WithTools(tools Toolset) Option {
	return func(r *Runtime) {
		r.tools = tools
	}
}

// WithCache sets the plan cache. When a planner is configured without a
// cache, the runtime opens Config.PlanCacheFile or, when that is empty,
// creates an in-memory cache. Either way entries live for Config.PlanCacheTTL.
func WithCache(c Cache) Option {
	return func(r *Runtime) {
		r.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a new Runtime with the provided options.
func New(options ...Option) (*Runtime, error) {
	r := &Runtime{
		config: DefaultConfig(),
		log:    zap.NewNop(),
		async:  make(map[string]*asyncRun),
	}
	for _, option := range options {
		option(r)
	}

	if err := r.config.Validate(); err != nil {
		return nil, err
	}
	if r.tools == nil {
		return nil, NewConfigurationError("a toolset is required", nil)
	}
	if r.newExecutor == nil {
		return nil, NewConfigurationError("an executor factory is required", nil)
	}

	if r.planner != nil && r.cache == nil {
		if err := r.openPlanCache(); err != nil {
			return nil, err
		}
	}
	if r.config.EnableEventBus && r.eventBus == nil {
		bus := eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(r.config.EventBusBufferSize),
			eventbus.WithWorkerCount(r.config.EventBusWorkerCount),
			eventbus.WithLogger(r.log),
		)
		r.eventBus = bus
		r.closers = append(r.closers, bus.Close)
		r.log.Debug("initialized default channel event bus")
	}
	r.slots = semaphore.NewWeighted(int64(r.config.MaxConcurrentRuns))

	return r, nil
}

// openPlanCache creates the default plan cache. Cached values are
// *PlanDocument so the file cache can persist them.
func (r *Runtime) openPlanCache() error {
	if path := r.config.PlanCacheFile; path != "" {
		c, err := cache.NewFileCache[*PlanDocument](path, r.config.PlanCacheTTL, r.log)
		if err != nil {
			return NewConfigurationError("cannot open plan cache file "+path, err)
		}
		r.cache = c
		r.log.Debug("using persistent plan cache", zap.String("path", path))
		return nil
	}
	c := cache.NewInMemoryCache(r.config.PlanCacheTTL, cache.WithLogger(r.log))
	r.cache = c
	r.closers = append(r.closers, c.Close)
	return nil
}

// Config returns the runtime configuration.
func (r *Runtime) Config() Config {
	return r.config
}

// EventBus returns the event bus, or nil when events are disabled.
func (r *Runtime) EventBus() eventbus.EventBus {
	return r.eventBus
}

// Tools returns the descriptors of every registered tool.
func (r *Runtime) Tools() []ToolDescriptor {
	return r.tools.Descriptors()
}

// Plan asks the planner for a plan covering instructions. Plans are cached
// per instructions and tool catalog. An empty plan is returned as is and
// never cached.
func (r *Runtime) Plan(ctx context.Context, instructions string) (*Plan, error) {
	if r.planner == nil {
		return nil, NewConfigurationError("no planner configured", nil)
	}
	catalog := r.tools.Descriptors()
	key := planCacheKey(instructions, catalog)

	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, key); err == nil {
			if doc, ok := cached.(*PlanDocument); ok {
				r.log.Debug("plan cache hit", zap.String("key", key))
				return doc.ToPlan(), nil
			}
		}
	}

	plan, err := r.planner.GeneratePlan(ctx, PlanRequest{Instructions: instructions, Tools: catalog})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, NewPlanGenerationError(err)
	}
	if plan.Len() == 0 {
		r.log.Warn("planner returned an empty plan", zap.String("instructions", instructions))
		return NewPlan(), nil
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, DocumentFromPlan(plan)); err != nil {
			r.log.Warn("failed to cache plan", zap.Error(NewCacheError("planning", "set", err)))
		}
	}
	return plan, nil
}

// Process plans instructions and executes the plan, returning the final
// step's result. An empty plan yields nil and no error.
func (r *Runtime) Process(ctx context.Context, instructions string) (any, error) {
	plan, err := r.Plan(ctx, instructions)
	if err != nil {
		return nil, err
	}
	r.log.Info("executing generated plan", zap.Int("steps", plan.Len()))
	return r.Execute(ctx, plan)
}

// Execute runs plan on a fresh executor.
func (r *Runtime) Execute(ctx context.Context, plan *Plan) (any, error) {
	return r.newExecutor(r.tools, r.config, r.eventBus).ExecutePlan(ctx, plan)
}

// Close releases the components the runtime created. Async executions still
// running are cancelled.
func (r *Runtime) Close() error {
	r.asyncMu.Lock()
	for _, run := range r.async {
		run.cancel()
	}
	r.asyncMu.Unlock()

	var errs []error
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func planCacheKey(instructions string, catalog []ToolDescriptor) string {
	h := sha1.New()
	h.Write([]byte(instructions))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(ToolNames(catalog), ",")))
	return "plan:" + hex.EncodeToString(h.Sum(nil))
}

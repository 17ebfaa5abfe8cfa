package adapters

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
	"github.com/firebase/genkit/go/core"
	"go.uber.org/zap"
)

// PlannerFlow is the genkit flow that turns a plan request into a plan
// document, typically by prompting a model.
type PlannerFlow = core.Flow[*stepwise.PlanRequest, *stepwise.PlanDocument, struct{}]

// GenkitPlannerAdapter uses a Genkit Flow to implement the Planner interface.
type GenkitPlannerAdapter struct {
	plannerFlow *PlannerFlow
	cache       stepwise.Cache
	log         *zap.Logger
	eventBus    eventbus.EventBus
}

// PlannerOption configures a GenkitPlannerAdapter.
type PlannerOption func(*GenkitPlannerAdapter)

// WithPlanCache memoises generated plans. Without it every request runs the
// flow.
func WithPlanCache(cache stepwise.Cache) PlannerOption {
	return func(a *GenkitPlannerAdapter) {
		a.cache = cache
	}
}

// WithPlannerLogger sets the logger.
func WithPlannerLogger(l *zap.Logger) PlannerOption {
	return func(a *GenkitPlannerAdapter) {
		if l != nil {
			a.log = l
		}
	}
}

// WithPlannerEventBus publishes plan generation events on bus.
func WithPlannerEventBus(bus eventbus.EventBus) PlannerOption {
	return func(a *GenkitPlannerAdapter) {
		a.eventBus = bus
	}
}

// NewGenkitPlannerAdapter creates a new adapter for the planner flow.
func NewGenkitPlannerAdapter(plannerFlow *PlannerFlow, options ...PlannerOption) *GenkitPlannerAdapter {
	a := &GenkitPlannerAdapter{
		plannerFlow: plannerFlow,
		log:         zap.NewNop(),
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// GeneratePlan implements the stepwise.Planner interface.
//
// The flow receives the instructions with a note listing the exact tool names.
// Tool names in its answer are matched case-insensitively against the catalog
// and replaced by the catalog spelling; unmatched names are kept so the
// executor reports them as unknown tools.
func (a *GenkitPlannerAdapter) GeneratePlan(ctx context.Context, req stepwise.PlanRequest) (*stepwise.Plan, error) {
	if a.plannerFlow == nil {
		return nil, stepwise.NewPlanGenerationError(errors.New("no planner flow configured"))
	}
	cacheKey := a.generateCacheKey(req)

	if a.cache != nil {
		cached, err := a.cache.Get(ctx, cacheKey)
		if err == nil {
			if doc, ok := cached.(*stepwise.PlanDocument); ok {
				a.log.Debug("plan cache hit", zap.String("key", cacheKey))
				a.emit(ctx, eventbus.EventPlanCacheHit, doc)
				return doc.ToPlan(), nil
			}
			a.log.Warn("unexpected value in plan cache", zap.String("key", cacheKey))
		} else if ctx.Err() != nil {
			return nil, stepwise.NewCancelledError("planning", ctx.Err())
		}
	}

	a.emit(ctx, eventbus.EventPlanGenerationStarted, req.Instructions)
	flowInput := &stepwise.PlanRequest{
		Instructions: WithToolNote(req.Instructions, req.Tools),
		Tools:        req.Tools,
	}
	doc, err := a.plannerFlow.Run(ctx, flowInput)
	if err != nil {
		a.emit(ctx, eventbus.EventPlanGenerationFailure, err)
		return nil, stepwise.NewPlanGenerationError(fmt.Errorf("planner flow execution failed: %w", err))
	}
	if doc == nil {
		err := errors.New("planner flow returned no plan")
		a.emit(ctx, eventbus.EventPlanGenerationFailure, err)
		return nil, stepwise.NewPlanGenerationError(err)
	}
	if len(doc.Steps) == 0 {
		a.log.Warn("planner flow returned an empty plan")
		a.emit(ctx, eventbus.EventPlanGenerationSuccess, doc)
		return stepwise.NewPlan(), nil
	}

	doc = canonicalizeToolNames(doc, req.Tools)
	a.log.Info("plan generated", zap.Int("steps", len(doc.Steps)))
	a.emit(ctx, eventbus.EventPlanGenerationSuccess, doc)

	if a.cache != nil {
		if err := a.cache.Set(ctx, cacheKey, doc); err != nil {
			a.log.Warn("failed to cache plan", zap.Error(stepwise.NewCacheError("planning", "set", err)))
		}
	}
	return doc.ToPlan(), nil
}

// WithToolNote appends the exact-tool-names note to instructions.
func WithToolNote(instructions string, tools []stepwise.ToolDescriptor) string {
	if len(tools) == 0 {
		return instructions
	}
	return fmt.Sprintf("%s\n\nNOTE: You MUST use ONLY the exact tool names provided: %s",
		instructions, strings.Join(stepwise.ToolNames(tools), ", "))
}

func canonicalizeToolNames(doc *stepwise.PlanDocument, tools []stepwise.ToolDescriptor) *stepwise.PlanDocument {
	byLower := make(map[string]string, len(tools))
	for _, t := range tools {
		byLower[strings.ToLower(t.Name)] = t.Name
	}
	out := *doc
	out.Steps = make([]stepwise.StepDocument, len(doc.Steps))
	for i, step := range doc.Steps {
		if name, ok := byLower[strings.ToLower(strings.TrimSpace(step.ToolName))]; ok {
			step.ToolName = name
		}
		out.Steps[i] = step
	}
	return &out
}

// generateCacheKey creates a unique key for caching planner results.
func (a *GenkitPlannerAdapter) generateCacheKey(req stepwise.PlanRequest) string {
	inputBytes, err := json.Marshal(req)
	if err != nil {
		a.log.Warn("failed to marshal planner input for cache key", zap.Error(err))
		return "planner:" + req.Instructions
	}

	hasher := sha1.New()
	hasher.Write(inputBytes)
	return "planner:" + hex.EncodeToString(hasher.Sum(nil))
}

func (a *GenkitPlannerAdapter) emit(ctx context.Context, t eventbus.EventType, payload any) {
	_ = eventbus.Emit(ctx, a.eventBus, eventbus.NewEvent(t, payload, "planner", nil))
}

var _ stepwise.Planner = (*GenkitPlannerAdapter)(nil)

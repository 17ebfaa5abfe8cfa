package stepwise

import (
	"fmt"
	"strings"
	"time"
)

// Scheduling selects the order in which a plan's steps run.
type Scheduling string

const (
	// ScheduleListOrder runs steps in list order and never reads depends_on.
	ScheduleListOrder Scheduling = "list"
	// ScheduleDependsOn runs steps in a stable topological order of their
	// depends_on result names.
	ScheduleDependsOn Scheduling = "depends_on"
)

// ParseScheduling parses a scheduling mode. The empty string means list order.
func ParseScheduling(s string) (Scheduling, error) {
	switch Scheduling(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScheduleListOrder:
		return ScheduleListOrder, nil
	case ScheduleDependsOn:
		return ScheduleDependsOn, nil
	}
	return "", NewConfigurationError(fmt.Sprintf("unknown scheduling mode %q", s), nil)
}

// Config holds configuration for the Runtime.
type Config struct {
	// MaxConcurrentRuns bounds ExecuteAll and the number of in-flight async
	// executions.
	MaxConcurrentRuns int
	Scheduling        Scheduling
	// PlanCacheTTL is how long a generated plan is reused. Zero disables
	// expiry.
	PlanCacheTTL time.Duration
	// PlanCacheFile persists generated plans as JSON across restarts. Empty
	// keeps them in memory.
	PlanCacheFile string

	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentRuns:   4,
		Scheduling:          ScheduleListOrder,
		PlanCacheTTL:        time.Hour,
		EnableEventBus:      false,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.MaxConcurrentRuns < 1 {
		return NewConfigurationError("MaxConcurrentRuns must be at least 1", nil)
	}
	if _, err := ParseScheduling(string(c.Scheduling)); err != nil {
		return err
	}
	if c.PlanCacheTTL < 0 {
		return NewConfigurationError("PlanCacheTTL must not be negative", nil)
	}
	if c.EnableEventBus && (c.EventBusBufferSize < 0 || c.EventBusWorkerCount < 1) {
		return NewConfigurationError("event bus needs a non-negative buffer and at least one worker", nil)
	}
	return nil
}

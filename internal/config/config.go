// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/ZanzyTHEbar/stepwise"
)

type Config struct {
	App      AppConfig
	Executor ExecutorConfig
	EventBus EventBusConfig
}

type AppConfig struct {
	Env      string `envconfig:"STEPWISE_ENV" default:"development"`
	LogLevel string `envconfig:"STEPWISE_LOG_LEVEL" default:"info"`
}

type ExecutorConfig struct {
	MaxConcurrentRuns int           `envconfig:"STEPWISE_MAX_CONCURRENT_RUNS" default:"4"`
	Scheduling        string        `envconfig:"STEPWISE_SCHEDULING" default:"list"`
	PlanCacheTTL      time.Duration `envconfig:"STEPWISE_PLAN_CACHE_TTL" default:"1h"`
	PlanCacheFile     string        `envconfig:"STEPWISE_PLAN_CACHE_FILE"`
}

type EventBusConfig struct {
	Enabled     bool `envconfig:"STEPWISE_EVENT_BUS_ENABLED" default:"false"`
	BufferSize  int  `envconfig:"STEPWISE_EVENT_BUS_BUFFER_SIZE" default:"100"`
	WorkerCount int  `envconfig:"STEPWISE_EVENT_BUS_WORKERS" default:"5"`
}

// Load reads the given dotenv files (".env" when none are named; missing
// files are ignored) and then the environment. Variables already set in the
// environment win over dotenv values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, stepwise.NewConfigurationError("failed to process env config", err)
	}
	if _, err := cfg.Runtime(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Runtime converts the loaded settings into a validated runtime
// configuration.
func (c Config) Runtime() (stepwise.Config, error) {
	scheduling, err := stepwise.ParseScheduling(c.Executor.Scheduling)
	if err != nil {
		return stepwise.Config{}, err
	}
	rc := stepwise.Config{
		MaxConcurrentRuns:   c.Executor.MaxConcurrentRuns,
		Scheduling:          scheduling,
		PlanCacheTTL:        c.Executor.PlanCacheTTL,
		PlanCacheFile:       c.Executor.PlanCacheFile,
		EnableEventBus:      c.EventBus.Enabled,
		EventBusBufferSize:  c.EventBus.BufferSize,
		EventBusWorkerCount: c.EventBus.WorkerCount,
	}
	if err := rc.Validate(); err != nil {
		return stepwise.Config{}, err
	}
	return rc, nil
}

func (c Config) String() string {
	return fmt.Sprintf("env=%s log_level=%s max_concurrent_runs=%d scheduling=%s plan_cache_ttl=%s event_bus=%t",
		c.App.Env, c.App.LogLevel, c.Executor.MaxConcurrentRuns, c.Executor.Scheduling,
		c.Executor.PlanCacheTTL, c.EventBus.Enabled)
}

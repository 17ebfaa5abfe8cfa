package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/config"
	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
	"github.com/ZanzyTHEbar/stepwise/internal/executor"
	"github.com/ZanzyTHEbar/stepwise/internal/logger"
	"github.com/ZanzyTHEbar/stepwise/internal/tools"
)

type options struct {
	envFile     string
	verbose     bool
	scheduling  string
	showResults bool
	showMetrics bool
}

// app holds what every command needs, built once per invocation.
type app struct {
	cfg      stepwise.Config
	log      *zap.Logger
	toolbox  stepwise.Toolset
	registry *prometheus.Registry
	metrics  *executor.Metrics
	bus      *eventbus.ChannelEventBus
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "stepwise",
		Short:         "Run tool-call plans step by step",
		Long:          "stepwise executes plan files: ordered tool calls whose arguments may reference earlier results.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to read before the environment")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.scheduling, "scheduling", "", "Step order: list or depends_on (overrides STEPWISE_SCHEDULING)")

	runCmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Execute a plan file and print the final result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts, args[0])
		},
	}
	runCmd.Flags().BoolVar(&opts.showResults, "results", false, "Print every named result, not just the final one")
	runCmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "Print Prometheus metrics after the run")

	validateCmd := &cobra.Command{
		Use:   "validate <plan>",
		Short: "Check a plan file without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePlan(cmd, args[0])
		},
	}

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listTools(cmd.OutOrStdout(), tools.SetupTools().Descriptors())
		},
	}

	batchCmd := &cobra.Command{
		Use:   "batch <plan>...",
		Short: "Execute several plan files concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts, args)
		},
	}
	batchCmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "Print Prometheus metrics after the batch")

	rootCmd.AddCommand(runCmd, validateCmd, toolsCmd, batchCmd)
	return rootCmd
}

func newApp(opts *options) (*app, error) {
	env, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}
	if opts.scheduling != "" {
		env.Executor.Scheduling = opts.scheduling
	}
	cfg, err := env.Runtime()
	if err != nil {
		return nil, err
	}

	level := env.App.LogLevel
	if opts.verbose {
		level = "debug"
	}
	log, err := logger.New(level, env.App.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics, err := executor.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	a := &app{cfg: cfg, log: log, toolbox: tools.SetupTools(), registry: registry, metrics: metrics}
	if cfg.EnableEventBus {
		a.bus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(cfg.EventBusBufferSize),
			eventbus.WithWorkerCount(cfg.EventBusWorkerCount),
			eventbus.WithLogger(log),
		)
		if _, err := a.bus.SubscribeAll(a.logEvent); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) logEvent(_ context.Context, e eventbus.Event) error {
	a.log.Debug("event", zap.String("type", string(e.Type())), zap.String("source", e.Source()), zap.Any("metadata", e.Metadata()))
	return nil
}

func (a *app) executorOptions() []executor.ExecutorOption {
	options := []executor.ExecutorOption{
		executor.WithLogger(a.log),
		executor.WithMetrics(a.metrics),
		executor.WithScheduling(a.cfg.Scheduling),
	}
	if a.bus != nil {
		options = append(options, executor.WithEventBus(a.bus))
	}
	return options
}

func (a *app) close() {
	if a.bus != nil {
		_ = a.bus.Close()
	}
	_ = a.log.Sync()
}

func loadPlan(out io.Writer, path string) (*stepwise.Plan, error) {
	plan, warnings, err := executor.LoadAndValidatePlan(path)
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s: %s\n", path, w)
	}
	return plan, err
}

func runPlan(cmd *cobra.Command, opts *options, path string) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	plan, err := loadPlan(cmd.ErrOrStderr(), path)
	if err != nil {
		return err
	}

	// Keep the executor to read its namespace after the run.
	var exec *executor.PlanExecutor
	runtimeOptions := []stepwise.Option{
		stepwise.WithConfig(a.cfg),
		stepwise.WithTools(a.toolbox),
		stepwise.WithExecutorFactory(func(reg stepwise.Registry, cfg stepwise.Config, bus eventbus.EventBus) stepwise.Executor {
			options := a.executorOptions()
			if bus != nil {
				options = append(options, executor.WithEventBus(bus))
			}
			exec = executor.NewExecutor(reg, append(options, executor.WithScheduling(cfg.Scheduling))...)
			return exec
		}),
		stepwise.WithLogger(a.log),
	}
	if a.bus != nil {
		runtimeOptions = append(runtimeOptions, stepwise.WithEventBus(a.bus))
	}
	rt, err := stepwise.New(runtimeOptions...)
	if err != nil {
		return err
	}
	defer rt.Close()

	value, err := rt.Execute(cmd.Context(), plan)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.showResults {
		results := exec.Results()
		for _, name := range results.Keys() {
			v, _ := results.Get(name)
			if err := printValue(out, name+" = ", v); err != nil {
				return err
			}
		}
	} else if err := printValue(out, "", value); err != nil {
		return err
	}
	if opts.showMetrics {
		return a.writeMetrics(out)
	}
	return nil
}

func validatePlan(cmd *cobra.Command, path string) error {
	plan, err := loadPlan(cmd.OutOrStdout(), path)
	if err != nil {
		return err
	}

	known := tools.SetupTools()
	var unknown []string
	for _, step := range plan.Steps() {
		if _, ok := known.Lookup(step.ToolName); !ok {
			unknown = append(unknown, step.ToolName)
		}
	}
	if len(unknown) > 0 {
		return stepwise.NewValidationError("validation",
			fmt.Sprintf("unknown tools: %s", strings.Join(unknown, ", ")), stepwise.ErrUnknownTool)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d steps OK\n", path, plan.Len())
	return nil
}

func runBatch(cmd *cobra.Command, opts *options, paths []string) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	plans := make([]*stepwise.Plan, len(paths))
	for i, path := range paths {
		if plans[i], err = loadPlan(cmd.ErrOrStderr(), path); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, res := range executor.ExecuteAll(cmd.Context(), a.toolbox, plans, a.cfg.MaxConcurrentRuns, a.executorOptions()...) {
		if res.Err != nil {
			failed++
			fmt.Fprintf(out, "%s: error: %v\n", paths[res.Index], res.Err)
			continue
		}
		if err := printValue(out, paths[res.Index]+": ", res.Value); err != nil {
			return err
		}
	}
	if opts.showMetrics {
		if err := a.writeMetrics(out); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d plans failed", failed, len(plans))
	}
	return nil
}

func listTools(out io.Writer, catalog []stepwise.ToolDescriptor) error {
	for _, d := range catalog {
		params := make([]string, len(d.Parameters))
		for i, p := range d.Parameters {
			params[i] = p.Name + " " + p.Type
			if !p.Required {
				params[i] += "?"
			}
		}
		if _, err := fmt.Fprintf(out, "%s(%s) %s\n    %s\n", d.Name, strings.Join(params, ", "), d.ReturnType, d.Description); err != nil {
			return err
		}
	}
	return nil
}

func printValue(out io.Writer, prefix string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	_, err = fmt.Fprintf(out, "%s%s\n", prefix, data)
	return err
}

func (a *app) writeMetrics(out io.Writer) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			return err
		}
	}
	return nil
}

// Command roadrouter runs the routing engine over a road scenario.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/road-router/core"
	"github.com/signalsfoundry/road-router/internal/config"
	"github.com/signalsfoundry/road-router/internal/logging"
	"github.com/signalsfoundry/road-router/internal/observability"
	"github.com/signalsfoundry/road-router/internal/sim"
	"github.com/signalsfoundry/road-router/kb"
	"github.com/signalsfoundry/road-router/model"
	"github.com/signalsfoundry/road-router/timectrl"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
	policy     string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "roadrouter",
		Short:         "Congestion-aware routing decisions for vehicles on a road graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file (YAML)")
	root.PersistentFlags().StringVarP(&flags.logLevel, "log-level", "l", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&flags.policy, "policy", "p", "", "Override routing policy (congestion, shortest)")

	root.AddCommand(newRunCmd(flags), newPlanCmd(flags))
	return root
}

func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	f.applyEngine(&cfg.Engine)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEngine re-applies command-line engine overrides. Reloaded config
// files pass through it too, so flags keep precedence for the whole run.
func (f *globalFlags) applyEngine(engine *config.EngineConfig) {
	if f.policy != "" {
		engine.Policy = f.policy
	}
}

// routerFactory builds policies for the initial config and every reload.
func routerFactory(flags *globalFlags, log logging.Logger, metrics core.MetricsRecorder) func(config.EngineConfig) (*core.Policy, error) {
	return func(engine config.EngineConfig) (*core.Policy, error) {
		if flags != nil {
			flags.applyEngine(&engine)
		}
		opts := append(engine.Options(), core.WithLogger(log), core.WithMetricsRecorder(metrics))
		return core.NewRouter(engine.Policy, opts...)
	}
}

func newLogger(cfg *config.Config, out io.Writer) logging.Logger {
	lc := cfg.Logging.Logging()
	lc.Output = out
	return logging.New(lc)
}

func loadScenario(store *kb.KnowledgeBase, path string) (*core.Scenario, error) {
	// #nosec G304 -- path is supplied by the operator
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return core.LoadScenario(store, f)
}

// ---- plan ----

type planOutput struct {
	Policy      string        `yaml:"policy"`
	AvgDeadline float64       `yaml:"avg_deadline"`
	Vehicles    []vehiclePlan `yaml:"vehicles"`
}

type vehiclePlan struct {
	ID          string   `yaml:"id"`
	Edge        string   `yaml:"edge"`
	Destination string   `yaml:"destination"`
	Deadline    float64  `yaml:"deadline"`
	Decisions   []string `yaml:"decisions,flow"`
	Switches    int      `yaml:"switches,omitempty"`
	Target      string   `yaml:"target"`
}

func newPlanCmd(flags *globalFlags) *cobra.Command {
	var scenarioPath string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute one tick of decisions for a scenario and print them as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			log := newLogger(cfg, cmd.ErrOrStderr())
			return runPlan(cmd.Context(), cfg, scenarioPath, log, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "Path to scenario file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func runPlan(ctx context.Context, cfg *config.Config, scenarioPath string, log logging.Logger, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store := kb.NewKnowledgeBase()
	scenario, err := loadScenario(store, scenarioPath)
	if err != nil {
		return err
	}

	policy, err := core.NewRouter(cfg.Engine.Policy, append(cfg.Engine.Options(), core.WithLogger(log))...)
	if err != nil {
		return err
	}

	topo := store.Snapshot()
	avg := model.AverageDeadline(scenario.Vehicles)
	targets := policy.MakeDecisions(ctx, scenario.Vehicles, topo, avg)

	result := planOutput{Policy: policy.Name(), AvgDeadline: avg}
	for _, v := range scenario.Vehicles {
		// Plan errors are already reflected in the target and logged by MakeDecisions.
		plan, _ := policy.Plan(topo, v, avg)
		result.Vehicles = append(result.Vehicles, vehiclePlan{
			ID:          v.ID,
			Edge:        v.CurrentEdge,
			Destination: v.Destination,
			Deadline:    v.Deadline,
			Decisions:   plan.Decisions.Strings(),
			Switches:    plan.Switches,
			Target:      targets[v.ID],
		})
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return enc.Close()
}

// ---- run ----

type runSummary struct {
	RunID   string `yaml:"run_id"`
	Policy  string `yaml:"policy"`
	Ticks   int    `yaml:"ticks"`
	Arrived int    `yaml:"arrived"`
	Stalled int    `yaml:"stalled"`
	Active  int    `yaml:"active"`
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		scenarioPath string
		metricsAddr  string
		duration     time.Duration
		watch        bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate a scenario tick by tick and serve Prometheus metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Address = metricsAddr
			}
			if cmd.Flags().Changed("duration") {
				cfg.Simulation.Duration = duration
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var watcher *config.Watcher
			if watch && flags.configPath != "" {
				watcher, err = config.NewWatcher(flags.configPath, nil)
				if err != nil {
					return err
				}
				defer watcher.Close()
			}

			log := newLogger(cfg, cmd.ErrOrStderr())
			return runSimulation(ctx, cfg, flags, scenarioPath, log, watcher, prometheus.NewRegistry(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "Path to scenario file (YAML or JSON)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics (empty disables)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Simulated duration; 0 runs until every vehicle finishes")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload engine settings when the config file changes")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func runSimulation(
	ctx context.Context,
	cfg *config.Config,
	flags *globalFlags,
	scenarioPath string,
	base logging.Logger,
	watcher *config.Watcher,
	reg *prometheus.Registry,
	out io.Writer,
) error {
	ctx, log := logging.WithRunLogger(ctx, base)
	runID := logging.RunIDFromContext(ctx)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Observability(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	routing, err := observability.NewRoutingCollector(reg)
	if err != nil {
		return err
	}
	simMetrics, err := observability.NewSimulationCollector(reg)
	if err != nil {
		return err
	}
	metricsSrv := serveMetrics(ctx, cfg.Metrics.Address, routing, log)
	defer func() {
		if metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	store := kb.NewKnowledgeBase()
	unsubscribe := store.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventOccupancyChanged {
			simMetrics.SetEdgeOccupancy(ev.EdgeID, ev.Occupancy)
		}
	})
	defer unsubscribe()
	scenario, err := loadScenario(store, scenarioPath)
	if err != nil {
		return err
	}

	newRouter := routerFactory(flags, log, routing)
	router, err := newRouter(cfg.Engine)
	if err != nil {
		return err
	}

	host := sim.New(store, router, cfg.Simulation.Tick,
		sim.WithLogger(log),
		sim.WithMetricsRecorder(simMetrics),
		sim.WithStallTicks(cfg.Simulation.StallTicks),
		sim.WithDeadlineSlack(cfg.Simulation.DeadlineSlack),
	)
	for _, v := range scenario.Vehicles {
		if err := host.AddVehicle(v); err != nil {
			return err
		}
	}

	if watcher != nil {
		go applyEngineUpdates(ctx, watcher.Subscribe(), host, newRouter, log)
	}

	mode := timectrl.RealTime
	if cfg.Simulation.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now(), cfg.Simulation.Tick, mode)

	log.Info(ctx, "simulation starting",
		logging.String("scenario", scenarioPath),
		logging.Policy(router.Name()),
		logging.String("mode", mode.String()),
		logging.Int("edges", len(scenario.EdgeIDs)),
		logging.Int("vehicles", len(scenario.Vehicles)),
	)
	stats := host.Run(ctx, tc, cfg.Simulation.Duration)
	log.Info(ctx, "simulation finished",
		logging.Int("ticks", stats.Ticks),
		logging.Int("arrived", stats.Arrived),
		logging.Int("stalled", stats.Stalled),
		logging.Int("active", stats.Active),
	)

	summary := runSummary{
		RunID:   runID,
		Policy:  router.Name(),
		Ticks:   stats.Ticks,
		Arrived: stats.Arrived,
		Stalled: stats.Stalled,
		Active:  stats.Active,
	}
	if err := yaml.NewEncoder(out).Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

func applyEngineUpdates(
	ctx context.Context,
	updates <-chan config.EngineConfig,
	host *sim.Simulator,
	newRouter func(config.EngineConfig) (*core.Policy, error),
	log logging.Logger,
) {
	// The first value is the configuration the run already started with.
	select {
	case <-updates:
	case <-ctx.Done():
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case engine := <-updates:
			router, err := newRouter(engine)
			if err != nil {
				log.Warn(ctx, "ignoring engine reload", logging.Err(err))
				continue
			}
			host.SetRouter(router)
			log.Info(ctx, "routing engine reconfigured", logging.Policy(router.Name()))
		}
	}
}

func serveMetrics(ctx context.Context, addr string, collector *observability.RoutingCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

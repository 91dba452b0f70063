package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RoutingCollector bundles Prometheus metrics for routing decisions. It
// satisfies core.MetricsRecorder so a policy can report into it directly.
type RoutingCollector struct {
	gatherer prometheus.Gatherer

	Decisions          *prometheus.CounterVec
	BatchDurations     *prometheus.HistogramVec
	PlanLengths        *prometheus.HistogramVec
	BranchSwitches     *prometheus.CounterVec
	ResolutionOutcomes *prometheus.CounterVec
	NoRoute            prometheus.Counter
}

// NewRoutingCollector registers routing metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewRoutingCollector(reg prometheus.Registerer) (*RoutingCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	decisions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_decisions_total",
		Help: "Total number of local targets assigned, labeled by policy.",
	}, []string{"policy"}), "router_decisions_total")
	if err != nil {
		return nil, err
	}

	batches, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "router_batch_duration_seconds",
		Help:    "Time spent computing one tick's decisions for the whole batch.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"policy"}), "router_batch_duration_seconds")
	if err != nil {
		return nil, err
	}

	planLengths, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "router_plan_length",
		Help:    "Number of decisions planned per vehicle.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"policy"}), "router_plan_length")
	if err != nil {
		return nil, err
	}

	switches, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_branch_switches_total",
		Help: "Number of times a less congested branch replaced the shortest-path choice.",
	}, []string{"policy"}), "router_branch_switches_total")
	if err != nil {
		return nil, err
	}

	outcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_resolution_outcomes_total",
		Help: "Local target resolutions, labeled by outcome.",
	}, []string{"outcome"}), "router_resolution_outcomes_total")
	if err != nil {
		return nil, err
	}

	noRoute, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "router_no_route_total",
		Help: "Vehicles whose destination was unreachable when planning.",
	}), "router_no_route_total")
	if err != nil {
		return nil, err
	}

	return &RoutingCollector{
		gatherer:           gatherer,
		Decisions:          decisions,
		BatchDurations:     batches,
		PlanLengths:        planLengths,
		BranchSwitches:     switches,
		ResolutionOutcomes: outcomes,
		NoRoute:            noRoute,
	}, nil
}

// ObserveBatch records one MakeDecisions call.
func (c *RoutingCollector) ObserveBatch(policy string, vehicles int, d time.Duration) {
	if c == nil {
		return
	}
	if c.Decisions != nil {
		c.Decisions.WithLabelValues(policy).Add(float64(vehicles))
	}
	if c.BatchDurations != nil {
		c.BatchDurations.WithLabelValues(policy).Observe(d.Seconds())
	}
}

// ObservePlan records the size of one vehicle's plan.
func (c *RoutingCollector) ObservePlan(policy string, decisions, switches int) {
	if c == nil {
		return
	}
	if c.PlanLengths != nil {
		c.PlanLengths.WithLabelValues(policy).Observe(float64(decisions))
	}
	if c.BranchSwitches != nil && switches > 0 {
		c.BranchSwitches.WithLabelValues(policy).Add(float64(switches))
	}
}

// ObserveResolution counts one resolver outcome.
func (c *RoutingCollector) ObserveResolution(outcome string) {
	if c == nil || c.ResolutionOutcomes == nil {
		return
	}
	c.ResolutionOutcomes.WithLabelValues(outcome).Inc()
}

// IncNoRoute counts one unreachable destination.
func (c *RoutingCollector) IncNoRoute() {
	if c == nil || c.NoRoute == nil {
		return
	}
	c.NoRoute.Inc()
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RoutingCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RoutingCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

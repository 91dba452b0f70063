package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SimulationCollector exposes host-simulation metrics.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	TickDuration    prometheus.Histogram
	ActiveVehicles  prometheus.Gauge
	AverageDeadline prometheus.Gauge
	ArrivedTotal    prometheus.Counter
	RemovedTotal    *prometheus.CounterVec
	EdgeOccupancy   *prometheus.GaugeVec
}

// NewSimulationCollector registers simulation metrics against the provided registerer.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tickHistogram, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Wall-clock duration of one simulation tick, routing included.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "sim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_active_vehicles",
		Help: "Number of vehicles currently travelling.",
	}), "sim_active_vehicles")
	if err != nil {
		return nil, err
	}

	avgDeadline, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_average_deadline_seconds",
		Help: "Mean remaining deadline across active vehicles at the last tick.",
	}), "sim_average_deadline_seconds")
	if err != nil {
		return nil, err
	}

	arrived, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_arrived_vehicles_total",
		Help: "Cumulative number of vehicles that reached their destination.",
	}), "sim_arrived_vehicles_total")
	if err != nil {
		return nil, err
	}

	removed, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_removed_vehicles_total",
		Help: "Cumulative number of vehicles removed by the host, labeled by reason.",
	}, []string{"reason"}), "sim_removed_vehicles_total")
	if err != nil {
		return nil, err
	}

	occupancy, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_edge_occupancy",
		Help: "Vehicles currently on each edge, as last reported by the knowledge base.",
	}, []string{"edge"}), "sim_edge_occupancy")
	if err != nil {
		return nil, err
	}

	return &SimulationCollector{
		gatherer:        gatherer,
		TickDuration:    tickHistogram,
		ActiveVehicles:  active,
		AverageDeadline: avgDeadline,
		ArrivedTotal:    arrived,
		RemovedTotal:    removed,
		EdgeOccupancy:   occupancy,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records one tick's duration and the state it left behind.
func (c *SimulationCollector) ObserveTick(d time.Duration, active int, avgDeadline float64) {
	if c == nil {
		return
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(d.Seconds())
	}
	if c.ActiveVehicles != nil {
		c.ActiveVehicles.Set(float64(active))
	}
	if c.AverageDeadline != nil {
		c.AverageDeadline.Set(avgDeadline)
	}
}

// IncArrived counts one arrival.
func (c *SimulationCollector) IncArrived() {
	if c == nil || c.ArrivedTotal == nil {
		return
	}
	c.ArrivedTotal.Inc()
}

// IncRemoved counts one removal for reason.
func (c *SimulationCollector) IncRemoved(reason string) {
	if c == nil || c.RemovedTotal == nil {
		return
	}
	c.RemovedTotal.WithLabelValues(reason).Inc()
}

// SetEdgeOccupancy records the vehicle count on edge.
func (c *SimulationCollector) SetEdgeOccupancy(edge string, vehicles int) {
	if c == nil || c.EdgeOccupancy == nil {
		return
	}
	c.EdgeOccupancy.WithLabelValues(edge).Set(float64(vehicles))
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

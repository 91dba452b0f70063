package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/road-router/core"
)

var _ core.MetricsRecorder = (*RoutingCollector)(nil)

func TestRoutingCollectorRecordsBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRoutingCollector(reg)
	if err != nil {
		t.Fatalf("NewRoutingCollector: %v", err)
	}

	collector.ObserveBatch(core.PolicyCongestionAware, 4, 12*time.Millisecond)
	collector.ObserveBatch(core.PolicyCongestionAware, 2, 3*time.Millisecond)

	if got := testutil.ToFloat64(collector.Decisions.WithLabelValues(core.PolicyCongestionAware)); got != 6 {
		t.Fatalf("router_decisions_total = %v, want 6", got)
	}
	if count := histogramSampleCount(t, reg, "router_batch_duration_seconds", map[string]string{
		"policy": core.PolicyCongestionAware,
	}); count != 2 {
		t.Fatalf("router_batch_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestRoutingCollectorRecordsPlansAndOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRoutingCollector(reg)
	if err != nil {
		t.Fatalf("NewRoutingCollector: %v", err)
	}

	collector.ObservePlan(core.PolicyShortestPath, 5, 0)
	collector.ObservePlan(core.PolicyCongestionAware, 3, 2)
	collector.ObserveResolution(core.OutcomeOK)
	collector.ObserveResolution(core.OutcomeOK)
	collector.ObserveResolution(core.OutcomeDegenerateLoop)
	collector.IncNoRoute()

	if got := testutil.ToFloat64(collector.BranchSwitches.WithLabelValues(core.PolicyCongestionAware)); got != 2 {
		t.Fatalf("router_branch_switches_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.ResolutionOutcomes.WithLabelValues(core.OutcomeOK)); got != 2 {
		t.Fatalf("router_resolution_outcomes_total{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.ResolutionOutcomes.WithLabelValues(core.OutcomeDegenerateLoop)); got != 1 {
		t.Fatalf("router_resolution_outcomes_total{degenerate_loop} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.NoRoute); got != 1 {
		t.Fatalf("router_no_route_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "router_plan_length", map[string]string{
		"policy": core.PolicyShortestPath,
	}); count != 1 {
		t.Fatalf("router_plan_length sample_count = %d, want 1", count)
	}
}

func TestRoutingCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRoutingCollector(reg)
	if err != nil {
		t.Fatalf("NewRoutingCollector: %v", err)
	}
	second, err := NewRoutingCollector(reg)
	if err != nil {
		t.Fatalf("second NewRoutingCollector: %v", err)
	}

	second.IncNoRoute()
	if got := testutil.ToFloat64(first.NoRoute); got != 1 {
		t.Fatalf("shared router_no_route_total = %v, want 1", got)
	}
}

func TestNilRoutingCollectorIsSafe(t *testing.T) {
	var c *RoutingCollector
	c.ObserveBatch("x", 1, time.Millisecond)
	c.ObservePlan("x", 1, 1)
	c.ObserveResolution("ok")
	c.IncNoRoute()
	if c.Gatherer() != nil {
		t.Fatalf("nil collector should have nil gatherer")
	}
}

func TestMetricsHandlerExposesRoutingAndSimulation(t *testing.T) {
	reg := prometheus.NewRegistry()
	routing, err := NewRoutingCollector(reg)
	if err != nil {
		t.Fatalf("NewRoutingCollector: %v", err)
	}
	sim, err := NewSimulationCollector(reg)
	if err != nil {
		t.Fatalf("NewSimulationCollector: %v", err)
	}
	routing.ObserveBatch(core.PolicyCongestionAware, 3, time.Millisecond)
	routing.ObservePlan(core.PolicyCongestionAware, 2, 1)
	routing.ObserveResolution(core.OutcomeOK)
	routing.IncNoRoute()
	sim.ObserveTick(2*time.Millisecond, 7, 42.5)
	sim.IncArrived()
	sim.IncRemoved("stalled")
	sim.SetEdgeOccupancy("n1", 3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	routing.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"router_decisions_total",
		"router_batch_duration_seconds",
		"router_plan_length",
		"router_branch_switches_total",
		"router_resolution_outcomes_total",
		"router_no_route_total",
		"sim_tick_duration_seconds",
		"sim_active_vehicles 7",
		"sim_average_deadline_seconds 42.5",
		"sim_arrived_vehicles_total 1",
		`sim_removed_vehicles_total{reason="stalled"} 1`,
		`sim_edge_occupancy{edge="n1"} 3`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

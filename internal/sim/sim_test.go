package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/road-router/core"
	"github.com/signalsfoundry/road-router/kb"
	"github.com/signalsfoundry/road-router/model"
	"github.com/signalsfoundry/road-router/timectrl"
)

type fakeRecorder struct {
	mu      sync.Mutex
	ticks   int
	active  int
	arrived int
	removed map[string]int
}

func (f *fakeRecorder) ObserveTick(_ time.Duration, active int, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	f.active = active
}

func (f *fakeRecorder) IncArrived() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arrived++
}

func (f *fakeRecorder) IncRemoved(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removed == nil {
		f.removed = make(map[string]int)
	}
	f.removed[reason]++
}

// chain builds c0 -s-> c1 -s-> ... c(n-1), each edge of the given length.
func chain(t *testing.T, n int, length float64) *kb.KnowledgeBase {
	t.Helper()
	store := kb.NewKnowledgeBase()
	for i := 0; i < n; i++ {
		if err := store.AddEdge(fmt.Sprintf("c%d", i), length); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	for i := 0; i+1 < n; i++ {
		if err := store.Connect(fmt.Sprintf("c%d", i), model.Straight, fmt.Sprintf("c%d", i+1)); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	return store
}

func occupancy(t *testing.T, store *kb.KnowledgeBase, id string) int {
	t.Helper()
	e := store.GetEdge(id)
	if e == nil {
		t.Fatalf("edge %s missing", id)
	}
	return e.Occupancy
}

func TestStepMovesVehicleAndUpdatesOccupancy(t *testing.T) {
	store := chain(t, 4, 10)
	s := New(store, core.NewCongestionAwarePolicy(), time.Second)
	if err := s.AddVehicle(model.Vehicle{ID: "v1", CurrentEdge: "c0", Destination: "c3", Deadline: 100, Speed: 10}); err != nil {
		t.Fatalf("AddVehicle: %v", err)
	}
	if got := occupancy(t, store, "c0"); got != 1 {
		t.Fatalf("c0 occupancy = %d, want 1", got)
	}

	assignment := s.Step(context.Background())
	if assignment["v1"] != "c3" {
		t.Fatalf("target = %q, want c3", assignment["v1"])
	}
	vehicles := s.Vehicles()
	if len(vehicles) != 1 || vehicles[0].CurrentEdge != "c1" {
		t.Fatalf("vehicle position = %+v, want c1", vehicles)
	}
	if vehicles[0].Deadline != 99 {
		t.Fatalf("deadline = %v, want 99", vehicles[0].Deadline)
	}
	if occupancy(t, store, "c0") != 0 || occupancy(t, store, "c1") != 1 {
		t.Fatalf("occupancy not moved with vehicle")
	}
}

func TestVehicleArrivesAndIsRemoved(t *testing.T) {
	store := chain(t, 4, 10)
	rec := &fakeRecorder{}
	s := New(store, core.NewCongestionAwarePolicy(), time.Second, WithMetricsRecorder(rec))
	if err := s.AddVehicle(model.Vehicle{ID: "v1", CurrentEdge: "c0", Destination: "c3", Deadline: 100, Speed: 10}); err != nil {
		t.Fatalf("AddVehicle: %v", err)
	}

	for i := 0; i < 3; i++ {
		s.Step(context.Background())
	}
	stats := s.Stats()
	if stats.Arrived != 1 || stats.Active != 0 || stats.Ticks != 3 {
		t.Fatalf("stats = %+v, want 1 arrived after 3 ticks", stats)
	}
	if occupancy(t, store, "c3") != 0 {
		t.Fatalf("arrived vehicle still occupies c3")
	}
	if rec.arrived != 1 || rec.removed[ReasonArrived] != 1 || rec.ticks != 3 || rec.active != 0 {
		t.Fatalf("recorder = %+v", rec)
	}
}

func TestSlowVehicleAccumulatesDistance(t *testing.T) {
	store := chain(t, 3, 10)
	s := New(store, core.NewCongestionAwarePolicy(), time.Second, WithStallTicks(1))
	if err := s.AddVehicle(model.Vehicle{ID: "slow", CurrentEdge: "c0", Destination: "c2", Deadline: 100, Speed: 4}); err != nil {
		t.Fatalf("AddVehicle: %v", err)
	}

	s.Step(context.Background())
	s.Step(context.Background())
	if got := s.Vehicles()[0].CurrentEdge; got != "c0" {
		t.Fatalf("after 8 units edge = %s, want c0", got)
	}
	s.Step(context.Background())
	if got := s.Vehicles()[0].CurrentEdge; got != "c1" {
		t.Fatalf("after 12 units edge = %s, want c1", got)
	}
	if s.Stats().Stalled != 0 {
		t.Fatalf("a moving vehicle must not be treated as stalled")
	}
}

func TestStalledVehicleIsRemoved(t *testing.T) {
	store := kb.NewKnowledgeBase()
	for _, id := range []string{"X", "Y"} {
		if err := store.AddEdge(id, 10); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	rec := &fakeRecorder{}
	s := New(store, core.NewCongestionAwarePolicy(), time.Second, WithStallTicks(2), WithMetricsRecorder(rec))
	if err := s.AddVehicle(model.Vehicle{ID: "stuck", CurrentEdge: "X", Destination: "Y", Deadline: 10, Speed: 10}); err != nil {
		t.Fatalf("AddVehicle: %v", err)
	}

	s.Step(context.Background())
	if s.Stats().Active != 1 {
		t.Fatalf("removed too early")
	}
	s.Step(context.Background())
	stats := s.Stats()
	if stats.Stalled != 1 || stats.Active != 0 {
		t.Fatalf("stats = %+v, want stalled removal", stats)
	}
	if rec.removed[ReasonStalled] != 1 || rec.arrived != 0 {
		t.Fatalf("recorder = %+v", rec)
	}
	if occupancy(t, store, "X") != 0 {
		t.Fatalf("stalled vehicle still occupies X")
	}
}

func TestAddVehicleAssignsDeadline(t *testing.T) {
	store := chain(t, 4, 10)
	s := New(store, core.NewCongestionAwarePolicy(), time.Second, WithDeadlineSlack(0.5))
	if err := s.AddVehicle(model.Vehicle{ID: "v", CurrentEdge: "c0", Destination: "c3", Speed: 10}); err != nil {
		t.Fatalf("AddVehicle: %v", err)
	}
	if got := s.Vehicles()[0].Deadline; got != 4.5 {
		t.Fatalf("deadline = %v, want 4.5", got)
	}
}

func TestAddVehicleValidation(t *testing.T) {
	store := chain(t, 2, 10)
	s := New(store, core.NewCongestionAwarePolicy(), time.Second)
	if err := s.AddVehicle(model.Vehicle{ID: "v", CurrentEdge: "c0", Destination: "c1", Speed: 1}); err != nil {
		t.Fatalf("AddVehicle: %v", err)
	}

	cases := []struct {
		name string
		v    model.Vehicle
		want error
	}{
		{"duplicate", model.Vehicle{ID: "v", CurrentEdge: "c0", Destination: "c1", Speed: 1}, ErrDuplicateVehicle},
		{"empty id", model.Vehicle{CurrentEdge: "c0", Destination: "c1"}, ErrInvalidVehicle},
		{"unknown edge", model.Vehicle{ID: "w", CurrentEdge: "zz", Destination: "c1"}, ErrInvalidVehicle},
		{"negative speed", model.Vehicle{ID: "w", CurrentEdge: "c0", Destination: "c1", Speed: -1}, ErrInvalidVehicle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.AddVehicle(tc.v); !errors.Is(err, tc.want) {
				t.Fatalf("AddVehicle err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSetRouterAppliesNextTick(t *testing.T) {
	store := chain(t, 8, 10)
	s := New(store, core.NewCongestionAwarePolicy(), time.Second)
	if err := s.AddVehicle(model.Vehicle{ID: "v", CurrentEdge: "c0", Destination: "c7", Deadline: 100, Speed: 1}); err != nil {
		t.Fatalf("AddVehicle: %v", err)
	}
	if got := s.Step(context.Background())["v"]; got != "c3" {
		t.Fatalf("default lookahead target = %s, want c3", got)
	}

	s.SetRouter(core.NewShortestPathPolicy(core.WithLookahead(45)))
	if got := s.Step(context.Background())["v"]; got != "c5" {
		t.Fatalf("reconfigured lookahead target = %s, want c5", got)
	}
}

func TestRunStopsWhenAllVehiclesFinish(t *testing.T) {
	store := chain(t, 4, 10)
	s := New(store, core.NewCongestionAwarePolicy(), time.Second)
	for i, speed := range []float64{10, 30} {
		v := model.Vehicle{ID: fmt.Sprintf("v%d", i), CurrentEdge: "c0", Destination: "c3", Deadline: 50, Speed: speed}
		if err := s.AddVehicle(v); err != nil {
			t.Fatalf("AddVehicle: %v", err)
		}
	}

	tc := timectrl.NewTimeController(time.Unix(0, 0), time.Second, timectrl.Accelerated)
	stats := s.Run(context.Background(), tc, time.Hour)
	if stats.Arrived != 2 || stats.Active != 0 {
		t.Fatalf("stats = %+v, want both arrived", stats)
	}
	if stats.Ticks != 3 {
		t.Fatalf("ticks = %d, want 3", stats.Ticks)
	}
}

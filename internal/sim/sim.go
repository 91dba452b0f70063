// Package sim is a reference host for the routing engine. It owns vehicle
// positions, occupancy and deadlines, and asks a core.Router for local
// targets once per tick.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/road-router/core"
	"github.com/signalsfoundry/road-router/internal/logging"
	"github.com/signalsfoundry/road-router/kb"
	"github.com/signalsfoundry/road-router/model"
	"github.com/signalsfoundry/road-router/timectrl"
)

// Removal reasons reported to the metrics recorder.
const (
	ReasonArrived = "arrived"
	ReasonStalled = "stalled"
)

// DefaultStallTicks is how many consecutive ticks a vehicle may be assigned
// its own edge before the host removes it.
const DefaultStallTicks = 10

var (
	// ErrDuplicateVehicle is returned when a vehicle ID is already active.
	ErrDuplicateVehicle = errors.New("vehicle already registered")
	// ErrInvalidVehicle is returned for vehicles the host cannot move.
	ErrInvalidVehicle = errors.New("invalid vehicle")
)

// MetricsRecorder receives per-tick host measurements.
type MetricsRecorder interface {
	ObserveTick(d time.Duration, active int, avgDeadline float64)
	IncArrived()
	IncRemoved(reason string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveTick(time.Duration, int, float64) {}
func (noopRecorder) IncArrived()                             {}
func (noopRecorder) IncRemoved(string)                       {}

// Stats summarises a run.
type Stats struct {
	Ticks   int
	Active  int
	Arrived int
	Stalled int
}

type vehicleState struct {
	model.Vehicle
	// credit is distance driven but not yet spent on entering an edge.
	credit float64
	idle   int
}

// Simulator advances vehicles over a kb.KnowledgeBase.
type Simulator struct {
	mu       sync.Mutex
	store    *kb.KnowledgeBase
	router   core.Router
	tick     time.Duration
	vehicles map[string]*vehicleState

	stallTicks int
	slack      float64
	log        logging.Logger
	metrics    MetricsRecorder
	stats      Stats
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the host logger.
func WithLogger(log logging.Logger) Option {
	return func(s *Simulator) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetricsRecorder wires host metrics.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Simulator) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithStallTicks sets the removal threshold. Zero disables stall removal.
func WithStallTicks(n int) Option {
	return func(s *Simulator) {
		if n >= 0 {
			s.stallTicks = n
		}
	}
}

// WithDeadlineSlack sets the slack used for vehicles registered without a
// deadline.
func WithDeadlineSlack(slack float64) Option {
	return func(s *Simulator) {
		if slack >= 0 {
			s.slack = slack
		}
	}
}

// New constructs a simulator that moves vehicles once per tick.
func New(store *kb.KnowledgeBase, router core.Router, tick time.Duration, opts ...Option) *Simulator {
	s := &Simulator{
		store:      store,
		router:     router,
		tick:       tick,
		vehicles:   make(map[string]*vehicleState),
		stallTicks: DefaultStallTicks,
		slack:      0.5,
		log:        logging.Noop(),
		metrics:    noopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRouter swaps the routing engine. It takes effect on the next tick.
func (s *Simulator) SetRouter(r core.Router) {
	if r == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.router = r
}

// AddVehicle registers v on its current edge. A non-positive deadline is
// replaced by the free-flow travel time scaled by the configured slack.
func (s *Simulator) AddVehicle(v model.Vehicle) error {
	if v.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidVehicle)
	}
	if v.Speed < 0 {
		return fmt.Errorf("%w: %q has negative speed", ErrInvalidVehicle, v.ID)
	}
	topo := s.store.Snapshot()
	if !topo.HasEdge(v.CurrentEdge) || !topo.HasEdge(v.Destination) {
		return fmt.Errorf("%w: %q references unknown edge", ErrInvalidVehicle, v.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[v.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateVehicle, v.ID)
	}
	if v.Deadline <= 0 {
		v.Deadline = s.initialDeadline(topo, v)
	}
	if err := s.store.AddVehicle(v.CurrentEdge, v.ID); err != nil {
		return err
	}
	s.vehicles[v.ID] = &vehicleState{Vehicle: v}
	return nil
}

func (s *Simulator) initialDeadline(topo *kb.Snapshot, v model.Vehicle) float64 {
	if v.Speed <= 0 {
		return 0
	}
	route, err := core.FindRoute(topo, v.CurrentEdge, v.Destination)
	if err != nil {
		return 0
	}
	return route.Distance / v.Speed * (1 + s.slack)
}

// Vehicles returns the active vehicles ordered by ID.
func (s *Simulator) Vehicles() []model.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// Stats returns the counters accumulated so far.
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Active = len(s.vehicles)
	return stats
}

func (s *Simulator) activeLocked() []model.Vehicle {
	out := make([]model.Vehicle, 0, len(s.vehicles))
	for _, st := range s.vehicles {
		out = append(out, st.Vehicle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Step runs one tick: snapshot, decide, move, age deadlines and remove
// finished vehicles. It returns the assignment the router produced.
func (s *Simulator) Step(ctx context.Context) model.TargetAssignment {
	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Ticks++
	log := s.log.With(logging.Tick(s.stats.Ticks))

	topo := s.store.Snapshot()
	vehicles := s.activeLocked()
	avg := model.AverageDeadline(vehicles)
	assignment := s.router.MakeDecisions(ctx, vehicles, topo, avg)

	seconds := s.tick.Seconds()
	for _, v := range vehicles {
		st := s.vehicles[v.ID]
		target, ok := assignment[v.ID]
		if !ok || target == st.CurrentEdge || !s.advance(ctx, log, topo, st, target, v.Speed*seconds) {
			st.idle++
		} else {
			st.idle = 0
		}
		st.Deadline -= seconds

		switch {
		case st.Arrived():
			s.removeLocked(ctx, log, st, ReasonArrived)
		case s.stallTicks > 0 && st.idle >= s.stallTicks:
			s.removeLocked(ctx, log, st, ReasonStalled)
		}
	}

	elapsed := time.Since(started)
	s.metrics.ObserveTick(elapsed, len(s.vehicles), avg)
	log.Debug(ctx, "tick complete",
		logging.Int("active", len(s.vehicles)),
		logging.Float64("avg_deadline", avg),
		logging.Duration("elapsed", elapsed),
	)
	return assignment
}

// advance moves st towards target along a shortest path, entering each edge
// once enough distance has accumulated. It reports false when target cannot
// be reached from the vehicle's edge.
func (s *Simulator) advance(ctx context.Context, log logging.Logger, topo *kb.Snapshot, st *vehicleState, target string, distance float64) bool {
	route, err := core.FindRoute(topo, st.CurrentEdge, target)
	if err != nil {
		log.Debug(ctx, "assigned target unreachable",
			logging.Vehicle(st.ID),
			logging.Target(target),
			logging.Err(err),
		)
		return false
	}

	st.credit += distance
	current := st.CurrentEdge
	for _, dir := range route.Decisions {
		next, ok := topo.Next(current, dir)
		if !ok {
			break
		}
		length := topo.Length(next)
		if st.credit < length {
			break
		}
		if err := s.store.RemoveVehicle(current, st.ID); err != nil {
			log.Warn(ctx, "occupancy update failed", logging.Vehicle(st.ID), logging.Err(err))
		}
		if err := s.store.AddVehicle(next, st.ID); err != nil {
			log.Warn(ctx, "occupancy update failed", logging.Vehicle(st.ID), logging.Err(err))
		}
		st.credit -= length
		current = next
	}
	st.CurrentEdge = current
	if current == target {
		// Surplus distance does not carry past the local target.
		st.credit = 0
	}
	return true
}

func (s *Simulator) removeLocked(ctx context.Context, log logging.Logger, st *vehicleState, reason string) {
	if err := s.store.RemoveVehicle(st.CurrentEdge, st.ID); err != nil {
		log.Warn(ctx, "occupancy update failed", logging.Vehicle(st.ID), logging.Err(err))
	}
	delete(s.vehicles, st.ID)
	switch reason {
	case ReasonArrived:
		s.stats.Arrived++
		s.metrics.IncArrived()
	case ReasonStalled:
		s.stats.Stalled++
	}
	s.metrics.IncRemoved(reason)
	log.Info(ctx, "vehicle removed",
		logging.Vehicle(st.ID),
		logging.Edge(st.CurrentEdge),
		logging.String("reason", reason),
		logging.Float64("deadline", st.Deadline),
	)
}

// Run drives the simulator from tc until duration elapses, ctx is cancelled
// or no vehicles remain.
func (s *Simulator) Run(ctx context.Context, tc *timectrl.TimeController, duration time.Duration) Stats {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.Stats().Active == 0 {
		return s.Stats()
	}
	tc.AddListener(func(tick int, simTime time.Time) {
		if ctx.Err() != nil {
			return
		}
		s.Step(ctx)
		if s.Stats().Active == 0 {
			cancel()
		}
	})
	<-tc.Start(ctx, duration)
	return s.Stats()
}

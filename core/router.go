package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/road-router/internal/logging"
	"github.com/signalsfoundry/road-router/kb"
	"github.com/signalsfoundry/road-router/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Router is the capability every routing policy provides: given one tick's
// vehicles and topology snapshot, assign each vehicle a local target edge.
//
// Implementations must return exactly one entry per input vehicle and must
// not mutate the snapshot.
type Router interface {
	MakeDecisions(ctx context.Context, vehicles []model.Vehicle, topo *kb.Snapshot, avgDeadline float64) model.TargetAssignment
}

var _ Router = (*Policy)(nil)

// Policy names accepted by NewRouter.
const (
	PolicyCongestionAware = "congestion"
	PolicyShortestPath    = "shortest"
)

// Resolution outcomes reported to the metrics recorder.
const (
	OutcomeOK                    = "ok"
	OutcomeDestination           = "destination"
	OutcomeInsufficientDecisions = "insufficient_decisions"
	OutcomeInvalidDirection      = "invalid_direction"
	OutcomeDegenerateLoop        = "degenerate_loop"
)

// MetricsRecorder receives per-batch and per-vehicle routing measurements.
type MetricsRecorder interface {
	ObserveBatch(policy string, vehicles int, d time.Duration)
	ObservePlan(policy string, decisions, switches int)
	ObserveResolution(outcome string)
	IncNoRoute()
}

// Policy plans with PlanRoute and resolves with a Resolver. It implements
// Router and is safe for concurrent use.
type Policy struct {
	name     string
	explore  bool
	resolver Resolver
	workers  int
	log      logging.Logger
	metrics  MetricsRecorder
	tracer   trace.Tracer
}

// Option customises Policy construction.
type Option func(*Policy)

// WithLogger sets the logger used for recovered per-vehicle failures.
func WithLogger(log logging.Logger) Option {
	return func(p *Policy) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(p *Policy) {
		p.metrics = m
	}
}

// WithWorkers bounds how many vehicles are planned in parallel. Values
// below one mean one worker.
func WithWorkers(n int) Option {
	return func(p *Policy) {
		if n < 1 {
			n = 1
		}
		p.workers = n
	}
}

// WithLookahead overrides the minimum lookahead distance.
func WithLookahead(distance float64) Option {
	return func(p *Policy) {
		p.resolver.LookaheadMin = distance
	}
}

// WithTracer overrides the tracer; the global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(p *Policy) {
		if t != nil {
			p.tracer = t
		}
	}
}

// NewCongestionAwarePolicy returns the default policy: shortest path with
// congestion-aware branching for vehicles that have slack.
func NewCongestionAwarePolicy(opts ...Option) *Policy {
	return newPolicy(PolicyCongestionAware, true, opts...)
}

// NewShortestPathPolicy returns a policy that always follows the shortest
// route and never detours around congestion.
func NewShortestPathPolicy(opts ...Option) *Policy {
	return newPolicy(PolicyShortestPath, false, opts...)
}

// NewRouter constructs a policy by name. The empty name selects the
// congestion-aware policy.
func NewRouter(name string, opts ...Option) (*Policy, error) {
	switch name {
	case PolicyCongestionAware, "":
		return NewCongestionAwarePolicy(opts...), nil
	case PolicyShortestPath:
		return NewShortestPathPolicy(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

func newPolicy(name string, explore bool, opts ...Option) *Policy {
	p := &Policy{
		name:    name,
		explore: explore,
		workers: runtime.GOMAXPROCS(0),
		log:     logging.Noop(),
		tracer:  otel.Tracer("github.com/signalsfoundry/road-router/core"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the policy name.
func (p *Policy) Name() string { return p.name }

// Plan returns the decision list for a single vehicle.
func (p *Policy) Plan(topo *kb.Snapshot, v model.Vehicle, avgDeadline float64) (Plan, error) {
	return PlanRoute(topo, v, avgDeadline, p.explore)
}

// MakeDecisions plans and resolves every vehicle independently. Vehicles are
// spread over a bounded set of workers; each worker keeps its state private
// and only reads the shared snapshot.
func (p *Policy) MakeDecisions(ctx context.Context, vehicles []model.Vehicle, topo *kb.Snapshot, avgDeadline float64) model.TargetAssignment {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "router.MakeDecisions", trace.WithAttributes(
		attribute.String("router.policy", p.name),
		attribute.Int("router.vehicles", len(vehicles)),
		attribute.Float64("router.avg_deadline", avgDeadline),
	))
	defer span.End()

	targets := make([]string, len(vehicles))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := p.workers
	if workers > len(vehicles) {
		workers = len(vehicles)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				targets[idx] = p.decide(ctx, topo, vehicles[idx], avgDeadline)
			}
		}()
	}
	for idx := range vehicles {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	out := make(model.TargetAssignment, len(vehicles))
	for idx, v := range vehicles {
		out[v.ID] = targets[idx]
	}

	if p.metrics != nil {
		p.metrics.ObserveBatch(p.name, len(vehicles), time.Since(start))
	}
	return out
}

func (p *Policy) decide(ctx context.Context, topo *kb.Snapshot, v model.Vehicle, avgDeadline float64) string {
	log := p.log.With(logging.Vehicle(v.ID))

	plan, err := p.Plan(topo, v, avgDeadline)
	if err != nil {
		log.Debug(ctx, "planning stopped early",
			logging.Edge(v.CurrentEdge),
			logging.String("destination", v.Destination),
			logging.Int("decisions", len(plan.Decisions)),
			logging.Err(err),
		)
		if p.metrics != nil && errors.Is(err, ErrNoRoute) {
			p.metrics.IncNoRoute()
		}
	}
	if p.metrics != nil {
		p.metrics.ObservePlan(p.name, len(plan.Decisions), plan.Switches)
	}

	target, err := p.resolver.Resolve(topo, plan.Decisions, v)
	outcome := resolutionOutcome(target, v, err)
	switch outcome {
	case OutcomeDegenerateLoop:
		log.Info(ctx, "turn-around loop in decisions; stopping at current target",
			logging.Target(target))
	case OutcomeInsufficientDecisions, OutcomeInvalidDirection:
		log.Warn(ctx, "could not compute a valid local target",
			logging.Target(target),
			logging.Err(err),
		)
	}
	if p.metrics != nil {
		p.metrics.ObserveResolution(outcome)
	}
	return target
}

func resolutionOutcome(target string, v model.Vehicle, err error) string {
	switch {
	case errors.Is(err, ErrDegenerateLoop):
		return OutcomeDegenerateLoop
	case errors.Is(err, ErrInvalidDirection):
		return OutcomeInvalidDirection
	case errors.Is(err, ErrInsufficientDecisions):
		return OutcomeInsufficientDecisions
	case target == v.Destination:
		return OutcomeDestination
	default:
		return OutcomeOK
	}
}

// SortedVehicleIDs returns the keys of an assignment in ascending order.
func SortedVehicleIDs(targets model.TargetAssignment) []string {
	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/road-router/model"
)

var (
	ErrEdgeExists   = errors.New("edge already exists")
	ErrEdgeNotFound = errors.New("edge not found")
	ErrInvalidEdge  = errors.New("invalid edge")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventOccupancyChanged EventType = iota
	EventEdgeAdded
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type      EventType
	EdgeID    string
	Occupancy int
}

// KnowledgeBase is an in-memory, thread-safe store for the road network the
// host simulation owns. The router never reads it directly; it works on
// immutable snapshots taken once per tick.
type KnowledgeBase struct {
	mu sync.RWMutex

	edges    map[string]*model.Edge
	vehicles map[string]map[string]struct{} // edge ID -> vehicle IDs

	subs    []subscriber
	nextSub uint64
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		edges:    make(map[string]*model.Edge),
		vehicles: make(map[string]map[string]struct{}),
	}
}

// AddEdge adds a new edge with no outgoing connections. It returns an error
// if the ID already exists or the length is negative.
func (kb *KnowledgeBase) AddEdge(id string, length float64) error {
	if id == "" {
		return fmt.Errorf("%w: empty edge ID", ErrInvalidEdge)
	}
	if length < 0 {
		return fmt.Errorf("%w: edge %q has negative length %v", ErrInvalidEdge, id, length)
	}

	kb.mu.Lock()
	if _, exists := kb.edges[id]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEdgeExists, id)
	}
	kb.edges[id] = &model.Edge{
		ID:       id,
		Length:   length,
		Outgoing: make(map[model.Direction]string),
	}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventEdgeAdded, EdgeID: id})
	return nil
}

// Connect registers that leaving edge from in direction dir leads to edge to.
// Each direction may be used at most once per edge.
func (kb *KnowledgeBase) Connect(from string, dir model.Direction, to string) error {
	if !dir.Valid() {
		return fmt.Errorf("%w: unknown direction %q on edge %q", ErrInvalidEdge, string(dir), from)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	src, ok := kb.edges[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEdgeNotFound, from)
	}
	if _, ok := kb.edges[to]; !ok {
		return fmt.Errorf("%w: %q", ErrEdgeNotFound, to)
	}
	if existing, dup := src.Outgoing[dir]; dup {
		return fmt.Errorf("%w: edge %q already leads %s to %q", ErrInvalidEdge, from, dir, existing)
	}
	src.Outgoing[dir] = to
	return nil
}

// SetOccupancy overrides the vehicle count reported for an edge. It is meant
// for hosts that track occupancy themselves; AddVehicle and RemoveVehicle
// keep the count in step with individual vehicles instead.
func (kb *KnowledgeBase) SetOccupancy(id string, count int) error {
	if count < 0 {
		return fmt.Errorf("%w: negative occupancy %d for %q", ErrInvalidEdge, count, id)
	}
	kb.mu.Lock()
	e, ok := kb.edges[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEdgeNotFound, id)
	}
	e.Occupancy = count
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventOccupancyChanged, EdgeID: id, Occupancy: count})
	return nil
}

// AddVehicle records vehicleID as occupying edge id.
func (kb *KnowledgeBase) AddVehicle(id, vehicleID string) error {
	return kb.updateVehicles(id, vehicleID, true)
}

// RemoveVehicle forgets that vehicleID occupies edge id. Removing a vehicle
// that is not on the edge is a no-op.
func (kb *KnowledgeBase) RemoveVehicle(id, vehicleID string) error {
	return kb.updateVehicles(id, vehicleID, false)
}

func (kb *KnowledgeBase) updateVehicles(id, vehicleID string, add bool) error {
	kb.mu.Lock()
	e, ok := kb.edges[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEdgeNotFound, id)
	}
	set := kb.vehicles[id]
	if set == nil {
		set = make(map[string]struct{})
		kb.vehicles[id] = set
	}
	_, present := set[vehicleID]
	switch {
	case add && !present:
		set[vehicleID] = struct{}{}
		e.Occupancy++
	case !add && present:
		delete(set, vehicleID)
		if e.Occupancy > 0 {
			e.Occupancy--
		}
	default:
		kb.mu.Unlock()
		return nil
	}
	event := Event{Type: EventOccupancyChanged, EdgeID: id, Occupancy: e.Occupancy}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// GetEdge returns a copy of the edge with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetEdge(id string) *model.Edge {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.edges[id].Clone()
}

// EdgeCount returns the number of edges in the KB.
func (kb *KnowledgeBase) EdgeCount() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.edges)
}

// Snapshot returns an immutable copy of the current topology.
func (kb *KnowledgeBase) Snapshot() *Snapshot {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	edges := make(map[string]*model.Edge, len(kb.edges))
	ids := make([]string, 0, len(kb.edges))
	for id, e := range kb.edges {
		edges[id] = e.Clone()
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &Snapshot{edges: edges, ids: ids}
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function that is safe to call more than once and in any order.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.nextSub++
	id := kb.nextSub
	kb.subs = append(kb.subs, subscriber{id: id, fn: fn})

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		for i, sub := range kb.subs {
			if sub.id == id {
				kb.subs = append(kb.subs[:i:i], kb.subs[i+1:]...)
				return
			}
		}
	}
}

// subscribersLocked copies the callbacks in registration order. Callers hold kb.mu.
func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	out := make([]func(Event), len(kb.subs))
	for i, sub := range kb.subs {
		out[i] = sub.fn
	}
	return out
}

// Subscribers are notified outside the lock to avoid deadlocks.
func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}

package core

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/signalsfoundry/road-router/kb"
	"github.com/signalsfoundry/road-router/model"
	"gopkg.in/yaml.v3"
)

// Scenario is a summary of what was loaded from a scenario file.
type Scenario struct {
	EdgeIDs  []string
	Vehicles []model.Vehicle
}

// internal file shapes – keep them unexported so we're free to evolve them.
// JSON input is accepted as well since YAML is a superset of it.
type scenarioFile struct {
	Edges    []edgeEntry    `yaml:"edges"`
	Vehicles []vehicleEntry `yaml:"vehicles"`
}

type edgeEntry struct {
	ID        string            `yaml:"id"`
	Length    float64           `yaml:"length"`
	Occupancy int               `yaml:"occupancy"`
	Outgoing  map[string]string `yaml:"outgoing"` // direction code or name -> edge ID
}

type vehicleEntry struct {
	ID          string  `yaml:"id"`
	Edge        string  `yaml:"edge"`
	Destination string  `yaml:"destination"`
	Deadline    float64 `yaml:"deadline"`
	Speed       float64 `yaml:"speed"`
}

// LoadScenario reads a scenario from r, populates store with its edges,
// connections and occupancy, and returns the declared vehicles.
//
// Connections are added after every edge exists, so edges may be listed in
// any order. Vehicles must reference known edges.
func LoadScenario(store *kb.KnowledgeBase, r io.Reader) (*Scenario, error) {
	if store == nil {
		return nil, fmt.Errorf("LoadScenario: knowledge base is nil")
	}

	var payload scenarioFile
	if err := yaml.NewDecoder(r).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	result := &Scenario{
		EdgeIDs:  make([]string, 0, len(payload.Edges)),
		Vehicles: make([]model.Vehicle, 0, len(payload.Vehicles)),
	}

	// 1) Edges
	for _, e := range payload.Edges {
		if err := store.AddEdge(e.ID, e.Length); err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		if e.Occupancy != 0 {
			if err := store.SetOccupancy(e.ID, e.Occupancy); err != nil {
				return nil, fmt.Errorf("LoadScenario: %w", err)
			}
		}
		result.EdgeIDs = append(result.EdgeIDs, e.ID)
	}

	// 2) Connections, in a stable order so duplicate errors are reproducible.
	for _, e := range payload.Edges {
		keys := make([]string, 0, len(e.Outgoing))
		for k := range e.Outgoing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dir, err := model.ParseDirection(k)
			if err != nil {
				return nil, fmt.Errorf("LoadScenario: edge %q: %w", e.ID, err)
			}
			if err := store.Connect(e.ID, dir, e.Outgoing[k]); err != nil {
				return nil, fmt.Errorf("LoadScenario: %w", err)
			}
		}
	}

	// 3) Vehicles
	snap := store.Snapshot()
	for _, v := range payload.Vehicles {
		if v.ID == "" {
			return nil, fmt.Errorf("LoadScenario: vehicle with empty id")
		}
		if !snap.HasEdge(v.Edge) || !snap.HasEdge(v.Destination) {
			return nil, fmt.Errorf("LoadScenario: vehicle %q references unknown edge (%q -> %q)", v.ID, v.Edge, v.Destination)
		}
		if v.Speed < 0 {
			return nil, fmt.Errorf("LoadScenario: vehicle %q has negative speed", v.ID)
		}
		result.Vehicles = append(result.Vehicles, model.Vehicle{
			ID:          v.ID,
			CurrentEdge: v.Edge,
			Destination: v.Destination,
			Deadline:    v.Deadline,
			Speed:       v.Speed,
		})
	}

	return result, nil
}

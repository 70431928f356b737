package consensus

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// NodeUpdate is one node's share of a round's registry mutation.
type NodeUpdate struct {
	NodeID           string
	ReliabilityDelta float64
	UsedAt           time.Time
}

// Registry holds the fixed pool of evaluator nodes and their trust state.
// Nodes are never added or removed after construction.
type Registry struct {
	nodes map[string]*EvaluatorNode
	order []string
	floor float64
	mu    sync.RWMutex
}

// NewRegistry builds a registry from a static seed list. Initial reliability
// is clamped into [floor, 1.0].
func NewRegistry(seeds []NodeSeed, floor float64) (*Registry, error) {
	r := &Registry{
		nodes: make(map[string]*EvaluatorNode, len(seeds)),
		order: make([]string, 0, len(seeds)),
		floor: floor,
	}

	for _, s := range seeds {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidNode)
		}
		if !isFinite(s.Weight) || s.Weight <= 0 {
			return nil, fmt.Errorf("%w: node %s has invalid weight %v", ErrInvalidNode, s.ID, s.Weight)
		}
		if !isFinite(s.InitialReliability) {
			return nil, fmt.Errorf("%w: node %s has invalid reliability %v", ErrInvalidNode, s.ID, s.InitialReliability)
		}
		if _, exists := r.nodes[s.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidNode, s.ID)
		}

		name := s.Name
		if name == "" {
			name = s.ID
		}
		r.nodes[s.ID] = &EvaluatorNode{
			ID:          s.ID,
			Name:        name,
			Specialty:   s.Specialty,
			Weight:      s.Weight,
			Reliability: clamp(s.InitialReliability, floor, 1.0),
		}
		r.order = append(r.order, s.ID)
	}
	sort.Strings(r.order)

	return r, nil
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns a snapshot copy of all nodes ordered by ID.
func (r *Registry) List() []EvaluatorNode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EvaluatorNode, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id].clone())
	}
	return out
}

// Get returns a copy of the node with the given ID.
func (r *Registry) Get(id string) (EvaluatorNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[id]
	if !ok {
		return EvaluatorNode{}, false
	}
	return n.clone(), true
}

// Apply commits one round's updates under a single lock so concurrent rounds
// never observe or produce a partially applied round. Unknown IDs are ignored
// and non-finite deltas leave reliability unchanged.
func (r *Registry) Apply(updates []NodeUpdate) {
	if len(updates) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range updates {
		n, ok := r.nodes[u.NodeID]
		if !ok {
			continue
		}
		if isFinite(u.ReliabilityDelta) {
			n.Reliability = clamp(n.Reliability+u.ReliabilityDelta, r.floor, 1.0)
		}
		if !u.UsedAt.IsZero() {
			t := u.UsedAt
			n.LastUsedAt = &t
		}
	}
}

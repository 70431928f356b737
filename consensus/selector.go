package consensus

import (
	"fmt"
	"sort"
	"time"
)

// specialtyMultipliers boosts specialties suited to each request type.
// Pairs not listed score 1.0.
var specialtyMultipliers = map[RequestType]map[Specialty]float64{
	RequestGenerate: {SpecialtyCreative: 1.3, SpecialtyBalanced: 1.1},
	RequestAnalyze:  {SpecialtyTechnical: 1.3, SpecialtyAesthetic: 1.2},
	RequestEnhance:  {SpecialtyAesthetic: 1.3, SpecialtyCreative: 1.2},
	RequestValidate: {SpecialtyTechnical: 1.3, SpecialtyBalanced: 1.1},
}

// SpecialtyMultiplier returns the selection boost of specialty s for type t.
func SpecialtyMultiplier(t RequestType, s Specialty) float64 {
	if m, ok := specialtyMultipliers[t][s]; ok {
		return m
	}
	return 1.0
}

// Selector ranks nodes for a request.
type Selector struct {
	RecencyWindow  time.Duration
	RecencyPenalty float64
	Now            func() time.Time
}

// NewSelector creates a selector using the recency settings of cfg.
func NewSelector(cfg Config, now func() time.Time) *Selector {
	if now == nil {
		now = time.Now
	}
	return &Selector{
		RecencyWindow:  cfg.RecencyWindow,
		RecencyPenalty: cfg.RecencyPenalty,
		Now:            now,
	}
}

// Score computes the selection score of n for request type t at time now.
func (s *Selector) Score(n EvaluatorNode, t RequestType, now time.Time) float64 {
	recency := 1.0
	if n.LastUsedAt != nil && now.Sub(*n.LastUsedAt) < s.RecencyWindow {
		recency = s.RecencyPenalty
	}
	return n.Reliability * n.Weight * SpecialtyMultiplier(t, n.Specialty) * recency
}

// Select returns the top MaxNodes nodes of the snapshot ordered by descending
// score, ties broken by ID.
func (s *Selector) Select(nodes []EvaluatorNode, req ConsensusRequest) ([]EvaluatorNode, error) {
	if req.MaxNodes <= 0 {
		return nil, fmt.Errorf("%w: max nodes must be positive, got %d", ErrInvalidRequest, req.MaxNodes)
	}
	if len(nodes) == 0 {
		return nil, ErrNoNodesAvailable
	}

	now := s.Now()
	type scored struct {
		node  EvaluatorNode
		score float64
	}
	ranked := make([]scored, len(nodes))
	for i, n := range nodes {
		ranked[i] = scored{node: n, score: s.Score(n, req.Type, now)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].node.ID < ranked[j].node.ID
	})

	k := req.MaxNodes
	if k > len(ranked) {
		k = len(ranked)
	}

	selected := make([]EvaluatorNode, k)
	for i := 0; i < k; i++ {
		selected[i] = ranked[i].node
	}
	if len(selected) == 0 {
		return nil, ErrNoNodesAvailable
	}
	return selected, nil
}

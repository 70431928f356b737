package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func nodesFrom(t *testing.T, seeds ...NodeSeed) []EvaluatorNode {
	t.Helper()
	r, err := NewRegistry(seeds, DefaultReliabilityFloor)
	require.NoError(t, err)
	return r.List()
}

func ids(nodes []EvaluatorNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestSpecialtyMultiplier(t *testing.T) {
	tests := []struct {
		reqType   RequestType
		specialty Specialty
		want      float64
	}{
		{RequestGenerate, SpecialtyCreative, 1.3},
		{RequestGenerate, SpecialtyBalanced, 1.1},
		{RequestGenerate, SpecialtyTechnical, 1.0},
		{RequestAnalyze, SpecialtyTechnical, 1.3},
		{RequestAnalyze, SpecialtyAesthetic, 1.2},
		{RequestEnhance, SpecialtyAesthetic, 1.3},
		{RequestEnhance, SpecialtyCreative, 1.2},
		{RequestValidate, SpecialtyTechnical, 1.3},
		{RequestValidate, SpecialtyBalanced, 1.1},
		{RequestValidate, Specialty("musical"), 1.0},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, SpecialtyMultiplier(tt.reqType, tt.specialty), "%s/%s", tt.reqType, tt.specialty)
	}
}

// Scenario A: the creative boost puts N1 first for a generate request.
func TestSelectCreativeBoost(t *testing.T) {
	nodes := nodesFrom(t,
		seed("N1", SpecialtyCreative, 1.2, 0.95),
		seed("N2", SpecialtyTechnical, 1.0, 0.92),
	)
	s := NewSelector(DefaultConfig(), newFixedClock().Now)

	selected, err := s.Select(nodes, request(RequestGenerate, 2))
	require.NoError(t, err)
	require.Equal(t, []string{"N1", "N2"}, ids(selected))
}

func TestSelectTechnicalBoostForAnalyze(t *testing.T) {
	nodes := nodesFrom(t,
		seed("creative", SpecialtyCreative, 1.0, 0.9),
		seed("technical", SpecialtyTechnical, 1.0, 0.8),
	)
	s := NewSelector(DefaultConfig(), newFixedClock().Now)

	selected, err := s.Select(nodes, request(RequestAnalyze, 1))
	require.NoError(t, err)
	require.Equal(t, []string{"technical"}, ids(selected))
}

func TestSelectClampsMaxNodes(t *testing.T) {
	nodes := nodesFrom(t,
		seed("a", SpecialtyCreative, 1, 0.9),
		seed("b", SpecialtyCreative, 1, 0.8),
	)
	s := NewSelector(DefaultConfig(), newFixedClock().Now)

	selected, err := s.Select(nodes, request(RequestGenerate, 10))
	require.NoError(t, err)
	require.Len(t, selected, 2)
}

func TestSelectTieBreakByID(t *testing.T) {
	nodes := nodesFrom(t,
		seed("c", SpecialtyBalanced, 1, 0.9),
		seed("a", SpecialtyBalanced, 1, 0.9),
		seed("b", SpecialtyBalanced, 1, 0.9),
	)
	s := NewSelector(DefaultConfig(), newFixedClock().Now)

	selected, err := s.Select(nodes, request(RequestAnalyze, 3))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, ids(selected))
}

func TestSelectRecencyPenalty(t *testing.T) {
	clock := newFixedClock()
	nodes := nodesFrom(t,
		seed("fast", SpecialtyBalanced, 1, 0.9),
		seed("other", SpecialtyBalanced, 1, 0.8),
	)
	used := clock.Now().Add(-10 * time.Second)
	nodes[0].LastUsedAt = &used

	s := NewSelector(DefaultConfig(), clock.Now)

	// 0.9*0.8 = 0.72 < 0.8
	selected, err := s.Select(nodes, request(RequestAnalyze, 1))
	require.NoError(t, err)
	require.Equal(t, []string{"other"}, ids(selected))

	// Outside the window the penalty no longer applies.
	clock.Advance(30 * time.Second)
	selected, err = s.Select(nodes, request(RequestAnalyze, 1))
	require.NoError(t, err)
	require.Equal(t, []string{"fast"}, ids(selected))
}

func TestSelectErrors(t *testing.T) {
	s := NewSelector(DefaultConfig(), newFixedClock().Now)
	nodes := nodesFrom(t, seed("a", SpecialtyCreative, 1, 0.9))

	_, err := s.Select(nodes, request(RequestGenerate, 0))
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.Select(nodes, request(RequestGenerate, -3))
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.Select(nil, request(RequestGenerate, 1))
	require.ErrorIs(t, err, ErrNoNodesAvailable)
}

func TestSelectDeterministic(t *testing.T) {
	nodes := nodesFrom(t,
		seed("a", SpecialtyCreative, 1.1, 0.7),
		seed("b", SpecialtyTechnical, 0.9, 0.95),
		seed("c", SpecialtyAesthetic, 1.3, 0.6),
		seed("d", SpecialtyBalanced, 1.0, 0.8),
		seed("e", SpecialtyCreative, 1.0, 0.8),
	)
	s := NewSelector(DefaultConfig(), newFixedClock().Now)

	for _, rt := range []RequestType{RequestGenerate, RequestAnalyze, RequestEnhance, RequestValidate} {
		first, err := s.Select(nodes, request(rt, 3))
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := s.Select(nodes, request(rt, 3))
			require.NoError(t, err)
			require.Equal(t, ids(first), ids(again))
		}
	}
}

package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Aggregator reduces a round's responses into one ConsensusResult.
type Aggregator struct {
	cfg Config
}

// NewAggregator creates an aggregator using the heuristics of cfg.
func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// NormalizeConfidence blends a node's reliability with its self-reported
// score, boosting responses that carry reasoning.
func (a *Aggregator) NormalizeConfidence(reliability, selfReported float64, hasReasoning bool) float64 {
	c := (1-a.cfg.SelfReportMix)*reliability + a.cfg.SelfReportMix*selfReported
	if hasReasoning {
		c *= a.cfg.ReasoningBoost
	}
	return clamp(c, a.cfg.MinConfidence, 1.0)
}

// AgreementLevel buckets a confidence variance.
func (a *Aggregator) AgreementLevel(variance float64) string {
	switch {
	case variance < a.cfg.HighAgreementVariance:
		return AgreementHigh
	case variance < a.cfg.MediumAgreementVariance:
		return AgreementMedium
	default:
		return AgreementLow
	}
}

// AgreementScore is the fraction of response pairs whose confidences are
// within PairAgreementDelta of each other. It is 1.0 for fewer than two.
func (a *Aggregator) AgreementScore(confidences []float64) float64 {
	n := len(confidences)
	if n <= 1 {
		return 1.0
	}

	agreeing, pairs := 0, 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs++
			if math.Abs(confidences[i]-confidences[j]) < a.cfg.PairAgreementDelta {
				agreeing++
			}
		}
	}
	return float64(agreeing) / float64(pairs)
}

// QualityScore rewards confidence, agreement and adequate participation.
func (a *Aggregator) QualityScore(averageConfidence, agreementScore float64, participants int) float64 {
	participation := math.Min(1, float64(participants)/float64(a.cfg.TargetNodeCount))
	q := a.cfg.QualityConfidenceWeight*averageConfidence +
		a.cfg.QualityAgreementWeight*agreementScore +
		a.cfg.QualityParticipationWeight*participation
	return clamp(q, 0, 1)
}

// Aggregate reduces responses into a result. nodes supplies the reliability,
// weight and specialty of each responding node as seen at selection time.
// The normalized confidences are written into PerNodeResponses.
func (a *Aggregator) Aggregate(nodes map[string]EvaluatorNode, responses []NodeResponse) (*ConsensusResult, error) {
	if len(responses) == 0 {
		return nil, ErrNoConsensusReached
	}

	n := len(responses)
	perNode := make([]NodeResponse, n)
	confidences := make([]float64, n)
	weighted := make([]float64, n)
	specialties := make(map[Specialty]struct{})

	for i, resp := range responses {
		node, ok := nodes[resp.NodeID]
		if !ok {
			return nil, fmt.Errorf("response from unknown node %q", resp.NodeID)
		}

		c := a.NormalizeConfidence(node.Reliability, resp.Confidence, resp.ReasoningText != "")
		perNode[i] = resp.clone()
		perNode[i].Confidence = c
		confidences[i] = c
		weighted[i] = c * node.Weight
		specialties[node.Specialty] = struct{}{}
	}

	weightedScore := floats.Sum(weighted) / float64(n)
	averageConfidence, variance := stat.PopMeanVariance(confidences, nil)
	level := a.AgreementLevel(variance)
	agreement := a.AgreementScore(confidences)

	winner := 0
	for i := 1; i < n; i++ {
		if weighted[i] > weighted[winner] ||
			(weighted[i] == weighted[winner] && perNode[i].NodeID < perNode[winner].NodeID) {
			winner = i
		}
	}

	names := make([]string, 0, len(specialties))
	for s := range specialties {
		names = append(names, string(s))
	}
	sort.Strings(names)

	explanation := fmt.Sprintf("%d nodes participated with %s agreement; average confidence %.0f%%; specialties: %s",
		n, level, averageConfidence*100, strings.Join(names, ", "))

	return &ConsensusResult{
		FinalResult:            append([]byte(nil), perNode[winner].RawResult...),
		FinalNodeID:            perNode[winner].NodeID,
		Confidence:             clamp(weightedScore, 0, 1),
		AgreementScore:         agreement,
		AgreementLevel:         level,
		QualityScore:           a.QualityScore(averageConfidence, agreement, n),
		ParticipatingNodeCount: n,
		PerNodeResponses:       perNode,
		Explanation:            explanation,
	}, nil
}

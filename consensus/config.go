package consensus

import (
	"fmt"
	"math"
	"time"
)

// Heuristic defaults for scoring, aggregation and reliability updates.
const (
	DefaultReliabilityFloor   = 0.1
	DefaultAdjustmentRate     = 0.05
	DefaultRecencyWindow      = 30 * time.Second
	DefaultRecencyPenalty     = 0.8
	DefaultHistoryCapacity    = 1000
	DefaultTargetNodeCount    = 4
	DefaultFallbackConfidence = 0.7

	// Agreement level buckets over the population variance of confidences.
	DefaultHighAgreementVariance   = 0.1
	DefaultMediumAgreementVariance = 0.25

	// Two confidences closer than this count as an agreeing pair.
	DefaultPairAgreementDelta = 0.2

	// Confidence normalization.
	DefaultMinConfidence  = 0.1
	DefaultReasoningBoost = 1.1
	DefaultSelfReportMix  = 0.5

	// Quality score weights: confidence, agreement, participation.
	DefaultQualityConfidenceWeight    = 0.4
	DefaultQualityAgreementWeight     = 0.4
	DefaultQualityParticipationWeight = 0.2
)

// Agreement levels reported on results.
const (
	AgreementHigh   = "high"
	AgreementMedium = "medium"
	AgreementLow    = "low"
)

// Config holds the tunable constants of the consensus engine.
type Config struct {
	ReliabilityFloor float64       `json:"reliability_floor" yaml:"reliability_floor"`
	AdjustmentRate   float64       `json:"adjustment_rate" yaml:"adjustment_rate"`
	RecencyWindow    time.Duration `json:"recency_window" yaml:"recency_window"`
	RecencyPenalty   float64       `json:"recency_penalty" yaml:"recency_penalty"`
	HistoryCapacity  int           `json:"history_capacity" yaml:"history_capacity"`
	TargetNodeCount  int           `json:"target_node_count" yaml:"target_node_count"`

	HighAgreementVariance   float64 `json:"high_agreement_variance" yaml:"high_agreement_variance"`
	MediumAgreementVariance float64 `json:"medium_agreement_variance" yaml:"medium_agreement_variance"`
	PairAgreementDelta      float64 `json:"pair_agreement_delta" yaml:"pair_agreement_delta"`

	MinConfidence  float64 `json:"min_confidence" yaml:"min_confidence"`
	ReasoningBoost float64 `json:"reasoning_boost" yaml:"reasoning_boost"`
	SelfReportMix  float64 `json:"self_report_mix" yaml:"self_report_mix"`

	QualityConfidenceWeight    float64 `json:"quality_confidence_weight" yaml:"quality_confidence_weight"`
	QualityAgreementWeight     float64 `json:"quality_agreement_weight" yaml:"quality_agreement_weight"`
	QualityParticipationWeight float64 `json:"quality_participation_weight" yaml:"quality_participation_weight"`

	FallbackConfidence float64 `json:"fallback_confidence" yaml:"fallback_confidence"`

	// DisableReliabilityUpdates freezes reliability; LastUsedAt is still recorded.
	DisableReliabilityUpdates bool `json:"disable_reliability_updates" yaml:"disable_reliability_updates"`
}

// DefaultConfig returns a Config populated with the default heuristics.
func DefaultConfig() Config {
	return Config{
		ReliabilityFloor:           DefaultReliabilityFloor,
		AdjustmentRate:             DefaultAdjustmentRate,
		RecencyWindow:              DefaultRecencyWindow,
		RecencyPenalty:             DefaultRecencyPenalty,
		HistoryCapacity:            DefaultHistoryCapacity,
		TargetNodeCount:            DefaultTargetNodeCount,
		HighAgreementVariance:      DefaultHighAgreementVariance,
		MediumAgreementVariance:    DefaultMediumAgreementVariance,
		PairAgreementDelta:         DefaultPairAgreementDelta,
		MinConfidence:              DefaultMinConfidence,
		ReasoningBoost:             DefaultReasoningBoost,
		SelfReportMix:              DefaultSelfReportMix,
		QualityConfidenceWeight:    DefaultQualityConfidenceWeight,
		QualityAgreementWeight:     DefaultQualityAgreementWeight,
		QualityParticipationWeight: DefaultQualityParticipationWeight,
		FallbackConfidence:         DefaultFallbackConfidence,
	}
}

// Validate checks that the configuration values are usable.
func (c Config) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"reliability floor", c.ReliabilityFloor},
		{"adjustment rate", c.AdjustmentRate},
		{"recency penalty", c.RecencyPenalty},
		{"high agreement variance", c.HighAgreementVariance},
		{"medium agreement variance", c.MediumAgreementVariance},
		{"pair agreement delta", c.PairAgreementDelta},
		{"min confidence", c.MinConfidence},
		{"reasoning boost", c.ReasoningBoost},
		{"self report mix", c.SelfReportMix},
		{"quality confidence weight", c.QualityConfidenceWeight},
		{"quality agreement weight", c.QualityAgreementWeight},
		{"quality participation weight", c.QualityParticipationWeight},
		{"fallback confidence", c.FallbackConfidence},
	} {
		if !isFinite(f.value) {
			return fmt.Errorf("%s %v is not a finite number", f.name, f.value)
		}
	}

	switch {
	case c.ReliabilityFloor < 0 || c.ReliabilityFloor > 1:
		return fmt.Errorf("reliability floor %v out of [0,1]", c.ReliabilityFloor)
	case c.AdjustmentRate < 0:
		return fmt.Errorf("adjustment rate %v is negative", c.AdjustmentRate)
	case c.RecencyPenalty <= 0 || c.RecencyPenalty > 1:
		return fmt.Errorf("recency penalty %v out of (0,1]", c.RecencyPenalty)
	case c.HistoryCapacity <= 0:
		return fmt.Errorf("history capacity must be positive, got %d", c.HistoryCapacity)
	case c.TargetNodeCount <= 0:
		return fmt.Errorf("target node count must be positive, got %d", c.TargetNodeCount)
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return fmt.Errorf("min confidence %v out of [0,1]", c.MinConfidence)
	case c.SelfReportMix < 0 || c.SelfReportMix > 1:
		return fmt.Errorf("self report mix %v out of [0,1]", c.SelfReportMix)
	case c.FallbackConfidence < 0 || c.FallbackConfidence > 1:
		return fmt.Errorf("fallback confidence %v out of [0,1]", c.FallbackConfidence)
	}
	return nil
}

// clamp bounds v to [lo, hi]. NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if v < lo || math.IsNaN(v) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// isFinite reports whether v is neither NaN nor infinite.
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

package consensus

import (
	"context"
	"fmt"
	"time"
)

// FallbackExplanation is the explanation carried by fallback results.
const FallbackExplanation = "fallback path used"

// FallbackController produces a degraded result from a single executor call
// when a full round fails.
type FallbackController struct {
	executor   TaskExecutor
	confidence float64
	quality    float64
}

// NewFallbackController creates a controller. The quality score of fallback
// results is computed once by agg for a single high-agreement response.
func NewFallbackController(executor TaskExecutor, cfg Config, agg *Aggregator) *FallbackController {
	return &FallbackController{
		executor:   executor,
		confidence: cfg.FallbackConfidence,
		quality:    agg.QualityScore(cfg.FallbackConfidence, 1.0, 1),
	}
}

// Run performs exactly one executor call with the untransformed payload.
// It is not retried; any failure yields ErrConsensusUnavailable.
func (f *FallbackController) Run(ctx context.Context, req ConsensusRequest) (*ConsensusResult, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout())
	defer cancel()

	start := time.Now()
	raw, err := f.execute(ctx, Call{
		NodeID:  FallbackNodeID,
		Type:    req.Type,
		Payload: req.Payload,
	})
	elapsed := time.Since(start)

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fallback call failed: %w", ErrConsensusUnavailable, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: fallback call returned no result", ErrConsensusUnavailable)
	}

	resp := NodeResponse{
		NodeID:        FallbackNodeID,
		RawResult:     append([]byte(nil), raw.Output...),
		Confidence:    f.confidence,
		LatencyMs:     elapsed.Milliseconds(),
		ReasoningText: raw.Reasoning,
	}
	if len(raw.Metadata) > 0 {
		resp.SpecialtyMetadata = make(map[string]string, len(raw.Metadata))
		for k, v := range raw.Metadata {
			resp.SpecialtyMetadata[k] = v
		}
	}

	return &ConsensusResult{
		FinalResult:            resp.RawResult,
		FinalNodeID:            FallbackNodeID,
		Confidence:             f.confidence,
		AgreementScore:         1.0,
		AgreementLevel:         AgreementHigh,
		QualityScore:           f.quality,
		ParticipatingNodeCount: 1,
		PerNodeResponses:       []NodeResponse{resp},
		Explanation:            FallbackExplanation,
		Fallback:               true,
	}, nil
}

// execute shields the caller from executor panics.
func (f *FallbackController) execute(ctx context.Context, call Call) (raw *RawResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw, err = nil, fmt.Errorf("panic in executor: %s", panicToString(r))
		}
	}()
	return f.executor.Execute(ctx, call)
}

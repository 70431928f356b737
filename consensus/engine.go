package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine runs consensus rounds against a registry of evaluator nodes.
type Engine struct {
	cfg        Config
	registry   *Registry
	selector   *Selector
	dispatcher *Dispatcher
	aggregator *Aggregator
	updater    *ReliabilityUpdater
	fallback   *FallbackController
	history    *History

	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger    *zap.Logger
	recorder  Recorder
	transform Transformer
	now       func() time.Time
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *engineOptions) { o.recorder = r }
}

// WithTransformer sets the per-specialty payload transform.
func WithTransformer(t Transformer) Option {
	return func(o *engineOptions) { o.transform = t }
}

// WithClock sets the time source used for recency scoring and LastUsedAt.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// NewEngine wires a registry built from seeds to the given executor.
func NewEngine(cfg Config, seeds []NodeSeed, executor TaskExecutor, opts ...Option) (*Engine, error) {
	if executor == nil {
		return nil, errors.New("task executor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := engineOptions{
		logger:    zap.NewNop(),
		recorder:  noopRecorder{},
		transform: DefaultTransformer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	registry, err := NewRegistry(seeds, cfg.ReliabilityFloor)
	if err != nil {
		return nil, err
	}
	history, err := NewHistory(cfg.HistoryCapacity)
	if err != nil {
		return nil, err
	}

	aggregator := NewAggregator(cfg)
	e := &Engine{
		cfg:        cfg,
		registry:   registry,
		selector:   NewSelector(cfg, o.now),
		dispatcher: NewDispatcher(executor, o.transform, o.recorder, o.logger),
		aggregator: aggregator,
		updater:    NewReliabilityUpdater(cfg),
		fallback:   NewFallbackController(executor, cfg, aggregator),
		history:    history,
		recorder:   o.recorder,
		logger:     o.logger,
		now:        o.now,
	}

	for _, n := range registry.List() {
		e.recorder.SetReliability(n.ID, n.Reliability)
	}

	return e, nil
}

// ValidateRequest checks the request fields that must hold before dispatch.
func ValidateRequest(req ConsensusRequest) error {
	switch {
	case req.MaxNodes <= 0:
		return fmt.Errorf("%w: max nodes must be positive, got %d", ErrInvalidRequest, req.MaxNodes)
	case req.TimeoutMs <= 0:
		return fmt.Errorf("%w: timeout must be positive, got %dms", ErrInvalidRequest, req.TimeoutMs)
	case req.RequiredConfidence < 0 || req.RequiredConfidence > 1:
		return fmt.Errorf("%w: required confidence %v out of [0,1]", ErrInvalidRequest, req.RequiredConfidence)
	case !req.Type.Valid():
		return fmt.Errorf("%w: unknown request type %q", ErrInvalidRequest, req.Type)
	}
	return nil
}

// RunConsensus runs one full round for req. Whole-round failures fall back to
// a single degraded call; only ErrConsensusUnavailable, ErrInvalidRequest and
// caller cancellation are returned as errors.
func (e *Engine) RunConsensus(ctx context.Context, req ConsensusRequest) (*ConsensusResult, error) {
	start := e.now()
	began := time.Now()

	if err := ValidateRequest(req); err != nil {
		e.recorder.RecordRound(OutcomeInvalid, 0, 0, time.Since(began))
		return nil, err
	}

	fingerprint := Fingerprint(req.Type, req.Payload)
	log := e.logger.With(
		zap.String("fingerprint", fingerprint),
		zap.String("type", string(req.Type)),
	)

	result, err := e.runRound(ctx, req)
	outcome := OutcomeConsensus
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.recorder.RecordRound(OutcomeCancelled, 0, 0, time.Since(began))
			log.Debug("round abandoned by caller", zap.Error(ctxErr))
			return nil, ctxErr
		}

		log.Warn("round failed, using fallback", zap.Error(err))
		result, err = e.fallback.Run(ctx, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				e.recorder.RecordRound(OutcomeCancelled, 0, 0, time.Since(began))
				log.Debug("fallback abandoned by caller", zap.Error(ctxErr))
				return nil, ctxErr
			}
			e.recorder.RecordRound(OutcomeUnavailable, 0, 0, time.Since(began))
			log.Error("consensus unavailable", zap.Error(err))
			return nil, err
		}
		outcome = OutcomeFallback
	}

	result.RoundID = uuid.New().String()
	result.Fingerprint = fingerprint
	result.Satisfied = result.Confidence >= req.RequiredConfidence
	result.Timing = Timing{
		StartedAt:  start,
		DurationMs: time.Since(began).Milliseconds(),
	}

	e.history.Put(fingerprint, result)
	e.recorder.RecordRound(outcome, result.ParticipatingNodeCount, result.Confidence, time.Since(began))

	log.Info("round complete",
		zap.String("round", result.RoundID),
		zap.String("outcome", outcome),
		zap.Int("participants", result.ParticipatingNodeCount),
		zap.Float64("confidence", result.Confidence),
		zap.Float64("agreement", result.AgreementScore),
	)

	return result, nil
}

// runRound is select, dispatch, aggregate and reliability update. The
// registry is only written after a fully joined, aggregated round.
func (e *Engine) runRound(ctx context.Context, req ConsensusRequest) (*ConsensusResult, error) {
	selected, err := e.selector.Select(e.registry.List(), req)
	if err != nil {
		return nil, err
	}

	responses, err := e.dispatcher.Dispatch(ctx, selected, req)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]EvaluatorNode, len(selected))
	for _, n := range selected {
		byID[n.ID] = n
	}

	result, err := e.aggregator.Aggregate(byID, responses)
	if err != nil {
		return nil, err
	}

	e.registry.Apply(e.updater.Updates(result, e.now()))
	for _, resp := range result.PerNodeResponses {
		if n, ok := e.registry.Get(resp.NodeID); ok {
			e.recorder.SetReliability(n.ID, n.Reliability)
		}
	}

	return result, nil
}

// GetNodeStats returns a read-only snapshot of all nodes.
func (e *Engine) GetNodeStats() []EvaluatorNode {
	return e.registry.List()
}

// GetHistory returns a copy of the recorded results keyed by fingerprint.
func (e *Engine) GetHistory() map[string]ConsensusResult {
	return e.history.Snapshot()
}

// DispatchStats returns the dispatcher's call statistics.
func (e *Engine) DispatchStats() DispatchStats {
	return e.dispatcher.Stats()
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

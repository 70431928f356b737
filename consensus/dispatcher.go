package consensus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DispatchStats contains dispatcher statistics.
type DispatchStats struct {
	Dispatched  int64   `json:"dispatched"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	TimedOut    int64   `json:"timed_out"`
	SuccessRate float64 `json:"success_rate"`
}

// Dispatcher fans a request out to the selected nodes and joins their
// responses, tolerating partial failure.
type Dispatcher struct {
	executor  TaskExecutor
	transform Transformer
	recorder  Recorder
	logger    *zap.Logger

	// Atomic counters for thread-safe statistics
	dispatched int64
	succeeded  int64
	failed     int64
	timedOut   int64
}

// NewDispatcher creates a dispatcher. A nil transform passes payloads through,
// a nil recorder or logger disables that output.
func NewDispatcher(executor TaskExecutor, transform Transformer, recorder Recorder, logger *zap.Logger) *Dispatcher {
	if transform == nil {
		transform = IdentityTransformer
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		executor:  executor,
		transform: transform,
		recorder:  recorder,
		logger:    logger,
	}
}

type callResult struct {
	raw *RawResult
	err error
}

// Dispatch calls every node concurrently, each bounded by req.TimeoutMs, and
// waits for all of them to settle. Failed branches are dropped. If ctx is
// cancelled the round is abandoned and ctx.Err() is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, nodes []EvaluatorNode, req ConsensusRequest) ([]NodeResponse, error) {
	if req.TimeoutMs <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %dms", ErrInvalidRequest, req.TimeoutMs)
	}
	if len(nodes) == 0 {
		return nil, ErrNoNodesAvailable
	}

	responses := make([]*NodeResponse, len(nodes))

	// Branches never return an error, so Wait joins every one of them.
	var g errgroup.Group
	for i, node := range nodes {
		g.Go(func() error {
			resp, err := d.call(ctx, node, req)
			if err != nil {
				d.logger.Debug("node dropped from round",
					zap.String("node", node.ID),
					zap.Error(err),
				)
				return nil
			}
			responses[i] = resp
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]NodeResponse, 0, len(responses))
	for _, resp := range responses {
		if resp != nil {
			out = append(out, *resp)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: all %d nodes failed or timed out", ErrNoConsensusReached, len(nodes))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// call runs one branch: transform, execute, and race against the timeout.
func (d *Dispatcher) call(parent context.Context, node EvaluatorNode, req ConsensusRequest) (*NodeResponse, error) {
	atomic.AddInt64(&d.dispatched, 1)

	ctx, cancel := context.WithTimeout(parent, req.Timeout())
	defer cancel()

	call := Call{
		NodeID:    node.ID,
		Specialty: node.Specialty,
		Type:      req.Type,
		Payload:   d.transform(node.Specialty, req.Type, req.Payload),
	}

	start := time.Now()

	// Buffered so an abandoned executor goroutine can always finish.
	done := make(chan callResult, 1)
	go func() {
		var res callResult
		// Panic recovery to prevent one node from crashing the round
		defer func() {
			if r := recover(); r != nil {
				res = callResult{err: fmt.Errorf("%w: panic in executor: %s", ErrNodeFailed, panicToString(r))}
			}
			done <- res
		}()
		res.raw, res.err = d.executor.Execute(ctx, call)
	}()

	var res callResult
	select {
	case <-ctx.Done():
		res.err = ctx.Err()
	case res = <-done:
	}
	elapsed := time.Since(start)

	if res.err == nil && res.raw == nil {
		res.err = fmt.Errorf("%w: executor returned no result", ErrNodeFailed)
	}

	if res.err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			atomic.AddInt64(&d.timedOut, 1)
			d.recorder.RecordNodeCall(node.ID, CallTimeout, elapsed)
			return nil, fmt.Errorf("%w: %s after %v", ErrNodeTimeout, node.ID, req.Timeout())
		}
		atomic.AddInt64(&d.failed, 1)
		d.recorder.RecordNodeCall(node.ID, CallError, elapsed)
		if errors.Is(res.err, ErrNodeFailed) {
			return nil, res.err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrNodeFailed, node.ID, res.err)
	}

	atomic.AddInt64(&d.succeeded, 1)
	d.recorder.RecordNodeCall(node.ID, CallOK, elapsed)

	// A missing or non-finite score falls back to the node's reliability.
	selfReported := node.Reliability
	if res.raw.Score != nil && isFinite(*res.raw.Score) {
		selfReported = *res.raw.Score
	}

	metadata := make(map[string]string, len(res.raw.Metadata)+1)
	for k, v := range res.raw.Metadata {
		metadata[k] = v
	}
	metadata["specialty"] = string(node.Specialty)

	return &NodeResponse{
		NodeID:            node.ID,
		RawResult:         res.raw.Output,
		Confidence:        clamp(selfReported, 0, 1),
		LatencyMs:         elapsed.Milliseconds(),
		ReasoningText:     res.raw.Reasoning,
		SpecialtyMetadata: metadata,
	}, nil
}

// panicToString converts a recovered panic value to a string.
func panicToString(r interface{}) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Stats returns current dispatcher statistics.
func (d *Dispatcher) Stats() DispatchStats {
	succeeded := atomic.LoadInt64(&d.succeeded)
	failed := atomic.LoadInt64(&d.failed)
	timedOut := atomic.LoadInt64(&d.timedOut)
	total := succeeded + failed + timedOut

	var successRate float64
	if total > 0 {
		successRate = float64(succeeded) / float64(total) * 100
	}

	return DispatchStats{
		Dispatched:  atomic.LoadInt64(&d.dispatched),
		Succeeded:   succeeded,
		Failed:      failed,
		TimedOut:    timedOut,
		SuccessRate: successRate,
	}
}

package consensus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingExecutor records calls and delegates to per-node behaviors.
type recordingExecutor struct {
	mu       sync.Mutex
	calls    []Call
	behavior map[string]ExecutorFunc
	fallback ExecutorFunc
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{behavior: make(map[string]ExecutorFunc)}
}

func (r *recordingExecutor) on(nodeID string, fn ExecutorFunc) *recordingExecutor {
	r.behavior[nodeID] = fn
	return r
}

func (r *recordingExecutor) Execute(ctx context.Context, call Call) (*RawResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	fn := r.behavior[call.NodeID]
	if call.NodeID == FallbackNodeID {
		fn = r.fallback
	}
	r.mu.Unlock()

	if fn == nil {
		return nil, errors.New("no behavior configured")
	}
	return fn(ctx, call)
}

func (r *recordingExecutor) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

func (r *recordingExecutor) callsTo(nodeID string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.NodeID == nodeID {
			n++
		}
	}
	return n
}

// answer returns a behavior that succeeds immediately with the given score.
func answer(output string, score float64) ExecutorFunc {
	return func(context.Context, Call) (*RawResult, error) {
		return &RawResult{Output: []byte(output), Score: Score(score)}, nil
	}
}

// hang returns a behavior that blocks until its context is done.
func hang() ExecutorFunc {
	return func(ctx context.Context, _ Call) (*RawResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// delayed returns a behavior that answers after d unless cancelled first.
func delayed(d time.Duration, output string, score float64) ExecutorFunc {
	return func(ctx context.Context, _ Call) (*RawResult, error) {
		select {
		case <-time.After(d):
			return &RawResult{Output: []byte(output), Score: Score(score)}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func fail(msg string) ExecutorFunc {
	return func(context.Context, Call) (*RawResult, error) {
		return nil, errors.New(msg)
	}
}

// fixedClock is a controllable time source.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func seed(id string, specialty Specialty, weight, reliability float64) NodeSeed {
	return NodeSeed{ID: id, Name: id, Specialty: specialty, Weight: weight, InitialReliability: reliability}
}

func request(t RequestType, maxNodes int) ConsensusRequest {
	return ConsensusRequest{
		Type:               t,
		Payload:            []byte("draw a lighthouse at dusk"),
		RequiredConfidence: 0.5,
		MaxNodes:           maxNodes,
		TimeoutMs:          1000,
	}
}

func newTestEngine(t *testing.T, cfg Config, seeds []NodeSeed, exec TaskExecutor, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, seeds, exec, opts...)
	require.NoError(t, err)
	return e
}

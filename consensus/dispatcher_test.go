package consensus

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatchAllSucceed(t *testing.T) {
	exec := newRecordingExecutor().
		on("a", answer("from a", 0.8)).
		on("b", answer("from b", 0.9))
	d := NewDispatcher(exec, DefaultTransformer, nil, nil)

	nodes := nodesFrom(t, seed("b", SpecialtyTechnical, 1, 0.9), seed("a", SpecialtyCreative, 1, 0.9))
	responses, err := d.Dispatch(context.Background(), nodes, request(RequestGenerate, 2))
	require.NoError(t, err)
	require.Len(t, responses, 2)
	require.Equal(t, "a", responses[0].NodeID)
	require.Equal(t, "b", responses[1].NodeID)
	require.Equal(t, 0.8, responses[0].Confidence)
	require.Equal(t, "creative", responses[0].SpecialtyMetadata["specialty"])

	stats := d.Stats()
	require.Equal(t, int64(2), stats.Dispatched)
	require.Equal(t, int64(2), stats.Succeeded)
	require.Equal(t, 100.0, stats.SuccessRate)
}

func TestDispatchAppliesSpecialtyTransform(t *testing.T) {
	exec := newRecordingExecutor().on("a", answer("ok", 0.5))
	d := NewDispatcher(exec, DefaultTransformer, nil, nil)

	nodes := nodesFrom(t, seed("a", SpecialtyTechnical, 1, 0.9))
	req := request(RequestValidate, 1)
	_, err := d.Dispatch(context.Background(), nodes, req)
	require.NoError(t, err)

	calls := exec.Calls()
	require.Len(t, calls, 1)
	payload := string(calls[0].Payload)
	require.True(t, strings.HasPrefix(payload, "[validate/technical]"), payload)
	require.True(t, strings.HasSuffix(payload, string(req.Payload)))
	require.Equal(t, SpecialtyTechnical, calls[0].Specialty)
}

func TestDispatchMissingScoreUsesReliability(t *testing.T) {
	exec := newRecordingExecutor().on("a", func(context.Context, Call) (*RawResult, error) {
		return &RawResult{Output: []byte("x")}, nil
	})
	d := NewDispatcher(exec, nil, nil, nil)

	nodes := nodesFrom(t, seed("a", SpecialtyTechnical, 1, 0.65))
	responses, err := d.Dispatch(context.Background(), nodes, request(RequestAnalyze, 1))
	require.NoError(t, err)
	require.Equal(t, 0.65, responses[0].Confidence)
}

func TestDispatchNonFiniteScoreUsesReliability(t *testing.T) {
	exec := newRecordingExecutor().
		on("a", answer("a", math.NaN())).
		on("b", answer("b", math.Inf(1))).
		on("c", answer("c", math.Inf(-1)))
	d := NewDispatcher(exec, nil, nil, nil)

	nodes := nodesFrom(t,
		seed("a", SpecialtyTechnical, 1, 0.65),
		seed("b", SpecialtyTechnical, 1, 0.4),
		seed("c", SpecialtyTechnical, 1, 0.9),
	)
	responses, err := d.Dispatch(context.Background(), nodes, request(RequestAnalyze, 3))
	require.NoError(t, err)
	require.Len(t, responses, 3)
	require.Equal(t, 0.65, responses[0].Confidence)
	require.Equal(t, 0.4, responses[1].Confidence)
	require.Equal(t, 0.9, responses[2].Confidence)
}

func TestDispatchClampsSelfReportedScore(t *testing.T) {
	exec := newRecordingExecutor().
		on("a", answer("a", 3.5)).
		on("b", answer("b", -2))
	d := NewDispatcher(exec, nil, nil, nil)

	nodes := nodesFrom(t, seed("a", SpecialtyTechnical, 1, 0.5), seed("b", SpecialtyTechnical, 1, 0.5))
	responses, err := d.Dispatch(context.Background(), nodes, request(RequestAnalyze, 2))
	require.NoError(t, err)
	require.Equal(t, 1.0, responses[0].Confidence)
	require.Equal(t, 0.0, responses[1].Confidence)
}

func TestDispatchToleratesPartialFailure(t *testing.T) {
	exec := newRecordingExecutor().
		on("ok", answer("fine", 0.9)).
		on("err", fail("boom")).
		on("slow", hang()).
		on("panic", func(context.Context, Call) (*RawResult, error) { panic("node exploded") }).
		on("nil", func(context.Context, Call) (*RawResult, error) { return nil, nil })
	d := NewDispatcher(exec, nil, nil, nil)

	nodes := nodesFrom(t,
		seed("ok", SpecialtyCreative, 1, 0.9),
		seed("err", SpecialtyCreative, 1, 0.9),
		seed("slow", SpecialtyCreative, 1, 0.9),
		seed("panic", SpecialtyCreative, 1, 0.9),
		seed("nil", SpecialtyCreative, 1, 0.9),
	)
	req := request(RequestGenerate, 5)
	req.TimeoutMs = 30

	responses, err := d.Dispatch(context.Background(), nodes, req)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.Equal(t, "ok", responses[0].NodeID)

	stats := d.Stats()
	require.Equal(t, int64(5), stats.Dispatched)
	require.Equal(t, int64(1), stats.Succeeded)
	require.Equal(t, int64(3), stats.Failed)
	require.Equal(t, int64(1), stats.TimedOut)
}

func TestDispatchAllFailed(t *testing.T) {
	exec := newRecordingExecutor().on("a", fail("down")).on("b", hang())
	d := NewDispatcher(exec, nil, nil, nil)

	nodes := nodesFrom(t, seed("a", SpecialtyCreative, 1, 0.9), seed("b", SpecialtyCreative, 1, 0.9))
	req := request(RequestGenerate, 2)
	req.TimeoutMs = 20

	_, err := d.Dispatch(context.Background(), nodes, req)
	require.ErrorIs(t, err, ErrNoConsensusReached)
}

func TestDispatchRunsBranchesConcurrently(t *testing.T) {
	const n = 4
	var started int32
	allStarted := make(chan struct{})

	barrier := func(ctx context.Context, call Call) (*RawResult, error) {
		if atomic.AddInt32(&started, 1) == n {
			close(allStarted)
		}
		select {
		case <-allStarted:
			return &RawResult{Output: []byte(call.NodeID), Score: Score(0.9)}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	exec := newRecordingExecutor()
	seeds := make([]NodeSeed, 0, n)
	for _, id := range []string{"a", "b", "c", "d"} {
		exec.on(id, barrier)
		seeds = append(seeds, seed(id, SpecialtyBalanced, 1, 0.9))
	}
	d := NewDispatcher(exec, nil, nil, nil)

	req := request(RequestValidate, n)
	req.TimeoutMs = 2000

	// Sequential dispatch would time out on the first branch.
	responses, err := d.Dispatch(context.Background(), nodesFrom(t, seeds...), req)
	require.NoError(t, err)
	require.Len(t, responses, n)
}

func TestDispatchWaitsForSlowBranches(t *testing.T) {
	exec := newRecordingExecutor().
		on("fast-fail", fail("immediately")).
		on("slow-ok", delayed(40*time.Millisecond, "late", 0.7))
	d := NewDispatcher(exec, nil, nil, nil)

	nodes := nodesFrom(t, seed("fast-fail", SpecialtyCreative, 1, 0.9), seed("slow-ok", SpecialtyCreative, 1, 0.9))
	responses, err := d.Dispatch(context.Background(), nodes, request(RequestGenerate, 2))
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.Equal(t, "slow-ok", responses[0].NodeID)
}

func TestDispatchCallerCancellation(t *testing.T) {
	var once sync.Once
	entered := make(chan struct{})
	exec := newRecordingExecutor().on("a", func(ctx context.Context, _ Call) (*RawResult, error) {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return nil, ctx.Err()
	}).on("b", answer("b", 0.9))
	d := NewDispatcher(exec, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()

	nodes := nodesFrom(t, seed("a", SpecialtyCreative, 1, 0.9), seed("b", SpecialtyCreative, 1, 0.9))
	_, err := d.Dispatch(ctx, nodes, request(RequestGenerate, 2))
	require.ErrorIs(t, err, context.Canceled)
}

func TestDispatchInvalidInput(t *testing.T) {
	d := NewDispatcher(newRecordingExecutor(), nil, nil, nil)

	req := request(RequestGenerate, 1)
	req.TimeoutMs = 0
	_, err := d.Dispatch(context.Background(), nodesFrom(t, seed("a", SpecialtyCreative, 1, 0.9)), req)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = d.Dispatch(context.Background(), nil, request(RequestGenerate, 1))
	require.ErrorIs(t, err, ErrNoNodesAvailable)
}

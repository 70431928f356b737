package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
	"github.com/VanDung-dev/HieraChain-Consensus/data"
)

// ErrEmptyFrame is returned for a zero-length batch frame.
var ErrEmptyFrame = errors.New("received empty data")

// DefaultBatchConcurrency bounds the rounds a single batch runs at once.
const DefaultBatchConcurrency = 8

// BatchHandler runs every request row of an Arrow IPC batch through the
// engine and encodes the results as an Arrow IPC batch.
type BatchHandler struct {
	engine      Engine
	converter   *data.Converter
	codec       *data.IPCCodec
	concurrency int
	metrics     *Metrics
	logger      *zap.Logger
}

// NewBatchHandler creates a BatchHandler. metrics may be nil.
func NewBatchHandler(engine Engine, concurrency int, metrics *Metrics, logger *zap.Logger) *BatchHandler {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mem := memory.NewGoAllocator()
	return &BatchHandler{
		engine:      engine,
		converter:   data.NewConverterWithAllocator(mem),
		codec:       data.NewIPCCodecWithAllocator(mem),
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger,
	}
}

// ProcessBatch decodes frame, runs one round per row and returns the encoded
// result batch. Round failures are reported per row; only frame-level
// decoding problems return an error.
func (h *BatchHandler) ProcessBatch(ctx context.Context, frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	start := time.Now()
	rows, err := h.decode(frame)
	if err != nil {
		return nil, err
	}

	results := make([]data.ResultRow, len(rows))

	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for i, row := range rows {
		g.Go(func() error {
			results[i] = h.run(ctx, row)
			return nil
		})
	}
	_ = g.Wait()

	reply, err := h.encode(results)
	if err != nil {
		return nil, err
	}

	if h.metrics != nil {
		h.metrics.RecordBatch(len(rows), time.Since(start))
	}
	h.logger.Debug("batch processed",
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return reply, nil
}

// ErrorReply encodes a frame-level failure as a single error row with an
// empty request ID.
func (h *BatchHandler) ErrorReply(cause error) ([]byte, error) {
	return h.encode([]data.ResultRow{{Error: cause.Error()}})
}

func (h *BatchHandler) decode(frame []byte) ([]data.RequestRow, error) {
	records, err := h.codec.DeserializeAll(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to read Arrow stream: %w", err)
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()

	var rows []data.RequestRow
	for _, record := range records {
		decoded, err := h.converter.RecordToRequests(record)
		if err != nil {
			return nil, err
		}
		rows = append(rows, decoded...)
	}

	if len(rows) == 0 {
		return nil, data.ErrEmptyBatch
	}
	return rows, nil
}

func (h *BatchHandler) run(ctx context.Context, row data.RequestRow) data.ResultRow {
	out := data.ResultRow{RequestID: row.RequestID}

	result, err := h.engine.RunConsensus(ctx, row.Request)
	if err != nil {
		out.Error = err.Error()
		if !errors.Is(err, consensus.ErrInvalidRequest) {
			h.logger.Warn("batch row failed",
				zap.String("request_id", row.RequestID),
				zap.Error(err),
			)
		}
		return out
	}

	out.Result = result
	return out
}

func (h *BatchHandler) encode(results []data.ResultRow) ([]byte, error) {
	record, err := h.converter.ResultsToRecord(results)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	return h.codec.Serialize(record)
}

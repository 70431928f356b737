package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
)

var (
	// ErrNilRecord is returned when a nil record is passed for decoding.
	ErrNilRecord = errors.New("record is nil")
	// ErrSchemaMismatch is returned when a record does not match the expected schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrEmptyBatch is returned when encoding an empty batch.
	ErrEmptyBatch = errors.New("empty batch")
)

// RequestRow is one row of a request batch.
type RequestRow struct {
	RequestID string
	Request   consensus.ConsensusRequest
}

// ResultRow is one row of a result batch. Exactly one of Result and Error
// is set.
type ResultRow struct {
	RequestID string
	Result    *consensus.ConsensusResult
	Error     string
}

// RequestJSON is the JSON form of a request row, used by batch tooling.
type RequestJSON struct {
	RequestID          string  `json:"request_id"`
	Type               string  `json:"type"`
	Payload            string  `json:"payload"`
	RequiredConfidence float64 `json:"required_confidence"`
	MaxNodes           int     `json:"max_nodes"`
	TimeoutMs          int64   `json:"timeout_ms"`
}

// Row converts r into a RequestRow.
func (r RequestJSON) Row() RequestRow {
	return RequestRow{
		RequestID: r.RequestID,
		Request: consensus.ConsensusRequest{
			Type:               consensus.RequestType(r.Type),
			Payload:            []byte(r.Payload),
			RequiredConfidence: r.RequiredConfidence,
			MaxNodes:           r.MaxNodes,
			TimeoutMs:          r.TimeoutMs,
		},
	}
}

// Converter builds and decodes consensus Arrow records.
type Converter struct {
	allocator memory.Allocator
}

// NewConverter creates a new Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{allocator: memory.DefaultAllocator}
}

// NewConverterWithAllocator creates a Converter with a custom allocator.
func NewConverterWithAllocator(allocator memory.Allocator) *Converter {
	return &Converter{allocator: allocator}
}

// RequestsToRecord converts request rows to an Arrow record.
func (c *Converter) RequestsToRecord(rows []RequestRow) (arrow.Record, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyBatch
	}

	builder := array.NewRecordBuilder(c.allocator, ConsensusRequestSchema())
	defer builder.Release()

	idBuilder := builder.Field(0).(*array.StringBuilder)
	typeBuilder := builder.Field(1).(*array.StringBuilder)
	payloadBuilder := builder.Field(2).(*array.BinaryBuilder)
	confidenceBuilder := builder.Field(3).(*array.Float64Builder)
	maxNodesBuilder := builder.Field(4).(*array.Int64Builder)
	timeoutBuilder := builder.Field(5).(*array.Int64Builder)

	for _, row := range rows {
		idBuilder.Append(row.RequestID)
		typeBuilder.Append(string(row.Request.Type))
		if row.Request.Payload != nil {
			payloadBuilder.Append(row.Request.Payload)
		} else {
			payloadBuilder.AppendNull()
		}
		confidenceBuilder.Append(row.Request.RequiredConfidence)
		maxNodesBuilder.Append(int64(row.Request.MaxNodes))
		timeoutBuilder.Append(row.Request.TimeoutMs)
	}

	return builder.NewRecord(), nil
}

// JSONToRequestRecord converts a JSON array of RequestJSON to an Arrow record.
func (c *Converter) JSONToRequestRecord(jsonData []byte) (arrow.Record, error) {
	var requests []RequestJSON
	if err := json.Unmarshal(jsonData, &requests); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	rows := make([]RequestRow, len(requests))
	for i, r := range requests {
		rows[i] = r.Row()
	}
	return c.RequestsToRecord(rows)
}

// RecordToRequests decodes a request record.
func (c *Converter) RecordToRequests(record arrow.Record) ([]RequestRow, error) {
	if err := ValidateSchema(record, ConsensusRequestSchema()); err != nil {
		return nil, err
	}

	idCol := record.Column(0).(*array.String)
	typeCol := record.Column(1).(*array.String)
	payloadCol := record.Column(2).(*array.Binary)
	confidenceCol := record.Column(3).(*array.Float64)
	maxNodesCol := record.Column(4).(*array.Int64)
	timeoutCol := record.Column(5).(*array.Int64)

	rows := make([]RequestRow, record.NumRows())
	for i := range rows {
		rows[i] = RequestRow{
			RequestID: idCol.Value(i),
			Request: consensus.ConsensusRequest{
				Type:               consensus.RequestType(typeCol.Value(i)),
				RequiredConfidence: confidenceCol.Value(i),
				MaxNodes:           int(maxNodesCol.Value(i)),
				TimeoutMs:          timeoutCol.Value(i),
			},
		}
		if !payloadCol.IsNull(i) {
			// Value aliases the record's buffer, which is released with it.
			rows[i].Request.Payload = append([]byte(nil), payloadCol.Value(i)...)
		}
	}

	return rows, nil
}

// ResultsToRecord converts result rows to an Arrow record.
func (c *Converter) ResultsToRecord(rows []ResultRow) (arrow.Record, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyBatch
	}

	builder := array.NewRecordBuilder(c.allocator, ConsensusResultSchema())
	defer builder.Release()

	idBuilder := builder.Field(0).(*array.StringBuilder)
	roundBuilder := builder.Field(1).(*array.StringBuilder)
	fingerprintBuilder := builder.Field(2).(*array.StringBuilder)
	finalBuilder := builder.Field(3).(*array.BinaryBuilder)
	finalNodeBuilder := builder.Field(4).(*array.StringBuilder)
	confidenceBuilder := builder.Field(5).(*array.Float64Builder)
	agreementBuilder := builder.Field(6).(*array.Float64Builder)
	levelBuilder := builder.Field(7).(*array.StringBuilder)
	qualityBuilder := builder.Field(8).(*array.Float64Builder)
	participantsBuilder := builder.Field(9).(*array.Int64Builder)
	explanationBuilder := builder.Field(10).(*array.StringBuilder)
	fallbackBuilder := builder.Field(11).(*array.BooleanBuilder)
	satisfiedBuilder := builder.Field(12).(*array.BooleanBuilder)
	durationBuilder := builder.Field(13).(*array.Int64Builder)
	confidencesBuilder := builder.Field(14).(*array.MapBuilder)
	errorBuilder := builder.Field(15).(*array.StringBuilder)

	keyBuilder := confidencesBuilder.KeyBuilder().(*array.StringBuilder)
	valueBuilder := confidencesBuilder.ItemBuilder().(*array.Float64Builder)

	for _, row := range rows {
		idBuilder.Append(row.RequestID)

		r := row.Result
		if r == nil {
			roundBuilder.AppendNull()
			fingerprintBuilder.AppendNull()
			finalBuilder.AppendNull()
			finalNodeBuilder.AppendNull()
			confidenceBuilder.Append(0)
			agreementBuilder.Append(0)
			levelBuilder.AppendNull()
			qualityBuilder.Append(0)
			participantsBuilder.Append(0)
			explanationBuilder.AppendNull()
			fallbackBuilder.Append(false)
			satisfiedBuilder.Append(false)
			durationBuilder.Append(0)
			confidencesBuilder.AppendNull()
		} else {
			roundBuilder.Append(r.RoundID)
			fingerprintBuilder.Append(r.Fingerprint)
			finalBuilder.Append(r.FinalResult)
			finalNodeBuilder.Append(r.FinalNodeID)
			confidenceBuilder.Append(r.Confidence)
			agreementBuilder.Append(r.AgreementScore)
			levelBuilder.Append(r.AgreementLevel)
			qualityBuilder.Append(r.QualityScore)
			participantsBuilder.Append(int64(r.ParticipatingNodeCount))
			explanationBuilder.Append(r.Explanation)
			fallbackBuilder.Append(r.Fallback)
			satisfiedBuilder.Append(r.Satisfied)
			durationBuilder.Append(r.Timing.DurationMs)

			confidencesBuilder.Append(true)
			for _, resp := range r.PerNodeResponses {
				keyBuilder.Append(resp.NodeID)
				valueBuilder.Append(resp.Confidence)
			}
		}

		if row.Error != "" {
			errorBuilder.Append(row.Error)
		} else {
			errorBuilder.AppendNull()
		}
	}

	return builder.NewRecord(), nil
}

// RecordToResults decodes a result record. Per-node responses are restored
// with their node ID and normalized confidence only.
func (c *Converter) RecordToResults(record arrow.Record) ([]ResultRow, error) {
	if err := ValidateSchema(record, ConsensusResultSchema()); err != nil {
		return nil, err
	}

	idCol := record.Column(0).(*array.String)
	roundCol := record.Column(1).(*array.String)
	fingerprintCol := record.Column(2).(*array.String)
	finalCol := record.Column(3).(*array.Binary)
	finalNodeCol := record.Column(4).(*array.String)
	confidenceCol := record.Column(5).(*array.Float64)
	agreementCol := record.Column(6).(*array.Float64)
	levelCol := record.Column(7).(*array.String)
	qualityCol := record.Column(8).(*array.Float64)
	participantsCol := record.Column(9).(*array.Int64)
	explanationCol := record.Column(10).(*array.String)
	fallbackCol := record.Column(11).(*array.Boolean)
	satisfiedCol := record.Column(12).(*array.Boolean)
	durationCol := record.Column(13).(*array.Int64)
	confidencesCol := record.Column(14).(*array.Map)
	errorCol := record.Column(15).(*array.String)

	rows := make([]ResultRow, record.NumRows())
	for i := range rows {
		rows[i].RequestID = idCol.Value(i)
		if !errorCol.IsNull(i) {
			rows[i].Error = errorCol.Value(i)
		}
		if roundCol.IsNull(i) {
			continue
		}

		result := &consensus.ConsensusResult{
			RoundID:                roundCol.Value(i),
			Fingerprint:            fingerprintCol.Value(i),
			FinalNodeID:            finalNodeCol.Value(i),
			Confidence:             confidenceCol.Value(i),
			AgreementScore:         agreementCol.Value(i),
			AgreementLevel:         levelCol.Value(i),
			QualityScore:           qualityCol.Value(i),
			ParticipatingNodeCount: int(participantsCol.Value(i)),
			Explanation:            explanationCol.Value(i),
			Fallback:               fallbackCol.Value(i),
			Satisfied:              satisfiedCol.Value(i),
			Timing:                 consensus.Timing{DurationMs: durationCol.Value(i)},
		}
		if !finalCol.IsNull(i) {
			result.FinalResult = append([]byte(nil), finalCol.Value(i)...)
		}
		if !confidencesCol.IsNull(i) {
			result.PerNodeResponses = extractNodeConfidences(confidencesCol, i)
		}
		rows[i].Result = result
	}

	return rows, nil
}

// extractNodeConfidences reads the map entries at idx in insertion order.
func extractNodeConfidences(mapCol *array.Map, idx int) []consensus.NodeResponse {
	offsets := mapCol.Offsets()
	start, end := offsets[idx], offsets[idx+1]

	keys := mapCol.Keys().(*array.String)
	values := mapCol.Items().(*array.Float64)

	out := make([]consensus.NodeResponse, 0, end-start)
	for j := start; j < end; j++ {
		out = append(out, consensus.NodeResponse{
			NodeID:     keys.Value(int(j)),
			Confidence: values.Value(int(j)),
		})
	}
	return out
}

// NodesToRecord converts a registry snapshot to an Arrow record.
func (c *Converter) NodesToRecord(nodes []consensus.EvaluatorNode) (arrow.Record, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyBatch
	}

	builder := array.NewRecordBuilder(c.allocator, NodeStatsSchema())
	defer builder.Release()

	idBuilder := builder.Field(0).(*array.StringBuilder)
	nameBuilder := builder.Field(1).(*array.StringBuilder)
	specialtyBuilder := builder.Field(2).(*array.StringBuilder)
	weightBuilder := builder.Field(3).(*array.Float64Builder)
	reliabilityBuilder := builder.Field(4).(*array.Float64Builder)
	lastUsedBuilder := builder.Field(5).(*array.Float64Builder)

	for _, n := range nodes {
		idBuilder.Append(n.ID)
		nameBuilder.Append(n.Name)
		specialtyBuilder.Append(string(n.Specialty))
		weightBuilder.Append(n.Weight)
		reliabilityBuilder.Append(n.Reliability)
		if n.LastUsedAt != nil {
			lastUsedBuilder.Append(float64(n.LastUsedAt.UnixNano()) / float64(time.Second))
		} else {
			lastUsedBuilder.AppendNull()
		}
	}

	return builder.NewRecord(), nil
}

// RecordToNodes decodes a node stats record.
func (c *Converter) RecordToNodes(record arrow.Record) ([]consensus.EvaluatorNode, error) {
	if err := ValidateSchema(record, NodeStatsSchema()); err != nil {
		return nil, err
	}

	idCol := record.Column(0).(*array.String)
	nameCol := record.Column(1).(*array.String)
	specialtyCol := record.Column(2).(*array.String)
	weightCol := record.Column(3).(*array.Float64)
	reliabilityCol := record.Column(4).(*array.Float64)
	lastUsedCol := record.Column(5).(*array.Float64)

	nodes := make([]consensus.EvaluatorNode, record.NumRows())
	for i := range nodes {
		nodes[i] = consensus.EvaluatorNode{
			ID:          idCol.Value(i),
			Name:        nameCol.Value(i),
			Specialty:   consensus.Specialty(specialtyCol.Value(i)),
			Weight:      weightCol.Value(i),
			Reliability: reliabilityCol.Value(i),
		}
		if !lastUsedCol.IsNull(i) {
			ts := lastUsedCol.Value(i)
			t := time.Unix(0, int64(ts*float64(time.Second))).UTC()
			nodes[i].LastUsedAt = &t
		}
	}

	return nodes, nil
}

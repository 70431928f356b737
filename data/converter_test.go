package data

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
)

func TestRequestsRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	converter := NewConverterWithAllocator(mem)

	rows := []RequestRow{
		{
			RequestID: "r1",
			Request: consensus.ConsensusRequest{
				Type:               consensus.RequestGenerate,
				Payload:            []byte("a lighthouse at dusk"),
				RequiredConfidence: 0.6,
				MaxNodes:           3,
				TimeoutMs:          1500,
			},
		},
		{
			RequestID: "r2",
			Request: consensus.ConsensusRequest{
				Type:      consensus.RequestValidate,
				MaxNodes:  1,
				TimeoutMs: 10,
			},
		},
	}

	record, err := converter.RequestsToRecord(rows)
	if err != nil {
		t.Fatalf("Failed to convert to Arrow: %v", err)
	}

	if record.NumRows() != 2 {
		t.Errorf("Expected 2 rows, got %d", record.NumRows())
	}

	decoded, err := converter.RecordToRequests(record)
	record.Release()
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if len(decoded) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(decoded))
	}
	if decoded[0].RequestID != "r1" || decoded[0].Request.Type != consensus.RequestGenerate {
		t.Errorf("Unexpected first row: %+v", decoded[0])
	}
	if !bytes.Equal(decoded[0].Request.Payload, []byte("a lighthouse at dusk")) {
		t.Errorf("Payload mismatch: %q", decoded[0].Request.Payload)
	}
	if decoded[0].Request.MaxNodes != 3 || decoded[0].Request.TimeoutMs != 1500 {
		t.Errorf("Limits mismatch: %+v", decoded[0].Request)
	}
	if decoded[1].Request.Payload != nil {
		t.Errorf("Expected nil payload, got %q", decoded[1].Request.Payload)
	}
}

func TestResultsRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	converter := NewConverterWithAllocator(mem)

	result := &consensus.ConsensusResult{
		RoundID:                "round-1",
		Fingerprint:            "abcd",
		FinalResult:            []byte("answer"),
		FinalNodeID:            "n2",
		Confidence:             0.84,
		AgreementScore:         1.0,
		AgreementLevel:         consensus.AgreementHigh,
		QualityScore:           0.9,
		ParticipatingNodeCount: 2,
		PerNodeResponses: []consensus.NodeResponse{
			{NodeID: "n1", Confidence: 0.8},
			{NodeID: "n2", Confidence: 0.88},
		},
		Explanation: "2 nodes participated",
		Satisfied:   true,
		Timing:      consensus.Timing{DurationMs: 42},
	}

	record, err := converter.ResultsToRecord([]ResultRow{
		{RequestID: "r1", Result: result},
		{RequestID: "r2", Error: "consensus unavailable"},
	})
	if err != nil {
		t.Fatalf("Failed to convert to Arrow: %v", err)
	}

	decoded, err := converter.RecordToResults(record)
	record.Release()
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if len(decoded) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(decoded))
	}

	got := decoded[0].Result
	if got == nil || decoded[0].Error != "" {
		t.Fatalf("Expected result row, got %+v", decoded[0])
	}
	if got.RoundID != "round-1" || got.FinalNodeID != "n2" || !got.Satisfied {
		t.Errorf("Unexpected result: %+v", got)
	}
	if !bytes.Equal(got.FinalResult, []byte("answer")) {
		t.Errorf("FinalResult mismatch: %q", got.FinalResult)
	}
	if got.Timing.DurationMs != 42 || got.ParticipatingNodeCount != 2 {
		t.Errorf("Timing or count mismatch: %+v", got)
	}
	if len(got.PerNodeResponses) != 2 || got.PerNodeResponses[1].NodeID != "n2" ||
		got.PerNodeResponses[1].Confidence != 0.88 {
		t.Errorf("Node confidences mismatch: %+v", got.PerNodeResponses)
	}

	if decoded[1].Result != nil || decoded[1].Error != "consensus unavailable" {
		t.Errorf("Expected error row, got %+v", decoded[1])
	}
}

func TestNodesRoundTrip(t *testing.T) {
	converter := NewConverter()
	used := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	record, err := converter.NodesToRecord([]consensus.EvaluatorNode{
		{ID: "a", Name: "Alpha", Specialty: consensus.SpecialtyCreative, Weight: 1.2, Reliability: 0.95, LastUsedAt: &used},
		{ID: "b", Name: "Beta", Specialty: consensus.SpecialtyTechnical, Weight: 1.0, Reliability: 0.5},
	})
	if err != nil {
		t.Fatalf("Failed to convert to Arrow: %v", err)
	}
	defer record.Release()

	nodes, err := converter.RecordToNodes(record)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if nodes[0].LastUsedAt == nil || !nodes[0].LastUsedAt.Equal(used) {
		t.Errorf("LastUsedAt mismatch: %v", nodes[0].LastUsedAt)
	}
	if nodes[1].LastUsedAt != nil {
		t.Errorf("Expected nil LastUsedAt, got %v", nodes[1].LastUsedAt)
	}
	if nodes[0].Specialty != consensus.SpecialtyCreative || nodes[0].Weight != 1.2 {
		t.Errorf("Unexpected node: %+v", nodes[0])
	}
}

func TestConverterEmptyBatch(t *testing.T) {
	converter := NewConverter()

	if _, err := converter.RequestsToRecord(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("Expected ErrEmptyBatch, got %v", err)
	}
	if _, err := converter.ResultsToRecord(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("Expected ErrEmptyBatch, got %v", err)
	}
	if _, err := converter.NodesToRecord(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("Expected ErrEmptyBatch, got %v", err)
	}
}

func TestJSONToRequestRecord(t *testing.T) {
	converter := NewConverter()

	record, err := converter.JSONToRequestRecord([]byte(
		`[{"request_id":"j1","type":"analyze","payload":"check this","required_confidence":0.5,"max_nodes":2,"timeout_ms":500}]`))
	if err != nil {
		t.Fatalf("Failed to convert JSON: %v", err)
	}
	defer record.Release()

	rows, err := converter.RecordToRequests(record)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if rows[0].Request.Type != consensus.RequestAnalyze || string(rows[0].Request.Payload) != "check this" {
		t.Errorf("Unexpected row: %+v", rows[0])
	}

	if _, err := converter.JSONToRequestRecord([]byte(`{`)); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

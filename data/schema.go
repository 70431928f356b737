package data

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// ConsensusRequestSchema returns the Arrow schema for a batch of requests.
//
// Fields:
//   - request_id: string - Client-chosen correlation key, echoed on the result row
//   - type: string - generate, analyze, enhance or validate
//   - payload: binary (nullable) - Opaque task payload
//   - required_confidence: float64 - Threshold in [0,1]
//   - max_nodes: int64 - Maximum nodes to consult
//   - timeout_ms: int64 - Per-node deadline
func ConsensusRequestSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "request_id", Type: arrow.BinaryTypes.String},
			{Name: "type", Type: arrow.BinaryTypes.String},
			{Name: "payload", Type: arrow.BinaryTypes.Binary, Nullable: true},
			{Name: "required_confidence", Type: arrow.PrimitiveTypes.Float64},
			{Name: "max_nodes", Type: arrow.PrimitiveTypes.Int64},
			{Name: "timeout_ms", Type: arrow.PrimitiveTypes.Int64},
		},
		nil,
	)
}

// ConsensusResultSchema returns the Arrow schema for a batch of results.
// A row with a non-null error carries zero values in the result columns.
//
// Fields:
//   - request_id: string - Correlation key from the request row
//   - round_id: string (nullable)
//   - fingerprint: string (nullable)
//   - final_result: binary (nullable)
//   - final_node_id: string (nullable)
//   - confidence, agreement_score, quality_score: float64
//   - agreement_level: string (nullable) - high, medium or low
//   - participating_nodes: int64
//   - explanation: string (nullable)
//   - fallback, satisfied: bool
//   - duration_ms: int64
//   - node_confidences: map<string, float64> (nullable) - Normalized confidence per responding node
//   - error: string (nullable) - Set when the round was rejected or unavailable
func ConsensusResultSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "request_id", Type: arrow.BinaryTypes.String},
			{Name: "round_id", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "fingerprint", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "final_result", Type: arrow.BinaryTypes.Binary, Nullable: true},
			{Name: "final_node_id", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "confidence", Type: arrow.PrimitiveTypes.Float64},
			{Name: "agreement_score", Type: arrow.PrimitiveTypes.Float64},
			{Name: "agreement_level", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "quality_score", Type: arrow.PrimitiveTypes.Float64},
			{Name: "participating_nodes", Type: arrow.PrimitiveTypes.Int64},
			{Name: "explanation", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "fallback", Type: arrow.FixedWidthTypes.Boolean},
			{Name: "satisfied", Type: arrow.FixedWidthTypes.Boolean},
			{Name: "duration_ms", Type: arrow.PrimitiveTypes.Int64},
			{
				Name: "node_confidences",
				Type: arrow.MapOf(
					arrow.BinaryTypes.String,
					arrow.PrimitiveTypes.Float64,
				),
				Nullable: true,
			},
			{Name: "error", Type: arrow.BinaryTypes.String, Nullable: true},
		},
		nil,
	)
}

// NodeStatsSchema returns the Arrow schema for a registry snapshot.
//
// Fields:
//   - id, name, specialty: string
//   - weight, reliability: float64
//   - last_used_at: float64 (nullable) - Unix timestamp, null if never used
func NodeStatsSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "id", Type: arrow.BinaryTypes.String},
			{Name: "name", Type: arrow.BinaryTypes.String},
			{Name: "specialty", Type: arrow.BinaryTypes.String},
			{Name: "weight", Type: arrow.PrimitiveTypes.Float64},
			{Name: "reliability", Type: arrow.PrimitiveTypes.Float64},
			{Name: "last_used_at", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		},
		nil,
	)
}

// ValidateSchema checks if a record matches the expected schema.
func ValidateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return ErrNilRecord
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("%w: field count %d, expected %d",
			ErrSchemaMismatch, actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.Field(i)

		if actualField.Name != expectedField.Name {
			return fmt.Errorf("%w: field %d name %s, expected %s",
				ErrSchemaMismatch, i, actualField.Name, expectedField.Name)
		}

		if !arrow.TypeEqual(actualField.Type, expectedField.Type) {
			return fmt.Errorf("%w: field %s type %s, expected %s",
				ErrSchemaMismatch, actualField.Name, actualField.Type, expectedField.Type)
		}
	}

	return nil
}

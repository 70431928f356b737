package data

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
)

func TestConsensusRequestSchema(t *testing.T) {
	schema := ConsensusRequestSchema()

	if schema.NumFields() != 6 {
		t.Errorf("Expected 6 fields, got %d", schema.NumFields())
	}

	expectedFields := []struct {
		name     string
		nullable bool
	}{
		{"request_id", false},
		{"type", false},
		{"payload", true},
		{"required_confidence", false},
		{"max_nodes", false},
		{"timeout_ms", false},
	}

	for i, expected := range expectedFields {
		field := schema.Field(i)
		if field.Name != expected.name {
			t.Errorf("Field %d: expected name %s, got %s", i, expected.name, field.Name)
		}
		if field.Nullable != expected.nullable {
			t.Errorf("Field %s: expected nullable=%v, got %v",
				expected.name, expected.nullable, field.Nullable)
		}
	}
}

func TestConsensusResultSchema(t *testing.T) {
	schema := ConsensusResultSchema()

	if schema.NumFields() != 16 {
		t.Errorf("Expected 16 fields, got %d", schema.NumFields())
	}

	confidences := schema.Field(14)
	if confidences.Name != "node_confidences" {
		t.Errorf("Expected field 14 to be 'node_confidences', got %s", confidences.Name)
	}
	if confidences.Type.ID() != arrow.MAP {
		t.Errorf("Expected 'node_confidences' to be Map type, got %s", confidences.Type.ID())
	}

	if last := schema.Field(15); last.Name != "error" || !last.Nullable {
		t.Errorf("Expected nullable 'error' last, got %s (nullable=%v)", last.Name, last.Nullable)
	}
}

func TestNodeStatsSchema(t *testing.T) {
	schema := NodeStatsSchema()

	expectedNames := []string{"id", "name", "specialty", "weight", "reliability", "last_used_at"}
	if schema.NumFields() != len(expectedNames) {
		t.Fatalf("Expected %d fields, got %d", len(expectedNames), schema.NumFields())
	}
	for i, name := range expectedNames {
		if schema.Field(i).Name != name {
			t.Errorf("Field %d: expected %s, got %s", i, name, schema.Field(i).Name)
		}
	}
}

func TestValidateSchema(t *testing.T) {
	converter := NewConverter()

	record, err := converter.RequestsToRecord([]RequestRow{{RequestID: "r1"}})
	if err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}
	defer record.Release()

	if err := ValidateSchema(record, ConsensusRequestSchema()); err != nil {
		t.Errorf("Validation should pass: %v", err)
	}

	if err := ValidateSchema(record, NodeStatsSchema()); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("Expected ErrSchemaMismatch, got %v", err)
	}

	if err := ValidateSchema(nil, NodeStatsSchema()); !errors.Is(err, ErrNilRecord) {
		t.Errorf("Expected ErrNilRecord, got %v", err)
	}
}

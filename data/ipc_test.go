package data

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func TestIPCRoundTrip(t *testing.T) {
	converter := NewConverter()
	codec := NewIPCCodec()

	record, err := converter.RequestsToRecord([]RequestRow{
		{RequestID: "a"},
		{RequestID: "b"},
	})
	if err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}
	defer record.Release()

	payload, err := codec.Serialize(record)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	decoded, err := codec.Deserialize(payload)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	defer decoded.Release()

	if decoded.NumRows() != 2 {
		t.Errorf("Expected 2 rows, got %d", decoded.NumRows())
	}
	if err := ValidateSchema(decoded, ConsensusRequestSchema()); err != nil {
		t.Errorf("Schema lost in transit: %v", err)
	}
}

func TestIPCMultipleRecords(t *testing.T) {
	converter := NewConverter()
	codec := NewIPCCodec()

	first, err := converter.RequestsToRecord([]RequestRow{{RequestID: "a"}})
	if err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}
	defer first.Release()
	second, err := converter.RequestsToRecord([]RequestRow{{RequestID: "b"}, {RequestID: "c"}})
	if err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}
	defer second.Release()

	payload, err := codec.SerializeAll([]arrow.Record{first, second})
	if err != nil {
		t.Fatalf("SerializeAll failed: %v", err)
	}

	records, err := codec.DeserializeAll(payload)
	if err != nil {
		t.Fatalf("DeserializeAll failed: %v", err)
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[1].NumRows() != 2 {
		t.Errorf("Expected 2 rows in second record, got %d", records[1].NumRows())
	}
}

func TestIPCErrors(t *testing.T) {
	codec := NewIPCCodec()

	if _, err := codec.Serialize(nil); !errors.Is(err, ErrNilRecord) {
		t.Errorf("Expected ErrNilRecord, got %v", err)
	}
	if _, err := codec.SerializeAll(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("Expected ErrEmptyBatch, got %v", err)
	}
	garbage := []byte{0xff, 0xff, 0xff, 0xff, 0x08, 0x00, 0x00, 0x00, 1, 2, 3, 4, 5, 6, 7, 8}
	if _, err := codec.Deserialize(garbage); err == nil {
		t.Error("Expected error for garbage input")
	}
}

// A stream cut inside its second message returns nothing and leaks nothing.
func TestDeserializeAllReleasesOnError(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	record, err := NewConverterWithAllocator(mem).RequestsToRecord([]RequestRow{{RequestID: "a"}})
	if err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}
	defer record.Release()

	codec := NewIPCCodecWithAllocator(mem)
	single, err := codec.Serialize(record)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	double, err := codec.SerializeAll([]arrow.Record{record, record})
	if err != nil {
		t.Fatalf("SerializeAll failed: %v", err)
	}

	// The second record message starts where the single stream's 8-byte
	// end-of-stream marker starts. Keep its continuation marker and half of
	// its length prefix.
	cut := len(single) - 8 + 6
	records, err := codec.DeserializeAll(double[:cut])
	if err == nil {
		releaseAll(records)
		t.Fatal("Expected error for truncated stream")
	}
	if records != nil {
		t.Errorf("Expected no records on error, got %d", len(records))
	}
}

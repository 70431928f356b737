package data

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var (
	// ErrNoRecords is returned when an IPC stream carries no record batch.
	ErrNoRecords = errors.New("no records in IPC data")
	// ErrMalformedIPC is returned when the IPC reader cannot parse its input.
	ErrMalformedIPC = errors.New("malformed IPC data")
)

// IPCCodec serializes Arrow records to and from the IPC stream format.
type IPCCodec struct {
	allocator memory.Allocator
}

// NewIPCCodec creates a codec with the default allocator.
func NewIPCCodec() *IPCCodec {
	return &IPCCodec{allocator: memory.DefaultAllocator}
}

// NewIPCCodecWithAllocator creates a codec with a custom allocator.
func NewIPCCodecWithAllocator(allocator memory.Allocator) *IPCCodec {
	return &IPCCodec{allocator: allocator}
}

// Serialize writes one record to IPC bytes.
func (c *IPCCodec) Serialize(record arrow.Record) ([]byte, error) {
	if record == nil {
		return nil, ErrNilRecord
	}
	return c.SerializeAll([]arrow.Record{record})
}

// SerializeAll writes records sharing one schema to a single IPC stream.
func (c *IPCCodec) SerializeAll(records []arrow.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf,
		ipc.WithSchema(records[0].Schema()),
		ipc.WithAllocator(c.allocator),
	)
	defer writer.Close()

	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Deserialize reads the first record of an IPC stream. The caller owns the
// returned record and must Release it.
func (c *IPCCodec) Deserialize(data []byte) (record arrow.Record, err error) {
	defer recoverMalformed(&err)

	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, ErrNoRecords
	}

	record = reader.Record()
	record.Retain()

	return record, nil
}

// DeserializeAll reads every record of an IPC stream. On error no record is
// returned and every record read so far has been released.
func (c *IPCCodec) DeserializeAll(data []byte) (records []arrow.Record, err error) {
	// Runs after recoverMalformed so a panic mid-stream also releases.
	defer func() {
		if err != nil {
			releaseAll(records)
			records = nil
		}
	}()
	defer recoverMalformed(&err)

	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	for reader.Next() {
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}

	return records, reader.Err()
}

func releaseAll(records []arrow.Record) {
	for _, r := range records {
		r.Release()
	}
}

// recoverMalformed turns a panic from the IPC reader on corrupt input into
// ErrMalformedIPC.
func recoverMalformed(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrMalformedIPC, r)
	}
}

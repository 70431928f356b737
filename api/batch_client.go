package api

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/VanDung-dev/HieraChain-Consensus/data"
)

// BatchClient submits Arrow request batches to a BatchServer. Calls are
// serialized over a single connection.
type BatchClient struct {
	conn      net.Conn
	converter *data.Converter
	codec     *data.IPCCodec
	mu        sync.Mutex
}

// DialBatch connects to a batch server. A non-empty token triggers the auth
// handshake; ErrAuthFailed is returned when the server rejects it.
func DialBatch(address, token string, timeout time.Duration) (*BatchClient, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	c := &BatchClient{
		conn:      conn,
		converter: data.NewConverter(),
		codec:     data.NewIPCCodec(),
	}

	if token != "" {
		if err := Handshake(conn, token); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return c, nil
}

// Submit sends one batch and waits for its results, in request order.
func (c *BatchClient) Submit(rows []data.RequestRow) ([]data.ResultRow, error) {
	record, err := c.converter.RequestsToRecord(rows)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	frame, err := c.codec.Serialize(record)
	if err != nil {
		return nil, err
	}

	reply, err := c.roundTrip(frame)
	if err != nil {
		return nil, err
	}

	return c.decode(reply)
}

// SubmitRaw sends an already encoded frame and returns the raw reply.
func (c *BatchClient) SubmitRaw(frame []byte) ([]byte, error) {
	return c.roundTrip(frame)
}

func (c *BatchClient) roundTrip(frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WriteMessage(c.conn, frame); err != nil {
		return nil, err
	}
	return ReadMessage(c.conn)
}

func (c *BatchClient) decode(reply []byte) ([]data.ResultRow, error) {
	record, err := c.codec.Deserialize(reply)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	results, err := c.converter.RecordToResults(record)
	if err != nil {
		return nil, err
	}

	// A single row without request ID is a frame-level rejection.
	if len(results) == 1 && results[0].RequestID == "" && results[0].Error != "" {
		return nil, fmt.Errorf("batch rejected: %s", results[0].Error)
	}
	return results, nil
}

// DecodeResults decodes a raw reply frame.
func (c *BatchClient) DecodeResults(reply []byte) ([]data.ResultRow, error) {
	return c.decode(reply)
}

// Close closes the connection.
func (c *BatchClient) Close() error {
	return c.conn.Close()
}

// Package network runs consensus task executors behind ZeroMQ sockets.
//
// This package implements:
//   - Worker: ROUTER socket serving a local consensus.TaskExecutor
//   - RemoteExecutor: consensus.TaskExecutor that forwards calls to workers
//     over per-endpoint DEALER sockets
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
)

// MaxNetworkMessageSize is the maximum size of a single exec frame (10MB).
const MaxNetworkMessageSize = 10 * 1024 * 1024

// Common errors for network operations
var (
	ErrNotRunning      = errors.New("worker is not running")
	ErrAlreadyRunning  = errors.New("worker already running")
	ErrClosed          = errors.New("executor is closed")
	ErrNoEndpoint      = errors.New("no endpoint for node")
	ErrSendFailed      = errors.New("failed to send message")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrRemote          = errors.New("remote executor failed")
)

// ExecRequest asks a worker to run one executor call.
type ExecRequest struct {
	ID        string         `json:"id"`
	Call      consensus.Call `json:"call"`
	TimeoutMs int64          `json:"timeout_ms,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ExecReply is the worker's answer to an ExecRequest with the same ID.
type ExecReply struct {
	ID     string               `json:"id"`
	Result *consensus.RawResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > MaxNetworkMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	return data, nil
}

func decode(data []byte, v interface{}) error {
	if len(data) > MaxNetworkMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	return json.Unmarshal(data, v)
}

// recvRetryDelay spaces out receive attempts after a socket error.
const recvRetryDelay = 50 * time.Millisecond

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

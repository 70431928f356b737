package consensus

import "context"

// FallbackNodeID identifies the degraded single call in a result.
const FallbackNodeID = "fallback"

// Call is one invocation of the external task executor.
// NodeID is FallbackNodeID for the fallback call.
type Call struct {
	NodeID    string      `json:"node_id"`
	Specialty Specialty   `json:"specialty,omitempty"`
	Type      RequestType `json:"type"`
	Payload   []byte      `json:"payload"`
}

// RawResult is what the executor returns for a call.
type RawResult struct {
	Output []byte `json:"output"`
	// Score is the optional self-reported quality in [0,1]; nil when absent.
	Score     *float64          `json:"score,omitempty"`
	Reasoning string            `json:"reasoning,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TaskExecutor performs the work a node is asked to do.
// Implementations should honor ctx but are not required to.
type TaskExecutor interface {
	Execute(ctx context.Context, call Call) (*RawResult, error)
}

// ExecutorFunc adapts a function to TaskExecutor.
type ExecutorFunc func(ctx context.Context, call Call) (*RawResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, call Call) (*RawResult, error) {
	return f(ctx, call)
}

// Score returns a pointer to v, for building RawResult literals.
func Score(v float64) *float64 {
	return &v
}

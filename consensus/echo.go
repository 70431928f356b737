package consensus

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// EchoExecutor is a deterministic executor that answers with the payload it
// receives. Its self-reported score is derived from a hash of the node ID and
// payload, in [MinScore, MinScore+Spread).
type EchoExecutor struct {
	MinScore float64
	Spread   float64
}

// NewEchoExecutor returns an EchoExecutor scoring in [0.6, 0.95).
func NewEchoExecutor() *EchoExecutor {
	return &EchoExecutor{MinScore: 0.6, Spread: 0.35}
}

// Execute echoes call.Payload.
func (e *EchoExecutor) Execute(ctx context.Context, call Call) (*RawResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := xxhash.Sum64String(call.NodeID + "\x00" + string(call.Payload))
	score := e.MinScore + e.Spread*float64(h%1000)/1000

	return &RawResult{
		Output:    append([]byte(nil), call.Payload...),
		Score:     Score(score),
		Reasoning: fmt.Sprintf("echo from %s", call.NodeID),
		Metadata: map[string]string{
			"executor": "echo",
		},
	}, nil
}

package consensus

import "errors"

// Common errors for consensus rounds
var (
	ErrInvalidRequest       = errors.New("invalid consensus request")
	ErrNoNodesAvailable     = errors.New("no nodes available")
	ErrNodeTimeout          = errors.New("node timed out")
	ErrNodeFailed           = errors.New("node call failed")
	ErrNoConsensusReached   = errors.New("no consensus reached")
	ErrConsensusUnavailable = errors.New("consensus unavailable")
	ErrInvalidNode          = errors.New("invalid node seed")
)

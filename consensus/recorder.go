package consensus

import "time"

// Round outcomes reported to a Recorder.
const (
	OutcomeConsensus   = "consensus"
	OutcomeFallback    = "fallback"
	OutcomeUnavailable = "unavailable"
	OutcomeInvalid     = "invalid"
	OutcomeCancelled   = "cancelled"
)

// Node call outcomes reported to a Recorder.
const (
	CallOK      = "ok"
	CallError   = "error"
	CallTimeout = "timeout"
)

// Recorder receives engine observations, typically for metrics export.
type Recorder interface {
	RecordRound(outcome string, participants int, confidence float64, duration time.Duration)
	RecordNodeCall(nodeID, outcome string, duration time.Duration)
	SetReliability(nodeID string, reliability float64)
}

type noopRecorder struct{}

func (noopRecorder) RecordRound(string, int, float64, time.Duration) {}
func (noopRecorder) RecordNodeCall(string, string, time.Duration)    {}
func (noopRecorder) SetReliability(string, float64)                  {}

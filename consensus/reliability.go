package consensus

import "time"

// ReliabilityUpdater nudges each participating node's reliability toward how
// well it tracked the round's consensus.
type ReliabilityUpdater struct {
	AdjustmentRate float64
	Disabled       bool
}

// NewReliabilityUpdater creates an updater from cfg.
func NewReliabilityUpdater(cfg Config) *ReliabilityUpdater {
	return &ReliabilityUpdater{
		AdjustmentRate: cfg.AdjustmentRate,
		Disabled:       cfg.DisableReliabilityUpdates,
	}
}

// Delta returns the reliability change for a response of the given
// confidence in a round with the given agreement score.
func (u *ReliabilityUpdater) Delta(confidence, agreementScore float64) float64 {
	alignment := confidence * agreementScore
	return (alignment - 0.5) * u.AdjustmentRate
}

// Updates builds the registry updates for a completed round. Every
// participant is marked used at usedAt; deltas are zero when disabled.
func (u *ReliabilityUpdater) Updates(result *ConsensusResult, usedAt time.Time) []NodeUpdate {
	updates := make([]NodeUpdate, 0, len(result.PerNodeResponses))
	for _, resp := range result.PerNodeResponses {
		update := NodeUpdate{NodeID: resp.NodeID, UsedAt: usedAt}
		if !u.Disabled {
			update.ReliabilityDelta = u.Delta(resp.Confidence, result.AgreementScore)
		}
		updates = append(updates, update)
	}
	return updates
}

// Package consensus implements weighted multi-node consensus rounds.
//
// This package implements:
//   - Registry of evaluator nodes and their mutable reliability
//   - Node selection by reliability, weight, specialty and recency
//   - Parallel dispatch with per-node timeouts and a partial-failure join
//   - Response aggregation into a single scored result
//   - Reliability updates, a one-shot fallback path, and a bounded history
package consensus

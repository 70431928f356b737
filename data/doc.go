// Package data converts consensus requests, results and node snapshots to
// and from Apache Arrow records, and serializes them with Arrow IPC for the
// batch endpoint. Batch clients and the batch server exchange records built
// from these schemas, so field order and types MUST stay stable.
package data

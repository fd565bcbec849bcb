// Package store keeps what the ingestion endpoint has received: per event
// identifier counters with TTL eviction, a bounded list of recent batches,
// and optional SQLite batch history.
//
// Batch ids seen within the TTL are reported as redeliveries and do not bump
// the counters again, so an agent retrying after a lost response is counted
// once.
package store

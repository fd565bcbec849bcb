// Package dispatch runs the background loop that moves recorded events from
// the in-memory buffer to the ingestion endpoint.
//
// Loop.Record is the producer entry point: it appends to the buffer and
// returns immediately. Once Start is called, a single goroutine wakes every
// ProcessInterval, drains the buffer, encodes the drained identifiers as a
// JSON array and hands the batch to its own delivery goroutine, so a batch
// stuck in backoff never delays the next drain.
//
// Delivery retries a failed send with the fixed schedule
//
//	delay(attempt) = 2^attempt * 1s + DeltaBackoff
//
// for at most MaxRetries retries, then drops the batch. Nothing is reported
// to the producer: telemetry loss is acceptable, blocking the host is not.
//
// Stop only clears the running flag. The loop notices it after its current
// sleep; in-flight deliveries continue. Close additionally sends whatever
// is left in the buffer and waits for in-flight deliveries, abandoning
// their backoff sleeps if its context expires.
package dispatch

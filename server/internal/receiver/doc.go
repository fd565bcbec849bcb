// Package receiver accepts batches from agents on two paths:
//
//   - HTTP: POST /ingest (or any path the server mounts it on) with the JSON
//     array payload as body, optionally gzip encoded. Answers the configured
//     accept status (201 by default), 400 for a body that is not a non-empty
//     JSON array of strings, 405 for other methods.
//   - gRPC: ingest.IngestServer; a malformed payload is codes.InvalidArgument.
//
// Batch id and device name come from the X-Batch-Id / X-Device-Name headers
// (lowercase metadata on gRPC). Authentication is enforced upstream by the
// auth interceptor and middleware, so the receiver only validates structure.
//
// Accepted batches go to the in-memory store and, when configured, the
// SQLite history. A history write failure is logged and does not fail the
// request: the batch is already counted.
package receiver

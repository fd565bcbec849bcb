// Package transport delivers encoded batches to an ingestion endpoint.
//
// Every implementation satisfies Transport: Send returns nil only when the
// endpoint accepted the batch, and any other outcome (non-accept status,
// connection error, timeout) is an error the dispatch loop retries. There is
// no retryable/non-retryable distinction.
//
// Implemented transports: HTTP (http.go, also used for Azure Event Hubs with
// SAS auth), gRPC IngestService (grpc.go), Redis stream or list (redis.go),
// and a log-only fallback (log.go). Factory: New(config.TransportConfig).
//
// Authentication headers (SAS, API key, bearer, JWT) are produced by the
// shared credential helper in auth.go and applied per request.
package transport

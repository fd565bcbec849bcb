// Package api implements the HTTP REST API of the ingestion server.
//
// New(store, agents, history, alerts) returns an http.Handler that serves:
//
//	GET /api/v1/health        overall state, counters, totals, agents up, alerts firing
//	GET /api/v1/events        live event counters, highest count first
//	GET /api/v1/events/{id}   a single counter; 404 if unknown or stale
//	GET /api/v1/batches       recent batches; ?source=history&device=&since=&limit=
//	GET /api/v1/agents        latest agent scrapes with diagnostic hints
//	GET /api/v1/alerts        firing alerts and those resolved in the last hour
//	GET /api/v1/snapshot      live counters + totals + generated_at
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. JSON types are defined in types.go.
package api

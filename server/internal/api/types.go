package api

import (
	"github.com/obsidianstack/eventhub/server/internal/scraper"
	"github.com/obsidianstack/eventhub/server/internal/store"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is "ok", "degraded" (an agent is down or abandoning batches, or
	// an alert is firing) or "idle" (nothing received within the TTL).
	State        string       `json:"state"`
	EventCount   int          `json:"event_count"`
	Totals       store.Totals `json:"totals"`
	AgentCount   int          `json:"agent_count"`
	AgentsUp     int          `json:"agents_up"`
	AlertsFiring int          `json:"alerts_firing"`
	HistoryOn    bool         `json:"history_enabled"`
	GeneratedAt  string       `json:"generated_at"` // RFC3339
}

// EventResponse is one counter in GET /api/v1/events or /api/v1/events/{id}.
type EventResponse struct {
	EventID   string `json:"event_id"`
	Count     int64  `json:"count"`
	FirstSeen string `json:"first_seen"` // RFC3339
	LastSeen  string `json:"last_seen"`  // RFC3339
}

// BatchResponse is one batch in GET /api/v1/batches.
type BatchResponse struct {
	ID         string   `json:"id"`
	Device     string   `json:"device"`
	Events     []string `json:"events"`
	Size       int      `json:"size"`
	Duplicate  bool     `json:"duplicate"`
	ReceivedAt string   `json:"received_at"` // RFC3339
}

// AgentResponse is one agent in GET /api/v1/agents.
type AgentResponse struct {
	scraper.AgentStats
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every WebSocket broadcast.
type SnapshotResponse struct {
	Events      []EventResponse `json:"events"`
	Totals      store.Totals    `json:"totals"`
	GeneratedAt string          `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/eventhub/server/internal/alerts"
	"github.com/obsidianstack/eventhub/server/internal/scraper"
	"github.com/obsidianstack/eventhub/server/internal/store"
)

const (
	defaultBatchLimit = 50
	maxBatchLimit     = 1000
)

// AgentLister reports the latest agent scrapes.
type AgentLister interface {
	List() []scraper.AgentStats
}

// AlertLister reports firing and recently resolved alerts.
type AlertLister interface {
	Active() []alerts.Alert
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store   *store.Store
	agents  AgentLister
	history *store.History
	alerts  AlertLister
	mux     *http.ServeMux
}

// New creates a Handler and registers all routes. agents, history and al may
// be nil.
func New(st *store.Store, agents AgentLister, history *store.History, al AlertLister) http.Handler {
	h := &Handler{store: st, agents: agents, history: history, alerts: al, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/events", h.listEvents)
	h.mux.HandleFunc("/api/v1/events/", h.getEvent) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/batches", h.batches)
	h.mux.HandleFunc("/api/v1/agents", h.listAgents)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{
		EventCount:  len(h.store.List()),
		Totals:      h.store.Totals(),
		HistoryOn:   h.history != nil,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		State:       "ok",
	}
	if resp.EventCount == 0 {
		resp.State = "idle"
	}
	for _, a := range h.agentStats() {
		resp.AgentCount++
		if a.Up {
			resp.AgentsUp++
		}
		if degraded(a) {
			resp.State = "degraded"
		}
	}
	for _, a := range h.activeAlerts() {
		if a.State == "firing" {
			resp.AlertsFiring++
		}
	}
	if resp.AlertsFiring > 0 {
		resp.State = "degraded"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listEvents returns GET /api/v1/events: live counters, highest first.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, toEventResponses(h.store.List()))
}

// getEvent returns GET /api/v1/events/{id}: a single live counter.
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/events/")
	if id == "" {
		h.listEvents(w, r)
		return
	}

	e, ok := h.store.Get(id)
	// Stale entries not yet evicted are treated as not found.
	if !ok || time.Since(e.UpdatedAt) > h.store.TTL() {
		jsonErr(w, http.StatusNotFound, "event not found")
		return
	}
	jsonResp(w, http.StatusOK, toEventResponse(e))
}

// batches returns GET /api/v1/batches: recent batches, newest first.
//
// Query parameters: limit (default 50); source=history reads the SQLite log
// and then also honours device and since (RFC3339).
func (h *Handler) batches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()

	limit := defaultBatchLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxBatchLimit)
	}

	if q.Get("source") != "history" {
		jsonResp(w, http.StatusOK, toBatchResponses(h.store.Recent(limit)))
		return
	}

	if h.history == nil {
		jsonErr(w, http.StatusNotFound, "history storage is not enabled")
		return
	}
	var since time.Time
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}
	rows, err := h.history.Query(r.Context(), q.Get("device"), since, limit)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, toBatchResponses(rows))
}

// listAgents returns GET /api/v1/agents: latest scrape and hints per agent.
func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats := h.agentStats()
	out := make([]AgentResponse, 0, len(stats))
	for _, a := range stats {
		out = append(out, AgentResponse{AgentStats: a, Diagnostics: computeDiagnostics(a)})
	}
	jsonResp(w, http.StatusOK, out)
}

// listAlerts returns GET /api/v1/alerts: firing alerts and those resolved
// within the last hour, newest first.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := h.activeAlerts()
	if out == nil {
		out = []alerts.Alert{}
	}
	jsonResp(w, http.StatusOK, out)
}

// snapshot returns GET /api/v1/snapshot: live counters plus totals.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store))
}

// --- helpers ----------------------------------------------------------------

// BuildSnapshot assembles the SnapshotResponse from the live store.
// Shared by the snapshot endpoint and the WebSocket hub.
func BuildSnapshot(st *store.Store) SnapshotResponse {
	return SnapshotResponse{
		Events:      toEventResponses(st.List()),
		Totals:      st.Totals(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func (h *Handler) agentStats() []scraper.AgentStats {
	if h.agents == nil {
		return nil
	}
	return h.agents.List()
}

func (h *Handler) activeAlerts() []alerts.Alert {
	if h.alerts == nil {
		return nil
	}
	return h.alerts.Active()
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toEventResponse(e store.Entry) EventResponse {
	return EventResponse{
		EventID:   e.EventID,
		Count:     e.Count,
		FirstSeen: e.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:  e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toEventResponses(entries []store.Entry) []EventResponse {
	out := make([]EventResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEventResponse(e))
	}
	return out
}

func toBatchResponses(batches []store.Batch) []BatchResponse {
	out := make([]BatchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, BatchResponse{
			ID:         b.ID,
			Device:     b.Device,
			Events:     b.Events,
			Size:       len(b.Events),
			Duplicate:  b.Duplicate,
			ReceivedAt: b.ReceivedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// Package intake serves the producer interface over local HTTP so that an
// application in another process can record events and trigger flushes.
//
// Routes:
//
//	POST /v1/events  {"event":"x"} | {"events":["x","y"]} | text/plain lines
//	POST /v1/flush   dispatch the buffer now
//	GET  /v1/status  loop state and counters
//	GET  /healthz    liveness
package intake

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/obsidianstack/eventhub/agent/internal/dispatch"
)

const maxBody = 1 << 20

var (
	errBadBody    = errors.New("request body is not valid")
	errNoEvents   = errors.New("no events in request")
	errEmptyEvent = errors.New("event identifier must not be empty")
)

// Producer is the part of dispatch.Loop the intake API drives.
type Producer interface {
	Record(id string)
	Flush()
	Stats() dispatch.Stats
}

// RequestRecorder counts served requests. It may be nil.
type RequestRecorder interface {
	RecordHTTPRequest(ctx context.Context, route string, status int)
}

// EventsRequest is the JSON body of POST /v1/events.
type EventsRequest struct {
	Event  string   `json:"event,omitempty"`
	Events []string `json:"events,omitempty"`
}

// EventsResponse reports how many identifiers were buffered.
type EventsResponse struct {
	Accepted int `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler is the intake HTTP handler.
type Handler struct {
	producer Producer
	metrics  RequestRecorder
	mux      *http.ServeMux
}

// New creates a Handler for p and registers its routes. metrics may be nil.
func New(p Producer, metrics RequestRecorder) *Handler {
	h := &Handler{producer: p, metrics: metrics, mux: http.NewServeMux()}
	h.mux.HandleFunc("/v1/events", h.events)
	h.mux.HandleFunc("/v1/flush", h.flush)
	h.mux.HandleFunc("/v1/status", h.status)
	h.mux.HandleFunc("/healthz", h.healthz)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	start := time.Now()
	h.mux.ServeHTTP(sw, r)
	if h.metrics != nil {
		h.metrics.RecordHTTPRequest(r.Context(), h.route(r), sw.code)
	}
	slog.Debug("intake: request",
		"method", r.Method, "path", r.URL.Path, "status", sw.code, "duration", time.Since(start))
}

// route returns the registered pattern serving r, or "other" for unmatched
// paths, so the metrics label stays bounded.
func (h *Handler) route(r *http.Request) string {
	if _, pattern := h.mux.Handler(r); pattern != "" {
		return pattern
	}
	return "other"
}

// events handles POST /v1/events.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxBody)
	var ids []string
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		ids, err = readLines(body)
	} else {
		ids, err = readJSON(body)
	}
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, id := range ids {
		h.producer.Record(id)
	}
	jsonResp(w, http.StatusAccepted, EventsResponse{Accepted: len(ids)})
}

// flush handles POST /v1/flush.
func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.producer.Flush()
	jsonResp(w, http.StatusAccepted, h.producer.Stats())
}

// status handles GET /v1/status.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.producer.Stats())
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// --- helpers ----------------------------------------------------------------

func readJSON(r io.Reader) ([]string, error) {
	var req EventsRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errBadBody
	}
	ids := req.Events
	if req.Event != "" {
		ids = append([]string{req.Event}, ids...)
	}
	if len(ids) == 0 {
		return nil, errNoEvents
	}
	for _, id := range ids {
		if id == "" {
			return nil, errEmptyEvent
		}
	}
	return ids, nil
}

// readLines returns each non-blank line, trimmed.
func readLines(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			ids = append(ids, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errBadBody
	}
	if len(ids) == 0 {
		return nil, errNoEvents
	}
	return ids, nil
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

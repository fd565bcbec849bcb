package api

import (
	"fmt"

	"github.com/obsidianstack/eventhub/server/internal/scraper"
)

// DiagnosticHint is one human-readable insight about an agent's delivery.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from the latest scrape of one agent.
// Hints are ordered: critical first, then warnings, then info.
func computeDiagnostics(a scraper.AgentStats) []DiagnosticHint {
	if !a.Up {
		return []DiagnosticHint{{
			Key:   "scrape_failed",
			Level: "critical",
			Title: "Can't reach agent",
			Detail: fmt.Sprintf(
				"The server couldn't read %s. It last got: %q. "+
					"Check that the agent is running with listen_addr set and that the address is reachable.",
				a.URL, a.Error),
		}}
	}

	var hints []DiagnosticHint

	if a.BatchesAbandoned > 0 {
		v := a.BatchesAbandoned
		level := "warning"
		total := a.BatchesDelivered + a.BatchesAbandoned
		if total > 0 && a.BatchesAbandoned/total >= 0.1 {
			level = "critical"
		}
		hints = append(hints, DiagnosticHint{
			Key:   "abandoned",
			Level: level,
			Title: fmt.Sprintf("%.0f batches lost", a.BatchesAbandoned),
			Detail: fmt.Sprintf(
				"%.0f of %.0f batches were dropped after every retry failed. "+
					"The events in them are gone. Look at the agent log for the last send error.",
				a.BatchesAbandoned, total),
			Value: &v,
		})
	}

	if a.InFlight > 0 && a.Retries > 0 {
		v := a.InFlight
		hints = append(hints, DiagnosticHint{
			Key:    "retrying",
			Level:  "warning",
			Title:  fmt.Sprintf("%.0f batches retrying", a.InFlight),
			Detail: "Batches are waiting on backoff. The endpoint is rejecting or timing out right now.",
			Value:  &v,
		})
	}

	if a.Retries > 0 && a.BatchesAbandoned == 0 {
		v := a.Retries
		hints = append(hints, DiagnosticHint{
			Key:    "retries",
			Level:  "info",
			Title:  fmt.Sprintf("%.0f retries", a.Retries),
			Detail: "Some attempts failed but every batch was eventually accepted.",
			Value:  &v,
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "ok",
			Level:  "ok",
			Title:  "Delivering",
			Detail: fmt.Sprintf("%.0f batches delivered with no losses.", a.BatchesDelivered),
		})
	}
	return hints
}

// degraded reports whether the agent needs attention.
func degraded(a scraper.AgentStats) bool {
	return !a.Up || a.BatchesAbandoned > 0
}

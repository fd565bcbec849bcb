package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/obsidianstack/eventhub/server/internal/config"
)

// deliver posts a to every configured webhook. Failures are only logged.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		payload, ok := webhookPayload(wh, a)
		if !ok {
			slog.Warn("alerts: unknown webhook type", "type", wh.Type)
			continue
		}
		if err := e.post(url, payload); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"agent", a.Agent,
				"err", err,
			)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "agent", a.Agent, "state", a.State)
	}
}

// webhookPayload renders a in the body format of wh.Type.
func webhookPayload(wh config.WebhookConfig, a *Alert) (any, bool) {
	switch wh.Type {
	case "slack":
		return map[string]string{"text": summary(a)}, true
	case "teams":
		return map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(a.Severity),
			"summary":    a.RuleName,
			"title":      fmt.Sprintf("Event Hub Alert: %s on %s", a.RuleName, a.Agent),
			"sections": []map[string]any{{
				"facts": []map[string]string{
					{"name": "Agent", "value": a.Agent},
					{"name": "Condition", "value": a.Condition},
					{"name": "Value", "value": fmt.Sprintf("%.2f", a.Value)},
					{"name": "State", "value": a.State},
				},
			}},
			"text": a.Message,
		}, true
	case "pagerduty":
		action := "trigger"
		if a.State == "resolved" {
			action = "resolve"
		}
		return map[string]any{
			"routing_key":  wh.RoutingKey(),
			"event_action": action,
			"dedup_key":    dedupKey(a),
			"payload": map[string]any{
				"summary":  summary(a),
				"source":   a.Agent,
				"severity": pagerDutySeverity(a.Severity),
				"custom_details": map[string]any{
					"rule":      a.RuleName,
					"condition": a.Condition,
					"value":     a.Value,
				},
			},
		}, true
	case "http":
		return map[string]any{"alert": a}, true
	}
	return nil, false
}

// summary is the one-line text used by chat and paging payloads.
func summary(a *Alert) string {
	verb := "firing"
	if a.State == "resolved" {
		verb = "resolved"
	}
	return fmt.Sprintf("%s %s %s on %s: %s (value %.2f)",
		severityLabel(a.Severity), a.RuleName, verb, a.Agent, a.Condition, a.Value)
}

// dedupKey groups the trigger and resolve of one rule on one agent into a
// single PagerDuty incident.
func dedupKey(a *Alert) string {
	return "eventhub:" + a.RuleName + ":" + a.Agent
}

func (e *Engine) post(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

// PagerDuty accepts critical, error, warning and info.
func pagerDutySeverity(s string) string {
	switch s {
	case "critical", "warning":
		return s
	default:
		return "info"
	}
}

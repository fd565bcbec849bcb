package alerts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/obsidianstack/eventhub/server/internal/config"
	"github.com/obsidianstack/eventhub/server/internal/scraper"
)

// newTestEngine returns an engine on a fake clock that records notifications
// instead of posting them.
func newTestEngine(rules ...config.AlertRule) (*Engine, *time.Time, *[]Alert) {
	e := New(config.AlertsConfig{Rules: rules})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	var sent []Alert
	e.notify = func(a *Alert) { sent = append(sent, *a) }
	return e, &now, &sent
}

func agent(name string, delivered, abandoned float64) scraper.AgentStats {
	return scraper.AgentStats{Name: name, Up: true, BatchesDelivered: delivered, BatchesAbandoned: abandoned}
}

func TestParseCondition(t *testing.T) {
	lossy := agent("a", 9, 1)
	tests := []struct {
		cond      string
		wantFires bool
		wantValue float64
	}{
		{"abandoned > 0", true, 1},
		{"abandoned_pct >= 10", true, 10},
		{"abandoned_pct > 10", false, 10},
		{"delivered < 5", false, 9},
		{"up == 1", true, 1},
		{"up != 1", false, 1},
		{"retries <= 0", true, 0},
	}
	for _, tc := range tests {
		c, err := parseCondition(tc.cond)
		if err != nil {
			t.Errorf("%q: %v", tc.cond, err)
			continue
		}
		fires, v := c.eval(lossy)
		if fires != tc.wantFires || v != tc.wantValue {
			t.Errorf("%q: got (%v, %v), want (%v, %v)", tc.cond, fires, v, tc.wantFires, tc.wantValue)
		}
	}

	for _, bad := range []string{"", "abandoned >", "latency > 5", "abandoned ~ 1", "abandoned > lots"} {
		if _, err := parseCondition(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestEvaluate_FireAndResolve(t *testing.T) {
	e, now, sent := newTestEngine(config.AlertRule{Name: "lost", Condition: "abandoned > 0", Severity: "critical"})

	e.Evaluate(agent("hololens", 5, 0))
	if len(*sent) != 0 {
		t.Fatalf("healthy agent fired: %+v", *sent)
	}

	e.Evaluate(agent("hololens", 5, 2))
	if len(*sent) != 1 || (*sent)[0].State != "firing" || (*sent)[0].Severity != "critical" {
		t.Fatalf("after loss: got %+v", *sent)
	}
	if (*sent)[0].Agent != "hololens" || (*sent)[0].Value != 2 {
		t.Errorf("alert: got %+v", (*sent)[0])
	}
	if e.Firing() != 1 {
		t.Errorf("Firing: got %d, want 1", e.Firing())
	}

	// Still failing: no duplicate notification.
	*now = now.Add(time.Minute)
	e.Evaluate(agent("hololens", 5, 3))
	if len(*sent) != 1 {
		t.Errorf("repeat evaluation notified again: %d", len(*sent))
	}

	// A restarted agent reports zero abandoned.
	*now = now.Add(time.Minute)
	e.Evaluate(agent("hololens", 1, 0))
	if len(*sent) != 2 || (*sent)[1].State != "resolved" || (*sent)[1].ResolvedAt == nil {
		t.Fatalf("after recovery: got %+v", *sent)
	}

	active := e.Active()
	if len(active) != 1 || active[0].State != "resolved" {
		t.Errorf("Active: got %+v", active)
	}
	if e.Firing() != 0 {
		t.Errorf("Firing after resolve: got %d", e.Firing())
	}
}

func TestEvaluate_Cooldown(t *testing.T) {
	e, now, sent := newTestEngine(config.AlertRule{Name: "down", Condition: "up == 0", Cooldown: 10 * time.Minute})
	down := scraper.AgentStats{Name: "a"}
	up := scraper.AgentStats{Name: "a", Up: true}

	e.Evaluate(down)
	e.Evaluate(up)
	*now = now.Add(time.Minute)
	e.Evaluate(down)
	if len(*sent) != 2 {
		t.Fatalf("within cooldown: got %d notifications, want 2 (fire, resolve)", len(*sent))
	}
	if (*sent)[0].Severity != "warning" {
		t.Errorf("default severity: got %q", (*sent)[0].Severity)
	}

	*now = now.Add(10 * time.Minute)
	e.Evaluate(down)
	if len(*sent) != 3 || (*sent)[2].State != "firing" {
		t.Errorf("after cooldown: got %+v", *sent)
	}
}

func TestEvaluate_PerAgent(t *testing.T) {
	e, _, sent := newTestEngine(config.AlertRule{Name: "lost", Condition: "abandoned > 0"})
	e.Evaluate(agent("a", 1, 1))
	e.Evaluate(agent("b", 1, 1))
	if len(*sent) != 2 || e.Firing() != 2 {
		t.Errorf("per-agent alerts: sent %d, firing %d", len(*sent), e.Firing())
	}
}

func TestNew_SkipsBadRule(t *testing.T) {
	e := New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "bad", Condition: "nonsense > 1"},
		{Name: "good", Condition: "retries > 10"},
	}})
	if len(e.rules) != 1 || e.rules[0].Name != "good" {
		t.Errorf("rules: got %+v", e.rules)
	}
}

func TestDeliver_Webhooks(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies[r.URL.Path] = string(b)
		mu.Unlock()
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	t.Setenv("TEST_SLACK", srv.URL+"/slack")
	t.Setenv("TEST_TEAMS", srv.URL+"/teams")
	t.Setenv("TEST_HTTP", srv.URL+"/http")
	t.Setenv("TEST_PD", srv.URL+"/pagerduty")
	t.Setenv("TEST_PD_KEY", "routing-123")
	t.Setenv("TEST_FAIL", srv.URL+"/fail")

	e := New(config.AlertsConfig{Webhooks: []config.WebhookConfig{
		{Type: "slack", URLEnv: "TEST_SLACK"},
		{Type: "teams", URLEnv: "TEST_TEAMS"},
		{Type: "http", URLEnv: "TEST_HTTP"},
		{Type: "pagerduty", URLEnv: "TEST_PD", RoutingKeyEnv: "TEST_PD_KEY"},
		{Type: "pagerduty", URLEnv: "TEST_FAIL"},
		{Type: "http", URLEnv: "TEST_UNSET"},
	}})
	e.deliver(&Alert{
		RuleName:  "lost",
		Agent:     "hololens",
		Condition: "lost_batches != 0",
		Severity:  "critical",
		Value:     3,
		Message:   "lost batches",
		State:     "firing",
	})

	mu.Lock()
	defer mu.Unlock()
	for _, path := range []string{"/slack", "/teams", "/pagerduty"} {
		for _, want := range []string{"hololens", "lost_batches != 0", "3.00"} {
			if path == "/pagerduty" && want == "3.00" {
				want = `"value":3`
			}
			if !strings.Contains(bodies[path], want) {
				t.Errorf("%s body: got %s, want it to contain %q", path, bodies[path], want)
			}
		}
	}
	if !strings.Contains(bodies["/slack"], "[CRITICAL]") {
		t.Errorf("slack body: %s", bodies["/slack"])
	}
	if !strings.Contains(bodies["/teams"], "MessageCard") {
		t.Errorf("teams body: %s", bodies["/teams"])
	}
	var generic struct {
		Alert Alert `json:"alert"`
	}
	if err := json.Unmarshal([]byte(bodies["/http"]), &generic); err != nil || generic.Alert.Agent != "hololens" {
		t.Errorf("http body: %s (%v)", bodies["/http"], err)
	}
	if generic.Alert.Condition != "lost_batches != 0" || generic.Alert.Value != 3 {
		t.Errorf("http alert: got %+v", generic.Alert)
	}
	var pd struct {
		RoutingKey  string `json:"routing_key"`
		EventAction string `json:"event_action"`
		DedupKey    string `json:"dedup_key"`
		Payload     struct {
			Source   string `json:"source"`
			Severity string `json:"severity"`
		} `json:"payload"`
	}
	if err := json.Unmarshal([]byte(bodies["/pagerduty"]), &pd); err != nil {
		t.Fatalf("pagerduty body: %s (%v)", bodies["/pagerduty"], err)
	}
	if pd.RoutingKey != "routing-123" || pd.EventAction != "trigger" || pd.DedupKey != "eventhub:lost:hololens" {
		t.Errorf("pagerduty event: got %+v", pd)
	}
	if pd.Payload.Source != "hololens" || pd.Payload.Severity != "critical" {
		t.Errorf("pagerduty payload: got %+v", pd.Payload)
	}
	if _, ok := bodies["/fail"]; !ok {
		t.Error("failing webhook was not called")
	}
}

func TestWebhookPayload_PagerDutyDedupPerAgent(t *testing.T) {
	wh := config.WebhookConfig{Type: "pagerduty"}
	key := func(a *Alert) (string, string) {
		p, ok := webhookPayload(wh, a)
		if !ok {
			t.Fatal("pagerduty payload not rendered")
		}
		m := p.(map[string]any)
		return m["dedup_key"].(string), m["event_action"].(string)
	}

	k1, act1 := key(&Alert{RuleName: "lost", Agent: "a1", State: "firing"})
	k2, _ := key(&Alert{RuleName: "lost", Agent: "a2", State: "firing"})
	k3, act3 := key(&Alert{RuleName: "lost", Agent: "a1", State: "resolved"})

	if k1 == k2 {
		t.Errorf("dedup key shared across agents: %q", k1)
	}
	if k1 != k3 {
		t.Errorf("resolve dedup key: got %q, want %q", k3, k1)
	}
	if act1 != "trigger" || act3 != "resolve" {
		t.Errorf("event actions: got %q/%q, want trigger/resolve", act1, act3)
	}
}

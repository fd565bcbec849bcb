package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/eventhub/server/internal/config"
	"github.com/obsidianstack/eventhub/server/internal/scraper"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert is one firing or resolved rule for one agent.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Agent      string     `json:"agent"`
	Condition  string     `json:"condition"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates rules against agent scrapes and notifies webhooks when a
// rule fires or resolves. Safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time
	notify   func(*Alert)

	mu       sync.Mutex
	active   map[string]*Alert // key: "rule:agent"
	lastFire map[string]time.Time
	history  []*Alert
}

// New compiles the configured rules. Conditions are checked by config
// validation, so a rule that still fails to parse is skipped with a warning.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	e.notify = func(a *Alert) { go e.deliver(a) }
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: rule skipped", "rule", r.Name, "err", err)
			continue
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e
}

// Evaluate tests every rule against one agent scrape.
func (e *Engine) Evaluate(a scraper.AgentStats) {
	now := e.now()
	for _, r := range e.rules {
		key := r.Name + ":" + a.Name
		fires, value := r.cond.eval(a)

		e.mu.Lock()
		var out *Alert
		if fires {
			out = e.fire(r, a.Name, key, value, now)
		} else {
			out = e.resolve(key, now)
		}
		e.mu.Unlock()

		if out != nil {
			e.notify(out)
		}
	}
}

// fire records a new alert unless the rule is already firing or cooling down.
// Callers hold e.mu.
func (e *Engine) fire(r rule, agent, key string, value float64, now time.Time) *Alert {
	if _, ok := e.active[key]; ok {
		return nil
	}
	cooldown := r.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if last, ok := e.lastFire[key]; ok && now.Sub(last) < cooldown {
		return nil
	}
	sev := r.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:        fmt.Sprintf("%s:%s:%d", r.Name, agent, now.UnixNano()),
		RuleName:  r.Name,
		Agent:     agent,
		Condition: r.Condition,
		Severity:  sev,
		Value:     value,
		Message:   fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)", sev, r.Name, agent, r.Condition, value),
		FiredAt:   now,
		State:     "firing",
	}
	e.active[key] = a
	e.lastFire[key] = now
	slog.Warn("alerts: fired", "rule", r.Name, "agent", agent, "value", value, "severity", sev)
	cp := *a
	return &cp
}

// resolve closes an active alert. Callers hold e.mu.
func (e *Engine) resolve(key string, now time.Time) *Alert {
	a, ok := e.active[key]
	if !ok {
		return nil
	}
	delete(e.active, key)
	a.State = "resolved"
	a.ResolvedAt = &now

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	slog.Info("alerts: resolved", "rule", a.RuleName, "agent", a.Agent)
	cp := *a
	return &cp
}

// Active returns firing alerts plus those resolved within the last hour,
// newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Firing returns the number of currently firing alerts.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort       = 50051
	DefaultHTTPPort       = 8080
	DefaultAcceptStatus   = 201
	DefaultEventTTL       = 10 * time.Minute
	DefaultRecentBatches  = 100
	DefaultScrapeInterval = 15 * time.Second
	DefaultStreamInterval = 5 * time.Second
	DefaultHistoryKeep    = 7 * 24 * time.Hour
)

// Config holds the server-side configuration parsed from the `server:` section
// of the config file. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// GRPCPort is the port the gRPC IngestService listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort serves POST /ingest, the REST API and the WebSocket hub (default 8080).
	HTTPPort int `yaml:"http_port"`

	// AcceptStatus is returned for an accepted HTTP batch (default 201).
	AcceptStatus int `yaml:"accept_status"`

	// Auth configures how the server authenticates agents.
	Auth AuthConfig `yaml:"auth"`

	// Events controls in-memory event counter retention.
	Events EventsConfig `yaml:"events"`

	// Storage configures the optional SQLite batch history.
	Storage StorageConfig `yaml:"storage"`

	// Agents lists agent /metrics endpoints to scrape for delivery counters.
	Agents []AgentTarget `yaml:"agents"`

	// ScrapeInterval is how often agent metrics are polled (default 15s).
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// StreamInterval is the WebSocket broadcast period (default 5s).
	StreamInterval time.Duration `yaml:"stream_interval"`

	// Alerts holds rules evaluated on every agent scrape and webhook targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold on an agent's delivery counters.
type AlertRule struct {
	// Name identifies the rule and deduplicates its alerts per agent.
	Name string `yaml:"name"`

	// Condition is "field op value", e.g. "abandoned > 0" or "up == 0".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires after an alert fires. Defaults to 15 minutes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`

	// RoutingKeyEnv names the variable holding the PagerDuty integration key.
	RoutingKeyEnv string `yaml:"routing_key_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// RoutingKey returns the PagerDuty routing key resolved from the environment.
func (w WebhookConfig) RoutingKey() string {
	if w.RoutingKeyEnv == "" {
		return ""
	}
	return os.Getenv(w.RoutingKeyEnv)
}

// AuthConfig controls agent authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | sas | jwt | none.
	Mode string `yaml:"mode"`

	// KeyName is the shared access policy name accepted in sas mode.
	KeyName string `yaml:"key_name"`

	// KeyEnv is the name of the environment variable holding the shared
	// secret (API key, sas policy key or JWT signing key).
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key and HTTP header carrying the API key.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected secret resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// EventsConfig controls in-memory counter retention.
type EventsConfig struct {
	// TTL is how long an event identifier's counter survives without a new
	// occurrence. Batch ids seen within TTL are treated as redeliveries.
	TTL time.Duration `yaml:"ttl"`

	// RecentBatches bounds the in-memory list of recently received batches.
	RecentBatches int `yaml:"recent_batches"`
}

// StorageConfig configures persistent batch history.
type StorageConfig struct {
	// SQLitePath enables history when non-empty.
	SQLitePath string `yaml:"sqlite_path"`

	// Retention deletes history rows older than this (default 7 days).
	Retention time.Duration `yaml:"retention"`
}

// AgentTarget is one agent whose /metrics endpoint is scraped.
type AgentTarget struct {
	Name       string `yaml:"name"`
	MetricsURL string `yaml:"metrics_url"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort:     DefaultGRPCPort,
			HTTPPort:     DefaultHTTPPort,
			AcceptStatus: DefaultAcceptStatus,
			Auth:         AuthConfig{Mode: "none"},
			Events: EventsConfig{
				TTL:           DefaultEventTTL,
				RecentBatches: DefaultRecentBatches,
			},
			Storage:        StorageConfig{Retention: DefaultHistoryKeep},
			ScrapeInterval: DefaultScrapeInterval,
			StreamInterval: DefaultStreamInterval,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.AcceptStatus < 200 || s.AcceptStatus > 299 {
		return fmt.Errorf("server.accept_status %d is not a 2xx status", s.AcceptStatus)
	}
	switch s.Auth.Mode {
	case "apikey", "jwt":
		if s.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth: key_env is required for %s", s.Auth.Mode)
		}
	case "sas":
		if s.Auth.KeyName == "" || s.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth: key_name and key_env are required for sas")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|sas|jwt|none", s.Auth.Mode)
	}
	if s.Events.TTL <= 0 {
		return fmt.Errorf("server.events.ttl must be positive")
	}
	if s.Events.RecentBatches <= 0 {
		return fmt.Errorf("server.events.recent_batches must be positive")
	}
	if s.Storage.Retention < 0 {
		return fmt.Errorf("server.storage.retention must not be negative")
	}
	if s.ScrapeInterval <= 0 || s.StreamInterval <= 0 {
		return fmt.Errorf("server.scrape_interval and server.stream_interval must be positive")
	}
	seen := make(map[string]bool, len(s.Agents))
	for i, a := range s.Agents {
		if a.Name == "" || a.MetricsURL == "" {
			return fmt.Errorf("server.agents[%d]: name and metrics_url are required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("server.agents[%d]: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" || len(strings.Fields(r.Condition)) != 3 {
			return fmt.Errorf("server.alerts.rules[%d]: name and a \"field op value\" condition are required", i)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("server.alerts.rules[%d]: severity %q unknown", i, r.Severity)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "teams", "slack", "pagerduty", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: type %q unknown", i, w.Type)
		}
	}
	return nil
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultProcessInterval = 5 * time.Second
	DefaultMaxRetries      = 4
	DefaultDeltaBackoff    = 1750 * time.Millisecond
	DefaultSendTimeout     = 10 * time.Second
	DefaultListenAddr      = "127.0.0.1:7070"
	DefaultAcceptStatus    = 201
	DefaultTokenTTL        = time.Hour
	DefaultAPIKeyHeader    = "x-api-key"
	DefaultRedisKey        = "eventhub:batches"
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// DeviceName identifies this producer to the ingestion endpoint.
	DeviceName string `yaml:"device_name"`

	// ProcessInterval is the dispatch cycle: how often the buffer is drained.
	ProcessInterval time.Duration `yaml:"process_interval"`

	// MaxRetries bounds the retries of one batch after its first attempt.
	MaxRetries int `yaml:"max_retries"`

	// DeltaBackoff is added to every 2^attempt second backoff delay.
	DeltaBackoff time.Duration `yaml:"delta_backoff"`

	// SendTimeout caps a single delivery attempt.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// ListenAddr serves the local intake API and /metrics. Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Transport selects and configures the delivery transport.
	Transport TransportConfig `yaml:"transport"`
}

// TransportConfig describes how batches reach the ingestion endpoint.
type TransportConfig struct {
	// Type is one of: eventhub | http | grpc | redis | log.
	Type string `yaml:"type"`

	// Endpoint is the URL (http) or host:port (grpc, redis).
	Endpoint string `yaml:"endpoint"`

	// Namespace and Hub locate an Azure Event Hub (type eventhub).
	Namespace string `yaml:"namespace"`
	Hub       string `yaml:"hub"`

	// AcceptStatus is the HTTP status that counts as delivered.
	AcceptStatus int `yaml:"accept_status"`

	// Compression is one of: gzip | none.
	Compression string `yaml:"compression"`

	// Redis holds options for type redis.
	Redis RedisConfig `yaml:"redis"`

	// Auth configures how the agent authenticates to the endpoint.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// RedisConfig holds Redis transport options.
type RedisConfig struct {
	// Key is the stream or list name batches are written to.
	Key string `yaml:"key"`

	// Mode is one of: stream (XADD) | list (RPUSH).
	Mode string `yaml:"mode"`

	// DB selects the Redis logical database.
	DB int `yaml:"db"`

	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string {
	return fromEnv(r.PasswordEnv)
}

// AuthConfig specifies the authentication mode for the transport.
type AuthConfig struct {
	// Mode is one of: sas | apikey | bearer | jwt | mtls | none.
	Mode string `yaml:"mode"`

	// KeyName is the shared access policy name (sas).
	KeyName string `yaml:"key_name"`

	// KeyEnv names the environment variable holding the shared secret
	// (sas policy key, API key, or JWT signing key).
	KeyEnv string `yaml:"key_env"`

	// Header carries the API key (apikey). Defaults to x-api-key.
	Header string `yaml:"header"`

	// TokenEnv names the environment variable holding a static bearer token.
	TokenEnv string `yaml:"token_env"`

	// TokenTTL is the lifetime of minted sas and jwt tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// Key returns the shared secret resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	return fromEnv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	return fromEnv(a.TokenEnv)
}

// EffectiveHeader returns the configured API key header or the default.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAPIKeyHeader
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// Enabled turns on TLS for grpc and redis endpoints. http follows the URL scheme.
	Enabled bool `yaml:"enabled"`

	// InsecureSkipVerify disables certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

func fromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ProcessInterval: DefaultProcessInterval,
			MaxRetries:      DefaultMaxRetries,
			DeltaBackoff:    DefaultDeltaBackoff,
			SendTimeout:     DefaultSendTimeout,
			ListenAddr:      DefaultListenAddr,
			LogLevel:        "info",
			Transport: TransportConfig{
				Type:         "log",
				AcceptStatus: DefaultAcceptStatus,
				Compression:  "none",
				Redis: RedisConfig{
					Key:  DefaultRedisKey,
					Mode: "stream",
				},
				Auth: AuthConfig{
					Mode:     "none",
					TokenTTL: DefaultTokenTTL,
				},
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ProcessInterval <= 0 {
		return fmt.Errorf("agent.process_interval must be positive")
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("agent.max_retries must not be negative")
	}
	if a.DeltaBackoff < 0 {
		return fmt.Errorf("agent.delta_backoff must not be negative")
	}
	if a.SendTimeout <= 0 {
		return fmt.Errorf("agent.send_timeout must be positive")
	}
	if _, err := ParseLevel(a.LogLevel); err != nil {
		return fmt.Errorf("agent.log_level: %w", err)
	}

	t := a.Transport
	switch t.Type {
	case "eventhub":
		if t.Namespace == "" || t.Hub == "" {
			return fmt.Errorf("transport %q: namespace and hub are required", t.Type)
		}
		if a.DeviceName == "" {
			return fmt.Errorf("transport %q: agent.device_name is required", t.Type)
		}
		if t.Auth.Mode != "sas" {
			return fmt.Errorf("transport %q: auth.mode must be sas", t.Type)
		}
	case "http", "grpc", "redis":
		if t.Endpoint == "" {
			return fmt.Errorf("transport %q: endpoint is required", t.Type)
		}
	case "log":
	default:
		return fmt.Errorf("transport.type %q unknown: want eventhub|http|grpc|redis|log", t.Type)
	}
	if t.AcceptStatus < 100 || t.AcceptStatus > 599 {
		return fmt.Errorf("transport.accept_status %d is not an HTTP status", t.AcceptStatus)
	}
	switch t.Compression {
	case "gzip", "none", "":
	default:
		return fmt.Errorf("transport.compression %q unknown: want gzip|none", t.Compression)
	}
	switch t.Redis.Mode {
	case "stream", "list":
	default:
		return fmt.Errorf("transport.redis.mode %q unknown: want stream|list", t.Redis.Mode)
	}

	switch t.Auth.Mode {
	case "sas":
		if t.Auth.KeyName == "" {
			return fmt.Errorf("transport.auth: key_name is required for sas")
		}
		if t.Auth.KeyEnv == "" {
			return fmt.Errorf("transport.auth: key_env is required for sas")
		}
	case "apikey", "jwt":
		if t.Auth.KeyEnv == "" {
			return fmt.Errorf("transport.auth: key_env is required for %s", t.Auth.Mode)
		}
	case "bearer":
		if t.Auth.TokenEnv == "" {
			return fmt.Errorf("transport.auth: token_env is required for bearer")
		}
	case "mtls":
		if t.Auth.CertFile == "" || t.Auth.KeyFile == "" {
			return fmt.Errorf("transport.auth: cert_file and key_file are required for mtls")
		}
	case "none", "":
	default:
		return fmt.Errorf("transport.auth.mode %q unknown: want sas|apikey|bearer|jwt|mtls|none", t.Auth.Mode)
	}
	if t.Auth.TokenTTL <= 0 {
		return fmt.Errorf("transport.auth.token_ttl must be positive")
	}
	return nil
}

// ParseLevel maps a log_level string onto a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
}

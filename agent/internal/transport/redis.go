package transport

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/obsidianstack/eventhub/agent/internal/config"
)

// RedisTransport appends each batch to a Redis stream (XADD) or list (RPUSH).
// A consumer on the other side plays the role of the ingestion endpoint.
type RedisTransport struct {
	client *redis.Client
	key    string
	mode   string
	device string
}

// NewRedis creates a transport writing to cfg.Redis.Key on cfg.Endpoint.
func NewRedis(cfg config.TransportConfig, device string) (*RedisTransport, error) {
	opts := &redis.Options{
		Addr:     cfg.Endpoint,
		Password: cfg.Redis.Password(),
		DB:       cfg.Redis.DB,
	}
	if cfg.TLS.Enabled || cfg.Auth.Mode == "mtls" {
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("redis transport: %w", err)
		}
		opts.TLSConfig = tlsCfg
	}

	key := cfg.Redis.Key
	if key == "" {
		key = config.DefaultRedisKey
	}
	mode := cfg.Redis.Mode
	if mode == "" {
		mode = "stream"
	}
	return &RedisTransport{
		client: redis.NewClient(opts),
		key:    key,
		mode:   mode,
		device: device,
	}, nil
}

// Send succeeds when Redis acknowledges the write.
func (t *RedisTransport) Send(ctx context.Context, batchID string, payload []byte) error {
	var err error
	switch t.mode {
	case "list":
		err = t.client.RPush(ctx, t.key, payload).Err()
	default:
		err = t.client.XAdd(ctx, &redis.XAddArgs{
			Stream: t.key,
			Values: map[string]any{
				"batch_id": batchID,
				"device":   t.device,
				"payload":  string(payload),
			},
		}).Err()
	}
	if err != nil {
		return fmt.Errorf("redis transport: %s %q: %w", t.mode, t.key, err)
	}
	return nil
}

// Close closes the client's connection pool.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}

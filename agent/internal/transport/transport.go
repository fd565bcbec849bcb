package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/obsidianstack/eventhub/agent/internal/config"
)

// Transport sends one encoded batch to the ingestion endpoint.
type Transport interface {
	// Send returns nil when the endpoint accepted payload.
	Send(ctx context.Context, batchID string, payload []byte) error

	// Close releases connections held by the transport.
	Close() error
}

// New returns the Transport selected by cfg.Type. device identifies this
// producer to the endpoint.
func New(cfg config.TransportConfig, device string) (Transport, error) {
	switch cfg.Type {
	case "eventhub":
		return NewHTTP(EventHubURL(cfg.Namespace, cfg.Hub, device), device, cfg)
	case "http":
		return NewHTTP(cfg.Endpoint, device, cfg)
	case "grpc":
		return NewGRPC(cfg, device)
	case "redis":
		return NewRedis(cfg, device)
	case "log":
		return NewLog(device), nil
	default:
		return nil, fmt.Errorf("transport: unsupported type %q", cfg.Type)
	}
}

// EventHubURL returns the Azure Event Hubs REST endpoint that publishes
// messages on behalf of device.
func EventHubURL(namespace, hub, device string) string {
	return fmt.Sprintf("https://%s.servicebus.windows.net/%s/publishers/%s/messages",
		namespace, url.PathEscape(hub), url.PathEscape(device))
}

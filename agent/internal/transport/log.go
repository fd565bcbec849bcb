package transport

import (
	"context"
	"log/slog"
)

// LogTransport writes batches to the structured log and always succeeds.
// It stands in for a real endpoint on hosts without network delivery.
type LogTransport struct {
	device string
}

// NewLog returns a LogTransport.
func NewLog(device string) *LogTransport {
	return &LogTransport{device: device}
}

func (t *LogTransport) Send(_ context.Context, batchID string, payload []byte) error {
	slog.Info("transport: batch", "batch", batchID, "device", t.device, "payload", string(payload))
	return nil
}

func (t *LogTransport) Close() error { return nil }

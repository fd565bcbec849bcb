package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HTTP headers (and lowercase gRPC metadata keys) shared by agent and server.
const (
	HeaderBatchID = "X-Batch-Id"
	HeaderDevice  = "X-Device-Name"
)

// ErrEmptyBatch is returned when encoding a batch with no events.
var ErrEmptyBatch = errors.New("types: empty batch")

// Batch is an immutable snapshot of one buffer drain.
type Batch struct {
	// ID correlates log lines, metrics and server-side history for one batch.
	ID string

	// Events holds the drained event identifiers in recording order.
	Events []string

	// CreatedAt is the drain time.
	CreatedAt time.Time
}

// NewBatch wraps events drained at now into a Batch with a fresh ID.
// The caller must not modify events afterwards.
func NewBatch(events []string, now time.Time) *Batch {
	return &Batch{
		ID:        uuid.NewString(),
		Events:    events,
		CreatedAt: now.UTC(),
	}
}

// Payload returns the wire encoding of the batch.
func (b *Batch) Payload() ([]byte, error) {
	return EncodePayload(b.Events)
}

// EncodePayload encodes events as a JSON array of strings.
func EncodePayload(events []string) ([]byte, error) {
	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}
	data, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("types: encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload parses a wire payload back into event identifiers.
// Anything other than a non-empty JSON array of strings is rejected.
func DecodePayload(data []byte) ([]string, error) {
	var events []string
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("types: decode payload: %w", err)
	}
	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}
	return events, nil
}

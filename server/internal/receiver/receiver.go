package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/obsidianstack/eventhub/pkg/types"
	"github.com/obsidianstack/eventhub/server/internal/store"
)

const (
	maxBody       = 4 << 20
	unknownDevice = "unknown"
)

// Receiver implements ingest.IngestServer and http.Handler.
type Receiver struct {
	store   *store.Store
	history *store.History
	accept  int
}

// New creates a Receiver that writes accepted batches to st and, if history
// is non-nil, to the SQLite log. accept is the HTTP success status.
func New(st *store.Store, history *store.History, accept int) *Receiver {
	if accept == 0 {
		accept = http.StatusCreated
	}
	return &Receiver{store: st, history: history, accept: accept}
}

// Ingest is the unary RPC handler called by agents using the grpc transport.
func (r *Receiver) Ingest(ctx context.Context, payload *wrapperspb.StringValue) (*emptypb.Empty, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if v := md.Get(strings.ToLower(key)); len(v) > 0 {
			return v[0]
		}
		return ""
	}

	if _, err := r.record(ctx, first(types.HeaderBatchID), first(types.HeaderDevice), []byte(payload.GetValue())); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// ServeHTTP handles POST of one batch.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := readBody(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := r.record(req.Context(), req.Header.Get(types.HeaderBatchID), req.Header.Get(types.HeaderDevice), body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.ID != "" {
		w.Header().Set(types.HeaderBatchID, b.ID)
	}
	w.WriteHeader(r.accept)
}

// record validates payload and stores it.
func (r *Receiver) record(ctx context.Context, batchID, device string, payload []byte) (store.Batch, error) {
	events, err := types.DecodePayload(payload)
	if err != nil {
		slog.Debug("receiver: rejected payload", "batch", batchID, "device", device, "err", err)
		return store.Batch{}, fmt.Errorf("payload must be a non-empty JSON array of strings: %w", err)
	}
	if device == "" {
		device = unknownDevice
	}

	b := r.store.Put(store.Batch{ID: batchID, Device: device, Events: events})
	if r.history != nil {
		if err := r.history.Append(ctx, b); err != nil {
			slog.Warn("receiver: history append failed", "batch", b.ID, "err", err)
		}
	}

	slog.Debug("receiver: batch stored",
		"batch", b.ID,
		"device", b.Device,
		"events", len(b.Events),
		"duplicate", b.Duplicate,
	)
	return b, nil
}

// readBody returns the request body, decompressed when Content-Encoding is gzip.
func readBody(req *http.Request) ([]byte, error) {
	var rd io.Reader = io.LimitReader(req.Body, maxBody+1)
	if strings.EqualFold(req.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(rd)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer zr.Close()
		rd = io.LimitReader(zr, maxBody+1)
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxBody {
		return nil, errors.New("body too large")
	}
	return data, nil
}

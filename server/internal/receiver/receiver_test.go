package receiver_test

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/obsidianstack/eventhub/pkg/ingest"
	"github.com/obsidianstack/eventhub/pkg/types"
	"github.com/obsidianstack/eventhub/server/internal/auth"
	"github.com/obsidianstack/eventhub/server/internal/receiver"
	"github.com/obsidianstack/eventhub/server/internal/store"
)

// startServer starts a gRPC server with the given interceptor and returns a
// connected client and the backing store. Uses a random TCP port.
func startServer(t *testing.T, interceptor grpc.UnaryServerInterceptor) (ingest.IngestClient, *store.Store) {
	t.Helper()

	st := store.New(5*time.Minute, 10)
	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	ingest.RegisterIngestServer(srv, receiver.New(st, nil, 0))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return ingest.NewIngestClient(conn), st
}

// allowAll is a no-op interceptor that passes every call through.
func allowAll(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	return handler(ctx, req)
}

func post(t *testing.T, h http.Handler, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestIngestGRPC_StoresBatch(t *testing.T) {
	client, st := startServer(t, allowAll)

	ctx := metadata.AppendToOutgoingContext(context.Background(),
		"x-batch-id", "b-1", "x-device-name", "hololens-01")
	if _, err := client.Ingest(ctx, wrapperspb.String(`["GazedCube","GazedSphere"]`)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	e, ok := st.Get("GazedCube")
	if !ok || e.Count != 1 {
		t.Fatalf("store.Get: got %+v, %v", e, ok)
	}
	recent := st.Recent(1)
	if len(recent) != 1 || recent[0].ID != "b-1" || recent[0].Device != "hololens-01" {
		t.Errorf("recent batch: got %+v", recent)
	}
}

func TestIngestGRPC_MalformedPayload_InvalidArgument(t *testing.T) {
	client, st := startServer(t, allowAll)

	for _, payload := range []string{"", "GazedCube", `{"a":1}`, `[]`, `[1,2]`} {
		_, err := client.Ingest(context.Background(), wrapperspb.String(payload))
		if code := status.Code(err); code != codes.InvalidArgument {
			t.Errorf("payload %q: code %v, want InvalidArgument", payload, code)
		}
	}
	if st.Count() != 0 {
		t.Errorf("store.Count: got %d, want 0", st.Count())
	}
}

func TestIngestGRPC_WithAPIKeyInterceptor(t *testing.T) {
	client, st := startServer(t, auth.Interceptor(auth.New("apikey", "x-api-key", "", "testkey")))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "wrongkey")
	if _, err := client.Ingest(ctx, wrapperspb.String(`["a"]`)); status.Code(err) != codes.Unauthenticated {
		t.Errorf("wrong key: code %v, want Unauthenticated", status.Code(err))
	}

	ctx = metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "testkey")
	if _, err := client.Ingest(ctx, wrapperspb.String(`["a"]`)); err != nil {
		t.Fatalf("correct key: %v", err)
	}
	if st.Count() != 1 {
		t.Errorf("store.Count: got %d, want 1", st.Count())
	}
}

func TestHTTP_Created(t *testing.T) {
	st := store.New(5*time.Minute, 10)
	h := receiver.New(st, nil, 0)

	rr := post(t, h, []byte(`["Cube","Cube"]`), map[string]string{
		types.HeaderBatchID: "b-9",
		types.HeaderDevice:  "dev-1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201 (body %s)", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(types.HeaderBatchID) != "b-9" {
		t.Errorf("echoed batch id: got %q", rr.Header().Get(types.HeaderBatchID))
	}
	if e, _ := st.Get("Cube"); e.Count != 2 {
		t.Errorf("Count: got %d, want 2", e.Count)
	}
}

func TestHTTP_CustomAcceptStatus(t *testing.T) {
	h := receiver.New(store.New(time.Minute, 10), nil, http.StatusAccepted)
	if rr := post(t, h, []byte(`["x"]`), nil); rr.Code != http.StatusAccepted {
		t.Errorf("status: got %d, want 202", rr.Code)
	}
}

func TestHTTP_Gzip(t *testing.T) {
	st := store.New(5*time.Minute, 10)
	h := receiver.New(st, nil, 0)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`["Sphere"]`)) //nolint:errcheck
	zw.Close()

	rr := post(t, h, buf.Bytes(), map[string]string{"Content-Encoding": "gzip"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201 (body %s)", rr.Code, rr.Body.String())
	}
	e, _ := st.Get("Sphere")
	if e.Count != 1 {
		t.Errorf("Count: got %d, want 1", e.Count)
	}
	if dev := st.Recent(1)[0].Device; dev != "unknown" {
		t.Errorf("device without header: got %q, want unknown", dev)
	}

	if rr := post(t, h, []byte("not gzip"), map[string]string{"Content-Encoding": "gzip"}); rr.Code != http.StatusBadRequest {
		t.Errorf("bad gzip: got %d, want 400", rr.Code)
	}
}

func TestHTTP_Rejects(t *testing.T) {
	h := receiver.New(store.New(5*time.Minute, 10), nil, 0)

	if rr := post(t, h, []byte(`"GazedCube"`), nil); rr.Code != http.StatusBadRequest {
		t.Errorf("non-array: got %d, want 400", rr.Code)
	}
	if rr := post(t, h, []byte(strings.Repeat(" ", 5<<20)), nil); rr.Code != http.StatusBadRequest {
		t.Errorf("oversized: got %d, want 400", rr.Code)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ingest", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: got %d, want 405", rr.Code)
	}
}

func TestHTTP_WritesHistory(t *testing.T) {
	hist, err := store.OpenHistory(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	defer hist.Close()

	h := receiver.New(store.New(5*time.Minute, 10), hist, 0)
	hdr := map[string]string{types.HeaderBatchID: "b-1", types.HeaderDevice: "dev"}
	post(t, h, []byte(`["a"]`), hdr)
	post(t, h, []byte(`["a"]`), hdr) // redelivery

	rows, err := hist.Query(context.Background(), "dev", time.Time{}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("history rows: got %d, want 2", len(rows))
	}
	if !rows[0].Duplicate || rows[1].Duplicate {
		t.Errorf("duplicate flags: got %v,%v want true,false", rows[0].Duplicate, rows[1].Duplicate)
	}
}

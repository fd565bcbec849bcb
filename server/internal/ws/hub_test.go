package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/eventhub/server/internal/store"
	wsHub "github.com/obsidianstack/eventhub/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

func newStore(batches ...store.Batch) *store.Store {
	st := store.New(5*time.Minute, 10)
	for _, b := range batches {
		st.Put(b)
	}
	return st
}

func batch(id string, events ...string) store.Batch {
	return store.Batch{ID: id, Device: "hololens", Events: events}
}

// startHub serves the hub over httptest and runs its broadcast loop.
func startHub(t *testing.T, st *store.Store) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(st, testInterval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one text message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return msg
}

// events decodes a snapshot message and returns its data.events array.
func events(t *testing.T, msg []byte) []interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data, ok := m["data"].(map[string]interface{})
	if !ok {
		t.Fatal("data: missing or wrong type")
	}
	evs, ok := data["events"].([]interface{})
	if !ok {
		t.Fatal("events: missing or wrong type")
	}
	return evs
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateSnapshot(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(batch("b1", "GazedCube")))

	conn := dial(t, wsURL)
	msg := readMessage(t, conn)

	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["event"] != "snapshot" {
		t.Errorf("event: got %v, want snapshot", m["event"])
	}
	data := m["data"].(map[string]interface{})
	if data["generated_at"] == nil || data["generated_at"] == "" {
		t.Error("generated_at: missing")
	}
	if _, ok := data["totals"].(map[string]interface{}); !ok {
		t.Error("totals: missing")
	}
}

func TestHub_MessageContainsEvents(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(batch("b1", "GazedCube", "GazedSphere", "GazedCube")))

	evs := events(t, readMessage(t, dial(t, wsURL)))
	if len(evs) != 2 {
		t.Fatalf("events: got %d, want 2", len(evs))
	}
	first := evs[0].(map[string]interface{})
	if first["event_id"] != "GazedCube" || first["count"] != float64(2) {
		t.Errorf("first event: got %v", first)
	}
}

func TestHub_EmptyStore_EmptyEvents(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore())
	if evs := events(t, readMessage(t, dial(t, wsURL))); len(evs) != 0 {
		t.Errorf("events: got %d, want 0", len(evs))
	}
}

func TestHub_CountClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore())

	for i := 0; i < 3; i++ {
		readMessage(t, dial(t, wsURL))
	}

	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 3 {
		t.Errorf("Count: got %d, want 3", n)
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore())

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond)

	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_BroadcastsAfterNewBatch(t *testing.T) {
	st := newStore()
	wsURL, _, _ := startHub(t, st)

	conn := dial(t, wsURL)
	readMessage(t, conn)

	st.Put(batch("b1", "new-event"))

	// An empty snapshot from the first tick may arrive before the change.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		evs := events(t, readMessage(t, conn))
		if len(evs) == 0 {
			continue
		}
		if id := evs[0].(map[string]interface{})["event_id"]; id != "new-event" {
			t.Errorf("event_id: got %v, want new-event", id)
		}
		return
	}
	t.Fatal("no broadcast carried the new batch")
}

func TestHub_IdleStore_NoBroadcast(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(batch("b1", "a")))

	// Let the first tick record the store state before anyone connects.
	time.Sleep(5 * testInterval)

	conn := dial(t, wsURL)
	readMessage(t, conn)

	conn.SetReadDeadline(time.Now().Add(8 * testInterval))
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected broadcast with unchanged store: %s", msg)
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, newStore())

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel()

	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(newStore(), testInterval)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

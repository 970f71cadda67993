package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mathysIN/copyman/internal/auth"
	"github.com/mathysIN/copyman/internal/database"
	"github.com/mathysIN/copyman/internal/room"
	"github.com/mathysIN/copyman/internal/server"
	"github.com/mathysIN/copyman/internal/session"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, mirror *OfflineMirror) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:   "http://127.0.0.1:8080",
		SessionID: "abc123",
		Mirror:    mirror,
	})
	if err != nil {
		t.Fatalf("unexpected client construction error: %v", err)
	}
	return c
}

func frame(t *testing.T, event string, payload any) []byte {
	t.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("unexpected payload encode error: %v", err)
	}
	raw, err := json.Marshal(server.Envelope{Event: event, Payload: encoded})
	if err != nil {
		t.Fatalf("unexpected frame encode error: %v", err)
	}
	return raw
}

func noteFields(id, body, createdAt string) map[string]string {
	return map[string]string{
		"type":      "note",
		"id":        id,
		"sessionId": "abc123",
		"content":   body,
		"createdAt": createdAt,
		"updatedAt": createdAt,
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{SessionID: "abc123"}); err == nil {
		t.Fatal("expected construction to fail without a base url")
	}
	if _, err := NewClient(Config{BaseURL: "http://localhost"}); err == nil {
		t.Fatal("expected construction to fail without a session id")
	}
}

func TestApplyEventsFoldIntoLiveView(t *testing.T) {
	c := newTestClient(t, nil)

	idFirst := "3f1f1dd2-0000-4000-8000-000000000001"
	idSecond := "3f1f1dd2-0000-4000-8000-000000000002"
	c.apply(frame(t, server.EventAddContent, []map[string]string{
		noteFields(idFirst, "first", "1700000000000"),
		noteFields(idSecond, "second", "1700000001000"),
	}))

	arranged := c.Content()
	if len(arranged) != 2 {
		t.Fatalf("expected 2 records, got %d", len(arranged))
	}
	// No explicit order yet, so newest created comes first.
	if arranged[0].ContentID() != idSecond {
		t.Fatalf("expected newest first, got %q", arranged[0].ContentID())
	}

	c.apply(frame(t, server.EventUpdatedContent, noteFields(idFirst, "first edited", "1700000000000")))
	for _, record := range c.Content() {
		if record.ContentID() != idFirst {
			continue
		}
		if note, ok := record.(session.Note); !ok || note.Body != "first edited" {
			t.Fatalf("update not applied: %+v", record)
		}
	}

	c.apply(frame(t, server.EventUpdatedContentOrder, []string{idFirst, idSecond}))
	arranged = c.Content()
	if arranged[0].ContentID() != idFirst {
		t.Fatalf("expected explicit order to win, got %q", arranged[0].ContentID())
	}

	c.apply(frame(t, server.EventDeleteContent, idSecond))
	arranged = c.Content()
	if len(arranged) != 1 || arranged[0].ContentID() != idFirst {
		t.Fatalf("delete not applied: %v", arranged)
	}
}

func TestApplyDropsMalformedFrames(t *testing.T) {
	c := newTestClient(t, nil)
	c.apply([]byte(`not json`))
	c.apply(frame(t, server.EventAddContent, "not an array"))
	c.apply(frame(t, server.EventDeleteContent, 42))
	if got := c.Content(); len(got) != 0 {
		t.Fatalf("malformed frames must not mutate the view, got %v", got)
	}
}

func TestApplyWelcomeRecordsConnectionID(t *testing.T) {
	c := newTestClient(t, nil)
	c.apply(frame(t, server.EventWelcome, server.WelcomePayload{ConnectionID: "conn-42"}))
	if c.ConnectionID() != "conn-42" {
		t.Fatalf("unexpected connection id: %q", c.ConnectionID())
	}
}

func TestApplyMirrorsStateForHydration(t *testing.T) {
	mirror, err := OpenMirror(filepath.Join(t.TempDir(), "mirror.db"), nil)
	if err != nil {
		t.Fatalf("unexpected mirror open error: %v", err)
	}

	c := newTestClient(t, mirror)
	id := "3f1f1dd2-0000-4000-8000-000000000001"
	c.apply(frame(t, server.EventAddContent, []map[string]string{
		noteFields(id, "survives restarts", "1700000000000"),
	}))

	restarted := newTestClient(t, mirror)
	hydrated, err := restarted.Hydrate()
	if err != nil {
		t.Fatalf("unexpected hydrate error: %v", err)
	}
	if !hydrated {
		t.Fatal("expected a mirrored state to hydrate from")
	}
	arranged := restarted.Content()
	if len(arranged) != 1 || arranged[0].ContentID() != id {
		t.Fatalf("unexpected hydrated view: %v", arranged)
	}
}

func TestHydrateWithoutMirrorReportsNothing(t *testing.T) {
	c := newTestClient(t, nil)
	hydrated, err := c.Hydrate()
	if err != nil {
		t.Fatalf("unexpected hydrate error: %v", err)
	}
	if hydrated {
		t.Fatal("expected nothing to hydrate without a mirror")
	}
}

func newSyncServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := session.NewStore(session.StoreConfig{
		Client:    database.NewMemoryHashStore(),
		Namespace: "copyman:test",
	})
	if err != nil {
		t.Fatalf("unexpected store construction error: %v", err)
	}
	if _, err := store.Create(context.Background(), "abc123", session.NewSession{}); err != nil {
		t.Fatalf("unexpected session create error: %v", err)
	}
	gate, err := auth.NewGate(auth.GateConfig{Store: store})
	if err != nil {
		t.Fatalf("unexpected gate construction error: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:    store,
		Gate:     gate,
		Hasher:   auth.NewPasswordHasher("test-salt"),
		Registry: room.NewRegistry(zap.NewNop()),
	})
	if err != nil {
		t.Fatalf("unexpected handler construction error: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return testServer
}

func TestListenReleasesItsWatchdogOnServerClose(t *testing.T) {
	testServer := newSyncServer(t)

	c, err := NewClient(Config{BaseURL: testServer.URL, SessionID: "abc123"})
	if err != nil {
		t.Fatalf("unexpected client construction error: %v", err)
	}

	// The context stays alive across every cycle: a watchdog parked on
	// ctx.Done() instead of the connection's own lifetime would leak one
	// goroutine per reconnect.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseline := runtime.NumGoroutine()
	previousConnection := ""
	for cycle := 0; cycle < 5; cycle++ {
		listenDone := make(chan error, 1)
		go func() { listenDone <- c.Listen(ctx) }()

		deadline := time.Now().Add(2 * time.Second)
		for c.ConnectionID() == previousConnection {
			if time.Now().After(deadline) {
				t.Fatalf("cycle %d: timed out waiting for the welcome handshake", cycle)
			}
			time.Sleep(10 * time.Millisecond)
		}
		previousConnection = c.ConnectionID()

		testServer.CloseClientConnections()
		select {
		case <-listenDone:
		case <-time.After(2 * time.Second):
			t.Fatalf("cycle %d: listen did not return after the server-side close", cycle)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if runtime.NumGoroutine() <= baseline+2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("goroutines grew from %d to %d across reconnects", baseline, runtime.NumGoroutine())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestReorderRequiresConnection(t *testing.T) {
	c := newTestClient(t, nil)
	if err := c.Reorder([]string{"3f1f1dd2-0000-4000-8000-000000000001"}); err == nil {
		t.Fatal("expected reorder to fail while disconnected")
	}
}

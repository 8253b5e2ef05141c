package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dialcast/dialcast/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGroupEventPostsPayload(t *testing.T) {
	var got GroupEventPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())
	client.GroupEvent(context.Background(), "connected", &store.Group{
		ID:            "g-1",
		AgentID:       "agent-7",
		Status:        store.GroupConnected,
		WinnerCallRef: "CA0002",
	})

	if got.Event != "group.connected" {
		t.Errorf("event = %q, want group.connected", got.Event)
	}
	if got.GroupID != "g-1" || got.WinnerCallRef != "CA0002" {
		t.Errorf("payload = %+v", got)
	}
}

func TestTransferEventPostsPayload(t *testing.T) {
	var got TransferEventPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())
	client.TransferEvent(context.Background(), "completed", &store.Transfer{
		ID:             "t-1",
		ConferenceName: "queue-42-call-7",
		Type:           store.TransferWarm,
		Status:         store.TransferCompleted,
		StatusDetail:   "agent removed",
	})

	if got.Event != "transfer.completed" {
		t.Errorf("event = %q, want transfer.completed", got.Event)
	}
	if got.TransferID != "t-1" || got.Status != "completed" {
		t.Errorf("payload = %+v", got)
	}
}

func TestUnconfiguredClientIsNoOp(t *testing.T) {
	client := NewClient("", testLogger())
	if client.Configured() {
		t.Fatal("empty URL must not report configured")
	}
	// Must not panic or try the network.
	client.GroupEvent(context.Background(), "failed", &store.Group{ID: "g-1"})
	client.TransferEvent(context.Background(), "failed", &store.Transfer{ID: "t-1"})
}

func TestErrorStatusDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Delivery failures are logged, never surfaced to the orchestrators.
	client := NewClient(srv.URL, testLogger())
	client.GroupEvent(context.Background(), "connected", &store.Group{ID: "g-1"})
}

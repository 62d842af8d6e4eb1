package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New(zerolog.Nop())
	srv := httptest.NewServer(bus.ServeWS("telemetry"))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.Subscribers("telemetry") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish("telemetry", "grid_rt_data", map[string]any{"device_id": "dev1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "grid_rt_data" {
		t.Fatalf("type = %q, want grid_rt_data", got.Type)
	}
}

func TestPublishToEmptyGroupDoesNotBlock(t *testing.T) {
	bus := New(zerolog.Nop())
	done := make(chan struct{})
	go func() {
		bus.Publish("nobody-listening", "x", 1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish to empty group blocked")
	}
}

func TestUnknownUpgradeDoesNotPanic(t *testing.T) {
	bus := New(zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	bus.ServeWS("telemetry")(rec, req)
	if rec.Code == 0 {
		t.Fatal("expected a response code to be set")
	}
}

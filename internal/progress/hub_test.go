package progress

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qosmap/ppsprobe/internal/client"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsToSubscriber(t *testing.T) {
	h := NewHub(nil)
	conn := dialHub(t, h)

	// Give the server a moment to register the subscriber before we
	// broadcast.
	time.Sleep(20 * time.Millisecond)
	h.Broadcast(Event{FlowLabel: "search-1", Progress: client.Progress{Iteration: 1, PPS: 2000}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.FlowLabel != "search-1" || ev.Progress.PPS != 2000 {
		t.Fatalf("event = %+v, want flow_label=search-1 pps=2000", ev)
	}
}

func TestHubBroadcastDoesNotBlockOnDisconnectedSubscriber(t *testing.T) {
	h := NewHub(nil)
	conn := dialHub(t, h)
	conn.Close()

	time.Sleep(20 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueSize*2; i++ {
			h.Broadcast(Event{FlowLabel: "search-1", Progress: client.Progress{Iteration: i}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a disconnected subscriber")
	}
}

package ws

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHubBroadcast(t *testing.T) {
	t.Parallel()
	h := NewHub()
	defer h.Stop()

	ch := make(chan Message, 16)
	h.Register("client-1", ch)

	// Registration is asynchronous; wait until the hub has the client.
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	h.Broadcast(Message{Type: "status_update", Data: map[string]interface{}{"printer_id": 1}})

	select {
	case msg := <-ch:
		if msg.Type != "status_update" {
			t.Fatalf("message type = %q", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast not delivered")
	}
}

func TestHubUnregisterClosesChannel(t *testing.T) {
	t.Parallel()
	h := NewHub()
	defer h.Stop()

	ch := make(chan Message, 1)
	h.Register("client-1", ch)
	h.Unregister("client-1")

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received message instead of close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed on unregister")
	}
}

func TestHubDropsWhenClientFull(t *testing.T) {
	t.Parallel()
	h := NewHub()
	defer h.Stop()

	ch := make(chan Message, 1)
	h.Register("slow", ch)
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 10; i++ {
		h.Broadcast(Message{Type: "progress_update"})
	}
	// The hub must stay responsive even though the client buffer overflowed.
	h.Broadcast(Message{Type: "final"})
	if h.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", h.ClientCount())
	}
}

func TestMessageMarshalStampsTimestamp(t *testing.T) {
	t.Parallel()
	m := &Message{Type: "temp_update", Data: map[string]interface{}{"printerid": 2}}
	raw, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != "temp_update" {
		t.Fatalf("type = %v", decoded["type"])
	}
	if _, ok := decoded["timestamp"]; !ok {
		t.Fatal("timestamp not stamped")
	}
}

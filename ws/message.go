package ws

import (
	"encoding/json"
	"time"
)

// Message is the websocket message shape pushed to UI clients. Type carries
// the event name and Data the event payload.
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// Marshal marshals the message to JSON bytes, stamping the timestamp if the
// caller left it zero.
func (m *Message) Marshal() ([]byte, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return json.Marshal(m)
}

// Note: writing a Message to a *websocket.Conn is intentionally left to the
// caller so this package stays free of the websocket dependency. Marshal and
// write the bytes with an appropriate deadline in server code.

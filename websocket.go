package main

import (
	"net/http"
	"time"

	"printvista/server/ws"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// UI clients connect from the frontend dev server as well.
		return true
	},
}

const wsWriteTimeout = 10 * time.Second

// handleUIWebSocket upgrades a UI client and streams hub broadcasts to it
// until the client disconnects.
func handleUIWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		serverLogger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	clientID := uuid.New().String()
	events := make(chan ws.Message, 16)
	serverHub.Register(clientID, events)
	serverLogger.Debug("UI client connected", "client", clientID, "remote", r.RemoteAddr)

	done := make(chan struct{})

	// Reader: the UI never sends meaningful frames; this loop exists to
	// notice the disconnect.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		serverHub.Unregister(clientID)
		conn.Close()
		serverLogger.Debug("UI client disconnected", "client", clientID)
	}()

	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return
			}
			payload, err := msg.Marshal()
			if err != nil {
				serverLogger.Error("Failed to marshal event", "type", msg.Type, "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

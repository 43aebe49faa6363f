package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// NewUpgrader returns a websocket upgrader. A nil checkOrigin accepts any origin.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

// ServeWebSocket pumps client.Outbound to ws until the peer disconnects or the
// client is closed. Inbound frames are read only to observe close and pong.
func (hub *SSEHub) ServeWebSocket(ws *websocket.Conn, client *SSEClient) {
	defer func() {
		_ = ws.Close()
	}()

	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		ws.SetReadLimit(4096)
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-peerGone:
			hub.logger.Debug("Websocket peer closed", "clientID", client.ID)
			return
		case <-client.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "closing"),
				time.Now().Add(wsWriteWait))
			return
		case msg, ok := <-client.Outbound:
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				hub.logger.Warn("Failed to marshal websocket message", "error", err)
				continue
			}
			if err := ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

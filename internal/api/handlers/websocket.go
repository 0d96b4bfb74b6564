package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	ws "github.com/appointment-desk/backend/internal/websocket"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from the same origin or through a proxy that
	// rewrites it, so the origin is not checked.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketUpgrade upgrades a browser connection and attaches it to the
// relay hub.
func WebSocketUpgrade(hub *ws.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := ws.NewClient()
		if !hub.Register(client) {
			conn.Close()
			return
		}

		go writePump(conn, client)
		go readPump(conn, client, hub, logger)
	}
}

// writePump copies hub messages to the connection and keeps it alive with
// pings.
func writePump(conn *websocket.Conn, client *ws.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles browser commands until the connection drops.
func readPump(conn *websocket.Conn, client *ws.Client, hub *ws.Hub, logger *zap.Logger) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(65536)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket read failed", zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}
		handleClientMessage(message, client, hub)
	}
}

func handleClientMessage(message []byte, client *ws.Client, hub *ws.Hub) {
	var cmd ws.Command
	reply := ws.NewMessage(ws.TypePong, nil)
	if err := json.Unmarshal(message, &cmd); err != nil || cmd.Type != ws.TypePing {
		reply = ws.NewMessage(ws.TypeError, ws.ErrorPayload{Message: "unsupported command"})
	}
	data, err := reply.JSON()
	if err != nil {
		return
	}
	hub.SendTo(client, data)
}

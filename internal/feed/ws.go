package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/appointment-desk/backend/internal/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket reads pushed events from a WebSocket endpoint. Each text frame
// is one payload.
type WebSocket struct {
	url      string
	dialer   *websocket.Dialer
	sessions session.Provider
	policy   ReconnectPolicy
	logger   *zap.Logger
}

// NewWebSocket creates a WebSocket transport. http and https URLs are
// rewritten to ws and wss.
func NewWebSocket(url string, sessions session.Provider, policy ReconnectPolicy, logger *zap.Logger) *WebSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocket{
		url: wsURL(url),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		sessions: sessions,
		policy:   policy,
		logger:   logger,
	}
}

// Run implements Transport.
func (w *WebSocket) Run(ctx context.Context, h Handler) error {
	return runStream(ctx, w.policy, w.logger, h, w.connect)
}

func (w *WebSocket) connect(ctx context.Context, h Handler) (bool, error) {
	header := http.Header{}
	if cookies := cookieHeader(w.sessions); cookies != "" {
		header.Set("Cookie", cookies)
	}

	conn, resp, err := w.dialer.DialContext(ctx, w.url, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("websocket handshake returned %s: %w", resp.Status, err)
		}
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadLimit(maxEventSize)
	h.OnOpen()
	w.logger.Debug("websocket stream open", zap.String("url", w.url))

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, nil
			}
			return true, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.OnMessage(data)
	}
}

func wsURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

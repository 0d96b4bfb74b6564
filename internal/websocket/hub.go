// Package websocket relays dashboard events to connected browsers.
package websocket

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sendBuffer = 256

// Hub maintains the set of active browser connections and fans messages out
// to them. All client bookkeeping happens on the Run loop.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	direct     chan directMessage
	count      chan chan int
	done       chan struct{}

	logger *zap.Logger
}

// NewHub creates a hub. Call Run before registering clients.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan directMessage),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info("relay client connected", zap.String("client_id", client.ID), zap.Int("total", len(h.clients)))

		case client := <-h.unregister:
			if h.clients[client] {
				delete(h.clients, client)
				close(client.send)
			}
			h.logger.Info("relay client disconnected", zap.String("client_id", client.ID), zap.Int("total", len(h.clients)))

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow reader; drop it rather than stall everyone.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("relay client dropped, send buffer full", zap.String("client_id", client.ID))
				}
			}

		case dm := <-h.direct:
			if !h.clients[dm.client] {
				continue
			}
			select {
			case dm.client.send <- dm.message:
			default:
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Broadcast queues message for every client. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("relay broadcast queue full, dropping message")
	}
}

// Register adds a client. It reports false if the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

type directMessage struct {
	client  *Client
	message []byte
}

// SendTo queues message for one client only. Messages to unknown or full
// clients are dropped.
func (h *Hub) SendTo(client *Client, message []byte) {
	select {
	case h.direct <- directMessage{client: client, message: message}:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Client is one browser connection as seen by the hub.
type Client struct {
	ID   string
	send chan []byte
}

// NewClient creates a client with a fresh id.
func NewClient() *Client {
	return &Client{
		ID:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
	}
}

// Send returns the channel of outgoing messages. It is closed when the hub
// drops the client.
func (c *Client) Send() <-chan []byte {
	return c.send
}

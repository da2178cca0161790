package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odvcencio/switchboard/pkg/logging"
)

// WebSocketAdapter pushes events to connected UI clients and reads confirm
// answers back. The IPC server mounts HandleWebSocket on /ws.
type WebSocketAdapter struct {
	upgrader  websocket.Upgrader
	logger    *logging.Logger
	responses chan *Response

	mu      sync.Mutex
	clients map[*wsClient]bool
	closed  bool
}

type wsClient struct {
	conn    *websocket.Conn
	send    chan any
	writeMu sync.Mutex
}

// NewWebSocketAdapter creates a websocket adapter.
func NewWebSocketAdapter(logger *logging.Logger) *WebSocketAdapter {
	return &WebSocketAdapter{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local IPC surface only; the listener binds loopback.
				return true
			},
		},
		logger:    logger,
		responses: make(chan *Response, 64),
		clients:   make(map[*wsClient]bool),
	}
}

func (a *WebSocketAdapter) Name() string { return "websocket" }

// HandleWebSocket upgrades the connection and starts the read/write pumps.
func (a *WebSocketAdapter) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error(logging.CategoryNetwork, "ws_upgrade_failed", "websocket upgrade failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan any, 64),
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close()
		return
	}
	a.clients[client] = true
	a.mu.Unlock()

	go client.writePump()
	go a.readPump(client)
}

// Send fans the event out to every connected client. A client with a full
// buffer is skipped; confirm events still resolve through any client that
// answers.
func (a *WebSocketAdapter) Send(ctx context.Context, event *Event) error {
	a.Broadcast(event)
	return nil
}

// Broadcast fans an arbitrary JSON payload out to every connected client.
// The IPC event bridge uses it to mirror coordinator telemetry onto the
// stream alongside notices and confirm dialogs.
func (a *WebSocketAdapter) Broadcast(payload any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for client := range a.clients {
		select {
		case client.send <- payload:
		default:
		}
	}
}

func (a *WebSocketAdapter) Responses() <-chan *Response {
	return a.responses
}

func (a *WebSocketAdapter) readPump(client *wsClient) {
	defer func() {
		a.removeClient(client)
		client.conn.Close()
	}()

	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				a.logger.Warn(logging.CategoryNetwork, "ws_read_error", "websocket read error", map[string]any{
					"error": err.Error(),
				})
			}
			return
		}

		resp, err := ParseResponse(data)
		if err != nil {
			a.logger.Warn(logging.CategoryNetwork, "ws_bad_response", "malformed websocket response", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		if resp.Timestamp.IsZero() {
			resp.Timestamp = time.Now()
		}

		a.mu.Lock()
		closed := a.closed
		a.mu.Unlock()
		if closed {
			return
		}
		select {
		case a.responses <- resp:
		default:
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.writeMu.Lock()
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.writeMu.Unlock()
				return
			}
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := c.conn.WriteJSON(payload)
			c.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (a *WebSocketAdapter) removeClient(client *wsClient) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.clients[client] {
		delete(a.clients, client)
		close(client.send)
	}
}

// ActiveConnections returns the number of connected clients.
func (a *WebSocketAdapter) ActiveConnections() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.clients)
}

// Close disconnects every client.
func (a *WebSocketAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	for client := range a.clients {
		client.conn.Close()
		close(client.send)
	}
	a.clients = make(map[*wsClient]bool)
	close(a.responses)
	return nil
}

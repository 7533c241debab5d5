package websocket

import (
	"sync"
	"time"

	"ai-chat-gateway-be/internal/pkg/logger"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is a middleman between one websocket connection and the chat core.
// It implements chat.Subscriber.
type Client struct {
	ID string

	handler *Handler
	conn    *websocket.Conn
	send    chan []byte
	logger  logger.ILogger

	mu     sync.Mutex
	userID string
	chats  map[string]struct{}
}

func newClient(handler *Handler, conn *websocket.Conn, log logger.ILogger) *Client {
	return &Client{
		ID:      uuid.New().String(),
		handler: handler,
		conn:    conn,
		send:    make(chan []byte, 256),
		logger:  log,
		chats:   make(map[string]struct{}),
	}
}

// Deliver queues one serialized frame for the write pump. A subscriber that
// cannot keep up has frames dropped rather than stalling the delivery loop.
func (c *Client) Deliver(data []byte) {
	select {
	case c.send <- data:
	default:
		c.logger.Warn("WebSocket", "Send buffer full, dropping frame", map[string]interface{}{
			"client_id": c.ID,
		})
	}
}

func (c *Client) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *Client) getUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) track(chatID string) {
	c.mu.Lock()
	c.chats[chatID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) untrack(chatID string) {
	c.mu.Lock()
	delete(c.chats, chatID)
	c.mu.Unlock()
}

func (c *Client) tracked(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.chats[chatID]
	return ok
}

func (c *Client) trackedChats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.chats))
	for id := range c.chats {
		out = append(out, id)
	}
	return out
}

// readPump pumps inbound frames from the connection to the handler.
func (c *Client) readPump() {
	defer func() {
		c.handler.Disconnect(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket", "Unexpected close", map[string]interface{}{
					"client_id": c.ID, "error": err.Error(),
				})
			}
			break
		}
		c.handler.HandleFrame(c, data)
	}
}

// writePump pumps queued frames to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush whatever else is already queued.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs attaches a new connection to the handler and runs its pumps. Blocks
// until the connection drops.
func ServeWs(handler *Handler, conn *websocket.Conn, log logger.ILogger) {
	client := newClient(handler, conn, log)
	go client.writePump()
	client.readPump()
}

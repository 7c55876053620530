package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/moltbunker/solverbond/internal/logging"
	"github.com/moltbunker/solverbond/pkg/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Outcomes are public and the endpoint is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the websocket frame exchanged with subscribers.
type Message struct {
	Type     string          `json:"type"`
	SolverID *types.SolverID `json:"solver_id,omitempty"`
	Outcome  *types.Outcome  `json:"outcome,omitempty"`
}

// Broadcaster fans outcomes out to websocket subscribers. A subscriber may
// narrow its feed to one solver with a "subscribe" message. Slow subscribers
// are disconnected rather than waited for.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	b      *Broadcaster
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	filter common.Hash
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[*client]struct{})}
}

// Name implements Sink.
func (b *Broadcaster) Name() string { return "websocket" }

// Deliver implements Sink. It never blocks on a subscriber.
func (b *Broadcaster) Deliver(_ context.Context, o types.Outcome) error {
	data, err := json.Marshal(Message{Type: "outcome", Outcome: &o})
	if err != nil {
		return err
	}

	b.mu.RLock()
	var slow []*client
	for c := range b.clients {
		if !c.wants(o.SolverID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		logging.Debug("websocket subscriber too slow, disconnecting", logging.Component("websocket"))
		b.remove(c)
	}
	return nil
}

// ClientCount returns the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		close(c.send)
		delete(b.clients, c)
	}
}

// ServeHTTP upgrades the request and streams outcomes until the peer goes
// away or the broadcaster is closed.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", logging.Component("websocket"), logging.Err(err))
		return
	}
	c := &client{b: b, conn: conn, send: make(chan []byte, sendBuffer)}
	if !b.add(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	logging.Debug("websocket subscriber connected",
		logging.Component("websocket"),
		"total_clients", b.ClientCount())

	go c.writePump()
	c.readPump()
}

func (b *Broadcaster) add(c *client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[c] = struct{}{}
	return true
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

func (c *client) wants(id types.SolverID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter == (common.Hash{}) || c.filter == id
}

func (c *client) readPump() {
	defer func() {
		c.b.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("websocket read error", logging.Component("websocket"), logging.Err(err))
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg Message) {
	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		c.filter = common.Hash{}
		if msg.SolverID != nil {
			c.filter = *msg.SolverID
		}
		c.mu.Unlock()
		c.reply(Message{Type: "subscribed", SolverID: msg.SolverID})
	case "ping":
		c.reply(Message{Type: "pong"})
	}
}

func (c *client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.b.mu.RLock()
	defer c.b.mu.RUnlock()
	if _, ok := c.b.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) writePump() {
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
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

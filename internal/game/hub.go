package game

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

const (
	writeWait       = 10 * time.Second
	clientQueueSize = 256
	hubQueueSize    = 1024
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one subscriber. Outbound frames go through a bounded queue
// drained by a single writer, so a client sees events in emission order.
type Client struct {
	conn   Conn
	userID string
	game   GameType
	hub    *Hub

	out    chan frame
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

type frame struct {
	data []byte
	last bool
}

type channelMessage struct {
	game GameType
	evt  Event
}

// Hub fans events out per game channel. A single loop serializes every
// broadcast, which keeps per-channel ordering FIFO.
type Hub struct {
	clients    map[GameType]map[*Client]bool
	broadcast  chan channelMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	heartbeat time.Duration
	log       *zap.Logger
	stopped   chan struct{}
}

func NewHub(heartbeat time.Duration, log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[GameType]map[*Client]bool),
		broadcast:  make(chan channelMessage, hubQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		heartbeat:  heartbeat,
		log:        log.Named("hub"),
		stopped:    make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	var beat <-chan time.Time
	if h.heartbeat > 0 {
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		beat = t.C
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, subs := range h.clients {
				for client := range subs {
					client.close()
				}
			}
			h.clients = make(map[GameType]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			subs, ok := h.clients[client.game]
			if !ok {
				subs = make(map[*Client]bool)
				h.clients[client.game] = subs
			}
			subs[client] = true
			n := len(subs)
			h.mu.Unlock()
			h.log.Info("client connected",
				zap.String("user_id", client.userID),
				zap.String("channel", string(client.game)),
				zap.Int("total", n))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg.evt)
			if err != nil {
				h.log.Error("marshal event", zap.String("type", string(msg.evt.Type)), zap.Error(err))
				continue
			}
			h.fanOut(msg.game, data)

		case now := <-beat:
			data, _ := json.Marshal(Event{Type: EventHeartbeat, Payload: HeartbeatPayload{Timestamp: now}})
			for _, game := range GameTypes {
				h.fanOut(game, data)
			}
		}
	}
}

func (h *Hub) fanOut(game GameType, data []byte) {
	var slow []*Client
	h.mu.RLock()
	for client := range h.clients[game] {
		if !client.enqueue(frame{data: data}) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()
	for _, client := range slow {
		h.log.Warn("client queue full, disconnecting", zap.String("user_id", client.userID))
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	subs := h.clients[client.game]
	_, ok := subs[client]
	if ok {
		delete(subs, client)
	}
	n := len(subs)
	h.mu.Unlock()
	client.close()
	if ok {
		h.log.Info("client disconnected",
			zap.String("user_id", client.userID),
			zap.String("channel", string(client.game)),
			zap.Int("total", n))
	}
}

// Broadcast queues evt for every subscriber of game. It only blocks when
// the hub queue is full and returns immediately once the hub has stopped.
func (h *Hub) Broadcast(game GameType, evt Event) {
	select {
	case h.broadcast <- channelMessage{game: game, evt: evt}:
	case <-h.stopped:
	}
}

func (h *Hub) GetClientCount(game GameType) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[game])
}

// RegisterClient subscribes conn to a game channel and starts its writer.
func (h *Hub) RegisterClient(conn Conn, userID string, game GameType) *Client {
	client := &Client{
		conn:   conn,
		userID: userID,
		game:   game,
		hub:    h,
		out:    make(chan frame, clientQueueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go client.writePump()
	select {
	case h.register <- client:
	case <-h.stopped:
		client.close()
	}
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
		client.close()
	}
}

func (c *Client) UserID() string { return c.userID }

// Send queues an event for this client only.
func (c *Client) Send(evt Event) bool {
	return c.send(evt, false)
}

// SendAndClose queues evt as the client's final frame. The writer closes
// the connection once it is written.
func (c *Client) SendAndClose(evt Event) bool {
	return c.send(evt, true)
}

func (c *Client) send(evt Event, last bool) bool {
	data, err := json.Marshal(evt)
	if err != nil {
		c.hub.log.Error("marshal event", zap.String("type", string(evt.Type)), zap.Error(err))
		return false
	}
	return c.enqueue(frame{data: data, last: last})
}

func (c *Client) enqueue(f frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- f:
		return true
	default:
		return false
	}
}

// Wait blocks until the client's writer has exited. The connection must
// not be released before that.
func (c *Client) Wait() {
	<-c.exited
}

func (c *Client) writePump() {
	defer close(c.exited)
	for {
		select {
		case <-c.done:
			return
		case f := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				c.hub.log.Debug("write failed", zap.String("user_id", c.userID), zap.Error(err))
				go c.hub.UnregisterClient(c)
				return
			}
			if f.last {
				go c.hub.UnregisterClient(c)
				return
			}
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/bookvision/visualization/internal/model"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
)

// Client is one subscriber of a notification group.
type Client struct {
	Group string
	Conn  *websocket.Conn
	Send  chan []byte

	mu     sync.Mutex
	closed bool
}

// send queues data without blocking. It reports false when the buffer is
// full or the client is gone.
func (c *Client) send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Hub fans lifecycle events out to the subscribers of the job, book and user
// groups. Publish never blocks: events are queued and delivered in publish
// order by the Run loop.
type Hub struct {
	// Clients grouped by notification group
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client

	pending   []model.Event
	pendingMu sync.Mutex
	notify    chan struct{}

	// closed when Run returns
	done chan struct{}

	log zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Group] == nil {
				h.clients[client.Group] = make(map[*Client]bool)
			}
			h.clients[client.Group][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("group", client.Group).Msg("client registered")

		case client := <-h.unregister:
			h.remove(client)
			h.log.Debug().Str("group", client.Group).Msg("client unregistered")

		case <-h.notify:
			for _, e := range h.takePending() {
				h.deliver(e)
			}
		}
	}
}

// Publish queues events for delivery. It never blocks on slow subscribers.
func (h *Hub) Publish(_ context.Context, events ...model.Event) error {
	if len(events) == 0 {
		return nil
	}
	h.pendingMu.Lock()
	h.pending = append(h.pending, events...)
	h.pendingMu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
	return nil
}

func (h *Hub) takePending() []model.Event {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	events := h.pending
	h.pending = nil
	return events
}

func (h *Hub) deliver(e model.Event) {
	for _, group := range e.Groups() {
		h.mu.RLock()
		clients := make([]*Client, 0, len(h.clients[group]))
		for c := range h.clients[group] {
			clients = append(clients, c)
		}
		h.mu.RUnlock()
		if len(clients) == 0 {
			continue
		}

		data, err := json.Marshal(model.WSEventMessage{
			Type:  model.WSMessageTypeEvent,
			Group: group,
			Event: e,
		})
		if err != nil {
			h.log.Error().Err(err).Str("event", e.Type).Msg("failed to marshal event")
			continue
		}

		for _, c := range clients {
			if !c.send(data) {
				// Too slow to keep up; the client resubscribes and reloads state.
				h.log.Warn().Str("group", group).Str("job_id", e.JobID).Msg("dropping slow subscriber")
				h.remove(c)
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.Group]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			client.close()
			if len(clients) == 0 {
				delete(h.clients, client.Group)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for group, clients := range h.clients {
		for c := range clients {
			c.close()
		}
		delete(h.clients, group)
	}
}

// Subscribe registers a client for group. Once the hub has stopped the
// client comes back already closed.
func (h *Hub) Subscribe(group string) *Client {
	client := &Client{
		Group: group,
		Send:  make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
	return client
}

// Unsubscribe removes a client
func (h *Hub) Unsubscribe(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client)
	}
}

// SubscriberCount returns the number of clients listening on group.
func (h *Hub) SubscriberCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[group])
}

// HandleConnection serves one WebSocket subscriber of group until it disconnects.
func (h *Hub) HandleConnection(c *websocket.Conn, group string) {
	client := h.Subscribe(group)
	client.Conn = c
	defer h.Unsubscribe(client)

	if ack, err := json.Marshal(model.WSSubscribedMessage{Type: model.WSMessageTypeSubscribed, Group: group}); err == nil {
		client.send(ack)
	}

	done := make(chan struct{})
	defer close(done)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}

			case <-done:
				return
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("group", group).Msg("websocket error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.send(errorMessage("INVALID_MESSAGE", "message must be JSON"))
			continue
		}

		switch msg.Type {
		case model.WSMessageTypePing:
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.send(data)
		default:
			client.send(errorMessage("UNSUPPORTED_MESSAGE", "unsupported message type "+msg.Type))
		}
	}
}

func errorMessage(code, message string) []byte {
	data, _ := json.Marshal(model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		Error: model.WSError{Code: code, Message: message},
	})
	return data
}

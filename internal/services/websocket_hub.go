package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gallery/server/internal/observability"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	ID         string
	Subject    string // Set when the upgrade request was authenticated
	Topics     map[string]bool
	Conn       *websocket.Conn
	Send       chan []byte
	hub        *WebSocketHub
	mu         sync.Mutex
	closedOnce sync.Once
}

// WebSocketHub fans committed gallery events out to subscribed clients
type WebSocketHub struct {
	clients   map[*WSClient]bool
	topics    map[string]map[*WSClient]bool // topic -> clients
	broadcast chan *broadcastMsg
	closed    bool
	mu        sync.RWMutex
}

type broadcastMsg struct {
	topic   string
	message []byte
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:   make(map[*WSClient]bool),
		topics:    make(map[string]map[*WSClient]bool),
		broadcast: make(chan *broadcastMsg, 256),
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *WebSocketHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.topics = make(map[string]map[*WSClient]bool)
			h.closed = true
			h.mu.Unlock()
			return

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *WebSocketHub) remove(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	observability.WithField("client_id", client.ID).Debug("WebSocket client disconnected")
	for topic := range client.Topics {
		if topicClients, ok := h.topics[topic]; ok {
			delete(topicClients, client)
			if len(topicClients) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	close(client.Send)
}

func (h *WebSocketHub) deliver(msg *broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.clients
	if msg.topic != "" {
		targets = h.topics[msg.topic]
	}

	for client := range targets {
		select {
		case client.Send <- msg.message:
		default:
			// Client buffer full, close connection
			go h.Unregister(client)
		}
	}
}

// Register adds a client to the hub. After shutdown the client's Send
// channel is closed immediately so its pumps exit.
func (h *WebSocketHub) Register(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(client.Send)
		return
	}
	h.clients[client] = true
	observability.WithField("client_id", client.ID).Debug("WebSocket client connected")
}

// Unregister removes a client from the hub
func (h *WebSocketHub) Unregister(client *WSClient) {
	h.remove(client)
}

// SendTo queues a message for a single registered client without blocking
func (h *WebSocketHub) SendTo(client *WSClient, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// Subscribe adds a client to a topic
func (h *WebSocketHub) Subscribe(client *WSClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return
	}
	client.Topics[topic] = true
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*WSClient]bool)
	}
	h.topics[topic][client] = true
	observability.WithFields(map[string]interface{}{
		"client_id": client.ID,
		"topic":     topic,
	}).Debug("WebSocket client subscribed")
}

// Unsubscribe removes a client from a topic
func (h *WebSocketHub) Unsubscribe(client *WSClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.Topics, topic)
	if topicClients, ok := h.topics[topic]; ok {
		delete(topicClients, client)
		if len(topicClients) == 0 {
			delete(h.topics, topic)
		}
	}
}

// BroadcastToTopic queues a message for all clients subscribed to a topic.
// It never blocks: when the queue is full the message is dropped.
func (h *WebSocketHub) BroadcastToTopic(topic string, msg WSMessage) {
	h.enqueue(topic, msg)
}

// BroadcastAll queues a message for every connected client
func (h *WebSocketHub) BroadcastAll(msg WSMessage) {
	h.enqueue("", msg)
}

func (h *WebSocketHub) enqueue(topic string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		observability.Errorf("Error marshaling WebSocket message: %v", err)
		return
	}

	select {
	case h.broadcast <- &broadcastMsg{topic: topic, message: data}:
	default:
		observability.WithFields(map[string]interface{}{
			"topic": topic,
			"type":  msg.Type,
		}).Warn("WebSocket broadcast queue full, dropping event")
	}
}

// GetClientCount returns the number of connected clients
func (h *WebSocketHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetTopicSubscriberCount returns the number of subscribers for a topic
func (h *WebSocketHub) GetTopicSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.topics[topic]; ok {
		return len(clients)
	}
	return 0
}

// NewClient creates a new WebSocket client connected to this hub
func (h *WebSocketHub) NewClient(id string, conn *websocket.Conn) *WSClient {
	return &WSClient{
		ID:     id,
		Topics: make(map[string]bool),
		Conn:   conn,
		Send:   make(chan []byte, 256),
		hub:    h,
	}
}

// WSClient methods

// Close closes the client connection
func (c *WSClient) Close() {
	c.closedOnce.Do(func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	})
}

// WritePump pumps messages from the hub to the websocket connection
func (c *WSClient) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			c.mu.Unlock()

			if err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump pumps messages from the websocket connection to onMessage
func (c *WSClient) ReadPump(onMessage func(client *WSClient, messageType int, data []byte)) {
	defer c.Close()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.WithField("client_id", c.ID).Warnf("WebSocket error: %v", err)
			}
			break
		}

		if onMessage != nil {
			onMessage(c, messageType, message)
		}
	}
}

// Message types
const (
	WSTypeMembershipAdded   = "membership_added"
	WSTypeMembershipRemoved = "membership_removed"
	WSTypeMembershipMoved   = "membership_moved"
	WSTypeCategoryDeleted   = "category_deleted"
	WSTypePhotoUploaded     = "photo_uploaded"
	WSTypePhotoDeleted      = "photo_deleted"
	WSTypeError             = "error"
	WSTypeSubscribe         = "subscribe"
	WSTypeUnsubscribe       = "unsubscribe"
	WSTypePing              = "ping"
	WSTypePong              = "pong"
)

// Topics
const (
	TopicCategoryPrefix = "category:"
	TopicPhotos         = "photos"
)

// CategoryTopic is the topic carrying membership changes of one category
func CategoryTopic(categoryID string) string {
	return TopicCategoryPrefix + categoryID
}

// MembershipEventPayload is sent after a membership change commits
type MembershipEventPayload struct {
	CategoryID    string `json:"categoryId"`
	PhotoID       string `json:"photoId"`
	DisplayOrder  int    `json:"displayOrder,omitempty"`
	PreviousOrder int    `json:"previousOrder,omitempty"`
}

// CategoryDeletedPayload is sent after a category and its memberships are removed
type CategoryDeletedPayload struct {
	CategoryID         string `json:"categoryId"`
	MembershipsRemoved int    `json:"membershipsRemoved"`
}

// PhotoUploadedPayload is sent after an upload is stored
type PhotoUploadedPayload struct {
	PhotoID  string `json:"photoId"`
	Filename string `json:"filename"`
}

// PhotoDeletedPayload is sent after a photo row is deleted. CategoryIDs lists
// the categories it was removed from.
type PhotoDeletedPayload struct {
	PhotoID     string   `json:"photoId"`
	CategoryIDs []string `json:"categoryIds"`
}

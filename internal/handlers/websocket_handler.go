package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gallery/server/internal/middleware"
	"github.com/gallery/server/internal/observability"
	"github.com/gallery/server/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Gallery events are public; restrict at the proxy if needed
		return true
	},
}

// WebSocketHandler streams ordering and upload events to browsers
type WebSocketHandler struct {
	hub *services.WebSocketHub
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.WebSocketHub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleConnection upgrades HTTP to WebSocket and manages the connection.
// ?category=<id> subscribes to that category up front.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.WithContext(r.Context()).Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client := h.hub.NewClient(uuid.New().String(), conn)
	if principal := middleware.GetPrincipalFromContext(r.Context()); principal != nil {
		client.Subject = principal.Subject
	}

	h.hub.Register(client)
	if categoryID := r.URL.Query().Get("category"); categoryID != "" {
		h.hub.Subscribe(client, services.CategoryTopic(categoryID))
	}

	go client.WritePump()
	client.ReadPump(h.handleMessage)
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(client *services.WSClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(client, "invalid message")
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe:
		topic := topicFromPayload(msg.Payload)
		if !validTopic(topic) {
			h.sendError(client, "unknown topic")
			return
		}
		h.hub.Subscribe(client, topic)

	case services.WSTypeUnsubscribe:
		if topic := topicFromPayload(msg.Payload); topic != "" {
			h.hub.Unsubscribe(client, topic)
		}

	case services.WSTypePing:
		h.hub.SendTo(client, services.WSMessage{Type: services.WSTypePong})

	default:
		h.sendError(client, "unknown message type")
	}
}

func (h *WebSocketHandler) sendError(client *services.WSClient, message string) {
	h.hub.SendTo(client, services.WSMessage{Type: services.WSTypeError, Payload: map[string]string{"message": message}})
}

// topicFromPayload accepts either "topic" or {"topic": "..."}
func topicFromPayload(payload interface{}) string {
	switch p := payload.(type) {
	case string:
		return p
	case map[string]interface{}:
		if topic, ok := p["topic"].(string); ok {
			return topic
		}
	}
	return ""
}

func validTopic(topic string) bool {
	if topic == services.TopicPhotos {
		return true
	}
	return strings.HasPrefix(topic, services.TopicCategoryPrefix) && len(topic) > len(services.TopicCategoryPrefix)
}

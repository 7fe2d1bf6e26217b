package sse

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Event is one server-sent event.
type Event struct {
	Topic     string `json:"topic"`
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client is a connected stream subscribed to a set of topics.
type Client struct {
	ID     string
	UserID string
	Topics map[string]bool
	Events chan Event
}

// NewClient subscribes to topics with a buffer of size events.
func NewClient(id, userID string, topics []string, size int) *Client {
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = true
		}
	}
	return &Client{ID: id, UserID: userID, Topics: set, Events: make(chan Event, size)}
}

// Hub routes published events to the clients subscribed to their topic.
// Delivery is at most once: a full client buffer drops the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byTopic map[string]map[string]*Client
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		byTopic: make(map[string]map[string]*Client),
		logger:  logger.Named("sse"),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	for t := range client.Topics {
		subs, ok := h.byTopic[t]
		if !ok {
			subs = make(map[string]*Client)
			h.byTopic[t] = subs
		}
		subs[client.ID] = client
	}
	h.logger.Debug("client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("topics", len(client.Topics)),
		zap.Int("total", len(h.clients)),
	)
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	for t := range client.Topics {
		if subs := h.byTopic[t]; subs != nil {
			delete(subs, clientID)
			if len(subs) == 0 {
				delete(h.byTopic, t)
			}
		}
	}
	delete(h.clients, clientID)
	close(client.Events)
	h.logger.Debug("client unregistered", zap.String("client_id", clientID), zap.Int("total", len(h.clients)))
}

// Publish encodes payload and delivers it to topic subscribers without
// blocking.
func (h *Hub) Publish(topic, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("encode event", zap.String("topic", topic), zap.Error(err))
		return
	}
	ev := Event{Topic: topic, EventType: eventType, Data: string(data)}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.byTopic[topic] {
		select {
		case client.Events <- ev:
		default:
			h.logger.Warn("client buffer full, dropping event",
				zap.String("client_id", client.ID),
				zap.String("topic", topic),
			)
		}
	}
}

// Subscribers counts clients on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTopic[topic])
}

package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"qms/dispatch-service/internal/models"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_clients",
		Help: "Connected realtime clients.",
	})
	droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_dropped_messages_total",
		Help: "Messages dropped because a client's buffer was full.",
	})
)

// Subscription narrows what a client receives. Empty fields match all.
type Subscription struct {
	Table       models.Table
	ServiceCode string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
}

type SubscribeMessage struct {
	Action      string       `json:"action"`
	Table       models.Table `json:"table"`
	ServiceCode string       `json:"service_code"`
}

type envelope struct {
	Type      string             `json:"type"`
	Payload   models.ChangeEvent `json:"payload"`
	CreatedAt time.Time          `json:"created_at"`
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	connectedClients.Inc()
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	connectedClients.Dec()
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast never blocks; slow clients lose messages and catch up on
// their next refetch.
func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			droppedMessages.Inc()
			h.logger.Warn("drop message for client", "client_id", client.ID)
		}
	}
}

// Publish delivers a change event to matching clients.
func (h *Hub) Publish(_ context.Context, event models.ChangeEvent) error {
	payload, err := json.Marshal(envelope{Type: "change", Payload: event, CreatedAt: event.At})
	if err != nil {
		return err
	}
	h.Broadcast(payload, Subscription{Table: event.Table, ServiceCode: event.ServiceCode})
	return nil
}

func match(sub Subscription, meta Subscription) bool {
	if sub.Table != "" && meta.Table != sub.Table {
		return false
	}
	if sub.ServiceCode != "" && meta.ServiceCode != "" && meta.ServiceCode != sub.ServiceCode {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	switch msg.Table {
	case "", models.TableTickets, models.TableCounters:
	default:
		return SubscribeMessage{}, false
	}
	return msg, true
}

package hub

import (
	"encoding/json"
	"sync"

	"pkt.systems/pslog"

	"qms/ticket-service/internal/models"
)

// Subscription filters broadcasts. A nil TicketID receives every ticket.
type Subscription struct {
	TicketID *models.TicketID
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  pslog.Logger
}

type SubscribeMessage struct {
	Action   string           `json:"action"`
	TicketID *models.TicketID `json:"ticket_id,omitempty"`
}

func New(logger pslog.Logger) *Hub {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger.With("component", "hub")}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
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

// Broadcast never blocks; clients whose buffer is full miss the message.
func (h *Hub) Broadcast(payload []byte, ticketID models.TicketID) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, ticketID) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Debug("hub.drop", "client_id", client.ID, "ticket_id", ticketID)
		}
	}
}

func match(sub Subscription, ticketID models.TicketID) bool {
	return sub.TicketID == nil || *sub.TicketID == ticketID
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}

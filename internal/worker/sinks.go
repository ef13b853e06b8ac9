package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pkt.systems/pslog"

	"qms/ticket-service/internal/hub"
	"qms/ticket-service/internal/store"
)

// Sink receives chained ticket events.
type Sink interface {
	Deliver(ctx context.Context, event store.TicketEvent) error
}

type SinkFunc func(ctx context.Context, event store.TicketEvent) error

func (f SinkFunc) Deliver(ctx context.Context, event store.TicketEvent) error {
	return f(ctx, event)
}

// NewSink builds the sink named by kind: "log", "noop", "fail" or an
// http(s) webhook URL.
func NewSink(kind, token string, logger pslog.Logger) Sink {
	switch kind {
	case "", "stub", "log":
		return logSink{logger: logger}
	case "noop":
		return noopSink{}
	case "fail":
		return failSink{}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookSink{url: kind, token: token, client: &http.Client{Timeout: 5 * time.Second}}
		}
		return logSink{logger: logger}
	}
}

type logSink struct {
	logger pslog.Logger
}

func (s logSink) Deliver(ctx context.Context, event store.TicketEvent) error {
	if s.logger == nil {
		return nil
	}
	s.logger.Info("ticket.event", "type", event.Type, "ticket_id", event.TicketID, "seq", event.TicketSeq, "hash", event.Hash)
	return nil
}

type noopSink struct{}

func (noopSink) Deliver(ctx context.Context, event store.TicketEvent) error {
	return nil
}

type failSink struct{}

func (failSink) Deliver(ctx context.Context, event store.TicketEvent) error {
	return errors.New("sink failure")
}

type webhookSink struct {
	url    string
	token  string
	client *http.Client
}

func (s webhookSink) Deliver(ctx context.Context, event store.TicketEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected event: status %d", resp.StatusCode)
	}
	return nil
}

type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Seq       int             `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
}

// HubSink broadcasts events to realtime subscribers of the ticket.
func HubSink(h *hub.Hub) Sink {
	return SinkFunc(func(ctx context.Context, event store.TicketEvent) error {
		payload, err := json.Marshal(envelope{
			Type:      event.Type,
			Payload:   event.Payload,
			Seq:       event.TicketSeq,
			CreatedAt: event.CreatedAt,
		})
		if err != nil {
			return err
		}
		h.Broadcast(payload, event.TicketID)
		return nil
	})
}

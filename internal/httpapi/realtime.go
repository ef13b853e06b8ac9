package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"pkt.systems/pslog"

	"qms/ticket-service/internal/hub"
)

const realtimeSendBuffer = 16

// RealtimeHandler streams ticket events to sockjs sessions. A session receives
// every ticket until it subscribes to one with
// {"action":"subscribe","ticket_id":N}; "unsubscribe" widens it again.
func RealtimeHandler(h *hub.Hub, logger pslog.Logger) http.Handler {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, realtimeSendBuffer)}
		h.Register(client)
		defer h.Unregister(client)

		sessionLogger := logger.With("client_id", client.ID)
		sessionLogger.Debug("realtime.session.open")
		defer sessionLogger.Debug("realtime.session.closed")

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				_ = session.Send(`{"error":"unsupported message"}`)
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			if parsed.TicketID == nil {
				_ = session.Close(4000, "ticket_id is required")
				return
			}
			h.UpdateSubscription(client, hub.Subscription{TicketID: parsed.TicketID})
		}
	})
}

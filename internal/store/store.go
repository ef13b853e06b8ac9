package store

import (
	"context"
	"time"

	"qms/ticket-service/internal/models"
)

// TicketStore is the surface shared by every access discipline. All methods
// are safe for concurrent use.
type TicketStore interface {
	Add(ctx context.Context, draft models.TicketDraft) (models.TicketID, error)
	Get(ctx context.Context, id models.TicketID) (models.Ticket, error)
	Patch(ctx context.Context, patch models.TicketPatch) error
}

const (
	EventTicketCreated = "ticket.created"
	EventTicketPatched = "ticket.patched"
)

// Event describes a mutation that has become visible in a store.
type Event struct {
	Type       string
	Ticket     models.Ticket
	OccurredAt time.Time
}

// Notifier receives store events. Notify may run on a store's worker
// goroutine or with a ticket lock held; it must not block and must not call
// back into the store.
type Notifier interface {
	Notify(event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(event Event) { f(event) }

type discard struct{}

func (discard) Notify(Event) {}

// Discard drops every event.
var Discard Notifier = discard{}

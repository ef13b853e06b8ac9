// Package locked shares one ticket store between goroutines using a
// structural lock over the id map and one lock per ticket.
//
// Lock order: the structural lock is only ever held alone, for the map
// lookup or insert, and released before any ticket lock is taken. No code
// path holds two ticket locks. Events are handed to the notifier while the
// changed ticket's write lock is held, so each ticket's events arrive in the
// order its changes were made.
package locked

import (
	"context"
	"sync"
	"time"

	"qms/ticket-service/internal/models"
	"qms/ticket-service/internal/store"
)

type Options struct {
	Notifier store.Notifier
}

// Handle is an independently lockable ticket cell. Handles are owned by the
// store; callers get shared references that stay valid for the lifetime of
// the store.
type Handle struct {
	mu     sync.RWMutex
	ticket models.Ticket
}

// Snapshot returns a copy of the ticket taken under the read lock.
func (h *Handle) Snapshot() models.Ticket {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ticket
}

// Read runs fn with the read lock held. fn must not retain the pointer.
func (h *Handle) Read(fn func(*models.Ticket)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn(&h.ticket)
}

// Update runs fn with the write lock held. fn must not change the ticket id
// and must not acquire other store locks.
func (h *Handle) Update(fn func(*models.Ticket)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.ticket.ID
	fn(&h.ticket)
	h.ticket.ID = id
}

// Apply assigns the present patch fields under the write lock and returns
// the resulting ticket. Unlike Store.Patch it publishes no event.
func (h *Handle) Apply(patch models.TicketPatch) models.Ticket {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticket.Apply(patch)
	return h.ticket
}

type Store struct {
	mu       sync.RWMutex
	tickets  map[models.TicketID]*Handle
	counter  uint64
	notifier store.Notifier
}

var _ store.TicketStore = (*Store)(nil)

func New(options Options) *Store {
	notifier := options.Notifier
	if notifier == nil {
		notifier = store.Discard
	}
	return &Store{
		tickets:  make(map[models.TicketID]*Handle),
		notifier: notifier,
	}
}

func (s *Store) Add(ctx context.Context, draft models.TicketDraft) (models.TicketID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	id := models.TicketID(s.counter)
	s.counter++
	ticket := models.NewTicket(id, draft)
	// Published write-locked: a patch racing the insert waits until the
	// creation event is out.
	handle := &Handle{ticket: ticket}
	handle.mu.Lock()
	s.tickets[id] = handle
	s.mu.Unlock()

	s.notify(store.EventTicketCreated, ticket)
	handle.mu.Unlock()
	return id, nil
}

// Handle returns the lockable cell of a ticket. The structural lock is
// released before Handle returns.
func (s *Store) Handle(id models.TicketID) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handle, ok := s.tickets[id]
	return handle, ok
}

func (s *Store) Get(ctx context.Context, id models.TicketID) (models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, err
	}
	handle, ok := s.Handle(id)
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return handle.Snapshot(), nil
}

// Patch holds only the target ticket's write lock while assigning fields and
// publishing the event.
func (s *Store) Patch(ctx context.Context, patch models.TicketPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	handle, ok := s.Handle(patch.ID)
	if !ok {
		return store.ErrTicketNotFound
	}
	handle.mu.Lock()
	defer handle.mu.Unlock()
	handle.ticket.Apply(patch)
	s.notify(store.EventTicketPatched, handle.ticket)
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickets)
}

func (s *Store) notify(eventType string, ticket models.Ticket) {
	s.notifier.Notify(store.Event{Type: eventType, Ticket: ticket, OccurredAt: time.Now().UTC()})
}

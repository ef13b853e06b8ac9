package store

import "qms/ticket-service/internal/models"

// Tickets is the unsynchronized ticket map. It has exactly one owner at a
// time; concurrent use must go through an access discipline.
type Tickets struct {
	tickets map[models.TicketID]models.Ticket
	counter uint64
}

func NewTickets() *Tickets {
	return &Tickets{tickets: make(map[models.TicketID]models.Ticket)}
}

// Add allocates the next id and stores the draft as a todo ticket.
func (t *Tickets) Add(draft models.TicketDraft) models.Ticket {
	id := models.TicketID(t.counter)
	t.counter++
	ticket := models.NewTicket(id, draft)
	t.tickets[id] = ticket
	return ticket
}

// Get returns a copy of the ticket.
func (t *Tickets) Get(id models.TicketID) (models.Ticket, bool) {
	ticket, ok := t.tickets[id]
	return ticket, ok
}

// Patch applies the present fields of the patch and returns the result.
func (t *Tickets) Patch(patch models.TicketPatch) (models.Ticket, error) {
	ticket, ok := t.tickets[patch.ID]
	if !ok {
		return models.Ticket{}, ErrTicketNotFound
	}
	ticket.Apply(patch)
	t.tickets[patch.ID] = ticket
	return ticket, nil
}

func (t *Tickets) Len() int {
	return len(t.tickets)
}

package store

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qms/ticket-service/internal/models"
)

// TicketEvent is the chained, serializable form of an Event. Events of one
// ticket form a hash chain ordered by TicketSeq.
type TicketEvent struct {
	EventID   string          `json:"event_id"`
	TicketID  models.TicketID `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

func ComputeTicketEventHash(prevHash string, ticketID models.TicketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%d|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

type chainHead struct {
	seq  int
	hash string
}

// Chain assigns sequence numbers and hashes to events. It is not safe for
// concurrent use.
type Chain struct {
	heads map[models.TicketID]chainHead
}

func NewChain() *Chain {
	return &Chain{heads: make(map[models.TicketID]chainHead)}
}

// Link turns an Event into the next TicketEvent of its ticket.
func (c *Chain) Link(event Event) (TicketEvent, error) {
	payload, err := json.Marshal(event.Ticket)
	if err != nil {
		return TicketEvent{}, err
	}
	createdAt := event.OccurredAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	// timestamptz precision.
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	head := c.heads[event.Ticket.ID]
	seq := head.seq + 1
	hash := ComputeTicketEventHash(head.hash, event.Ticket.ID, event.Type, payload, createdAt, seq)
	c.heads[event.Ticket.ID] = chainHead{seq: seq, hash: hash}
	return TicketEvent{
		EventID:   uuid.NewString(),
		TicketID:  event.Ticket.ID,
		TicketSeq: seq,
		Type:      event.Type,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  head.hash,
		Hash:      hash,
	}, nil
}

var ErrBrokenChain = errors.New("ticket event chain broken")

// VerifyChain checks sequence continuity and hashes of one ticket's events.
func VerifyChain(events []TicketEvent) error {
	prev := ""
	for i, event := range events {
		if event.TicketSeq != i+1 || event.PrevHash != prev {
			return fmt.Errorf("%w at seq %d", ErrBrokenChain, event.TicketSeq)
		}
		want := ComputeTicketEventHash(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if want != event.Hash {
			return fmt.Errorf("%w at seq %d: hash mismatch", ErrBrokenChain, event.TicketSeq)
		}
		prev = event.Hash
	}
	return nil
}

// RehydrateTicket replays one ticket's events and returns its last state.
func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var snapshot models.Ticket
		if err := json.Unmarshal(event.Payload, &snapshot); err != nil {
			return models.Ticket{}, err
		}
		ticket = snapshot
	}
	return ticket, nil
}

package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"qms/ticket-service/internal/models"
)

func TestChainLinksPerTicket(t *testing.T) {
	chain := NewChain()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := models.NewTicket(0, models.TicketDraft{Title: "T1", Description: "D1"})
	second := models.NewTicket(1, models.TicketDraft{Title: "T2", Description: "D2"})

	a1, err := chain.Link(Event{Type: EventTicketCreated, Ticket: first, OccurredAt: at})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	b1, _ := chain.Link(Event{Type: EventTicketCreated, Ticket: second, OccurredAt: at})
	first.Status = models.StatusDone
	a2, _ := chain.Link(Event{Type: EventTicketPatched, Ticket: first, OccurredAt: at.Add(time.Second)})

	if a1.TicketSeq != 1 || b1.TicketSeq != 1 || a2.TicketSeq != 2 {
		t.Fatalf("unexpected seqs: %d %d %d", a1.TicketSeq, b1.TicketSeq, a2.TicketSeq)
	}
	if a1.PrevHash != "" || a2.PrevHash != a1.Hash {
		t.Fatalf("chain not linked: a1=%q a2.prev=%q", a1.Hash, a2.PrevHash)
	}
	if err := VerifyChain([]TicketEvent{a1, a2}); err != nil {
		t.Fatalf("verify: %v", err)
	}

	got, err := RehydrateTicket([]TicketEvent{a1, a2})
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if diff := cmp.Diff(first, got); diff != "" {
		t.Fatalf("rehydrated ticket mismatch (-want +got):\n%s", diff)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	chain := NewChain()
	ticket := models.NewTicket(3, models.TicketDraft{Title: "T", Description: "D"})
	e1, _ := chain.Link(Event{Type: EventTicketCreated, Ticket: ticket})
	ticket.Title = "changed"
	e2, _ := chain.Link(Event{Type: EventTicketPatched, Ticket: ticket})

	e2.Payload = []byte(`{"id":3,"title":"forged","description":"D","status":"todo"}`)
	if err := VerifyChain([]TicketEvent{e1, e2}); !errors.Is(err, ErrBrokenChain) {
		t.Fatalf("expected ErrBrokenChain, got %v", err)
	}
	if err := VerifyChain([]TicketEvent{e2}); !errors.Is(err, ErrBrokenChain) {
		t.Fatalf("expected ErrBrokenChain for gap, got %v", err)
	}
}

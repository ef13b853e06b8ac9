package hub

import (
	"testing"

	"qms/ticket-service/internal/models"
)

func TestBroadcastFiltersByTicket(t *testing.T) {
	h := New(nil)
	id := models.TicketID(3)
	all := &Client{ID: "all", Send: make(chan []byte, 4)}
	one := &Client{ID: "one", Send: make(chan []byte, 4), Subscription: Subscription{TicketID: &id}}
	h.Register(all)
	h.Register(one)

	h.Broadcast([]byte("a"), 3)
	h.Broadcast([]byte("b"), 4)

	if len(all.Send) != 2 {
		t.Fatalf("expected 2 messages for unfiltered client, got %d", len(all.Send))
	}
	if len(one.Send) != 1 || string(<-one.Send) != "a" {
		t.Fatalf("expected only ticket 3 message for filtered client")
	}
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	h := New(nil)
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)

	h.Broadcast([]byte("first"), 0)
	h.Broadcast([]byte("second"), 0)

	if got := string(<-slow.Send); got != "first" {
		t.Fatalf("expected first message, got %q", got)
	}
	select {
	case msg := <-slow.Send:
		t.Fatalf("expected drop, got %q", msg)
	default:
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := New(nil)
	c := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)
	if h.Len() != 0 {
		t.Fatalf("expected no clients, got %d", h.Len())
	}
	if _, ok := <-c.Send; ok {
		t.Fatalf("expected closed send channel")
	}
}

func TestParseSubscribe(t *testing.T) {
	cases := []struct {
		raw    string
		ok     bool
		ticket *models.TicketID
	}{
		{`{"action":"subscribe","ticket_id":5}`, true, ptr(models.TicketID(5))},
		{`{"action":"subscribe"}`, true, nil},
		{`{"action":"unsubscribe"}`, true, nil},
		{`{"action":"shout"}`, false, nil},
		{`not json`, false, nil},
	}
	for _, tc := range cases {
		msg, ok := ParseSubscribe([]byte(tc.raw))
		if ok != tc.ok {
			t.Fatalf("ParseSubscribe(%s) ok=%v, want %v", tc.raw, ok, tc.ok)
		}
		if tc.ticket != nil && (msg.TicketID == nil || *msg.TicketID != *tc.ticket) {
			t.Fatalf("ParseSubscribe(%s) ticket=%v, want %d", tc.raw, msg.TicketID, *tc.ticket)
		}
	}
}

func ptr[T any](v T) *T { return &v }

// Package actor serializes all access to a ticket store through one worker
// goroutine. Callers hand commands to the worker over a bounded queue and
// wait for the answer on a private reply channel.
package actor

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"

	"qms/ticket-service/internal/models"
	"qms/ticket-service/internal/store"
)

const DefaultCapacity = 128

type Options struct {
	// Capacity bounds the number of queued commands. Values below one use
	// DefaultCapacity.
	Capacity int
	Notifier store.Notifier
	Logger   pslog.Logger
}

type command interface {
	execute(s *server)
}

type insertCommand struct {
	draft models.TicketDraft
	reply chan models.TicketID
}

type getResult struct {
	ticket models.Ticket
	found  bool
}

type getCommand struct {
	id    models.TicketID
	reply chan getResult
}

type patchCommand struct {
	patch models.TicketPatch
	reply chan error
}

// server is the worker side. Only the worker goroutine touches tickets.
type server struct {
	tickets  *store.Tickets
	commands <-chan command
	done     <-chan struct{}
	notifier store.Notifier
	logger   pslog.Logger
	handled  uint64
}

func (c insertCommand) execute(s *server) {
	ticket := s.tickets.Add(c.draft)
	s.notify(store.EventTicketCreated, ticket)
	// Reply channels hold one value, so an abandoned caller never stalls the
	// worker.
	c.reply <- ticket.ID
}

func (c getCommand) execute(s *server) {
	ticket, found := s.tickets.Get(c.id)
	c.reply <- getResult{ticket: ticket, found: found}
}

func (c patchCommand) execute(s *server) {
	ticket, err := s.tickets.Patch(c.patch)
	if err == nil {
		s.notify(store.EventTicketPatched, ticket)
	}
	c.reply <- err
}

func (s *server) notify(eventType string, ticket models.Ticket) {
	s.notifier.Notify(store.Event{Type: eventType, Ticket: ticket, OccurredAt: time.Now().UTC()})
}

func (s *server) run(stopped chan<- struct{}) {
	defer close(stopped)
	s.logger.Debug("store.actor.started")
	for {
		select {
		case <-s.done:
			s.logger.Debug("store.actor.stopped", "handled", s.handled, "tickets", s.tickets.Len())
			return
		case cmd := <-s.commands:
			cmd.execute(s)
			s.handled++
		}
	}
}

// Client is the caller-side handle of a running worker. It is safe for
// concurrent use.
type Client struct {
	commands  chan command
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

var _ store.TicketStore = (*Client)(nil)

// Launch starts a worker owning a fresh ticket store and returns its client.
func Launch(options Options) *Client {
	capacity := options.Capacity
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	notifier := options.Notifier
	if notifier == nil {
		notifier = store.Discard
	}
	logger := options.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	c := &Client{
		commands: make(chan command, capacity),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	s := &server{
		tickets:  store.NewTickets(),
		commands: c.commands,
		done:     c.done,
		notifier: notifier,
		logger:   logger.With("store", "actor", "capacity", capacity),
	}
	go s.run(c.stopped)
	return c
}

func (c *Client) Add(ctx context.Context, draft models.TicketDraft) (models.TicketID, error) {
	reply := make(chan models.TicketID, 1)
	if err := c.enqueue(ctx, insertCommand{draft: draft, reply: reply}); err != nil {
		return 0, err
	}
	return await(ctx, c, reply)
}

// Get returns a point-in-time copy of the ticket.
func (c *Client) Get(ctx context.Context, id models.TicketID) (models.Ticket, error) {
	reply := make(chan getResult, 1)
	if err := c.enqueue(ctx, getCommand{id: id, reply: reply}); err != nil {
		return models.Ticket{}, err
	}
	result, err := await(ctx, c, reply)
	if err != nil {
		return models.Ticket{}, err
	}
	if !result.found {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return result.ticket, nil
}

func (c *Client) Patch(ctx context.Context, patch models.TicketPatch) error {
	reply := make(chan error, 1)
	if err := c.enqueue(ctx, patchCommand{patch: patch, reply: reply}); err != nil {
		return err
	}
	result, err := await(ctx, c, reply)
	if err != nil {
		return err
	}
	return result
}

// Pending reports how many commands are queued and not yet picked up.
func (c *Client) Pending() int {
	return len(c.commands)
}

func (c *Client) Capacity() int {
	return cap(c.commands)
}

// Done is closed once the worker has exited.
func (c *Client) Done() <-chan struct{} {
	return c.stopped
}

// Close stops the worker and waits for it to exit. Commands still queued are
// not executed; their callers get ErrWorkerGone.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.stopped
}

// enqueue never blocks: a full queue is reported as ErrOverloaded.
func (c *Client) enqueue(ctx context.Context, cmd command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return store.ErrWorkerGone
	default:
	}
	select {
	case c.commands <- cmd:
		return nil
	default:
		return store.ErrOverloaded
	}
}

func await[T any](ctx context.Context, c *Client, reply <-chan T) (T, error) {
	var zero T
	select {
	case value := <-reply:
		return value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.stopped:
		// The worker may have answered just before exiting.
		select {
		case value := <-reply:
			return value, nil
		default:
			return zero, store.ErrWorkerGone
		}
	}
}

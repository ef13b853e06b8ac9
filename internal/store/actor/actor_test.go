package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"qms/ticket-service/internal/models"
	"qms/ticket-service/internal/store"
	"qms/ticket-service/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.TicketStore {
		c := Launch(Options{Capacity: storetest.MaxInFlight})
		t.Cleanup(c.Close)
		return c
	})
}

// gate blocks the worker inside its first notification until released.
type gate struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) Notify(store.Event) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
}

func draft() models.TicketDraft {
	return models.TicketDraft{Title: "T", Description: "D"}
}

func TestOverloadedWhenQueueFull(t *testing.T) {
	const capacity = 4
	g := newGate()
	c := Launch(Options{Capacity: capacity, Notifier: g})
	t.Cleanup(c.Close)
	require.Equal(t, capacity, c.Capacity())

	ctx := context.Background()
	var callers errgroup.Group
	callers.Go(func() error {
		_, err := c.Add(ctx, draft())
		return err
	})
	<-g.entered

	for i := 0; i < capacity; i++ {
		callers.Go(func() error {
			_, err := c.Add(ctx, draft())
			return err
		})
	}
	require.Eventually(t, func() bool { return c.Pending() == capacity }, 2*time.Second, time.Millisecond)

	start := time.Now()
	_, err := c.Add(ctx, draft())
	require.ErrorIs(t, err, store.ErrOverloaded)
	_, err = c.Get(ctx, 0)
	require.ErrorIs(t, err, store.ErrOverloaded)
	require.ErrorIs(t, c.Patch(ctx, models.TicketPatch{ID: 0}), store.ErrOverloaded)
	require.Less(t, time.Since(start), time.Second, "rejection must not wait for queue space")
	require.Equal(t, capacity, c.Pending(), "rejected requests must not grow the queue")

	close(g.release)
	require.NoError(t, callers.Wait())

	id, err := c.Add(ctx, draft())
	require.NoError(t, err)
	require.Equal(t, models.TicketID(capacity+1), id)
}

func TestAbandonedCallerDoesNotStallWorker(t *testing.T) {
	g := newGate()
	c := Launch(Options{Capacity: 2, Notifier: g})
	t.Cleanup(c.Close)

	go func() { _, _ = c.Add(context.Background(), draft()) }()
	<-g.entered

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, 0)
		abandoned <- err
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-abandoned, context.Canceled)

	close(g.release)

	ticket, err := c.Get(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, models.StatusToDo, ticket.Status)
}

func TestCallerTimeout(t *testing.T) {
	g := newGate()
	c := Launch(Options{Capacity: 2, Notifier: g})
	t.Cleanup(func() {
		close(g.release)
		c.Close()
	})

	go func() { _, _ = c.Add(context.Background(), draft()) }()
	<-g.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Add(ctx, draft())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClosedClientReportsWorkerGone(t *testing.T) {
	c := Launch(Options{})
	_, err := c.Add(context.Background(), draft())
	require.NoError(t, err)

	c.Close()
	c.Close()

	select {
	case <-c.Done():
	default:
		t.Fatalf("worker still running after Close")
	}

	_, err = c.Add(context.Background(), draft())
	require.ErrorIs(t, err, store.ErrWorkerGone)
	_, err = c.Get(context.Background(), 0)
	require.ErrorIs(t, err, store.ErrWorkerGone)
	require.ErrorIs(t, c.Patch(context.Background(), models.TicketPatch{ID: 0}), store.ErrWorkerGone)
}

func TestQueuedCallersFinishWhenClosed(t *testing.T) {
	g := newGate()
	c := Launch(Options{Capacity: 4, Notifier: g})

	go func() { _, _ = c.Add(context.Background(), draft()) }()
	<-g.entered

	queued := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), 0)
		queued <- err
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, 2*time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	close(g.release)
	<-closed

	select {
	case err := <-queued:
		if err != nil && !errors.Is(err, store.ErrWorkerGone) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("queued caller still blocked after Close")
	}
}

func TestCommandsApplyInArrivalOrder(t *testing.T) {
	var (
		mu     sync.Mutex
		events []store.Event
	)
	c := Launch(Options{Notifier: store.NotifierFunc(func(e store.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})})
	t.Cleanup(c.Close)

	ctx := context.Background()
	id, err := c.Add(ctx, draft())
	require.NoError(t, err)
	for _, status := range []models.Status{models.StatusInProgress, models.StatusDone, models.StatusToDo} {
		status := status
		require.NoError(t, c.Patch(ctx, models.TicketPatch{ID: id, Status: &status}))
	}
	require.ErrorIs(t, c.Patch(ctx, models.TicketPatch{ID: 99}), store.ErrTicketNotFound)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 4)
	require.Equal(t, store.EventTicketCreated, events[0].Type)
	want := []models.Status{models.StatusInProgress, models.StatusDone, models.StatusToDo}
	for i, status := range want {
		require.Equal(t, store.EventTicketPatched, events[i+1].Type)
		require.Equal(t, status, events[i+1].Ticket.Status)
	}
}

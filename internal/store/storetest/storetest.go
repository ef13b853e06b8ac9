// Package storetest holds the behaviour every store.TicketStore
// implementation must share, independent of its access discipline.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"qms/ticket-service/internal/models"
	"qms/ticket-service/internal/store"
)

// Factory returns a fresh, empty store. Implementations register their own
// cleanup on t. The store must accept at least MaxInFlight concurrent
// requests.
type Factory func(t *testing.T) store.TicketStore

// MaxInFlight is the highest number of requests the suite keeps outstanding
// at once.
const MaxInFlight = 8

func Run(t *testing.T, newStore Factory) {
	t.Run("Scenario", func(t *testing.T) { testScenario(t, newStore(t)) })
	t.Run("IDsStrictlyIncrease", func(t *testing.T) { testIDsStrictlyIncrease(t, newStore(t)) })
	t.Run("GetAfterAdd", func(t *testing.T) { testGetAfterAdd(t, newStore(t)) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, newStore(t)) })
	t.Run("StatusOnlyPatch", func(t *testing.T) { testStatusOnlyPatch(t, newStore(t)) })
	t.Run("PatchUnknownLeavesStore", func(t *testing.T) { testPatchUnknownLeavesStore(t, newStore(t)) })
	t.Run("EmptyPatchIsNoop", func(t *testing.T) { testEmptyPatchIsNoop(t, newStore(t)) })
	t.Run("ConcurrentAdds", func(t *testing.T) { testConcurrentAdds(t, newStore(t)) })
	t.Run("ConcurrentPatchesKeepBothFields", func(t *testing.T) { testConcurrentPatchesKeepBothFields(t, newStore(t)) })
	t.Run("CancelledContext", func(t *testing.T) { testCancelledContext(t, newStore(t)) })
}

func ptr[T any](v T) *T { return &v }

func mustAdd(t *testing.T, st store.TicketStore, title, description string) models.TicketID {
	t.Helper()
	id, err := st.Add(context.Background(), models.TicketDraft{Title: title, Description: description})
	require.NoError(t, err)
	return id
}

func mustGet(t *testing.T, st store.TicketStore, id models.TicketID) models.Ticket {
	t.Helper()
	ticket, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func requireTicket(t *testing.T, want, got models.Ticket) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ticket mismatch (-want +got):\n%s", diff)
	}
}

func testScenario(t *testing.T, st store.TicketStore) {
	ctx := context.Background()

	require.Equal(t, models.TicketID(0), mustAdd(t, st, "T1", "D1"))
	require.Equal(t, models.TicketID(1), mustAdd(t, st, "T2", "D2"))
	requireTicket(t, models.Ticket{ID: 0, Title: "T1", Description: "D1", Status: models.StatusToDo}, mustGet(t, st, 0))

	require.NoError(t, st.Patch(ctx, models.TicketPatch{ID: 0, Status: ptr(models.StatusInProgress)}))
	requireTicket(t, models.Ticket{ID: 0, Title: "T1", Description: "D1", Status: models.StatusInProgress}, mustGet(t, st, 0))

	_, err := st.Get(ctx, 5)
	require.ErrorIs(t, err, store.ErrTicketNotFound)
}

func testIDsStrictlyIncrease(t *testing.T, st store.TicketStore) {
	last := models.TicketID(0)
	for i := 0; i < 64; i++ {
		id := mustAdd(t, st, fmt.Sprintf("T%d", i), "D")
		if i > 0 && id <= last {
			t.Fatalf("id %d allocated after %d", id, last)
		}
		last = id
	}
}

func testGetAfterAdd(t *testing.T, st store.TicketStore) {
	draft := models.TicketDraft{Title: "Printer on fire", Description: "Third floor, again"}
	id, err := st.Add(context.Background(), draft)
	require.NoError(t, err)
	requireTicket(t, models.Ticket{ID: id, Title: draft.Title, Description: draft.Description, Status: models.StatusToDo}, mustGet(t, st, id))
}

func testGetUnknown(t *testing.T, st store.TicketStore) {
	_, err := st.Get(context.Background(), 0)
	require.ErrorIs(t, err, store.ErrTicketNotFound)
}

func testStatusOnlyPatch(t *testing.T, st store.TicketStore) {
	id := mustAdd(t, st, "Title with ünïcode", "Description\nwith newline")
	before := mustGet(t, st, id)

	require.NoError(t, st.Patch(context.Background(), models.TicketPatch{ID: id, Status: ptr(models.StatusDone)}))

	after := mustGet(t, st, id)
	require.Equal(t, models.StatusDone, after.Status)
	require.Equal(t, []byte(before.Title), []byte(after.Title))
	require.Equal(t, []byte(before.Description), []byte(after.Description))
}

func testPatchUnknownLeavesStore(t *testing.T, st store.TicketStore) {
	ids := []models.TicketID{mustAdd(t, st, "T1", "D1"), mustAdd(t, st, "T2", "D2")}
	before := make([]models.Ticket, 0, len(ids))
	for _, id := range ids {
		before = append(before, mustGet(t, st, id))
	}

	err := st.Patch(context.Background(), models.TicketPatch{
		ID:          ids[len(ids)-1] + 100,
		Title:       ptr("ghost"),
		Description: ptr("ghost"),
		Status:      ptr(models.StatusDone),
	})
	require.ErrorIs(t, err, store.ErrTicketNotFound)

	for i, id := range ids {
		requireTicket(t, before[i], mustGet(t, st, id))
	}
	_, err = st.Get(context.Background(), ids[len(ids)-1]+100)
	require.ErrorIs(t, err, store.ErrTicketNotFound)
}

func testEmptyPatchIsNoop(t *testing.T, st store.TicketStore) {
	id := mustAdd(t, st, "T1", "D1")
	before := mustGet(t, st, id)
	require.NoError(t, st.Patch(context.Background(), models.TicketPatch{ID: id}))
	requireTicket(t, before, mustGet(t, st, id))
}

func testConcurrentAdds(t *testing.T, st store.TicketStore) {
	const perCaller = 25
	var (
		mu  sync.Mutex
		ids []models.TicketID
	)
	g, ctx := errgroup.WithContext(context.Background())
	for caller := 0; caller < MaxInFlight; caller++ {
		caller := caller
		g.Go(func() error {
			for i := 0; i < perCaller; i++ {
				id, err := st.Add(ctx, models.TicketDraft{
					Title:       fmt.Sprintf("caller-%d", caller),
					Description: fmt.Sprintf("ticket-%d", i),
				})
				if err != nil {
					return err
				}
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, ids, MaxInFlight*perCaller)

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			t.Fatalf("duplicate id %d", ids[i])
		}
	}
	for _, id := range ids {
		ticket := mustGet(t, st, id)
		require.Equal(t, id, ticket.ID)
	}
}

func testConcurrentPatchesKeepBothFields(t *testing.T, st store.TicketStore) {
	const rounds = 50
	id := mustAdd(t, st, "T", "D")

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if err := st.Patch(ctx, models.TicketPatch{ID: id, Title: ptr(fmt.Sprintf("title-%d", i))}); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if err := st.Patch(ctx, models.TicketPatch{ID: id, Description: ptr(fmt.Sprintf("description-%d", i))}); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if _, err := st.Get(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	got := mustGet(t, st, id)
	requireTicket(t, models.Ticket{
		ID:          id,
		Title:       fmt.Sprintf("title-%d", rounds-1),
		Description: fmt.Sprintf("description-%d", rounds-1),
		Status:      models.StatusToDo,
	}, got)
}

func testCancelledContext(t *testing.T, st store.TicketStore) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.Add(ctx, models.TicketDraft{Title: "T", Description: "D"})
	require.ErrorIs(t, err, context.Canceled)

	// A cancelled caller must not consume an id.
	require.Equal(t, models.TicketID(0), mustAdd(t, st, "T", "D"))
}

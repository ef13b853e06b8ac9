// Package postgres persists chained ticket events. It is an audit trail of
// what the in-memory stores did, not a store the service reads tickets from.
//
// Ticket ids and sequences restart with every process, so each Journal tags
// its rows with a run id and events are keyed by (run, ticket, seq).
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"qms/ticket-service/internal/models"
	"qms/ticket-service/internal/store"
)

//go:embed schema.sql
var schema string

// ErrDuplicateEvent is returned when an event with the same ticket sequence
// was already journaled by the same run.
var ErrDuplicateEvent = errors.New("ticket event already journaled")

type Journal struct {
	pool  *pgxpool.Pool
	runID uuid.UUID
}

// NewJournal starts a new run: every event appended through the returned
// Journal carries a fresh run id.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool, runID: uuid.New()}
}

func (j *Journal) RunID() uuid.UUID {
	return j.runID
}

func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// Deliver appends the event. It satisfies the dispatcher's sink interface.
func (j *Journal) Deliver(ctx context.Context, event store.TicketEvent) error {
	return j.Append(ctx, event)
}

func (j *Journal) Append(ctx context.Context, event store.TicketEvent) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO ticket_events (event_id, run_id, ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.EventID, j.runID.String(), int64(event.TicketID), event.TicketSeq, event.Type, []byte(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: ticket %d seq %d", ErrDuplicateEvent, event.TicketID, event.TicketSeq)
	}
	return err
}

// ListTicketEvents returns the events one run journaled for a ticket, oldest
// first.
func (j *Journal) ListTicketEvents(ctx context.Context, runID uuid.UUID, ticketID models.TicketID) ([]store.TicketEvent, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT event_id::text, ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE run_id = $1 AND ticket_id = $2
		ORDER BY ticket_seq ASC
	`, runID.String(), int64(ticketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var (
			event   store.TicketEvent
			id      int64
			payload []byte
		)
		if err := rows.Scan(&event.EventID, &id, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.TicketID = models.TicketID(id)
		event.Payload = payload
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// LatestTicket rebuilds a ticket's last state journaled by a run after
// checking its chain.
func (j *Journal) LatestTicket(ctx context.Context, runID uuid.UUID, ticketID models.TicketID) (models.Ticket, error) {
	events, err := j.ListTicketEvents(ctx, runID, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if len(events) == 0 {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if err := store.VerifyChain(events); err != nil {
		return models.Ticket{}, err
	}
	return store.RehydrateTicket(events)
}

// Ping reports whether the journal database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.pool.Ping(ctx)
}

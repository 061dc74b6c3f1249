package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eternisai/doorbell-dispatch/internal/ledger"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertEvent = `
INSERT INTO doorbell_events (
    event_id, device_id, event_type, event_timestamp,
    notifications_sent, notifications_failed, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (event_id) DO NOTHING`

// EventStore writes the event ledger to Postgres.
type EventStore struct {
	db execer
}

func NewEventStore(db execer) *EventStore {
	return &EventStore{db: db}
}

// PutEvent implements ledger.Store. Replaying an event id is a no-op.
func (s *EventStore) PutEvent(ctx context.Context, entry ledger.Entry) error {
	_, err := s.db.ExecContext(ctx, insertEvent,
		entry.EventID,
		entry.DeviceID,
		entry.EventType,
		entry.Timestamp.UTC(),
		entry.NotificationsSent,
		entry.NotificationsFailed,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert doorbell event %s: %w", entry.EventID, err)
	}
	return nil
}

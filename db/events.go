package db

import (
	"context"
	"database/sql"
	"time"
)

// StoredEvent is a row of the domain event outbox.
type StoredEvent struct {
	Id      int64
	Name    string
	Payload []byte
}

const (
	sqlSelectPendingEvents = `SELECT id, name, payload FROM domain_events WHERE dispatched_at IS NULL ORDER BY id LIMIT ?`
	sqlMarkEventDispatched = `UPDATE domain_events SET dispatched_at = ? WHERE id = ?`
	sqlPurgeEvents         = `DELETE FROM domain_events WHERE dispatched_at IS NOT NULL AND dispatched_at < ?`
)

// ReadPendingEvents returns up to limit undispatched events in id order.
func (db *DB) ReadPendingEvents(ctx context.Context, limit int) ([]StoredEvent, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPendingEvents, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var payload string
		if err := rows.Scan(&e.Id, &e.Name, &payload); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (db *DB) MarkEventDispatched(ctx context.Context, id int64) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlMarkEventDispatched, time.Now().Unix(), id)
		return err
	})
}

// PurgeDispatchedEvents deletes events dispatched before cutoff.
func (db *DB) PurgeDispatchedEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlPurgeEvents, cutoff.Unix())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

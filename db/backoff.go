package db

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/deemkeen/pubgate/domain"
)

// BaseBackoff is the first backoff window after a failed delivery. Each
// further failure doubles the previous window, with no cap short of
// maxBackoffSeconds.
const BaseBackoff = 60 * time.Second

// maxBackoffSeconds is the largest window a time.Duration can hold. Doubling
// saturates there instead of wrapping negative.
const maxBackoffSeconds = math.MaxInt64 / int64(time.Second)

const (
	sqlSelectBackoff = `SELECT account_id, backoff_until, backoff_seconds, last_failure_reason, updated_at
		FROM delivery_backoffs WHERE account_id = ?`
	sqlUpsertBackoff = `INSERT INTO delivery_backoffs(account_id, backoff_until, backoff_seconds, last_failure_reason, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET backoff_until = excluded.backoff_until,
			backoff_seconds = excluded.backoff_seconds, last_failure_reason = excluded.last_failure_reason,
			updated_at = excluded.updated_at`
	sqlSelectIsExternal = `SELECT site_id IS NULL FROM accounts WHERE id = ?`
)

func scanBackoff(row scanner) (*domain.DeliveryBackoff, error) {
	var b domain.DeliveryBackoff
	var until, updated int64
	if err := row.Scan(&b.AccountId, &until, &b.BackoffSeconds, &b.LastFailureReason, &updated); err != nil {
		return nil, err
	}
	b.BackoffUntil = fromUnix(until)
	b.UpdatedAt = fromUnix(updated)
	return &b, nil
}

// ReadBackoff returns the backoff record of accountId, or nil when there is none.
func (db *DB) ReadBackoff(ctx context.Context, accountId int64) (*domain.DeliveryBackoff, error) {
	b, err := scanBackoff(db.db.QueryRowContext(ctx, sqlSelectBackoff, accountId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

// ReadActiveBackoffs returns the records of accountIds whose window has not
// expired at now.
func (db *DB) ReadActiveBackoffs(ctx context.Context, accountIds []int64, now time.Time) (map[int64]domain.DeliveryBackoff, error) {
	active := make(map[int64]domain.DeliveryBackoff)
	if len(accountIds) == 0 {
		return active, nil
	}
	for _, chunk := range chunkIds(accountIds, 500) {
		args := append(int64Args(chunk), now.Unix())
		rows, err := db.db.QueryContext(ctx, `SELECT account_id, backoff_until, backoff_seconds, last_failure_reason, updated_at
			FROM delivery_backoffs WHERE account_id IN (`+placeholders(len(chunk))+`) AND backoff_until > ?`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			b, err := scanBackoff(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			active[b.AccountId] = *b
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return active, nil
}

// RecordDeliveryFailure starts or doubles the backoff window of accountId.
// Internal accounts never accumulate backoff; nil is returned for them.
func (db *DB) RecordDeliveryFailure(ctx context.Context, accountId int64, reason string, now time.Time) (*domain.DeliveryBackoff, error) {
	var result *domain.DeliveryBackoff
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		result = nil
		var external bool
		if err := tx.QueryRowContext(ctx, sqlSelectIsExternal, accountId).Scan(&external); err != nil {
			return err
		}
		if !external {
			return nil
		}

		seconds := int64(BaseBackoff / time.Second)
		prev, err := scanBackoff(tx.QueryRowContext(ctx, sqlSelectBackoff, accountId))
		switch {
		case err == nil:
			seconds = maxBackoffSeconds
			if prev.BackoffSeconds < maxBackoffSeconds/2 {
				seconds = prev.BackoffSeconds * 2
			}
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		b := &domain.DeliveryBackoff{
			AccountId:         accountId,
			BackoffSeconds:    seconds,
			BackoffUntil:      now.Add(time.Duration(seconds) * time.Second).UTC(),
			LastFailureReason: reason,
			UpdatedAt:         now.UTC(),
		}
		if _, err := tx.ExecContext(ctx, sqlUpsertBackoff, b.AccountId, b.BackoffUntil.Unix(), b.BackoffSeconds, b.LastFailureReason, b.UpdatedAt.Unix()); err != nil {
			return err
		}
		result = b
		return nil
	})
	return result, err
}

// ClearBackoffs deletes the backoff records of accountIds.
func (db *DB) ClearBackoffs(ctx context.Context, accountIds []int64) error {
	if len(accountIds) == 0 {
		return nil
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, chunk := range chunkIds(accountIds, 500) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM delivery_backoffs WHERE account_id IN (`+placeholders(len(chunk))+`)`, int64Args(chunk)...); err != nil {
				return err
			}
		}
		return nil
	})
}

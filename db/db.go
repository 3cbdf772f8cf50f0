package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/domain"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const (
	maxTxAttempts = 5
	busyBackoff   = 50 * time.Millisecond
)

// DB is the relational store.
type DB struct {
	db  *sql.DB
	log *log.Logger
}

// Open opens the sqlite database at path with the pragmas every connection
// needs. Transactions begin IMMEDIATE so writers queue on the busy timeout
// instead of failing on lock upgrade.
func Open(path string, logger *log.Logger) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Database initialized", "path", path)
	return &DB{db: sqlDB, log: logger}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// WithTx runs f in a transaction. It is exported for stores layered on top of
// this one that must commit in the same transaction.
func (db *DB) WithTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	return db.wrapTransaction(ctx, f)
}

// wrapTransaction runs the given function within a transaction, retrying the
// whole transaction while sqlite reports SQLITE_BUSY.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.runTransaction(ctx, f)
		if !isBusy(err) {
			break
		}
		db.log.Warn("Database busy, retrying transaction", "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyBackoff * time.Duration(attempt)):
		}
	}
	if err != nil && domain.KindOf(err) == domain.KindInternal {
		db.log.Error("Error in transaction", "err", err)
	}
	return err
}

func (db *DB) runTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()&0xff == sqlitelib.SQLITE_BUSY
	}
	return false
}

const sqlInsertDomainEvent = `INSERT INTO domain_events(name, payload, created_at) VALUES (?, ?, ?)`

// appendEvents stores events in the outbox table inside tx, so they are
// committed or rolled back together with the state change that produced them.
func appendEvents(ctx context.Context, tx *sql.Tx, events []domain.Event) error {
	now := time.Now().Unix()
	for _, e := range events {
		payload, err := domain.EncodeEvent(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlInsertDomainEvent, e.EventName(), string(payload), now); err != nil {
			return fmt.Errorf("failed to store event %s: %w", e.EventName(), err)
		}
	}
	return nil
}

// execWithEvents runs a single-row mutation and stores events only when a row
// was affected. It reports whether a row was affected.
func (db *DB) execWithEvents(ctx context.Context, events []domain.Event, query string, args ...any) (bool, error) {
	changed := false
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = n > 0
		if !changed {
			return nil
		}
		return appendEvents(ctx, tx, events)
	})
	return changed, err
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().Unix()
	}
	return t.Unix()
}

func fromUnix(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

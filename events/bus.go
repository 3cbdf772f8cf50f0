// Package events dispatches domain events stored in the relational outbox
// table to in-process subscribers.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
)

const (
	flushBatch = 100
	// an event whose handlers keep failing is dropped after this many flushes
	maxAttempts = 3
	retention   = 24 * time.Hour
)

// Handler reacts to one domain event. Handlers must be idempotent: an event
// is redelivered when any handler for it fails.
type Handler func(ctx context.Context, e domain.Event) error

// Store is the event outbox.
type Store interface {
	ReadPendingEvents(ctx context.Context, limit int) ([]db.StoredEvent, error)
	MarkEventDispatched(ctx context.Context, id int64) error
	PurgeDispatchedEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

type Bus struct {
	store    Store
	log      *log.Logger
	mu       sync.Mutex
	handlers map[string][]Handler
	failures map[int64]int
}

func NewBus(store Store, logger *log.Logger) *Bus {
	return &Bus{
		store:    store,
		log:      logger.WithPrefix("Events"),
		handlers: make(map[string][]Handler),
		failures: make(map[int64]int),
	}
}

// Subscribe registers h for events named name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Flush dispatches every pending event in id order. Flushes are serialized,
// so concurrent callers never deliver the same event twice. Flush stops at
// the first event whose handlers fail, leaving it and its successors for the
// next flush.
func (b *Bus) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		pending, err := b.store.ReadPendingEvents(ctx, flushBatch)
		if err != nil {
			return fmt.Errorf("failed to read pending events: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}
		for _, stored := range pending {
			if err := b.dispatch(ctx, stored); err != nil {
				b.failures[stored.Id]++
				if b.failures[stored.Id] < maxAttempts {
					b.log.Warn("Event handler failed", "event", stored.Name, "id", stored.Id, "err", err)
					return err
				}
				b.log.Error("Dropping event after repeated failures", "event", stored.Name, "id", stored.Id, "err", err)
			}
			delete(b.failures, stored.Id)
			if err := b.store.MarkEventDispatched(ctx, stored.Id); err != nil {
				return fmt.Errorf("failed to mark event %d dispatched: %w", stored.Id, err)
			}
		}
		if len(pending) < flushBatch {
			return nil
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, stored db.StoredEvent) error {
	e, err := domain.DecodeEvent(stored.Name, stored.Payload)
	if err != nil {
		b.log.Error("Undecodable event", "id", stored.Id, "err", err)
		return nil
	}
	for _, h := range b.handlers[stored.Name] {
		if err := h(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Run flushes every interval until ctx is done, picking up events left behind
// by a crash between commit and flush. Dispatched events older than a day are
// purged on each tick.
func (b *Bus) Run(ctx context.Context, interval time.Duration) {
	b.log.Info("Starting event flush worker", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil {
				b.log.Warn("Periodic flush failed", "err", err)
			}
			if n, err := b.store.PurgeDispatchedEvents(ctx, time.Now().Add(-retention)); err != nil {
				b.log.Warn("Failed to purge events", "err", err)
			} else if n > 0 {
				b.log.Debug("Purged dispatched events", "count", n)
			}
		}
	}
}

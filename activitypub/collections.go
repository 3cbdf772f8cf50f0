package activitypub

import (
	"context"
	"fmt"
	"net/url"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/pagination"
)

// Collections renders the public OrderedCollections of site actors. Without
// page the collection summary is returned; with page the page following
// cursor is returned. Cursors are query-escaped once more in page links so a
// decoded query parameter yields the cursor unchanged.
type Collections struct {
	store *db.DB
	docs  *DocumentStore
	log   *log.Logger
}

func NewCollections(store *db.DB, docs *DocumentStore, logger *log.Logger) *Collections {
	return &Collections{store: store, docs: docs, log: logger.WithPrefix("Collections")}
}

func orderedCollection(id string, total int) map[string]any {
	return map[string]any{
		"@context":   ContextActivityStreams,
		"id":         id,
		"type":       "OrderedCollection",
		"totalItems": total,
		"first":      id + "?page=true",
	}
}

func orderedCollectionPage(partOf, cursor string, items []any, next *string) map[string]any {
	id := partOf + "?page=true"
	if cursor != "" {
		id += "&cursor=" + url.QueryEscape(cursor)
	}
	page := map[string]any{
		"@context":     ContextActivityStreams,
		"id":           id,
		"type":         "OrderedCollectionPage",
		"partOf":       partOf,
		"orderedItems": items,
	}
	if next != nil {
		page["next"] = fmt.Sprintf("%s?page=true&cursor=%s", partOf, url.QueryEscape(*next))
	}
	return page
}

// Outbox lists the public Create and Announce activities of the site.
func (c *Collections) Outbox(ctx context.Context, acc *domain.Account, page bool, cursor string) (map[string]any, error) {
	keys, err := c.docs.List(ctx, acc.Domain(), ListOutbox)
	if err != nil {
		return nil, err
	}
	sorted, err := sortedKeys(ctx, c.store, keys, isPostActivity)
	if err != nil {
		return nil, err
	}
	if !page {
		return orderedCollection(acc.OutboxURI, len(sorted)), nil
	}
	p, err := pagination.Paginate(sorted, identity, cursor, pagination.DefaultLimit)
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, len(p.Items))
	for _, key := range p.Items {
		doc, err := c.docs.Get(ctx, key)
		if err != nil {
			c.log.Debug("Skipping outbox item", "key", key, "err", err)
			continue
		}
		if !isPublicDoc(doc) {
			continue
		}
		delete(doc, "@context")
		items = append(items, doc)
	}
	return orderedCollectionPage(acc.OutboxURI, cursor, items, p.Next), nil
}

func isPublicDoc(doc map[string]any) bool {
	for _, list := range [][]string{stringsProp(doc, "to"), stringsProp(doc, "cc")} {
		for _, addr := range list {
			if isPublic(addr) {
				return true
			}
		}
	}
	return false
}

// Followers lists the actor ids following the site.
func (c *Collections) Followers(ctx context.Context, acc *domain.Account, page bool, cursor string) (map[string]any, error) {
	if !page {
		n, err := c.store.CountFollowers(ctx, acc.Id)
		if err != nil {
			return nil, err
		}
		return orderedCollection(acc.FollowersURI, n), nil
	}
	return c.followPage(ctx, acc.FollowersURI, cursor, func(before int64, limit int) ([]db.FollowEntry, error) {
		return c.store.ReadFollowersPage(ctx, acc.Id, before, limit)
	})
}

// Following lists the actor ids the site follows.
func (c *Collections) Following(ctx context.Context, acc *domain.Account, page bool, cursor string) (map[string]any, error) {
	if !page {
		n, err := c.store.CountFollowing(ctx, acc.Id)
		if err != nil {
			return nil, err
		}
		return orderedCollection(acc.FollowingURI, n), nil
	}
	return c.followPage(ctx, acc.FollowingURI, cursor, func(before int64, limit int) ([]db.FollowEntry, error) {
		return c.store.ReadFollowingPage(ctx, acc.Id, before, limit)
	})
}

func (c *Collections) followPage(ctx context.Context, partOf, cursor string, read func(before int64, limit int) ([]db.FollowEntry, error)) (map[string]any, error) {
	before, err := pagination.DecodeID(cursor)
	if err != nil {
		return nil, err
	}
	limit := pagination.DefaultLimit
	entries, err := read(before, limit+1)
	if err != nil {
		return nil, err
	}
	var next *string
	if len(entries) > limit {
		entries = entries[:limit]
		n := pagination.EncodeID(entries[limit-1].FollowId)
		next = &n
	}
	items := make([]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.Account.ActorURI)
	}
	return orderedCollectionPage(partOf, cursor, items, next), nil
}

// Liked lists the objects the site liked, newest first.
func (c *Collections) Liked(ctx context.Context, acc *domain.Account, page bool, cursor string) (map[string]any, error) {
	keys, err := c.docs.List(ctx, acc.Domain(), ListLiked)
	if err != nil {
		return nil, err
	}
	sorted, err := sortedKeys(ctx, c.store, keys, nil)
	if err != nil {
		return nil, err
	}
	if !page {
		return orderedCollection(acc.LikedURI, len(sorted)), nil
	}
	p, err := pagination.Paginate(sorted, identity, cursor, pagination.DefaultLimit)
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, len(p.Items))
	for _, key := range p.Items {
		doc, err := c.docs.Get(ctx, key)
		if err != nil {
			continue
		}
		if object := parseRef(doc["object"]).ID; object != "" {
			items = append(items, object)
		}
	}
	return orderedCollectionPage(acc.LikedURI, cursor, items, p.Next), nil
}

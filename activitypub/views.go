package activitypub

import (
	"context"
	"slices"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/pagination"
)

const maxThreadDepth = 50

// ActivitiesQuery filters the activities of a site inbox.
type ActivitiesQuery struct {
	Types          []string
	ObjectTypes    []string
	ExcludeReplies bool
	// ExcludeNonFollowers is accepted for compatibility and has no effect.
	ExcludeNonFollowers bool
	// IncludeOwn merges the site outbox into the candidates.
	IncludeOwn bool
	Cursor     string
	Limit      int
}

func (q ActivitiesQuery) match(m domain.ActivityMeta) bool {
	if len(q.Types) > 0 && !slices.Contains(q.Types, m.ActivityType) {
		return false
	}
	if len(q.ObjectTypes) > 0 && !slices.Contains(q.ObjectTypes, m.ObjectType) {
		return false
	}
	if q.ExcludeReplies && m.ReplyObjectURI != "" {
		return false
	}
	return true
}

// Views serves the read side of the client API.
type Views struct {
	store    *db.DB
	docs     *DocumentStore
	resolver *Resolver
	builder  *Builder
	log      *log.Logger
}

func NewViews(store *db.DB, docs *DocumentStore, resolver *Resolver, builder *Builder, logger *log.Logger) *Views {
	return &Views{store: store, docs: docs, resolver: resolver, builder: builder, log: logger.WithPrefix("Views")}
}

// sortedKeys drops keys without a meta row or rejected by keep and orders
// the rest newest first by meta id.
func sortedKeys(ctx context.Context, store *db.DB, keys []string, keep func(domain.ActivityMeta) bool) ([]string, error) {
	metas, err := store.ReadMetaByKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.ActivityMeta, 0, len(metas))
	for _, m := range metas {
		if keep == nil || keep(m) {
			rows = append(rows, m)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Id > rows[j].Id })
	out := make([]string, len(rows))
	for i, m := range rows {
		out[i] = m.Key
	}
	return out, nil
}

func identity(s string) string { return s }

func (v *Views) buildPage(ctx context.Context, host string, keys []string, cursor string, limit int) (pagination.Page[map[string]any], error) {
	page, err := pagination.Paginate(keys, identity, cursor, limit)
	if err != nil {
		return pagination.Page[map[string]any]{}, err
	}
	viewer, err := v.builder.Viewer(ctx, host)
	if err != nil {
		return pagination.Page[map[string]any]{}, err
	}
	items, err := v.builder.BuildAll(ctx, page.Items, viewer)
	if err != nil {
		return pagination.Page[map[string]any]{}, err
	}
	return pagination.Page[map[string]any]{Items: items, Next: page.Next}, nil
}

// Activities pages the site inbox, newest first.
func (v *Views) Activities(ctx context.Context, host string, q ActivitiesQuery) (pagination.Page[map[string]any], error) {
	keys, err := v.docs.List(ctx, host, ListInbox)
	if err != nil {
		return pagination.Page[map[string]any]{}, err
	}
	if q.IncludeOwn {
		own, err := v.docs.List(ctx, host, ListOutbox)
		if err != nil {
			return pagination.Page[map[string]any]{}, err
		}
		keys = append(keys, own...)
	}
	sorted, err := sortedKeys(ctx, v.store, keys, q.match)
	if err != nil {
		return pagination.Page[map[string]any]{}, err
	}
	return v.buildPage(ctx, host, sorted, q.Cursor, q.Limit)
}

// LegacyInbox pages the articles received by the site straight from its KV
// inbox list.
func (v *Views) LegacyInbox(ctx context.Context, host, cursor string, limit int) (pagination.Page[map[string]any], error) {
	return v.Activities(ctx, host, ActivitiesQuery{
		Types:       []string{"Create"},
		ObjectTypes: []string{"Article"},
		Cursor:      cursor,
		Limit:       limit,
	})
}

// Thread returns the Create activities of the ancestors of objectURI, of
// the object itself and of its direct replies, in that order.
func (v *Views) Thread(ctx context.Context, host, objectURI string) ([]map[string]any, error) {
	own, err := v.store.ReadLatestActivityKey(ctx, "Create", objectURI, "")
	if err != nil {
		return nil, err
	}
	if own == "" {
		return nil, domain.NotFound("no thread for %s", objectURI)
	}

	var ancestors []string
	current := objectURI
	for range maxThreadDepth {
		doc, err := v.docs.Get(ctx, current)
		if err != nil {
			if domain.IsKind(err, domain.KindNotFound) || domain.IsKind(err, domain.KindInvariant) {
				break
			}
			return nil, err
		}
		parent := parseRef(doc["inReplyTo"]).ID
		if parent == "" || parent == objectURI {
			break
		}
		key, err := v.store.ReadLatestActivityKey(ctx, "Create", parent, "")
		if err != nil {
			return nil, err
		}
		if key != "" {
			ancestors = append(ancestors, key)
		}
		current = parent
	}
	slices.Reverse(ancestors)

	replies, err := v.store.ReadReplyKeys(ctx, objectURI)
	if err != nil {
		return nil, err
	}
	keys := append(append(ancestors, own), replies...)

	viewer, err := v.builder.Viewer(ctx, host)
	if err != nil {
		return nil, err
	}
	return v.builder.BuildAll(ctx, keys, viewer)
}

// Profile is an account as seen by a site.
type Profile struct {
	Account           *domain.Account
	FollowerCount     int
	FollowingCount    int
	PostCount         int
	LikedCount        int
	FollowedByMe      bool
	FollowsMe         bool
	BlockedByMe       bool
	DomainBlockedByMe bool
	IsFollowing       bool
}

// Profile resolves handle and reports it relative to viewer.
func (v *Views) Profile(ctx context.Context, viewer *domain.Account, handle string) (*Profile, error) {
	acc, err := v.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	p := &Profile{Account: acc}
	if p.FollowerCount, err = v.store.CountFollowers(ctx, acc.Id); err != nil {
		return nil, err
	}
	if p.FollowingCount, err = v.store.CountFollowing(ctx, acc.Id); err != nil {
		return nil, err
	}
	if p.PostCount, err = v.store.CountPosts(ctx, acc.Id); err != nil {
		return nil, err
	}
	if p.LikedCount, err = v.store.CountLikedPosts(ctx, acc.Id); err != nil {
		return nil, err
	}
	if acc.Id == viewer.Id {
		return p, nil
	}
	if p.FollowedByMe, err = v.store.IsFollowing(ctx, viewer.Id, acc.Id); err != nil {
		return nil, err
	}
	if p.FollowsMe, err = v.store.IsFollowing(ctx, acc.Id, viewer.Id); err != nil {
		return nil, err
	}
	if p.BlockedByMe, err = v.store.IsBlocking(ctx, viewer.Id, acc.Id); err != nil {
		return nil, err
	}
	if p.DomainBlockedByMe, err = v.store.IsDomainBlocking(ctx, viewer.Id, acc.Domain()); err != nil {
		return nil, err
	}
	p.IsFollowing = p.FollowedByMe
	return p, nil
}

// AccountEntry is one account of a followers or following page.
type AccountEntry struct {
	Account      *domain.Account
	FollowedByMe bool
	BlockedByMe  bool
}

// Followers pages the followers of handle. Internal accounts page the
// relational follows; external ones page their remote collection.
func (v *Views) Followers(ctx context.Context, viewer *domain.Account, handle, cursor string, limit int) (pagination.Page[AccountEntry], error) {
	return v.follows(ctx, viewer, handle, cursor, limit, true)
}

func (v *Views) Following(ctx context.Context, viewer *domain.Account, handle, cursor string, limit int) (pagination.Page[AccountEntry], error) {
	return v.follows(ctx, viewer, handle, cursor, limit, false)
}

func (v *Views) follows(ctx context.Context, viewer *domain.Account, handle, cursor string, limit int, followers bool) (pagination.Page[AccountEntry], error) {
	acc, err := v.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return pagination.Page[AccountEntry]{}, err
	}
	limit = pagination.Limit(limit)

	var accounts []*domain.Account
	var next *string
	if acc.IsInternal() {
		before, err := pagination.DecodeID(cursor)
		if err != nil {
			return pagination.Page[AccountEntry]{}, err
		}
		read := v.store.ReadFollowingPage
		if followers {
			read = v.store.ReadFollowersPage
		}
		entries, err := read(ctx, acc.Id, before, limit+1)
		if err != nil {
			return pagination.Page[AccountEntry]{}, err
		}
		if len(entries) > limit {
			entries = entries[:limit]
			n := pagination.EncodeID(entries[limit-1].FollowId)
			next = &n
		}
		for i := range entries {
			accounts = append(accounts, &entries[i].Account)
		}
	} else {
		collection := acc.FollowingURI
		if followers {
			collection = acc.FollowersURI
		}
		accounts, next, err = v.remoteAccounts(ctx, collection, cursor)
		if err != nil {
			return pagination.Page[AccountEntry]{}, err
		}
	}

	page := pagination.Page[AccountEntry]{Items: make([]AccountEntry, 0, len(accounts)), Next: next}
	for _, a := range accounts {
		entry := AccountEntry{Account: a}
		if a.Id != viewer.Id {
			if entry.FollowedByMe, err = v.store.IsFollowing(ctx, viewer.Id, a.Id); err != nil {
				return pagination.Page[AccountEntry]{}, err
			}
			if entry.BlockedByMe, err = v.store.IsBlocking(ctx, viewer.Id, a.Id); err != nil {
				return pagination.Page[AccountEntry]{}, err
			}
		}
		page.Items = append(page.Items, entry)
	}
	return page, nil
}

// remoteAccounts fetches one page of a remote actor collection. A cursor is
// the url of the page to fetch and must live on the collection's host.
func (v *Views) remoteAccounts(ctx context.Context, collection, cursor string) ([]*domain.Account, *string, error) {
	if collection == "" {
		return nil, nil, nil
	}
	uri := collection
	if cursor != "" {
		decoded, err := pagination.DecodeCursor(cursor)
		if err != nil {
			return nil, nil, err
		}
		if err := pagination.ValidateSameHost(decoded, collection); err != nil {
			return nil, nil, err
		}
		uri = decoded
	}
	page, err := v.resolver.FetchCollectionPage(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	var accounts []*domain.Account
	for _, id := range page.Items {
		acc, err := v.resolver.ResolveActor(ctx, id)
		if err != nil {
			v.log.Debug("Skipping unresolvable collection member", "actor", id, "err", err)
			continue
		}
		accounts = append(accounts, acc)
	}
	var next *string
	if page.Next != "" && pagination.ValidateSameHost(page.Next, collection) == nil {
		n := pagination.EncodeCursor(page.Next)
		next = &n
	}
	return accounts, next, nil
}

// ProfilePosts pages the posts of handle. Internal accounts are read from
// their site outbox; external ones from their remote outbox.
func (v *Views) ProfilePosts(ctx context.Context, host, handle, cursor string, limit int) (pagination.Page[map[string]any], error) {
	acc, err := v.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return pagination.Page[map[string]any]{}, err
	}
	if acc.IsInternal() {
		keys, err := v.docs.List(ctx, acc.Domain(), ListOutbox)
		if err != nil {
			return pagination.Page[map[string]any]{}, err
		}
		sorted, err := sortedKeys(ctx, v.store, keys, isPostActivity)
		if err != nil {
			return pagination.Page[map[string]any]{}, err
		}
		return v.buildPage(ctx, host, sorted, cursor, limit)
	}
	return v.remotePosts(ctx, host, acc, cursor)
}

func isPostActivity(m domain.ActivityMeta) bool {
	return m.ActivityType == "Create" || m.ActivityType == "Announce"
}

func (v *Views) remotePosts(ctx context.Context, host string, acc *domain.Account, cursor string) (pagination.Page[map[string]any], error) {
	if acc.OutboxURI == "" {
		return pagination.Page[map[string]any]{Items: []map[string]any{}}, nil
	}
	uri := acc.OutboxURI
	if cursor != "" {
		decoded, err := pagination.DecodeCursor(cursor)
		if err != nil {
			return pagination.Page[map[string]any]{}, err
		}
		if err := pagination.ValidateSameHost(decoded, acc.OutboxURI); err != nil {
			return pagination.Page[map[string]any]{}, err
		}
		uri = decoded
	}
	page, err := v.resolver.FetchCollectionPage(ctx, uri)
	if err != nil {
		return pagination.Page[map[string]any]{}, err
	}

	var keys []string
	for _, doc := range page.Embedded {
		id := stringProp(doc, "id")
		t := stringProp(doc, "type")
		if id == "" || (t != "Create" && t != "Announce") || domain.DomainOf(id) != acc.Domain() {
			continue
		}
		if err := v.docs.PutObject(ctx, doc); err != nil {
			return pagination.Page[map[string]any]{}, err
		}
		keys = append(keys, id)
	}

	viewer, err := v.builder.Viewer(ctx, host)
	if err != nil {
		return pagination.Page[map[string]any]{}, err
	}
	items, err := v.builder.BuildAll(ctx, keys, viewer)
	if err != nil {
		return pagination.Page[map[string]any]{}, err
	}
	result := pagination.Page[map[string]any]{Items: items}
	if page.Next != "" && pagination.ValidateSameHost(page.Next, acc.OutboxURI) == nil {
		n := pagination.EncodeCursor(page.Next)
		result.Next = &n
	}
	return result, nil
}

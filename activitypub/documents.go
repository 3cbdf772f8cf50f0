package activitypub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/kv"
)

// Site list names.
const (
	ListInbox     = "inbox"
	ListOutbox    = "outbox"
	ListLiked     = "liked"
	ListReposted  = "reposted"
	ListFollowing = "following"
	ListFollowers = "followers"
)

// DocumentStore keeps canonical JSON-LD documents in the KV store and their
// relational meta rows in step.
type DocumentStore struct {
	kv *kv.Store
	db *db.DB
}

func NewDocumentStore(store *kv.Store, database *db.DB) *DocumentStore {
	return &DocumentStore{kv: store, db: database}
}

// Get returns the document stored under uri. Missing documents are
// NotFound; undecodable ones are Invariant.
func (s *DocumentStore) Get(ctx context.Context, uri string) (map[string]any, error) {
	raw, err := s.kv.Get(ctx, kv.ObjectKey(uri))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, domain.NotFound("document %s not found", uri)
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, domain.Invariant("corrupt document %s", uri).Wrap(err)
	}
	return doc, nil
}

func (s *DocumentStore) Has(ctx context.Context, uri string) (bool, error) {
	return s.kv.Has(ctx, kv.ObjectKey(uri))
}

// Put stores an activity under its id and records its meta row. The embedded
// object is stored under its own id as well when the actor owns it: the
// object of a Create attributed to the actor, or the actor of an Update.
func (s *DocumentStore) Put(ctx context.Context, doc map[string]any) error {
	id := stringProp(doc, "id")
	if id == "" {
		return domain.Validation("document without id")
	}
	if err := s.kv.Set(ctx, kv.ObjectKey(id), doc); err != nil {
		return err
	}

	actor := parseRef(doc["actor"]).ID
	object := parseRef(doc["object"])
	meta := &domain.ActivityMeta{
		Key:          id,
		ActivityType: stringProp(doc, "type"),
		ObjectURI:    object.ID,
	}
	if object.Embedded() {
		meta.ObjectType = object.Type()
		meta.ReplyObjectURI = parseRef(object.Doc["inReplyTo"]).ID
		owned := false
		switch meta.ActivityType {
		case "Create":
			owned = parseRef(object.Doc["attributedTo"]).ID == actor && sameHost(object.ID, actor)
		case "Update":
			owned = object.ID == actor
		}
		if owned && object.ID != "" {
			if err := s.kv.Set(ctx, kv.ObjectKey(object.ID), object.Doc); err != nil {
				return err
			}
		}
	}
	return s.db.UpsertMeta(ctx, meta)
}

// sameHost reports whether a and b are URIs on the same (normalized) host.
func sameHost(a, b string) bool {
	host := domain.DomainOf(a)
	return host != "" && host == domain.DomainOf(b)
}

// PutObject stores a document without a meta row. Used for actors and
// objects fetched from remote servers, which never appear in activity lists.
func (s *DocumentStore) PutObject(ctx context.Context, doc map[string]any) error {
	id := stringProp(doc, "id")
	if id == "" {
		return domain.Validation("document without id")
	}
	return s.kv.Set(ctx, kv.ObjectKey(id), doc)
}

func (s *DocumentStore) Delete(ctx context.Context, uri string) error {
	return s.kv.Delete(ctx, kv.ObjectKey(uri))
}

// List returns the site list, oldest entry first.
func (s *DocumentStore) List(ctx context.Context, host, list string) ([]string, error) {
	return s.kv.List(ctx, kv.SiteListKey(host, list))
}

func (s *DocumentStore) ListContains(ctx context.Context, host, list, value string) (bool, error) {
	return s.kv.ListContains(ctx, kv.SiteListKey(host, list), value)
}

// AddToList appends value to the site list and reports whether it was absent.
func (s *DocumentStore) AddToList(ctx context.Context, host, list, value string) (bool, error) {
	return s.kv.AddToList(ctx, kv.SiteListKey(host, list), value)
}

func (s *DocumentStore) RemoveFromList(ctx context.Context, host, list, value string) (bool, error) {
	return s.kv.RemoveFromList(ctx, kv.SiteListKey(host, list), value)
}

// ListSet returns the site list as a set.
func (s *DocumentStore) ListSet(ctx context.Context, host, list string) (map[string]bool, error) {
	values, err := s.List(ctx, host, list)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set, nil
}

package activitypub

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
)

// ViewerLists are the reference lists of the viewing site that decide the
// viewer-relative flags of a built activity.
type ViewerLists struct {
	Host     string
	Liked    map[string]bool
	Reposted map[string]bool
}

// Builder renders stored activities into the shape returned by the client
// API.
type Builder struct {
	store *db.DB
	docs  *DocumentStore
	log   *log.Logger
}

func NewBuilder(store *db.DB, docs *DocumentStore, logger *log.Logger) *Builder {
	return &Builder{store: store, docs: docs, log: logger.WithPrefix("Builder")}
}

// Viewer loads the liked and reposted lists of the site host.
func (b *Builder) Viewer(ctx context.Context, host string) (ViewerLists, error) {
	liked, err := b.docs.ListSet(ctx, host, ListLiked)
	if err != nil {
		return ViewerLists{}, err
	}
	reposted, err := b.docs.ListSet(ctx, host, ListReposted)
	if err != nil {
		return ViewerLists{}, err
	}
	return ViewerLists{Host: host, Liked: liked, Reposted: reposted}, nil
}

// BuildActivity loads the activity stored under key and enriches it for v.
// A missing or corrupt document yields nil without an error so that callers
// building a page can drop it.
func (b *Builder) BuildActivity(ctx context.Context, key string, v ViewerLists) (map[string]any, error) {
	doc, err := b.docs.Get(ctx, key)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) || domain.IsKind(err, domain.KindInvariant) {
			b.log.Debug("Skipping unresolvable activity", "key", key, "err", err)
			return nil, nil
		}
		return nil, err
	}

	if actorID, ok := doc["actor"].(string); ok {
		if actor, err := b.deref(ctx, actorID); err != nil {
			return nil, err
		} else if actor != nil {
			doc["actor"] = actor
		}
	}

	var object map[string]any
	switch o := doc["object"].(type) {
	case string:
		object, err = b.deref(ctx, o)
		if err != nil {
			return nil, err
		}
	case map[string]any:
		object = o
	}
	if object == nil {
		return doc, nil
	}

	if author, ok := object["attributedTo"].(string); ok {
		if resolved, err := b.deref(ctx, author); err != nil {
			return nil, err
		} else if resolved != nil {
			object["attributedTo"] = resolved
		}
	}

	if id := stringProp(object, "id"); id != "" {
		object["liked"] = v.Liked[LikeID(v.Host, id)]
		object["reposted"] = v.Reposted[AnnounceID(v.Host, id)]
		replies, reposts, err := b.store.ReadInteractionCounts(ctx, id)
		if err != nil {
			return nil, err
		}
		object["replyCount"] = replies
		object["repostCount"] = reposts
	}
	doc["object"] = object
	return doc, nil
}

// BuildAll builds keys in order, dropping the ones that cannot be built.
func (b *Builder) BuildAll(ctx context.Context, keys []string, v ViewerLists) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		doc, err := b.BuildActivity(ctx, key, v)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (b *Builder) deref(ctx context.Context, uri string) (map[string]any, error) {
	doc, err := b.docs.Get(ctx, uri)
	switch {
	case err == nil:
		return doc, nil
	case domain.IsKind(err, domain.KindNotFound), domain.IsKind(err, domain.KindInvariant):
		return nil, nil
	}
	return nil, err
}

package activitypub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/events"
	"github.com/deemkeen/pubgate/util"
	"github.com/google/uuid"
)

// Outbox turns actions of a site account into activities. Every action
// persists its documents and relational state before anything is sent, and
// returns without waiting for delivery.
type Outbox struct {
	store      *db.DB
	docs       *DocumentStore
	resolver   *Resolver
	dispatcher *Dispatcher
	bus        *events.Bus
	log        *log.Logger
}

func NewOutbox(store *db.DB, docs *DocumentStore, resolver *Resolver, dispatcher *Dispatcher, bus *events.Bus, logger *log.Logger) *Outbox {
	return &Outbox{
		store:      store,
		docs:       docs,
		resolver:   resolver,
		dispatcher: dispatcher,
		bus:        bus,
		log:        logger.WithPrefix("Outbox"),
	}
}

func (o *Outbox) flush(ctx context.Context) {
	if err := o.bus.Flush(ctx); err != nil {
		o.log.Warn("Event flush failed, will retry", "err", err)
	}
}

func (o *Outbox) sendTo(acc, target *domain.Account, doc map[string]any) {
	if target == nil || target.Id == acc.Id {
		return
	}
	o.dispatcher.Dispatch(acc, ToAccount(target), doc, SendOptions{})
}

func (o *Outbox) sendToFollowers(acc *domain.Account, doc map[string]any) {
	o.dispatcher.Dispatch(acc, ToFollowers, doc, SendOptions{PreferSharedInbox: true})
}

// record stores doc and appends it to the site outbox.
func (o *Outbox) record(ctx context.Context, acc *domain.Account, doc map[string]any) error {
	if err := o.docs.Put(ctx, doc); err != nil {
		return fmt.Errorf("failed to store %s: %w", doc["type"], err)
	}
	_, err := o.docs.AddToList(ctx, acc.Domain(), ListOutbox, doc["id"].(string))
	return err
}

// Follow sends a Follow to the actor named by handle (an actor URI or
// @user@host). The relational edge is recorded when the Accept arrives.
func (o *Outbox) Follow(ctx context.Context, acc *domain.Account, handle string) (map[string]any, error) {
	target, err := o.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if target.Id == acc.Id {
		return nil, domain.Validation("cannot follow yourself")
	}
	following, err := o.store.IsFollowing(ctx, acc.Id, target.Id)
	if err != nil {
		return nil, err
	}
	if following {
		return nil, domain.Conflict("already following %s", target.Handle())
	}

	doc := map[string]any{
		"@context": ContextActivityStreams,
		"id":       NewID(acc.Domain(), "Follow"),
		"type":     "Follow",
		"actor":    acc.ActorURI,
		"object":   target.ActorURI,
	}
	if err := o.record(ctx, acc, doc); err != nil {
		return nil, err
	}
	o.log.Info("Following", "site", acc.Domain(), "target", target.ActorURI)
	o.sendTo(acc, target, doc)
	return doc, nil
}

// Unfollow undoes the latest Follow of target.
func (o *Outbox) Unfollow(ctx context.Context, acc *domain.Account, handle string) (map[string]any, error) {
	host := acc.Domain()
	target, err := o.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	following, err := o.store.IsFollowing(ctx, acc.Id, target.Id)
	if err != nil {
		return nil, err
	}
	listed, err := o.docs.ListContains(ctx, host, ListFollowing, target.ActorURI)
	if err != nil {
		return nil, err
	}
	if !following && !listed {
		return nil, domain.Conflict("not following %s", target.Handle())
	}

	follow, err := o.latestOwnActivity(ctx, host, "Follow", target.ActorURI)
	if err != nil {
		return nil, err
	}
	if follow == nil {
		follow = map[string]any{
			"id":     NewID(host, "Follow"),
			"type":   "Follow",
			"actor":  acc.ActorURI,
			"object": target.ActorURI,
		}
	}
	undo := undoDoc(host, acc, follow)
	if err := o.record(ctx, acc, undo); err != nil {
		return nil, err
	}
	if _, err := o.docs.RemoveFromList(ctx, host, ListFollowing, target.ActorURI); err != nil {
		return nil, err
	}
	if _, err := o.store.DeleteFollow(ctx, acc.Id, target.Id, acc.Unfollow(target)); err != nil {
		return nil, err
	}
	o.flush(ctx)
	o.sendTo(acc, target, undo)
	return undo, nil
}

// latestOwnActivity returns the newest activity of host of the given type
// about objectURI, or nil.
func (o *Outbox) latestOwnActivity(ctx context.Context, host, activityType, objectURI string) (map[string]any, error) {
	key, err := o.store.ReadLatestActivityKey(ctx, activityType, objectURI, "https://"+host+"/")
	if err != nil || key == "" {
		return nil, err
	}
	doc, err := o.docs.Get(ctx, key)
	if domain.IsKind(err, domain.KindNotFound) || domain.IsKind(err, domain.KindInvariant) {
		return nil, nil
	}
	return doc, err
}

// ensurePost returns the local post for a Note or Article document, creating
// it together with its author when unknown.
func (o *Outbox) ensurePost(ctx context.Context, object map[string]any) (*domain.Post, *domain.Account, error) {
	po, ok, err := ParsePostObject(object)
	if err != nil || !ok {
		return nil, nil, domain.Validation("%s is not a post", stringProp(object, "id")).WithTag(domain.TagNotAPost)
	}
	if po.AttributedTo == "" {
		return nil, nil, domain.NotFound("post %s has no author", po.ID).WithTag(domain.TagMissingAuthor)
	}
	author, err := o.resolver.ResolveActor(ctx, po.AttributedTo)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) || domain.IsKind(err, domain.KindValidation) {
			return nil, nil, domain.NotFound("author of %s not found", po.ID).Wrap(err).WithTag(domain.TagMissingAuthor)
		}
		return nil, nil, domain.Upstream("failed to resolve author of %s", po.ID).Wrap(err).WithTag(domain.TagUpstream)
	}
	post, err := o.store.ReadPostByApId(ctx, po.ID)
	if err == nil {
		return post, author, nil
	}
	if !domain.IsKind(err, domain.KindNotFound) {
		return nil, nil, err
	}
	post, err = storePost(ctx, o.store, po, author)
	if err != nil {
		return nil, author, err
	}
	return post, author, nil
}

// storePost creates the post row of po, linking it to its parent when the
// parent is known.
func storePost(ctx context.Context, store *db.DB, po PostObject, author *domain.Account) (*domain.Post, error) {
	var parent *domain.Post
	if po.InReplyTo != "" {
		p, err := store.ReadPostByApId(ctx, po.InReplyTo)
		if err != nil && !domain.IsKind(err, domain.KindNotFound) {
			return nil, err
		}
		parent = p
	}
	post, err := domain.NewPost(domain.NewPostParams{
		Author:      author,
		Type:        po.Type,
		Audience:    po.Audience(author.FollowersURI),
		Title:       po.Name,
		Excerpt:     po.Summary,
		Content:     po.Content,
		URL:         po.URL,
		ImageURL:    po.ImageURL,
		ObjectURI:   po.ID,
		PublishedAt: po.Published,
		InReplyTo:   parent,
	})
	if err != nil {
		return nil, err
	}
	if _, err := store.CreatePost(ctx, &post, parent); err != nil {
		return nil, err
	}
	return &post, nil
}

// interactionTarget resolves the object of a like or repost. Objects that
// are not posts may still be liked; only upstream failures are fatal.
func (o *Outbox) interactionTarget(ctx context.Context, objectURI string) (*domain.Post, *domain.Account, error) {
	object, err := o.resolver.ResolveObject(ctx, objectURI)
	if err != nil {
		return nil, nil, err
	}
	post, author, err := o.ensurePost(ctx, object)
	if err != nil {
		if domain.TagOf(err) == domain.TagUpstream {
			return nil, nil, err
		}
		o.log.Debug("Interaction target is not a local post", "object", objectURI, "err", err)
	}
	return post, author, nil
}

// Like likes objectURI. The Like id is derived from the object, so a second
// like of the same object is a conflict.
func (o *Outbox) Like(ctx context.Context, acc *domain.Account, objectURI string) (map[string]any, error) {
	host := acc.Domain()
	likeID := LikeID(host, objectURI)
	liked, err := o.docs.ListContains(ctx, host, ListLiked, likeID)
	if err != nil {
		return nil, err
	}
	if liked {
		return nil, domain.Conflict("already liked %s", objectURI)
	}
	post, author, err := o.interactionTarget(ctx, objectURI)
	if err != nil {
		return nil, err
	}

	doc := map[string]any{
		"@context": ContextActivityStreams,
		"id":       likeID,
		"type":     "Like",
		"actor":    acc.ActorURI,
		"object":   objectURI,
	}
	if err := o.record(ctx, acc, doc); err != nil {
		return nil, err
	}
	if _, err := o.docs.AddToList(ctx, host, ListLiked, likeID); err != nil {
		return nil, err
	}
	if post != nil {
		if _, err := o.store.CreateLike(ctx, acc.Id, post.Id, post.Like(acc)); err != nil {
			return nil, err
		}
		o.flush(ctx)
	}
	o.sendTo(acc, author, doc)
	return doc, nil
}

func (o *Outbox) Unlike(ctx context.Context, acc *domain.Account, objectURI string) (map[string]any, error) {
	host := acc.Domain()
	likeID := LikeID(host, objectURI)
	liked, err := o.docs.ListContains(ctx, host, ListLiked, likeID)
	if err != nil {
		return nil, err
	}
	if !liked {
		return nil, domain.Conflict("not liked %s", objectURI)
	}

	like, err := o.docs.Get(ctx, likeID)
	if err != nil {
		like = map[string]any{"id": likeID, "type": "Like", "actor": acc.ActorURI, "object": objectURI}
	}
	undo := undoDoc(host, acc, like)
	if err := o.record(ctx, acc, undo); err != nil {
		return nil, err
	}
	if _, err := o.docs.RemoveFromList(ctx, host, ListLiked, likeID); err != nil {
		return nil, err
	}
	if _, err := o.docs.RemoveFromList(ctx, host, ListOutbox, likeID); err != nil {
		return nil, err
	}

	var author *domain.Account
	if post, err := o.store.ReadPostByApId(ctx, objectURI); err == nil {
		if _, err := o.store.DeleteLike(ctx, acc.Id, post.Id, nil); err != nil {
			return nil, err
		}
		author = post.Author
	}
	o.sendTo(acc, author, undo)
	return undo, nil
}

// Repost announces objectURI to the site's followers.
func (o *Outbox) Repost(ctx context.Context, acc *domain.Account, objectURI string) (map[string]any, error) {
	host := acc.Domain()
	announceID := AnnounceID(host, objectURI)
	reposted, err := o.docs.ListContains(ctx, host, ListReposted, announceID)
	if err != nil {
		return nil, err
	}
	if reposted {
		return nil, domain.Conflict("already reposted %s", objectURI)
	}
	post, author, err := o.interactionTarget(ctx, objectURI)
	if err != nil {
		return nil, err
	}

	cc := []string{acc.FollowersURI}
	if author != nil {
		cc = append(cc, author.ActorURI)
	}
	doc := map[string]any{
		"@context":  ContextActivityStreams,
		"id":        announceID,
		"type":      "Announce",
		"actor":     acc.ActorURI,
		"object":    objectURI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        []string{PublicCollection},
		"cc":        cc,
	}
	if err := o.record(ctx, acc, doc); err != nil {
		return nil, err
	}
	if _, err := o.docs.AddToList(ctx, host, ListReposted, announceID); err != nil {
		return nil, err
	}
	if post != nil {
		if _, err := o.store.CreateRepost(ctx, acc.Id, post.Id, post.Repost(acc)); err != nil {
			return nil, err
		}
		o.flush(ctx)
	}
	o.sendToFollowers(acc, doc)
	o.sendTo(acc, author, doc)
	return doc, nil
}

func (o *Outbox) Derepost(ctx context.Context, acc *domain.Account, objectURI string) (map[string]any, error) {
	host := acc.Domain()
	announceID := AnnounceID(host, objectURI)
	reposted, err := o.docs.ListContains(ctx, host, ListReposted, announceID)
	if err != nil {
		return nil, err
	}
	if !reposted {
		return nil, domain.Conflict("not reposted %s", objectURI)
	}

	announce, err := o.docs.Get(ctx, announceID)
	if err != nil {
		announce = map[string]any{"id": announceID, "type": "Announce", "actor": acc.ActorURI, "object": objectURI}
	}
	undo := undoDoc(host, acc, announce)
	undo["to"] = []string{PublicCollection}
	undo["cc"] = []string{acc.FollowersURI}
	if err := o.record(ctx, acc, undo); err != nil {
		return nil, err
	}
	if _, err := o.docs.RemoveFromList(ctx, host, ListReposted, announceID); err != nil {
		return nil, err
	}
	if _, err := o.docs.RemoveFromList(ctx, host, ListOutbox, announceID); err != nil {
		return nil, err
	}

	var author *domain.Account
	if post, err := o.store.ReadPostByApId(ctx, objectURI); err == nil {
		if _, err := o.store.DeleteRepost(ctx, acc.Id, post.Id, post.Derepost(acc)); err != nil {
			return nil, err
		}
		author = post.Author
		o.flush(ctx)
	}
	o.sendToFollowers(acc, undo)
	o.sendTo(acc, author, undo)
	return undo, nil
}

// Reply publishes a public note in reply to parentURI. The parent must
// resolve to a post with a known author who has not blocked the site.
func (o *Outbox) Reply(ctx context.Context, acc *domain.Account, parentURI, content string) (map[string]any, error) {
	object, err := o.resolver.ResolveObject(ctx, parentURI)
	if err != nil {
		return nil, err
	}
	parent, author, err := o.ensurePost(ctx, object)
	if err != nil {
		return nil, err
	}
	blocked, err := o.store.IsBlockedBy(ctx, author.Id, acc)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, domain.Denied("%s has blocked you", author.Handle()).WithTag(domain.TagBlocked)
	}
	return o.publishNote(ctx, acc, content, parent, author)
}

// CreateNote publishes a public note.
func (o *Outbox) CreateNote(ctx context.Context, acc *domain.Account, content string) (map[string]any, error) {
	return o.publishNote(ctx, acc, content, nil, nil)
}

func (o *Outbox) publishNote(ctx context.Context, acc *domain.Account, content string, parent *domain.Post, parentAuthor *domain.Account) (map[string]any, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.Validation("note content is required")
	}
	host := acc.Domain()
	post, err := domain.NewPost(domain.NewPostParams{
		Author:    acc,
		Type:      domain.PostTypeNote,
		Audience:  domain.AudiencePublic,
		Content:   util.NoteContentToHTML(content),
		InReplyTo: parent,
	})
	if err != nil {
		return nil, err
	}
	post.ObjectURI = ObjectIDFor(host, "Note", post.UUID)
	post.URL = post.ObjectURI

	cc := []string{acc.FollowersURI}
	if parentAuthor != nil && parentAuthor.Id != acc.Id {
		cc = append(cc, parentAuthor.ActorURI)
	}
	note := postObject(acc, &post, cc)
	if parent != nil {
		note["inReplyTo"] = parent.ObjectURI
	}
	create := createDoc(host, acc, note, cc)

	if err := o.record(ctx, acc, create); err != nil {
		return nil, err
	}
	if _, err := o.store.CreatePost(ctx, &post, parent); err != nil {
		return nil, err
	}
	o.flush(ctx)
	o.sendToFollowers(acc, create)
	o.sendTo(acc, parentAuthor, create)
	return create, nil
}

// ArticleInput is a post published on the site, as delivered by its webhook.
type ArticleInput struct {
	UUID        uuid.UUID
	Title       string
	Excerpt     string
	Content     string
	URL         string
	ImageURL    string
	Visibility  string
	PublishedAt time.Time
}

// PublishArticle federates a public site post as an Article. Posts that are
// not public are ignored. Publishing the same post again returns the stored
// Create without sending it again.
func (o *Outbox) PublishArticle(ctx context.Context, acc *domain.Account, in ArticleInput) (map[string]any, error) {
	if in.Visibility != "" && in.Visibility != "public" {
		o.log.Debug("Ignoring non-public post", "post", in.UUID, "visibility", in.Visibility)
		return nil, nil
	}
	if in.UUID == uuid.Nil {
		return nil, domain.Validation("post uuid is required")
	}
	host := acc.Domain()
	objectURI := ObjectIDFor(host, "Article", in.UUID)
	if _, err := o.store.ReadPostByApId(ctx, objectURI); err == nil {
		return o.latestOwnActivity(ctx, host, "Create", objectURI)
	} else if !domain.IsKind(err, domain.KindNotFound) {
		return nil, err
	}

	post, err := domain.NewPost(domain.NewPostParams{
		Author:      acc,
		Type:        domain.PostTypeArticle,
		Audience:    domain.AudiencePublic,
		Title:       in.Title,
		Excerpt:     in.Excerpt,
		Content:     in.Content,
		URL:         in.URL,
		ImageURL:    in.ImageURL,
		ObjectURI:   objectURI,
		PublishedAt: in.PublishedAt,
	})
	if err != nil {
		return nil, err
	}
	post.UUID = in.UUID
	if post.URL == "" {
		post.URL = objectURI
	}

	cc := []string{acc.FollowersURI}
	create := createDoc(host, acc, postObject(acc, &post, cc), cc)
	if err := o.record(ctx, acc, create); err != nil {
		return nil, err
	}
	if _, err := o.store.CreatePost(ctx, &post, nil); err != nil {
		return nil, err
	}
	o.flush(ctx)
	o.log.Info("Published article", "site", host, "object", objectURI)
	o.sendToFollowers(acc, create)
	return create, nil
}

// UpdateProfile applies p to the site account and sends the new actor
// document to followers. A no-op update sends nothing and returns nil.
func (o *Outbox) UpdateProfile(ctx context.Context, acc *domain.Account, p domain.ProfileUpdate) (map[string]any, error) {
	updated, evts := acc.UpdateProfile(p)
	if len(evts) == 0 {
		return nil, nil
	}
	if err := o.store.UpdateAccount(ctx, &updated, evts); err != nil {
		return nil, err
	}
	*acc = updated

	actor := ActorDocument(acc)
	delete(actor, "@context")
	doc := map[string]any{
		"@context": []any{ContextActivityStreams, ContextSecurity},
		"id":       NewID(acc.Domain(), "Update"),
		"type":     "Update",
		"actor":    acc.ActorURI,
		"object":   actor,
		"to":       []string{PublicCollection},
		"cc":       []string{acc.FollowersURI},
	}
	if err := o.record(ctx, acc, doc); err != nil {
		return nil, err
	}
	o.flush(ctx)
	o.sendToFollowers(acc, doc)
	return doc, nil
}

// DeletePost deletes one of the site's own posts, keeping the row.
func (o *Outbox) DeletePost(ctx context.Context, acc *domain.Account, objectURI string) (map[string]any, error) {
	host := acc.Domain()
	post, err := o.store.ReadPostByApId(ctx, objectURI)
	if err != nil {
		return nil, err
	}
	evts, err := post.Delete(acc)
	if err != nil {
		return nil, err
	}
	if evts == nil {
		return nil, domain.Conflict("post %s is already deleted", objectURI)
	}
	if err := o.store.SoftDeletePost(ctx, post, evts); err != nil {
		return nil, err
	}

	createKey, err := o.store.ReadLatestActivityKey(ctx, "Create", objectURI, "https://"+host+"/")
	if err != nil {
		return nil, err
	}
	doc := map[string]any{
		"@context": ContextActivityStreams,
		"id":       NewID(host, "Delete"),
		"type":     "Delete",
		"actor":    acc.ActorURI,
		"object": map[string]any{
			"id":         objectURI,
			"type":       "Tombstone",
			"formerType": post.Type.String(),
			"deleted":    post.DeletedAt.UTC().Format(time.RFC3339),
		},
		"to": []string{PublicCollection},
		"cc": []string{acc.FollowersURI},
	}
	if err := o.record(ctx, acc, doc); err != nil {
		return nil, err
	}
	if err := o.docs.PutObject(ctx, doc["object"].(map[string]any)); err != nil {
		return nil, err
	}
	if createKey != "" {
		if _, err := o.docs.RemoveFromList(ctx, host, ListOutbox, createKey); err != nil {
			return nil, err
		}
	}
	o.flush(ctx)
	o.sendToFollowers(acc, doc)
	return doc, nil
}

// Block blocks the actor named by handle and drops its follow of the site.
// Blocks are not federated.
func (o *Outbox) Block(ctx context.Context, acc *domain.Account, handle string) error {
	target, err := o.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return err
	}
	blocking, err := o.store.IsBlocking(ctx, acc.Id, target.Id)
	if err != nil {
		return err
	}
	if blocking {
		return domain.Conflict("already blocking %s", target.Handle())
	}
	b, evts, err := acc.Block(target)
	if err != nil {
		return err
	}
	if _, err := o.store.CreateBlock(ctx, b, evts); err != nil {
		return err
	}
	if _, err := o.store.DeleteFollow(ctx, target.Id, acc.Id, target.Unfollow(acc)); err != nil {
		return err
	}
	if _, err := o.docs.RemoveFromList(ctx, acc.Domain(), ListFollowers, target.ActorURI); err != nil {
		return err
	}
	o.flush(ctx)
	o.log.Info("Blocked account", "site", acc.Domain(), "target", target.ActorURI)
	return nil
}

func (o *Outbox) Unblock(ctx context.Context, acc *domain.Account, handle string) error {
	target, err := o.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return err
	}
	removed, err := o.store.DeleteBlock(ctx, acc.Id, target.Id, acc.Unblock(target))
	if err != nil {
		return err
	}
	if !removed {
		return domain.Conflict("not blocking %s", target.Handle())
	}
	o.flush(ctx)
	return nil
}

func (o *Outbox) BlockDomain(ctx context.Context, acc *domain.Account, host string) error {
	b, evts, err := acc.BlockDomain(host)
	if err != nil {
		return err
	}
	created, err := o.store.CreateDomainBlock(ctx, b, evts)
	if err != nil {
		return err
	}
	if !created {
		return domain.Conflict("already blocking %s", b.Domain)
	}
	o.flush(ctx)
	o.log.Info("Blocked domain", "site", acc.Domain(), "domain", b.Domain)
	return nil
}

func (o *Outbox) UnblockDomain(ctx context.Context, acc *domain.Account, host string) error {
	removed, err := o.store.DeleteDomainBlock(ctx, acc.Id, domain.NormalizeDomain(host), acc.UnblockDomain(host))
	if err != nil {
		return err
	}
	if !removed {
		return domain.Conflict("not blocking %s", host)
	}
	o.flush(ctx)
	return nil
}

// undoDoc builds host's Undo of undone. Its id is derived from the undone
// activity.
func undoDoc(host string, acc *domain.Account, undone map[string]any) map[string]any {
	embedded := make(map[string]any, len(undone))
	for k, v := range undone {
		if k != "@context" {
			embedded[k] = v
		}
	}
	return map[string]any{
		"@context": ContextActivityStreams,
		"id":       UndoID(host, stringProp(undone, "id")),
		"type":     "Undo",
		"actor":    acc.ActorURI,
		"object":   embedded,
	}
}

func postObject(acc *domain.Account, post *domain.Post, cc []string) map[string]any {
	obj := map[string]any{
		"id":           post.ObjectURI,
		"type":         post.Type.String(),
		"attributedTo": acc.ActorURI,
		"content":      post.Content,
		"url":          post.URL,
		"published":    post.PublishedAt.UTC().Format(time.RFC3339),
		"to":           []string{PublicCollection},
		"cc":           cc,
	}
	if post.Type == domain.PostTypeArticle {
		obj["name"] = post.Title
		if post.Excerpt != "" {
			obj["summary"] = post.Excerpt
		}
	}
	if post.ImageURL != "" {
		obj["image"] = map[string]any{"type": "Image", "url": post.ImageURL}
	}
	return obj
}

func createDoc(host string, acc *domain.Account, object map[string]any, cc []string) map[string]any {
	return map[string]any{
		"@context":  ContextActivityStreams,
		"id":        NewID(host, "Create"),
		"type":      "Create",
		"actor":     acc.ActorURI,
		"published": object["published"],
		"to":        []string{PublicCollection},
		"cc":        cc,
		"object":    object,
	}
}

package activitypub

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/events"
)

// Inbound is the receiving side of one inbound activity.
type Inbound struct {
	Site        *domain.Site
	SiteAccount *domain.Account
	Sender      *domain.Account
}

// EnvelopeOf returns the properties common to every activity variant.
func EnvelopeOf(a Activity) *Envelope {
	return a.envelope()
}

// Processor applies inbound activities to a site. Each activity takes effect
// at most once per site.
type Processor struct {
	store      *db.DB
	docs       *DocumentStore
	resolver   *Resolver
	dispatcher *Dispatcher
	bus        *events.Bus
	log        *log.Logger
}

var _ InboundHandler = (*Processor)(nil)

func NewProcessor(store *db.DB, docs *DocumentStore, resolver *Resolver, dispatcher *Dispatcher, bus *events.Bus, logger *log.Logger) *Processor {
	return &Processor{
		store:      store,
		docs:       docs,
		resolver:   resolver,
		dispatcher: dispatcher,
		bus:        bus,
		log:        logger.WithPrefix("Inbox"),
	}
}

// Handle stores raw in the site inbox and applies its side effects. Only
// malformed activities and failures to resolve the sender or to store the
// document are returned; failures of the side effects are logged.
func (p *Processor) Handle(ctx context.Context, site *domain.Site, siteAcc *domain.Account, raw []byte) error {
	activity, err := ParseActivity(raw)
	if err != nil {
		inboxActivities.WithLabelValues("invalid", "rejected").Inc()
		return err
	}
	env := activity.envelope()
	if domain.DomainOf(env.ID) != domain.DomainOf(env.Actor) {
		inboxActivities.WithLabelValues(env.Type, "rejected").Inc()
		return domain.Validation("activity %s is not hosted by its actor", env.ID)
	}

	in := &Inbound{Site: site, SiteAccount: siteAcc}
	if _, isUpdate := activity.(*UpdateActorActivity); isUpdate {
		// an update never creates the account it describes
		in.Sender, err = p.store.ReadAccountByApId(ctx, env.Actor)
		if domain.IsKind(err, domain.KindNotFound) {
			p.log.Debug("Dropping update of unknown actor", "actor", env.Actor)
			inboxActivities.WithLabelValues(env.Type, "dropped").Inc()
			return nil
		}
	} else {
		in.Sender, err = p.resolver.ResolveActor(ctx, env.Actor)
	}
	if err != nil {
		inboxActivities.WithLabelValues(env.Type, "error").Inc()
		return fmt.Errorf("failed to resolve sender %s: %w", env.Actor, err)
	}

	if err := p.docs.Put(ctx, env.Raw); err != nil {
		return err
	}
	fresh, err := p.docs.AddToList(ctx, site.Host, ListInbox, env.ID)
	if err != nil {
		return err
	}
	if !fresh {
		p.log.Debug("Duplicate activity", "site", site.Host, "activity", env.ID)
		inboxActivities.WithLabelValues(env.Type, "duplicate").Inc()
		return nil
	}

	blocked, err := p.store.IsBlockedBy(ctx, siteAcc.Id, in.Sender)
	if err != nil {
		return err
	}
	if blocked {
		p.log.Debug("Ignoring activity from blocked actor", "site", site.Host, "actor", env.Actor)
		inboxActivities.WithLabelValues(env.Type, "blocked").Inc()
		return nil
	}

	p.log.Info("Received activity", "site", site.Host, "type", env.Type, "actor", env.Actor)
	if err := activity.accept(ctx, p, in); err != nil {
		p.log.Error("Failed to handle activity", "site", site.Host, "activity", env.ID, "type", env.Type, "err", err)
		inboxActivities.WithLabelValues(env.Type, "error").Inc()
		return nil
	}
	inboxActivities.WithLabelValues(env.Type, "ok").Inc()
	return nil
}

func (p *Processor) flush(ctx context.Context) {
	if err := p.bus.Flush(ctx); err != nil {
		p.log.Warn("Event flush failed, will retry", "err", err)
	}
}

// HandleFollow auto-accepts the follow.
func (p *Processor) HandleFollow(ctx context.Context, in *Inbound, a *FollowActivity) error {
	if a.Target != in.SiteAccount.ActorURI {
		p.log.Debug("Follow is not for this site", "site", in.Site.Host, "target", a.Target)
		return nil
	}
	follow, evts, err := in.Sender.Follow(in.SiteAccount)
	if err != nil {
		return err
	}

	embedded := make(map[string]any, len(a.Raw))
	for k, v := range a.Raw {
		if k != "@context" {
			embedded[k] = v
		}
	}
	accept := map[string]any{
		"@context": ContextActivityStreams,
		"id":       NewID(in.Site.Host, "Accept"),
		"type":     "Accept",
		"actor":    in.SiteAccount.ActorURI,
		"object":   embedded,
	}
	if err := p.docs.Put(ctx, accept); err != nil {
		return err
	}
	if _, err := p.docs.AddToList(ctx, in.Site.Host, ListFollowers, in.Sender.ActorURI); err != nil {
		return err
	}
	if _, err := p.store.CreateFollow(ctx, follow, evts); err != nil {
		return err
	}
	p.flush(ctx)

	p.dispatcher.Dispatch(in.SiteAccount, ToAccount(in.Sender), accept, SendOptions{})
	p.log.Info("Accepted follow", "site", in.Site.Host, "follower", in.Sender.Handle())
	return nil
}

// HandleAccept completes a Follow sent by the site.
func (p *Processor) HandleAccept(ctx context.Context, in *Inbound, a *AcceptActivity) error {
	followActor := a.FollowActor
	if followActor == "" {
		if doc, err := p.docs.Get(ctx, a.FollowID); err == nil {
			followActor = parseRef(doc["actor"]).ID
		} else if strings.HasPrefix(a.FollowID, "https://"+in.Site.Host+"/") {
			followActor = in.SiteAccount.ActorURI
		}
	}
	if followActor != in.SiteAccount.ActorURI {
		p.log.Debug("Accept is not for this site", "site", in.Site.Host, "follow", a.FollowID)
		return nil
	}

	follow, evts, err := in.SiteAccount.Follow(in.Sender)
	if err != nil {
		return err
	}
	if _, err := p.docs.AddToList(ctx, in.Site.Host, ListFollowing, in.Sender.ActorURI); err != nil {
		return err
	}
	if _, err := p.store.CreateFollow(ctx, follow, evts); err != nil {
		return err
	}
	p.flush(ctx)
	return nil
}

// HandleCreate stores a post for public and followers-only objects authored
// by the sender.
func (p *Processor) HandleCreate(ctx context.Context, in *Inbound, a *CreateActivity) error {
	post := a.Post
	if post.AttributedTo != in.Sender.ActorURI {
		p.log.Debug("Ignoring Create of an object by another actor", "object", post.ID, "actor", in.Sender.ActorURI)
		return nil
	}
	post.To = append(slices.Clone(post.To), a.To...)
	post.Cc = append(slices.Clone(post.Cc), a.Cc...)
	if !post.Audience(in.Sender.FollowersURI).FansOut() {
		return nil
	}
	if _, err := p.store.ReadPostByApId(ctx, post.ID); err == nil {
		return nil
	} else if !domain.IsKind(err, domain.KindNotFound) {
		return err
	}
	if _, err := storePost(ctx, p.store, post, in.Sender); err != nil {
		return err
	}
	p.flush(ctx)
	return nil
}

// localPost returns the post with objectURI, or nil when it is unknown here.
func (p *Processor) localPost(ctx context.Context, objectURI string) (*domain.Post, error) {
	post, err := p.store.ReadPostByApId(ctx, objectURI)
	if domain.IsKind(err, domain.KindNotFound) {
		return nil, nil
	}
	return post, err
}

func (p *Processor) HandleAnnounce(ctx context.Context, in *Inbound, a *AnnounceActivity) error {
	post, err := p.localPost(ctx, a.ObjectURI)
	if err != nil || post == nil {
		return err
	}
	if _, err := p.store.CreateRepost(ctx, in.Sender.Id, post.Id, post.Repost(in.Sender)); err != nil {
		return err
	}
	p.flush(ctx)
	return nil
}

func (p *Processor) HandleLike(ctx context.Context, in *Inbound, a *LikeActivity) error {
	post, err := p.localPost(ctx, a.ObjectURI)
	if err != nil || post == nil {
		return err
	}
	if _, err := p.store.CreateLike(ctx, in.Sender.Id, post.Id, post.Like(in.Sender)); err != nil {
		return err
	}
	p.flush(ctx)
	return nil
}

// HandleUndo reverses a Follow, Like or Announce of the sender. Undoing
// something that never took effect is a no-op.
func (p *Processor) HandleUndo(ctx context.Context, in *Inbound, a *UndoActivity) error {
	kind, object := a.Kind, a.UndoneObject
	if kind == UndoUnknown || object == "" {
		undone, err := p.docs.Get(ctx, a.UndoneID)
		if domain.IsKind(err, domain.KindNotFound) {
			p.log.Debug("Nothing to undo", "activity", a.UndoneID)
			return nil
		}
		if err != nil {
			return err
		}
		if parseRef(undone["actor"]).ID != in.Sender.ActorURI {
			p.log.Debug("Ignoring Undo of another actor's activity", "activity", a.UndoneID)
			return nil
		}
		object = parseRef(undone["object"]).ID
		switch stringProp(undone, "type") {
		case "Follow":
			kind = UndoFollow
		case "Like":
			kind = UndoLike
		case "Announce":
			kind = UndoAnnounce
		default:
			return nil
		}
	}
	if _, err := p.docs.RemoveFromList(ctx, in.Site.Host, ListInbox, a.UndoneID); err != nil {
		return err
	}

	switch kind {
	case UndoFollow:
		if object != in.SiteAccount.ActorURI {
			return nil
		}
		if _, err := p.docs.RemoveFromList(ctx, in.Site.Host, ListFollowers, in.Sender.ActorURI); err != nil {
			return err
		}
		if _, err := p.store.DeleteFollow(ctx, in.Sender.Id, in.SiteAccount.Id, in.Sender.Unfollow(in.SiteAccount)); err != nil {
			return err
		}
	case UndoLike:
		post, err := p.localPost(ctx, object)
		if err != nil || post == nil {
			return err
		}
		if _, err := p.store.DeleteLike(ctx, in.Sender.Id, post.Id, nil); err != nil {
			return err
		}
	case UndoAnnounce:
		post, err := p.localPost(ctx, object)
		if err != nil || post == nil {
			return err
		}
		if _, err := p.store.DeleteRepost(ctx, in.Sender.Id, post.Id, post.Derepost(in.Sender)); err != nil {
			return err
		}
	}
	p.flush(ctx)
	return nil
}

// HandleUpdateActor applies a profile update the sender made to itself.
func (p *Processor) HandleUpdateActor(ctx context.Context, in *Inbound, a *UpdateActorActivity) error {
	if a.Profile.ID != in.Sender.ActorURI || in.Sender.IsInternal() {
		p.log.Debug("Ignoring update of another actor", "actor", in.Sender.ActorURI, "object", a.Profile.ID)
		return nil
	}
	updated, evts := in.Sender.UpdateProfile(a.Profile.ProfileUpdate())
	if len(evts) == 0 {
		return nil
	}
	if err := p.store.UpdateAccount(ctx, &updated, evts); err != nil {
		return err
	}
	p.resolver.Forget(in.Sender.ActorURI)
	p.flush(ctx)
	return nil
}

// HandleDelete soft-deletes a post when the sender is its author and
// ignores the request otherwise.
func (p *Processor) HandleDelete(ctx context.Context, in *Inbound, a *DeleteActivity) error {
	post, err := p.localPost(ctx, a.ObjectURI)
	if err != nil || post == nil {
		return err
	}
	evts, err := post.Delete(in.Sender)
	if domain.IsKind(err, domain.KindDenied) {
		p.log.Warn("Ignoring Delete by non-author", "object", a.ObjectURI, "actor", in.Sender.ActorURI)
		return nil
	}
	if err != nil || evts == nil {
		return err
	}
	if err := p.store.SoftDeletePost(ctx, post, evts); err != nil {
		return err
	}
	tombstone := map[string]any{
		"id":         a.ObjectURI,
		"type":       "Tombstone",
		"formerType": post.Type.String(),
		"deleted":    post.DeletedAt.UTC().Format(time.RFC3339),
	}
	if err := p.docs.PutObject(ctx, tombstone); err != nil {
		return err
	}
	p.flush(ctx)
	return nil
}

func (p *Processor) HandleUnsupported(ctx context.Context, in *Inbound, a *UnsupportedActivity) error {
	p.log.Debug("Ignoring unsupported activity", "type", a.Type, "object", a.Object.Type())
	return nil
}

// Verifier checks HTTP signatures of inbound requests.
type Verifier struct {
	store    *db.DB
	resolver *Resolver
	log      *log.Logger
}

func NewVerifier(store *db.DB, resolver *Resolver, logger *log.Logger) *Verifier {
	return &Verifier{store: store, resolver: resolver, log: logger.WithPrefix("Inbox")}
}

// Verify returns the actor whose key signed r. The stored key is tried
// first; on failure the actor is refetched, since keys rotate.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, body []byte) (string, error) {
	owner, err := KeyOwner(r)
	if err != nil {
		return "", err
	}
	if acc, err := v.store.ReadAccountByApId(ctx, owner); err == nil && acc.PublicKeyPem != "" {
		if actor, err := VerifyRequest(r, acc.PublicKeyPem, body); err == nil {
			return actor, nil
		}
	}

	v.resolver.Forget(owner)
	actor, _, err := v.resolver.FetchActor(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("failed to fetch key owner %s: %w", owner, err)
	}
	return VerifyRequest(r, actor.PublicKeyPem, body)
}

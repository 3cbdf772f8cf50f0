package activitypub

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/deemkeen/pubgate/domain"
)

const (
	ContextActivityStreams = "https://www.w3.org/ns/activitystreams"
	ContextSecurity        = "https://w3id.org/security/v1"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"
	ContentType            = "application/activity+json"
	LDContentType          = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

// ObjectRef is an object property that is either a bare id or an embedded
// document.
type ObjectRef struct {
	ID  string
	Doc map[string]any
}

func (r ObjectRef) Type() string {
	return stringProp(r.Doc, "type")
}

func (r ObjectRef) Embedded() bool {
	return r.Doc != nil
}

func parseRef(v any) ObjectRef {
	switch t := v.(type) {
	case string:
		return ObjectRef{ID: t}
	case map[string]any:
		return ObjectRef{ID: stringProp(t, "id"), Doc: t}
	case []any:
		if len(t) > 0 {
			return parseRef(t[0])
		}
	}
	return ObjectRef{}
}

// Envelope holds the properties common to every inbound activity.
type Envelope struct {
	ID     string
	Type   string
	Actor  string
	Object ObjectRef
	To     []string
	Cc     []string
	Raw    map[string]any
}

func (e *Envelope) envelope() *Envelope { return e }

// Activity is the closed set of inbound activities. Each variant dispatches
// to its own InboundHandler method, so a new variant does not compile until
// every handler implements it.
type Activity interface {
	envelope() *Envelope
	accept(ctx context.Context, h InboundHandler, in *Inbound) error
}

// InboundHandler applies the side effects of each inbound activity variant.
type InboundHandler interface {
	HandleFollow(ctx context.Context, in *Inbound, a *FollowActivity) error
	HandleAccept(ctx context.Context, in *Inbound, a *AcceptActivity) error
	HandleCreate(ctx context.Context, in *Inbound, a *CreateActivity) error
	HandleAnnounce(ctx context.Context, in *Inbound, a *AnnounceActivity) error
	HandleLike(ctx context.Context, in *Inbound, a *LikeActivity) error
	HandleUndo(ctx context.Context, in *Inbound, a *UndoActivity) error
	HandleUpdateActor(ctx context.Context, in *Inbound, a *UpdateActorActivity) error
	HandleDelete(ctx context.Context, in *Inbound, a *DeleteActivity) error
	HandleUnsupported(ctx context.Context, in *Inbound, a *UnsupportedActivity) error
}

// FollowActivity asks to follow Target.
type FollowActivity struct {
	Envelope
	Target string
}

// AcceptActivity accepts a Follow previously sent by FollowActor.
type AcceptActivity struct {
	Envelope
	FollowID    string
	FollowActor string
}

// CreateActivity carries a new Note or Article.
type CreateActivity struct {
	Envelope
	Post PostObject
}

type AnnounceActivity struct {
	Envelope
	ObjectURI string
}

type LikeActivity struct {
	Envelope
	ObjectURI string
}

type UndoKind int

const (
	// UndoUnknown means the undone activity was referenced by id only and
	// must be looked up to learn what it was.
	UndoUnknown UndoKind = iota
	UndoFollow
	UndoLike
	UndoAnnounce
)

type UndoActivity struct {
	Envelope
	Kind     UndoKind
	UndoneID string
	// UndoneObject is the object of the undone activity when it was embedded.
	UndoneObject string
}

// UpdateActorActivity carries a profile update of an actor.
type UpdateActorActivity struct {
	Envelope
	Profile Actor
}

type DeleteActivity struct {
	Envelope
	ObjectURI string
}

// UnsupportedActivity is any activity/object combination not handled here.
// It is stored but has no side effects.
type UnsupportedActivity struct {
	Envelope
}

func (a *FollowActivity) accept(ctx context.Context, h InboundHandler, in *Inbound) error {
	return h.HandleFollow(ctx, in, a)
}

func (a *AcceptActivity) accept(ctx context.Context, h InboundHandler, in *Inbound) error {
	return h.HandleAccept(ctx, in, a)
}

func (a *CreateActivity) accept(ctx context.Context, h InboundHandler, in *Inbound) error {
	return h.HandleCreate(ctx, in, a)
}

func (a *AnnounceActivity) accept(ctx context.Context, h InboundHandler, in *Inbound) error {
	return h.HandleAnnounce(ctx, in, a)
}

func (a *LikeActivity) accept(ctx context.Context, h InboundHandler, in *Inbound) error {
	return h.HandleLike(ctx, in, a)
}

func (a *UndoActivity) accept(ctx context.Context, h InboundHandler, in *Inbound) error {
	return h.HandleUndo(ctx, in, a)
}

func (a *UpdateActorActivity) accept(ctx context.Context, h InboundHandler, in *Inbound) error {
	return h.HandleUpdateActor(ctx, in, a)
}

func (a *DeleteActivity) accept(ctx context.Context, h InboundHandler, in *Inbound) error {
	return h.HandleDelete(ctx, in, a)
}

func (a *UnsupportedActivity) accept(ctx context.Context, h InboundHandler, in *Inbound) error {
	return h.HandleUnsupported(ctx, in, a)
}

// ParseActivity validates a raw inbound document into an Activity. Documents
// that are not activities at all are rejected; unknown activity or object
// types become UnsupportedActivity.
func ParseActivity(raw []byte) (Activity, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, domain.Validation("invalid activity JSON").Wrap(err)
	}
	env := Envelope{
		ID:     stringProp(doc, "id"),
		Type:   stringProp(doc, "type"),
		Actor:  parseRef(doc["actor"]).ID,
		Object: parseRef(doc["object"]),
		To:     stringsProp(doc, "to"),
		Cc:     stringsProp(doc, "cc"),
		Raw:    doc,
	}
	if env.ID == "" || env.Type == "" || env.Actor == "" {
		return nil, domain.Validation("activity requires id, type and actor")
	}

	switch env.Type {
	case "Follow":
		if env.Object.ID == "" {
			return nil, domain.Validation("Follow without object")
		}
		return &FollowActivity{Envelope: env, Target: env.Object.ID}, nil

	case "Accept":
		if env.Object.ID == "" {
			return nil, domain.Validation("Accept without object")
		}
		// A referenced object is assumed to be the Follow it accepts.
		if env.Object.Embedded() && env.Object.Type() != "Follow" {
			break
		}
		return &AcceptActivity{
			Envelope:    env,
			FollowID:    env.Object.ID,
			FollowActor: parseRef(env.Object.Doc["actor"]).ID,
		}, nil

	case "Create":
		if !env.Object.Embedded() {
			break
		}
		post, ok, err := ParsePostObject(env.Object.Doc)
		if err != nil {
			return nil, err
		}
		// an actor can only create objects on its own host
		if !ok || !sameHost(post.ID, env.Actor) {
			break
		}
		return &CreateActivity{Envelope: env, Post: post}, nil

	case "Announce":
		if env.Object.ID == "" {
			return nil, domain.Validation("Announce without object")
		}
		return &AnnounceActivity{Envelope: env, ObjectURI: env.Object.ID}, nil

	case "Like":
		if env.Object.ID == "" {
			return nil, domain.Validation("Like without object")
		}
		return &LikeActivity{Envelope: env, ObjectURI: env.Object.ID}, nil

	case "Undo":
		if env.Object.ID == "" {
			return nil, domain.Validation("Undo without object")
		}
		undo := &UndoActivity{Envelope: env, UndoneID: env.Object.ID}
		if env.Object.Embedded() {
			undo.UndoneObject = parseRef(env.Object.Doc["object"]).ID
			switch env.Object.Type() {
			case "Follow":
				undo.Kind = UndoFollow
			case "Like":
				undo.Kind = UndoLike
			case "Announce":
				undo.Kind = UndoAnnounce
			default:
				return &UnsupportedActivity{Envelope: env}, nil
			}
		}
		return undo, nil

	case "Update":
		if !env.Object.Embedded() || !IsActorType(env.Object.Type()) {
			break
		}
		actor, err := ParseActor(env.Object.Doc)
		if err != nil {
			return nil, err
		}
		return &UpdateActorActivity{Envelope: env, Profile: actor}, nil

	case "Delete":
		if env.Object.ID == "" {
			return nil, domain.Validation("Delete without object")
		}
		return &DeleteActivity{Envelope: env, ObjectURI: env.Object.ID}, nil
	}
	return &UnsupportedActivity{Envelope: env}, nil
}

// PostObject is a validated Note or Article.
type PostObject struct {
	ID           string
	Type         domain.PostType
	AttributedTo string
	Name         string
	Summary      string
	Content      string
	URL          string
	ImageURL     string
	InReplyTo    string
	Published    time.Time
	To           []string
	Cc           []string
}

// ParsePostObject validates doc as a Note or Article. ok is false for any
// other object type.
func ParsePostObject(doc map[string]any) (post PostObject, ok bool, err error) {
	t, ok := domain.ParsePostType(stringProp(doc, "type"))
	if !ok {
		return PostObject{}, false, nil
	}
	post = PostObject{
		ID:           stringProp(doc, "id"),
		Type:         t,
		AttributedTo: parseRef(doc["attributedTo"]).ID,
		Name:         stringProp(doc, "name"),
		Summary:      stringProp(doc, "summary"),
		Content:      stringProp(doc, "content"),
		URL:          urlProp(doc["url"]),
		ImageURL:     imageProp(doc),
		InReplyTo:    parseRef(doc["inReplyTo"]).ID,
		To:           stringsProp(doc, "to"),
		Cc:           stringsProp(doc, "cc"),
	}
	if post.ID == "" {
		return PostObject{}, true, domain.Validation("%s without id", t)
	}
	if post.URL == "" {
		post.URL = post.ID
	}
	if ts, err := time.Parse(time.RFC3339, stringProp(doc, "published")); err == nil {
		post.Published = ts.UTC()
	}
	return post, true, nil
}

// Audience derives visibility from addressing. The public collection may be
// written in any of its three accepted forms.
func (p PostObject) Audience(followersURI string, extra ...[]string) domain.Audience {
	followers := false
	lists := append([][]string{p.To, p.Cc}, extra...)
	for _, list := range lists {
		for _, addr := range list {
			switch {
			case isPublic(addr):
				return domain.AudiencePublic
			case followersURI != "" && addr == followersURI:
				followers = true
			}
		}
	}
	if followers {
		return domain.AudienceFollowersOnly
	}
	return domain.AudienceDirect
}

func isPublic(addr string) bool {
	return addr == PublicCollection || addr == "as:Public" || addr == "Public"
}

// ActorType is the closed set of actor types accepted from remote servers.
type ActorType int

const (
	ActorPerson ActorType = iota
	ActorGroup
	ActorService
	ActorApplication
	ActorOrganization
)

var actorTypes = map[string]ActorType{
	"Person":       ActorPerson,
	"Group":        ActorGroup,
	"Service":      ActorService,
	"Application":  ActorApplication,
	"Organization": ActorOrganization,
}

func (t ActorType) String() string {
	for name, v := range actorTypes {
		if v == t {
			return name
		}
	}
	return "Person"
}

func IsActorType(s string) bool {
	_, ok := actorTypes[s]
	return ok
}

// Actor is a remote actor document validated at the boundary.
type Actor struct {
	ID                string
	Type              ActorType
	PreferredUsername string
	Name              string
	Summary           string
	URL               string
	Icon              string
	Image             string
	Inbox             string
	SharedInbox       string
	Outbox            string
	Followers         string
	Following         string
	Liked             string
	PublicKeyPem      string
	Fields            map[string]string
}

// ParseActor validates doc into an Actor. Missing id or inbox, or a type
// outside the accepted set, is a validation error.
func ParseActor(doc map[string]any) (Actor, error) {
	typ, ok := actorTypes[stringProp(doc, "type")]
	if !ok {
		return Actor{}, domain.Validation("unsupported actor type %q", stringProp(doc, "type"))
	}
	a := Actor{
		ID:                stringProp(doc, "id"),
		Type:              typ,
		PreferredUsername: stringProp(doc, "preferredUsername"),
		Name:              stringProp(doc, "name"),
		Summary:           stringProp(doc, "summary"),
		URL:               urlProp(doc["url"]),
		Icon:              urlProp(doc["icon"]),
		Image:             urlProp(doc["image"]),
		Inbox:             stringProp(doc, "inbox"),
		Outbox:            stringProp(doc, "outbox"),
		Followers:         stringProp(doc, "followers"),
		Following:         stringProp(doc, "following"),
		Liked:             stringProp(doc, "liked"),
	}
	if a.ID == "" || a.Inbox == "" {
		return Actor{}, domain.Validation("actor requires id and inbox")
	}
	if endpoints, ok := doc["endpoints"].(map[string]any); ok {
		a.SharedInbox = stringProp(endpoints, "sharedInbox")
	}
	if key, ok := doc["publicKey"].(map[string]any); ok {
		a.PublicKeyPem = stringProp(key, "publicKeyPem")
	}
	if a.PreferredUsername == "" {
		a.PreferredUsername = extractUsername(a.ID)
	}
	if attachments, ok := doc["attachment"].([]any); ok {
		for _, v := range attachments {
			att, ok := v.(map[string]any)
			if !ok || stringProp(att, "type") != "PropertyValue" {
				continue
			}
			if a.Fields == nil {
				a.Fields = map[string]string{}
			}
			a.Fields[stringProp(att, "name")] = stringProp(att, "value")
		}
	}
	return a, nil
}

// Account maps the actor onto an external account.
func (a Actor) Account() domain.Account {
	return domain.Account{
		Username:       a.PreferredUsername,
		Name:           a.Name,
		Bio:            a.Summary,
		URL:            a.URL,
		AvatarURL:      a.Icon,
		BannerImageURL: a.Image,
		ActorURI:       a.ID,
		InboxURI:       a.Inbox,
		SharedInboxURI: a.SharedInbox,
		OutboxURI:      a.Outbox,
		FollowingURI:   a.Following,
		FollowersURI:   a.Followers,
		LikedURI:       a.Liked,
		PublicKeyPem:   a.PublicKeyPem,
		CustomFields:   a.Fields,
	}
}

// ProfileUpdate lists every profile field carried by the actor document.
func (a Actor) ProfileUpdate() domain.ProfileUpdate {
	return domain.ProfileUpdate{
		Name:           &a.Name,
		Bio:            &a.Summary,
		URL:            &a.URL,
		AvatarURL:      &a.Icon,
		BannerImageURL: &a.Image,
		InboxURI:       &a.Inbox,
		SharedInboxURI: &a.SharedInbox,
		PublicKeyPem:   &a.PublicKeyPem,
	}
}

func stringProp(doc map[string]any, name string) string {
	if doc == nil {
		return ""
	}
	s, _ := doc[name].(string)
	return s
}

func stringsProp(doc map[string]any, name string) []string {
	switch v := doc[name].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if id := parseRef(item).ID; id != "" {
				out = append(out, id)
			}
		}
		return out
	}
	return nil
}

// urlProp reads a url-like property: a string, a Link/Image with href or
// url, or the first element of a list of those.
func urlProp(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if href := stringProp(t, "href"); href != "" {
			return href
		}
		return urlProp(t["url"])
	case []any:
		if len(t) > 0 {
			return urlProp(t[0])
		}
	}
	return ""
}

func imageProp(doc map[string]any) string {
	if img := urlProp(doc["image"]); img != "" {
		return img
	}
	if attachments, ok := doc["attachment"].([]any); ok {
		for _, v := range attachments {
			att, ok := v.(map[string]any)
			if ok && strings.HasPrefix(stringProp(att, "mediaType"), "image/") {
				return urlProp(att)
			}
		}
	}
	return ""
}

// extractUsername extracts username from various URI formats
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	uri = strings.TrimSuffix(uri, "/")
	parts := strings.Split(uri, "/")
	return strings.TrimPrefix(parts[len(parts)-1], "@")
}

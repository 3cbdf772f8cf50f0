package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const maxDocumentBytes = 4 << 20

// ResolverOptions tunes remote lookups.
type ResolverOptions struct {
	UserAgent string
	CacheSize int
	CacheTTL  time.Duration
	// ActorTTL is how long a stored external account is served without
	// refetching its actor document.
	ActorTTL     time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	Timeout      time.Duration
	// HTTPClient replaces the underlying client, e.g. one trusting a test
	// server's certificate.
	HTTPClient *http.Client
}

func (o *ResolverOptions) applyDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = "pubgate ActivityPub"
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 1000
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
	if o.ActorTTL <= 0 {
		o.ActorTTL = 24 * time.Hour
	}
	if o.RetryWaitMin <= 0 {
		o.RetryWaitMin = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
}

// Resolver looks up remote actors and objects, preferring local copies.
type Resolver struct {
	client *http.Client
	cache  *expirable.LRU[string, json.RawMessage]
	store  *db.DB
	docs   *DocumentStore
	opts   ResolverOptions
	log    *log.Logger
}

func NewResolver(store *db.DB, docs *DocumentStore, opts ResolverOptions, logger *log.Logger) *Resolver {
	opts.applyDefaults()
	logger = logger.WithPrefix("Resolver")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = 10 * opts.RetryWaitMin
	retryClient.Logger = retryablehttp.LeveledLogger(leveledLog{logger})
	if opts.HTTPClient != nil {
		retryClient.HTTPClient = opts.HTTPClient
	}
	client := retryClient.StandardClient()
	client.Timeout = opts.Timeout

	return &Resolver{
		client: client,
		cache:  expirable.NewLRU[string, json.RawMessage](opts.CacheSize, nil, opts.CacheTTL),
		store:  store,
		docs:   docs,
		opts:   opts,
		log:    logger,
	}
}

// leveledLog adapts the logger to retryablehttp; retry noise goes to debug.
type leveledLog struct {
	inner *log.Logger
}

func (l leveledLog) Error(msg string, kv ...any) { l.inner.Warn(msg, kv...) }
func (l leveledLog) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l leveledLog) Info(msg string, kv ...any)  { l.inner.Debug(msg, kv...) }
func (l leveledLog) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }

// FetchDocument GETs a JSON-LD document. 404 and 410 are NotFound; any other
// failure, including undecodable JSON, is Upstream.
func (r *Resolver) FetchDocument(ctx context.Context, uri string) (map[string]any, error) {
	if raw, ok := r.cache.Get(uri); ok {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err == nil {
			return doc, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, domain.Validation("invalid uri %s", uri).Wrap(err)
	}
	req.Header.Set("Accept", ContentType+", "+LDContentType)
	req.Header.Set("User-Agent", r.opts.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, domain.Upstream("request to %s failed", uri).Wrap(err).WithTag(domain.TagUpstream)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, domain.NotFound("%s returned %d", uri, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, domain.Upstream("%s returned %d", uri, resp.StatusCode).WithTag(domain.TagUpstream)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, domain.Upstream("failed to read %s", uri).Wrap(err).WithTag(domain.TagUpstream)
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, domain.Upstream("failed to parse %s", uri).Wrap(err).WithTag(domain.TagUpstream)
	}
	r.cache.Add(uri, body)
	return doc, nil
}

// Forget drops uri from the document cache.
func (r *Resolver) Forget(uri string) {
	r.cache.Remove(uri)
}

// FetchActor fetches and validates an actor document without storing it.
func (r *Resolver) FetchActor(ctx context.Context, uri string) (Actor, map[string]any, error) {
	doc, err := r.FetchDocument(ctx, uri)
	if err != nil {
		return Actor{}, nil, err
	}
	actor, err := ParseActor(doc)
	if err != nil {
		return Actor{}, nil, err
	}
	if actor.ID != uri {
		// the document must describe the actor it was fetched for
		if _, err := url.Parse(actor.ID); err != nil || domain.DomainOf(actor.ID) != domain.DomainOf(uri) {
			return Actor{}, nil, domain.Validation("actor %s served from %s", actor.ID, uri)
		}
	}
	return actor, doc, nil
}

// ResolveActor returns the account for an actor URI. Internal accounts and
// external accounts fetched within ActorTTL come from the database; others
// are fetched and upserted. A stale account is returned when a refetch fails.
func (r *Resolver) ResolveActor(ctx context.Context, uri string) (*domain.Account, error) {
	cached, err := r.store.ReadAccountByApId(ctx, uri)
	if err != nil && !domain.IsKind(err, domain.KindNotFound) {
		return nil, err
	}
	if cached != nil && (cached.IsInternal() || time.Since(cached.UpdatedAt) < r.opts.ActorTTL) {
		return cached, nil
	}

	actor, doc, err := r.FetchActor(ctx, uri)
	if err != nil {
		if cached != nil {
			r.log.Warn("Serving stale actor", "actor", uri, "err", err)
			return cached, nil
		}
		return nil, err
	}
	acc := actor.Account()
	stored, err := r.store.UpsertExternalAccount(ctx, &acc)
	if err != nil {
		return nil, fmt.Errorf("failed to store remote account: %w", err)
	}
	if err := r.docs.PutObject(ctx, doc); err != nil {
		r.log.Warn("Failed to store actor document", "actor", uri, "err", err)
	}
	r.log.Debug("Resolved actor", "actor", uri, "handle", stored.Handle())
	return stored, nil
}

// ResolveObject returns the document for uri, from the document store when
// present, fetching and storing it otherwise.
func (r *Resolver) ResolveObject(ctx context.Context, uri string) (map[string]any, error) {
	doc, err := r.docs.Get(ctx, uri)
	if err == nil {
		return doc, nil
	}
	if !domain.IsKind(err, domain.KindNotFound) {
		return nil, err
	}
	doc, err = r.FetchDocument(ctx, uri)
	if err != nil {
		return nil, err
	}
	if stringProp(doc, "id") != uri && domain.DomainOf(stringProp(doc, "id")) != domain.DomainOf(uri) {
		return nil, domain.Upstream("object %s served from %s", stringProp(doc, "id"), uri).WithTag(domain.TagUpstream)
	}
	if err := r.docs.PutObject(ctx, doc); err != nil {
		r.log.Warn("Failed to store object", "object", uri, "err", err)
	}
	return doc, nil
}

// ResolveHandle accepts an actor URI or a handle (@user@host, user@host) and
// returns the account.
func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (*domain.Account, error) {
	if strings.HasPrefix(handle, "https://") || strings.HasPrefix(handle, "http://") {
		return r.ResolveActor(ctx, handle)
	}
	user, host, ok := strings.Cut(strings.TrimPrefix(handle, "@"), "@")
	if !ok || user == "" || host == "" {
		return nil, domain.Validation("invalid handle %q", handle)
	}
	if acc, err := r.store.ReadAccountByUsername(ctx, user, host); err == nil {
		if acc.IsInternal() || time.Since(acc.UpdatedAt) < r.opts.ActorTTL {
			return acc, nil
		}
	}
	actorURI, err := r.webfinger(ctx, user, host)
	if err != nil {
		return nil, err
	}
	return r.ResolveActor(ctx, actorURI)
}

func (r *Resolver) webfinger(ctx context.Context, user, host string) (string, error) {
	resource := fmt.Sprintf("acct:%s@%s", user, host)
	uri := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", host, url.QueryEscape(resource))
	doc, err := r.FetchDocument(ctx, uri)
	if err != nil {
		return "", err
	}
	links, _ := doc["links"].([]any)
	for _, l := range links {
		link, ok := l.(map[string]any)
		if !ok || stringProp(link, "rel") != "self" {
			continue
		}
		if t := stringProp(link, "type"); t == ContentType || strings.HasPrefix(t, "application/ld+json") {
			return stringProp(link, "href"), nil
		}
	}
	return "", domain.NotFound("no actor link for %s", resource)
}

// CollectionPage is one page of a remote collection.
type CollectionPage struct {
	Items []string
	// Embedded holds the items that were sent inline rather than by id.
	Embedded []map[string]any
	Next     string
}

// FetchCollectionPage fetches a collection or collection page. A collection
// is followed to its first page.
func (r *Resolver) FetchCollectionPage(ctx context.Context, uri string) (*CollectionPage, error) {
	doc, err := r.FetchDocument(ctx, uri)
	if err != nil {
		return nil, err
	}
	switch stringProp(doc, "type") {
	case "OrderedCollection", "Collection":
		first := parseRef(doc["first"])
		if first.Embedded() {
			doc = first.Doc
		} else if first.ID != "" {
			if doc, err = r.FetchDocument(ctx, first.ID); err != nil {
				return nil, err
			}
		}
	}

	page := &CollectionPage{Next: parseRef(doc["next"]).ID}
	items := doc["orderedItems"]
	if items == nil {
		items = doc["items"]
	}
	if list, ok := items.([]any); ok {
		for _, item := range list {
			ref := parseRef(item)
			if ref.ID == "" {
				continue
			}
			page.Items = append(page.Items, ref.ID)
			if ref.Embedded() {
				page.Embedded = append(page.Embedded, ref.Doc)
			}
		}
	}
	return page, nil
}

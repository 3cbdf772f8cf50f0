package activitypub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/util"
	"github.com/google/uuid"
)

// SiteUsername is the preferred username of every site account.
const SiteUsername = "index"

type iri uint

const (
	iriActor iri = iota
	iriInbox
	iriOutbox
	iriFollowers
	iriFollowing
	iriLiked
	iriSharedInbox
)

func siteIRI(host string, kind iri) string {
	actor := fmt.Sprintf("https://%s/users/%s", host, SiteUsername)
	switch kind {
	case iriInbox:
		return actor + "/inbox"
	case iriOutbox:
		return actor + "/outbox"
	case iriFollowers:
		return actor + "/followers"
	case iriFollowing:
		return actor + "/following"
	case iriLiked:
		return actor + "/liked"
	case iriSharedInbox:
		return fmt.Sprintf("https://%s/inbox", host)
	}
	return actor
}

// SiteActorURI returns the actor id of the site account of host.
func SiteActorURI(host string) string {
	return siteIRI(domain.NormalizeDomain(host), iriActor)
}

// NewSiteAccount builds the unsaved internal account of a site.
func NewSiteAccount(host, name string, keys *util.RsaKeyPair) domain.Account {
	host = domain.NormalizeDomain(host)
	if name == "" {
		name = host
	}
	now := time.Now().UTC()
	return domain.Account{
		UUID:           uuid.New(),
		Username:       SiteUsername,
		Name:           name,
		URL:            "https://" + host,
		ActorURI:       siteIRI(host, iriActor),
		InboxURI:       siteIRI(host, iriInbox),
		SharedInboxURI: siteIRI(host, iriSharedInbox),
		OutboxURI:      siteIRI(host, iriOutbox),
		FollowersURI:   siteIRI(host, iriFollowers),
		FollowingURI:   siteIRI(host, iriFollowing),
		LikedURI:       siteIRI(host, iriLiked),
		PublicKeyPem:   keys.Public,
		PrivateKeyPem:  keys.Private,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ActorDocument renders an internal account as a Person.
func ActorDocument(acc *domain.Account) map[string]any {
	doc := map[string]any{
		"@context":                  []any{ContextActivityStreams, ContextSecurity},
		"id":                        acc.ActorURI,
		"type":                      "Person",
		"preferredUsername":         acc.Username,
		"name":                      acc.Name,
		"summary":                   acc.Bio,
		"url":                       acc.URL,
		"inbox":                     acc.InboxURI,
		"outbox":                    acc.OutboxURI,
		"followers":                 acc.FollowersURI,
		"following":                 acc.FollowingURI,
		"liked":                     acc.LikedURI,
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"published":                 acc.CreatedAt.UTC().Format(time.RFC3339),
		"endpoints":                 map[string]any{"sharedInbox": acc.SharedInboxURI},
		"publicKey": map[string]any{
			"id":           acc.ActorURI + "#main-key",
			"owner":        acc.ActorURI,
			"publicKeyPem": acc.PublicKeyPem,
		},
	}
	if acc.AvatarURL != "" {
		doc["icon"] = map[string]any{"type": "Image", "url": acc.AvatarURL}
	}
	if acc.BannerImageURL != "" {
		doc["image"] = map[string]any{"type": "Image", "url": acc.BannerImageURL}
	}
	if len(acc.CustomFields) > 0 {
		var attachments []any
		for name, value := range acc.CustomFields {
			attachments = append(attachments, map[string]any{"type": "PropertyValue", "name": name, "value": value})
		}
		doc["attachment"] = attachments
	}
	return doc
}

// Sites provisions and looks up tenants.
type Sites struct {
	store *db.DB
	docs  *DocumentStore
	log   *log.Logger
}

func NewSites(store *db.DB, docs *DocumentStore, logger *log.Logger) *Sites {
	return &Sites{store: store, docs: docs, log: logger.WithPrefix("Sites")}
}

// Provision creates the site for host with a fresh keypair and webhook
// secret, and stores the actor document.
func (s *Sites) Provision(ctx context.Context, host, name string) (*domain.Site, *domain.Account, error) {
	host = domain.NormalizeDomain(host)
	if host == "" || strings.ContainsAny(host, "/ ") {
		return nil, nil, domain.Validation("invalid host %q", host)
	}
	keys, err := util.GeneratePemKeypair(2048)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	acc := NewSiteAccount(host, name, keys)
	site, err := s.store.CreateSite(ctx, host, util.RandomString(64), &acc)
	if err != nil {
		return nil, nil, err
	}
	if err := s.docs.PutObject(ctx, ActorDocument(&acc)); err != nil {
		return nil, nil, err
	}
	s.log.Info("Provisioned site", "host", host, "actor", acc.ActorURI)
	return site, &acc, nil
}

// Lookup returns the site of host and its account.
func (s *Sites) Lookup(ctx context.Context, host string) (*domain.Site, *domain.Account, error) {
	site, err := s.store.ReadSiteByHost(ctx, host)
	if err != nil {
		return nil, nil, err
	}
	acc, err := s.store.ReadSiteAccount(ctx, site.Id)
	if err != nil {
		return nil, nil, err
	}
	return site, acc, nil
}

package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Site is a tenant: one externally hosted publication, addressed by its host.
type Site struct {
	Id            int64
	Host          string
	WebhookSecret string
	CreatedAt     time.Time
}

// Account is a local (internal) or remote (external) actor.
type Account struct {
	Id             int64
	UUID           uuid.UUID
	Username       string
	Name           string
	Bio            string
	URL            string
	AvatarURL      string
	BannerImageURL string
	// ActivityPub identity
	ActorURI       string
	InboxURI       string
	SharedInboxURI string
	OutboxURI      string
	FollowingURI   string
	FollowersURI   string
	LikedURI       string
	PublicKeyPem   string
	PrivateKeyPem  string // internal accounts only
	CustomFields   map[string]string
	SiteId         int64 // zero for external accounts
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (acc *Account) IsInternal() bool {
	return acc.SiteId != 0
}

// Domain returns the normalized host of the actor URI.
func (acc *Account) Domain() string {
	return DomainOf(acc.ActorURI)
}

// Handle returns the fediverse handle, e.g. @alice@example.com.
func (acc *Account) Handle() string {
	return fmt.Sprintf("@%s@%s", acc.Username, acc.Domain())
}

// DeliveryInbox returns the shared inbox when preferred and known.
func (acc *Account) DeliveryInbox(preferShared bool) string {
	if preferShared && acc.SharedInboxURI != "" {
		return acc.SharedInboxURI
	}
	return acc.InboxURI
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %d \n\tUsername: %s \n\tActorURI: %s \n\tInternal: %t", acc.Id, acc.Username, acc.ActorURI, acc.IsInternal())
}

// ProfileUpdate carries the profile fields a site or remote actor may change.
// Nil fields are left untouched.
type ProfileUpdate struct {
	Name           *string
	Bio            *string
	URL            *string
	AvatarURL      *string
	BannerImageURL *string
	InboxURI       *string
	SharedInboxURI *string
	PublicKeyPem   *string
}

// UpdateProfile applies p and returns the updated account together with the
// events to publish once it is persisted. No event is produced for a no-op.
func (acc Account) UpdateProfile(p ProfileUpdate) (Account, []Event) {
	changed := false
	apply := func(dst *string, v *string) {
		if v != nil && *dst != *v {
			*dst = *v
			changed = true
		}
	}
	apply(&acc.Name, p.Name)
	apply(&acc.Bio, p.Bio)
	apply(&acc.URL, p.URL)
	apply(&acc.AvatarURL, p.AvatarURL)
	apply(&acc.BannerImageURL, p.BannerImageURL)
	apply(&acc.InboxURI, p.InboxURI)
	apply(&acc.SharedInboxURI, p.SharedInboxURI)
	apply(&acc.PublicKeyPem, p.PublicKeyPem)
	if !changed {
		return acc, nil
	}
	return acc, []Event{AccountUpdated{AccountId: acc.Id}}
}

// Follow creates the follow edge acc -> target.
func (acc *Account) Follow(target *Account) (Follow, []Event, error) {
	if acc.Id == target.Id {
		return Follow{}, nil, Validation("cannot follow yourself")
	}
	f := Follow{FollowerId: acc.Id, FollowingId: target.Id}
	return f, []Event{AccountFollowed{AccountId: target.Id, FollowerId: acc.Id}}, nil
}

func (acc *Account) Unfollow(target *Account) []Event {
	return []Event{AccountUnfollowed{AccountId: target.Id, UnfollowerId: acc.Id}}
}

func (acc *Account) Block(target *Account) (Block, []Event, error) {
	if acc.Id == target.Id {
		return Block{}, nil, Validation("cannot block yourself")
	}
	return Block{BlockerId: acc.Id, BlockedId: target.Id}, []Event{AccountBlocked{AccountId: target.Id, BlockerId: acc.Id}}, nil
}

func (acc *Account) Unblock(target *Account) []Event {
	return []Event{AccountUnblocked{AccountId: target.Id, UnblockerId: acc.Id}}
}

func (acc *Account) BlockDomain(host string) (DomainBlock, []Event, error) {
	d := NormalizeDomain(host)
	if d == "" {
		return DomainBlock{}, nil, Validation("invalid domain %q", host)
	}
	if d == acc.Domain() {
		return DomainBlock{}, nil, Validation("cannot block your own domain")
	}
	return DomainBlock{BlockerId: acc.Id, Domain: d}, []Event{DomainBlocked{Domain: d, BlockerId: acc.Id}}, nil
}

func (acc *Account) UnblockDomain(host string) []Event {
	return []Event{DomainUnblocked{Domain: NormalizeDomain(host), UnblockerId: acc.Id}}
}

// Follow is a directed follow edge.
type Follow struct {
	Id          int64
	FollowerId  int64
	FollowingId int64
	CreatedAt   time.Time
}

type Block struct {
	Id        int64
	BlockerId int64
	BlockedId int64
	CreatedAt time.Time
}

// DomainBlock suppresses every account whose actor URI host matches Domain.
type DomainBlock struct {
	Id        int64
	BlockerId int64
	Domain    string
	CreatedAt time.Time
}

// NormalizeDomain lowercases host and strips port and trailing dot.
func NormalizeDomain(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil {
			host = u.Host
		}
	}
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

// DomainOf returns the normalized host of uri, or "" if uri has none.
func DomainOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return ""
	}
	return NormalizeDomain(u.Host)
}

// Package dbtest provides a migrated temp-file database and account fixtures
// for tests of the packages built on db.
package dbtest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	keyPair *util.RsaKeyPair
)

// KeyPair returns a small RSA keypair shared by all fixtures.
func KeyPair(t testing.TB) *util.RsaKeyPair {
	keyOnce.Do(func() {
		kp, err := util.GeneratePemKeypair(1024)
		if err != nil {
			panic(err)
		}
		keyPair = kp
	})
	return keyPair
}

// NewDB opens a migrated database in a temp dir. A file rather than :memory:
// so every pooled connection sees the same data.
func NewDB(t testing.TB) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"), util.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.RunMigrations(context.Background()))
	return store
}

// InternalAccount describes the site account of host the way provisioning does.
func InternalAccount(t testing.TB, host string) *domain.Account {
	kp := KeyPair(t)
	base := "https://" + host
	return &domain.Account{
		UUID:           uuid.New(),
		Username:       "index",
		Name:           host,
		URL:            base,
		ActorURI:       base + "/users/index",
		InboxURI:       base + "/users/index/inbox",
		SharedInboxURI: base + "/inbox",
		OutboxURI:      base + "/users/index/outbox",
		FollowersURI:   base + "/users/index/followers",
		FollowingURI:   base + "/users/index/following",
		LikedURI:       base + "/users/index/liked",
		PublicKeyPem:   kp.Public,
		PrivateKeyPem:  kp.Private,
	}
}

// Site provisions a site and returns it with its internal account.
func Site(t testing.TB, store *db.DB, host string) (*domain.Site, *domain.Account) {
	t.Helper()
	acc := InternalAccount(t, host)
	site, err := store.CreateSite(context.Background(), host, "secret-"+host, acc)
	require.NoError(t, err)
	return site, acc
}

// RemoteAccount builds an external account at https://host/users/username.
func RemoteAccount(host, username string) *domain.Account {
	base := fmt.Sprintf("https://%s/users/%s", host, username)
	return &domain.Account{
		Username:       username,
		Name:           username,
		ActorURI:       base,
		InboxURI:       base + "/inbox",
		SharedInboxURI: "https://" + host + "/inbox",
		OutboxURI:      base + "/outbox",
		FollowersURI:   base + "/followers",
		FollowingURI:   base + "/following",
		PublicKeyPem:   "-----BEGIN PUBLIC KEY-----\n-----END PUBLIC KEY-----\n",
	}
}

// External stores a remote account and returns the stored row.
func External(t testing.TB, store *db.DB, host, username string) *domain.Account {
	t.Helper()
	acc, err := store.UpsertExternalAccount(context.Background(), RemoteAccount(host, username))
	require.NoError(t, err)
	return acc
}

// Post stores a post by author with the given audience.
func Post(t testing.TB, store *db.DB, author *domain.Account, objectURI string, audience domain.Audience) *domain.Post {
	t.Helper()
	p, err := domain.NewPost(domain.NewPostParams{
		Author:    author,
		Type:      domain.PostTypeNote,
		Audience:  audience,
		Content:   "<p>hello</p>",
		URL:       objectURI,
		ObjectURI: objectURI,
	})
	require.NoError(t, err)
	_, err = store.CreatePost(context.Background(), &p, nil)
	require.NoError(t, err)
	return &p
}

package feed

import (
	"database/sql"
	"testing"

	"github.com/deemkeen/pubgate/db/dbtest"
	"github.com/deemkeen/pubgate/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notificationTypes(items []domain.Notification) []domain.NotificationType {
	out := make([]domain.NotificationType, 0, len(items))
	for _, n := range items {
		out = append(out, n.Type)
	}
	return out
}

func TestInteractionsNotifyInternalAuthor(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	alice := dbtest.External(t, f.store, "social.example", "alice")
	post := dbtest.Post(t, f.store, site, "https://blog.example/note/1", domain.AudiencePublic)

	_, err := f.store.CreateLike(f.ctx, alice.Id, post.Id, post.Like(alice))
	require.NoError(t, err)
	_, err = f.store.CreateRepost(f.ctx, alice.Id, post.Id, post.Repost(alice))
	require.NoError(t, err)
	f.follow(t, alice, site)
	f.flush(t)

	page, err := f.notifications.GetNotifications(f.ctx, site, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.NotificationType{
		domain.NotificationFollow, domain.NotificationRepost, domain.NotificationLike,
	}, notificationTypes(page.Items))
	for _, n := range page.Items {
		assert.Equal(t, alice.Id, n.Account.Id)
		assert.False(t, n.Read)
	}
	assert.Equal(t, post.Id, page.Items[2].PostId)

	unread, err := f.notifications.UnreadCount(f.ctx, site)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	require.NoError(t, f.notifications.MarkRead(f.ctx, site))
	unread, err = f.notifications.UnreadCount(f.ctx, site)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestSelfInteractionsAreNotNotified(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	post := dbtest.Post(t, f.store, site, "https://blog.example/note/1", domain.AudiencePublic)

	_, err := f.store.CreateLike(f.ctx, site.Id, post.Id, post.Like(site))
	require.NoError(t, err)
	_, err = f.store.CreateRepost(f.ctx, site.Id, post.Id, post.Repost(site))
	require.NoError(t, err)
	f.flush(t)

	page, err := f.notifications.GetNotifications(f.ctx, site, "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
}

func TestExternalAuthorsAreNotNotified(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	alice := dbtest.External(t, f.store, "social.example", "alice")
	post := dbtest.Post(t, f.store, alice, "https://social.example/notes/1", domain.AudiencePublic)

	_, err := f.store.CreateLike(f.ctx, site.Id, post.Id, post.Like(site))
	require.NoError(t, err)
	f.follow(t, site, alice)

	var count int
	require.NoError(t, f.store.WithTx(f.ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(f.ctx, `SELECT COUNT(*) FROM notifications`).Scan(&count)
	}))
	assert.Zero(t, count)
}

func TestDeletedPostDropsNotifications(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	alice := dbtest.External(t, f.store, "social.example", "alice")
	post := dbtest.Post(t, f.store, site, "https://blog.example/note/1", domain.AudiencePublic)
	_, err := f.store.CreateLike(f.ctx, alice.Id, post.Id, post.Like(alice))
	require.NoError(t, err)
	f.flush(t)

	evts, err := post.Delete(site)
	require.NoError(t, err)
	require.NoError(t, f.store.SoftDeletePost(f.ctx, post, evts))
	f.flush(t)

	page, err := f.notifications.GetNotifications(f.ctx, site, "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestBlockDropsNotificationsFromBlocked(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	alice := dbtest.External(t, f.store, "social.example", "alice")
	bob := dbtest.External(t, f.store, "other.example", "bob")
	f.follow(t, alice, site)
	f.follow(t, bob, site)

	b, evts, err := site.Block(alice)
	require.NoError(t, err)
	_, err = f.store.CreateBlock(f.ctx, b, evts)
	require.NoError(t, err)
	f.flush(t)

	page, err := f.notifications.GetNotifications(f.ctx, site, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, bob.Id, page.Items[0].Account.Id)
}

func TestNotificationPaging(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	for _, host := range []string{"a.example", "b.example", "c.example"} {
		f.follow(t, dbtest.External(t, f.store, host, "u"), site)
	}

	first, err := f.notifications.GetNotifications(f.ctx, site, "", 2)
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotNil(t, first.Next)

	second, err := f.notifications.GetNotifications(f.ctx, site, *first.Next, 2)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Nil(t, second.Next)
	assert.Less(t, second.Items[0].Id, first.Items[1].Id)
}

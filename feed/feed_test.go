package feed

import (
	"context"
	"testing"

	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/db/dbtest"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/events"
	"github.com/deemkeen/pubgate/pagination"
	"github.com/deemkeen/pubgate/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx           context.Context
	store         *db.DB
	bus           *events.Bus
	feeds         *Service
	notifications *NotificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: dbtest.NewDB(t)}
	f.bus = events.NewBus(f.store, util.DiscardLogger())
	f.feeds = NewService(f.store, util.DiscardLogger())
	f.feeds.Register(f.bus)
	f.notifications = NewNotificationService(f.store, util.DiscardLogger())
	f.notifications.Register(f.bus)
	return f
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, f.bus.Flush(f.ctx))
}

func (f *fixture) follow(t *testing.T, follower, target *domain.Account) {
	t.Helper()
	edge, evts, err := follower.Follow(target)
	require.NoError(t, err)
	_, err = f.store.CreateFollow(f.ctx, edge, evts)
	require.NoError(t, err)
	f.flush(t)
}

func (f *fixture) feedPostIds(t *testing.T, viewer *domain.Account, feedType domain.FeedType) []int64 {
	t.Helper()
	page, err := f.feeds.GetFeed(f.ctx, viewer, feedType, "", pagination.MaxLimit)
	require.NoError(t, err)
	ids := make([]int64, 0, len(page.Items))
	for _, item := range page.Items {
		ids = append(ids, item.Post.Id)
	}
	return ids
}

func TestAudienceGating(t *testing.T) {
	tests := []struct {
		name     string
		audience domain.Audience
		visible  bool
	}{
		{"public", domain.AudiencePublic, true},
		{"followers only", domain.AudienceFollowersOnly, true},
		{"direct", domain.AudienceDirect, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, site := dbtest.Site(t, f.store, "blog.example")
			_, other := dbtest.Site(t, f.store, "other.example")
			alice := dbtest.External(t, f.store, "social.example", "alice")
			f.follow(t, site, alice)

			post := dbtest.Post(t, f.store, alice, "https://social.example/notes/1", tt.audience)
			f.flush(t)

			if tt.visible {
				assert.Equal(t, []int64{post.Id}, f.feedPostIds(t, site, domain.FeedTypeFeed))
			} else {
				n, err := f.store.CountFeedRowsForPost(f.ctx, post.Id)
				require.NoError(t, err)
				assert.Zero(t, n)
			}
			assert.Empty(t, f.feedPostIds(t, other, domain.FeedTypeFeed), "non-followers never see it")
		})
	}
}

func TestInternalAuthorSeesOwnPost(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	_, reader := dbtest.Site(t, f.store, "reader.example")
	f.follow(t, reader, site)

	post := dbtest.Post(t, f.store, site, "https://blog.example/note/1", domain.AudiencePublic)
	f.flush(t)

	assert.Equal(t, []int64{post.Id}, f.feedPostIds(t, site, domain.FeedTypeFeed))
	assert.Equal(t, []int64{post.Id}, f.feedPostIds(t, reader, domain.FeedTypeFeed))
	assert.Empty(t, f.feedPostIds(t, site, domain.FeedTypeInbox), "notes stay out of the articles feed")
}

func TestFanOutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	alice := dbtest.External(t, f.store, "social.example", "alice")
	f.follow(t, site, alice)
	post := dbtest.Post(t, f.store, alice, "https://social.example/notes/1", domain.AudiencePublic)
	f.flush(t)

	require.NoError(t, f.feeds.onPostCreated(f.ctx, domain.PostCreated{PostId: post.Id}))
	require.NoError(t, f.feeds.onPostCreated(f.ctx, domain.PostCreated{PostId: post.Id}))

	n, err := f.store.CountFeedRowsForPost(f.ctx, post.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReplyReachesParentAuthor(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	alice := dbtest.External(t, f.store, "social.example", "alice")
	parent := dbtest.Post(t, f.store, site, "https://blog.example/note/1", domain.AudiencePublic)

	reply, err := domain.NewPost(domain.NewPostParams{
		Author:    alice,
		Type:      domain.PostTypeNote,
		Audience:  domain.AudiencePublic,
		Content:   "<p>reply</p>",
		ObjectURI: "https://social.example/notes/reply",
		InReplyTo: parent,
	})
	require.NoError(t, err)
	_, err = f.store.CreatePost(f.ctx, &reply, parent)
	require.NoError(t, err)
	f.flush(t)

	assert.Equal(t, []int64{reply.Id, parent.Id}, f.feedPostIds(t, site, domain.FeedTypeFeed))

	page, err := f.notifications.GetNotifications(f.ctx, site, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, domain.NotificationReply, page.Items[0].Type)
	assert.Equal(t, parent.Id, page.Items[0].InReplyToPostId)
	assert.Equal(t, alice.Id, page.Items[0].Account.Id)
}

func TestBlockSuppression(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	alice := dbtest.External(t, f.store, "social.example", "alice")
	f.follow(t, site, alice)
	dbtest.Post(t, f.store, alice, "https://social.example/notes/1", domain.AudiencePublic)
	f.flush(t)
	require.Len(t, f.feedPostIds(t, site, domain.FeedTypeFeed), 1)

	b, evts, err := site.Block(alice)
	require.NoError(t, err)
	_, err = f.store.CreateBlock(f.ctx, b, evts)
	require.NoError(t, err)
	f.flush(t)
	assert.Empty(t, f.feedPostIds(t, site, domain.FeedTypeFeed), "existing rows are removed")

	dbtest.Post(t, f.store, alice, "https://social.example/notes/2", domain.AudiencePublic)
	f.flush(t)
	assert.Empty(t, f.feedPostIds(t, site, domain.FeedTypeFeed), "new posts are not fanned out")
}

func TestDomainBlockSuppression(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	alice := dbtest.External(t, f.store, "example.com", "alice")
	f.follow(t, site, alice)
	dbtest.Post(t, f.store, alice, "https://example.com/notes/1", domain.AudiencePublic)
	f.flush(t)

	b, evts, err := site.BlockDomain("Example.COM")
	require.NoError(t, err)
	_, err = f.store.CreateDomainBlock(f.ctx, b, evts)
	require.NoError(t, err)
	f.flush(t)
	assert.Empty(t, f.feedPostIds(t, site, domain.FeedTypeFeed))

	// an account from the blocked domain that was never individually blocked
	carol := dbtest.External(t, f.store, "example.com", "carol")
	f.follow(t, site, carol)
	dbtest.Post(t, f.store, carol, "https://example.com/notes/2", domain.AudiencePublic)
	f.flush(t)
	assert.Empty(t, f.feedPostIds(t, site, domain.FeedTypeFeed))
}

func TestUnfollowRemovesRows(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	alice := dbtest.External(t, f.store, "social.example", "alice")
	f.follow(t, site, alice)
	dbtest.Post(t, f.store, alice, "https://social.example/notes/1", domain.AudiencePublic)
	f.flush(t)

	_, err := f.store.DeleteFollow(f.ctx, site.Id, alice.Id, site.Unfollow(alice))
	require.NoError(t, err)
	f.flush(t)
	assert.Empty(t, f.feedPostIds(t, site, domain.FeedTypeFeed))
}

func TestRepostFansOutToReposterFollowers(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	_, reader := dbtest.Site(t, f.store, "reader.example")
	alice := dbtest.External(t, f.store, "social.example", "alice")
	f.follow(t, reader, site)
	post := dbtest.Post(t, f.store, alice, "https://social.example/notes/1", domain.AudiencePublic)
	f.flush(t)
	assert.Empty(t, f.feedPostIds(t, reader, domain.FeedTypeFeed))

	_, err := f.store.CreateRepost(f.ctx, site.Id, post.Id, post.Repost(site))
	require.NoError(t, err)
	f.flush(t)

	page, err := f.feeds.GetFeed(f.ctx, reader, domain.FeedTypeFeed, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, post.Id, page.Items[0].Post.Id)
	require.NotNil(t, page.Items[0].RepostedBy)
	assert.Equal(t, site.Id, page.Items[0].RepostedBy.Id)
	assert.Equal(t, []int64{post.Id}, f.feedPostIds(t, site, domain.FeedTypeFeed))

	_, err = f.store.DeleteRepost(f.ctx, site.Id, post.Id, post.Derepost(site))
	require.NoError(t, err)
	f.flush(t)
	assert.Empty(t, f.feedPostIds(t, reader, domain.FeedTypeFeed))
	assert.Empty(t, f.feedPostIds(t, site, domain.FeedTypeFeed))
}

func TestDeletedPostLeavesFeeds(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	alice := dbtest.External(t, f.store, "social.example", "alice")
	f.follow(t, site, alice)
	post := dbtest.Post(t, f.store, alice, "https://social.example/notes/1", domain.AudiencePublic)
	f.flush(t)

	evts, err := post.Delete(alice)
	require.NoError(t, err)
	require.NoError(t, f.store.SoftDeletePost(f.ctx, post, evts))
	f.flush(t)

	n, err := f.store.CountFeedRowsForPost(f.ctx, post.Id)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFeedCursorRoundTrip(t *testing.T) {
	f := newFixture(t)
	_, site := dbtest.Site(t, f.store, "blog.example")
	var want []int64
	for i := range 7 {
		p := dbtest.Post(t, f.store, site, "https://blog.example/note/"+string(rune('a'+i)), domain.AudiencePublic)
		want = append([]int64{p.Id}, want...)
	}
	f.flush(t)

	var got []int64
	cursor := ""
	for pages := 0; ; pages++ {
		require.Less(t, pages, 10)
		page, err := f.feeds.GetFeed(f.ctx, site, domain.FeedTypeFeed, cursor, 3)
		require.NoError(t, err)
		for _, item := range page.Items {
			got = append(got, item.Post.Id)
		}
		if page.Next == nil {
			break
		}
		cursor = *page.Next
	}
	assert.Equal(t, want, got)

	_, err := f.feeds.GetFeed(f.ctx, site, domain.FeedTypeFeed, "not-a-cursor", 3)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

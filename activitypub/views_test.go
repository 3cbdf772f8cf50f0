package activitypub

import (
	"testing"

	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activityIDs(items []map[string]any) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item["id"].(string))
	}
	return ids
}

func TestActivitiesFiltersAndPages(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, env.deliver(t, note(alice, "https://social.example/notes/"+id, "note "+id, nil)))
	}
	require.NoError(t, env.deliver(t, note(alice, "https://social.example/articles/1", "long read", map[string]any{"type": "Article", "name": "Long read"})))
	require.NoError(t, env.deliver(t, note(alice, "https://social.example/notes/reply", "re", map[string]any{"inReplyTo": "https://social.example/notes/1"})))
	require.NoError(t, env.deliver(t, followOf(alice, env.siteAcc.ActorURI, "https://social.example/follows/1")))

	q := ActivitiesQuery{Types: []string{"Create"}, ObjectTypes: []string{"Note"}, ExcludeReplies: true, Limit: 2}
	first, err := env.views.Activities(env.ctx, testHost, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://social.example/notes/3/activity", "https://social.example/notes/2/activity"}, activityIDs(first.Items))
	require.NotNil(t, first.Next)

	q.Cursor = *first.Next
	second, err := env.views.Activities(env.ctx, testHost, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://social.example/notes/1/activity"}, activityIDs(second.Items))
	assert.Nil(t, second.Next)

	q.Cursor = pagination.EncodeCursor("https://social.example/never-seen")
	_, err = env.views.Activities(env.ctx, testHost, q)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	all, err := env.views.Activities(env.ctx, testHost, ActivitiesQuery{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 6)

	legacy, err := env.views.LegacyInbox(env.ctx, testHost, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://social.example/articles/1/activity"}, activityIDs(legacy.Items))
}

func TestActivitiesIncludeOwn(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	require.NoError(t, env.deliver(t, note(alice, "https://social.example/notes/1", "theirs", nil)))
	own, err := env.outbox.CreateNote(env.ctx, env.siteAcc, "mine")
	require.NoError(t, err)

	without, err := env.views.Activities(env.ctx, testHost, ActivitiesQuery{})
	require.NoError(t, err)
	assert.NotContains(t, activityIDs(without.Items), own["id"])

	with, err := env.views.Activities(env.ctx, testHost, ActivitiesQuery{IncludeOwn: true})
	require.NoError(t, err)
	assert.Equal(t, own["id"], with.Items[0]["id"], "newest first")
}

func TestBuildActivityEnrichesForViewer(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	objectURI := "https://social.example/notes/1"
	require.NoError(t, env.deliver(t, note(alice, objectURI, "likeable", nil)))
	_, err := env.outbox.Like(env.ctx, env.siteAcc, objectURI)
	require.NoError(t, err)
	env.wait()

	viewer, err := env.builder.Viewer(env.ctx, testHost)
	require.NoError(t, err)
	built, err := env.builder.BuildAll(env.ctx, []string{"https://social.example/missing", objectURI + "/activity"}, viewer)
	require.NoError(t, err)
	require.Len(t, built, 1, "unknown documents are dropped")

	doc := built[0]
	actor, ok := doc["actor"].(map[string]any)
	require.True(t, ok, "actor is dereferenced")
	assert.Equal(t, alice.ActorURI, actor["id"])

	object := doc["object"].(map[string]any)
	assert.Equal(t, true, object["liked"])
	assert.Equal(t, false, object["reposted"])
	assert.Equal(t, 0, object["replyCount"])
	author, ok := object["attributedTo"].(map[string]any)
	require.True(t, ok, "author is dereferenced")
	assert.Equal(t, "alice", author["preferredUsername"])
}

func TestThread(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "alice.example", "alice")
	bob := env.remote(t, "bob.example", "bob")
	root := "https://alice.example/notes/root"
	middle := "https://bob.example/notes/middle"
	leaf := "https://alice.example/notes/leaf"
	require.NoError(t, env.deliver(t, note(alice, root, "root", nil)))
	require.NoError(t, env.deliver(t, note(bob, middle, "middle", map[string]any{"inReplyTo": root})))
	require.NoError(t, env.deliver(t, note(alice, leaf, "leaf", map[string]any{"inReplyTo": middle})))

	thread, err := env.views.Thread(env.ctx, testHost, middle)
	require.NoError(t, err)
	assert.Equal(t, []string{root + "/activity", middle + "/activity", leaf + "/activity"}, activityIDs(thread))

	thread, err = env.views.Thread(env.ctx, testHost, root)
	require.NoError(t, err)
	assert.Equal(t, []string{root + "/activity", middle + "/activity"}, activityIDs(thread))

	_, err = env.views.Thread(env.ctx, testHost, "https://alice.example/notes/unknown")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestProfileRelations(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	carol := env.remote(t, "carol.example", "carol")
	require.NoError(t, env.deliver(t, followOf(carol, env.siteAcc.ActorURI, "https://carol.example/follows/1")))
	require.NoError(t, env.outbox.Block(env.ctx, env.siteAcc, alice.ActorURI))
	require.NoError(t, env.outbox.BlockDomain(env.ctx, env.siteAcc, "social.example"))

	p, err := env.views.Profile(env.ctx, env.siteAcc, alice.ActorURI)
	require.NoError(t, err)
	assert.True(t, p.BlockedByMe)
	assert.True(t, p.DomainBlockedByMe)
	assert.False(t, p.FollowsMe)

	p, err = env.views.Profile(env.ctx, env.siteAcc, "@carol@carol.example")
	require.NoError(t, err)
	assert.True(t, p.FollowsMe)
	assert.False(t, p.FollowedByMe)
	assert.Equal(t, p.FollowedByMe, p.IsFollowing)
	assert.False(t, p.BlockedByMe)

	self, err := env.views.Profile(env.ctx, env.siteAcc, env.siteAcc.ActorURI)
	require.NoError(t, err)
	assert.Equal(t, 1, self.FollowerCount)
}

func TestFollowersOfInternalAccount(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"a", "b", "c"} {
		env.follower(t, env.remote(t, name+".example", name))
	}

	first, err := env.views.Followers(env.ctx, env.siteAcc, env.siteAcc.ActorURI, "", 2)
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "c", first.Items[0].Account.Username, "newest follow first")
	require.NotNil(t, first.Next)

	second, err := env.views.Followers(env.ctx, env.siteAcc, env.siteAcc.ActorURI, *first.Next, 2)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "a", second.Items[0].Account.Username)
	assert.Nil(t, second.Next)

	_, err = env.views.Followers(env.ctx, env.siteAcc, env.siteAcc.ActorURI, "garbage", 2)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestRemoteFollowersRejectForeignCursor(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")

	cursor := pagination.EncodeCursor("https://evil.example/users/alice/followers?page=2")
	_, err := env.views.Followers(env.ctx, env.siteAcc, alice.ActorURI, cursor, 0)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = env.views.ProfilePosts(env.ctx, testHost, alice.ActorURI, cursor, 0)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestProfilePostsOfSite(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	env.remoteNote(t, alice, "https://social.example/notes/1")

	first, err := env.outbox.CreateNote(env.ctx, env.siteAcc, "first")
	require.NoError(t, err)
	_, err = env.outbox.Like(env.ctx, env.siteAcc, "https://social.example/notes/1")
	require.NoError(t, err)
	second, err := env.outbox.CreateNote(env.ctx, env.siteAcc, "second")
	require.NoError(t, err)
	env.wait()

	page, err := env.views.ProfilePosts(env.ctx, testHost, env.siteAcc.ActorURI, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{second["id"].(string), first["id"].(string)}, activityIDs(page.Items))
}

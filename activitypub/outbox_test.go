package activitypub

import (
	"net/http"
	"testing"

	"github.com/deemkeen/pubgate/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// follower makes acc a follower of the site.
func (e *testEnv) follower(t *testing.T, acc *domain.Account) {
	t.Helper()
	f, evts, err := acc.Follow(e.siteAcc)
	require.NoError(t, err)
	_, err = e.db.CreateFollow(e.ctx, f, evts)
	require.NoError(t, err)
}

// remoteNote stores a public note by author in the document store, as if it
// had been fetched before.
func (e *testEnv) remoteNote(t *testing.T, author *domain.Account, id string) {
	t.Helper()
	require.NoError(t, e.docs.PutObject(e.ctx, map[string]any{
		"id":           id,
		"type":         "Note",
		"attributedTo": author.ActorURI,
		"content":      "<p>remote</p>",
		"to":           []any{PublicCollection},
	}))
}

func TestLikeUnlikeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	objectURI := "https://social.example/notes/1"
	env.remoteNote(t, alice, objectURI)

	like, err := env.outbox.Like(env.ctx, env.siteAcc, objectURI)
	require.NoError(t, err)
	env.wait()
	assert.Equal(t, LikeID(testHost, objectURI), like["id"])

	post, err := env.db.ReadPostByApId(env.ctx, objectURI)
	require.NoError(t, err)
	liked, err := env.db.IsLiked(env.ctx, env.siteAcc.Id, post.Id)
	require.NoError(t, err)
	assert.True(t, liked)

	sent := env.transport.ofType("Like")
	require.Len(t, sent, 1)
	assert.Equal(t, alice.InboxURI, sent[0].Inbox)

	_, err = env.outbox.Like(env.ctx, env.siteAcc, objectURI)
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	undo, err := env.outbox.Unlike(env.ctx, env.siteAcc, objectURI)
	require.NoError(t, err)
	env.wait()
	assert.Equal(t, UndoID(testHost, LikeID(testHost, objectURI)), undo["id"])
	liked, err = env.db.IsLiked(env.ctx, env.siteAcc.Id, post.Id)
	require.NoError(t, err)
	assert.False(t, liked)
	require.Len(t, env.transport.ofType("Undo"), 1)

	_, err = env.outbox.Unlike(env.ctx, env.siteAcc, objectURI)
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	again, err := env.outbox.Like(env.ctx, env.siteAcc, objectURI)
	require.NoError(t, err)
	assert.Equal(t, like["id"], again["id"])
}

func TestRepostReachesFollowersAndAuthor(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	bob := env.remote(t, "bob.example", "bob")
	env.follower(t, bob)
	objectURI := "https://social.example/notes/2"
	env.remoteNote(t, alice, objectURI)

	announce, err := env.outbox.Repost(env.ctx, env.siteAcc, objectURI)
	require.NoError(t, err)
	env.wait()
	assert.Equal(t, AnnounceID(testHost, objectURI), announce["id"])

	var inboxes []string
	for _, s := range env.transport.ofType("Announce") {
		inboxes = append(inboxes, s.Inbox)
	}
	assert.ElementsMatch(t, []string{bob.SharedInboxURI, alice.InboxURI}, inboxes)

	_, err = env.outbox.Repost(env.ctx, env.siteAcc, objectURI)
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	_, err = env.outbox.Derepost(env.ctx, env.siteAcc, objectURI)
	require.NoError(t, err)
	env.wait()

	post, err := env.db.ReadPostByApId(env.ctx, objectURI)
	require.NoError(t, err)
	reposted, err := env.db.IsReposted(env.ctx, env.siteAcc.Id, post.Id)
	require.NoError(t, err)
	assert.False(t, reposted)
	outbox, err := env.docs.List(env.ctx, testHost, ListOutbox)
	require.NoError(t, err)
	assert.NotContains(t, outbox, announce["id"])

	_, err = env.outbox.Derepost(env.ctx, env.siteAcc, objectURI)
	assert.True(t, domain.IsKind(err, domain.KindConflict))
}

func TestFollowUnfollow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")

	_, err := env.outbox.Unfollow(env.ctx, env.siteAcc, alice.ActorURI)
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	_, err = env.outbox.Follow(env.ctx, env.siteAcc, env.siteAcc.ActorURI)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	follow, err := env.outbox.Follow(env.ctx, env.siteAcc, "@alice@social.example")
	require.NoError(t, err)
	require.NoError(t, env.deliver(t, map[string]any{
		"id":     "https://social.example/accepts/1",
		"type":   "Accept",
		"actor":  alice.ActorURI,
		"object": follow["id"],
	}))

	undo, err := env.outbox.Unfollow(env.ctx, env.siteAcc, alice.ActorURI)
	require.NoError(t, err)
	env.wait()
	assert.Equal(t, UndoID(testHost, follow["id"].(string)), undo["id"])
	embedded := undo["object"].(map[string]any)
	assert.Equal(t, "Follow", embedded["type"])

	following, err := env.db.IsFollowing(env.ctx, env.siteAcc.Id, alice.Id)
	require.NoError(t, err)
	assert.False(t, following)
	require.Len(t, env.transport.ofType("Undo"), 1)
	assert.Equal(t, alice.InboxURI, env.transport.ofType("Undo")[0].Inbox)
}

func TestCreateNote(t *testing.T) {
	env := newTestEnv(t)
	bob := env.remote(t, "bob.example", "bob")
	env.follower(t, bob)

	_, err := env.outbox.CreateNote(env.ctx, env.siteAcc, "   ")
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	create, err := env.outbox.CreateNote(env.ctx, env.siteAcc, "hello\nworld")
	require.NoError(t, err)
	env.wait()

	object := create["object"].(map[string]any)
	objectURI := object["id"].(string)
	assert.Contains(t, objectURI, "https://blog.example/note/")
	assert.Equal(t, env.siteAcc.ActorURI, object["attributedTo"])

	post, err := env.db.ReadPostByApId(env.ctx, objectURI)
	require.NoError(t, err)
	assert.Equal(t, domain.AudiencePublic, post.Audience)
	assert.Equal(t, env.siteAcc.Id, post.Author.Id)

	outbox, err := env.docs.List(env.ctx, testHost, ListOutbox)
	require.NoError(t, err)
	assert.Equal(t, []string{create["id"].(string)}, outbox)
	require.Len(t, env.transport.ofType("Create"), 1)
	assert.Equal(t, bob.SharedInboxURI, env.transport.ofType("Create")[0].Inbox)
}

func TestReply(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	parentURI := "https://social.example/notes/3"
	env.remoteNote(t, alice, parentURI)

	create, err := env.outbox.Reply(env.ctx, env.siteAcc, parentURI, "agreed")
	require.NoError(t, err)
	env.wait()

	object := create["object"].(map[string]any)
	assert.Equal(t, parentURI, object["inReplyTo"])
	parent, err := env.db.ReadPostByApId(env.ctx, parentURI)
	require.NoError(t, err)
	reply, err := env.db.ReadPostByApId(env.ctx, object["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, parent.Id, reply.InReplyTo)

	sent := env.transport.ofType("Create")
	require.Len(t, sent, 1)
	assert.Equal(t, alice.InboxURI, sent[0].Inbox)
}

func TestReplyToBlockingAuthorIsDenied(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	parentURI := "https://social.example/notes/4"
	env.remoteNote(t, alice, parentURI)

	b, evts, err := alice.Block(env.siteAcc)
	require.NoError(t, err)
	_, err = env.db.CreateBlock(env.ctx, b, evts)
	require.NoError(t, err)

	_, err = env.outbox.Reply(env.ctx, env.siteAcc, parentURI, "hello?")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindDenied))
	assert.Equal(t, domain.TagBlocked, domain.TagOf(err))
}

func TestReplyToNonPost(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.docs.PutObject(env.ctx, map[string]any{
		"id":   "https://social.example/things/1",
		"type": "Question",
	}))

	_, err := env.outbox.Reply(env.ctx, env.siteAcc, "https://social.example/things/1", "hi")
	assert.Equal(t, domain.TagNotAPost, domain.TagOf(err))
}

func TestReplyErrorTags(t *testing.T) {
	rs := newRemoteServer(t)
	rs.docs["/notes/broken"] = http.StatusInternalServerError
	rs.docs["/users/flaky"] = http.StatusBadGateway
	env := newTestEnvWithClient(t, rs.Client())

	stored := func(id string, doc map[string]any) string {
		doc["id"] = id
		doc["type"] = "Note"
		doc["content"] = "parent"
		require.NoError(t, env.docs.PutObject(env.ctx, doc))
		return id
	}

	tests := []struct {
		name   string
		parent string
		kind   domain.Kind
		tag    string
	}{
		{"parent host failing", rs.URL + "/notes/broken", domain.KindUpstream, domain.TagUpstream},
		{"parent without author", stored(rs.URL+"/notes/anonymous", map[string]any{}), domain.KindNotFound, domain.TagMissingAuthor},
		{"author gone", stored(rs.URL+"/notes/orphan", map[string]any{"attributedTo": rs.URL + "/users/ghost"}), domain.KindNotFound, domain.TagMissingAuthor},
		{"author host failing", stored(rs.URL+"/notes/flaky", map[string]any{"attributedTo": rs.URL + "/users/flaky"}), domain.KindUpstream, domain.TagUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.outbox.Reply(env.ctx, env.siteAcc, tt.parent, "hi")
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, tt.kind), err.Error())
			assert.Equal(t, tt.tag, domain.TagOf(err))
		})
	}
}

func TestPublishArticle(t *testing.T) {
	env := newTestEnv(t)
	bob := env.remote(t, "bob.example", "bob")
	env.follower(t, bob)
	in := ArticleInput{
		UUID:       uuid.New(),
		Title:      "Launch",
		Excerpt:    "We launched",
		Content:    "<p>Today we launched.</p>",
		URL:        "https://blog.example/launch/",
		Visibility: "public",
	}

	first, err := env.outbox.PublishArticle(env.ctx, env.siteAcc, in)
	require.NoError(t, err)
	second, err := env.outbox.PublishArticle(env.ctx, env.siteAcc, in)
	require.NoError(t, err)
	env.wait()

	assert.Equal(t, first["id"], second["id"])
	require.Len(t, env.transport.ofType("Create"), 1)
	object := first["object"].(map[string]any)
	assert.Equal(t, "Article", object["type"])
	assert.Equal(t, "Launch", object["name"])
	assert.Equal(t, ObjectIDFor(testHost, "Article", in.UUID), object["id"])

	in.UUID = uuid.New()
	in.Visibility = "members"
	skipped, err := env.outbox.PublishArticle(env.ctx, env.siteAcc, in)
	require.NoError(t, err)
	assert.Nil(t, skipped)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	bob := env.remote(t, "bob.example", "bob")
	env.follower(t, bob)

	same := env.siteAcc.Name
	doc, err := env.outbox.UpdateProfile(env.ctx, env.siteAcc, domain.ProfileUpdate{Name: &same})
	require.NoError(t, err)
	assert.Nil(t, doc)

	name := "Renamed Blog"
	doc, err = env.outbox.UpdateProfile(env.ctx, env.siteAcc, domain.ProfileUpdate{Name: &name})
	require.NoError(t, err)
	env.wait()
	require.NotNil(t, doc)
	assert.Equal(t, "Renamed Blog", doc["object"].(map[string]any)["name"])

	stored, err := env.db.ReadAccountById(env.ctx, env.siteAcc.Id)
	require.NoError(t, err)
	assert.Equal(t, "Renamed Blog", stored.Name)
	assert.Len(t, env.transport.ofType("Update"), 1)
}

func TestDeletePost(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	env.follower(t, alice)

	create, err := env.outbox.CreateNote(env.ctx, env.siteAcc, "soon gone")
	require.NoError(t, err)
	objectURI := create["object"].(map[string]any)["id"].(string)

	del, err := env.outbox.DeletePost(env.ctx, env.siteAcc, objectURI)
	require.NoError(t, err)
	env.wait()
	assert.Equal(t, "Delete", del["type"])

	post, err := env.db.ReadPostByApId(env.ctx, objectURI)
	require.NoError(t, err)
	assert.True(t, post.IsDeleted())

	outbox, err := env.docs.List(env.ctx, testHost, ListOutbox)
	require.NoError(t, err)
	assert.NotContains(t, outbox, create["id"])
	assert.Contains(t, outbox, del["id"])
	tombstone, err := env.docs.Get(env.ctx, objectURI)
	require.NoError(t, err)
	assert.Equal(t, "Tombstone", tombstone["type"])
	assert.Len(t, env.transport.ofType("Delete"), 1)

	_, err = env.outbox.DeletePost(env.ctx, env.siteAcc, objectURI)
	assert.True(t, domain.IsKind(err, domain.KindConflict))
}

func TestDeleteOfAnotherAuthorsPostIsDenied(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	require.NoError(t, env.deliver(t, note(alice, "https://social.example/notes/5", "mine", nil)))

	_, err := env.outbox.DeletePost(env.ctx, env.siteAcc, "https://social.example/notes/5")
	assert.True(t, domain.IsKind(err, domain.KindDenied))
}

func TestBlockDropsFollow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.remote(t, "social.example", "alice")
	require.NoError(t, env.deliver(t, followOf(alice, env.siteAcc.ActorURI, "https://social.example/follows/1")))

	require.NoError(t, env.outbox.Block(env.ctx, env.siteAcc, alice.ActorURI))

	n, err := env.db.CountFollowers(env.ctx, env.siteAcc.Id)
	require.NoError(t, err)
	assert.Zero(t, n)
	listed, err := env.docs.ListContains(env.ctx, testHost, ListFollowers, alice.ActorURI)
	require.NoError(t, err)
	assert.False(t, listed)

	err = env.outbox.Block(env.ctx, env.siteAcc, alice.ActorURI)
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	require.NoError(t, env.outbox.Unblock(env.ctx, env.siteAcc, alice.ActorURI))
	err = env.outbox.Unblock(env.ctx, env.siteAcc, alice.ActorURI)
	assert.True(t, domain.IsKind(err, domain.KindConflict))
}

func TestBlockDomain(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.outbox.BlockDomain(env.ctx, env.siteAcc, "Spam.Example"))
	err := env.outbox.BlockDomain(env.ctx, env.siteAcc, "spam.example")
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	err = env.outbox.BlockDomain(env.ctx, env.siteAcc, testHost)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	require.NoError(t, env.outbox.UnblockDomain(env.ctx, env.siteAcc, "spam.example"))
	err = env.outbox.UnblockDomain(env.ctx, env.siteAcc, "spam.example")
	assert.True(t, domain.IsKind(err, domain.KindConflict))
}

package activitypub

import (
	"testing"

	"github.com/deemkeen/pubgate/domain"
)

func TestParseActivityVariants(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"follow", `{"id":"https://a.example/f/1","type":"Follow","actor":"https://a.example/users/alice","object":"https://b.example/users/index"}`, "*activitypub.FollowActivity"},
		{"accept embedded follow", `{"id":"https://a.example/a/1","type":"Accept","actor":"https://a.example/users/alice",
			"object":{"id":"https://b.example/follow/1","type":"Follow","actor":"https://b.example/users/index","object":"https://a.example/users/alice"}}`, "*activitypub.AcceptActivity"},
		{"accept by reference", `{"id":"https://a.example/a/2","type":"Accept","actor":"https://a.example/users/alice","object":"https://b.example/follow/1"}`, "*activitypub.AcceptActivity"},
		{"accept of something else", `{"id":"https://a.example/a/3","type":"Accept","actor":"https://a.example/users/alice","object":{"id":"https://b.example/x","type":"Offer"}}`, "*activitypub.UnsupportedActivity"},
		{"create note", `{"id":"https://a.example/c/1","type":"Create","actor":"https://a.example/users/alice",
			"object":{"id":"https://a.example/notes/1","type":"Note","attributedTo":"https://a.example/users/alice","content":"hi"}}`, "*activitypub.CreateActivity"},
		{"create article", `{"id":"https://a.example/c/2","type":"Create","actor":"https://a.example/users/alice",
			"object":{"id":"https://a.example/articles/1","type":"Article","attributedTo":"https://a.example/users/alice","name":"Title"}}`, "*activitypub.CreateActivity"},
		{"create question", `{"id":"https://a.example/c/3","type":"Create","actor":"https://a.example/users/alice",
			"object":{"id":"https://a.example/q/1","type":"Question"}}`, "*activitypub.UnsupportedActivity"},
		{"create of an object on another host", `{"id":"https://a.example/c/5","type":"Create","actor":"https://a.example/users/alice",
			"object":{"id":"https://b.example/note/1","type":"Note","attributedTo":"https://a.example/users/alice","content":"hi"}}`, "*activitypub.UnsupportedActivity"},
		{"create by reference", `{"id":"https://a.example/c/4","type":"Create","actor":"https://a.example/users/alice","object":"https://a.example/notes/1"}`, "*activitypub.UnsupportedActivity"},
		{"announce", `{"id":"https://a.example/an/1","type":"Announce","actor":"https://a.example/users/alice","object":"https://c.example/notes/9"}`, "*activitypub.AnnounceActivity"},
		{"like", `{"id":"https://a.example/l/1","type":"Like","actor":"https://a.example/users/alice","object":"https://c.example/notes/9"}`, "*activitypub.LikeActivity"},
		{"undo follow", `{"id":"https://a.example/u/1","type":"Undo","actor":"https://a.example/users/alice",
			"object":{"id":"https://a.example/f/1","type":"Follow","actor":"https://a.example/users/alice","object":"https://b.example/users/index"}}`, "*activitypub.UndoActivity"},
		{"undo by reference", `{"id":"https://a.example/u/2","type":"Undo","actor":"https://a.example/users/alice","object":"https://a.example/l/1"}`, "*activitypub.UndoActivity"},
		{"undo block", `{"id":"https://a.example/u/3","type":"Undo","actor":"https://a.example/users/alice","object":{"id":"https://a.example/b/1","type":"Block"}}`, "*activitypub.UnsupportedActivity"},
		{"update actor", `{"id":"https://a.example/up/1","type":"Update","actor":"https://a.example/users/alice",
			"object":{"id":"https://a.example/users/alice","type":"Person","inbox":"https://a.example/users/alice/inbox"}}`, "*activitypub.UpdateActorActivity"},
		{"update note", `{"id":"https://a.example/up/2","type":"Update","actor":"https://a.example/users/alice",
			"object":{"id":"https://a.example/notes/1","type":"Note"}}`, "*activitypub.UnsupportedActivity"},
		{"delete tombstone", `{"id":"https://a.example/d/1","type":"Delete","actor":"https://a.example/users/alice",
			"object":{"id":"https://a.example/notes/1","type":"Tombstone"}}`, "*activitypub.DeleteActivity"},
		{"delete actor", `{"id":"https://a.example/users/alice#delete","type":"Delete","actor":"https://a.example/users/alice","object":"https://a.example/users/alice"}`, "*activitypub.DeleteActivity"},
		{"unknown type", `{"id":"https://a.example/m/1","type":"Move","actor":"https://a.example/users/alice","object":"https://a.example/users/alice"}`, "*activitypub.UnsupportedActivity"},
		{"actor as object", `{"id":"https://a.example/l/2","type":"Like","actor":{"id":"https://a.example/users/alice","type":"Person"},"object":"https://c.example/notes/9"}`, "*activitypub.LikeActivity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activity, err := ParseActivity([]byte(tt.json))
			if err != nil {
				t.Fatalf("ParseActivity failed: %v", err)
			}
			if got := typeName(activity); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func typeName(a Activity) string {
	switch a.(type) {
	case *FollowActivity:
		return "*activitypub.FollowActivity"
	case *AcceptActivity:
		return "*activitypub.AcceptActivity"
	case *CreateActivity:
		return "*activitypub.CreateActivity"
	case *AnnounceActivity:
		return "*activitypub.AnnounceActivity"
	case *LikeActivity:
		return "*activitypub.LikeActivity"
	case *UndoActivity:
		return "*activitypub.UndoActivity"
	case *UpdateActorActivity:
		return "*activitypub.UpdateActorActivity"
	case *DeleteActivity:
		return "*activitypub.DeleteActivity"
	case *UnsupportedActivity:
		return "*activitypub.UnsupportedActivity"
	}
	return "unknown"
}

func TestParseActivityRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `{"id":`},
		{"missing id", `{"type":"Follow","actor":"https://a.example/users/alice","object":"x"}`},
		{"missing type", `{"id":"https://a.example/1","actor":"https://a.example/users/alice"}`},
		{"missing actor", `{"id":"https://a.example/1","type":"Like","object":"x"}`},
		{"follow without object", `{"id":"https://a.example/1","type":"Follow","actor":"https://a.example/users/alice"}`},
		{"note without id", `{"id":"https://a.example/1","type":"Create","actor":"https://a.example/users/alice","object":{"type":"Note"}}`},
		{"actor update without inbox", `{"id":"https://a.example/1","type":"Update","actor":"https://a.example/users/alice","object":{"id":"https://a.example/users/alice","type":"Person"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseActivity([]byte(tt.json))
			if !domain.IsKind(err, domain.KindValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestParseUndoCarriesUndoneActivity(t *testing.T) {
	activity, err := ParseActivity([]byte(`{
		"id": "https://a.example/u/1",
		"type": "Undo",
		"actor": "https://a.example/users/alice",
		"object": {
			"id": "https://a.example/likes/1",
			"type": "Like",
			"actor": "https://a.example/users/alice",
			"object": "https://b.example/notes/1"
		}
	}`))
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	undo := activity.(*UndoActivity)
	if undo.Kind != UndoLike {
		t.Errorf("Expected UndoLike, got %v", undo.Kind)
	}
	if undo.UndoneID != "https://a.example/likes/1" {
		t.Errorf("Expected undone id, got '%s'", undo.UndoneID)
	}
	if undo.UndoneObject != "https://b.example/notes/1" {
		t.Errorf("Expected undone object, got '%s'", undo.UndoneObject)
	}

	byRef, _ := ParseActivity([]byte(`{"id":"https://a.example/u/2","type":"Undo","actor":"https://a.example/users/alice","object":"https://a.example/likes/1"}`))
	if byRef.(*UndoActivity).Kind != UndoUnknown {
		t.Error("Undo by reference should be UndoUnknown")
	}
}

func TestParsePostObject(t *testing.T) {
	post, ok, err := ParsePostObject(map[string]any{
		"id":           "https://a.example/notes/1",
		"type":         "Note",
		"attributedTo": "https://a.example/users/alice",
		"content":      "<p>Hello <a href=\"https://example.com\">world</a></p>",
		"inReplyTo":    "https://b.example/notes/7",
		"published":    "2024-03-01T10:00:00Z",
		"to":           []any{PublicCollection},
		"attachment": []any{
			map[string]any{"type": "Document", "mediaType": "image/png", "url": "https://a.example/img.png"},
		},
	})
	if err != nil || !ok {
		t.Fatalf("ParsePostObject failed: ok=%v err=%v", ok, err)
	}
	if post.URL != post.ID {
		t.Errorf("URL should fall back to the id, got '%s'", post.URL)
	}
	if post.ImageURL != "https://a.example/img.png" {
		t.Errorf("Expected image from attachment, got '%s'", post.ImageURL)
	}
	if post.InReplyTo != "https://b.example/notes/7" {
		t.Errorf("Expected inReplyTo, got '%s'", post.InReplyTo)
	}
	if post.Published.Year() != 2024 {
		t.Errorf("Expected published date, got %v", post.Published)
	}

	if _, ok, _ := ParsePostObject(map[string]any{"id": "x", "type": "Image"}); ok {
		t.Error("Image should not parse as a post")
	}
}

func TestPostAudience(t *testing.T) {
	followers := "https://a.example/users/alice/followers"
	tests := []struct {
		name string
		to   []string
		cc   []string
		want domain.Audience
	}{
		{"public full uri", []string{PublicCollection}, nil, domain.AudiencePublic},
		{"public compact", nil, []string{"as:Public"}, domain.AudiencePublic},
		{"public bare", []string{"Public"}, nil, domain.AudiencePublic},
		{"followers only", []string{followers}, nil, domain.AudienceFollowersOnly},
		{"direct", []string{"https://b.example/users/bob"}, nil, domain.AudienceDirect},
		{"no addressing", nil, nil, domain.AudienceDirect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PostObject{To: tt.to, Cc: tt.cc}
			if got := p.Audience(followers); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}

	// addressing on the activity counts as well
	p := PostObject{To: []string{"https://b.example/users/bob"}}
	if got := p.Audience(followers, []string{PublicCollection}); got != domain.AudiencePublic {
		t.Errorf("Expected public from activity addressing, got %s", got)
	}
}

func TestParseActor(t *testing.T) {
	doc := map[string]any{
		"@context":          []any{ContextActivityStreams, ContextSecurity},
		"id":                "https://mastodon.social/users/alice",
		"type":              "Person",
		"preferredUsername": "alice",
		"name":              "Alice Example",
		"summary":           "Just a test user",
		"inbox":             "https://mastodon.social/users/alice/inbox",
		"outbox":            "https://mastodon.social/users/alice/outbox",
		"followers":         "https://mastodon.social/users/alice/followers",
		"endpoints":         map[string]any{"sharedInbox": "https://mastodon.social/inbox"},
		"icon":              map[string]any{"type": "Image", "mediaType": "image/png", "url": "https://mastodon.social/avatars/alice.png"},
		"publicKey": map[string]any{
			"id":           "https://mastodon.social/users/alice#main-key",
			"owner":        "https://mastodon.social/users/alice",
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\nMIIBIjANBg...\n-----END PUBLIC KEY-----",
		},
		"attachment": []any{
			map[string]any{"type": "PropertyValue", "name": "Website", "value": "https://alice.example"},
		},
	}

	actor, err := ParseActor(doc)
	if err != nil {
		t.Fatalf("ParseActor failed: %v", err)
	}
	acc := actor.Account()
	if acc.Username != "alice" || acc.Name != "Alice Example" || acc.Bio != "Just a test user" {
		t.Errorf("Unexpected profile: %+v", acc)
	}
	if acc.SharedInboxURI != "https://mastodon.social/inbox" {
		t.Errorf("Expected shared inbox, got '%s'", acc.SharedInboxURI)
	}
	if acc.AvatarURL != "https://mastodon.social/avatars/alice.png" {
		t.Errorf("Expected avatar, got '%s'", acc.AvatarURL)
	}
	if acc.CustomFields["Website"] != "https://alice.example" {
		t.Errorf("Expected custom field, got %v", acc.CustomFields)
	}
	if acc.IsInternal() {
		t.Error("Remote actors map to external accounts")
	}
}

func TestParseActorVariants(t *testing.T) {
	tests := []struct {
		name     string
		doc      map[string]any
		wantErr  bool
		username string
	}{
		{"group", map[string]any{"id": "https://lemmy.example/c/golang", "type": "Group", "inbox": "https://lemmy.example/c/golang/inbox"}, false, "golang"},
		{"service", map[string]any{"id": "https://bots.example/@bot", "type": "Service", "inbox": "https://bots.example/inbox"}, false, "bot"},
		{"unsupported type", map[string]any{"id": "https://a.example/x", "type": "Note", "inbox": "https://a.example/inbox"}, true, ""},
		{"missing inbox", map[string]any{"id": "https://a.example/users/a", "type": "Person"}, true, ""},
		{"missing id", map[string]any{"type": "Person", "inbox": "https://a.example/inbox"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor, err := ParseActor(tt.doc)
			if tt.wantErr {
				if !domain.IsKind(err, domain.KindValidation) {
					t.Errorf("Expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseActor failed: %v", err)
			}
			if actor.PreferredUsername != tt.username {
				t.Errorf("Expected username '%s', got '%s'", tt.username, actor.PreferredUsername)
			}
		})
	}
}

func TestExtractUsername(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"https://example.com/users/alice", "alice"},
		{"https://example.com/@alice", "alice"},
		{"https://example.com/users/alice/", "alice"},
		{"https://example.com/u/bob", "bob"},
	}

	for _, tt := range tests {
		if got := extractUsername(tt.uri); got != tt.want {
			t.Errorf("extractUsername(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestDeterministicIds(t *testing.T) {
	object := "https://b.example/notes/1"
	if LikeID("a.example", object) != LikeID("a.example", object) {
		t.Error("Like ids must be deterministic")
	}
	if LikeID("a.example", object) == LikeID("c.example", object) {
		t.Error("Like ids must be scoped to the liking site")
	}
	if LikeID("a.example", object) == AnnounceID("a.example", object) {
		t.Error("Like and Announce ids must differ")
	}
	if got := LikeID("a.example", object); len(got) != len("https://a.example/like/")+64 {
		t.Errorf("Expected a sha256 suffix, got %s", got)
	}
	if UndoID("a.example", LikeID("a.example", object)) != UndoID("a.example", LikeID("a.example", object)) {
		t.Error("Undo ids must be deterministic")
	}
	if NewID("a.example", "Follow") == NewID("a.example", "Follow") {
		t.Error("NewID must be unique")
	}
}

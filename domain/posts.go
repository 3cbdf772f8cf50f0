package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PostType int

const (
	PostTypeNote PostType = iota
	PostTypeArticle
)

func (t PostType) String() string {
	if t == PostTypeArticle {
		return "Article"
	}
	return "Note"
}

// ParsePostType maps an ActivityStreams object type to a PostType.
func ParsePostType(objectType string) (PostType, bool) {
	switch objectType {
	case "Note":
		return PostTypeNote, true
	case "Article":
		return PostTypeArticle, true
	}
	return 0, false
}

type Audience int

const (
	AudiencePublic Audience = iota
	AudienceFollowersOnly
	AudienceDirect
)

func (a Audience) String() string {
	switch a {
	case AudiencePublic:
		return "public"
	case AudienceFollowersOnly:
		return "followers-only"
	default:
		return "direct"
	}
}

// FansOut reports whether posts with this audience enter feeds.
func (a Audience) FansOut() bool {
	return a == AudiencePublic || a == AudienceFollowersOnly
}

// Post is the local representation of an authored Note or Article.
type Post struct {
	Id          int64
	UUID        uuid.UUID
	Type        PostType
	Audience    Audience
	Author      *Account
	Title       string
	Excerpt     string
	Content     string
	URL         string
	ImageURL    string
	PublishedAt time.Time
	InReplyTo   int64 // zero when not a reply
	ThreadRoot  int64
	ObjectURI   string
	LikeCount   int
	RepostCount int
	ReplyCount  int
	DeletedAt   *time.Time
}

// NewPostParams are the inputs for creating a post.
type NewPostParams struct {
	Author      *Account
	Type        PostType
	Audience    Audience
	Title       string
	Excerpt     string
	Content     string
	URL         string
	ImageURL    string
	ObjectURI   string
	PublishedAt time.Time
	InReplyTo   *Post
}

// NewPost validates params and builds an unsaved post.
func NewPost(p NewPostParams) (Post, error) {
	if p.Author == nil {
		return Post{}, Validation("post author is required")
	}
	if p.Type == PostTypeNote && strings.TrimSpace(p.Content) == "" && p.ImageURL == "" {
		return Post{}, Validation("note content is required")
	}
	if p.Type == PostTypeArticle && strings.TrimSpace(p.Title) == "" {
		return Post{}, Validation("article title is required")
	}
	post := Post{
		UUID:        uuid.New(),
		Type:        p.Type,
		Audience:    p.Audience,
		Author:      p.Author,
		Title:       p.Title,
		Excerpt:     p.Excerpt,
		Content:     p.Content,
		URL:         p.URL,
		ImageURL:    p.ImageURL,
		ObjectURI:   p.ObjectURI,
		PublishedAt: p.PublishedAt,
	}
	if post.PublishedAt.IsZero() {
		post.PublishedAt = time.Now().UTC()
	}
	if p.InReplyTo != nil {
		post.InReplyTo = p.InReplyTo.Id
		post.ThreadRoot = p.InReplyTo.ThreadRoot
		if post.ThreadRoot == 0 {
			post.ThreadRoot = p.InReplyTo.Id
		}
	}
	return post, nil
}

func (p *Post) IsReply() bool {
	return p.InReplyTo != 0
}

func (p *Post) IsDeleted() bool {
	return p.DeletedAt != nil
}

// CreationEvents are published once the post has been assigned an id.
func (p *Post) CreationEvents(replyTarget *Post) []Event {
	events := []Event{PostCreated{PostId: p.Id}}
	if replyTarget != nil {
		events = append(events, PostReplied{PostId: p.Id, InReplyToId: replyTarget.Id, AccountId: p.Author.Id})
	}
	return events
}

// Delete soft-deletes the post. Only the author may delete it.
func (p *Post) Delete(actor *Account) ([]Event, error) {
	if p.Author == nil || actor == nil || p.Author.Id != actor.Id {
		return nil, Denied("only the author can delete this post")
	}
	if p.IsDeleted() {
		return nil, nil
	}
	now := time.Now().UTC()
	p.DeletedAt = &now
	return []Event{PostDeleted{PostId: p.Id, AccountId: actor.Id}}, nil
}

func (p *Post) Like(acc *Account) []Event {
	return []Event{PostLiked{PostId: p.Id, AccountId: acc.Id}}
}

func (p *Post) Repost(acc *Account) []Event {
	return []Event{PostReposted{PostId: p.Id, AccountId: acc.Id}}
}

func (p *Post) Derepost(acc *Account) []Event {
	return []Event{PostDereposted{PostId: p.Id, AccountId: acc.Id}}
}

func (p *Post) ToString() string {
	return fmt.Sprintf("\n\tId: %d \n\tType: %s \n\tObjectURI: %s \n\tAudience: %s", p.Id, p.Type, p.ObjectURI, p.Audience)
}

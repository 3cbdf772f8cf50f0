package domain

import (
	"time"
)

type FeedType int

const (
	// FeedTypeFeed holds short-form notes.
	FeedTypeFeed FeedType = iota
	// FeedTypeInbox holds long-form articles.
	FeedTypeInbox
)

// PostType returns the post type shown in this feed.
func (t FeedType) PostType() PostType {
	if t == FeedTypeInbox {
		return PostTypeArticle
	}
	return PostTypeNote
}

// FeedRow is one denormalized (post, viewer) entry.
type FeedRow struct {
	Id           int64
	UserId       int64
	PostId       int64
	PostType     PostType
	Audience     Audience
	AuthorId     int64
	RepostedById int64 // zero for original posts
	PublishedAt  time.Time
}

// FeedItem is a feed row joined with its post and accounts for reads.
type FeedItem struct {
	FeedId     int64
	Post       Post
	RepostedBy *Account
}

type NotificationType int

const (
	NotificationLike NotificationType = iota + 1
	NotificationRepost
	NotificationReply
	NotificationFollow
)

func (t NotificationType) String() string {
	switch t {
	case NotificationLike:
		return "like"
	case NotificationRepost:
		return "repost"
	case NotificationReply:
		return "reply"
	case NotificationFollow:
		return "follow"
	}
	return "unknown"
}

type Notification struct {
	Id              int64
	UserId          int64
	Account         *Account
	PostId          int64
	InReplyToPostId int64
	Type            NotificationType
	Read            bool
	CreatedAt       time.Time
}

// DeliveryBackoff is the exponential backoff state of one recipient account.
type DeliveryBackoff struct {
	AccountId         int64
	BackoffUntil      time.Time
	BackoffSeconds    int64
	LastFailureReason string
	UpdatedAt         time.Time
}

// Active reports whether deliveries should be skipped at now.
func (b *DeliveryBackoff) Active(now time.Time) bool {
	return b != nil && now.Before(b.BackoffUntil)
}

// ActivityMeta is the relational index row of a stored activity document.
// Id is the only reliable recency ordering key.
type ActivityMeta struct {
	Id             int64
	Key            string
	ActivityType   string
	ObjectType     string
	ObjectURI      string
	ReplyObjectURI string
	CreatedAt      time.Time
}

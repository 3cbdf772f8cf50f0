package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/deemkeen/pubgate/activitypub"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/pagination"
	"github.com/gin-gonic/gin"
)

type accountJSON struct {
	Id             int64  `json:"id"`
	Handle         string `json:"handle"`
	Name           string `json:"name"`
	Bio            string `json:"bio"`
	URL            string `json:"url"`
	AvatarURL      string `json:"avatarUrl"`
	BannerImageURL string `json:"bannerImageUrl"`
	ApId           string `json:"apId"`
	Internal       bool   `json:"internal"`
}

func toAccountJSON(acc *domain.Account) *accountJSON {
	if acc == nil {
		return nil
	}
	return &accountJSON{
		Id:             acc.Id,
		Handle:         acc.Handle(),
		Name:           acc.Name,
		Bio:            acc.Bio,
		URL:            acc.URL,
		AvatarURL:      acc.AvatarURL,
		BannerImageURL: acc.BannerImageURL,
		ApId:           acc.ActorURI,
		Internal:       acc.IsInternal(),
	}
}

type postJSON struct {
	Id          int64        `json:"id"`
	UUID        string       `json:"uuid"`
	Type        string       `json:"type"`
	Audience    string       `json:"audience"`
	Title       string       `json:"title,omitempty"`
	Excerpt     string       `json:"excerpt,omitempty"`
	Content     string       `json:"content"`
	URL         string       `json:"url"`
	ImageURL    string       `json:"imageUrl,omitempty"`
	ApId        string       `json:"apId"`
	PublishedAt time.Time    `json:"publishedAt"`
	InReplyTo   int64        `json:"inReplyTo,omitempty"`
	LikeCount   int          `json:"likeCount"`
	RepostCount int          `json:"repostCount"`
	ReplyCount  int          `json:"replyCount"`
	Author      *accountJSON `json:"author"`
	RepostedBy  *accountJSON `json:"repostedBy,omitempty"`
}

func toPostJSON(p *domain.Post) postJSON {
	return postJSON{
		Id:          p.Id,
		UUID:        p.UUID.String(),
		Type:        p.Type.String(),
		Audience:    p.Audience.String(),
		Title:       p.Title,
		Excerpt:     p.Excerpt,
		Content:     p.Content,
		URL:         p.URL,
		ImageURL:    p.ImageURL,
		ApId:        p.ObjectURI,
		PublishedAt: p.PublishedAt,
		InReplyTo:   p.InReplyTo,
		LikeCount:   p.LikeCount,
		RepostCount: p.RepostCount,
		ReplyCount:  p.ReplyCount,
		Author:      toAccountJSON(p.Author),
	}
}

func toFeedItemJSON(item domain.FeedItem) postJSON {
	out := toPostJSON(&item.Post)
	out.RepostedBy = toAccountJSON(item.RepostedBy)
	return out
}

type notificationJSON struct {
	Id              int64        `json:"id"`
	Type            string       `json:"type"`
	Read            bool         `json:"read"`
	CreatedAt       time.Time    `json:"createdAt"`
	PostId          int64        `json:"postId,omitempty"`
	InReplyToPostId int64        `json:"inReplyToPostId,omitempty"`
	Account         *accountJSON `json:"account"`
}

func toNotificationJSON(n domain.Notification) notificationJSON {
	return notificationJSON{
		Id:              n.Id,
		Type:            n.Type.String(),
		Read:            n.Read,
		CreatedAt:       n.CreatedAt,
		PostId:          n.PostId,
		InReplyToPostId: n.InReplyToPostId,
		Account:         toAccountJSON(n.Account),
	}
}

type profileJSON struct {
	*accountJSON
	FollowerCount     int  `json:"followerCount"`
	FollowingCount    int  `json:"followingCount"`
	PostCount         int  `json:"postCount"`
	LikedCount        int  `json:"likedCount"`
	FollowedByMe      bool `json:"followedByMe"`
	FollowsMe         bool `json:"followsMe"`
	BlockedByMe       bool `json:"blockedByMe"`
	DomainBlockedByMe bool `json:"domainBlockedByMe"`
	IsFollowing       bool `json:"isFollowing"`
}

func toProfileJSON(p *activitypub.Profile) profileJSON {
	return profileJSON{
		accountJSON:       toAccountJSON(p.Account),
		FollowerCount:     p.FollowerCount,
		FollowingCount:    p.FollowingCount,
		PostCount:         p.PostCount,
		LikedCount:        p.LikedCount,
		FollowedByMe:      p.FollowedByMe,
		FollowsMe:         p.FollowsMe,
		BlockedByMe:       p.BlockedByMe,
		DomainBlockedByMe: p.DomainBlockedByMe,
		IsFollowing:       p.IsFollowing,
	}
}

type accountEntryJSON struct {
	*accountJSON
	FollowedByMe bool `json:"followedByMe"`
	BlockedByMe  bool `json:"blockedByMe"`
}

func toAccountEntryJSON(e activitypub.AccountEntry) accountEntryJSON {
	return accountEntryJSON{
		accountJSON:  toAccountJSON(e.Account),
		FollowedByMe: e.FollowedByMe,
		BlockedByMe:  e.BlockedByMe,
	}
}

func identityJSON(doc map[string]any) map[string]any { return doc }

// renderPage writes {field: [...], "next": cursor-or-null}.
func renderPage[T, J any](c *gin.Context, field string, page pagination.Page[T], conv func(T) J) {
	items := make([]J, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, conv(item))
	}
	c.JSON(http.StatusOK, gin.H{field: items, "next": page.Next})
}

// pageParams reads ?cursor (or ?next, the name pages hand the cursor out
// under) and ?limit. A malformed limit is a validation error; out-of-range
// limits are clamped.
func pageParams(c *gin.Context) (string, int, error) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", 0, domain.Validation("invalid limit %q", raw)
		}
		limit = n
	}
	cursor := c.Query("cursor")
	if cursor == "" {
		cursor = c.Query("next")
	}
	return cursor, pagination.Limit(limit), nil
}

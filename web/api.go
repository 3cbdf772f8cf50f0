package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/deemkeen/pubgate/activitypub"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/pagination"
	"github.com/gin-gonic/gin"
)

type followsReader func(ctx context.Context, viewer *domain.Account, handle, cursor string, limit int) (pagination.Page[activitypub.AccountEntry], error)

func (s *server) feedOfType(c *gin.Context, feedType domain.FeedType) {
	_, acc := siteOf(c)
	cursor, limit, err := pageParams(c)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	page, err := s.feeds.GetFeed(c.Request.Context(), acc, feedType, cursor, limit)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	renderPage(c, "posts", page, toFeedItemJSON)
}

func (s *server) getFeed(c *gin.Context) {
	s.feedOfType(c, domain.FeedTypeFeed)
}

func (s *server) getInboxFeed(c *gin.Context) {
	s.feedOfType(c, domain.FeedTypeInbox)
}

func (s *server) getLegacyInbox(c *gin.Context) {
	site, _ := siteOf(c)
	cursor, limit, err := pageParams(c)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	page, err := s.views.LegacyInbox(c.Request.Context(), site.Host, cursor, limit)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	renderPage(c, "items", page, identityJSON)
}

// queryList accepts both ?type=a&type=b and ?type=a,b.
func queryList(c *gin.Context, name string) []string {
	var out []string
	for _, v := range c.QueryArray(name) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (s *server) getActivities(c *gin.Context) {
	site, _ := siteOf(c)
	cursor, limit, err := pageParams(c)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	page, err := s.views.Activities(c.Request.Context(), site.Host, activitypub.ActivitiesQuery{
		Types:               queryList(c, "type"),
		ObjectTypes:         queryList(c, "objectType"),
		ExcludeReplies:      c.Query("excludeReplies") == "true",
		ExcludeNonFollowers: c.Query("excludeNonFollowers") == "true",
		IncludeOwn:          c.Query("includeOwn") == "true",
		Cursor:              cursor,
		Limit:               limit,
	})
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	renderPage(c, "items", page, identityJSON)
}

func (s *server) getThread(c *gin.Context) {
	site, _ := siteOf(c)
	items, err := s.views.Thread(c.Request.Context(), site.Host, c.Param("uri"))
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	if items == nil {
		items = []map[string]any{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *server) getProfile(c *gin.Context) {
	_, acc := siteOf(c)
	profile, err := s.views.Profile(c.Request.Context(), acc, c.Param("handle"))
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, toProfileJSON(profile))
}

func (s *server) getProfileFollowers(c *gin.Context) {
	s.profileFollows(c, "followers", s.views.Followers)
}

func (s *server) getProfileFollowing(c *gin.Context) {
	s.profileFollows(c, "following", s.views.Following)
}

func (s *server) profileFollows(c *gin.Context, field string, read followsReader) {
	_, acc := siteOf(c)
	cursor, limit, err := pageParams(c)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	page, err := read(c.Request.Context(), acc, c.Param("handle"), cursor, limit)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	renderPage(c, field, page, toAccountEntryJSON)
}

func (s *server) getProfilePosts(c *gin.Context) {
	site, _ := siteOf(c)
	cursor, limit, err := pageParams(c)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	page, err := s.views.ProfilePosts(c.Request.Context(), site.Host, c.Param("handle"), cursor, limit)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	renderPage(c, "posts", page, identityJSON)
}

func (s *server) getNotifications(c *gin.Context) {
	_, acc := siteOf(c)
	cursor, limit, err := pageParams(c)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	page, err := s.notifications.GetNotifications(c.Request.Context(), acc, cursor, limit)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	renderPage(c, "notifications", page, toNotificationJSON)
}

func (s *server) getUnreadCount(c *gin.Context) {
	_, acc := siteOf(c)
	n, err := s.notifications.UnreadCount(c.Request.Context(), acc)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *server) markNotificationsRead(c *gin.Context) {
	_, acc := siteOf(c)
	if err := s.notifications.MarkRead(c.Request.Context(), acc); err != nil {
		abortWithError(c, s.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type contentRequest struct {
	Content string `json:"content"`
}

func (s *server) postNote(c *gin.Context) {
	_, acc := siteOf(c)
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, s.log, domain.Validation("invalid request body").Wrap(err))
		return
	}
	create, err := s.outbox.CreateNote(c.Request.Context(), acc, req.Content)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, create)
}

func (s *server) postReply(c *gin.Context) {
	_, acc := siteOf(c)
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, s.log, domain.Validation("invalid request body").Wrap(err))
		return
	}
	create, err := s.outbox.Reply(c.Request.Context(), acc, c.Param("uri"), req.Content)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, create)
}

func (s *server) deletePost(c *gin.Context) {
	_, acc := siteOf(c)
	del, err := s.outbox.DeletePost(c.Request.Context(), acc, c.Param("uri"))
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, del)
}

// postAction runs one of the site's interactions against :target, a handle
// or actor URI for account actions, an object URI for post actions and a
// host for domain blocks.
func (s *server) postAction(c *gin.Context) {
	_, acc := siteOf(c)
	ctx := c.Request.Context()
	target := c.Param("target")

	var doc map[string]any
	var err error
	switch c.Param("action") {
	case "follow":
		doc, err = s.outbox.Follow(ctx, acc, target)
	case "unfollow":
		doc, err = s.outbox.Unfollow(ctx, acc, target)
	case "like":
		doc, err = s.outbox.Like(ctx, acc, target)
	case "unlike":
		doc, err = s.outbox.Unlike(ctx, acc, target)
	case "repost":
		doc, err = s.outbox.Repost(ctx, acc, target)
	case "derepost":
		doc, err = s.outbox.Derepost(ctx, acc, target)
	case "block":
		err = s.outbox.Block(ctx, acc, target)
	case "unblock":
		err = s.outbox.Unblock(ctx, acc, target)
	case "block-domain":
		err = s.outbox.BlockDomain(ctx, acc, target)
	case "unblock-domain":
		err = s.outbox.UnblockDomain(ctx, acc, target)
	default:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown action"})
		return
	}
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	if doc == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, doc)
}

package web

import (
	"net/http"

	"github.com/deemkeen/pubgate/activitypub"
	"github.com/deemkeen/pubgate/domain"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

// activityJSON renders doc with the ActivityPub content type.
func activityJSON(c *gin.Context, status int, doc any) {
	c.Header("Content-Type", activitypub.ContentType+"; charset=utf-8")
	c.Render(status, render.JSON{Data: doc})
}

// siteActor returns the site account when :handle names it.
func siteActor(c *gin.Context) (*domain.Account, bool) {
	_, acc := siteOf(c)
	if c.Param("handle") != acc.Username {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return nil, false
	}
	return acc, true
}

func (s *server) getActor(c *gin.Context) {
	acc, ok := siteActor(c)
	if !ok {
		return
	}
	activityJSON(c, http.StatusOK, activitypub.ActorDocument(acc))
}

// getObject serves a stored document of the site by its id path, e.g. a
// note, an article or one of the site's activities.
func (s *server) getObject(c *gin.Context) {
	site, _ := siteOf(c)
	uri := "https://" + site.Host + c.Request.URL.Path
	doc, err := s.docs.Get(c.Request.Context(), uri)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	status := http.StatusOK
	if doc["type"] == "Tombstone" {
		status = http.StatusGone
	}
	activityJSON(c, status, doc)
}

// collection serves one of the site's collections, either the summary or,
// with ?page=true, one page of it.
func (s *server) collection(get func(c *gin.Context, acc *domain.Account, page bool, cursor string) (map[string]any, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, ok := siteActor(c)
		if !ok {
			return
		}
		doc, err := get(c, acc, c.Query("page") == "true", c.Query("cursor"))
		if err != nil {
			abortWithError(c, s.log, err)
			return
		}
		activityJSON(c, http.StatusOK, doc)
	}
}

func (s *server) getOutbox(c *gin.Context, acc *domain.Account, page bool, cursor string) (map[string]any, error) {
	return s.collections.Outbox(c.Request.Context(), acc, page, cursor)
}

func (s *server) getFollowers(c *gin.Context, acc *domain.Account, page bool, cursor string) (map[string]any, error) {
	return s.collections.Followers(c.Request.Context(), acc, page, cursor)
}

func (s *server) getFollowing(c *gin.Context, acc *domain.Account, page bool, cursor string) (map[string]any, error) {
	return s.collections.Following(c.Request.Context(), acc, page, cursor)
}

func (s *server) getLiked(c *gin.Context, acc *domain.Account, page bool, cursor string) (map[string]any, error) {
	return s.collections.Liked(c.Request.Context(), acc, page, cursor)
}

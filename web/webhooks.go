package web

import (
	"net/http"
	"time"

	"github.com/deemkeen/pubgate/activitypub"
	"github.com/deemkeen/pubgate/domain"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
)

// PostPublished is the body of the post-published webhook.
type PostPublished struct {
	UUID        uuid.UUID `json:"uuid"`
	Title       string    `json:"title"`
	Excerpt     string    `json:"excerpt"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"imageUrl"`
	Visibility  string    `json:"visibility"`
	PublishedAt time.Time `json:"publishedAt"`
}

// SiteChanged is the body of the site-changed webhook. Absent fields are
// left unchanged.
type SiteChanged struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	URL         *string `json:"url"`
	Icon        *string `json:"icon"`
	CoverImage  *string `json:"coverImage"`
}

func (s *server) postPublished(c *gin.Context) {
	_, acc := siteOf(c)
	var req PostPublished
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		abortWithError(c, s.log, domain.Validation("invalid webhook body").Wrap(err))
		return
	}
	create, err := s.outbox.PublishArticle(c.Request.Context(), acc, activitypub.ArticleInput{
		UUID:        req.UUID,
		Title:       req.Title,
		Excerpt:     req.Excerpt,
		Content:     req.Content,
		URL:         req.URL,
		ImageURL:    req.ImageURL,
		Visibility:  req.Visibility,
		PublishedAt: req.PublishedAt,
	})
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	if create == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, create)
}

func (s *server) siteChanged(c *gin.Context) {
	_, acc := siteOf(c)
	var req SiteChanged
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		abortWithError(c, s.log, domain.Validation("invalid webhook body").Wrap(err))
		return
	}
	update, err := s.outbox.UpdateProfile(c.Request.Context(), acc, domain.ProfileUpdate{
		Name:           req.Name,
		Bio:            req.Description,
		URL:            req.URL,
		AvatarURL:      req.Icon,
		BannerImageURL: req.CoverImage,
	})
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	if update == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, update)
}

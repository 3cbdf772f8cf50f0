package web

import (
	"net/http"
	"time"

	"github.com/deemkeen/pubgate/domain"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/gorilla/feeds"
)

const rssItems = 50

// GetRSS renders posts of the site account acc as an RSS document.
func GetRSS(acc *domain.Account, posts []domain.Post) (string, error) {
	feed := &feeds.Feed{
		Title:       acc.Name,
		Link:        &feeds.Link{Href: acc.URL},
		Description: acc.Bio,
		Author:      &feeds.Author{Name: acc.Name},
		Id:          acc.ActorURI,
		Created:     acc.CreatedAt,
	}
	if feed.Description == "" {
		feed.Description = "Posts federated by " + acc.Handle()
	}

	for _, post := range posts {
		title := post.Title
		if title == "" {
			title = post.PublishedAt.Format(time.DateTime)
		}
		link := post.URL
		if link == "" {
			link = post.ObjectURI
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          post.ObjectURI,
			Title:       title,
			Link:        &feeds.Link{Href: link},
			Description: post.Excerpt,
			Content:     post.Content,
			Author:      &feeds.Author{Name: acc.Name},
			Created:     post.PublishedAt,
		})
	}
	if len(posts) > 0 {
		feed.Updated = posts[0].PublishedAt
	}
	return feed.ToRss()
}

func (s *server) getRSS(c *gin.Context) {
	_, acc := siteOf(c)
	posts, err := s.store.ReadPublicPostsByAuthor(c.Request.Context(), acc.Id, 0, rssItems)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	rss, err := GetRSS(acc, posts)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Render(http.StatusOK, render.String{Format: rss})
}

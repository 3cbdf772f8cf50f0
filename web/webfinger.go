package web

import (
	"net/http"
	"strings"

	"github.com/deemkeen/pubgate/activitypub"
	"github.com/deemkeen/pubgate/domain"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

type webfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases"`
	Links   []webfingerLink `json:"links"`
}

// GetWebfinger answers acct:index@host (or the actor URI) for the site of
// the request host.
func GetWebfinger(resource string, site *domain.Site, acc *domain.Account) (*webfingerResponse, bool) {
	if resource != acc.ActorURI {
		user, host, found := strings.Cut(strings.TrimPrefix(resource, "acct:"), "@")
		if !strings.HasPrefix(resource, "acct:") || !found {
			return nil, false
		}
		if user != acc.Username || domain.NormalizeDomain(host) != site.Host {
			return nil, false
		}
	}
	return &webfingerResponse{
		Subject: "acct:" + acc.Username + "@" + site.Host,
		Aliases: []string{acc.ActorURI},
		Links: []webfingerLink{
			{Rel: "self", Type: activitypub.ContentType, Href: acc.ActorURI},
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: acc.URL},
		},
	}, true
}

func (s *server) getWebfinger(c *gin.Context) {
	site, acc := siteOf(c)
	resp, ok := GetWebfinger(c.Query("resource"), site, acc)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.Render(http.StatusOK, render.JSON{Data: resp})
}

package web

import (
	"context"
	"net/http"

	"github.com/deemkeen/pubgate/activitypub"
	"github.com/deemkeen/pubgate/domain"
	"github.com/gin-gonic/gin"
)

// SignatureVerifier returns the actor whose key signed r.
type SignatureVerifier interface {
	Verify(ctx context.Context, r *http.Request, body []byte) (string, error)
}

// InboxProcessor applies one verified inbound activity to a site.
type InboxProcessor interface {
	Handle(ctx context.Context, site *domain.Site, siteAcc *domain.Account, raw []byte) error
}

// postInbox serves both the shared inbox and the site actor's inbox; every
// activity lands in the site of the request host either way.
func (s *server) postInbox(c *gin.Context) {
	if c.Param("handle") != "" {
		if _, ok := siteActor(c); !ok {
			return
		}
	}
	site, acc := siteOf(c)
	ctx := c.Request.Context()

	body, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "unreadable body"})
		return
	}

	signer, err := s.verifier.Verify(ctx, c.Request, body)
	if err != nil {
		s.log.Info("Rejected unsigned or badly signed activity", "site", site.Host, "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	activity, err := activitypub.ParseActivity(body)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	if actor := activitypub.EnvelopeOf(activity).Actor; actor != signer {
		s.log.Info("Signer does not match actor", "site", site.Host, "signer", signer, "actor", actor)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signer does not match actor"})
		return
	}

	if err := s.processor.Handle(ctx, site, acc, body); err != nil {
		abortWithError(c, s.log, err)
		return
	}
	c.Status(http.StatusAccepted)
}

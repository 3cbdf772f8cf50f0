package web

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/activitypub"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/feed"
	"github.com/deemkeen/pubgate/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Services are the collaborators the HTTP layer dispatches to.
type Services struct {
	Store         *db.DB
	Sites         *activitypub.Sites
	Docs          *activitypub.DocumentStore
	Verifier      SignatureVerifier
	Processor     InboxProcessor
	Outbox        *activitypub.Outbox
	Views         *activitypub.Views
	Collections   *activitypub.Collections
	Feed          *feed.Service
	Notifications *feed.NotificationService
	// Now defaults to time.Now; webhook freshness is checked against it.
	Now func() time.Time
}

type server struct {
	store         *db.DB
	docs          *activitypub.DocumentStore
	verifier      SignatureVerifier
	processor     InboxProcessor
	outbox        *activitypub.Outbox
	views         *activitypub.Views
	collections   *activitypub.Collections
	feeds         *feed.Service
	notifications *feed.NotificationService
	log           *log.Logger
}

// Router builds the gin engine serving every site. The tenant of a request
// is the site registered for its Host header.
func Router(conf *util.AppConfig, svc Services, logger *log.Logger) *gin.Engine {
	logger = logger.WithPrefix("Web")
	s := &server{
		store:         svc.Store,
		docs:          svc.Docs,
		verifier:      svc.Verifier,
		processor:     svc.Processor,
		outbox:        svc.Outbox,
		views:         svc.Views,
		collections:   svc.Collections,
		feeds:         svc.Feed,
		notifications: svc.Notifications,
		log:           logger,
	}
	now := svc.Now
	if now == nil {
		now = time.Now
	}

	g := gin.New()
	// percent-encoded URIs in path params stay one segment
	g.UseRawPath = true
	g.Use(gin.Recovery(), RequestLogger(logger))
	g.Use(gzip.Gzip(gzip.DefaultCompression))
	g.Use(RateLimitMiddleware(NewRateLimiter(rate.Limit(conf.Conf.RateLimit), conf.Conf.RateBurst)))

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	site := SiteMiddleware(svc.Sites, logger)
	apLimiter := RateLimitMiddleware(NewRateLimiter(rate.Limit(conf.Conf.ApRateLimit), conf.Conf.ApRateBurst))
	maxBody := MaxBytesMiddleware(conf.Conf.MaxBodyBytes)

	fed := g.Group("/", site)
	fed.GET("/.well-known/webfinger", s.getWebfinger)
	fed.GET("/users/:handle", s.getActor)
	fed.POST("/users/:handle/inbox", apLimiter, maxBody, s.postInbox)
	fed.POST("/inbox", apLimiter, maxBody, s.postInbox)
	fed.GET("/users/:handle/outbox", s.collection(s.getOutbox))
	fed.GET("/users/:handle/followers", s.collection(s.getFollowers))
	fed.GET("/users/:handle/following", s.collection(s.getFollowing))
	fed.GET("/users/:handle/liked", s.collection(s.getLiked))
	fed.GET("/feed", s.getRSS)

	hooks := g.Group("/webhooks", site, maxBody, WebhookMiddleware(now, logger))
	hooks.POST("/post-published", s.postPublished)
	hooks.POST("/site-changed", s.siteChanged)

	api := g.Group("/api", site, TokenMiddleware(conf.Conf.ApiToken), maxBody)
	api.GET("/feed", s.getFeed)
	api.GET("/inbox", s.getInboxFeed)
	api.GET("/inbox/legacy", s.getLegacyInbox)
	api.GET("/activities", s.getActivities)
	api.GET("/thread/:uri", s.getThread)
	api.GET("/profile/:handle", s.getProfile)
	api.GET("/profile/:handle/followers", s.getProfileFollowers)
	api.GET("/profile/:handle/following", s.getProfileFollowing)
	api.GET("/profile/:handle/posts", s.getProfilePosts)
	api.GET("/notifications", s.getNotifications)
	api.GET("/notifications/unread", s.getUnreadCount)
	api.POST("/notifications/read", s.markNotificationsRead)
	api.POST("/actions/note", s.postNote)
	api.POST("/actions/reply/:uri", s.postReply)
	api.POST("/actions/:action/:target", s.postAction)
	api.DELETE("/post/:uri", s.deletePost)

	g.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		}
	}, site, s.getObject)

	return g
}

package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/activitypub"
	"github.com/deemkeen/pubgate/domain"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	ctxSite        = "site"
	ctxSiteAccount = "siteAccount"

	// WebhookSignatureHeader carries "sha256=<hex hmac>" over body+timestamp.
	WebhookSignatureHeader = "X-Webhook-Signature"
	// WebhookTimestampHeader carries the unix time the webhook was signed at.
	WebhookTimestampHeader = "X-Webhook-Timestamp"
	webhookMaxAge          = 5 * time.Minute

	maxLimiters = 10000
	limiterIdle = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per client IP.
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
// r is requests per second, b is burst size
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    b,
		now:      time.Now,
	}
}

// getLimiter returns the rate limiter for a given IP address
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, exists := rl.limiters[ip]
	if !exists {
		if len(rl.limiters) >= maxLimiters {
			rl.sweep(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// sweep drops limiters idle for longer than limiterIdle. Callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > limiterIdle {
			delete(rl.limiters, ip)
		}
	}
}

// RateLimitMiddleware creates a Gin middleware for rate limiting
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.getLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}
		c.Next()
	}
}

// MaxBytesMiddleware limits the size of request bodies
func MaxBytesMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RequestLogger logs each request at debug level, and failures at warn.
func RequestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		kv := []any{"method", c.Request.Method, "path", c.Request.URL.Path, "host", c.Request.Host,
			"status", status, "took", time.Since(start)}
		if status >= http.StatusInternalServerError {
			logger.Warn("Request", kv...)
			return
		}
		logger.Debug("Request", kv...)
	}
}

// SiteMiddleware resolves the tenant from the request host. Unknown hosts
// are 404.
func SiteMiddleware(sites *activitypub.Sites, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		site, acc, err := sites.Lookup(c.Request.Context(), domain.NormalizeDomain(c.Request.Host))
		if err != nil {
			abortWithError(c, logger, err)
			return
		}
		c.Set(ctxSite, site)
		c.Set(ctxSiteAccount, acc)
		c.Next()
	}
}

func siteOf(c *gin.Context) (*domain.Site, *domain.Account) {
	return c.MustGet(ctxSite).(*domain.Site), c.MustGet(ctxSiteAccount).(*domain.Account)
}

// TokenMiddleware requires "Authorization: Bearer <token>" on the client API.
// An empty token leaves the API open.
func TokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// SignWebhook returns the signature header value for body sent at ts.
func SignWebhook(secret string, body []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// WebhookMiddleware validates the HMAC of a site webhook against the secret
// of the site resolved by SiteMiddleware, and rejects stale timestamps.
func WebhookMiddleware(now func() time.Time, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		site, _ := siteOf(c)
		unix, err := strconv.ParseInt(c.GetHeader(WebhookTimestampHeader), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing webhook timestamp"})
			return
		}
		ts := time.Unix(unix, 0)
		if age := now().Sub(ts); age > webhookMaxAge || age < -webhookMaxAge {
			logger.Warn("Stale webhook", "site", site.Host, "age", age)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "stale webhook"})
			return
		}
		body, err := c.GetRawData()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		want := SignWebhook(site.WebhookSecret, body, ts)
		if !hmac.Equal([]byte(want), []byte(c.GetHeader(WebhookSignatureHeader))) {
			logger.Warn("Bad webhook signature", "site", site.Host)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
			return
		}
		c.Set(gin.BodyBytesKey, body)
		c.Next()
	}
}

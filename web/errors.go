package web

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/domain"
	"github.com/gin-gonic/gin"
)

// statusOf maps a service error onto an HTTP status. Reply tags take
// precedence over the kind they are attached to.
func statusOf(err error) int {
	switch domain.TagOf(err) {
	case domain.TagUpstream:
		return http.StatusBadGateway
	case domain.TagNotAPost:
		return http.StatusBadRequest
	case domain.TagMissingAuthor:
		return http.StatusNotFound
	case domain.TagBlocked:
		return http.StatusForbidden
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindDenied:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// abortWithError writes err as {"error": ...}. Internal failures are logged
// and reported without detail.
func abortWithError(c *gin.Context, logger *log.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	if tag := domain.TagOf(err); tag != "" {
		body["code"] = tag
	}
	c.AbortWithStatusJSON(status, body)
}

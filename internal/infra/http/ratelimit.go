package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"trustplane/internal/domain"

	"github.com/gin-gonic/gin"
)

// enforceRateLimit applies the per-caller issuance limit. Failing open on a
// limiter outage is the default; fail-closed is opt-in for deployments that
// prefer rejecting to unmetered issuance.
func (s *Server) enforceRateLimit(c *gin.Context, routeID string) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	key := fmt.Sprintf("endpoint:%s:caller:%s", routeID, c.ClientIP())
	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if decision.ResetAt.IsZero() {
		return
	}
	c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	if decision.Allowed {
		return
	}
	retry := time.Until(decision.ResetAt)
	if retry < 0 {
		retry = 0
	}
	c.Header("Retry-After", strconv.FormatInt(int64(retry.Seconds()), 10))
}

package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

const (
	defaultCredentialLookupLimit = 30
	credentialLookupWindow       = time.Minute
)

// rateLimitByIP admits at most limit requests per client IP in each window.
// Rejected requests get a 429 with the usual error body and the X-RateLimit
// headers httprate sets.
func (h *httpHandler) rateLimitByIP(limit int, window time.Duration, code string) gin.HandlerFunc {
	limiter := httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(http.ResponseWriter, *http.Request) {}),
	)
	return func(c *gin.Context) {
		admitted := false
		limiter(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			admitted = true
			c.Request = r
		})).ServeHTTP(c.Writer, c.Request)
		if !admitted {
			h.logger.Info("request rate limited", zap.String("path", c.FullPath()), zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody("rate_limited", code))
			return
		}
		c.Next()
	}
}

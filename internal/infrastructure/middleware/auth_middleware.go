package middleware

import (
	"nests/internal/core/domain"
	"nests/internal/core/services"
	"nests/pkg/logger"
	"nests/pkg/tracing"

	"github.com/gin-gonic/gin"
)

const pubkeyContextKey = "pubkey"

// NostrAuthMiddleware requires a valid NIP-98 Authorization header for the
// request's method and path and stores the signer's pubkey on the context.
func NostrAuthMiddleware(auth *services.RequestAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		pubkey, err := auth.AuthenticateHeader(
			c.GetHeader("Authorization"),
			c.Request.Method,
			c.Request.URL.Path,
		)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(pubkeyContextKey, pubkey)
		tracing.AddSpanAttributes(c.Request.Context(), tracing.PubkeyKey.String(string(pubkey)))
		c.Request = c.Request.WithContext(logger.WithValue(c.Request.Context(), logger.PubkeyKey, string(pubkey)))
		c.Next()
	}
}

// Pubkey returns the identity NostrAuthMiddleware stored on c.
func Pubkey(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(pubkeyContextKey)
	if !ok {
		return "", false
	}
	pubkey, ok := v.(domain.Identity)
	return pubkey, ok
}

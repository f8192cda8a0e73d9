package middleware

import (
	"context"
	"strings"

	"referralhub/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const HeaderClientID = "X-Client-ID"

type clientKey struct{}

// RequireClient scopes the request to the client named in X-Client-ID.
// Authentication happens upstream; this only carries the tenant.
func RequireClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := strings.TrimSpace(c.GetHeader(HeaderClientID))
		if clientID == "" {
			_ = c.Error(errutil.BadRequest("missing "+HeaderClientID+" header", nil))
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(WithClientID(c.Request.Context(), clientID))
		c.Next()
	}
}

func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientKey{}, clientID)
}

// ClientID returns the scoped client, or "" for public requests.
func ClientID(ctx context.Context) string {
	v, _ := ctx.Value(clientKey{}).(string)
	return v
}

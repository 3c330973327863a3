package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/memberhub/internal/observability/context"
	"github.com/smallbiznis/memberhub/pkg/telemetry/correlation"
)

const (
	// HeaderUserID carries the caller identity asserted by the upstream gateway.
	HeaderUserID     = "X-User-ID"
	contextUserIDKey = "user_id"
)

// Identity reads the gateway-asserted user id. Requests without the header
// continue anonymously; a malformed header is rejected.
func (s *Server) Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			c.Next()
			return
		}

		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, id)
		ctx := obscontext.WithActor(c.Request.Context(), string(ActorUser), id.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Correlation adopts a gateway correlation id, or mints one, and echoes it
// back so support can match a response to the webhook and job logs.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if cid := correlation.Sanitize(c.GetHeader(correlation.Header)); cid != "" {
			ctx = correlation.ContextWithCorrelationID(ctx, cid)
		}
		ctx, cid := correlation.EnsureCorrelationID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(correlation.Header, cid)
		c.Next()
	}
}

func (s *Server) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := userIDFromContext(c); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func userIDFromContext(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(snowflake.ID)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}

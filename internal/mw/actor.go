package mw

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// UserHeader carries the id of the authenticated user, set by the auth gateway.
const UserHeader = "X-User-ID"

const actorKey = "actor_id"

// Actor reads the acting user from UserHeader. A malformed header is
// rejected; a missing one leaves the request anonymous.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(UserHeader)
		if raw == "" {
			c.Next()
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + UserHeader + " header"})
			return
		}
		c.Set(actorKey, id)
		c.Next()
	}
}

// RequireActor aborts anonymous requests with 401.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ActorID(c) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": UserHeader + " header is required"})
			return
		}
		c.Next()
	}
}

// ActorID returns the acting user id, or 0 for an anonymous request.
func ActorID(c *gin.Context) int64 {
	return c.GetInt64(actorKey)
}

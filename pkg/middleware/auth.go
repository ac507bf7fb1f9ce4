package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/docsync/docsync/internal/sessions"
	"github.com/docsync/docsync/internal/tokens"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the OIDC middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

const userIDKey = "userID"

// UserID returns the authenticated user id set by RequireUser, or "".
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// BearerToken extracts the token from an 'Authorization: Bearer x' header.
func BearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireUser returns a Gin middleware that resolves a bearer credential
// the same way the websocket handshake does: session token first, then API
// token. The resolved user id is stored on the context.
func RequireUser(sessionsSvc *sessions.Service, tokenMgr *tokens.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := BearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		if sessionsSvc != nil {
			if sess, err := sessionsSvc.Validate(c.Request.Context(), raw); err == nil && sess != nil {
				c.Set(userIDKey, sess.UserID)
				c.Next()
				return
			}
		}
		if tokenMgr != nil {
			if userID, err := tokenMgr.Verify(raw); err == nil {
				c.Set(userIDKey, userID)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	}
}

// AuthMiddleware returns a Gin middleware that verifies Bearer tokens using
// the provided OIDC verifier and exposes the claims map.
func AuthMiddleware(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := BearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		idToken, err := ver.Verify(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var claims map[string]interface{}
		if err := idToken.Claims(&claims); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

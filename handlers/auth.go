package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/sessions"
	"github.com/docsync/docsync/internal/tokens"
	"github.com/docsync/docsync/internal/users"
	"github.com/docsync/docsync/pkg/logger"
	"github.com/docsync/docsync/pkg/middleware"
)

// AuthHandler issues sessions and API tokens. Login happens against the
// OIDC provider: the client brings a verified ID token and exchanges it for
// a server-side session usable on the websocket and the REST API.
type AuthHandler struct {
	cfg         *config.Config
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
	tokenMgr    *tokens.Manager
	verifier    middleware.Verifier
}

func NewAuthHandler(cfg *config.Config, u *users.Service, s *sessions.Service, t *tokens.Manager, v middleware.Verifier) *AuthHandler {
	return &AuthHandler{cfg: cfg, usersSvc: u, sessionsSvc: s, tokenMgr: t, verifier: v}
}

// Register routes under /auth plus the authenticated identity endpoints.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	a.POST("/login", h.Login)
	a.POST("/logout", middleware.RequireUser(h.sessionsSvc, h.tokenMgr), h.Logout)

	authed := rg.Group("", middleware.RequireUser(h.sessionsSvc, h.tokenMgr))
	authed.GET("/me", h.Me)
	authed.POST("/tokens", h.CreateAPIToken)
}

// Login exchanges a verified OIDC ID token for a session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		IDToken string `json:"idToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	idToken, err := h.verifier.Verify(c.Request.Context(), req.IDToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id token"})
		return
	}
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
		return
	}

	u, err := h.usersSvc.UpsertFromClaims(c.Request.Context(), claims)
	if err != nil || u == nil {
		logger.Errorf("user upsert failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user upsert failed"})
		return
	}

	token, err := h.sessionsSvc.CreateSession(c.Request.Context(), u.ID, h.cfg.JWT.SessionTTL)
	if err != nil {
		logger.Errorf("failed to create session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessionToken": token, "user": u})
}

// Logout deletes the presented session token. API tokens cannot be revoked
// here; they expire on their own.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.sessionsSvc.Delete(c.Request.Context(), middleware.BearerToken(c)); err != nil {
		logger.Warnf("session delete failed: %v", err)
	}
	c.Status(http.StatusNoContent)
}

// Me returns the authenticated user record.
func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.usersSvc.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		if err == users.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, u)
}

// CreateAPIToken issues a signed long-lived API token for the caller, for
// use by headless sync clients.
func (h *AuthHandler) CreateAPIToken(c *gin.Context) {
	token, err := h.tokenMgr.Generate(middleware.UserID(c))
	if err != nil {
		logger.Errorf("api token generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"apiToken": token, "ttlSeconds": int(h.cfg.JWT.APITokenTTL.Seconds())})
}

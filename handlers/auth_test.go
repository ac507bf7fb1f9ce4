package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/sessions"
	"github.com/docsync/docsync/internal/tokens"
	"github.com/docsync/docsync/internal/users"
	"github.com/docsync/docsync/pkg/middleware"
)

type stubToken struct {
	claims map[string]interface{}
}

func (s stubToken) Claims(v interface{}) error {
	data, err := json.Marshal(s.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

type stubVerifier struct {
	claims map[string]interface{}
}

func (s stubVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	if raw != "good-id-token" {
		return nil, errors.New("bad token")
	}
	return stubToken{claims: s.claims}, nil
}

func authFixture(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.APITokenTTL = time.Hour
	cfg.JWT.SessionTTL = time.Hour

	usersSvc := users.NewService(users.NewMemoryRepository(), defaultTestQuotas())
	sessionsSvc := sessions.NewService(sessions.NewMemoryRepository())
	tokenMgr := tokens.NewManager(cfg.JWT.Secret, cfg.JWT.APITokenTTL)
	verifier := stubVerifier{claims: map[string]interface{}{
		"sub":   "alice",
		"email": "alice@example.com",
		"name":  "Alice",
	}}

	h := NewAuthHandler(cfg, usersSvc, sessionsSvc, tokenMgr, verifier)
	router := gin.New()
	h.Register(router.Group("/api"))
	return router
}

func TestLoginIssuesSession(t *testing.T) {
	router := authFixture(t)

	w := request(t, router, http.MethodPost, "/api/auth/login", "", map[string]string{"idToken": "good-id-token"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		SessionToken string `json:"sessionToken"`
		User         struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	decode(t, w, &resp)
	assert.NotEmpty(t, resp.SessionToken)
	assert.Equal(t, "alice", resp.User.ID)

	// The session token authenticates the identity endpoint.
	w = request(t, router, http.MethodGet, "/api/me", resp.SessionToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLoginRejectsBadIDToken(t *testing.T) {
	router := authFixture(t)

	w := request(t, router, http.MethodPost, "/api/auth/login", "", map[string]string{"idToken": "forged"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPITokenMintAndUse(t *testing.T) {
	router := authFixture(t)

	w := request(t, router, http.MethodPost, "/api/auth/login", "", map[string]string{"idToken": "good-id-token"})
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		SessionToken string `json:"sessionToken"`
	}
	decode(t, w, &login)

	w = request(t, router, http.MethodPost, "/api/tokens", login.SessionToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var minted struct {
		APIToken string `json:"apiToken"`
	}
	decode(t, w, &minted)
	require.NotEmpty(t, minted.APIToken)

	w = request(t, router, http.MethodGet, "/api/me", minted.APIToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	router := authFixture(t)

	w := request(t, router, http.MethodPost, "/api/auth/login", "", map[string]string{"idToken": "good-id-token"})
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		SessionToken string `json:"sessionToken"`
	}
	decode(t, w, &login)

	w = request(t, router, http.MethodPost, "/api/auth/logout", login.SessionToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = request(t, router, http.MethodGet, "/api/me", login.SessionToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// Header parsing on logout must accept any scheme casing RequireUser does.
func TestLogoutLowercaseBearerScheme(t *testing.T) {
	router := authFixture(t)

	w := request(t, router, http.MethodPost, "/api/auth/login", "", map[string]string{"idToken": "good-id-token"})
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		SessionToken string `json:"sessionToken"`
	}
	decode(t, w, &login)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "bearer "+login.SessionToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	w = request(t, router, http.MethodGet, "/api/me", login.SessionToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

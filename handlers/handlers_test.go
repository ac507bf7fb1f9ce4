package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/acl"
	"github.com/docsync/docsync/internal/blob"
	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/documents"
	"github.com/docsync/docsync/internal/models"
	"github.com/docsync/docsync/internal/sessions"
	"github.com/docsync/docsync/internal/storage"
	"github.com/docsync/docsync/internal/tokens"
	"github.com/docsync/docsync/internal/users"
)

// fixture wires the full REST surface against in-memory backends.
type fixture struct {
	router   *gin.Engine
	tokens   *tokens.Manager
	sessions *sessions.Service
	users    *users.Service
	docs     *documents.MemoryRepository
	blobRepo *blob.MemoryRepository
	objects  *blob.MemoryBytes
	store    *blob.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.APITokenTTL = time.Hour
	cfg.JWT.SessionTTL = time.Hour

	quotas := defaultTestQuotas()

	usersSvc := users.NewService(users.NewMemoryRepository(), quotas)
	sessionsSvc := sessions.NewService(sessions.NewMemoryRepository())
	tokenMgr := tokens.NewManager(cfg.JWT.Secret, cfg.JWT.APITokenTTL)

	blobRepo := blob.NewMemoryRepository()
	objects := blob.NewMemoryBytes()
	store := blob.NewStore(blobRepo, objects, usersSvc, config.BlobConfig{
		DefaultChunkSize: 4,
		MaxChunkSize:     8,
		SessionTTL:       time.Hour,
		GracePeriod:      time.Hour,
	})

	docsRepo := documents.NewMemoryRepository()
	docsSvc := documents.NewService(docsRepo, usersSvc, store)
	resolver := acl.NewResolver(docsRepo)
	content := storage.NewAdapter(storage.NewMemoryBackend())

	router := gin.New()
	api := router.Group("/api")
	NewDocumentsHandler(docsSvc, resolver, content, sessionsSvc, tokenMgr).Register(api)
	NewBlobsHandler(store, sessionsSvc, tokenMgr).Register(api)

	return &fixture{
		router:   router,
		tokens:   tokenMgr,
		sessions: sessionsSvc,
		users:    usersSvc,
		docs:     docsRepo,
		blobRepo: blobRepo,
		objects:  objects,
		store:    store,
	}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	_, err := f.users.GetOrCreate(context.Background(), userID, userID+"@example.com", userID)
	require.NoError(t, err)
	token, err := f.tokens.Generate(userID)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) doJSON(t *testing.T, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return f.do(t, method, path, token, body)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func defaultTestQuotas() models.Quotas {
	return models.Quotas{
		MaxDocuments:   10,
		MaxBlobSize:    1 << 20,
		MaxBlobStorage: 1 << 30,
	}
}

// request issues one JSON request against a standalone router.
func request(t *testing.T, router *gin.Engine, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

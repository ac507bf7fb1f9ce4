package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/docsync/docsync/internal/blob"
	"github.com/docsync/docsync/internal/sessions"
	"github.com/docsync/docsync/internal/tokens"
	"github.com/docsync/docsync/pkg/middleware"
)

// BlobsHandler exposes the chunked upload API and content-addressed
// downloads.
type BlobsHandler struct {
	store       *blob.Store
	sessionsSvc *sessions.Service
	tokenMgr    *tokens.Manager
}

func NewBlobsHandler(store *blob.Store, s *sessions.Service, t *tokens.Manager) *BlobsHandler {
	return &BlobsHandler{store: store, sessionsSvc: s, tokenMgr: t}
}

func (h *BlobsHandler) Register(rg *gin.RouterGroup) {
	b := rg.Group("/blobs", middleware.RequireUser(h.sessionsSvc, h.tokenMgr))
	b.POST("/upload/init", h.InitUpload)
	b.PUT("/upload/:session/chunk/:index", h.WriteChunk)
	b.POST("/upload/:session/complete", h.CompleteUpload)
	b.DELETE("/upload/:session", h.CancelUpload)
	b.POST("/:hash/claim", h.CreateClaim)
	b.DELETE("/:hash/claim", h.DeleteClaim)

	// Downloads are unauthenticated: the hash is a capability.
	rg.GET("/blobs/:hash", h.Download)
}

// blobError maps the service error taxonomy onto HTTP statuses. Quota
// rejections carry 402 so clients can distinguish them from bad requests.
func blobError(c *gin.Context, err error) {
	var quotaErr *blob.QuotaError
	var sizeErr *blob.SizeError
	var upErr *blob.UploadError
	switch {
	case errors.As(err, &quotaErr):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": blob.CodeQuotaExceeded, "details": quotaErr})
	case errors.As(err, &sizeErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": blob.CodeBlobTooLarge, "details": sizeErr})
	case errors.As(err, &upErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": upErr.Code, "message": upErr.Message})
	case errors.Is(err, blob.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, blob.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not your upload"})
	case errors.Is(err, blob.ErrUploadExpired):
		c.JSON(http.StatusGone, gin.H{"error": "upload session expired"})
	case errors.Is(err, blob.ErrAlreadyClaimed):
		c.JSON(http.StatusConflict, gin.H{"error": "already claimed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *BlobsHandler) InitUpload(c *gin.Context) {
	var req blob.InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.store.InitUpload(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		blobError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"uploadId":    sess.ID,
		"chunkSize":   sess.ChunkSize,
		"totalChunks": sess.TotalChunks,
		"expiresAt":   sess.ExpiresAt,
	})
}

// WriteChunk accepts one raw chunk body.
func (h *BlobsHandler) WriteChunk(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunk index must be an integer"})
		return
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read chunk body"})
		return
	}
	sess, err := h.store.WriteChunk(c.Request.Context(), middleware.UserID(c), c.Param("session"), index, data)
	if err != nil {
		blobError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chunksReceived": sess.ChunksReceived,
		"totalChunks":    sess.TotalChunks,
		"complete":       sess.ChunksReceived == sess.TotalChunks,
	})
}

func (h *BlobsHandler) CompleteUpload(c *gin.Context) {
	result, err := h.store.CompleteUpload(c.Request.Context(), middleware.UserID(c), c.Param("session"))
	if err != nil {
		blobError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *BlobsHandler) CancelUpload(c *gin.Context) {
	if err := h.store.CancelUpload(c.Request.Context(), middleware.UserID(c), c.Param("session")); err != nil {
		blobError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Download serves blob bytes. Content is immutable per hash, so responses
// carry a strong ETag and a long-lived cache header; range requests are
// honored via http.ServeContent.
func (h *BlobsHandler) Download(c *gin.Context) {
	hash := c.Param("hash")
	b, data, err := h.store.Download(c.Request.Context(), hash)
	if err != nil {
		blobError(c, err)
		return
	}

	c.Header("ETag", `"`+b.Hash+`"`)
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	if b.MimeType != "" {
		c.Header("Content-Type", b.MimeType)
	}
	http.ServeContent(c.Writer, c.Request, "", b.CreatedAt, bytes.NewReader(data))
}

func (h *BlobsHandler) CreateClaim(c *gin.Context) {
	if err := h.store.CreateBlobClaim(c.Request.Context(), middleware.UserID(c), c.Param("hash")); err != nil {
		blobError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *BlobsHandler) DeleteClaim(c *gin.Context) {
	if err := h.store.DeleteBlobClaim(c.Request.Context(), middleware.UserID(c), c.Param("hash")); err != nil {
		blobError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

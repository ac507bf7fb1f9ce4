package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/docsync/docsync/internal/acl"
	"github.com/docsync/docsync/internal/documents"
	"github.com/docsync/docsync/internal/models"
	"github.com/docsync/docsync/internal/sessions"
	"github.com/docsync/docsync/internal/storage"
	"github.com/docsync/docsync/internal/tokens"
	"github.com/docsync/docsync/pkg/logger"
	"github.com/docsync/docsync/pkg/middleware"
)

// DocumentsHandler exposes document metadata, ACL management and the
// document content snapshot store.
type DocumentsHandler struct {
	svc         *documents.Service
	resolver    *acl.Resolver
	content     *storage.Adapter
	sessionsSvc *sessions.Service
	tokenMgr    *tokens.Manager
}

func NewDocumentsHandler(svc *documents.Service, resolver *acl.Resolver, content *storage.Adapter, s *sessions.Service, t *tokens.Manager) *DocumentsHandler {
	return &DocumentsHandler{svc: svc, resolver: resolver, content: content, sessionsSvc: s, tokenMgr: t}
}

func (h *DocumentsHandler) Register(rg *gin.RouterGroup) {
	d := rg.Group("/documents", middleware.RequireUser(h.sessionsSvc, h.tokenMgr))
	d.POST("", h.Create)
	d.GET("", h.List)
	d.GET("/:id", h.Get)
	d.DELETE("/:id", h.Delete)
	d.GET("/:id/permissions", h.Permissions)
	d.PUT("/:id/acl/:principal", h.PutACLEntry)
	d.DELETE("/:id/acl/:principal", h.DeleteACLEntry)
	d.GET("/:id/content/*key", h.LoadContent)
	d.PUT("/:id/content/*key", h.SaveContent)
}

func (h *DocumentsHandler) Create(c *gin.Context) {
	var req struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	doc, err := h.svc.Create(c.Request.Context(), middleware.UserID(c), req.ID, req.Type)
	if err != nil {
		switch {
		case errors.Is(err, documents.ErrEphemeralID):
			c.JSON(http.StatusBadRequest, gin.H{"error": "ephemeral ids cannot be persisted"})
		case errors.Is(err, documents.ErrQuotaExceeded):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *DocumentsHandler) List(c *gin.Context) {
	docs, err := h.svc.ListByOwner(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if docs == nil {
		docs = []*models.DocumentMetadata{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// Get returns metadata for callers holding read access; the full ACL is
// only included for the owner.
func (h *DocumentsHandler) Get(c *gin.Context) {
	id := c.Param("id")
	userID := middleware.UserID(c)

	doc, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}

	perms, err := h.resolver.Resolve(c.Request.Context(), id, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "permission resolve failed"})
		return
	}
	if !perms.CanRead {
		// Hide existence from peers with no access.
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	if doc.OwnerID != userID {
		doc.ACL = nil
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentsHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	err := h.svc.Delete(c.Request.Context(), id, middleware.UserID(c))
	switch {
	case err == nil:
		if err := h.content.RemoveRange(c.Request.Context(), storage.Key{id}); err != nil {
			logger.Errorf("failed to remove content for %s: %v", id, err)
		}
		c.Status(http.StatusNoContent)
	case errors.Is(err, documents.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
	case errors.Is(err, documents.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "only the owner can delete"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
	}
}

// Permissions reports the caller's resolved access on a document.
func (h *DocumentsHandler) Permissions(c *gin.Context) {
	perms, err := h.resolver.Resolve(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "permission resolve failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"canRead": perms.CanRead, "canWrite": perms.CanWrite})
}

func (h *DocumentsHandler) PutACLEntry(c *gin.Context) {
	var req struct {
		Permission models.Permission `json:"permission" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry := models.ACLEntry{Principal: c.Param("principal"), Permission: req.Permission}
	err := h.svc.PutACLEntry(c.Request.Context(), c.Param("id"), middleware.UserID(c), entry)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, documents.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
	case errors.Is(err, documents.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "only the owner can edit the acl"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// contentKey builds the storage key for a content route: the document id
// followed by the wildcard path segments.
func contentKey(c *gin.Context) storage.Key {
	key := storage.Key{c.Param("id")}
	for _, seg := range strings.Split(strings.Trim(c.Param("key"), "/"), "/") {
		if seg != "" {
			key = append(key, seg)
		}
	}
	return key
}

// LoadContent reads one stored snapshot chunk. Readable by anyone with
// read access on the document.
func (h *DocumentsHandler) LoadContent(c *gin.Context) {
	if !h.checkAccess(c, models.PermissionRead) {
		return
	}
	value, err := h.content.Load(c.Request.Context(), contentKey(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if value == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no content at key"})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", value)
}

// SaveContent stores one snapshot chunk. Requires write access. Writes to
// ephemeral document keys are silently dropped by the storage layer.
func (h *DocumentsHandler) SaveContent(c *gin.Context) {
	if !h.checkAccess(c, models.PermissionWrite) {
		return
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if err := h.content.Save(c.Request.Context(), contentKey(c), data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DocumentsHandler) checkAccess(c *gin.Context, required models.Permission) bool {
	ok, err := h.resolver.CheckPermission(c.Request.Context(), c.Param("id"), middleware.UserID(c), required)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "permission resolve failed"})
		return false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "no access to document"})
		return false
	}
	return true
}

func (h *DocumentsHandler) DeleteACLEntry(c *gin.Context) {
	err := h.svc.DeleteACLEntry(c.Request.Context(), c.Param("id"), middleware.UserID(c), c.Param("principal"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, documents.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
	case errors.Is(err, documents.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "only the owner can edit the acl"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "acl update failed"})
	}
}

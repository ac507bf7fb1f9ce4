package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/models"
	"github.com/docsync/docsync/pkg/logger"
	"github.com/docsync/docsync/pkg/metrics"
)

// QuotaSource exposes the effective quotas of a user.
type QuotaSource interface {
	Quotas(ctx context.Context, userID string) (models.Quotas, error)
}

// Store is the content-addressed blob service. Uploads run in three phases
// (init, chunks, complete); completion hashes the assembled bytes and
// deduplicates against existing blobs. Claims keep blobs alive; when the
// last claim goes a blob is released and swept after the grace period.
type Store struct {
	repo   Repository
	bytes  Bytes
	quotas QuotaSource
	cfg    config.BlobConfig

	// claimMu serializes claim creation, release and the GC sweep so a
	// claim can never land on a blob mid-deletion.
	claimMu sync.Mutex

	now func() time.Time
}

// InitRequest describes a requested chunked upload.
type InitRequest struct {
	Size         int64  `json:"size" binding:"required"`
	MimeType     string `json:"mimeType"`
	ChunkSize    int64  `json:"chunkSize"`
	ExpectedHash string `json:"expectedHash"`
}

// CompleteResult reports the outcome of a finished upload.
type CompleteResult struct {
	Hash         string `json:"hash"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
	Deduplicated bool   `json:"deduplicated"`
}

func NewStore(repo Repository, objects Bytes, quotas QuotaSource, cfg config.BlobConfig) *Store {
	return &Store{
		repo:   repo,
		bytes:  objects,
		quotas: quotas,
		cfg:    cfg,
		now:    time.Now,
	}
}

func chunkKey(sessionID string, index int) string {
	return fmt.Sprintf("uploads/%s/%d", sessionID, index)
}

func blobKey(hash string) string {
	return "blobs/" + hash
}

// InitUpload validates size and quota and opens an upload session.
func (s *Store) InitUpload(ctx context.Context, userID string, req InitRequest) (*models.UploadSession, error) {
	if req.Size <= 0 {
		return nil, uploadErrorf(CodeInvalidChunkSize, "size must be positive, got %d", req.Size)
	}
	q, err := s.quotas.Quotas(ctx, userID)
	if err != nil {
		return nil, err
	}
	if q.MaxBlobSize > 0 && req.Size > q.MaxBlobSize {
		return nil, &SizeError{Size: req.Size, Limit: q.MaxBlobSize}
	}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.cfg.DefaultChunkSize
	}
	if chunkSize <= 0 || chunkSize > s.cfg.MaxChunkSize {
		return nil, uploadErrorf(CodeInvalidChunkSize, "chunk size %d outside (0, %d]", chunkSize, s.cfg.MaxChunkSize)
	}

	if q.MaxBlobStorage > 0 {
		usage, err := s.repo.UserUsage(ctx, userID)
		if err != nil {
			return nil, err
		}
		if usage+req.Size > q.MaxBlobStorage {
			return nil, &QuotaError{Quota: "blob_storage", Usage: usage, Limit: q.MaxBlobStorage, Requested: req.Size}
		}
	}

	now := s.now()
	totalChunks := int((req.Size + chunkSize - 1) / chunkSize)
	session := &models.UploadSession{
		ID:           uuid.NewString(),
		UserID:       userID,
		ExpectedHash: req.ExpectedHash,
		ExpectedSize: req.Size,
		MimeType:     req.MimeType,
		ChunkSize:    chunkSize,
		TotalChunks:  totalChunks,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.SessionTTL),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// session loads and authorizes an upload session for userID. Expired
// sessions are discarded on access.
func (s *Store) session(ctx context.Context, userID, sessionID string) (*models.UploadSession, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	if s.now().After(sess.ExpiresAt) {
		s.discardSession(ctx, sess)
		return nil, ErrUploadExpired
	}
	return sess, nil
}

// WriteChunk stores one chunk of an open upload. Every chunk must be
// exactly the session chunk size except the last, which carries the
// remainder. Re-uploading an already received index overwrites it.
func (s *Store) WriteChunk(ctx context.Context, userID, sessionID string, index int, data []byte) (*models.UploadSession, error) {
	sess, err := s.session(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= sess.TotalChunks {
		return nil, uploadErrorf(CodeInvalidChunkIndex, "chunk index %d outside [0, %d)", index, sess.TotalChunks)
	}

	want := sess.ChunkSize
	if index == sess.TotalChunks-1 {
		want = sess.ExpectedSize - int64(sess.TotalChunks-1)*sess.ChunkSize
	}
	if int64(len(data)) != want {
		return nil, uploadErrorf(CodeInvalidChunkSize, "chunk %d must be %d bytes, got %d", index, want, len(data))
	}

	if err := s.bytes.PutObject(ctx, chunkKey(sess.ID, index), data, "application/octet-stream"); err != nil {
		return nil, err
	}
	sess.MarkChunk(index)
	if err := s.repo.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// CompleteUpload assembles the chunks, verifies size and hash, and commits
// the blob. Identical content deduplicates to the existing blob without
// writing bytes again. The caller always ends up holding a user claim on
// the resulting hash. Integrity failures discard the whole session.
func (s *Store) CompleteUpload(ctx context.Context, userID, sessionID string) (*CompleteResult, error) {
	sess, err := s.session(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ChunksReceived != sess.TotalChunks {
		return nil, uploadErrorf(CodeIncompleteUpload, "received %d of %d chunks", sess.ChunksReceived, sess.TotalChunks)
	}

	var buf bytes.Buffer
	buf.Grow(int(sess.ExpectedSize))
	for i := 0; i < sess.TotalChunks; i++ {
		chunk, err := s.bytes.GetObject(ctx, chunkKey(sess.ID, i))
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			s.discardSession(ctx, sess)
			return nil, uploadErrorf(CodeIncompleteUpload, "chunk %d missing from storage", i)
		}
		buf.Write(chunk)
	}

	data := buf.Bytes()
	if int64(len(data)) != sess.ExpectedSize {
		s.discardSession(ctx, sess)
		metrics.BlobUploads.WithLabelValues("size_mismatch").Inc()
		return nil, uploadErrorf(CodeSizeMismatch, "assembled %d bytes, expected %d", len(data), sess.ExpectedSize)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if sess.ExpectedHash != "" && sess.ExpectedHash != hash {
		s.discardSession(ctx, sess)
		metrics.BlobUploads.WithLabelValues("hash_mismatch").Inc()
		return nil, uploadErrorf(CodeHashMismatch, "content hashed to %s, expected %s", hash, sess.ExpectedHash)
	}

	result := &CompleteResult{Hash: hash, Size: sess.ExpectedSize, MimeType: sess.MimeType}

	s.claimMu.Lock()
	existing, err := s.repo.GetBlob(ctx, hash)
	if err != nil {
		s.claimMu.Unlock()
		return nil, err
	}
	if existing != nil {
		result.Deduplicated = true
		result.MimeType = existing.MimeType
		if existing.ReleasedAt != nil {
			if err := s.repo.SetReleasedAt(ctx, hash, nil); err != nil {
				s.claimMu.Unlock()
				return nil, err
			}
		}
	} else {
		if err := s.bytes.PutObject(ctx, blobKey(hash), data, sess.MimeType); err != nil {
			s.claimMu.Unlock()
			return nil, err
		}
		b := &models.Blob{Hash: hash, Size: sess.ExpectedSize, MimeType: sess.MimeType, CreatedAt: s.now()}
		if err := s.repo.CreateBlob(ctx, b); err != nil {
			s.claimMu.Unlock()
			return nil, err
		}
	}
	claim := &models.BlobClaim{Hash: hash, UserID: userID, Size: sess.ExpectedSize, CreatedAt: s.now()}
	if err := s.repo.CreateClaim(ctx, claim); err != nil && err != ErrDuplicate {
		s.claimMu.Unlock()
		return nil, err
	}
	s.claimMu.Unlock()

	s.discardSession(ctx, sess)
	if result.Deduplicated {
		metrics.BlobUploads.WithLabelValues("deduplicated").Inc()
	} else {
		metrics.BlobUploads.WithLabelValues("stored").Inc()
	}
	return result, nil
}

// CancelUpload discards an open session and its stored chunks.
func (s *Store) CancelUpload(ctx context.Context, userID, sessionID string) error {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	if sess.UserID != userID {
		return ErrForbidden
	}
	s.discardSession(ctx, sess)
	return nil
}

func (s *Store) discardSession(ctx context.Context, sess *models.UploadSession) {
	for _, i := range sess.Received {
		if err := s.bytes.DeleteObject(ctx, chunkKey(sess.ID, i)); err != nil {
			logger.Warnf("blob: failed to delete chunk %d of session %s: %v", i, sess.ID, err)
		}
	}
	if err := s.repo.DeleteSession(ctx, sess.ID); err != nil {
		logger.Warnf("blob: failed to delete session %s: %v", sess.ID, err)
	}
}

// Download returns a blob's metadata and bytes.
func (s *Store) Download(ctx context.Context, hash string) (*models.Blob, []byte, error) {
	b, err := s.repo.GetBlob(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, ErrNotFound
	}
	data, err := s.bytes.GetObject(ctx, blobKey(hash))
	if err != nil {
		return nil, nil, err
	}
	if data == nil {
		return nil, nil, ErrNotFound
	}
	return b, data, nil
}

// GetBlob returns blob metadata without the bytes.
func (s *Store) GetBlob(ctx context.Context, hash string) (*models.Blob, error) {
	b, err := s.repo.GetBlob(ctx, hash)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	return b, nil
}

// CreateBlobClaim adds a user claim on an existing blob, charging the
// user's storage quota and reviving the blob if it was released.
func (s *Store) CreateBlobClaim(ctx context.Context, userID, hash string) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	b, err := s.repo.GetBlob(ctx, hash)
	if err != nil {
		return err
	}
	if b == nil {
		return ErrNotFound
	}

	q, err := s.quotas.Quotas(ctx, userID)
	if err != nil {
		return err
	}
	if q.MaxBlobStorage > 0 {
		usage, err := s.repo.UserUsage(ctx, userID)
		if err != nil {
			return err
		}
		if usage+b.Size > q.MaxBlobStorage {
			return &QuotaError{Quota: "blob_storage", Usage: usage, Limit: q.MaxBlobStorage, Requested: b.Size}
		}
	}

	claim := &models.BlobClaim{Hash: hash, UserID: userID, Size: b.Size, CreatedAt: s.now()}
	if err := s.repo.CreateClaim(ctx, claim); err != nil {
		if err == ErrDuplicate {
			return ErrAlreadyClaimed
		}
		return err
	}
	if b.ReleasedAt != nil {
		return s.repo.SetReleasedAt(ctx, hash, nil)
	}
	return nil
}

// DeleteBlobClaim removes a user claim. When the last claim on a blob
// goes, the blob is marked released and the grace period starts.
func (s *Store) DeleteBlobClaim(ctx context.Context, userID, hash string) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	removed, err := s.repo.DeleteClaim(ctx, hash, userID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	return s.releaseIfUnclaimed(ctx, hash)
}

// CreateDocumentBlobClaim adds a document claim on an existing blob. The
// claim counts against the document owner's storage quota.
func (s *Store) CreateDocumentBlobClaim(ctx context.Context, documentID, ownerID, hash string) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	b, err := s.repo.GetBlob(ctx, hash)
	if err != nil {
		return err
	}
	if b == nil {
		return ErrNotFound
	}

	q, err := s.quotas.Quotas(ctx, ownerID)
	if err != nil {
		return err
	}
	if q.MaxBlobStorage > 0 {
		usage, err := s.repo.UserUsage(ctx, ownerID)
		if err != nil {
			return err
		}
		if usage+b.Size > q.MaxBlobStorage {
			return &QuotaError{Quota: "blob_storage", Usage: usage, Limit: q.MaxBlobStorage, Requested: b.Size}
		}
	}

	claim := &models.DocumentBlobClaim{Hash: hash, DocumentID: documentID, OwnerID: ownerID, Size: b.Size, CreatedAt: s.now()}
	if err := s.repo.CreateDocumentClaim(ctx, claim); err != nil {
		if err == ErrDuplicate {
			return ErrAlreadyClaimed
		}
		return err
	}
	if b.ReleasedAt != nil {
		return s.repo.SetReleasedAt(ctx, hash, nil)
	}
	return nil
}

// DeleteDocumentBlobClaim removes one document claim.
func (s *Store) DeleteDocumentBlobClaim(ctx context.Context, documentID, hash string) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	removed, err := s.repo.DeleteDocumentClaim(ctx, hash, documentID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	return s.releaseIfUnclaimed(ctx, hash)
}

// ReleaseDocumentClaims drops every claim a document holds. Document
// deletion cascades here.
func (s *Store) ReleaseDocumentClaims(ctx context.Context, documentID string) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	hashes, err := s.repo.DeleteClaimsForDocument(ctx, documentID)
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		if err := s.releaseIfUnclaimed(ctx, hash); err != nil {
			return err
		}
	}
	return nil
}

// releaseIfUnclaimed marks a blob released when no claims remain. Callers
// hold claimMu.
func (s *Store) releaseIfUnclaimed(ctx context.Context, hash string) error {
	n, err := s.repo.CountClaims(ctx, hash)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	at := s.now()
	err = s.repo.SetReleasedAt(ctx, hash, &at)
	if err == ErrNotFound {
		return nil
	}
	return err
}

// SweepReleased deletes blobs whose release predates the grace period.
// Returns how many blobs were collected.
func (s *Store) SweepReleased(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.GracePeriod)
	released, err := s.repo.ListReleasedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	collected := 0
	for _, b := range released {
		s.claimMu.Lock()
		// Re-read under the lock: the blob may have been claimed, or
		// released again with a fresh grace period, since listing.
		cur, err := s.repo.GetBlob(ctx, b.Hash)
		if err != nil {
			s.claimMu.Unlock()
			return collected, err
		}
		if cur == nil || cur.ReleasedAt == nil || cur.ReleasedAt.After(cutoff) {
			s.claimMu.Unlock()
			continue
		}
		n, err := s.repo.CountClaims(ctx, b.Hash)
		if err != nil {
			s.claimMu.Unlock()
			return collected, err
		}
		if n > 0 {
			s.claimMu.Unlock()
			continue
		}
		if err := s.bytes.DeleteObject(ctx, blobKey(b.Hash)); err != nil {
			s.claimMu.Unlock()
			return collected, err
		}
		if err := s.repo.DeleteBlob(ctx, b.Hash); err != nil {
			s.claimMu.Unlock()
			return collected, err
		}
		s.claimMu.Unlock()
		collected++
		metrics.BlobsCollected.Inc()
	}
	if collected > 0 {
		logger.Infof("blob: garbage collected %d blobs", collected)
	}
	return collected, nil
}

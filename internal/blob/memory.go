package blob

import (
	"context"
	"sync"
	"time"

	"github.com/docsync/docsync/internal/models"
)

type claimKey struct {
	hash  string
	owner string
}

// MemoryRepository is the in-memory Repository used by unit tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	blobs     map[string]*models.Blob
	claims    map[claimKey]*models.BlobClaim
	docClaims map[claimKey]*models.DocumentBlobClaim
	sessions  map[string]*models.UploadSession
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		blobs:     make(map[string]*models.Blob),
		claims:    make(map[claimKey]*models.BlobClaim),
		docClaims: make(map[claimKey]*models.DocumentBlobClaim),
		sessions:  make(map[string]*models.UploadSession),
	}
}

func (r *MemoryRepository) GetBlob(ctx context.Context, hash string) (*models.Blob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[hash]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryRepository) CreateBlob(ctx context.Context, b *models.Blob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	r.blobs[b.Hash] = &cp
	return nil
}

func (r *MemoryRepository) DeleteBlob(ctx context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blobs, hash)
	return nil
}

func (r *MemoryRepository) SetReleasedAt(ctx context.Context, hash string, at *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[hash]
	if !ok {
		return ErrNotFound
	}
	b.ReleasedAt = at
	return nil
}

func (r *MemoryRepository) ListReleasedBefore(ctx context.Context, cutoff time.Time) ([]*models.Blob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Blob
	for _, b := range r.blobs {
		if b.ReleasedAt != nil && b.ReleasedAt.Before(cutoff) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateClaim(ctx context.Context, c *models.BlobClaim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := claimKey{hash: c.Hash, owner: c.UserID}
	if _, ok := r.claims[k]; ok {
		return ErrDuplicate
	}
	cp := *c
	r.claims[k] = &cp
	return nil
}

func (r *MemoryRepository) DeleteClaim(ctx context.Context, hash, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := claimKey{hash: hash, owner: userID}
	if _, ok := r.claims[k]; !ok {
		return false, nil
	}
	delete(r.claims, k)
	return true, nil
}

func (r *MemoryRepository) CreateDocumentClaim(ctx context.Context, c *models.DocumentBlobClaim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := claimKey{hash: c.Hash, owner: c.DocumentID}
	if _, ok := r.docClaims[k]; ok {
		return ErrDuplicate
	}
	cp := *c
	r.docClaims[k] = &cp
	return nil
}

func (r *MemoryRepository) DeleteDocumentClaim(ctx context.Context, hash, documentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := claimKey{hash: hash, owner: documentID}
	if _, ok := r.docClaims[k]; !ok {
		return false, nil
	}
	delete(r.docClaims, k)
	return true, nil
}

func (r *MemoryRepository) DeleteClaimsForDocument(ctx context.Context, documentID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hashes []string
	for k, c := range r.docClaims {
		if c.DocumentID == documentID {
			hashes = append(hashes, c.Hash)
			delete(r.docClaims, k)
		}
	}
	return hashes, nil
}

func (r *MemoryRepository) CountClaims(ctx context.Context, hash string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, c := range r.claims {
		if c.Hash == hash {
			n++
		}
	}
	for _, c := range r.docClaims {
		if c.Hash == hash {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) UserUsage(ctx context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sum int64
	for _, c := range r.claims {
		if c.UserID == userID {
			sum += c.Size
		}
	}
	for _, c := range r.docClaims {
		if c.OwnerID == userID {
			sum += c.Size
		}
	}
	return sum, nil
}

func (r *MemoryRepository) CreateSession(ctx context.Context, s *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.Received = append([]int(nil), s.Received...)
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetSession(ctx context.Context, id string) (*models.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Received = append([]int(nil), s.Received...)
	return &cp, nil
}

func (r *MemoryRepository) UpdateSession(ctx context.Context, s *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	cp.Received = append([]int(nil), s.Received...)
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/docsync/docsync/internal/models"
)

var (
	ErrEphemeralID   = errors.New("ephemeral documents are never persisted")
	ErrQuotaExceeded = errors.New("document quota exceeded")
	ErrForbidden     = errors.New("not the document owner")
)

// QuotaSource exposes the effective quotas of a user.
type QuotaSource interface {
	Quotas(ctx context.Context, userID string) (models.Quotas, error)
}

// ClaimReleaser releases all document blob claims held by a document; the
// blob store implements it. Deleting a document must cascade here so blobs
// it referenced become collectible.
type ClaimReleaser interface {
	ReleaseDocumentClaims(ctx context.Context, documentID string) error
}

// Service owns document metadata and ACL mutation rules.
type Service struct {
	repo   Repository
	quotas QuotaSource
	claims ClaimReleaser
}

func NewService(repo Repository, quotas QuotaSource, claims ClaimReleaser) *Service {
	return &Service{repo: repo, quotas: quotas, claims: claims}
}

// Create persists a new document owned by ownerID. Ephemeral ids are
// refused here: they live only in the relay. The owner's document-count
// quota is enforced at creation time.
func (s *Service) Create(ctx context.Context, ownerID, id, docType string) (*models.DocumentMetadata, error) {
	if id == "" {
		id = models.DocPrefix + uuid.NewString()
	}
	if models.IsEphemeralID(id) {
		return nil, ErrEphemeralID
	}
	q, err := s.quotas.Quotas(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if q.MaxDocuments > 0 {
		count, err := s.repo.CountByOwner(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if count >= q.MaxDocuments {
			return nil, fmt.Errorf("%w: %d documents, limit %d", ErrQuotaExceeded, count, q.MaxDocuments)
		}
	}
	doc := &models.DocumentMetadata{ID: id, OwnerID: ownerID, Type: docType}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.DocumentMetadata, error) {
	return s.repo.GetDocument(ctx, id)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*models.DocumentMetadata, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Delete removes the document and releases every blob claim it held.
// Only the owner may delete.
func (s *Service) Delete(ctx context.Context, id, callerID string) error {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrNotFound
	}
	if doc.OwnerID != callerID {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.claims != nil {
		if err := s.claims.ReleaseDocumentClaims(ctx, id); err != nil {
			return fmt.Errorf("release blob claims for %s: %w", id, err)
		}
	}
	return nil
}

// PutACLEntry sets the grant for one principal, replacing any previous
// grant for the same principal. Only the owner may edit the ACL.
func (s *Service) PutACLEntry(ctx context.Context, id, callerID string, entry models.ACLEntry) error {
	if !entry.Permission.Valid() {
		return fmt.Errorf("invalid permission %q", entry.Permission)
	}
	if err := s.requireOwner(ctx, id, callerID); err != nil {
		return err
	}
	return s.repo.PutACLEntry(ctx, id, entry)
}

// DeleteACLEntry removes the grant for one principal.
func (s *Service) DeleteACLEntry(ctx context.Context, id, callerID, principal string) error {
	if err := s.requireOwner(ctx, id, callerID); err != nil {
		return err
	}
	return s.repo.DeleteACLEntry(ctx, id, principal)
}

func (s *Service) requireOwner(ctx context.Context, id, callerID string) error {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrNotFound
	}
	if doc.OwnerID != callerID {
		return ErrForbidden
	}
	return nil
}

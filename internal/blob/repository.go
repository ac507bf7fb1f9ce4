package blob

import (
	"context"
	"time"

	"github.com/docsync/docsync/internal/models"
)

// Repository is the durable metadata store behind the blob service: blob
// records, user claims, document claims and upload sessions. Lookups return
// (nil, nil) when absent; claim creation returns ErrDuplicate for an
// existing (hash, owner) pair; deletes report whether a record was removed.
type Repository interface {
	GetBlob(ctx context.Context, hash string) (*models.Blob, error)
	CreateBlob(ctx context.Context, b *models.Blob) error
	DeleteBlob(ctx context.Context, hash string) error
	SetReleasedAt(ctx context.Context, hash string, at *time.Time) error
	ListReleasedBefore(ctx context.Context, cutoff time.Time) ([]*models.Blob, error)

	CreateClaim(ctx context.Context, c *models.BlobClaim) error
	DeleteClaim(ctx context.Context, hash, userID string) (bool, error)
	CreateDocumentClaim(ctx context.Context, c *models.DocumentBlobClaim) error
	DeleteDocumentClaim(ctx context.Context, hash, documentID string) (bool, error)
	DeleteClaimsForDocument(ctx context.Context, documentID string) ([]string, error)
	CountClaims(ctx context.Context, hash string) (int64, error)
	UserUsage(ctx context.Context, userID string) (int64, error)

	CreateSession(ctx context.Context, s *models.UploadSession) error
	GetSession(ctx context.Context, id string) (*models.UploadSession, error)
	UpdateSession(ctx context.Context, s *models.UploadSession) error
	DeleteSession(ctx context.Context, id string) error
}

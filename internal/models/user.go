package models

import "time"

// Quotas holds the per-user resource limits enforced at write time.
// Zero values are replaced with configured defaults when the user is created.
type Quotas struct {
	MaxDocuments    int64 `bson:"maxDocuments" json:"maxDocuments"`
	MaxDocumentSize int64 `bson:"maxDocumentSize" json:"maxDocumentSize"`
	MaxTotalStorage int64 `bson:"maxTotalStorage" json:"maxTotalStorage"`
	MaxBlobSize     int64 `bson:"maxBlobSize" json:"maxBlobSize"`
	MaxBlobStorage  int64 `bson:"maxBlobStorage" json:"maxBlobStorage"`
}

// User represents an application user (mapped from OIDC claims on first
// login). Users are never deleted by the sync core; quotas are mutable by
// an administrator.
type User struct {
	ID        string    `bson:"_id" json:"id"`
	Email     string    `bson:"email,omitempty" json:"email,omitempty"`
	Name      string    `bson:"name,omitempty" json:"name,omitempty"`
	Quotas    Quotas    `bson:"quotas" json:"quotas"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

package models

import "time"

// Blob is a content-addressed stored object. The SHA-256 hex hash is the
// primary key; identical content uploaded twice maps to one Blob. A non-nil
// ReleasedAt means no claim references the blob and it becomes eligible for
// garbage collection once the grace period has elapsed.
type Blob struct {
	Hash       string     `bson:"_id" json:"hash"`
	Size       int64      `bson:"size" json:"size"`
	MimeType   string     `bson:"mimeType" json:"mimeType"`
	CreatedAt  time.Time  `bson:"createdAt" json:"createdAt"`
	ReleasedAt *time.Time `bson:"releasedAt,omitempty" json:"releasedAt,omitempty"`
}

// BlobClaim records that a user owns a share of a blob. The blob size is
// denormalized onto the claim so per-user usage is a plain sum.
type BlobClaim struct {
	Hash      string    `bson:"hash" json:"hash"`
	UserID    string    `bson:"userId" json:"userId"`
	Size      int64     `bson:"size" json:"size"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// DocumentBlobClaim records that a document references a blob. It counts
// against the document owner's quota and is released when the document is
// deleted.
type DocumentBlobClaim struct {
	Hash       string    `bson:"hash" json:"hash"`
	DocumentID string    `bson:"documentId" json:"documentId"`
	OwnerID    string    `bson:"ownerId" json:"ownerId"`
	Size       int64     `bson:"size" json:"size"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
}

// UploadSession tracks a chunked blob upload between init and
// complete/cancel/expiry.
type UploadSession struct {
	ID             string    `bson:"_id" json:"id"`
	UserID         string    `bson:"userId" json:"userId"`
	ExpectedHash   string    `bson:"expectedHash,omitempty" json:"expectedHash,omitempty"`
	ExpectedSize   int64     `bson:"expectedSize" json:"expectedSize"`
	MimeType       string    `bson:"mimeType" json:"mimeType"`
	ChunkSize      int64     `bson:"chunkSize" json:"chunkSize"`
	TotalChunks    int       `bson:"totalChunks" json:"totalChunks"`
	ChunksReceived int       `bson:"chunksReceived" json:"chunksReceived"`
	Received       []int     `bson:"received,omitempty" json:"-"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	ExpiresAt      time.Time `bson:"expiresAt" json:"expiresAt"`
}

// HasChunk reports whether the chunk at index was already accepted.
func (s *UploadSession) HasChunk(index int) bool {
	for _, i := range s.Received {
		if i == index {
			return true
		}
	}
	return false
}

// MarkChunk records the chunk at index as received. Re-uploading the same
// index does not grow the received count.
func (s *UploadSession) MarkChunk(index int) {
	if s.HasChunk(index) {
		return
	}
	s.Received = append(s.Received, index)
	s.ChunksReceived = len(s.Received)
}

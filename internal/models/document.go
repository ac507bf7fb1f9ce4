package models

import (
	"strings"
	"time"
)

// Document id namespaces. Ephemeral documents never persist; app documents
// are private to their owner regardless of ACL entries.
const (
	DocPrefix       = "doc:"
	AppPrefix       = "app:"
	EphemeralPrefix = "eph:"
)

// PrincipalPublic is the ACL principal that grants access to everyone,
// including anonymous peers.
const PrincipalPublic = "public"

// Permission is an access level attached to an ACL entry. Write implies read.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// Valid reports whether p is one of the known permission levels.
func (p Permission) Valid() bool {
	return p == PermissionRead || p == PermissionWrite
}

// ACLEntry grants a permission to a principal: a user id, another document
// id (delegated grant) or the literal "public". A document holds at most one
// entry per principal.
type ACLEntry struct {
	Principal  string     `bson:"principal" json:"principal"`
	Permission Permission `bson:"permission" json:"permission"`
}

// DocumentMetadata is the persistent record backing a synced document.
// Ephemeral (eph:) documents are excluded from the metadata store.
type DocumentMetadata struct {
	ID        string     `bson:"_id" json:"id"`
	OwnerID   string     `bson:"ownerId" json:"ownerId"`
	Type      string     `bson:"type,omitempty" json:"type,omitempty"`
	Size      int64      `bson:"size" json:"size"`
	ACL       []ACLEntry `bson:"acl,omitempty" json:"acl,omitempty"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	CreatedAt time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// IsEphemeralID reports whether id names a relay-only document that must
// never reach durable storage.
func IsEphemeralID(id string) bool {
	return strings.HasPrefix(id, EphemeralPrefix)
}

// IsAppID reports whether id names an application document, which is
// private to its owner.
func IsAppID(id string) bool {
	return strings.HasPrefix(id, AppPrefix)
}

package acl

import (
	"context"

	"github.com/docsync/docsync/internal/models"
)

// Store is the document-metadata lookup the resolver depends on. Both
// methods return (nil, nil) / (empty, nil) when the document is unknown so a
// missing owner record resolves to "no access" instead of an error.
type Store interface {
	GetDocument(ctx context.Context, id string) (*models.DocumentMetadata, error)
	GetACL(ctx context.Context, id string) ([]models.ACLEntry, error)
}

// Permissions is the resolved access of one user on one document.
// CanWrite implies CanRead.
type Permissions struct {
	CanRead  bool
	CanWrite bool
}

// DefaultMaxDepth bounds delegation chains; documents can grant permissions
// to other documents, so resolution recurses through the ACL graph.
const DefaultMaxDepth = 10

// Resolver computes effective permissions over documents that may delegate
// grants to other documents. Resolution is cycle-safe: a visited set is
// shared across the whole call tree, and a delegation cycle or an exceeded
// depth resolves that branch to no access rather than failing.
type Resolver struct {
	store    Store
	maxDepth int
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, maxDepth: DefaultMaxDepth}
}

// Resolve computes the permissions of userID on docID. An empty userID
// means an anonymous peer, which can only be granted through "public"
// entries. Ephemeral documents are always open.
func (r *Resolver) Resolve(ctx context.Context, docID, userID string) (Permissions, error) {
	return r.resolve(ctx, docID, userID, make(map[string]bool), 0)
}

func (r *Resolver) resolve(ctx context.Context, docID, userID string, visited map[string]bool, depth int) (Permissions, error) {
	if depth > r.maxDepth || visited[docID] {
		return Permissions{}, nil
	}
	visited[docID] = true

	if models.IsEphemeralID(docID) {
		return Permissions{CanRead: true, CanWrite: true}, nil
	}

	doc, err := r.store.GetDocument(ctx, docID)
	if err != nil {
		return Permissions{}, err
	}
	if doc == nil {
		return Permissions{}, nil
	}
	if userID != "" && doc.OwnerID == userID {
		return Permissions{CanRead: true, CanWrite: true}, nil
	}
	// app documents are owner-only, ACL entries notwithstanding
	if models.IsAppID(docID) {
		return Permissions{}, nil
	}

	entries, err := r.store.GetACL(ctx, docID)
	if err != nil {
		return Permissions{}, err
	}

	var perms Permissions
	for _, e := range entries {
		granted := false
		switch {
		case e.Principal == models.PrincipalPublic:
			granted = true
		case userID != "" && e.Principal == userID:
			granted = true
		default:
			// any other principal is read as a document id: the entry's
			// permission applies when the referenced document grants the
			// user at least read access
			sub, err := r.resolve(ctx, e.Principal, userID, visited, depth+1)
			if err != nil {
				return Permissions{}, err
			}
			granted = sub.CanRead
		}
		if !granted {
			continue
		}
		perms.CanRead = true
		if e.Permission == models.PermissionWrite {
			perms.CanWrite = true
		}
	}
	return perms, nil
}

// CheckPermission reports whether userID holds the required permission
// level on docID.
func (r *Resolver) CheckPermission(ctx context.Context, docID, userID string, required models.Permission) (bool, error) {
	perms, err := r.Resolve(ctx, docID, userID)
	if err != nil {
		return false, err
	}
	if required == models.PermissionWrite {
		return perms.CanWrite, nil
	}
	return perms.CanRead, nil
}

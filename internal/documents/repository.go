package documents

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/docsync/docsync/internal/models"
)

var ErrNotFound = errors.New("document not found")

// Repository provides document-metadata and ACL persistence. GetDocument
// and GetACL return (nil, nil) / (nil, nil) for unknown ids, which is the
// contract the ACL resolver depends on.
type Repository interface {
	GetDocument(ctx context.Context, id string) (*models.DocumentMetadata, error)
	GetACL(ctx context.Context, id string) ([]models.ACLEntry, error)
	Create(ctx context.Context, doc *models.DocumentMetadata) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*models.DocumentMetadata, error)
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
	PutACLEntry(ctx context.Context, id string, entry models.ACLEntry) error
	DeleteACLEntry(ctx context.Context, id, principal string) error
	UpdateSize(ctx context.Context, id string, size int64) error
}

// MongoRepository stores documents with the ACL embedded as an array; the
// one-entry-per-principal invariant is kept by pulling the principal before
// pushing the replacement entry.
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) GetDocument(ctx context.Context, id string) (*models.DocumentMetadata, error) {
	var d models.DocumentMetadata
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (r *MongoRepository) GetACL(ctx context.Context, id string) ([]models.ACLEntry, error) {
	d, err := r.GetDocument(ctx, id)
	if err != nil || d == nil {
		return nil, err
	}
	return d.ACL, nil
}

func (r *MongoRepository) Create(ctx context.Context, doc *models.DocumentMetadata) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := r.col.InsertOne(ctx, doc)
	return err
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.DocumentMetadata, error) {
	cur, err := r.col.Find(ctx, bson.M{"ownerId": ownerID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.DocumentMetadata
	for cur.Next(ctx) {
		var d models.DocumentMetadata
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, cur.Err()
}

func (r *MongoRepository) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{"ownerId": ownerID})
}

func (r *MongoRepository) PutACLEntry(ctx context.Context, id string, entry models.ACLEntry) error {
	// remove any previous grant for the principal, then add the new one
	if _, err := r.col.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$pull": bson.M{"acl": bson.M{"principal": entry.Principal}}}); err != nil {
		return err
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$push": bson.M{"acl": entry},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) DeleteACLEntry(ctx context.Context, id, principal string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$pull": bson.M{"acl": bson.M{"principal": principal}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) UpdateSize(ctx context.Context, id string, size int64) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"size": size, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryRepository is the in-memory Repository used by unit tests and the
// ACL resolver tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	store map[string]*models.DocumentMetadata
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{store: make(map[string]*models.DocumentMetadata)}
}

func (r *MemoryRepository) GetDocument(ctx context.Context, id string) (*models.DocumentMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.store[id]; ok {
		cp := *d
		cp.ACL = append([]models.ACLEntry(nil), d.ACL...)
		return &cp, nil
	}
	return nil, nil
}

func (r *MemoryRepository) GetACL(ctx context.Context, id string) ([]models.ACLEntry, error) {
	d, err := r.GetDocument(ctx, id)
	if err != nil || d == nil {
		return nil, err
	}
	return d.ACL, nil
}

func (r *MemoryRepository) Create(ctx context.Context, doc *models.DocumentMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	cp := *doc
	r.store[doc.ID] = &cp
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[id]; !ok {
		return ErrNotFound
	}
	delete(r.store, id)
	return nil
}

func (r *MemoryRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.DocumentMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.DocumentMetadata
	for _, d := range r.store {
		if d.OwnerID == ownerID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	docs, _ := r.ListByOwner(ctx, ownerID)
	return int64(len(docs)), nil
}

func (r *MemoryRepository) PutACLEntry(ctx context.Context, id string, entry models.ACLEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.store[id]
	if !ok {
		return ErrNotFound
	}
	for i, e := range d.ACL {
		if e.Principal == entry.Principal {
			d.ACL[i] = entry
			return nil
		}
	}
	d.ACL = append(d.ACL, entry)
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) DeleteACLEntry(ctx context.Context, id, principal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.store[id]
	if !ok {
		return ErrNotFound
	}
	for i, e := range d.ACL {
		if e.Principal == principal {
			d.ACL = append(d.ACL[:i], d.ACL[i+1:]...)
			break
		}
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) UpdateSize(ctx context.Context, id string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.store[id]
	if !ok {
		return ErrNotFound
	}
	d.Size = size
	d.UpdatedAt = time.Now().UTC()
	return nil
}

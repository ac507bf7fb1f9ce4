package blob

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/docsync/docsync/internal/models"
)

// MongoRepository stores blob metadata across four collections: blobs,
// blob_claims, document_blob_claims and upload_sessions.
type MongoRepository struct {
	blobs     *mongo.Collection
	claims    *mongo.Collection
	docClaims *mongo.Collection
	sessions  *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		blobs:     db.Collection("blobs"),
		claims:    db.Collection("blob_claims"),
		docClaims: db.Collection("document_blob_claims"),
		sessions:  db.Collection("upload_sessions"),
	}
}

func (r *MongoRepository) GetBlob(ctx context.Context, hash string) (*models.Blob, error) {
	var b models.Blob
	err := r.blobs.FindOne(ctx, bson.M{"_id": hash}).Decode(&b)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *MongoRepository) CreateBlob(ctx context.Context, b *models.Blob) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.blobs.ReplaceOne(ctx, bson.M{"_id": b.Hash}, b, opts)
	return err
}

func (r *MongoRepository) DeleteBlob(ctx context.Context, hash string) error {
	_, err := r.blobs.DeleteOne(ctx, bson.M{"_id": hash})
	return err
}

func (r *MongoRepository) SetReleasedAt(ctx context.Context, hash string, at *time.Time) error {
	update := bson.M{"$set": bson.M{"releasedAt": at}}
	res, err := r.blobs.UpdateOne(ctx, bson.M{"_id": hash}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) ListReleasedBefore(ctx context.Context, cutoff time.Time) ([]*models.Blob, error) {
	filter := bson.M{"releasedAt": bson.M{"$ne": nil, "$lt": cutoff}}
	cursor, err := r.blobs.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*models.Blob
	for cursor.Next(ctx) {
		var b models.Blob
		if err := cursor.Decode(&b); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, cursor.Err()
}

func (r *MongoRepository) CreateClaim(ctx context.Context, c *models.BlobClaim) error {
	filter := bson.M{"hash": c.Hash, "userId": c.UserID}
	n, err := r.claims.CountDocuments(ctx, filter)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrDuplicate
	}
	_, err = r.claims.InsertOne(ctx, c)
	return err
}

func (r *MongoRepository) DeleteClaim(ctx context.Context, hash, userID string) (bool, error) {
	res, err := r.claims.DeleteOne(ctx, bson.M{"hash": hash, "userId": userID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (r *MongoRepository) CreateDocumentClaim(ctx context.Context, c *models.DocumentBlobClaim) error {
	filter := bson.M{"hash": c.Hash, "documentId": c.DocumentID}
	n, err := r.docClaims.CountDocuments(ctx, filter)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrDuplicate
	}
	_, err = r.docClaims.InsertOne(ctx, c)
	return err
}

func (r *MongoRepository) DeleteDocumentClaim(ctx context.Context, hash, documentID string) (bool, error) {
	res, err := r.docClaims.DeleteOne(ctx, bson.M{"hash": hash, "documentId": documentID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (r *MongoRepository) DeleteClaimsForDocument(ctx context.Context, documentID string) ([]string, error) {
	filter := bson.M{"documentId": documentID}
	cursor, err := r.docClaims.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var hashes []string
	for cursor.Next(ctx) {
		var c models.DocumentBlobClaim
		if err := cursor.Decode(&c); err != nil {
			cursor.Close(ctx)
			return nil, err
		}
		hashes = append(hashes, c.Hash)
	}
	if err := cursor.Err(); err != nil {
		cursor.Close(ctx)
		return nil, err
	}
	cursor.Close(ctx)

	if _, err := r.docClaims.DeleteMany(ctx, filter); err != nil {
		return nil, err
	}
	return hashes, nil
}

func (r *MongoRepository) CountClaims(ctx context.Context, hash string) (int64, error) {
	n, err := r.claims.CountDocuments(ctx, bson.M{"hash": hash})
	if err != nil {
		return 0, err
	}
	m, err := r.docClaims.CountDocuments(ctx, bson.M{"hash": hash})
	if err != nil {
		return 0, err
	}
	return n + m, nil
}

func (r *MongoRepository) UserUsage(ctx context.Context, userID string) (int64, error) {
	userSum, err := sumSizes(ctx, r.claims, bson.M{"userId": userID})
	if err != nil {
		return 0, err
	}
	docSum, err := sumSizes(ctx, r.docClaims, bson.M{"ownerId": userID})
	if err != nil {
		return 0, err
	}
	return userSum + docSum, nil
}

func sumSizes(ctx context.Context, coll *mongo.Collection, match bson.M) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$size"}}}},
	}
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var result struct {
		Total int64 `bson:"total"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&result); err != nil {
			return 0, err
		}
	}
	return result.Total, cursor.Err()
}

func (r *MongoRepository) CreateSession(ctx context.Context, s *models.UploadSession) error {
	_, err := r.sessions.InsertOne(ctx, s)
	return err
}

func (r *MongoRepository) GetSession(ctx context.Context, id string) (*models.UploadSession, error) {
	var s models.UploadSession
	err := r.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *MongoRepository) UpdateSession(ctx context.Context, s *models.UploadSession) error {
	res, err := r.sessions.ReplaceOne(ctx, bson.M{"_id": s.ID}, s)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.sessions.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

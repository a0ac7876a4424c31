package mongodb

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EmailMetadataAdapter implements out.EmailMetadataRepository.
type EmailMetadataAdapter struct {
	collection *mongo.Collection
}

func NewEmailMetadataAdapter(db *mongo.Database) *EmailMetadataAdapter {
	return &EmailMetadataAdapter{collection: db.Collection(collectionEmailMetadata)}
}

// EnsureIndexes scopes uniqueness to (user_id, message_id): message ids are
// only unique within one mailbox.
func (a *EmailMetadataAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "received_at", Value: -1}}},
		{
			Keys: bson.D{
				{Key: "subject", Value: "text"},
				{Key: "from", Value: "text"},
				{Key: "snippet", Value: "text"},
			},
		},
	})
	return err
}

type emailMetadataDocument struct {
	UserID    string    `bson:"user_id"`
	MessageID string    `bson:"message_id"`
	ThreadID  string    `bson:"thread_id"`
	Subject   string    `bson:"subject"`
	From      string    `bson:"from"`
	Snippet   string    `bson:"snippet"`
	Date      time.Time `bson:"date"`
	IsRead    bool      `bson:"is_read"`
	LabelIDs  []string  `bson:"label_ids"`
	SyncedAt  time.Time `bson:"synced_at"`

	ReceivedAt time.Time `bson:"received_at,omitempty"`
}

func (d *emailMetadataDocument) toDomain() *domain.EmailMetadata {
	return &domain.EmailMetadata{
		UserID:    d.UserID,
		MessageID: d.MessageID,
		ThreadID:  d.ThreadID,
		Subject:   d.Subject,
		From:      d.From,
		Snippet:   d.Snippet,
		Date:      d.Date,
		IsRead:    d.IsRead,
		LabelIDs:  d.LabelIDs,
		SyncedAt:  d.SyncedAt,

		ReceivedAt: d.ReceivedAt,
	}
}

// LatestReceivedAt reads the sync watermark. Rows cached before receive
// times were stored are ignored.
func (a *EmailMetadataAdapter) LatestReceivedAt(ctx context.Context, userID string) (*time.Time, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "received_at", Value: -1}}).
		SetProjection(bson.M{"received_at": 1})

	var doc struct {
		ReceivedAt time.Time `bson:"received_at"`
	}
	filter := bson.M{"user_id": userID, "received_at": bson.M{"$exists": true}}
	if err := a.collection.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	return &doc.ReceivedAt, nil
}

// upsertModels builds one keyed upsert per item.
func upsertModels(items []*domain.EmailMetadata, now time.Time) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(items))
	for _, m := range items {
		labels := m.LabelIDs
		if labels == nil {
			labels = []string{}
		}
		filter := bson.M{"user_id": m.UserID, "message_id": m.MessageID}
		update := bson.M{"$set": bson.M{
			"thread_id": m.ThreadID,
			"subject":   m.Subject,
			"from":      m.From,
			"snippet":   m.Snippet,
			"date":      m.Date,
			"is_read":   m.IsRead,
			"label_ids": labels,
			"synced_at": now,

			"received_at": m.ReceivedAt,
		}}
		models = append(models, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}
	return models
}

func (a *EmailMetadataAdapter) BulkUpsert(ctx context.Context, items []*domain.EmailMetadata) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	opts := options.BulkWrite().SetOrdered(false)
	res, err := a.collection.BulkWrite(ctx, upsertModels(items, time.Now().UTC()), opts)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk upsert metadata: %w", err)
	}
	return res.UpsertedCount + res.ModifiedCount, nil
}

// searchFilter matches the literal query anywhere in subject, sender or snippet.
func searchFilter(userID, query string) bson.M {
	pattern := primitiveRegex(query)
	return bson.M{
		"user_id": userID,
		"$or": bson.A{
			bson.M{"subject": pattern},
			bson.M{"from": pattern},
			bson.M{"snippet": pattern},
		},
	}
}

func primitiveRegex(query string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
}

func (a *EmailMetadataAdapter) Search(ctx context.Context, userID, query string, limit int) ([]*domain.EmailMetadata, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, searchFilter(userID, query), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search metadata: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []emailMetadataDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	results := make([]*domain.EmailMetadata, len(docs))
	for i := range docs {
		results[i] = docs[i].toDomain()
	}
	return results, nil
}

var _ out.EmailMetadataRepository = (*EmailMetadataAdapter)(nil)

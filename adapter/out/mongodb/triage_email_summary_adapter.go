package mongodb

import (
	"context"
	"fmt"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EmailSummaryAdapter implements out.EmailSummaryRepository.
type EmailSummaryAdapter struct {
	collection *mongo.Collection
}

func NewEmailSummaryAdapter(db *mongo.Database) *EmailSummaryAdapter {
	return &EmailSummaryAdapter{collection: db.Collection(collectionEmailSummaries)}
}

func (a *EmailSummaryAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	return err
}

type emailSummaryDocument struct {
	UserID               string    `bson:"user_id"`
	MessageID            string    `bson:"message_id"`
	Summary              string    `bson:"summary"`
	OriginalContentShort string    `bson:"original_content_short"`
	CreatedAt            time.Time `bson:"created_at"`
}

func (a *EmailSummaryAdapter) Get(ctx context.Context, userID, messageID string) (*domain.EmailSummary, error) {
	var doc emailSummaryDocument
	err := a.collection.FindOne(ctx, bson.M{"user_id": userID, "message_id": messageID}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return &domain.EmailSummary{
		UserID:               doc.UserID,
		MessageID:            doc.MessageID,
		Summary:              doc.Summary,
		OriginalContentShort: doc.OriginalContentShort,
		CreatedAt:            doc.CreatedAt,
	}, nil
}

func (a *EmailSummaryAdapter) Create(ctx context.Context, s *domain.EmailSummary) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	doc := emailSummaryDocument{
		UserID:               s.UserID,
		MessageID:            s.MessageID,
		Summary:              s.Summary,
		OriginalContentShort: s.OriginalContentShort,
		CreatedAt:            s.CreatedAt,
	}
	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to save summary: %w", translateWriteError(err))
	}
	return nil
}

var _ out.EmailSummaryRepository = (*EmailSummaryAdapter)(nil)

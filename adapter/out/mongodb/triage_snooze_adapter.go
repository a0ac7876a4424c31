package mongodb

import (
	"context"
	"fmt"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SnoozeAdapter implements out.SnoozeRepository on the snooze_logs collection.
type SnoozeAdapter struct {
	collection *mongo.Collection
}

func NewSnoozeAdapter(db *mongo.Database) *SnoozeAdapter {
	return &SnoozeAdapter{collection: db.Collection(collectionSnoozeLogs)}
}

// snoozeIndexModels backs the due scan, the per-user listing and stale intent
// recovery. The partial unique index allows one open snooze per message.
func snoozeIndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "wake_up_time", Value: 1},
				{Key: "next_attempt_at", Value: 1},
			},
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}, {Key: "message_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().
				SetName("uq_snooze_logs_open").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"open": true}),
		},
	}
}

func (a *SnoozeAdapter) EnsureIndexes(ctx context.Context) error {
	// Rows written before the open flag existed.
	_, err := a.collection.UpdateMany(ctx, bson.M{
		"status": bson.M{"$in": bson.A{string(domain.SnoozeStatusPending), string(domain.SnoozeStatusActive)}},
		"open":   bson.M{"$exists": false},
	}, bson.M{"$set": bson.M{"open": true}})
	if err != nil {
		return fmt.Errorf("failed to backfill open snoozes: %w", err)
	}
	_, err = a.collection.Indexes().CreateMany(ctx, snoozeIndexModels())
	return err
}

type snoozeDocument struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	UserID         string             `bson:"user_id"`
	MessageID      string             `bson:"message_id"`
	WakeUpTime     time.Time          `bson:"wake_up_time"`
	Status         string             `bson:"status"`
	Open           bool               `bson:"open,omitempty"`
	SnoozedLabelID string             `bson:"snoozed_label_id,omitempty"`
	RestoreLabels  []string           `bson:"restore_label_ids"`
	Attempts       int                `bson:"attempts"`
	NextAttemptAt  *time.Time         `bson:"next_attempt_at,omitempty"`
	LastError      string             `bson:"last_error,omitempty"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

func (d *snoozeDocument) toDomain() *domain.SnoozeLog {
	return &domain.SnoozeLog{
		ID:              d.ID.Hex(),
		UserID:          d.UserID,
		MessageID:       d.MessageID,
		WakeUpTime:      d.WakeUpTime,
		Status:          domain.SnoozeStatus(d.Status),
		SnoozedLabelID:  d.SnoozedLabelID,
		RestoreLabelIDs: d.RestoreLabels,
		Attempts:        d.Attempts,
		NextAttemptAt:   d.NextAttemptAt,
		LastError:       d.LastError,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func (a *SnoozeAdapter) Create(ctx context.Context, log *domain.SnoozeLog) error {
	now := time.Now().UTC()
	doc := snoozeDocument{
		ID:             primitive.NewObjectID(),
		UserID:         log.UserID,
		MessageID:      log.MessageID,
		WakeUpTime:     log.WakeUpTime.UTC(),
		Status:         string(log.Status),
		Open:           log.Status.IsOpen(),
		SnoozedLabelID: log.SnoozedLabelID,
		RestoreLabels:  log.RestoreLabelIDs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create snooze log: %w", translateWriteError(err))
	}
	log.ID = doc.ID.Hex()
	log.CreatedAt = now
	log.UpdatedAt = now
	return nil
}

func (a *SnoozeAdapter) GetByID(ctx context.Context, id string) (*domain.SnoozeLog, error) {
	oid, ok := objectID(id)
	if !ok {
		return nil, nil
	}
	return a.findOne(ctx, bson.M{"_id": oid})
}

func (a *SnoozeAdapter) FindActive(ctx context.Context, userID, messageID string) (*domain.SnoozeLog, error) {
	return a.findOne(ctx, bson.M{
		"user_id":    userID,
		"message_id": messageID,
		"status":     string(domain.SnoozeStatusActive),
	})
}

// statusUpdate moves a row to status and keeps the open flag in step, so the
// partial unique index stops covering rows that leave PENDING/ACTIVE.
func statusUpdate(status domain.SnoozeStatus, set bson.M) bson.M {
	set["status"] = string(status)
	set["updated_at"] = time.Now().UTC()
	if status.IsOpen() {
		set["open"] = true
		return bson.M{"$set": set}
	}
	return bson.M{"$set": set, "$unset": bson.M{"open": ""}}
}

func (a *SnoozeAdapter) Transition(ctx context.Context, id string, from, to domain.SnoozeStatus) (bool, error) {
	return a.updateIfStatus(ctx, id, from, statusUpdate(to, bson.M{}))
}

func (a *SnoozeAdapter) Reschedule(ctx context.Context, id string, wakeUpTime time.Time, snoozedLabelID string) (bool, error) {
	return a.updateIfStatus(ctx, id, domain.SnoozeStatusActive, bson.M{
		"$set": bson.M{
			"wake_up_time":     wakeUpTime.UTC(),
			"snoozed_label_id": snoozedLabelID,
			"attempts":         0,
			"updated_at":       time.Now().UTC(),
		},
		"$unset": bson.M{"next_attempt_at": "", "last_error": ""},
	})
}

func (a *SnoozeAdapter) RecordAttempt(ctx context.Context, id string, from domain.SnoozeStatus, attempt domain.WakeAttempt) (bool, error) {
	return a.updateIfStatus(ctx, id, from, statusUpdate(attempt.Status, bson.M{
		"attempts":        attempt.Attempts,
		"next_attempt_at": attempt.NextAttemptAt.UTC(),
		"last_error":      attempt.LastError,
	}))
}

func (a *SnoozeAdapter) DeletePending(ctx context.Context, id string) error {
	oid, ok := objectID(id)
	if !ok {
		return nil
	}
	_, err := a.collection.DeleteOne(ctx, bson.M{"_id": oid, "status": string(domain.SnoozeStatusPending)})
	if err != nil {
		return fmt.Errorf("failed to delete snooze intent: %w", err)
	}
	return nil
}

// dueFilter selects ACTIVE rows past their wake time whose retry window, if any, has opened.
func dueFilter(now time.Time) bson.M {
	return bson.M{
		"status":       string(domain.SnoozeStatusActive),
		"wake_up_time": bson.M{"$lte": now},
		"$or": bson.A{
			bson.M{"next_attempt_at": bson.M{"$exists": false}},
			bson.M{"next_attempt_at": nil},
			bson.M{"next_attempt_at": bson.M{"$lte": now}},
		},
	}
}

func (a *SnoozeAdapter) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.SnoozeLog, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "wake_up_time", Value: 1}}).
		SetLimit(int64(limit))
	return a.find(ctx, dueFilter(now.UTC()), opts)
}

// staleFilter selects PENDING rows older than the grace period whose retry
// window, if any, has opened.
func staleFilter(olderThan, now time.Time) bson.M {
	return bson.M{
		"status":     string(domain.SnoozeStatusPending),
		"created_at": bson.M{"$lt": olderThan},
		"$or": bson.A{
			bson.M{"next_attempt_at": bson.M{"$exists": false}},
			bson.M{"next_attempt_at": nil},
			bson.M{"next_attempt_at": bson.M{"$lte": now}},
		},
	}
}

func (a *SnoozeAdapter) ListStalePending(ctx context.Context, olderThan, now time.Time, limit int) ([]*domain.SnoozeLog, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))
	return a.find(ctx, staleFilter(olderThan.UTC(), now.UTC()), opts)
}

func (a *SnoozeAdapter) ListActiveByUser(ctx context.Context, userID string, skip, limit int) ([]*domain.SnoozeLog, int64, error) {
	filter := bson.M{"user_id": userID, "status": string(domain.SnoozeStatusActive)}

	total, err := a.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count snooze logs: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "wake_up_time", Value: 1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	logs, err := a.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (a *SnoozeAdapter) updateIfStatus(ctx context.Context, id string, status domain.SnoozeStatus, update bson.M) (bool, error) {
	oid, ok := objectID(id)
	if !ok {
		return false, nil
	}
	res, err := a.collection.UpdateOne(ctx, bson.M{"_id": oid, "status": string(status)}, update)
	if err != nil {
		return false, fmt.Errorf("failed to update snooze log: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (a *SnoozeAdapter) findOne(ctx context.Context, filter bson.M) (*domain.SnoozeLog, error) {
	var doc snoozeDocument
	if err := a.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snooze log: %w", err)
	}
	return doc.toDomain(), nil
}

func (a *SnoozeAdapter) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.SnoozeLog, error) {
	cursor, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query snooze logs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []snoozeDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode snooze logs: %w", err)
	}

	logs := make([]*domain.SnoozeLog, len(docs))
	for i := range docs {
		logs[i] = docs[i].toDomain()
	}
	return logs, nil
}

var _ out.SnoozeRepository = (*SnoozeAdapter)(nil)

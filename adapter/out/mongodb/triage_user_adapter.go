package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserAdapter implements out.UserRepository.
type UserAdapter struct {
	collection *mongo.Collection
}

func NewUserAdapter(db *mongo.Database) *UserAdapter {
	return &UserAdapter{collection: db.Collection(collectionUsers)}
}

func (a *UserAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	return err
}

type userDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Email     string             `bson:"email"`
	Password  string             `bson:"password"`
	Name      string             `bson:"name"`
	Avatar    string             `bson:"avatar,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func (d *userDocument) toDomain() *domain.User {
	return &domain.User{
		ID:        d.ID.Hex(),
		Email:     d.Email,
		Password:  d.Password,
		Name:      d.Name,
		Avatar:    d.Avatar,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *UserAdapter) Create(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	doc := userDocument{
		ID:        primitive.NewObjectID(),
		Email:     normalizeEmail(user.Email),
		Password:  user.Password,
		Name:      user.Name,
		Avatar:    user.Avatar,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create user: %w", translateWriteError(err))
	}
	user.ID = doc.ID.Hex()
	user.Email = doc.Email
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (a *UserAdapter) GetByID(ctx context.Context, id string) (*domain.User, error) {
	oid, ok := objectID(id)
	if !ok {
		return nil, nil
	}
	return a.findOne(ctx, bson.M{"_id": oid})
}

func (a *UserAdapter) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return a.findOne(ctx, bson.M{"email": normalizeEmail(email)})
}

func (a *UserAdapter) UpdateProfile(ctx context.Context, id, name, avatar string) error {
	oid, ok := objectID(id)
	if !ok {
		return fmt.Errorf("invalid user id %q", id)
	}
	set := bson.M{"updated_at": time.Now().UTC()}
	if name != "" {
		set["name"] = name
	}
	if avatar != "" {
		set["avatar"] = avatar
	}
	if _, err := a.collection.UpdateByID(ctx, oid, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (a *UserAdapter) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var doc userDocument
	if err := a.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return doc.toDomain(), nil
}

var _ out.UserRepository = (*UserAdapter)(nil)

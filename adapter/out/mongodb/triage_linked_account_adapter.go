package mongodb

import (
	"context"
	"fmt"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/crypto"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LinkedAccountAdapter implements out.LinkedAccountRepository.
// Tokens are sealed with cipher before they reach the collection; a nil
// cipher stores them as-is.
type LinkedAccountAdapter struct {
	collection *mongo.Collection
	cipher     *crypto.TokenCipher
}

func NewLinkedAccountAdapter(db *mongo.Database, cipher *crypto.TokenCipher) *LinkedAccountAdapter {
	return &LinkedAccountAdapter{collection: db.Collection(collectionLinkedAccounts), cipher: cipher}
}

func (a *LinkedAccountAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "provider_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}}},
	})
	return err
}

type linkedAccountDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	UserID       string             `bson:"user_id"`
	Provider     string             `bson:"provider"`
	ProviderID   string             `bson:"provider_id"`
	Email        string             `bson:"email"`
	AccessToken  string             `bson:"access_token"`
	RefreshToken string             `bson:"refresh_token"`
	TokenExpiry  time.Time          `bson:"token_expiry"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}

func (a *LinkedAccountAdapter) toDomain(d *linkedAccountDocument) (*domain.LinkedAccount, error) {
	access, err := a.cipher.Open(d.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	refresh, err := a.cipher.Open(d.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	return &domain.LinkedAccount{
		ID:           d.ID.Hex(),
		UserID:       d.UserID,
		Provider:     domain.OAuthProvider(d.Provider),
		ProviderID:   d.ProviderID,
		Email:        d.Email,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenExpiry:  d.TokenExpiry,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

func (a *LinkedAccountAdapter) Create(ctx context.Context, account *domain.LinkedAccount) error {
	access, err := a.cipher.Seal(account.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := a.cipher.Seal(account.RefreshToken)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := linkedAccountDocument{
		ID:           primitive.NewObjectID(),
		UserID:       account.UserID,
		Provider:     string(account.Provider),
		ProviderID:   account.ProviderID,
		Email:        account.Email,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenExpiry:  account.TokenExpiry,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create linked account: %w", translateWriteError(err))
	}
	account.ID = doc.ID.Hex()
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

func (a *LinkedAccountAdapter) GetByUser(ctx context.Context, userID string, provider domain.OAuthProvider) (*domain.LinkedAccount, error) {
	return a.findOne(ctx, bson.M{"user_id": userID, "provider": string(provider)})
}

func (a *LinkedAccountAdapter) GetByProviderID(ctx context.Context, provider domain.OAuthProvider, providerID string) (*domain.LinkedAccount, error) {
	return a.findOne(ctx, bson.M{"provider": string(provider), "provider_id": providerID})
}

func (a *LinkedAccountAdapter) ListByProvider(ctx context.Context, provider domain.OAuthProvider) ([]*domain.LinkedAccount, error) {
	cursor, err := a.collection.Find(ctx, bson.M{"provider": string(provider)})
	if err != nil {
		return nil, fmt.Errorf("failed to list linked accounts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []linkedAccountDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode linked accounts: %w", err)
	}

	return a.decodeAll(docs), nil
}

// decodeAll keeps accounts whose tokens cannot be opened (rotated key, or a
// sealed row read without one) in the list, flagged, so one bad row does not
// hide the others.
func (a *LinkedAccountAdapter) decodeAll(docs []linkedAccountDocument) []*domain.LinkedAccount {
	accounts := make([]*domain.LinkedAccount, 0, len(docs))
	for i := range docs {
		acc, err := a.toDomain(&docs[i])
		if err != nil {
			d := &docs[i]
			acc = &domain.LinkedAccount{
				ID:             d.ID.Hex(),
				UserID:         d.UserID,
				Provider:       domain.OAuthProvider(d.Provider),
				ProviderID:     d.ProviderID,
				Email:          d.Email,
				CreatedAt:      d.CreatedAt,
				UpdatedAt:      d.UpdatedAt,
				CredentialsErr: err,
			}
		}
		accounts = append(accounts, acc)
	}
	return accounts
}

func (a *LinkedAccountAdapter) UpdateTokens(ctx context.Context, id string, update domain.TokenUpdate) error {
	oid, ok := objectID(id)
	if !ok {
		return fmt.Errorf("invalid linked account id %q", id)
	}

	access, err := a.cipher.Seal(update.AccessToken)
	if err != nil {
		return err
	}
	set := bson.M{
		"access_token": access,
		"token_expiry": update.Expiry,
		"updated_at":   time.Now().UTC(),
	}
	if update.RefreshToken != "" {
		refresh, err := a.cipher.Seal(update.RefreshToken)
		if err != nil {
			return err
		}
		set["refresh_token"] = refresh
	}

	res, err := a.collection.UpdateByID(ctx, oid, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("linked account %s not found", id)
	}
	return nil
}

func (a *LinkedAccountAdapter) findOne(ctx context.Context, filter bson.M) (*domain.LinkedAccount, error) {
	var doc linkedAccountDocument
	if err := a.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get linked account: %w", err)
	}
	return a.toDomain(&doc)
}

var _ out.LinkedAccountRepository = (*LinkedAccountAdapter)(nil)

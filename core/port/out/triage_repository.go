// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"errors"
	"time"

	"triage_server/core/domain"
)

// ErrDuplicateKey is returned by repositories when a unique index rejects a write.
var ErrDuplicateKey = errors.New("duplicate key")

// Lookups return (nil, nil) when nothing matches.

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateProfile(ctx context.Context, id, name, avatar string) error
}

type LinkedAccountRepository interface {
	Create(ctx context.Context, account *domain.LinkedAccount) error
	GetByUser(ctx context.Context, userID string, provider domain.OAuthProvider) (*domain.LinkedAccount, error)
	GetByProviderID(ctx context.Context, provider domain.OAuthProvider, providerID string) (*domain.LinkedAccount, error)
	ListByProvider(ctx context.Context, provider domain.OAuthProvider) ([]*domain.LinkedAccount, error)
	UpdateTokens(ctx context.Context, id string, update domain.TokenUpdate) error
}

type EmailMetadataRepository interface {
	// LatestReceivedAt returns the newest cached receive time for the user, nil when the cache is empty.
	LatestReceivedAt(ctx context.Context, userID string) (*time.Time, error)
	// BulkUpsert writes all items in one round trip keyed by (user, message id).
	BulkUpsert(ctx context.Context, items []*domain.EmailMetadata) (int64, error)
	// Search matches query case-insensitively against subject, sender and snippet, newest first.
	Search(ctx context.Context, userID, query string, limit int) ([]*domain.EmailMetadata, error)
}

type EmailSummaryRepository interface {
	Get(ctx context.Context, userID, messageID string) (*domain.EmailSummary, error)
	// Create returns ErrDuplicateKey when a summary already exists.
	Create(ctx context.Context, summary *domain.EmailSummary) error
}

// SnoozeRepository persists snooze logs. Every mutation after Create is a
// compare-and-set on the current status and reports whether it matched.
type SnoozeRepository interface {
	Create(ctx context.Context, log *domain.SnoozeLog) error
	GetByID(ctx context.Context, id string) (*domain.SnoozeLog, error)
	// FindActive returns the user's ACTIVE snooze of a message.
	FindActive(ctx context.Context, userID, messageID string) (*domain.SnoozeLog, error)
	Transition(ctx context.Context, id string, from, to domain.SnoozeStatus) (bool, error)
	// Reschedule moves an ACTIVE row to a new wake time and clears retry bookkeeping.
	Reschedule(ctx context.Context, id string, wakeUpTime time.Time, snoozedLabelID string) (bool, error)
	// RecordAttempt stores a failed remote call on a row still in status from.
	RecordAttempt(ctx context.Context, id string, from domain.SnoozeStatus, attempt domain.WakeAttempt) (bool, error)
	// DeletePending removes an unconfirmed intent.
	DeletePending(ctx context.Context, id string) error
	// ListDue returns ACTIVE rows whose wake time and retry time have passed, oldest wake first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.SnoozeLog, error)
	// ListStalePending returns PENDING rows created before olderThan whose
	// retry time, if any, has passed by now.
	ListStalePending(ctx context.Context, olderThan, now time.Time, limit int) ([]*domain.SnoozeLog, error)
	// ListActiveByUser pages the user's ACTIVE rows by wake time.
	ListActiveByUser(ctx context.Context, userID string, skip, limit int) ([]*domain.SnoozeLog, int64, error)
}

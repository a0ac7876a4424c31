package domain

import "time"

type OAuthProvider string

const (
	ProviderGoogle OAuthProvider = "google"
)

// LinkedAccount binds a user to an external OAuth identity.
// (Provider, ProviderID) is unique.
type LinkedAccount struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId"`
	Provider     OAuthProvider `json:"provider"`
	ProviderID   string        `json:"providerId"`
	Email        string        `json:"email"`
	AccessToken  string        `json:"-"`
	RefreshToken string        `json:"-"`
	TokenExpiry  time.Time     `json:"tokenExpiry"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`

	// CredentialsErr is set on listed accounts whose stored tokens could not
	// be read. Such an account is reported but never used.
	CredentialsErr error `json:"-"`
}

// TokenUpdate is the set of credential fields written after an exchange or refresh.
// An empty RefreshToken leaves the stored one untouched.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

package out

import (
	"context"

	"golang.org/x/oauth2"
)

// GoogleIdentity is the result of exchanging an authorization code.
type GoogleIdentity struct {
	Token   *oauth2.Token
	Subject string
	Email   string
	Name    string
	Picture string

	// EmailVerified mirrors the id token's email_verified claim.
	EmailVerified bool
}

// IdentityProvider performs the OAuth2 code exchange and token refresh.
type IdentityProvider interface {
	Exchange(ctx context.Context, code string) (*GoogleIdentity, error)
	// Refresh always hits the token endpoint when token is expired and
	// returns the token unchanged otherwise.
	Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
}

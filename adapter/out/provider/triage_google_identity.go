package provider

import (
	"context"
	"errors"
	"fmt"

	"triage_server/core/port/out"
	"triage_server/pkg/apperr"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/idtoken"
)

// GoogleConfig holds the OAuth client registration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleIdentity implements out.IdentityProvider with the Google OAuth2 endpoints.
type GoogleIdentity struct {
	config *oauth2.Config
}

func NewGoogleIdentity(cfg *GoogleConfig) *GoogleIdentity {
	return &GoogleIdentity{config: &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			"openid", "email", "profile",
			gmail.GmailModifyScope,
			gmail.GmailSendScope,
			gmail.GmailLabelsScope,
		},
		Endpoint: google.Endpoint,
	}}
}

// AuthURL is used by clients that start the consent flow server side.
func (g *GoogleIdentity) AuthURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GoogleIdentity) Exchange(ctx context.Context, code string) (*out.GoogleIdentity, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.OAuthFailed("google", err)
	}

	rawID, _ := token.Extra("id_token").(string)
	if rawID == "" {
		return nil, apperr.OAuthFailed("google", errors.New("token response has no id_token"))
	}
	// The id token comes straight from the token endpoint over TLS.
	payload, err := idtoken.ParsePayload(rawID)
	if err != nil {
		return nil, apperr.OAuthFailed("google", fmt.Errorf("parse id_token: %w", err))
	}

	identity := &out.GoogleIdentity{
		Token:   token,
		Subject: payload.Subject,
		Email:   claimString(payload.Claims, "email"),
		Name:    claimString(payload.Claims, "name"),
		Picture: claimString(payload.Claims, "picture"),

		EmailVerified: claimBool(payload.Claims, "email_verified"),
	}
	if identity.Subject == "" || identity.Email == "" {
		return nil, apperr.OAuthFailed("google", errors.New("id_token is missing sub or email"))
	}
	return identity, nil
}

// Refresh returns token unchanged while it is valid. Otherwise it calls the
// token endpoint with the refresh token.
func (g *GoogleIdentity) Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if token.Valid() {
		return token, nil
	}
	if token.RefreshToken == "" {
		return nil, apperr.Unauthorized("Google authorization expired, please sign in again")
	}

	// Dropping the access token forces the source to hit the endpoint.
	src := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: token.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = token.RefreshToken
	}
	return fresh, nil
}

func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && (re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client") {
		return apperr.Unauthorized("Google authorization expired, please sign in again").WithError(err)
	}
	return out.NewProviderError(providerName, out.ProviderErrServer, "token refresh failed", err, true)
}

func claimString(claims map[string]interface{}, key string) string {
	v, _ := claims[key].(string)
	return v
}

// claimBool accepts both JSON booleans and the "true" string some issuers send.
func claimBool(claims map[string]interface{}, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

var _ out.IdentityProvider = (*GoogleIdentity)(nil)

// Package auth implements local and Google sign-in and JWT issuance.
package auth

import (
	"errors"
	"fmt"
	"time"

	"triage_server/core/port/in"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload for both token kinds.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access and refresh tokens.
// The two kinds use different secrets so one cannot stand in for the other.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

func NewTokenIssuer(cfg TokenConfig) *TokenIssuer {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &TokenIssuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
}

func (t *TokenIssuer) IssuePair(userID, email string) (*in.TokenPair, error) {
	access, err := t.IssueAccess(userID, email)
	if err != nil {
		return nil, err
	}
	refresh, err := t.sign(userID, email, t.refreshSecret, t.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &in.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (t *TokenIssuer) IssueAccess(userID, email string) (string, error) {
	return t.sign(userID, email, t.accessSecret, t.accessTTL)
}

func (t *TokenIssuer) ParseAccess(token string) (*Claims, error) {
	return t.parse(token, t.accessSecret)
}

func (t *TokenIssuer) ParseRefresh(token string) (*Claims, error) {
	return t.parse(token, t.refreshSecret)
}

func (t *TokenIssuer) sign(userID, email string, secret []byte, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (t *TokenIssuer) parse(token string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

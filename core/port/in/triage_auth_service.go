// Package in defines inbound ports (driving ports) for the application.
package in

import (
	"context"

	"triage_server/core/domain"
)

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type AuthService interface {
	Login(ctx context.Context, email, password string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	LoginWithGoogle(ctx context.Context, code string) (*TokenPair, error)
}

type UserService interface {
	Register(ctx context.Context, req *RegisterRequest) error
	Me(ctx context.Context, userID string) (*domain.User, error)
}

package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const initialSyncTimeout = 5 * time.Minute

// UserSyncer runs a one-off sync for a freshly linked account.
type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) (int64, error)
}

// Service implements in.AuthService and in.UserService.
type Service struct {
	users    out.UserRepository
	accounts out.LinkedAccountRepository
	identity out.IdentityProvider
	tokens   *TokenIssuer
	syncer   UserSyncer

	// runAsync starts the post-login sync. Tests replace it to run inline.
	runAsync func(func())
}

func NewService(
	users out.UserRepository,
	accounts out.LinkedAccountRepository,
	identity out.IdentityProvider,
	tokens *TokenIssuer,
	syncer UserSyncer,
) *Service {
	return &Service{
		users:    users,
		accounts: accounts,
		identity: identity,
		tokens:   tokens,
		syncer:   syncer,
		runAsync: func(fn func()) { go fn() },
	}
}

func (s *Service) Register(ctx context.Context, req *in.RegisterRequest) error {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return apperr.ValidationFailed("email and password are required")
	}
	if len(req.Password) < 6 {
		return apperr.InvalidInput("password", "must be at least 6 characters")
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return apperr.DatabaseError("find user", err)
	}
	if existing != nil {
		return apperr.AlreadyExists("Email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return apperr.InternalWithError(err)
	}

	user := &domain.User{Email: email, Password: string(hash), Name: strings.TrimSpace(req.Name)}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, out.ErrDuplicateKey) {
			return apperr.AlreadyExists("Email already exists")
		}
		return apperr.DatabaseError("create user", err)
	}

	logger.Info("[AuthService] registered user %s", user.ID)
	return nil
}

func (s *Service) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.DatabaseError("find user", err)
	}
	if user == nil {
		return nil, apperr.NotFound("user")
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*in.TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, apperr.DatabaseError("find user", err)
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, apperr.Unauthorized("Invalid email or password")
	}
	return s.tokens.IssuePair(user.ID, user.Email)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return "", apperr.InvalidToken("Refresh token is invalid or expired")
	}
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return "", apperr.DatabaseError("find user", err)
	}
	if user == nil {
		return "", apperr.InvalidToken("Refresh token is invalid or expired")
	}
	return s.tokens.IssueAccess(user.ID, user.Email)
}

// LoginWithGoogle exchanges the code, links the Google account to a local
// user (creating one if needed) and kicks off an initial sync.
func (s *Service) LoginWithGoogle(ctx context.Context, code string) (*in.TokenPair, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperr.BadRequest("Authorization code is required")
	}

	identity, err := s.identity.Exchange(ctx, code)
	if err != nil {
		logger.WithError(err).Warn("[AuthService] google code exchange failed")
		return nil, apperr.Unauthorized("Google authentication failed")
	}

	user, err := s.linkGoogleAccount(ctx, identity)
	if err != nil {
		return nil, err
	}

	if s.syncer != nil {
		userID := user.ID
		s.runAsync(func() {
			syncCtx, cancel := context.WithTimeout(context.Background(), initialSyncTimeout)
			defer cancel()
			n, err := s.syncer.SyncUser(syncCtx, userID)
			if err != nil {
				logger.WithError(err).Warn("[AuthService] initial sync failed for user %s", userID)
				return
			}
			logger.Info("[AuthService] initial sync for user %s stored %d messages", userID, n)
		})
	}

	return s.tokens.IssuePair(user.ID, user.Email)
}

func (s *Service) linkGoogleAccount(ctx context.Context, identity *out.GoogleIdentity) (*domain.User, error) {
	update := domain.TokenUpdate{
		AccessToken:  identity.Token.AccessToken,
		RefreshToken: identity.Token.RefreshToken,
		Expiry:       identity.Token.Expiry,
	}

	account, err := s.accounts.GetByProviderID(ctx, domain.ProviderGoogle, identity.Subject)
	if err != nil {
		return nil, apperr.DatabaseError("find linked account", err)
	}
	if account != nil {
		if err := s.accounts.UpdateTokens(ctx, account.ID, update); err != nil {
			return nil, apperr.DatabaseError("update linked account", err)
		}
		user, err := s.users.GetByID(ctx, account.UserID)
		if err != nil {
			return nil, apperr.DatabaseError("find user", err)
		}
		if user == nil {
			return nil, apperr.Unauthorized("Google authentication failed")
		}
		return user, nil
	}

	user, err := s.findOrCreateGoogleUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	account = &domain.LinkedAccount{
		UserID:       user.ID,
		Provider:     domain.ProviderGoogle,
		ProviderID:   identity.Subject,
		Email:        strings.ToLower(identity.Email),
		AccessToken:  update.AccessToken,
		RefreshToken: update.RefreshToken,
		TokenExpiry:  update.Expiry,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if !errors.Is(err, out.ErrDuplicateKey) {
			return nil, apperr.DatabaseError("create linked account", err)
		}
		// A concurrent login linked it first; refresh its tokens instead.
		existing, getErr := s.accounts.GetByProviderID(ctx, domain.ProviderGoogle, identity.Subject)
		if getErr != nil || existing == nil {
			return nil, apperr.DatabaseError("create linked account", err)
		}
		if err := s.accounts.UpdateTokens(ctx, existing.ID, update); err != nil {
			return nil, apperr.DatabaseError("update linked account", err)
		}
	}
	return user, nil
}

func (s *Service) findOrCreateGoogleUser(ctx context.Context, identity *out.GoogleIdentity) (*domain.User, error) {
	email := strings.ToLower(identity.Email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.DatabaseError("find user", err)
	}
	if user != nil {
		// Only a verified address may take over an existing account.
		if !identity.EmailVerified {
			return nil, apperr.Forbidden("Google email is not verified, sign in with your password").
				WithDetail("provider", string(domain.ProviderGoogle))
		}
		if user.Name == "" || user.Avatar == "" {
			name, avatar := firstNonEmpty(user.Name, identity.Name), firstNonEmpty(user.Avatar, identity.Picture)
			if err := s.users.UpdateProfile(ctx, user.ID, name, avatar); err != nil {
				logger.WithError(err).Warn("[AuthService] profile update failed for user %s", user.ID)
			}
			user.Name, user.Avatar = name, avatar
		}
		return user, nil
	}

	// Google-only users get an unusable random password.
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	user = &domain.User{Email: email, Password: string(hash), Name: identity.Name, Avatar: identity.Picture}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, out.ErrDuplicateKey) {
			return s.users.GetByEmail(ctx, email)
		}
		return nil, apperr.DatabaseError("create user", err)
	}
	logger.Info("[AuthService] created user %s from google sign-in", user.ID)
	return user, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

var (
	_ in.AuthService = (*Service)(nil)
	_ in.UserService = (*Service)(nil)
)


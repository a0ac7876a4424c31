package mail

import (
	"context"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// Tokens expiring within this window are refreshed before use.
	refreshSkew    = time.Minute
	refreshTimeout = 30 * time.Second
)

// CredentialResolver turns a stored LinkedAccount into a usable access token.
// Refreshing is explicit: the new token is persisted before anything uses it.
type CredentialResolver struct {
	accounts out.LinkedAccountRepository
	identity out.IdentityProvider
	group    singleflight.Group
	now      func() time.Time
}

func NewCredentialResolver(accounts out.LinkedAccountRepository, identity out.IdentityProvider) *CredentialResolver {
	return &CredentialResolver{accounts: accounts, identity: identity, now: time.Now}
}

// Account loads the user's Google account.
func (r *CredentialResolver) Account(ctx context.Context, userID string) (*domain.LinkedAccount, error) {
	account, err := r.accounts.GetByUser(ctx, userID, domain.ProviderGoogle)
	if err != nil {
		return nil, apperr.DatabaseError("find linked account", err)
	}
	if account == nil {
		return nil, apperr.NotFoundMessage("Google account not linked")
	}
	return account, nil
}

// Token returns a valid token for account, refreshing and persisting it first when needed.
func (r *CredentialResolver) Token(ctx context.Context, account *domain.LinkedAccount) (*oauth2.Token, error) {
	tok := accountToken(account)
	if tok.AccessToken != "" && !account.TokenExpiry.IsZero() && account.TokenExpiry.Sub(r.now()) > refreshSkew {
		return tok, nil
	}
	return r.refresh(ctx, account)
}

// Do runs fn with the user's token. A token-expired rejection from the
// provider forces one refresh and a single retry.
func (r *CredentialResolver) Do(ctx context.Context, userID string, fn func(ctx context.Context, tok *oauth2.Token) error) error {
	account, err := r.Account(ctx, userID)
	if err != nil {
		return err
	}
	return r.DoAccount(ctx, account, fn)
}

func (r *CredentialResolver) DoAccount(ctx context.Context, account *domain.LinkedAccount, fn func(ctx context.Context, tok *oauth2.Token) error) error {
	tok, err := r.Token(ctx, account)
	if err != nil {
		return err
	}

	err = fn(ctx, tok)
	if !out.IsProviderError(err, out.ProviderErrTokenExpired) {
		return err
	}

	logger.Info("[CredentialResolver] provider rejected token for account %s, forcing refresh", account.ID)
	tok, err = r.refresh(ctx, account)
	if err != nil {
		return err
	}
	return fn(ctx, tok)
}

// refresh hits the token endpoint once per account at a time; concurrent
// callers share the result.
func (r *CredentialResolver) refresh(ctx context.Context, account *domain.LinkedAccount) (*oauth2.Token, error) {
	ch := r.group.DoChan(account.ID, func() (interface{}, error) {
		// Detached so one caller's cancellation doesn't fail the others.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		stale := accountToken(account)
		stale.Expiry = time.Unix(1, 0)
		fresh, err := r.identity.Refresh(rctx, stale)
		if err != nil {
			return nil, err
		}

		update := domain.TokenUpdate{AccessToken: fresh.AccessToken, Expiry: fresh.Expiry}
		if fresh.RefreshToken != account.RefreshToken {
			update.RefreshToken = fresh.RefreshToken
		}
		if err := r.accounts.UpdateTokens(rctx, account.ID, update); err != nil {
			return nil, apperr.DatabaseError("persist refreshed token", err)
		}
		logger.Debug("[CredentialResolver] refreshed token for account %s, expires %s", account.ID, fresh.Expiry.Format(time.RFC3339))
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		fresh := res.Val.(*oauth2.Token)
		account.AccessToken = fresh.AccessToken
		if fresh.RefreshToken != "" {
			account.RefreshToken = fresh.RefreshToken
		}
		account.TokenExpiry = fresh.Expiry
		return fresh, nil
	}
}

func accountToken(account *domain.LinkedAccount) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       account.TokenExpiry,
	}
}

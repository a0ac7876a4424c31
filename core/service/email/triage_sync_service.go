package mail

import (
	"context"
	"fmt"
	netmail "net/mail"
	"strconv"
	"sync/atomic"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/pkg/logger"

	"github.com/go-pkgz/pool"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	syncBatchSize        = 50
	syncFetchConcurrency = 10
	defaultSyncWorkers   = 4
)

var syncHeaders = []string{"Subject", "From", "Date"}

// SyncService copies recent message headers into the metadata cache.
type SyncService struct {
	accounts out.LinkedAccountRepository
	metadata out.EmailMetadataRepository
	provider out.MailProvider
	creds    *CredentialResolver
	workers  int
	now      func() time.Time
}

func NewSyncService(
	accounts out.LinkedAccountRepository,
	metadata out.EmailMetadataRepository,
	provider out.MailProvider,
	creds *CredentialResolver,
) *SyncService {
	return &SyncService{
		accounts: accounts,
		metadata: metadata,
		provider: provider,
		creds:    creds,
		workers:  defaultSyncWorkers,
		now:      time.Now,
	}
}

// accountSyncer is the pool worker for one pass.
type accountSyncer struct {
	svc    *SyncService
	failed atomic.Int64
	stored atomic.Int64
}

func (w *accountSyncer) Do(ctx context.Context, account *domain.LinkedAccount) error {
	if account.CredentialsErr != nil {
		w.failed.Add(1)
		logger.WithError(account.CredentialsErr).Error("[SyncService] account %s (user %s) has unreadable credentials, skipping", account.ID, account.UserID)
		return account.CredentialsErr
	}
	n, err := w.svc.syncAccount(ctx, account)
	if err != nil {
		w.failed.Add(1)
		logger.WithError(err).Warn("[SyncService] account %s (user %s) failed", account.ID, account.UserID)
		return err
	}
	w.stored.Add(n)
	return nil
}

// SyncAll runs one pass over every linked Google account. A failing account
// is logged and skipped.
func (s *SyncService) SyncAll(ctx context.Context) (*in.SyncReport, error) {
	accounts, err := s.accounts.ListByProvider(ctx, domain.ProviderGoogle)
	if err != nil {
		return nil, fmt.Errorf("list linked accounts: %w", err)
	}
	report := &in.SyncReport{Accounts: len(accounts)}
	if len(accounts) == 0 {
		return report, nil
	}

	worker := &accountSyncer{svc: s}
	p := pool.New[*domain.LinkedAccount](s.workers, worker).WithContinueOnError()
	if err := p.Go(ctx); err != nil {
		return nil, fmt.Errorf("start sync pool: %w", err)
	}
	for _, account := range accounts {
		p.Submit(account)
	}
	if err := p.Close(ctx); err != nil {
		logger.Debug("[SyncService] pass finished with errors: %v", err)
	}

	report.Failed = int(worker.failed.Load())
	report.Upserted = worker.stored.Load()
	return report, nil
}

// SyncUser runs the sync for a single user.
func (s *SyncService) SyncUser(ctx context.Context, userID string) (int64, error) {
	account, err := s.creds.Account(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.syncAccount(ctx, account)
}

func (s *SyncService) syncAccount(ctx context.Context, account *domain.LinkedAccount) (int64, error) {
	watermark, err := s.metadata.LatestReceivedAt(ctx, account.UserID)
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	query := watermarkQuery(watermark)

	var items []*domain.EmailMetadata
	err = s.creds.DoAccount(ctx, account, func(ctx context.Context, tok *oauth2.Token) error {
		list, err := s.provider.ListMessages(ctx, tok, &out.ProviderListOptions{
			Query:      query,
			MaxResults: syncBatchSize,
		})
		if err != nil {
			return err
		}
		items, err = s.fetchMetadata(ctx, tok, account.UserID, list.MessageIDs)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	n, err := s.metadata.BulkUpsert(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("store metadata: %w", err)
	}
	logger.Info("[SyncService] user %s: query=%q fetched=%d stored=%d", account.UserID, query, len(items), n)
	return n, nil
}

// fetchMetadata reads headers with bounded concurrency. Individual failures
// drop that message only; an expired token aborts so the caller can refresh.
func (s *SyncService) fetchMetadata(ctx context.Context, tok *oauth2.Token, userID string, ids []string) ([]*domain.EmailMetadata, error) {
	results := make([]*domain.EmailMetadata, len(ids))
	syncedAt := s.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncFetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			msg, err := s.provider.GetMetadata(gctx, tok, id, syncHeaders...)
			if err != nil {
				if out.IsProviderError(err, out.ProviderErrTokenExpired) {
					return err
				}
				logger.WithError(err).Debug("[SyncService] skipping message %s", id)
				return nil
			}
			results[i] = toMetadata(userID, msg, syncedAt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := results[:0]
	for _, m := range results {
		if m != nil {
			items = append(items, m)
		}
	}
	return items, nil
}

// watermarkQuery asks only for messages newer than the newest cached one.
func watermarkQuery(latest *time.Time) string {
	if latest == nil || latest.IsZero() {
		return ""
	}
	return "after:" + strconv.FormatInt(latest.Unix()+1, 10)
}

// toMetadata keeps the sender's Date header for display. The watermark uses
// the provider's receive time, which is what the after: query filters on.
func toMetadata(userID string, msg *out.ProviderMessage, syncedAt time.Time) *domain.EmailMetadata {
	date := msg.InternalAt
	if parsed, err := netmail.ParseDate(msg.Date); err == nil {
		date = parsed
	}
	received := msg.InternalAt
	if received.IsZero() {
		received = date
	}
	labels := msg.LabelIDs
	if labels == nil {
		labels = []string{}
	}
	return &domain.EmailMetadata{
		UserID:    userID,
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Subject:   orDefault(msg.Subject, domain.DefaultSubject),
		From:      orDefault(msg.From, domain.DefaultSender),
		Snippet:   msg.Snippet,
		Date:      date.UTC(),
		IsRead:    !domain.HasLabel(labels, domain.LabelUnread),
		LabelIDs:  labels,
		SyncedAt:  syncedAt,

		ReceivedAt: received.UTC(),
	}
}

var _ in.SyncService = (*SyncService)(nil)

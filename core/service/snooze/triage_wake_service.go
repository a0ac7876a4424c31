package snooze

import (
	"context"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	mail "triage_server/core/service/email"
	"triage_server/pkg/logger"

	"golang.org/x/oauth2"
)

const (
	wakeBatchSize = 100
	// PENDING rows younger than this may still be confirmed by their request.
	pendingGrace = 2 * time.Minute
)

// WakeService returns due snoozes to the inbox.
type WakeService struct {
	repo     out.SnoozeRepository
	provider out.MailProvider
	creds    *mail.CredentialResolver
	policy   domain.RetryPolicy
	now      func() time.Time
}

func NewWakeService(repo out.SnoozeRepository, provider out.MailProvider, creds *mail.CredentialResolver, policy domain.RetryPolicy) *WakeService {
	return &WakeService{
		repo:     repo,
		provider: provider,
		creds:    creds,
		policy:   policy,
		now:      time.Now,
	}
}

// RunOnce recovers stale intents, then wakes every due row sequentially.
func (s *WakeService) RunOnce(ctx context.Context) (*in.WakeReport, error) {
	report := &in.WakeReport{}
	now := s.now()

	if err := s.recoverPending(ctx, now, report); err != nil {
		return report, err
	}

	due, err := s.repo.ListDue(ctx, now, wakeBatchSize)
	if err != nil {
		return report, err
	}
	report.Due = len(due)
	if len(due) > 0 {
		logger.Debug("[WakeService] found %d snoozes to wake", len(due))
	}

	for _, log := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.wake(ctx, log, report)
	}
	return report, nil
}

func (s *WakeService) wake(ctx context.Context, log *domain.SnoozeLog, report *in.WakeReport) {
	err := s.creds.Do(ctx, log.UserID, func(ctx context.Context, tok *oauth2.Token) error {
		return s.provider.ModifyLabels(ctx, tok, log.MessageID, restoreLabels(log), removeIfKnown(log.SnoozedLabelID))
	})
	if err == nil {
		ok, terr := s.repo.Transition(ctx, log.ID, domain.SnoozeStatusActive, domain.SnoozeStatusProcessed)
		switch {
		case terr != nil:
			logger.WithError(terr).Error("[WakeService] woke %s but could not mark it processed", log.ID)
		case ok:
			report.Woken++
			logger.Info("[WakeService] woke email %s for user %s", log.MessageID, log.UserID)
		}
		return
	}

	attempt := s.policy.NextAttempt(log.Attempts, s.now(), err)
	ok, rerr := s.repo.RecordAttempt(ctx, log.ID, domain.SnoozeStatusActive, attempt)
	if rerr != nil {
		logger.WithError(rerr).Error("[WakeService] could not record attempt for %s", log.ID)
		return
	}
	if !ok {
		return
	}
	if attempt.Status == domain.SnoozeStatusFailed {
		report.Failed++
		logger.WithError(err).Error("[WakeService] giving up on %s after %d attempts", log.ID, attempt.Attempts)
		return
	}
	report.Retrying++
	logger.WithError(err).Warn("[WakeService] wake of %s failed (attempt %d), retrying at %s",
		log.ID, attempt.Attempts, attempt.NextAttemptAt.Format(time.RFC3339))
}

// recoverPending settles intents left behind by a crash or a failed call
// between the remote change and its confirmation. The removal may already
// have happened, so an intent is never dropped while the message could still
// be out of the inbox: the removal is re-applied with backoff, and once the
// retries run out the message is put back before the row is deleted.
func (s *WakeService) recoverPending(ctx context.Context, now time.Time, report *in.WakeReport) error {
	stale, err := s.repo.ListStalePending(ctx, now.Add(-pendingGrace), now, wakeBatchSize)
	if err != nil {
		return err
	}

	for _, log := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.policy.Exhausted(log.Attempts) {
			s.restorePending(ctx, log, report)
			continue
		}

		err := s.creds.Do(ctx, log.UserID, func(ctx context.Context, tok *oauth2.Token) error {
			return s.provider.ModifyLabels(ctx, tok, log.MessageID, addIfKnown(log.SnoozedLabelID), []string{domain.LabelInbox})
		})
		if err == nil {
			ok, err := s.repo.Transition(ctx, log.ID, domain.SnoozeStatusPending, domain.SnoozeStatusActive)
			if err != nil {
				logger.WithError(err).Error("[WakeService] could not confirm intent %s", log.ID)
				continue
			}
			if ok {
				report.Recovered++
			}
			continue
		}
		if out.IsProviderError(err, out.ProviderErrNotFound) {
			s.dropPending(ctx, log, report)
			continue
		}

		attempt := s.policy.NextAttempt(log.Attempts, s.now(), err)
		if attempt.Status == domain.SnoozeStatusFailed {
			log.Attempts = attempt.Attempts
			s.restorePending(ctx, log, report)
			continue
		}
		s.deferPending(ctx, log, err, report)
	}
	return nil
}

// restorePending gives up on an intent: the message goes back to the inbox
// and only then is the row removed.
func (s *WakeService) restorePending(ctx context.Context, log *domain.SnoozeLog, report *in.WakeReport) {
	err := s.creds.Do(ctx, log.UserID, func(ctx context.Context, tok *oauth2.Token) error {
		return s.provider.ModifyLabels(ctx, tok, log.MessageID, restoreLabels(log), removeIfKnown(log.SnoozedLabelID))
	})
	if err != nil && !out.IsProviderError(err, out.ProviderErrNotFound) {
		s.deferPending(ctx, log, err, report)
		return
	}
	logger.Warn("[WakeService] gave up on intent %s after %d attempts, email %s returned to inbox",
		log.ID, log.Attempts, log.MessageID)
	s.dropPending(ctx, log, report)
}

func (s *WakeService) deferPending(ctx context.Context, log *domain.SnoozeLog, cause error, report *in.WakeReport) {
	attempt := s.policy.NextAttempt(log.Attempts, s.now(), cause)
	attempt.Status = domain.SnoozeStatusPending
	ok, err := s.repo.RecordAttempt(ctx, log.ID, domain.SnoozeStatusPending, attempt)
	if err != nil {
		logger.WithError(err).Error("[WakeService] could not record attempt for intent %s", log.ID)
		return
	}
	if ok {
		report.Deferred++
		logger.WithError(cause).Warn("[WakeService] intent %s unsettled (attempt %d), retrying at %s",
			log.ID, attempt.Attempts, attempt.NextAttemptAt.Format(time.RFC3339))
	}
}

func (s *WakeService) dropPending(ctx context.Context, log *domain.SnoozeLog, report *in.WakeReport) {
	if err := s.repo.DeletePending(ctx, log.ID); err != nil {
		logger.WithError(err).Error("[WakeService] could not drop intent %s", log.ID)
		return
	}
	report.Dropped++
}

var _ in.WakeService = (*WakeService)(nil)

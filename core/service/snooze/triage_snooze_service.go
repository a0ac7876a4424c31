// Package snooze schedules messages out of the inbox and wakes them later.
package snooze

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	mail "triage_server/core/service/email"
	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"
	"triage_server/pkg/response"

	"golang.org/x/oauth2"
)

const maxListLimit = 100

// EmailDetailer loads mailbox rows for a set of message ids.
type EmailDetailer interface {
	BasicDetails(ctx context.Context, userID string, ids []string) ([]domain.EmailListItem, error)
}

// Service implements in.SnoozeService. A row only becomes ACTIVE after the
// message has left the inbox remotely.
type Service struct {
	repo     out.SnoozeRepository
	provider out.MailProvider
	creds    *mail.CredentialResolver
	labels   *mail.LabelResolver
	details  EmailDetailer
	now      func() time.Time
}

func NewService(
	repo out.SnoozeRepository,
	provider out.MailProvider,
	creds *mail.CredentialResolver,
	labels *mail.LabelResolver,
	details EmailDetailer,
) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		creds:    creds,
		labels:   labels,
		details:  details,
		now:      time.Now,
	}
}

func (s *Service) Snooze(ctx context.Context, userID string, req *in.SnoozeRequest) (*domain.SnoozeLog, error) {
	req.MessageID = strings.TrimSpace(req.MessageID)
	if req.MessageID == "" {
		return nil, apperr.ValidationFailed("messageId is required")
	}
	if req.WakeUpTime.IsZero() {
		return nil, apperr.ValidationFailed("wakeUpTime is required")
	}
	if !req.WakeUpTime.After(s.now()) {
		return nil, apperr.ValidationFailed("wakeUpTime must be in the future")
	}

	var result *domain.SnoozeLog
	err := s.creds.Do(ctx, userID, func(ctx context.Context, tok *oauth2.Token) error {
		snoozedID, err := s.labels.SnoozedID(ctx, userID, tok)
		if err != nil {
			return err
		}

		existing, err := s.repo.FindActive(ctx, userID, req.MessageID)
		if err != nil {
			return apperr.DatabaseError("find snooze", err)
		}
		if existing != nil {
			result, err = s.reschedule(ctx, tok, existing, req.WakeUpTime, snoozedID)
			return err
		}

		result, err = s.create(ctx, tok, userID, req, snoozedID)
		return err
	})
	if err != nil {
		return nil, mail.ClientError(err, "snooze email")
	}
	return result, nil
}

// create writes the PENDING intent, moves the message out of the inbox and
// confirms the row. A failed remote call puts the message back before the
// intent is removed.
func (s *Service) create(ctx context.Context, tok *oauth2.Token, userID string, req *in.SnoozeRequest, snoozedID string) (*domain.SnoozeLog, error) {
	log := &domain.SnoozeLog{
		UserID:          userID,
		MessageID:       req.MessageID,
		WakeUpTime:      req.WakeUpTime.UTC(),
		Status:          domain.SnoozeStatusPending,
		SnoozedLabelID:  snoozedID,
		RestoreLabelIDs: []string{domain.LabelInbox},
	}
	if err := s.repo.Create(ctx, log); err != nil {
		if errors.Is(err, out.ErrDuplicateKey) {
			return nil, apperr.Conflict("email is already being snoozed")
		}
		return nil, apperr.DatabaseError("create snooze", err)
	}

	if err := s.provider.ModifyLabels(ctx, tok, req.MessageID, addIfKnown(snoozedID), []string{domain.LabelInbox}); err != nil {
		s.abandon(context.WithoutCancel(ctx), tok, log)
		return nil, err
	}

	ok, err := s.repo.Transition(ctx, log.ID, domain.SnoozeStatusPending, domain.SnoozeStatusActive)
	if err != nil {
		// The wake job's stale-intent recovery confirms it later.
		return nil, apperr.DatabaseError("confirm snooze", err)
	}
	if !ok {
		return nil, apperr.Conflict("snooze changed concurrently")
	}
	log.Status = domain.SnoozeStatusActive
	logger.WithContext(ctx).Info("[SnoozeService] snoozed %s until %s", log.MessageID, log.WakeUpTime.Format(time.RFC3339))
	return log, nil
}

// abandon undoes a snooze whose remote call failed. The call may still have
// been applied, so the intent is only removed once the message is back in
// the inbox; otherwise the wake job's recovery settles it.
func (s *Service) abandon(ctx context.Context, tok *oauth2.Token, log *domain.SnoozeLog) {
	err := s.provider.ModifyLabels(ctx, tok, log.MessageID, restoreLabels(log), removeIfKnown(log.SnoozedLabelID))
	if err != nil && !out.IsProviderError(err, out.ProviderErrNotFound) {
		logger.WithError(err).Warn("[SnoozeService] could not restore %s, leaving intent %s for recovery", log.MessageID, log.ID)
		return
	}
	if err := s.repo.DeletePending(ctx, log.ID); err != nil {
		logger.WithError(err).Error("[SnoozeService] failed to remove intent %s", log.ID)
	}
}

func (s *Service) reschedule(ctx context.Context, tok *oauth2.Token, existing *domain.SnoozeLog, wake time.Time, snoozedID string) (*domain.SnoozeLog, error) {
	if err := s.provider.ModifyLabels(ctx, tok, existing.MessageID, addIfKnown(snoozedID), []string{domain.LabelInbox}); err != nil {
		return nil, err
	}
	ok, err := s.repo.Reschedule(ctx, existing.ID, wake.UTC(), snoozedID)
	if err != nil {
		return nil, apperr.DatabaseError("reschedule snooze", err)
	}
	if !ok {
		return nil, apperr.Conflict("snooze is no longer active")
	}

	existing.WakeUpTime = wake.UTC()
	existing.SnoozedLabelID = snoozedID
	existing.Attempts = 0
	existing.NextAttemptAt = nil
	existing.LastError = ""
	logger.WithContext(ctx).Info("[SnoozeService] rescheduled %s to %s", existing.ID, existing.WakeUpTime.Format(time.RFC3339))
	return existing, nil
}

func (s *Service) List(ctx context.Context, userID string, page, limit int) (*response.Page[in.SnoozedEmail], error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	logs, total, err := s.repo.ListActiveByUser(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, apperr.DatabaseError("list snoozes", err)
	}
	if len(logs) == 0 {
		p := response.NewPage[in.SnoozedEmail](nil, total, page, limit)
		return &p, nil
	}

	ids := make([]string, len(logs))
	byMessage := make(map[string]*domain.SnoozeLog, len(logs))
	for i, l := range logs {
		ids[i] = l.MessageID
		byMessage[l.MessageID] = l
	}
	items, err := s.details.BasicDetails(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	data := make([]in.SnoozedEmail, 0, len(items))
	for _, item := range items {
		l := byMessage[item.ID]
		if l == nil {
			continue
		}
		data = append(data, in.SnoozedEmail{
			EmailListItem: item,
			SnoozeInfo:    in.SnoozeInfo{WakeUpTime: l.WakeUpTime, SnoozeID: l.ID},
		})
	}
	p := response.NewPage(data, total, page, limit)
	return &p, nil
}

// Cancel returns an ACTIVE snooze to the inbox now.
func (s *Service) Cancel(ctx context.Context, userID, snoozeID string) (*domain.SnoozeLog, error) {
	log, err := s.repo.GetByID(ctx, snoozeID)
	if err != nil {
		return nil, apperr.DatabaseError("find snooze", err)
	}
	if log == nil || log.UserID != userID {
		return nil, apperr.NotFound("snooze")
	}
	if log.Status != domain.SnoozeStatusActive {
		return nil, apperr.Conflict(fmt.Sprintf("snooze is %s", strings.ToLower(string(log.Status))))
	}

	err = s.creds.Do(ctx, userID, func(ctx context.Context, tok *oauth2.Token) error {
		return s.provider.ModifyLabels(ctx, tok, log.MessageID, restoreLabels(log), removeIfKnown(log.SnoozedLabelID))
	})
	if err != nil {
		return nil, mail.ClientError(err, "cancel snooze")
	}

	ok, err := s.repo.Transition(ctx, log.ID, domain.SnoozeStatusActive, domain.SnoozeStatusCancelled)
	if err != nil {
		return nil, apperr.DatabaseError("cancel snooze", err)
	}
	if !ok {
		return nil, apperr.Conflict("snooze is no longer active")
	}
	log.Status = domain.SnoozeStatusCancelled
	return log, nil
}

func restoreLabels(log *domain.SnoozeLog) []string {
	if len(log.RestoreLabelIDs) == 0 {
		return []string{domain.LabelInbox}
	}
	return log.RestoreLabelIDs
}

func addIfKnown(labelID string) []string {
	if labelID == "" {
		return nil
	}
	return []string{labelID}
}

func removeIfKnown(labelID string) []string {
	return addIfKnown(labelID)
}

var _ in.SnoozeService = (*Service)(nil)

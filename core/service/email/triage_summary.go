package mail

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/htmltext"
	"triage_server/pkg/logger"
)

const (
	minSummaryChars = 50
	maxSummaryInput = 8000
	summaryExcerpt  = 100
	summaryTimeout  = 45 * time.Second
	tooShortSummary = "Email content is too short to summarize."
	failedSummary   = "Unable to summarize this email right now. Please try again later."
)

// Summarize returns the stored summary or generates one. Only successful
// AI summaries are stored; concurrent requests for one message share a call.
func (s *Service) Summarize(ctx context.Context, userID, messageID string) (*in.SummaryResult, error) {
	if cached, err := s.cachedSummary(ctx, userID, messageID); cached != nil || err != nil {
		return cached, err
	}

	v, err, _ := s.summarize.Do(userID+":"+messageID, func() (interface{}, error) {
		return s.generateSummary(ctx, userID, messageID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*in.SummaryResult), nil
}

func (s *Service) cachedSummary(ctx context.Context, userID, messageID string) (*in.SummaryResult, error) {
	existing, err := s.summaries.Get(ctx, userID, messageID)
	if err != nil {
		return nil, apperr.DatabaseError("find summary", err)
	}
	if existing == nil {
		return nil, nil
	}
	return &in.SummaryResult{MessageID: messageID, Summary: existing.Summary, Cached: true}, nil
}

func (s *Service) generateSummary(ctx context.Context, userID, messageID string) (*in.SummaryResult, error) {
	// Another flight may have stored it between our lookup and this one.
	if cached, err := s.cachedSummary(ctx, userID, messageID); cached != nil || err != nil {
		return cached, err
	}

	detail, err := s.GetEmail(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	text := htmltext.ToText(detail.Body)
	if utf8.RuneCountInString(text) < minSummaryChars {
		return &in.SummaryResult{MessageID: messageID, Summary: tooShortSummary}, nil
	}
	if s.summarizer == nil {
		return &in.SummaryResult{MessageID: messageID, Summary: failedSummary}, nil
	}

	sctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()
	summary, err := s.summarizer.Summarize(sctx, htmltext.Truncate(text, maxSummaryInput))
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("[MailService] summarize %s failed", messageID)
		return &in.SummaryResult{MessageID: messageID, Summary: failedSummary}, nil
	}

	record := &domain.EmailSummary{
		UserID:               userID,
		MessageID:            messageID,
		Summary:              summary,
		OriginalContentShort: htmltext.Truncate(text, summaryExcerpt),
		CreatedAt:            time.Now().UTC(),
	}
	if err := s.summaries.Create(ctx, record); err != nil && !errors.Is(err, out.ErrDuplicateKey) {
		logger.WithError(err).Warn("[MailService] storing summary for %s failed", messageID)
	}
	return &in.SummaryResult{MessageID: messageID, Summary: summary}, nil
}

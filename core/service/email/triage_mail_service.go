// Package mail implements mailbox access, the sync job and summaries.
package mail

import (
	"context"
	"fmt"
	"html"
	netmail "net/mail"
	"regexp"
	"strings"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	searchLimit      = 1000
	detailFetchLimit = 10
)

// Service implements in.MailService.
type Service struct {
	provider   out.MailProvider
	creds      *CredentialResolver
	labels     *LabelResolver
	metadata   out.EmailMetadataRepository
	summaries  out.EmailSummaryRepository
	summarizer out.Summarizer
	summarize  singleflight.Group
}

func NewService(
	provider out.MailProvider,
	creds *CredentialResolver,
	labels *LabelResolver,
	metadata out.EmailMetadataRepository,
	summaries out.EmailSummaryRepository,
	summarizer out.Summarizer,
) *Service {
	return &Service{
		provider:   provider,
		creds:      creds,
		labels:     labels,
		metadata:   metadata,
		summaries:  summaries,
		summarizer: summarizer,
	}
}

func (s *Service) Mailboxes(ctx context.Context, userID string) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.creds.Do(ctx, userID, func(ctx context.Context, tok *oauth2.Token) error {
		labels, _, err := s.labels.Ensure(ctx, userID, tok)
		if err != nil {
			return err
		}

		// List omits counters, so read each label.
		mailboxes = make([]domain.Mailbox, len(labels))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(detailFetchLimit)
		for i, l := range labels {
			mailboxes[i] = domain.Mailbox{ID: l.ID, Name: l.Name, Type: l.Type}
			g.Go(func() error {
				full, err := s.provider.GetLabel(gctx, tok, l.ID)
				if err != nil {
					if out.IsProviderError(err, out.ProviderErrTokenExpired) {
						return err
					}
					logger.WithError(err).Debug("[MailService] unread count unavailable for label %s", l.ID)
					return nil
				}
				mailboxes[i].Unread = full.MessagesUnread
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, ClientError(err, "list mailboxes")
	}
	return mailboxes, nil
}

func (s *Service) ListEmails(ctx context.Context, userID string, req *in.ListEmailsRequest) (*domain.EmailPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	labelID := req.LabelID
	if labelID == "" {
		labelID = domain.LabelInbox
	}

	if q := strings.TrimSpace(req.Search); q != "" {
		items, err := s.searchCache(ctx, userID, q, limit)
		if err != nil {
			return nil, err
		}
		return &domain.EmailPage{Emails: items}, nil
	}

	page := &domain.EmailPage{Emails: []domain.EmailListItem{}}
	err := s.creds.Do(ctx, userID, func(ctx context.Context, tok *oauth2.Token) error {
		list, err := s.provider.ListMessages(ctx, tok, &out.ProviderListOptions{
			LabelIDs:   []string{labelID},
			MaxResults: int64(limit),
			PageToken:  req.PageToken,
		})
		if err != nil {
			return err
		}
		page.NextPageToken = list.NextPageToken
		items, err := s.fetchListItems(ctx, tok, list.MessageIDs)
		if err != nil {
			return err
		}
		page.Emails = items
		return nil
	})
	if err != nil {
		return nil, ClientError(err, "list emails")
	}
	return page, nil
}

// fetchListItems loads messages concurrently, keeping order and dropping
// the ones that vanished in the meantime.
func (s *Service) fetchListItems(ctx context.Context, tok *oauth2.Token, ids []string) ([]domain.EmailListItem, error) {
	msgs := make([]*out.ProviderMessage, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailFetchLimit)
	for i, id := range ids {
		g.Go(func() error {
			msg, err := s.provider.GetMessage(gctx, tok, id)
			if err != nil {
				if out.IsProviderError(err, out.ProviderErrTokenExpired) {
					return err
				}
				logger.WithError(err).Debug("[MailService] skipping message %s", id)
				return nil
			}
			msgs[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]domain.EmailListItem, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			items = append(items, toListItem(m))
		}
	}
	return items, nil
}

// BasicDetails loads list rows for the given ids in order. Messages that
// can't be fetched are left out.
func (s *Service) BasicDetails(ctx context.Context, userID string, ids []string) ([]domain.EmailListItem, error) {
	if len(ids) == 0 {
		return []domain.EmailListItem{}, nil
	}
	var items []domain.EmailListItem
	err := s.creds.Do(ctx, userID, func(ctx context.Context, tok *oauth2.Token) error {
		var err error
		items, err = s.fetchListItems(ctx, tok, ids)
		return err
	})
	if err != nil {
		return nil, ClientError(err, "load email details")
	}
	return items, nil
}

func (s *Service) GetEmail(ctx context.Context, userID, messageID string) (*domain.EmailDetail, error) {
	var detail *domain.EmailDetail
	err := s.creds.Do(ctx, userID, func(ctx context.Context, tok *oauth2.Token) error {
		msg, err := s.provider.GetMessage(ctx, tok, messageID)
		if err != nil {
			return err
		}
		detail = toDetail(msg)
		return nil
	})
	if err != nil {
		return nil, ClientError(err, "get email")
	}
	return detail, nil
}

func (s *Service) Search(ctx context.Context, userID, query string) ([]domain.EmailListItem, error) {
	if strings.TrimSpace(query) == "" {
		return []domain.EmailListItem{}, nil
	}
	return s.searchCache(ctx, userID, strings.TrimSpace(query), searchLimit)
}

func (s *Service) searchCache(ctx context.Context, userID, query string, limit int) ([]domain.EmailListItem, error) {
	rows, err := s.metadata.Search(ctx, userID, query, limit)
	if err != nil {
		return nil, apperr.DatabaseError("search emails", err)
	}
	items := make([]domain.EmailListItem, len(rows))
	for i, m := range rows {
		items[i] = domain.EmailListItem{
			ID:          m.MessageID,
			ThreadID:    m.ThreadID,
			Snippet:     m.Snippet,
			Subject:     m.Subject,
			Sender:      m.From,
			Date:        m.Date.Format(time.RFC1123Z),
			IsRead:      m.IsRead,
			IsStarred:   domain.HasLabel(m.LabelIDs, domain.LabelStarred),
			LabelIDs:    m.LabelIDs,
			Attachments: []domain.Attachment{},
		}
	}
	return items, nil
}

// GetAttachment downloads the bytes and, alongside, reads the message to
// name the part. A message that cannot be read still serves the bytes.
func (s *Service) GetAttachment(ctx context.Context, userID, messageID, attachmentID string) (*in.Attachment, error) {
	var (
		data []byte
		part *out.ProviderAttachment
	)
	err := s.creds.Do(ctx, userID, func(ctx context.Context, tok *oauth2.Token) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			data, err = s.provider.GetAttachment(gctx, tok, messageID, attachmentID)
			return err
		})
		g.Go(func() error {
			msg, err := s.provider.GetMessage(gctx, tok, messageID)
			if err != nil {
				logger.WithError(err).Debug("[MailService] attachment %s served without part info", attachmentID)
				return nil
			}
			part = findAttachment(msg.Attachments, attachmentID)
			return nil
		})
		return g.Wait()
	})
	if err != nil {
		return nil, ClientError(err, "get attachment")
	}
	if len(data) == 0 {
		return nil, apperr.NotFoundMessage("Attachment data not found")
	}

	att := &in.Attachment{Data: data, Filename: "attachment", MimeType: "application/octet-stream"}
	if part != nil {
		att.Filename = orDefault(part.Filename, att.Filename)
		att.MimeType = orDefault(part.MimeType, att.MimeType)
	}
	return att, nil
}

// findAttachment matches by id. Gmail reissues attachment ids on every
// fetch, so a message with a single attachment is matched regardless.
func findAttachment(parts []out.ProviderAttachment, id string) *out.ProviderAttachment {
	for i := range parts {
		if parts[i].ID == id {
			return &parts[i]
		}
	}
	if len(parts) == 1 {
		return &parts[0]
	}
	return nil
}

func (s *Service) Send(ctx context.Context, userID string, req *in.SendRequest) (*in.SendResult, error) {
	to, err := recipients(req.To)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, userID, &out.ProviderOutgoingMessage{
		To:       to,
		Subject:  req.Subject,
		HTMLBody: req.Body,
	}, "send email")
}

func (s *Service) Modify(ctx context.Context, userID, messageID string, req *in.ModifyRequest) (*in.ModifyResult, error) {
	if len(req.AddLabelIDs) == 0 && len(req.RemoveLabelIDs) == 0 {
		return &in.ModifyResult{Success: true, Message: "No changes applied (lists are empty)"}, nil
	}
	err := s.creds.Do(ctx, userID, func(ctx context.Context, tok *oauth2.Token) error {
		return s.provider.ModifyLabels(ctx, tok, messageID, req.AddLabelIDs, req.RemoveLabelIDs)
	})
	if err != nil {
		return nil, ClientError(err, "modify email")
	}
	return &in.ModifyResult{Success: true}, nil
}

func (s *Service) Reply(ctx context.Context, userID, messageID string, req *in.ReplyRequest) (*in.SendResult, error) {
	var result *in.SendResult
	err := s.creds.Do(ctx, userID, func(ctx context.Context, tok *oauth2.Token) error {
		orig, err := s.provider.GetMetadata(ctx, tok, messageID, "Subject", "Message-ID", "References", "From")
		if err != nil {
			return err
		}
		sent, err := s.provider.Send(ctx, tok, buildReply(orig, req.Body))
		if err != nil {
			return err
		}
		result = &in.SendResult{ID: sent.ID, ThreadID: sent.ThreadID}
		return nil
	})
	if err != nil {
		return nil, ClientError(err, "reply email")
	}
	return result, nil
}

func (s *Service) Forward(ctx context.Context, userID, messageID string, req *in.ForwardRequest) (*in.SendResult, error) {
	to, err := recipients(req.To)
	if err != nil {
		return nil, err
	}
	var result *in.SendResult
	err = s.creds.Do(ctx, userID, func(ctx context.Context, tok *oauth2.Token) error {
		orig, err := s.provider.GetMessage(ctx, tok, messageID)
		if err != nil {
			return err
		}
		sent, err := s.provider.Send(ctx, tok, buildForward(toDetail(orig), to, req.Body))
		if err != nil {
			return err
		}
		result = &in.SendResult{ID: sent.ID, ThreadID: sent.ThreadID}
		return nil
	})
	if err != nil {
		return nil, ClientError(err, "forward email")
	}
	return result, nil
}

func (s *Service) send(ctx context.Context, userID string, msg *out.ProviderOutgoingMessage, op string) (*in.SendResult, error) {
	var result *in.SendResult
	err := s.creds.Do(ctx, userID, func(ctx context.Context, tok *oauth2.Token) error {
		sent, err := s.provider.Send(ctx, tok, msg)
		if err != nil {
			return err
		}
		result = &in.SendResult{ID: sent.ID, ThreadID: sent.ThreadID}
		return nil
	})
	if err != nil {
		return nil, ClientError(err, op)
	}
	return result, nil
}

// recipients checks a To header value: one or more RFC 5322 addresses on a
// single line.
func recipients(to string) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return "", apperr.InvalidInput("to", "recipient is required")
	}
	if strings.ContainsAny(to, "\r\n") {
		return "", apperr.InvalidInput("to", "recipient must not contain line breaks")
	}
	if _, err := netmail.ParseAddressList(to); err != nil {
		return "", apperr.InvalidInput("to", "invalid recipient address")
	}
	return to, nil
}

var angleAddr = regexp.MustCompile(`<([^>]+)>`)

// replyAddress picks the bare address out of a From header.
func replyAddress(from string) string {
	if m := angleAddr.FindStringSubmatch(from); m != nil {
		return m[1]
	}
	return strings.TrimSpace(from)
}

func buildReply(orig *out.ProviderMessage, body string) *out.ProviderOutgoingMessage {
	subject := orig.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	references := orig.MessageID
	if orig.References != "" {
		references = orig.References + " " + orig.MessageID
	}
	return &out.ProviderOutgoingMessage{
		To:         replyAddress(orig.From),
		Subject:    subject,
		HTMLBody:   body,
		InReplyTo:  orig.MessageID,
		References: strings.TrimSpace(references),
		ThreadID:   orig.ThreadID,
	}
}

func buildForward(orig *domain.EmailDetail, to, body string) *out.ProviderOutgoingMessage {
	subject := orig.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "fwd:") {
		subject = "Fwd: " + subject
	}
	header := fmt.Sprintf("<br><br>---------- Forwarded message ---------<br>"+
		"From: <strong>%s</strong><br>Date: %s<br>Subject: %s<br>To: %s<br><br>",
		html.EscapeString(orig.From), html.EscapeString(orig.Date),
		html.EscapeString(orig.Subject), html.EscapeString(orig.To))
	return &out.ProviderOutgoingMessage{
		To:       to,
		Subject:  subject,
		HTMLBody: body + header + orig.Body,
	}
}

func toListItem(m *out.ProviderMessage) domain.EmailListItem {
	return domain.EmailListItem{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		Snippet:     m.Snippet,
		Subject:     orDefault(m.Subject, domain.DefaultSubject),
		Sender:      orDefault(m.From, domain.DefaultSender),
		Date:        m.Date,
		IsRead:      !domain.HasLabel(m.LabelIDs, domain.LabelUnread),
		IsStarred:   domain.HasLabel(m.LabelIDs, domain.LabelStarred),
		LabelIDs:    m.LabelIDs,
		Attachments: toAttachments(m.Attachments),
	}
}

func toDetail(m *out.ProviderMessage) *domain.EmailDetail {
	body := m.HTMLBody
	if body == "" {
		body = strings.ReplaceAll(m.TextBody, "\n", "<br>")
	}
	labels := m.LabelIDs
	if labels == nil {
		labels = []string{}
	}
	return &domain.EmailDetail{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		Subject:     orDefault(m.Subject, domain.DefaultSubject),
		From:        orDefault(m.From, domain.DefaultSender),
		To:          m.To,
		Date:        m.Date,
		Snippet:     m.Snippet,
		Body:        body,
		IsRead:      !domain.HasLabel(labels, domain.LabelUnread),
		IsStarred:   domain.HasLabel(labels, domain.LabelStarred),
		LabelIDs:    labels,
		Attachments: toAttachments(m.Attachments),
	}
}

func toAttachments(atts []out.ProviderAttachment) []domain.Attachment {
	result := make([]domain.Attachment, len(atts))
	for i, a := range atts {
		result[i] = domain.Attachment{ID: a.ID, Filename: a.Filename, MimeType: a.MimeType, Size: a.Size}
	}
	return result
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

var _ in.MailService = (*Service)(nil)

// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"triage_server/core/port/out"
	"triage_server/pkg/logger"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	providerName       = "gmail"
	defaultCallTimeout = 30 * time.Second
	defaultMaxResults  = int64(50)
)

// GmailAdapter implements out.MailProvider. It never refreshes tokens:
// callers hand in a token that is already valid.
type GmailAdapter struct {
	cb      *gobreaker.CircuitBreaker
	options []option.ClientOption
}

// NewGmailAdapter creates a new Gmail adapter. Extra client options are
// appended to every service, which lets tests point it at a fake endpoint.
func NewGmailAdapter(opts ...option.ClientOption) *GmailAdapter {
	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &GmailAdapter{
		cb:      gobreaker.NewCircuitBreaker(settings),
		options: opts,
	}
}

func (a *GmailAdapter) ListMessages(ctx context.Context, token *oauth2.Token, opts *out.ProviderListOptions) (*out.ProviderListResult, error) {
	ctx, cancel := withCallTimeout(ctx)
	defer cancel()

	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	maxResults := defaultMaxResults
	if opts != nil && opts.MaxResults > 0 {
		maxResults = opts.MaxResults
	}
	req := svc.Users.Messages.List("me").MaxResults(maxResults)
	if opts != nil {
		if opts.Query != "" {
			req = req.Q(opts.Query)
		}
		if len(opts.LabelIDs) > 0 {
			req = req.LabelIds(opts.LabelIDs...)
		}
		if opts.PageToken != "" {
			req = req.PageToken(opts.PageToken)
		}
	}

	var resp *gmail.ListMessagesResponse
	err = a.executeWithCircuitBreaker("ListMessages", func() error {
		var apiErr error
		resp, apiErr = req.Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to list messages")
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return &out.ProviderListResult{MessageIDs: ids, NextPageToken: resp.NextPageToken}, nil
}

func (a *GmailAdapter) GetMetadata(ctx context.Context, token *oauth2.Token, messageID string, headers ...string) (*out.ProviderMessage, error) {
	return a.getMessage(ctx, token, messageID, "metadata", headers)
}

func (a *GmailAdapter) GetMessage(ctx context.Context, token *oauth2.Token, messageID string) (*out.ProviderMessage, error) {
	return a.getMessage(ctx, token, messageID, "full", nil)
}

func (a *GmailAdapter) getMessage(ctx context.Context, token *oauth2.Token, messageID, format string, headers []string) (*out.ProviderMessage, error) {
	ctx, cancel := withCallTimeout(ctx)
	defer cancel()

	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	call := svc.Users.Messages.Get("me", messageID).Format(format)
	if len(headers) > 0 {
		call = call.MetadataHeaders(headers...)
	}

	var msg *gmail.Message
	err = a.executeWithCircuitBreaker("GetMessage", func() error {
		var apiErr error
		msg, apiErr = call.Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to get message")
	}
	return convertMessage(msg), nil
}

func (a *GmailAdapter) ModifyLabels(ctx context.Context, token *oauth2.Token, messageID string, add, remove []string) error {
	ctx, cancel := withCallTimeout(ctx)
	defer cancel()

	svc, err := a.getService(ctx, token)
	if err != nil {
		return err
	}

	req := &gmail.ModifyMessageRequest{AddLabelIds: add, RemoveLabelIds: remove}
	err = a.executeWithCircuitBreaker("ModifyLabels", func() error {
		_, apiErr := svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return a.wrapError(err, "failed to modify labels")
	}
	return nil
}

func (a *GmailAdapter) ListLabels(ctx context.Context, token *oauth2.Token) ([]out.ProviderLabel, error) {
	ctx, cancel := withCallTimeout(ctx)
	defer cancel()

	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var resp *gmail.ListLabelsResponse
	err = a.executeWithCircuitBreaker("ListLabels", func() error {
		var apiErr error
		resp, apiErr = svc.Users.Labels.List("me").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to list labels")
	}

	labels := make([]out.ProviderLabel, len(resp.Labels))
	for i, l := range resp.Labels {
		labels[i] = convertLabel(l)
	}
	return labels, nil
}

// GetLabel returns the label with message counters, which List omits.
func (a *GmailAdapter) GetLabel(ctx context.Context, token *oauth2.Token, labelID string) (*out.ProviderLabel, error) {
	ctx, cancel := withCallTimeout(ctx)
	defer cancel()

	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var l *gmail.Label
	err = a.executeWithCircuitBreaker("GetLabel", func() error {
		var apiErr error
		l, apiErr = svc.Users.Labels.Get("me", labelID).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to get label")
	}
	label := convertLabel(l)
	return &label, nil
}

func (a *GmailAdapter) CreateLabel(ctx context.Context, token *oauth2.Token, name string) (*out.ProviderLabel, error) {
	ctx, cancel := withCallTimeout(ctx)
	defer cancel()

	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	label := &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}

	var created *gmail.Label
	err = a.executeWithCircuitBreaker("CreateLabel", func() error {
		var apiErr error
		created, apiErr = svc.Users.Labels.Create("me", label).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to create label")
	}
	result := convertLabel(created)
	return &result, nil
}

func (a *GmailAdapter) GetAttachment(ctx context.Context, token *oauth2.Token, messageID, attachmentID string) ([]byte, error) {
	ctx, cancel := withCallTimeout(ctx)
	defer cancel()

	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var att *gmail.MessagePartBody
	err = a.executeWithCircuitBreaker("GetAttachment", func() error {
		var apiErr error
		att, apiErr = svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to get attachment")
	}

	data, err := decodeBase64URL(att.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment: %w", err)
	}
	return data, nil
}

func (a *GmailAdapter) Send(ctx context.Context, token *oauth2.Token, msg *out.ProviderOutgoingMessage) (*out.ProviderSendResult, error) {
	ctx, cancel := withCallTimeout(ctx)
	defer cancel()

	raw, err := buildRawMessage(msg)
	if err != nil {
		return nil, out.NewProviderError("gmail", out.ProviderErrInvalidInput, err.Error(), err, false)
	}

	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	gmailMsg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadId: msg.ThreadID,
	}

	var sent *gmail.Message
	err = a.executeWithCircuitBreaker("Send", func() error {
		var apiErr error
		sent, apiErr = svc.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to send message")
	}
	return &out.ProviderSendResult{ID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// getService builds a client around a static token source so the library
// cannot refresh and silently drop the new token.
func (a *GmailAdapter) getService(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	if token == nil || token.AccessToken == "" {
		return nil, out.NewProviderError(providerName, out.ProviderErrAuth, "missing access token", nil, false)
	}
	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}, a.options...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return svc, nil
}

func withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultCallTimeout)
}

// executeWithCircuitBreaker runs fn through the breaker. Client errors are
// passed through without counting against it.
func (a *GmailAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}
	if err != nil {
		logger.WithError(err).Warn("[GmailAdapter] %s failed: breaker=%s", operation, a.cb.State().String())
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func (a *GmailAdapter) IsCircuitOpen() bool {
	return a.cb.State() == gobreaker.StateOpen
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out.NewProviderError(providerName, out.ProviderErrServer, "Gmail temporarily unavailable", err, true)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest:
			return out.NewProviderError(providerName, out.ProviderErrInvalidInput, "Invalid request", err, false)
		case http.StatusUnauthorized:
			return out.NewProviderError(providerName, out.ProviderErrTokenExpired, "Token expired", err, false)
		case http.StatusForbidden:
			if strings.Contains(strings.ToLower(apiErr.Message), "rate limit") {
				return out.NewProviderError(providerName, out.ProviderErrRateLimit, "Rate limit exceeded", err, true)
			}
			return out.NewProviderError(providerName, out.ProviderErrAuth, "Access denied", err, false)
		case http.StatusNotFound:
			return out.NewProviderError(providerName, out.ProviderErrNotFound, "Not found", err, false)
		case http.StatusConflict:
			return out.NewProviderError(providerName, out.ProviderErrConflict, "Already exists", err, false)
		case http.StatusTooManyRequests:
			return out.NewProviderError(providerName, out.ProviderErrRateLimit, "Too many requests", err, true)
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return out.NewProviderError(providerName, out.ProviderErrServer, "Server error", err, true)
		}
	}

	return out.NewProviderError(providerName, out.ProviderErrServer, defaultMsg, err, true)
}

func convertLabel(l *gmail.Label) out.ProviderLabel {
	return out.ProviderLabel{
		ID:             l.Id,
		Name:           l.Name,
		Type:           l.Type,
		MessagesTotal:  l.MessagesTotal,
		MessagesUnread: l.MessagesUnread,
	}
}

func convertMessage(msg *gmail.Message) *out.ProviderMessage {
	result := &out.ProviderMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		LabelIDs: msg.LabelIds,
	}
	if msg.InternalDate > 0 {
		result.InternalAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return result
	}

	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			result.Subject = h.Value
		case "from":
			result.From = h.Value
		case "to":
			result.To = h.Value
		case "date":
			result.Date = h.Value
		case "message-id":
			result.MessageID = h.Value
		case "references":
			result.References = h.Value
		}
	}

	extractBody(msg.Payload, result)
	result.Attachments = extractAttachments(msg.Payload)
	return result
}

// extractBody keeps the first text/plain and text/html parts found depth-first.
func extractBody(part *gmail.MessagePart, msg *out.ProviderMessage) {
	if part == nil {
		return
	}
	if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if msg.TextBody == "" {
				if data, err := decodeBase64URL(part.Body.Data); err == nil {
					msg.TextBody = string(data)
				}
			}
		case "text/html":
			if msg.HTMLBody == "" {
				if data, err := decodeBase64URL(part.Body.Data); err == nil {
					msg.HTMLBody = string(data)
				}
			}
		}
	}
	for _, p := range part.Parts {
		extractBody(p, msg)
	}
}

func extractAttachments(part *gmail.MessagePart) []out.ProviderAttachment {
	var attachments []out.ProviderAttachment
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		attachments = append(attachments, out.ProviderAttachment{
			ID:       part.Body.AttachmentId,
			Filename: part.Filename,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	}
	for _, p := range part.Parts {
		attachments = append(attachments, extractAttachments(p)...)
	}
	return attachments
}

// decodeBase64URL accepts both padded and unpadded input.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// buildRawMessage renders an HTML message as RFC 2822 with a base64 body.
// Header values carrying a line break are rejected.
func buildRawMessage(msg *out.ProviderOutgoingMessage) (string, error) {
	headers := []struct{ name, value string }{
		{"To", msg.To},
		{"In-Reply-To", msg.InReplyTo},
		{"References", msg.References},
	}
	for _, h := range headers {
		if strings.ContainsAny(h.value, "\r\n") {
			return "", fmt.Errorf("%s header contains a line break", h.name)
		}
	}

	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", msg.Subject)))
	if msg.InReplyTo != "" {
		buf.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", msg.InReplyTo))
	}
	if msg.References != "" {
		buf.WriteString(fmt.Sprintf("References: %s\r\n", msg.References))
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	buf.WriteString("\r\n")

	body := base64.StdEncoding.EncodeToString([]byte(msg.HTMLBody))
	for len(body) > 76 {
		buf.WriteString(body[:76])
		buf.WriteString("\r\n")
		body = body[76:]
	}
	buf.WriteString(body)
	buf.WriteString("\r\n")

	return buf.String(), nil
}

var _ out.MailProvider = (*GmailAdapter)(nil)

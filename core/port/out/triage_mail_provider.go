package out

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// MailProvider is the remote mailbox API. Every call is made with an
// already-valid access token; refreshing is the caller's job.
type MailProvider interface {
	ListMessages(ctx context.Context, token *oauth2.Token, opts *ProviderListOptions) (*ProviderListResult, error)
	// GetMetadata fetches headers only.
	GetMetadata(ctx context.Context, token *oauth2.Token, messageID string, headers ...string) (*ProviderMessage, error)
	GetMessage(ctx context.Context, token *oauth2.Token, messageID string) (*ProviderMessage, error)
	ModifyLabels(ctx context.Context, token *oauth2.Token, messageID string, add, remove []string) error

	ListLabels(ctx context.Context, token *oauth2.Token) ([]ProviderLabel, error)
	GetLabel(ctx context.Context, token *oauth2.Token, labelID string) (*ProviderLabel, error)
	// CreateLabel returns a ProviderError with ProviderErrConflict when the name is taken.
	CreateLabel(ctx context.Context, token *oauth2.Token, name string) (*ProviderLabel, error)

	GetAttachment(ctx context.Context, token *oauth2.Token, messageID, attachmentID string) ([]byte, error)
	Send(ctx context.Context, token *oauth2.Token, msg *ProviderOutgoingMessage) (*ProviderSendResult, error)
}

// ProviderListOptions narrows a message listing.
type ProviderListOptions struct {
	Query      string
	LabelIDs   []string
	MaxResults int64
	PageToken  string
}

type ProviderListResult struct {
	MessageIDs    []string
	NextPageToken string
}

type ProviderMessage struct {
	ID          string
	ThreadID    string
	Subject     string
	From        string
	To          string
	Date        string
	MessageID   string // RFC 822 Message-ID header
	References  string
	Snippet     string
	LabelIDs    []string
	InternalAt  time.Time
	TextBody    string
	HTMLBody    string
	Attachments []ProviderAttachment
}

type ProviderAttachment struct {
	ID       string
	Filename string
	MimeType string
	Size     int64
}

type ProviderLabel struct {
	ID             string
	Name           string
	Type           string
	MessagesTotal  int64
	MessagesUnread int64
}

type ProviderOutgoingMessage struct {
	To         string
	Subject    string
	HTMLBody   string
	InReplyTo  string
	References string
	ThreadID   string
}

type ProviderSendResult struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// ProviderErrorCode classifies remote failures.
type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrTokenExpired ProviderErrorCode = "token_expired"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrConflict     ProviderErrorCode = "conflict"
	ProviderErrInvalidInput ProviderErrorCode = "invalid_input"
	ProviderErrServer       ProviderErrorCode = "server_error"
)

// ProviderError is a classified remote failure.
type ProviderError struct {
	Provider  string
	Code      ProviderErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Provider + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Provider + ": " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func NewProviderError(provider string, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Message: message, Err: err, Retryable: retryable}
}

// IsProviderError reports whether err carries a ProviderError with code.
func IsProviderError(err error, code ProviderErrorCode) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == code
}

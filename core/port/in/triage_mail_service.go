package in

import (
	"context"

	"triage_server/core/domain"
)

type ListEmailsRequest struct {
	LabelID   string
	Limit     int
	PageToken string
	Search    string
}

type SendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type ReplyRequest struct {
	Body string `json:"body"`
}

type ForwardRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type ModifyRequest struct {
	AddLabelIDs    []string `json:"addLabelIds"`
	RemoveLabelIDs []string `json:"removeLabelIds"`
}

type ModifyResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type SendResult struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type SummaryResult struct {
	MessageID string `json:"messageId"`
	Summary   string `json:"summary"`
	Cached    bool   `json:"cached"`
}

type Attachment struct {
	Data     []byte
	Filename string
	MimeType string
}

type MailService interface {
	Mailboxes(ctx context.Context, userID string) ([]domain.Mailbox, error)
	ListEmails(ctx context.Context, userID string, req *ListEmailsRequest) (*domain.EmailPage, error)
	GetEmail(ctx context.Context, userID, messageID string) (*domain.EmailDetail, error)
	Search(ctx context.Context, userID, query string) ([]domain.EmailListItem, error)
	GetAttachment(ctx context.Context, userID, messageID, attachmentID string) (*Attachment, error)
	Send(ctx context.Context, userID string, req *SendRequest) (*SendResult, error)
	Modify(ctx context.Context, userID, messageID string, req *ModifyRequest) (*ModifyResult, error)
	Reply(ctx context.Context, userID, messageID string, req *ReplyRequest) (*SendResult, error)
	Forward(ctx context.Context, userID, messageID string, req *ForwardRequest) (*SendResult, error)
	Summarize(ctx context.Context, userID, messageID string) (*SummaryResult, error)
}

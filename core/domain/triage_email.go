package domain

import "time"

// EmailMetadata is the locally cached header view of one remote message.
// Unique per (UserID, MessageID).
type EmailMetadata struct {
	UserID    string    `json:"userId"`
	MessageID string    `json:"messageId"`
	ThreadID  string    `json:"threadId"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	Snippet   string    `json:"snippet"`
	Date      time.Time `json:"date"`
	IsRead    bool      `json:"isRead"`
	LabelIDs  []string  `json:"labelIds"`
	SyncedAt  time.Time `json:"syncedAt"`

	// ReceivedAt is the provider's receive time. Date comes from the sender.
	ReceivedAt time.Time `json:"receivedAt"`
}

// EmailSummary is an immutable cached AI summary.
type EmailSummary struct {
	UserID               string    `json:"userId"`
	MessageID            string    `json:"messageId"`
	Summary              string    `json:"summary"`
	OriginalContentShort string    `json:"originalContentShort"`
	CreatedAt            time.Time `json:"createdAt"`
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// EmailListItem is one row of a mailbox listing.
type EmailListItem struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"threadId"`
	Snippet     string       `json:"snippet"`
	Subject     string       `json:"subject"`
	Sender      string       `json:"sender"`
	Date        string       `json:"date"`
	IsRead      bool         `json:"isRead"`
	IsStarred   bool         `json:"isStarred"`
	LabelIDs    []string     `json:"labelIds,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// EmailPage is a page of a mailbox listing.
type EmailPage struct {
	Emails        []EmailListItem `json:"emails"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

// EmailDetail is a fully rendered message. Body is always HTML.
type EmailDetail struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"threadId"`
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Date        string       `json:"date"`
	Snippet     string       `json:"snippet"`
	Body        string       `json:"body"`
	IsRead      bool         `json:"isRead"`
	IsStarred   bool         `json:"isStarred"`
	LabelIDs    []string     `json:"labelIds"`
	Attachments []Attachment `json:"attachments"`
}

const (
	DefaultSubject = "(No Subject)"
	DefaultSender  = "Unknown"
)

// HasLabel reports whether id is among labels.
func HasLabel(labels []string, id string) bool {
	for _, l := range labels {
		if l == id {
			return true
		}
	}
	return false
}

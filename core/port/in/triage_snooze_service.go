package in

import (
	"context"
	"time"

	"triage_server/core/domain"
	"triage_server/pkg/response"
)

type SnoozeRequest struct {
	MessageID  string    `json:"messageId"`
	WakeUpTime time.Time `json:"wakeUpTime"`
}

type SnoozeInfo struct {
	WakeUpTime time.Time `json:"wakeUpTime"`
	SnoozeID   string    `json:"snoozeId"`
}

// SnoozedEmail is a mailbox row annotated with its pending wake.
type SnoozedEmail struct {
	domain.EmailListItem
	SnoozeInfo SnoozeInfo `json:"snoozeInfo"`
}

type SnoozeService interface {
	Snooze(ctx context.Context, userID string, req *SnoozeRequest) (*domain.SnoozeLog, error)
	List(ctx context.Context, userID string, page, limit int) (*response.Page[SnoozedEmail], error)
	Cancel(ctx context.Context, userID, snoozeID string) (*domain.SnoozeLog, error)
}

package domain

import (
	"time"
)

type SnoozeStatus string

const (
	// SnoozeStatusPending is an intent written before the remote label change is confirmed.
	SnoozeStatusPending   SnoozeStatus = "PENDING"
	SnoozeStatusActive    SnoozeStatus = "ACTIVE"
	SnoozeStatusProcessed SnoozeStatus = "PROCESSED"
	SnoozeStatusCancelled SnoozeStatus = "CANCELLED"
	SnoozeStatusFailed    SnoozeStatus = "FAILED"
)

var snoozeTransitions = map[SnoozeStatus][]SnoozeStatus{
	SnoozeStatusPending: {SnoozeStatusPending, SnoozeStatusActive},
	SnoozeStatusActive:  {SnoozeStatusActive, SnoozeStatusProcessed, SnoozeStatusFailed, SnoozeStatusCancelled},
}

// CanTransition reports whether a row may move from s to next.
// Terminal states accept nothing.
func (s SnoozeStatus) CanTransition(next SnoozeStatus) bool {
	for _, allowed := range snoozeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsOpen reports whether the row still holds the message's single open snooze.
func (s SnoozeStatus) IsOpen() bool {
	return s == SnoozeStatusPending || s == SnoozeStatusActive
}

func (s SnoozeStatus) IsTerminal() bool {
	return len(snoozeTransitions[s]) == 0
}

// SnoozeLog is one scheduled wake of a message.
type SnoozeLog struct {
	ID             string       `json:"id"`
	UserID         string       `json:"userId"`
	MessageID      string       `json:"messageId"`
	WakeUpTime     time.Time    `json:"wakeUpTime"`
	Status         SnoozeStatus `json:"status"`
	SnoozedLabelID string       `json:"snoozedLabelId,omitempty"`

	// Labels removed at snooze time and added back on wake.
	RestoreLabelIDs []string   `json:"restoreLabelIds"`
	Attempts        int        `json:"attempts"`
	NextAttemptAt   *time.Time `json:"nextAttemptAt,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// WakeAttempt records the outcome of a failed wake.
type WakeAttempt struct {
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	Status        SnoozeStatus
}

// RetryPolicy bounds wake retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 8, BaseDelay: time.Minute, MaxDelay: time.Hour}
}

// Backoff returns the delay after the given number of failed attempts:
// BaseDelay doubled per earlier failure, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether a row that failed `attempts` times gets no further tries.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// NextAttempt computes the bookkeeping for a failure of a row that had
// already failed `attempts` times.
func (p RetryPolicy) NextAttempt(attempts int, now time.Time, cause error) WakeAttempt {
	n := attempts + 1
	a := WakeAttempt{Attempts: n, Status: SnoozeStatusActive, NextAttemptAt: now.Add(p.Backoff(n))}
	if cause != nil {
		a.LastError = cause.Error()
	}
	if p.Exhausted(n) {
		a.Status = SnoozeStatusFailed
	}
	return a
}

package in

import "context"

// SyncReport summarizes one pass over all linked accounts.
type SyncReport struct {
	Accounts int
	Failed   int
	Upserted int64
}

// WakeReport summarizes one pass of the wake job.
type WakeReport struct {
	Due       int
	Woken     int
	Retrying  int
	Failed    int
	Recovered int

	// Deferred intents could not be settled and stay PENDING for a later pass.
	Deferred int
	Dropped  int
}

type SyncService interface {
	SyncAll(ctx context.Context) (*SyncReport, error)
	SyncUser(ctx context.Context, userID string) (int64, error)
}

type WakeService interface {
	RunOnce(ctx context.Context) (*WakeReport, error)
}

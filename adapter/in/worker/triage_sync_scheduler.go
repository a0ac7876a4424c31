package worker

import (
	"context"
	"time"

	"triage_server/core/port/in"
	"triage_server/core/port/out"

	"github.com/rs/zerolog"
)

const (
	DefaultSyncInterval = 10 * time.Minute
	syncPassTimeout     = 5 * time.Minute
)

// SyncScheduler periodically copies new message headers of every linked
// account into the metadata cache.
type SyncScheduler struct {
	syncService in.SyncService
	job         *periodicJob
	log         zerolog.Logger
}

func NewSyncScheduler(ctx context.Context, syncService in.SyncService, locker out.JobLocker, log zerolog.Logger) *SyncScheduler {
	s := &SyncScheduler{syncService: syncService}
	s.job = newPeriodicJob(ctx, "sync_scheduler", DefaultSyncInterval, syncPassTimeout, locker, log, s.syncAll)
	s.log = s.job.log
	return s
}

// Start starts the scheduler. The first pass runs immediately.
func (s *SyncScheduler) Start() {
	s.job.start()
}

// Stop stops the scheduler and waits for a running pass to return.
func (s *SyncScheduler) Stop() {
	s.job.stop()
}

// RunOnce runs a single guarded pass.
func (s *SyncScheduler) RunOnce() bool {
	return s.job.tick()
}

func (s *SyncScheduler) syncAll(ctx context.Context) error {
	report, err := s.syncService.SyncAll(ctx)
	if err != nil {
		return err
	}
	if report.Accounts > 0 {
		s.log.Info().
			Int("accounts", report.Accounts).
			Int("failed", report.Failed).
			Int64("upserted", report.Upserted).
			Msg("sync pass complete")
	}
	return nil
}

// SetCheckInterval sets the tick interval. Call before Start.
func (s *SyncScheduler) SetCheckInterval(interval time.Duration) {
	s.job.interval = interval
}

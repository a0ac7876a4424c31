package worker

import (
	"context"
	"time"

	"triage_server/core/port/in"
	"triage_server/core/port/out"

	"github.com/rs/zerolog"
)

const (
	DefaultWakeInterval = time.Minute
	wakePassTimeout     = 2 * time.Minute
)

// WakeScheduler returns snoozed messages to the inbox once they are due.
type WakeScheduler struct {
	wakeService in.WakeService
	job         *periodicJob
	log         zerolog.Logger
}

func NewWakeScheduler(ctx context.Context, wakeService in.WakeService, locker out.JobLocker, log zerolog.Logger) *WakeScheduler {
	s := &WakeScheduler{wakeService: wakeService}
	s.job = newPeriodicJob(ctx, "wake_scheduler", DefaultWakeInterval, wakePassTimeout, locker, log, s.wakeDue)
	s.log = s.job.log
	return s
}

func (s *WakeScheduler) Start() {
	s.job.start()
}

func (s *WakeScheduler) Stop() {
	s.job.stop()
}

// RunOnce runs a single guarded pass.
func (s *WakeScheduler) RunOnce() bool {
	return s.job.tick()
}

func (s *WakeScheduler) wakeDue(ctx context.Context) error {
	report, err := s.wakeService.RunOnce(ctx)
	if report != nil && (report.Due > 0 || report.Recovered > 0 || report.Deferred > 0 || report.Dropped > 0) {
		s.log.Info().
			Int("due", report.Due).
			Int("woken", report.Woken).
			Int("retrying", report.Retrying).
			Int("failed", report.Failed).
			Int("recovered", report.Recovered).
			Int("deferred", report.Deferred).
			Int("dropped", report.Dropped).
			Msg("wake pass complete")
	}
	return err
}

// SetCheckInterval sets the tick interval. Call before Start.
func (s *WakeScheduler) SetCheckInterval(interval time.Duration) {
	s.job.interval = interval
}

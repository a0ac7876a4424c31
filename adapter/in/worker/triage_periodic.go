package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"triage_server/core/port/out"

	"github.com/rs/zerolog"
)

// periodicJob runs pass on a ticker. A pass still running when the next tick
// fires is skipped, and with a locker only one replica runs it at a time.
type periodicJob struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	pass     func(ctx context.Context) error
	locker   out.JobLocker
	log      zerolog.Logger

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

func newPeriodicJob(parent context.Context, name string, interval, timeout time.Duration, locker out.JobLocker, log zerolog.Logger, pass func(ctx context.Context) error) *periodicJob {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &periodicJob{
		name:     name,
		interval: interval,
		timeout:  timeout,
		pass:     pass,
		locker:   locker,
		log:      log.With().Str("component", name).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (j *periodicJob) start() {
	j.once.Do(func() {
		j.log.Info().Dur("interval", j.interval).Msg("starting")
		j.wg.Add(1)
		go j.run()
	})
}

// stop cancels the running pass and waits for the loop to exit.
func (j *periodicJob) stop() {
	j.log.Info().Msg("stopping")
	j.cancel()
	j.wg.Wait()
}

func (j *periodicJob) run() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.tick()
	for {
		select {
		case <-j.ctx.Done():
			j.log.Info().Msg("stopped")
			return
		case <-ticker.C:
			j.tick()
		}
	}
}

// tick runs one guarded pass. It reports whether the pass ran.
func (j *periodicJob) tick() bool {
	if !j.running.CompareAndSwap(false, true) {
		j.log.Warn().Msg("previous pass still running, skipping")
		return false
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(j.ctx, j.timeout)
	defer cancel()

	if j.locker != nil {
		release, err := j.locker.Acquire(ctx, "job:"+j.name, j.timeout)
		if errors.Is(err, out.ErrLockHeld) {
			j.log.Debug().Msg("another replica holds the lock, skipping")
			return false
		}
		if err != nil {
			j.log.Error().Err(err).Msg("failed to acquire job lock")
			return false
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.log.Warn().Err(err).Msg("failed to release job lock")
			}
		}()
	}

	start := time.Now()
	if err := j.pass(ctx); err != nil {
		j.log.Error().Err(err).Dur("took", time.Since(start)).Msg("pass failed")
		return true
	}
	j.log.Debug().Dur("took", time.Since(start)).Msg("pass finished")
	return true
}

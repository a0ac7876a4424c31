package bootstrap

import (
	"context"
	"os"

	"triage_server/adapter/in/worker"
	"triage_server/config"

	"github.com/rs/zerolog"
)

// Worker runs the sync and wake schedulers.
type Worker struct {
	deps   *Dependencies
	ctx    context.Context
	cancel context.CancelFunc
	zlog   zerolog.Logger

	syncScheduler *worker.SyncScheduler
	wakeScheduler *worker.WakeScheduler
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewWorkerWithDeps(cfg, deps), cleanup, nil
}

func NewWorkerWithDeps(cfg *config.Config, deps *Dependencies) *Worker {
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())

	syncScheduler := worker.NewSyncScheduler(ctx, deps.SyncService, deps.JobLocker, zlog)
	syncScheduler.SetCheckInterval(cfg.SyncInterval)
	wakeScheduler := worker.NewWakeScheduler(ctx, deps.WakeService, deps.JobLocker, zlog)
	wakeScheduler.SetCheckInterval(cfg.WakeInterval)

	return &Worker{
		deps:          deps,
		ctx:           ctx,
		cancel:        cancel,
		zlog:          zlog,
		syncScheduler: syncScheduler,
		wakeScheduler: wakeScheduler,
	}
}

// Start starts both schedulers and blocks until Stop.
func (w *Worker) Start() {
	w.syncScheduler.Start()
	w.wakeScheduler.Start()
	w.zlog.Info().Msg("schedulers started")

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.syncScheduler.Stop()
	w.wakeScheduler.Stop()
	w.cancel()
}

// RunSync runs one guarded sync pass. It reports false when the pass was
// skipped because another run holds the lock.
func (w *Worker) RunSync() bool {
	return w.syncScheduler.RunOnce()
}

// RunWake runs one guarded wake pass.
func (w *Worker) RunWake() bool {
	return w.wakeScheduler.RunOnce()
}

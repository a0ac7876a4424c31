package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"triage_server/config"
	"triage_server/internal/bootstrap"
	"triage_server/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

var rootCmd = &cobra.Command{
	Use:           "triage",
	Short:         "Mail triage backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Load .env file if exists (for local development)
		if err := godotenv.Load(); err != nil {
			logger.Debug("No .env file found, using environment variables")
		}
	},
}

var serveMode string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, the background jobs, or both",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(serveMode)
		if err != nil {
			return err
		}
		return serve(cfg, serveMode)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass over all linked accounts and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce("sync", (*bootstrap.Worker).RunSync)
	},
}

var wakeCmd = &cobra.Command{
	Use:   "wake",
	Short: "Run one wake pass over due snoozes and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce("wake", (*bootstrap.Worker).RunWake)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveMode, "mode", config.ModeAll, "Run mode: api, worker, all")
	rootCmd.AddCommand(serveCmd, syncCmd, wakeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func loadConfig(mode string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "triage-" + mode,
	})
	return cfg, nil
}

func serve(cfg *config.Config, mode string) error {
	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer cleanup()

	runJobs := mode == config.ModeWorker || (mode == config.ModeAll && cfg.SchedulerEnabled)
	runAPI := mode != config.ModeWorker

	var w *bootstrap.Worker
	if runJobs {
		w = bootstrap.NewWorkerWithDeps(cfg, deps)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if !runAPI {
		go func() {
			<-sigChan
			stopWorker(w)
		}()
		logger.Info("Starting worker...")
		w.Start()
		return nil
	}

	app := bootstrap.NewAPIWithDeps(cfg, deps)
	if w != nil {
		go w.Start()
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-sigChan
		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("API server shut down gracefully")
		}
		if w != nil {
			stopWorker(w)
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	<-stopped
	return nil
}

func stopWorker(w *bootstrap.Worker) {
	logger.Info("Shutting down worker (timeout: %v)...", shutdownTimeout)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker shut down gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn("Worker shutdown timed out, forcing exit")
		os.Exit(1)
	}
}

// runOnce executes a single guarded pass of one job, then exits.
func runOnce(name string, pass func(*bootstrap.Worker) bool) error {
	cfg, err := loadConfig(config.ModeWorker)
	if err != nil {
		return err
	}

	w, cleanup, err := bootstrap.NewWorker(cfg)
	if err != nil {
		return fmt.Errorf("initialize worker: %w", err)
	}
	defer cleanup()

	// An interrupt cancels the running pass.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		w.Stop()
	}()

	if !pass(w) {
		logger.Warn("%s pass did not run (job lock held or unavailable)", name)
		return nil
	}
	logger.Info("%s pass finished", name)
	return nil
}

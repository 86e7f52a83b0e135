package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lysyi3m/webmoniter/app/api"
	"github.com/lysyi3m/webmoniter/app/cfg"
	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/credential"
	"github.com/lysyi3m/webmoniter/app/database"
	"github.com/lysyi3m/webmoniter/app/logging"
	"github.com/lysyi3m/webmoniter/app/notify"
	"github.com/lysyi3m/webmoniter/app/registry"
	"github.com/lysyi3m/webmoniter/app/scheduler"
	"github.com/lysyi3m/webmoniter/app/watcher"

	_ "github.com/lysyi3m/webmoniter/app/monitors"
	_ "github.com/lysyi3m/webmoniter/app/tasks"
)

const (
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	appCfg, err := cfg.Load(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if appCfg == nil {
		// Help was shown
		return exitOK
	}

	logDir := appCfg.LogDir
	if appCfg.Command == cfg.CommandValidate {
		logDir = ""
	}
	router, err := logging.Setup(logDir, appCfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRuntime
	}
	defer router.Close()

	switch appCfg.Command {
	case cfg.CommandValidate:
		return validateConfig(appCfg)
	case cfg.CommandRun:
		return runJob(appCfg, router)
	default:
		return runDaemon(appCfg, router)
	}
}

func validateConfig(appCfg *cfg.Cfg) int {
	doc, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		slog.Error("Configuration is invalid", "path", appCfg.ConfigPath, "error", err)
		return exitConfig
	}
	slog.Info("Configuration is valid",
		"path", appCfg.ConfigPath,
		"channels", len(doc.Channels),
		"weibo_uids", len(doc.Weibo.UIDs),
		"huya_rooms", len(doc.Huya.Rooms),
		"feeds", len(doc.Feed.URLs))
	return exitOK
}

// loadDocument reads the monitoring document. Without a file, a single job
// may still run from environment variables.
func loadDocument(appCfg *cfg.Cfg, jobID string, lookup config.Lookup) (*config.Config, bool, error) {
	_, err := os.Stat(appCfg.ConfigPath)
	if err == nil {
		doc, err := config.Load(appCfg.ConfigPath)
		return doc, false, err
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("failed to stat config file: %w", err)
	}
	if jobID == "" || !config.HasEnvSection(jobID) {
		return nil, false, fmt.Errorf("%w: config file %s not found", config.ErrInvalid, appCfg.ConfigPath)
	}

	doc, err := config.FromEnv(appCfg.EnvPrefix, jobID, lookup)
	return doc, true, err
}

func runJob(appCfg *cfg.Cfg, router *logging.Router) int {
	if _, ok := registry.Lookup(appCfg.JobID); !ok {
		slog.Error("Unknown job", "job", appCfg.JobID)
		return exitConfig
	}

	doc, headless, err := loadDocument(appCfg, appCfg.JobID, nil)
	if err != nil {
		slog.Error("Failed to load configuration", "path", appCfg.ConfigPath, "error", err)
		return exitConfig
	}
	if headless {
		slog.Info("No config file, running from environment", "job", appCfg.JobID, "prefix", appCfg.EnvPrefix)
	}

	sup, err := newSupervisor(appCfg, doc, router)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return exitRuntime
	}
	defer sup.Close()

	if err := sup.buildJobs(); err != nil {
		slog.Error("Failed to build jobs", "error", err)
		return exitRuntime
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err = sup.sched.TriggerNow(ctx, appCfg.JobID, true)
	if shutdownErr := sup.sched.Shutdown(appCfg.DrainTimeout); shutdownErr != nil {
		slog.Warn("Scheduler shutdown incomplete", "error", shutdownErr)
	}

	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		slog.Error("Unknown job", "job", appCfg.JobID)
		return exitConfig
	case err != nil:
		slog.Error("Job failed", "job", appCfg.JobID, "duration", time.Since(start), "error", err)
		return exitRuntime
	}
	slog.Info("Job completed", "job", appCfg.JobID, "duration", time.Since(start))
	return exitOK
}

func runDaemon(appCfg *cfg.Cfg, router *logging.Router) int {
	slog.Info("Starting webmoniter", "version", appCfg.Version, "config", appCfg.ConfigPath)

	doc, _, err := loadDocument(appCfg, "", nil)
	if err != nil {
		slog.Error("Failed to load configuration", "path", appCfg.ConfigPath, "error", err)
		return exitConfig
	}

	sup, err := newSupervisor(appCfg, doc, router)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return exitRuntime
	}
	defer sup.Close()

	// Stale expiry flags from a previous process would silence new notices.
	sup.credentials.ResetAll()

	if err := sup.buildJobs(); err != nil {
		slog.Error("Failed to build jobs", "error", err)
		return exitRuntime
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(appCfg.ConfigPath, sup.store, watcher.DefaultInterval)
	w.OnChange(sup.reload)
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		w.Run(ctx)
	}()

	sup.sched.Start()

	var httpServer *http.Server
	serverErrChan := make(chan error, 1)
	if appCfg.Port != "" {
		handler := api.NewHandler(sup.sched, sup.credentials, appCfg.Version)
		httpServer = &http.Server{
			Addr:         ":" + appCfg.Port,
			Handler:      api.NewServer(handler, appCfg.APIAccessKey),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			slog.Info("Starting admin server", "port", appCfg.Port, "api_enabled", appCfg.APIAccessKey != "")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
	}

	slog.Info("webmoniter started", "jobs", len(sup.sched.Jobs()))

	code := exitOK
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-serverErrChan:
		slog.Error("Admin server failed", "error", err)
		code = exitRuntime
	}
	stop()

	slog.Info("Shutting down gracefully...", "drain_timeout", appCfg.DrainTimeout)

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown error", "error", err)
		}
		cancel()
	}

	if err := sup.sched.Shutdown(appCfg.DrainTimeout); err != nil {
		slog.Warn("Scheduler shutdown incomplete", "error", err)
	}
	<-watcherDone

	slog.Info("webmoniter shutdown complete")
	return code
}

// supervisor owns the process-wide services in initialization order.
type supervisor struct {
	cfg         *cfg.Cfg
	store       *config.Store
	db          *database.DB
	history     *database.RunHistoryStore
	credentials *credential.Cache
	notifier    *notify.Manager
	sched       *scheduler.Scheduler

	descriptors []registry.Descriptor
	jobs        map[string]registry.Job
}

func newSupervisor(appCfg *cfg.Cfg, doc *config.Config, router *logging.Router) (*supervisor, error) {
	dbPath := filepath.Join(appCfg.DataDir, database.DBFileName)
	db, err := database.NewConnection(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	slog.Info("State store ready", "path", dbPath)

	store := config.NewStore(doc)
	notifier := notify.NewManager(store, nil)
	notifier.Sync(doc)

	return &supervisor{
		cfg:         appCfg,
		store:       store,
		db:          db,
		history:     database.NewRunHistoryStore(db),
		credentials: credential.NewCache(filepath.Join(appCfg.DataDir, credential.FileName)),
		notifier:    notifier,
		sched:       scheduler.New(time.Local, router),
		jobs:        map[string]registry.Job{},
	}, nil
}

// buildJobs instantiates every discovered descriptor and hands it to the
// scheduler. A descriptor that fails to build is logged and left out.
func (s *supervisor) buildJobs() error {
	env := registry.Env{
		Config:      s.store,
		Snapshots:   database.NewSnapshotStore(s.db),
		Credentials: s.credentials,
		Sender:      s.notifier,
		LogDir:      s.cfg.LogDir,
		DataDir:     s.cfg.DataDir,
	}

	s.descriptors = registry.Discover()
	doc := s.store.Get()

	for _, d := range s.descriptors {
		job, err := d.New(env)
		if err != nil {
			slog.Error("Failed to build job", "job", d.ID, "error", err)
			continue
		}

		fn := scheduler.Func(job.Run)
		var opts []scheduler.Option
		if d.OncePerDay {
			opts = append(opts, scheduler.WithBypass(fn))
			fn = scheduler.Guard(s.history, d.ID, fn, nil)
		}
		if d.RunOnStart {
			opts = append(opts, scheduler.RunOnStart())
		}

		trigger := d.Trigger(doc)
		if err := s.sched.Add(d.ID, trigger, fn, opts...); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", d.ID, err)
		}
		s.jobs[d.ID] = job
		slog.Info("Job registered", "job", d.ID, "kind", d.Kind, "trigger", trigger.String(), "enabled", trigger.Enabled)
	}
	return nil
}

// reload is the config listener: channels first, then triggers, then each
// job's own reconciliation.
func (s *supervisor) reload(ctx context.Context, old, new *config.Config, diff config.Diff) {
	if diff.Has("push_channel") {
		s.notifier.Sync(new)
	}

	for _, d := range s.descriptors {
		job, ok := s.jobs[d.ID]
		if !ok {
			continue
		}

		if _, err := s.sched.Update(d.ID, d.Trigger(new)); err != nil {
			slog.Error("Failed to reschedule job", "job", d.ID, "error", err)
		}

		if r, ok := job.(registry.Reloader); ok {
			if err := r.Reload(logging.WithJob(ctx, d.ID), old, new); err != nil {
				slog.Error("Job reload failed", "job", d.ID, "error", err)
			}
		}
	}
}

func (s *supervisor) Close() {
	if err := s.db.Close(); err != nil {
		slog.Warn("Failed to close state store", "error", err)
	}
}

package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/logging"
)

// LogCleanupTask removes log files older than scheduler.retention_days.
type LogCleanupTask struct {
	Task
	config *config.Store
	logDir string
	now    func() time.Time
}

func NewLogCleanupTask(store *config.Store, logDir string) *LogCleanupTask {
	return &LogCleanupTask{
		Task:   NewTask(TaskTypeLogCleanup),
		config: store,
		logDir: logDir,
		now:    time.Now,
	}
}

func (t *LogCleanupTask) Run(ctx context.Context) error {
	t.Start()
	retention := t.config.Get().Scheduler.RetentionDays

	deleted, err := logging.Cleanup(t.logDir, retention, t.now())
	if err != nil {
		return fmt.Errorf("failed to clean up logs: %w", err)
	}

	slog.InfoContext(ctx, "Log cleanup completed",
		"dir", t.logDir,
		"retention_days", retention,
		"deleted", deleted,
		"duration", t.GetDuration())
	return nil
}

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lysyi3m/webmoniter/app/database"
)

const dateLayout = "2006-01-02"

// ErrAlreadyRan is returned by a guarded job that already completed today.
var ErrAlreadyRan = errors.New("already ran today")

// Guard makes fn run at most once per local calendar day. The date is
// stamped only after fn succeeds, so a failed run may retry on the next
// firing.
func Guard(history database.RunHistoryRepository, jobID string, fn Func, now func() time.Time) Func {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		run, err := history.GetTaskRun(ctx, jobID)
		if err != nil {
			slog.WarnContext(ctx, "Failed to read run history, running anyway", "job", jobID, "error", err)
		} else if run != nil && run.LastRunDate == now().Format(dateLayout) {
			return ErrAlreadyRan
		}

		if err := fn(ctx); err != nil {
			return err
		}

		if err := history.SetLastRunDate(ctx, jobID, now().Format(dateLayout)); err != nil {
			slog.ErrorContext(ctx, "Failed to record run date", "job", jobID, "error", err)
		}
		return nil
	}
}

package database

import (
	"time"
)

// Snapshot is the last-seen record for one monitored entity.
type Snapshot struct {
	Platform  string
	EntityID  string
	Data      map[string]string
	UpdatedAt time.Time
}

// TaskRun is the once-per-day ledger entry for a job.
type TaskRun struct {
	JobID       string
	LastRunDate string // 2006-01-02 in local time
	UpdatedAt   time.Time
}

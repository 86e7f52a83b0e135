package database

import "context"

type SnapshotRepository interface {
	GetSnapshot(ctx context.Context, platform, entityID string) (map[string]string, error)
	SaveSnapshot(ctx context.Context, platform, entityID string, data map[string]string) error
	CountSnapshots(ctx context.Context, platform string) (int, error)
	DeleteSnapshots(ctx context.Context, platform string, entityIDs []string) (int64, error)
	ListSnapshots(ctx context.Context, platform string) ([]Snapshot, error)
}

type RunHistoryRepository interface {
	GetTaskRun(ctx context.Context, jobID string) (*TaskRun, error)
	SetLastRunDate(ctx context.Context, jobID, date string) error
}

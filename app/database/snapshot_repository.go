package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SnapshotStore persists probe snapshots keyed by (platform, entity_id).
type SnapshotStore struct {
	db *DB
}

func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// GetSnapshot returns nil, nil when the entity has never been stored.
func (r *SnapshotStore) GetSnapshot(ctx context.Context, platform, entityID string) (map[string]string, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM snapshots
		WHERE platform = ? AND entity_id = ?
	`, platform, entityID).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	data := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s/%s: %w", platform, entityID, err)
	}
	return data, nil
}

func (r *SnapshotStore) SaveSnapshot(ctx context.Context, platform, entityID string, data map[string]string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshots (platform, entity_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (platform, entity_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, platform, entityID, string(raw), time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotStore) CountSnapshots(ctx context.Context, platform string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots WHERE platform = ?", platform).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

// DeleteSnapshots removes the given entities and returns how many rows went.
func (r *SnapshotStore) DeleteSnapshots(ctx context.Context, platform string, entityIDs []string) (int64, error) {
	if len(entityIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entityIDs)), ",")
	args := make([]any, 0, len(entityIDs)+1)
	args = append(args, platform)
	for _, id := range entityIDs {
		args = append(args, id)
	}

	res, err := r.db.ExecContext(ctx,
		"DELETE FROM snapshots WHERE platform = ? AND entity_id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted rows: %w", err)
	}
	return n, nil
}

func (r *SnapshotStore) ListSnapshots(ctx context.Context, platform string) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT platform, entity_id, data, updated_at
		FROM snapshots
		WHERE platform = ?
		ORDER BY entity_id
	`, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var (
			s       Snapshot
			raw     string
			updated int64
		)
		if err := rows.Scan(&s.Platform, &s.EntityID, &raw, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &s.Data); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %s/%s: %w", s.Platform, s.EntityID, err)
		}
		s.UpdatedAt = time.Unix(updated, 0)
		snapshots = append(snapshots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	return snapshots, nil
}

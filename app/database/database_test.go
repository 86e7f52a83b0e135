package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewConnection(filepath.Join(t.TempDir(), "state", DBFileName))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewConnection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", DBFileName)

	db, err := NewConnection(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected database file at %s: %v", path, err)
	}

	version, dirty, err := RunMigrations(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != 2 {
		t.Errorf("Expected schema version 2, got %d", version)
	}
	if dirty {
		t.Error("Expected clean schema")
	}
}

func TestNewConnectionInvalidPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewConnection(filepath.Join(file, "sub", DBFileName)); err == nil {
		t.Error("Expected error when the data directory cannot be created")
	}
}

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore(newTestDB(t))

	got, err := store.GetSnapshot(ctx, "huya", "1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("Expected nil for unknown entity, got %v", got)
	}

	if err := store.SaveSnapshot(ctx, "huya", "1", map[string]string{"name": "Alice", "is_live": "0"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSnapshot(ctx, "huya", "1", map[string]string{"name": "Alice", "is_live": "1"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSnapshot(ctx, "weibo", "1", map[string]string{"name": "Bob"}); err != nil {
		t.Fatal(err)
	}

	got, err = store.GetSnapshot(ctx, "huya", "1")
	if err != nil {
		t.Fatal(err)
	}
	if got["is_live"] != "1" {
		t.Errorf("Expected is_live '1', got '%s'", got["is_live"])
	}

	count, err := store.CountSnapshots(ctx, "huya")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected 1 huya snapshot, got %d", count)
	}

	count, err = store.CountSnapshots(ctx, "feed")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected 0 feed snapshots, got %d", count)
	}
}

func TestDeleteSnapshots(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore(newTestDB(t))

	for _, id := range []string{"A", "B", "C"} {
		if err := store.SaveSnapshot(ctx, "huya", id, map[string]string{"id": id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.SaveSnapshot(ctx, "weibo", "B", map[string]string{"id": "B"}); err != nil {
		t.Fatal(err)
	}

	n, err := store.DeleteSnapshots(ctx, "huya", []string{"B", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected 1 deleted row, got %d", n)
	}

	snapshots, err := store.ListSnapshots(ctx, "huya")
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshots) != 2 || snapshots[0].EntityID != "A" || snapshots[1].EntityID != "C" {
		t.Errorf("Expected snapshots [A C], got %v", snapshots)
	}

	if got, _ := store.GetSnapshot(ctx, "weibo", "B"); got == nil {
		t.Error("Expected other platforms to be untouched")
	}

	if n, err := store.DeleteSnapshots(ctx, "huya", nil); err != nil || n != 0 {
		t.Errorf("Expected no-op delete, got %d, %v", n, err)
	}
}

func TestRunHistoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewRunHistoryStore(newTestDB(t))

	run, err := store.GetTaskRun(ctx, "ikuuu_checkin")
	if err != nil {
		t.Fatal(err)
	}
	if run != nil {
		t.Errorf("Expected nil for unknown job, got %v", run)
	}

	if err := store.SetLastRunDate(ctx, "ikuuu_checkin", "2024-05-01"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetLastRunDate(ctx, "ikuuu_checkin", "2024-05-02"); err != nil {
		t.Fatal(err)
	}

	run, err = store.GetTaskRun(ctx, "ikuuu_checkin")
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.LastRunDate != "2024-05-02" {
		t.Errorf("Expected last run date '2024-05-02', got %v", run)
	}
}

package logging

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var logDate = regexp.MustCompile(`(\d{8})`)

// Cleanup deletes *.log files in dir whose embedded date is retentionDays or
// more days before now. Files without a parsable date fall back to their
// modification time. It returns the number of files removed.
func Cleanup(dir string, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read log directory: %w", err)
	}

	today := truncateDay(now)
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	deleted := 0

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".log") {
			continue
		}
		path := filepath.Join(dir, name)

		expired := false
		if m := logDate.FindString(name); m != "" {
			if fileDate, err := time.ParseInLocation(dateLayout, m, now.Location()); err == nil {
				daysAgo := int(math.Round(today.Sub(fileDate).Hours() / 24))
				expired = daysAgo >= retentionDays
			} else if info, err := entry.Info(); err == nil {
				expired = info.ModTime().Before(cutoff)
			}
		} else if info, err := entry.Info(); err == nil {
			expired = info.ModTime().Before(cutoff)
		}

		if !expired {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to delete log file", "file", name, "error", err)
			continue
		}
		slog.Debug("Deleted log file", "file", name)
		deleted++
	}

	return deleted, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

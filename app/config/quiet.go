package config

import (
	"log/slog"
	"time"
)

// InQuietHours reports whether notifications are muted at now. The window is
// half-open: start <= now < end, wrapping past midnight when start > end.
func InQuietHours(now time.Time, cfg *Config) bool {
	if cfg == nil || !cfg.QuietHours.Enable {
		return false
	}

	start, ok := ParseClock(cfg.QuietHours.Start)
	if !ok {
		slog.Warn("Invalid quiet hours start, ignoring window", "start", cfg.QuietHours.Start)
		return false
	}
	end, ok := ParseClock(cfg.QuietHours.End)
	if !ok {
		slog.Warn("Invalid quiet hours end, ignoring window", "end", cfg.QuietHours.End)
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	s, e := start.Minutes(), end.Minutes()

	if s <= e {
		return s <= cur && cur < e
	}
	return cur >= s || cur < e
}

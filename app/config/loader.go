package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, defaults and validates the document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]Plugin{}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a document with every default filled in. Parsing
// unmarshals on top of it so keys absent from the file keep their defaults.
func Defaults() *Config {
	return &Config{
		Weibo: WeiboConfig{Monitor: Monitor{Concurrency: 3, IntervalSeconds: 300, RequestsPerSecond: 5}},
		Huya:  HuyaConfig{Monitor: Monitor{Concurrency: 7, IntervalSeconds: 65, RequestsPerSecond: 5}},
		Feed:  FeedConfig{Monitor: Monitor{Concurrency: 3, IntervalSeconds: 600, RequestsPerSecond: 5}},
		Checkin: CheckinConfig{
			Task: Task{Time: "08:00"},
		},
		Scheduler: SchedulerConfig{
			CleanupLogsHour:   2,
			CleanupLogsMinute: 0,
			RetentionDays:     3,
		},
		QuietHours: QuietHours{Start: "22:00", End: "08:00"},
		Plugins:    map[string]Plugin{},
	}
}

func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}

	positiveFields := map[string]int{
		"weibo.concurrency":              cfg.Weibo.Concurrency,
		"weibo.monitor_interval_seconds": cfg.Weibo.IntervalSeconds,
		"huya.concurrency":               cfg.Huya.Concurrency,
		"huya.monitor_interval_seconds":  cfg.Huya.IntervalSeconds,
		"feed.concurrency":               cfg.Feed.Concurrency,
		"feed.monitor_interval_seconds":  cfg.Feed.IntervalSeconds,
		"scheduler.retention_days":       cfg.Scheduler.RetentionDays,
	}

	for fieldName, fieldValue := range positiveFields {
		if fieldValue <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, fieldName)
		}
	}

	if h := cfg.Scheduler.CleanupLogsHour; h < 0 || h > 23 {
		return fmt.Errorf("%w: scheduler.cleanup_logs_hour must be within 0-23", ErrInvalid)
	}
	if m := cfg.Scheduler.CleanupLogsMinute; m < 0 || m > 59 {
		return fmt.Errorf("%w: scheduler.cleanup_logs_minute must be within 0-59", ErrInvalid)
	}

	clockFields := map[string]string{
		"quiet_hours.start": cfg.QuietHours.Start,
		"quiet_hours.end":   cfg.QuietHours.End,
	}

	for fieldName, fieldValue := range clockFields {
		if _, ok := ParseClock(fieldValue); !ok {
			return fmt.Errorf("%w: %s must be HH:MM, got %q", ErrInvalid, fieldName, fieldValue)
		}
	}

	for i, f := range cfg.Feed.Filters {
		if err := validate.Struct(f); err != nil {
			return fmt.Errorf("%w: feed.filters at index %d: %v", ErrInvalid, i, err)
		}
	}

	seen := make(map[string]bool, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if err := validate.Struct(ch); err != nil {
			return fmt.Errorf("%w: push_channel at index %d: %v", ErrInvalid, i, err)
		}
		if seen[ch.Name] {
			return fmt.Errorf("%w: duplicate push_channel name %q", ErrInvalid, ch.Name)
		}
		seen[ch.Name] = true
	}

	return nil
}

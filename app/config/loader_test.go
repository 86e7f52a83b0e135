package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	content := `
weibo:
  enable: true
  cookie: "SUB=abc"
  uids: ["1001", "1002"]
  concurrency: 2
  monitor_interval_seconds: 120
  push_channels: ["tg"]

huya:
  enable: true
  rooms: "111, 222,333"

quiet_hours:
  enable: true
  start: "23:00"
  end: "07:30"

push_channel:
  - name: tg
    type: telegram_bot
    enable: true
    api_token: "token"
    chat_id: 123456
  - name: bark
    type: bark
    enable: false
    key: "k"
`

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatal(err)
	}

	if !cfg.Weibo.Enable {
		t.Error("Expected weibo to be enabled")
	}
	if cfg.Weibo.Cookie != "SUB=abc" {
		t.Errorf("Expected cookie 'SUB=abc', got '%s'", cfg.Weibo.Cookie)
	}
	if len(cfg.Weibo.UIDs) != 2 || cfg.Weibo.UIDs[1] != "1002" {
		t.Errorf("Expected uids [1001 1002], got %v", cfg.Weibo.UIDs)
	}
	if cfg.Weibo.Concurrency != 2 {
		t.Errorf("Expected concurrency 2, got %d", cfg.Weibo.Concurrency)
	}
	if cfg.Weibo.IntervalSeconds != 120 {
		t.Errorf("Expected interval 120, got %d", cfg.Weibo.IntervalSeconds)
	}
	if !cfg.Weibo.PushChannels.Contains("tg") {
		t.Errorf("Expected push channel filter to contain 'tg', got %v", cfg.Weibo.PushChannels)
	}
	if len(cfg.Huya.Rooms) != 3 || cfg.Huya.Rooms[2] != "333" {
		t.Errorf("Expected rooms [111 222 333], got %v", cfg.Huya.Rooms)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("Expected 2 channels, got %d", len(cfg.Channels))
	}
	if cfg.Channels[0].String("chat_id") != "123456" {
		t.Errorf("Expected chat_id '123456', got '%s'", cfg.Channels[0].String("chat_id"))
	}
	if cfg.Channels[1].Enable {
		t.Error("Expected bark channel to be disabled")
	}
}

func TestLoadConfigWithDefaults(t *testing.T) {
	content := `
huya:
  enable: true
  rooms: ["1"]
`

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Huya.Concurrency != 7 {
		t.Errorf("Expected huya concurrency 7, got %d", cfg.Huya.Concurrency)
	}
	if cfg.Huya.IntervalSeconds != 65 {
		t.Errorf("Expected huya interval 65, got %d", cfg.Huya.IntervalSeconds)
	}
	if cfg.Weibo.Concurrency != 3 {
		t.Errorf("Expected weibo concurrency 3, got %d", cfg.Weibo.Concurrency)
	}
	if cfg.Weibo.IntervalSeconds != 300 {
		t.Errorf("Expected weibo interval 300, got %d", cfg.Weibo.IntervalSeconds)
	}
	if cfg.Checkin.Time != "08:00" {
		t.Errorf("Expected checkin time '08:00', got '%s'", cfg.Checkin.Time)
	}
	if cfg.Scheduler.CleanupLogsHour != 2 || cfg.Scheduler.CleanupLogsMinute != 0 {
		t.Errorf("Expected cleanup at 02:00, got %02d:%02d", cfg.Scheduler.CleanupLogsHour, cfg.Scheduler.CleanupLogsMinute)
	}
	if cfg.Scheduler.RetentionDays != 3 {
		t.Errorf("Expected retention 3, got %d", cfg.Scheduler.RetentionDays)
	}
	if cfg.QuietHours.Start != "22:00" || cfg.QuietHours.End != "08:00" {
		t.Errorf("Expected quiet hours 22:00-08:00, got %s-%s", cfg.QuietHours.Start, cfg.QuietHours.End)
	}
}

func TestLoadConfigKeepsExplicitMidnightCleanup(t *testing.T) {
	content := `
scheduler:
  cleanup_logs_hour: 0
  cleanup_logs_minute: 0
`

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.CleanupLogsHour != 0 {
		t.Errorf("Expected cleanup hour 0, got %d", cfg.Scheduler.CleanupLogsHour)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "unknown channel type",
			content: `
push_channel:
  - name: x
    type: carrier_pigeon
`,
		},
		{
			name: "missing channel name",
			content: `
push_channel:
  - type: bark
`,
		},
		{
			name: "duplicate channel names",
			content: `
push_channel:
  - name: a
    type: bark
  - name: a
    type: gotify
`,
		},
		{
			name: "negative concurrency",
			content: `
weibo:
  concurrency: -1
`,
		},
		{
			name: "bad quiet hours",
			content: `
quiet_hours:
  enable: true
  start: "25:00"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "weibo: [unclosed"))
	if err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestResolvedAccounts(t *testing.T) {
	single := CheckinConfig{Email: " a@b.c ", Password: "pw"}
	accounts := single.ResolvedAccounts()
	if len(accounts) != 1 || accounts[0].Email != "a@b.c" {
		t.Errorf("Expected single trimmed account, got %v", accounts)
	}

	multi := CheckinConfig{
		Email:    "ignored@b.c",
		Accounts: []Account{{Email: "x@y.z", Password: "1"}, {Email: "u@v.w", Password: "2"}},
	}
	accounts = multi.ResolvedAccounts()
	if len(accounts) != 2 || accounts[0].Email != "x@y.z" {
		t.Errorf("Expected accounts list to win, got %v", accounts)
	}
}

func TestTaskClock(t *testing.T) {
	tests := []struct {
		in     string
		hour   int
		minute int
	}{
		{"23:55", 23, 55},
		{"7:05", 7, 5},
		{"9", 9, 0},
		{"", 8, 0},
		{"24:00", 8, 0},
		{"ab:cd", 8, 0},
	}

	for _, tt := range tests {
		c := TaskClock(tt.in)
		if c.Hour != tt.hour || c.Minute != tt.minute {
			t.Errorf("TaskClock(%q): expected %02d:%02d, got %02d:%02d", tt.in, tt.hour, tt.minute, c.Hour, c.Minute)
		}
	}
}

func TestLoadConfigFeedFilters(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
feed:
  urls: ["https://example.com/rss"]
  filters:
    - field: title
      excludes: ["ad"]
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Feed.Filters) != 1 || cfg.Feed.Filters[0].Excludes[0] != "ad" {
		t.Errorf("Expected one title filter, got %+v", cfg.Feed.Filters)
	}

	_, err = Load(writeConfig(t, `
feed:
  filters:
    - field: nope
`))
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid for unknown filter field, got %v", err)
	}
}

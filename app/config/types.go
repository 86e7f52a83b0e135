package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is one immutable snapshot of the monitoring document.
type Config struct {
	Weibo      WeiboConfig       `yaml:"weibo"`
	Huya       HuyaConfig        `yaml:"huya"`
	Feed       FeedConfig        `yaml:"feed"`
	Checkin    CheckinConfig     `yaml:"checkin"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	QuietHours QuietHours        `yaml:"quiet_hours"`
	Channels   []Channel         `yaml:"push_channel"`
	Plugins    map[string]Plugin `yaml:"plugins"`
}

// Monitor holds the settings shared by every probe section.
type Monitor struct {
	Enable            bool       `yaml:"enable"`
	Cookie            string     `yaml:"cookie"`
	UserAgent         string     `yaml:"user_agent"`
	Concurrency       int        `yaml:"concurrency"`
	IntervalSeconds   int        `yaml:"monitor_interval_seconds"`
	RequestsPerSecond float64    `yaml:"requests_per_second"`
	PushChannels      StringList `yaml:"push_channels"`
}

type WeiboConfig struct {
	Monitor `yaml:",inline"`
	UIDs    StringList `yaml:"uids"`
}

type HuyaConfig struct {
	Monitor `yaml:",inline"`
	Rooms   StringList `yaml:"rooms"`
}

// FeedConfig watches RSS/Atom documents; entity ids are the feed URLs.
type FeedConfig struct {
	Monitor `yaml:",inline"`
	URLs    StringList   `yaml:"urls"`
	Filters []FeedFilter `yaml:"filters"`
}

// FeedFilter restricts which items count as news. Matching is a
// case-insensitive substring test on one item field.
type FeedFilter struct {
	Field    string   `yaml:"field" validate:"required,oneof=title description content authors link categories"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// Task holds the settings shared by every daily task section.
type Task struct {
	Enable       bool       `yaml:"enable"`
	Time         string     `yaml:"time"`
	PushChannels StringList `yaml:"push_channels"`
}

type Account struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type CheckinConfig struct {
	Task        `yaml:",inline"`
	LoginURL    string    `yaml:"login_url"`
	CheckinURL  string    `yaml:"checkin_url"`
	UserPageURL string    `yaml:"user_page_url"`
	Email       string    `yaml:"email"`
	Password    string    `yaml:"password"`
	Accounts    []Account `yaml:"accounts"`
}

// ResolvedAccounts prefers the accounts list and falls back to the single
// email/password pair.
func (c CheckinConfig) ResolvedAccounts() []Account {
	if len(c.Accounts) > 0 {
		accounts := make([]Account, 0, len(c.Accounts))
		for _, a := range c.Accounts {
			accounts = append(accounts, Account{
				Email:    strings.TrimSpace(a.Email),
				Password: strings.TrimSpace(a.Password),
			})
		}
		return accounts
	}
	return []Account{{Email: strings.TrimSpace(c.Email), Password: strings.TrimSpace(c.Password)}}
}

type SchedulerConfig struct {
	CleanupLogsHour   int `yaml:"cleanup_logs_hour"`
	CleanupLogsMinute int `yaml:"cleanup_logs_minute"`
	RetentionDays     int `yaml:"retention_days"`
}

type QuietHours struct {
	Enable bool   `yaml:"enable"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
}

// Plugin is a free-form section under plugins, keyed by task name.
type Plugin map[string]any

func (p Plugin) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

func (p Plugin) String(key, fallback string) string {
	if v, ok := p[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// StringList accepts either a YAML sequence or a comma-separated string.
type StringList []string

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = splitList(value.Value)
		return nil
	default:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*l = out
		return nil
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (l StringList) Contains(s string) bool {
	for _, item := range l {
		if item == s {
			return true
		}
	}
	return false
}

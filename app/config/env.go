package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Lookup resolves one environment variable.
type Lookup func(key string) (string, bool)

type envReader struct {
	prefix string
	lookup Lookup
}

// get tries PREFIX_KEY first, then the bare KEY.
func (r envReader) get(key string) string {
	if v, ok := r.lookup(r.prefix + "_" + key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := r.lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func (r envReader) setString(dst *string, key string) {
	if v := r.get(key); v != "" {
		*dst = v
	}
}

func (r envReader) setInt(dst *int, key string) error {
	v := r.get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s_%s must be an integer", ErrInvalid, r.prefix, key)
	}
	*dst = n
	return nil
}

func (r envReader) monitor(m *Monitor, section string) error {
	m.Enable = true
	r.setString(&m.Cookie, section+"_COOKIE")
	r.setString(&m.UserAgent, section+"_USER_AGENT")
	if v := r.get(section + "_PUSH_CHANNELS"); v != "" {
		m.PushChannels = splitList(v)
	}
	if err := r.setInt(&m.Concurrency, section+"_CONCURRENCY"); err != nil {
		return err
	}
	return r.setInt(&m.IntervalSeconds, section+"_INTERVAL_SECONDS")
}

// envSections maps a job id to the variables that job reads. Running one job
// headless loads only its own section.
var envSections = map[string]func(r envReader, cfg *Config) error{
	"weibo_monitor": func(r envReader, cfg *Config) error {
		if v := r.get("WEIBO_UIDS"); v != "" {
			cfg.Weibo.UIDs = splitList(v)
		}
		return r.monitor(&cfg.Weibo.Monitor, "WEIBO")
	},
	"huya_monitor": func(r envReader, cfg *Config) error {
		if v := r.get("HUYA_ROOMS"); v != "" {
			cfg.Huya.Rooms = splitList(v)
		}
		return r.monitor(&cfg.Huya.Monitor, "HUYA")
	},
	"feed_monitor": func(r envReader, cfg *Config) error {
		if v := r.get("FEED_URLS"); v != "" {
			cfg.Feed.URLs = splitList(v)
		}
		return r.monitor(&cfg.Feed.Monitor, "FEED")
	},
	"ikuuu_checkin": func(r envReader, cfg *Config) error {
		c := &cfg.Checkin
		c.Enable = true
		r.setString(&c.LoginURL, "CHECKIN_LOGIN_URL")
		r.setString(&c.CheckinURL, "CHECKIN_CHECKIN_URL")
		r.setString(&c.UserPageURL, "CHECKIN_USER_PAGE_URL")
		r.setString(&c.Email, "CHECKIN_EMAIL")
		r.setString(&c.Password, "CHECKIN_PASSWORD")
		r.setString(&c.Time, "CHECKIN_TIME")
		if v := r.get("CHECKIN_PUSH_CHANNELS"); v != "" {
			c.PushChannels = splitList(v)
		}
		return nil
	},
	"demo_task": func(r envReader, cfg *Config) error {
		plugin := Plugin{"enable": true}
		if v := r.get("DEMO_TASK_MESSAGE"); v != "" {
			plugin["message"] = v
		}
		if v := r.get("DEMO_TASK_TIME"); v != "" {
			plugin["time"] = v
		}
		cfg.Plugins["demo_task"] = plugin
		return nil
	},
	"log_cleanup": func(r envReader, cfg *Config) error {
		return r.setInt(&cfg.Scheduler.RetentionDays, "LOG_RETENTION_DAYS")
	},
}

// HasEnvSection reports whether jobID can be configured from the environment.
func HasEnvSection(jobID string) bool {
	_, ok := envSections[jobID]
	return ok
}

// FromEnv builds a document for a single job from PREFIX_* variables. Push
// channels come from PREFIX_PUSH_CHANNELS as a JSON array of definitions.
func FromEnv(prefix, jobID string, lookup Lookup) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	section, ok := envSections[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %q has no environment mapping", ErrInvalid, jobID)
	}

	r := envReader{prefix: strings.TrimSuffix(prefix, "_"), lookup: lookup}
	cfg := Defaults()

	if err := section(r, cfg); err != nil {
		return nil, err
	}

	if raw := r.get("PUSH_CHANNELS"); raw != "" {
		channels, err := parseEnvChannels(raw)
		if err != nil {
			return nil, err
		}
		cfg.Channels = channels
	}

	if v := strings.ToLower(r.get("QUIET_HOURS_ENABLE")); v != "" {
		cfg.QuietHours.Enable = v == "1" || v == "true" || v == "yes" || v == "on"
	}
	r.setString(&cfg.QuietHours.Start, "QUIET_HOURS_START")
	r.setString(&cfg.QuietHours.End, "QUIET_HOURS_END")

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseEnvChannels(raw string) ([]Channel, error) {
	var defs []map[string]any
	if err := json.Unmarshal([]byte(raw), &defs); err != nil {
		return nil, fmt.Errorf("%w: PUSH_CHANNELS is not a JSON array: %v", ErrInvalid, err)
	}

	channels := make([]Channel, 0, len(defs))
	for _, def := range defs {
		ch := Channel{Fields: map[string]any{}, Enable: true}
		for k, v := range def {
			switch k {
			case "name":
				ch.Name = fmt.Sprint(v)
			case "type":
				ch.Type = fmt.Sprint(v)
			case "enable":
				if b, ok := v.(bool); ok {
					ch.Enable = b
				}
			default:
				ch.Fields[k] = v
			}
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

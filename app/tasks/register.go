package tasks

import (
	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/registry"
)

func init() {
	registry.Register(registry.Descriptor{
		ID:   string(TaskTypeLogCleanup),
		Kind: registry.KindTask,
		Trigger: func(cfg *config.Config) registry.Trigger {
			return registry.Trigger{
				Kind:    registry.Cron,
				Enabled: true,
				Hour:    cfg.Scheduler.CleanupLogsHour,
				Minute:  cfg.Scheduler.CleanupLogsMinute,
			}
		},
		New: func(env registry.Env) (registry.Job, error) {
			return NewLogCleanupTask(env.Config, env.LogDir), nil
		},
	})

	registry.Register(registry.Descriptor{
		ID:         string(TaskTypeIkuuuCheckin),
		Kind:       registry.KindTask,
		OncePerDay: true,
		RunOnStart: true,
		Trigger: func(cfg *config.Config) registry.Trigger {
			return dailyTrigger(cfg.Checkin.Enable, cfg.Checkin.Time)
		},
		New: func(env registry.Env) (registry.Job, error) {
			return NewIkuuuCheckinTask(env.Config, env.Sender, env.Client), nil
		},
	})

	registry.Register(registry.Descriptor{
		ID:   string(TaskTypeDemo),
		Kind: registry.KindTask,
		Trigger: func(cfg *config.Config) registry.Trigger {
			plugin := demoPlugin(cfg)
			return dailyTrigger(plugin.Bool("enable"), plugin.String("time", "08:00"))
		},
		New: func(env registry.Env) (registry.Job, error) {
			return NewDemoTask(env.Config, env.Sender), nil
		},
	})
}

// dailyTrigger fires at clock every day; invalid clocks fall back to 08:00.
func dailyTrigger(enabled bool, clock string) registry.Trigger {
	c := config.TaskClock(clock)
	return registry.Trigger{
		Kind:    registry.Cron,
		Enabled: enabled,
		Hour:    c.Hour,
		Minute:  c.Minute,
	}
}

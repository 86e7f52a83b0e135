// Package monitors holds the concrete platform probes and registers them as
// scheduled monitor jobs.
package monitors

import (
	"context"
	"time"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/probe"
	"github.com/lysyi3m/webmoniter/app/registry"
)

func init() {
	registry.Register(Descriptor("huya_monitor", func(registry.Env) probe.Probe { return NewHuya() }))
	registry.Register(Descriptor("weibo_monitor", func(registry.Env) probe.Probe { return NewWeibo() }))
	registry.Register(Descriptor("feed_monitor", func(env registry.Env) probe.Probe { return NewFeed().WithStore(env.Config) }))
}

// Job adapts a probe runner to the scheduler.
type Job struct {
	runner *probe.Runner
}

func (j *Job) Run(ctx context.Context) error {
	_, err := j.runner.Run(ctx)
	return err
}

func (j *Job) Reload(ctx context.Context, old, new *config.Config) error {
	return j.runner.Reload(ctx, old, new)
}

func (j *Job) Runner() *probe.Runner {
	return j.runner
}

// Descriptor describes an interval monitor driven by the probe built by
// newProbe. Triggers are derived from a probe built with an empty Env.
func Descriptor(id string, newProbe func(env registry.Env) probe.Probe) registry.Descriptor {
	return registry.Descriptor{
		ID:         id,
		Kind:       registry.KindMonitor,
		RunOnStart: true,
		Trigger: func(cfg *config.Config) registry.Trigger {
			s := newProbe(registry.Env{}).Settings(cfg)
			return registry.Trigger{
				Kind:    registry.Interval,
				Enabled: s.Enable,
				Every:   time.Duration(s.IntervalSeconds) * time.Second,
			}
		},
		New: func(env registry.Env) (registry.Job, error) {
			runner := probe.NewRunner(newProbe(env), probe.Deps{
				Config:      env.Config,
				Snapshots:   env.Snapshots,
				Credentials: env.Credentials,
				Sender:      env.Sender,
				Client:      env.Client,
			})
			return &Job{runner: runner}, nil
		},
	}
}

package tasks

import (
	"context"
	"log/slog"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/notify"
)

const (
	demoPluginKey      = "demo_task"
	demoDefaultMessage = "Demo 定时任务执行完成。"
)

// DemoTask shows how a plugin task reads its own plugins.<name> section.
type DemoTask struct {
	Task
	config *config.Store
	sender notify.Sender
}

func NewDemoTask(store *config.Store, sender notify.Sender) *DemoTask {
	return &DemoTask{
		Task:   NewTask(TaskTypeDemo),
		config: store,
		sender: sender,
	}
}

func demoPlugin(cfg *config.Config) config.Plugin {
	if p, ok := cfg.Plugins[demoPluginKey]; ok && p != nil {
		return p
	}
	return config.Plugin{}
}

func (t *DemoTask) Run(ctx context.Context) error {
	t.Start()
	plugin := demoPlugin(t.config.Get())
	if !plugin.Bool("enable") {
		slog.DebugContext(ctx, "Demo task disabled, skipping")
		return nil
	}

	message := plugin.String("message", demoDefaultMessage)
	slog.InfoContext(ctx, "Demo task running", "message", message)

	res := t.sender.Send(ctx, notify.Request{
		Title:  "Demo 任务执行完成",
		Body:   message,
		URL:    "https://github.com",
		Button: "查看",
		Event:  "demo",
	}, nil)
	if !res.OK() {
		slog.WarnContext(ctx, "Demo notification partially failed", "errors", res.Errors)
	}

	slog.InfoContext(ctx, "Demo task finished", "duration", t.GetDuration())
	return nil
}

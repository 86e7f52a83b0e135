// Package tasks holds the daily tasks: log retention cleanup, the iKuuu
// check-in and a demo plugin task.
package tasks

import (
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeLogCleanup   TaskType = "log_cleanup"
	TaskTypeIkuuuCheckin TaskType = "ikuuu_checkin"
	TaskTypeDemo         TaskType = "demo_task"
)

// Task carries the bookkeeping shared by every task execution.
type Task struct {
	ID        string
	Type      TaskType
	StartedAt *time.Time
}

func NewTask(taskType TaskType) Task {
	return Task{
		ID:   uuid.NewString(),
		Type: taskType,
	}
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

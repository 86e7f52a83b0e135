// Package probe runs the shared monitor state machine: load the previous
// snapshot, fetch the current one, classify, persist and notify.
package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/notify"
)

// ErrCredentialExpired is returned by Fetch when the platform rejects the
// configured cookie or token.
var ErrCredentialExpired = errors.New("credential expired")

// FetchError wraps a failed fetch with its entity.
type FetchError struct {
	Platform string
	Entity   string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Platform, e.Entity, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Record is the platform-defined last-seen state of one entity.
type Record map[string]string

type Kind int

const (
	Unchanged Kind = iota
	Inserted
	Transitioned
)

func (k Kind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Transitioned:
		return "changed"
	default:
		return "unchanged"
	}
}

// Change classifies one (old, new) pair. Silent transitions are persisted
// without a notification. Delta carries a platform-defined magnitude such as
// the number of posts added.
type Change struct {
	Kind   Kind
	Silent bool
	Delta  int
}

// Settings is the slice of a config snapshot one probe reads.
type Settings struct {
	Enable            bool
	Cookie            string
	UserAgent         string
	Concurrency       int
	IntervalSeconds   int
	RequestsPerSecond float64
	PushChannels      []string
	Entities          []string
}

// FromMonitor copies the shared monitor section.
func FromMonitor(m config.Monitor, entities []string) Settings {
	return Settings{
		Enable:            m.Enable,
		Cookie:            m.Cookie,
		UserAgent:         m.UserAgent,
		Concurrency:       m.Concurrency,
		IntervalSeconds:   m.IntervalSeconds,
		RequestsPerSecond: m.RequestsPerSecond,
		PushChannels:      m.PushChannels,
		Entities:          entities,
	}
}

// Probe is one monitored platform.
type Probe interface {
	Platform() string
	Settings(cfg *config.Config) Settings
	Fetch(ctx context.Context, s *Session, entityID string) (Record, error)
	Compare(old, new Record) Change
	// Notification describes a change; old is nil for an insert.
	Notification(entityID string, old, new Record, change Change) notify.Request
	ExpiredNotice() notify.Request
}

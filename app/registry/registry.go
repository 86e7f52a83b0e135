// Package registry collects monitor and task descriptors. Packages register
// from init; the supervisor discovers them once at boot.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/credential"
	"github.com/lysyi3m/webmoniter/app/database"
	"github.com/lysyi3m/webmoniter/app/notify"
)

type Kind string

const (
	KindMonitor Kind = "monitor"
	KindTask    Kind = "task"
)

type TriggerKind string

const (
	Interval TriggerKind = "interval"
	Cron     TriggerKind = "cron"
)

// Trigger is what a descriptor derives from a config snapshot.
type Trigger struct {
	Kind    TriggerKind
	Enabled bool
	Every   time.Duration
	Hour    int
	Minute  int
}

// Spec renders the trigger for robfig/cron.
func (t Trigger) Spec() string {
	if t.Kind == Interval {
		return fmt.Sprintf("@every %s", t.Every)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
}

func (t Trigger) String() string {
	if t.Kind == Interval {
		return fmt.Sprintf("every %s", t.Every)
	}
	return fmt.Sprintf("daily at %02d:%02d", t.Hour, t.Minute)
}

// Job is one runnable monitor or task instance.
type Job interface {
	Run(ctx context.Context) error
}

// Reloader is implemented by jobs that react to config changes beyond
// their trigger.
type Reloader interface {
	Reload(ctx context.Context, old, new *config.Config) error
}

// Env carries the shared services a job may use.
type Env struct {
	Config      *config.Store
	Snapshots   database.SnapshotRepository
	Credentials *credential.Cache
	Sender      notify.Sender
	Client      *http.Client
	LogDir      string
	DataDir     string
}

type Descriptor struct {
	ID         string
	Kind       Kind
	OncePerDay bool
	// RunOnStart fires the job once right after the scheduler starts.
	RunOnStart bool
	Trigger    func(cfg *config.Config) Trigger
	New        func(env Env) (Job, error)
}

type Registry struct {
	mu          sync.Mutex
	descriptors []Descriptor
	discovered  bool
}

func New() *Registry {
	return &Registry{}
}

// Default is the registry packages register into from init.
var Default = New()

func Register(d Descriptor) {
	Default.Register(d)
}

func Discover() []Descriptor {
	return Default.Discover()
}

// Register adds d. Registration problems are programming errors and panic.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.discovered {
		panic(fmt.Sprintf("registry: %s registered after discovery", d.ID))
	}
	if d.ID == "" || d.Trigger == nil || d.New == nil {
		panic(fmt.Sprintf("registry: incomplete descriptor %q", d.ID))
	}
	for _, existing := range r.descriptors {
		if existing.ID == d.ID {
			panic(fmt.Sprintf("registry: duplicate job id %s", d.ID))
		}
	}
	r.descriptors = append(r.descriptors, d)
}

// Discover freezes the registry and returns its descriptors, monitors first,
// then by id.
func (r *Registry) Discover() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.discovered {
		sort.SliceStable(r.descriptors, func(i, j int) bool {
			if r.descriptors[i].Kind != r.descriptors[j].Kind {
				return r.descriptors[i].Kind == KindMonitor
			}
			return r.descriptors[i].ID < r.descriptors[j].ID
		})
		r.discovered = true
	}

	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

func (r *Registry) Lookup(id string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.descriptors {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

func Lookup(id string) (Descriptor, bool) {
	return Default.Lookup(id)
}

// Package scheduler drives monitors and tasks on interval and daily triggers.
// A job never overlaps itself: a firing that lands while the previous run is
// still active is dropped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/webmoniter/app/logging"
	"github.com/lysyi3m/webmoniter/app/metrics"
	"github.com/lysyi3m/webmoniter/app/registry"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job is already running")
	ErrStopped     = errors.New("scheduler is stopped")
)

// cancelGrace bounds the wait for runs to return after force-cancel.
const cancelGrace = 5 * time.Second

type Func func(ctx context.Context) error

type Option func(*entry)

// WithBypass sets the function TriggerNow runs when bypassing the
// once-per-day guard.
func WithBypass(raw Func) Option {
	return func(e *entry) { e.raw = raw }
}

// RunOnStart fires the job once when the scheduler starts.
func RunOnStart() Option {
	return func(e *entry) { e.onStart = true }
}

type JobInfo struct {
	ID         string
	Trigger    string
	Enabled    bool
	Running    bool
	Next       time.Time
	LastRun    time.Time
	LastStatus string
}

type entry struct {
	id      string
	trigger registry.Trigger
	fn      Func
	raw     Func
	onStart bool
	cronID  cron.EntryID
	running atomic.Bool

	mu         sync.Mutex
	lastRun    time.Time
	lastStatus string
}

type Scheduler struct {
	cron   *cron.Cron
	router *logging.Router

	mu       sync.Mutex
	entries  map[string]*entry
	started  bool
	stopping bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler firing daily triggers in loc. router may be nil.
func New(loc *time.Location, router *logging.Router) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		router:  router,
		entries: map[string]*entry{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) AddInterval(id string, fn Func, seconds int, opts ...Option) error {
	if seconds <= 0 {
		return fmt.Errorf("interval for %s must be positive, got %d", id, seconds)
	}
	t := registry.Trigger{Kind: registry.Interval, Enabled: true, Every: time.Duration(seconds) * time.Second}
	return s.Add(id, t, fn, opts...)
}

func (s *Scheduler) AddCron(id string, fn Func, hour, minute int, opts ...Option) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid time %02d:%02d for %s", hour, minute, id)
	}
	t := registry.Trigger{Kind: registry.Cron, Enabled: true, Hour: hour, Minute: minute}
	return s.Add(id, t, fn, opts...)
}

// Add registers a job. A disabled trigger keeps the job available to
// TriggerNow without scheduling it.
func (s *Scheduler) Add(id string, t registry.Trigger, fn Func, opts ...Option) error {
	e := &entry{id: id, trigger: t, fn: fn, raw: fn}
	for _, opt := range opts {
		opt(e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return fmt.Errorf("job %s already scheduled", id)
	}
	if err := s.schedule(e); err != nil {
		return err
	}
	s.entries[id] = e
	slog.Debug("Job added", "job", id, "trigger", t.String(), "enabled", t.Enabled)
	return nil
}

func (s *Scheduler) schedule(e *entry) error {
	if !e.trigger.Enabled {
		e.cronID = 0
		return nil
	}
	cronID, err := s.cron.AddFunc(e.trigger.Spec(), func() { s.fire(e, "schedule") })
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", e.id, err)
	}
	e.cronID = cronID
	return nil
}

func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if e.cronID != 0 {
		s.cron.Remove(e.cronID)
	}
	delete(s.entries, id)
	return nil
}

// Update reschedules id when its trigger changed and reports whether it did.
// A run in flight is left alone.
func (s *Scheduler) Update(id string, t registry.Trigger) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if e.trigger == t {
		return false, nil
	}

	if e.cronID != 0 {
		s.cron.Remove(e.cronID)
	}
	old := e.trigger
	e.trigger = t
	if err := s.schedule(e); err != nil {
		return false, err
	}
	slog.Info("Job rescheduled", "job", id, "from", old.String(), "to", t.String(), "enabled", t.Enabled)
	return true, nil
}

func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := JobInfo{
			ID:      e.id,
			Trigger: e.trigger.String(),
			Enabled: e.trigger.Enabled,
			Running: e.running.Load(),
		}
		if e.cronID != 0 {
			info.Next = s.cron.Entry(e.cronID).Next
		}
		e.mu.Lock()
		info.LastRun, info.LastStatus = e.lastRun, e.lastStatus
		e.mu.Unlock()
		jobs = append(jobs, info)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Start begins firing triggers and kicks off run-on-start jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	var startup []*entry
	for _, e := range s.entries {
		if e.onStart && e.trigger.Enabled {
			startup = append(startup, e)
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	slog.Info("Scheduler started", "jobs", len(s.Jobs()))

	for _, e := range startup {
		go s.fire(e, "startup")
	}
}

// TriggerNow runs id synchronously. With bypass the once-per-day guard is
// skipped.
func (s *Scheduler) TriggerNow(ctx context.Context, id string, bypass bool) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	fn := e.fn
	if bypass {
		fn = e.raw
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrJobRunning, id)
	}
	defer e.running.Store(false)

	if !s.track() {
		return ErrStopped
	}
	defer s.wg.Done()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.exec(runCtx, e, fn, "manual")
}

// Shutdown stops new firings, waits up to drain for in-flight runs, then
// cancels them.
func (s *Scheduler) Shutdown(drain time.Duration) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	s.cron.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		slog.Info("Scheduler stopped")
		return nil
	case <-time.After(drain):
	}

	slog.Warn("Drain timeout reached, cancelling running jobs", "timeout", drain)
	s.cancel()
	select {
	case <-done:
	case <-time.After(cancelGrace):
	}
	return fmt.Errorf("jobs still running after %s drain", drain)
}

func (s *Scheduler) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.wg.Add(1)
	return true
}

// fire runs e's scheduled function unless a run is already active.
func (s *Scheduler) fire(e *entry, source string) {
	if !e.running.CompareAndSwap(false, true) {
		slog.Warn("Previous run still active, skipping", "job", e.id, "source", source)
		metrics.ObserveJob(e.id, "coalesced", 0)
		return
	}
	defer e.running.Store(false)

	if !s.track() {
		return
	}
	defer s.wg.Done()

	s.exec(s.ctx, e, e.fn, source)
}

func (s *Scheduler) exec(ctx context.Context, e *entry, fn Func, source string) (err error) {
	if s.router != nil {
		detach := s.router.Attach(e.id)
		defer detach()
	}
	ctx = logging.WithJob(ctx, e.id)
	runID := uuid.NewString()
	start := time.Now()

	slog.InfoContext(ctx, "Job started", "job", e.id, "run", runID, "source", source)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			slog.ErrorContext(ctx, "Job panicked", "job", e.id, "run", runID, "panic", r, "stack", string(debug.Stack()))
		}

		status := "success"
		duration := time.Since(start)
		switch {
		case errors.Is(err, ErrAlreadyRan):
			status = "skipped"
			err = nil
			slog.InfoContext(ctx, "Job already ran today", "job", e.id, "run", runID)
		case err != nil:
			status = "error"
			slog.ErrorContext(ctx, "Job failed", "job", e.id, "run", runID, "duration", duration, "error", err)
		default:
			slog.InfoContext(ctx, "Job completed", "job", e.id, "run", runID, "duration", duration)
		}

		metrics.ObserveJob(e.id, status, duration)
		e.mu.Lock()
		e.lastRun, e.lastStatus = start, status
		e.mu.Unlock()
	}()

	return fn(ctx)
}

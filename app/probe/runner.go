package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/credential"
	"github.com/lysyi3m/webmoniter/app/database"
	"github.com/lysyi3m/webmoniter/app/metrics"
	"github.com/lysyi3m/webmoniter/app/notify"
)

// precheckSample bounds how many entities are tried while the credential is
// marked invalid.
const precheckSample = 3

type Deps struct {
	Config      *config.Store
	Snapshots   database.SnapshotRepository
	Credentials *credential.Cache
	Sender      notify.Sender
	Client      *http.Client
}

// Runner drives one probe. Runs of the same runner are serialized.
type Runner struct {
	probe       Probe
	config      *config.Store
	snapshots   database.SnapshotRepository
	credentials *credential.Cache
	sender      notify.Sender
	session     *Session

	runMu   sync.Mutex
	mu      sync.Mutex
	applied Settings
	shuffle func(n int) []int
}

func NewRunner(p Probe, deps Deps) *Runner {
	settings := p.Settings(deps.Config.Get())
	return &Runner{
		probe:       p,
		config:      deps.Config,
		snapshots:   deps.Snapshots,
		credentials: deps.Credentials,
		sender:      deps.Sender,
		session:     NewSession(deps.Client, settings),
		applied:     settings,
		shuffle:     rand.Perm,
	}
}

func (r *Runner) Platform() string {
	return r.probe.Platform()
}

func (r *Runner) Session() *Session {
	return r.session
}

// Summary counts what one run did.
type Summary struct {
	Fetched    int
	Inserted   int
	Changed    int
	Suppressed int
	Expired    int
	Errors     int
	Skipped    bool
}

// Run executes one probe pass. Fetch failures are logged and counted, never
// returned; the only error is a cancelled context.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	platform := r.probe.Platform()
	start := time.Now()

	settings := r.refresh(ctx)
	if len(settings.Entities) == 0 {
		slog.InfoContext(ctx, "No entities configured, skipping", "platform", platform)
		return Summary{Skipped: true}, nil
	}

	if !r.precheck(ctx, settings) {
		return Summary{Skipped: true}, ctx.Err()
	}

	summary := r.fanOut(ctx, settings)

	slog.InfoContext(ctx, "Probe run completed",
		"platform", platform,
		"duration", time.Since(start),
		"entities", len(settings.Entities),
		"fetched", summary.Fetched,
		"inserted", summary.Inserted,
		"changed", summary.Changed,
		"suppressed", summary.Suppressed,
		"errors", summary.Errors)

	return summary, ctx.Err()
}

// refresh re-reads the snapshot and updates the session. A changed cookie
// opens a fresh expiry episode.
func (r *Runner) refresh(ctx context.Context) Settings {
	settings := r.probe.Settings(r.config.Get())
	r.apply(ctx, settings)
	return settings
}

func (r *Runner) apply(ctx context.Context, settings Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()

	platform := r.probe.Platform()
	cookieChanged := r.applied.Cookie != settings.Cookie
	if r.session.Update(settings) {
		slog.InfoContext(ctx, "Session headers updated",
			"platform", platform,
			"cookie_changed", cookieChanged,
			"user_agent_changed", r.applied.UserAgent != settings.UserAgent)
	}
	if cookieChanged {
		r.credentials.MarkValid(platform)
		metrics.SetCredentialValid(platform, true)
	}
	r.applied = settings
}

// precheck reports whether the run should proceed. While the credential is
// marked invalid a few random entities are probed first; the run is skipped
// only if every one of them reports an expired credential.
func (r *Runner) precheck(ctx context.Context, settings Settings) bool {
	platform := r.probe.Platform()
	if r.credentials.IsValid(platform) {
		return true
	}

	n := len(settings.Entities)
	if n > precheckSample {
		n = precheckSample
	}
	slog.WarnContext(ctx, "Credential marked expired, verifying", "platform", platform, "samples", n)

	expired := 0
	order := r.shuffle(len(settings.Entities))
	for _, idx := range order[:n] {
		if ctx.Err() != nil {
			return false
		}
		entity := settings.Entities[idx]
		_, err := r.probe.Fetch(ctx, r.session, entity)
		switch {
		case err == nil:
			r.credentials.MarkValid(platform)
			metrics.SetCredentialValid(platform, true)
			slog.InfoContext(ctx, "Credential verified, resuming", "platform", platform, "entity", entity)
			return true
		case errors.Is(err, ErrCredentialExpired):
			expired++
		default:
			slog.DebugContext(ctx, "Verification fetch failed", "platform", platform, "entity", entity, "error", err)
		}
	}

	if expired == n {
		slog.WarnContext(ctx, "Credential still expired, skipping run", "platform", platform, "tried", n)
		return false
	}
	return true
}

func (r *Runner) fanOut(ctx context.Context, settings Settings) Summary {
	platform := r.probe.Platform()

	firstRun := false
	count, err := r.snapshots.CountSnapshots(ctx, platform)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to count snapshots, suppressing inserts", "platform", platform, "error", err)
		firstRun = true
	} else if count == 0 {
		firstRun = true
		slog.InfoContext(ctx, "No stored state, first run notifications suppressed", "platform", platform)
	}

	concurrency := settings.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	var (
		mu      sync.Mutex
		summary Summary
		g       errgroup.Group
	)
	record := func(f func(s *Summary)) {
		mu.Lock()
		f(&summary)
		mu.Unlock()
	}

	for _, entity := range settings.Entities {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := r.process(ctx, settings, entity, firstRun, record); err != nil {
				record(func(s *Summary) { s.Errors++ })
				slog.ErrorContext(ctx, "Entity failed", "platform", platform, "entity", entity, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return summary
}

func (r *Runner) process(ctx context.Context, settings Settings, entity string, firstRun bool, record func(func(*Summary))) (err error) {
	platform := r.probe.Platform()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	current, err := r.probe.Fetch(ctx, r.session, entity)
	if errors.Is(err, ErrCredentialExpired) {
		record(func(s *Summary) { s.Expired++ })
		metrics.ProbeFetches.WithLabelValues(platform, "expired").Inc()
		r.handleExpired(ctx, settings)
		return nil
	}
	if err != nil {
		metrics.ProbeFetches.WithLabelValues(platform, "error").Inc()
		return &FetchError{Platform: platform, Entity: entity, Err: err}
	}
	record(func(s *Summary) { s.Fetched++ })

	if !r.credentials.IsValid(platform) {
		r.credentials.MarkValid(platform)
		metrics.SetCredentialValid(platform, true)
		slog.InfoContext(ctx, "Credential recovered", "platform", platform)
	}

	previous, err := r.snapshots.GetSnapshot(ctx, platform, entity)
	if err != nil {
		metrics.ProbeFetches.WithLabelValues(platform, "error").Inc()
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	var change Change
	if previous == nil {
		change = Change{Kind: Inserted, Silent: firstRun}
	} else {
		change = r.probe.Compare(Record(previous), current)
	}

	if change.Kind == Unchanged {
		metrics.ProbeFetches.WithLabelValues(platform, "unchanged").Inc()
		slog.DebugContext(ctx, "No change", "platform", platform, "entity", entity)
		return nil
	}

	// A reload may have dropped the entity while it was being fetched.
	if !r.configured(entity) {
		slog.InfoContext(ctx, "Entity no longer configured, discarding result", "platform", platform, "entity", entity)
		return nil
	}

	if err := r.snapshots.SaveSnapshot(ctx, platform, entity, current); err != nil {
		metrics.ProbeFetches.WithLabelValues(platform, "error").Inc()
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	switch {
	case change.Silent:
		record(func(s *Summary) { s.Suppressed++ })
		metrics.ProbeFetches.WithLabelValues(platform, "suppressed").Inc()
		slog.InfoContext(ctx, "Snapshot stored without notification", "platform", platform, "entity", entity, "kind", change.Kind)
		return nil
	case change.Kind == Inserted:
		record(func(s *Summary) { s.Inserted++ })
		metrics.ProbeFetches.WithLabelValues(platform, "inserted").Inc()
	default:
		record(func(s *Summary) { s.Changed++ })
		metrics.ProbeFetches.WithLabelValues(platform, "changed").Inc()
	}

	var old Record
	if previous != nil {
		old = Record(previous)
	}
	req := r.probe.Notification(entity, old, current, change)
	slog.InfoContext(ctx, "Change detected", "platform", platform, "entity", entity, "kind", change.Kind, "title", req.Title)

	res := r.sender.Send(ctx, req, settings.PushChannels)
	if !res.OK() {
		slog.WarnContext(ctx, "Notification partially failed", "platform", platform, "entity", entity, "errors", res.Errors)
	}
	return nil
}

func (r *Runner) configured(entity string) bool {
	for _, id := range r.probe.Settings(r.config.Get()).Entities {
		if id == entity {
			return true
		}
	}
	return false
}

// handleExpired marks the platform invalid and sends the notice once per
// episode. MarkNotified is the claim, so concurrent workers cannot both send.
func (r *Runner) handleExpired(ctx context.Context, settings Settings) {
	platform := r.probe.Platform()
	r.credentials.MarkExpired(platform)
	metrics.SetCredentialValid(platform, false)

	if !r.credentials.MarkNotified(platform) {
		return
	}
	slog.ErrorContext(ctx, "Credential expired, notifying", "platform", platform)
	res := r.sender.Send(ctx, r.probe.ExpiredNotice(), settings.PushChannels)
	if !res.OK() {
		slog.WarnContext(ctx, "Credential expiry notice failed", "platform", platform, "errors", res.Errors)
	}
}

// Reload is the config listener: it refreshes the session and deletes
// snapshots of entities that left the configuration. The delete waits for an
// in-flight run so that run cannot write a removed entity back.
func (r *Runner) Reload(ctx context.Context, old, new *config.Config) error {
	if new == nil {
		return nil
	}
	newSettings := r.probe.Settings(new)
	r.apply(ctx, newSettings)

	if old == nil {
		return nil
	}
	removed := config.RemovedEntities(r.probe.Settings(old).Entities, newSettings.Entities)
	if len(removed) == 0 {
		return nil
	}

	r.runMu.Lock()
	defer r.runMu.Unlock()

	platform := r.probe.Platform()
	n, err := r.snapshots.DeleteSnapshots(ctx, platform, removed)
	if err != nil {
		return fmt.Errorf("failed to reconcile %s snapshots: %w", platform, err)
	}
	slog.InfoContext(ctx, "Removed snapshots for unconfigured entities", "platform", platform, "entities", removed, "deleted", n)
	return nil
}

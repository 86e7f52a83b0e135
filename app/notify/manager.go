package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/metrics"
	"github.com/lysyi3m/webmoniter/app/push"
)

const (
	MaxRetries  = 3
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// Delivery is the outcome for one channel.
type Delivery struct {
	Channel  string
	Type     string
	OK       bool
	Attempts int
	Retries  int
	Error    string
}

// Result aggregates one fan-out. Suppressed is set when quiet hours dropped
// the request before any dispatch.
type Result struct {
	Results    map[string]Delivery
	Errors     []string
	Suppressed bool
}

func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Sender is what probes and tasks depend on.
type Sender interface {
	Send(ctx context.Context, req Request, only []string) Result
}

type builtChannel struct {
	def config.Channel
	ch  push.Channel
	err error
}

// Manager owns the channel adapters built from the current snapshot and keeps
// them across reloads that leave their definition untouched, so token caches
// and rate limiters survive.
type Manager struct {
	store  *config.Store
	client *http.Client

	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	newChannel func(def config.Channel, client *http.Client) (push.Channel, error)

	mu       sync.Mutex
	channels map[string]*builtChannel
}

func NewManager(store *config.Store, client *http.Client) *Manager {
	if client == nil {
		client = &http.Client{Timeout: push.DefaultTimeout}
	}
	return &Manager{
		store:      store,
		client:     client,
		now:        time.Now,
		sleep:      sleepContext,
		newChannel: push.New,
		channels:   map[string]*builtChannel{},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sync rebuilds adapters whose definition changed and drops removed ones.
// Misconfigured channels are logged once here and skipped by Send.
func (m *Manager) Sync(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncLocked(cfg)
}

func (m *Manager) syncLocked(cfg *config.Config) {
	if cfg == nil {
		return
	}
	seen := make(map[string]bool, len(cfg.Channels))
	for _, def := range cfg.Channels {
		seen[def.Name] = true
		if cur, ok := m.channels[def.Name]; ok && reflect.DeepEqual(cur.def, def) {
			continue
		}
		ch, err := m.newChannel(def, m.client)
		if err != nil && def.Enable {
			slog.Warn("Push channel misconfigured, skipping", "channel", def.Name, "type", def.Type, "error", err)
		}
		m.channels[def.Name] = &builtChannel{def: def, ch: ch, err: err}
	}
	for name := range m.channels {
		if !seen[name] {
			delete(m.channels, name)
		}
	}
}

type target struct {
	name string
	ch   push.Channel
}

func (m *Manager) targets(cfg *config.Config, only []string) ([]target, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncLocked(cfg)

	var allow map[string]bool
	if len(only) > 0 {
		allow = make(map[string]bool, len(only))
		for _, name := range only {
			allow[name] = true
		}
	}

	var (
		out     []target
		skipped []string
	)
	for _, def := range cfg.Channels {
		if !def.Enable || (allow != nil && !allow[def.Name]) {
			continue
		}
		built := m.channels[def.Name]
		if built == nil || built.err != nil {
			skipped = append(skipped, def.Name)
			continue
		}
		out = append(out, target{name: def.Name, ch: built.ch})
	}
	return out, skipped
}

// Send dispatches req to every enabled channel, restricted to only when it is
// non-empty. It never returns an error; failures are listed in the result.
func (m *Manager) Send(ctx context.Context, req Request, only []string) Result {
	result := Result{Results: map[string]Delivery{}}

	cfg := m.store.Get()
	if cfg == nil {
		return result
	}

	if config.InQuietHours(m.now(), cfg) {
		slog.InfoContext(ctx, "Quiet hours, notification suppressed", "title", req.Title)
		metrics.QuietSuppressed.Inc()
		result.Suppressed = true
		return result
	}

	targets, skipped := m.targets(cfg, only)
	if len(skipped) > 0 {
		slog.DebugContext(ctx, "Skipping misconfigured channels", "channels", skipped)
	}
	if len(targets) == 0 {
		slog.DebugContext(ctx, "No push channels selected", "title", req.Title)
		return result
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, t := range targets {
		g.Go(func() error {
			d := m.deliver(ctx, t, req)
			mu.Lock()
			result.Results[t.name] = d
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	names := make([]string, 0, len(result.Results))
	for name := range result.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if d := result.Results[name]; !d.OK {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", name, d.Error))
		}
	}
	return result
}

func (m *Manager) deliver(ctx context.Context, t target, req Request) (d Delivery) {
	d = Delivery{Channel: t.name, Type: t.ch.Type()}

	defer func() {
		if r := recover(); r != nil {
			d.OK = false
			d.Error = fmt.Sprintf("panic: %v", r)
			slog.ErrorContext(ctx, "Push channel panicked", "channel", t.name, "panic", r)
			metrics.Deliveries.WithLabelValues(t.name, d.Type, "error").Inc()
		}
	}()

	msg := push.Message{
		Title:   req.Title,
		Content: Truncate(req.bodyFor(t.ch.Type()), t.ch.MaxContentBytes()),
		URL:     req.URL,
		PicURL:  req.PicURL,
		Button:  req.Button,
		Extra:   req.Extra,
		Payload: req.payload(),
	}

	for {
		d.Attempts++
		err := m.push(ctx, t.ch, msg)
		if err == nil {
			d.OK = true
			metrics.Deliveries.WithLabelValues(t.name, d.Type, "success").Inc()
			slog.InfoContext(ctx, "Push delivered", "channel", t.name, "type", d.Type, "attempts", d.Attempts)
			return d
		}

		if !errors.Is(err, push.ErrRateLimited) {
			d.Error = err.Error()
			metrics.Deliveries.WithLabelValues(t.name, d.Type, "error").Inc()
			slog.WarnContext(ctx, "Push failed", "channel", t.name, "type", d.Type, "error", err)
			return d
		}

		metrics.Deliveries.WithLabelValues(t.name, d.Type, "rate_limited").Inc()
		if d.Retries >= MaxRetries {
			d.Error = err.Error()
			slog.WarnContext(ctx, "Push rate limited, giving up", "channel", t.name, "retries", d.Retries)
			return d
		}

		wait := backoff(d.Retries, err)
		slog.InfoContext(ctx, "Push rate limited, retrying", "channel", t.name, "wait", wait, "retry", d.Retries+1)
		if serr := m.sleep(ctx, wait); serr != nil {
			d.Error = serr.Error()
			return d
		}
		d.Retries++
	}
}

func (m *Manager) push(ctx context.Context, ch push.Channel, msg push.Message) error {
	ctx, cancel := context.WithTimeout(ctx, push.DefaultTimeout)
	defer cancel()
	return ch.Push(ctx, msg)
}

// backoff doubles from one second, honoring a larger provider hint, capped
// at thirty seconds.
func backoff(retry int, err error) time.Duration {
	wait := baseBackoff << retry
	var rl *push.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > wait {
		wait = rl.RetryAfter
	}
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}

// Package logging routes slog records to stderr, a daily main log file and,
// while a job runs, that job's own daily file.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	MainLogPrefix = "webmoniter"
	JobLogPrefix  = "task"
	dateLayout    = "20060102"
)

type jobKey struct{}

// WithJob tags ctx so records logged through it reach the job's file.
func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobKey{}, jobID)
}

// JobFrom returns the job id carried by ctx, if any.
func JobFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(jobKey{}).(string)
	return id
}

type jobSink struct {
	file *dailyFile
	refs int
}

type core struct {
	mu     sync.Mutex
	dir    string
	level  slog.Leveler
	stderr io.Writer
	main   *dailyFile
	jobs   map[string]*jobSink
	now    func() time.Time
}

// Router is a slog.Handler. Handlers derived via WithAttrs/WithGroup share
// the same sinks.
type Router struct {
	core *core
	ops  []func(slog.Handler) slog.Handler
}

// NewRouter writes to stderr and, when dir is non-empty, to daily files
// under dir.
func NewRouter(dir string, level slog.Leveler, stderr io.Writer) (*Router, error) {
	c := &core{
		dir:    dir,
		level:  level,
		stderr: stderr,
		jobs:   map[string]*jobSink{},
		now:    time.Now,
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		c.main = &dailyFile{dir: dir, prefix: MainLogPrefix, now: c.now}
	}
	return &Router{core: c}, nil
}

// Setup installs a Router as the slog default.
func Setup(dir string, debug bool) (*Router, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	r, err := NewRouter(dir, level, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(r))
	return r, nil
}

// Attach opens the per-job file for jobID until the returned func is called.
// Nested attaches for the same job share one file.
func (r *Router) Attach(jobID string) func() {
	c := r.core
	if c.dir == "" || jobID == "" {
		return func() {}
	}

	c.mu.Lock()
	sink, ok := c.jobs[jobID]
	if !ok {
		safe := strings.NewReplacer("/", "_", "\\", "_").Replace(jobID)
		sink = &jobSink{file: &dailyFile{dir: c.dir, prefix: JobLogPrefix + "_" + safe, now: c.now}}
		c.jobs[jobID] = sink
	}
	sink.refs++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			sink.refs--
			if sink.refs == 0 {
				sink.file.Close()
				delete(c.jobs, jobID)
			}
		})
	}
}

// Close releases every open file.
func (r *Router) Close() error {
	c := r.core
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, sink := range c.jobs {
		sink.file.Close()
		delete(c.jobs, id)
	}
	if c.main != nil {
		return c.main.Close()
	}
	return nil
}

func (r *Router) Enabled(_ context.Context, level slog.Level) bool {
	return level >= r.core.level.Level()
}

func (r *Router) Handle(ctx context.Context, rec slog.Record) error {
	c := r.core
	c.mu.Lock()
	defer c.mu.Unlock()

	writers := make([]io.Writer, 0, 3)
	if c.stderr != nil {
		writers = append(writers, c.stderr)
	}
	if c.main != nil {
		writers = append(writers, c.main)
	}

	jobID := JobFrom(ctx)
	if jobID != "" {
		rec = rec.Clone()
		rec.AddAttrs(slog.String("job", jobID))
		if sink, ok := c.jobs[jobID]; ok {
			writers = append(writers, sink.file)
		}
	}

	var h slog.Handler = slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: c.level})
	for _, op := range r.ops {
		h = op(h)
	}
	return h.Handle(ctx, rec)
}

func (r *Router) WithAttrs(attrs []slog.Attr) slog.Handler {
	return r.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (r *Router) WithGroup(name string) slog.Handler {
	if name == "" {
		return r
	}
	return r.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (r *Router) with(op func(slog.Handler) slog.Handler) *Router {
	ops := make([]func(slog.Handler) slog.Handler, len(r.ops), len(r.ops)+1)
	copy(ops, r.ops)
	return &Router{core: r.core, ops: append(ops, op)}
}

// dailyFile appends to {prefix}_{YYYYMMDD}.log, switching files when the
// local date changes. Callers serialize access.
type dailyFile struct {
	dir    string
	prefix string
	now    func() time.Time
	day    string
	f      *os.File
}

func (d *dailyFile) Write(p []byte) (int, error) {
	day := d.now().Format(dateLayout)
	if d.f == nil || day != d.day {
		if d.f != nil {
			d.f.Close()
			d.f = nil
		}
		f, err := os.OpenFile(filepath.Join(d.dir, d.prefix+"_"+day+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, err
		}
		d.f, d.day = f, day
	}
	return d.f.Write(p)
}

func (d *dailyFile) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/push"
)

type fakeChannel struct {
	name     string
	typ      string
	maxBytes int

	mu       sync.Mutex
	messages []push.Message
	errs     []error
	panics   bool
}

func (f *fakeChannel) Name() string         { return f.name }
func (f *fakeChannel) Type() string         { return f.typ }
func (f *fakeChannel) MaxContentBytes() int { return f.maxBytes }

func (f *fakeChannel) Push(ctx context.Context, msg push.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	if f.panics {
		panic("adapter bug")
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeChannel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type harness struct {
	manager  *Manager
	channels map[string]*fakeChannel
	sleeps   []time.Duration
}

func newHarness(t *testing.T, cfg *config.Config, fakes ...*fakeChannel) *harness {
	t.Helper()
	h := &harness{channels: map[string]*fakeChannel{}}
	for _, f := range fakes {
		h.channels[f.name] = f
		cfg.Channels = append(cfg.Channels, config.Channel{Name: f.name, Type: f.typ, Enable: true})
	}

	h.manager = NewManager(config.NewStore(cfg), nil)
	h.manager.now = func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local) }
	h.manager.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	h.manager.newChannel = func(def config.Channel, client *http.Client) (push.Channel, error) {
		if f, ok := h.channels[def.Name]; ok {
			return f, nil
		}
		return push.New(def, client)
	}
	return h
}

func TestSendToAllEnabledChannels(t *testing.T) {
	cfg := config.Defaults()
	h := newHarness(t, cfg,
		&fakeChannel{name: "a", typ: "bark"},
		&fakeChannel{name: "b", typ: "telegram_bot"},
	)
	cfg.Channels = append(cfg.Channels, config.Channel{Name: "off", Type: "demo", Enable: false})

	res := h.manager.Send(context.Background(), Request{Title: "t", Body: "hello"}, nil)
	if !res.OK() {
		t.Fatalf("Expected success, got %v", res.Errors)
	}
	if len(res.Results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(res.Results))
	}
	if _, ok := res.Results["off"]; ok {
		t.Error("Expected disabled channel to be skipped")
	}
	if h.channels["a"].messages[0].Content != "hello" {
		t.Errorf("Expected body 'hello', got %q", h.channels["a"].messages[0].Content)
	}
}

func TestSendIsolatesFailures(t *testing.T) {
	cfg := config.Defaults()
	h := newHarness(t, cfg,
		&fakeChannel{name: "ok1", typ: "bark"},
		&fakeChannel{name: "broken", typ: "gotify", errs: []error{errors.New("connection refused")}},
		&fakeChannel{name: "panicky", typ: "webhook", panics: true},
		&fakeChannel{name: "ok2", typ: "demo"},
	)

	res := h.manager.Send(context.Background(), Request{Title: "t", Body: "b"}, nil)

	if len(res.Results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(res.Results))
	}
	if !res.Results["ok1"].OK || !res.Results["ok2"].OK {
		t.Errorf("Expected healthy channels to succeed, got %+v", res.Results)
	}
	if res.Results["broken"].OK || res.Results["panicky"].OK {
		t.Errorf("Expected failing channels to be recorded as failures, got %+v", res.Results)
	}
	if len(res.Errors) != 2 {
		t.Errorf("Expected 2 errors, got %v", res.Errors)
	}
	if !strings.HasPrefix(res.Errors[0], "broken:") || !strings.HasPrefix(res.Errors[1], "panicky:") {
		t.Errorf("Expected sorted error entries, got %v", res.Errors)
	}
}

func TestSendRespectsContentCap(t *testing.T) {
	cfg := config.Defaults()
	wecom := &fakeChannel{name: "wecom", typ: "wecom_apps", maxBytes: 500}
	tg := &fakeChannel{name: "tg", typ: "telegram_bot", maxBytes: 4096}
	h := newHarness(t, cfg, wecom, tg)

	long := strings.Repeat("直播", 400)
	h.manager.Send(context.Background(), Request{Title: "t", Body: long}, nil)

	got := wecom.messages[0].Content
	if len(got) > 500 {
		t.Errorf("Expected at most 500 bytes, got %d", len(got))
	}
	if !utf8.ValidString(got) {
		t.Error("Expected valid UTF-8 after truncation")
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("Expected ellipsis marker")
	}
	if tg.messages[0].Content != long {
		t.Error("Expected body under the cap to be delivered unchanged")
	}
}

func TestSendUsesPerChannelBody(t *testing.T) {
	cfg := config.Defaults()
	h := newHarness(t, cfg,
		&fakeChannel{name: "mail", typ: "email"},
		&fakeChannel{name: "bark", typ: "bark"},
	)

	req := Request{
		Title: "t",
		Body:  "plain",
		BodyFor: func(channelType string) string {
			if channelType == "email" {
				return "<b>rich</b>"
			}
			return ""
		},
	}
	h.manager.Send(context.Background(), req, nil)

	if h.channels["mail"].messages[0].Content != "<b>rich</b>" {
		t.Errorf("Expected email body, got %q", h.channels["mail"].messages[0].Content)
	}
	if h.channels["bark"].messages[0].Content != "plain" {
		t.Errorf("Expected default body, got %q", h.channels["bark"].messages[0].Content)
	}
}

func TestSendQuietHours(t *testing.T) {
	cfg := config.Defaults()
	cfg.QuietHours = config.QuietHours{Enable: true, Start: "22:00", End: "08:00"}
	h := newHarness(t, cfg, &fakeChannel{name: "a", typ: "bark"}, &fakeChannel{name: "b", typ: "demo"})
	h.manager.now = func() time.Time { return time.Date(2024, 5, 10, 23, 15, 0, 0, time.Local) }

	res := h.manager.Send(context.Background(), Request{Title: "Alice went live"}, nil)

	if !res.OK() || !res.Suppressed {
		t.Errorf("Expected suppressed success, got %+v", res)
	}
	if len(res.Results) != 0 {
		t.Errorf("Expected empty results, got %v", res.Results)
	}
	for name, f := range h.channels {
		if f.calls() != 0 {
			t.Errorf("Expected no dispatch to %s during quiet hours", name)
		}
	}
}

func TestSendChannelFilter(t *testing.T) {
	cfg := config.Defaults()
	h := newHarness(t, cfg,
		&fakeChannel{name: "wecom", typ: "wecom_apps"},
		&fakeChannel{name: "tg", typ: "telegram_bot"},
		&fakeChannel{name: "bark", typ: "bark"},
	)

	res := h.manager.Send(context.Background(), Request{Title: "t"}, []string{"tg"})

	if len(res.Results) != 1 {
		t.Fatalf("Expected 1 result, got %v", res.Results)
	}
	if h.channels["tg"].calls() != 1 || h.channels["wecom"].calls() != 0 || h.channels["bark"].calls() != 0 {
		t.Error("Expected only tg to receive a dispatch")
	}
}

func TestSendRetriesRateLimited(t *testing.T) {
	cfg := config.Defaults()
	wecom := &fakeChannel{name: "wecom", typ: "wecom_apps", errs: []error{
		&push.RateLimitError{Channel: "wecom", Reason: "30/min"},
	}}
	h := newHarness(t, cfg, wecom)

	res := h.manager.Send(context.Background(), Request{Title: "t"}, nil)

	if !res.OK() {
		t.Fatalf("Expected overall success, got %v", res.Errors)
	}
	d := res.Results["wecom"]
	if d.Retries != 1 || d.Attempts != 2 {
		t.Errorf("Expected 1 retry over 2 attempts, got %+v", d)
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != time.Second {
		t.Errorf("Expected one 1s backoff, got %v", h.sleeps)
	}
}

func TestSendGivesUpAfterMaxRetries(t *testing.T) {
	cfg := config.Defaults()
	limited := &push.RateLimitError{Channel: "wecom", Reason: "limit"}
	wecom := &fakeChannel{name: "wecom", typ: "wecom_apps", errs: []error{limited, limited, limited, limited, limited}}
	h := newHarness(t, cfg, wecom)

	res := h.manager.Send(context.Background(), Request{Title: "t"}, nil)

	d := res.Results["wecom"]
	if d.OK {
		t.Error("Expected failure after exhausting retries")
	}
	if d.Attempts != MaxRetries+1 {
		t.Errorf("Expected %d attempts, got %d", MaxRetries+1, d.Attempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(h.sleeps) != len(want) {
		t.Fatalf("Expected backoffs %v, got %v", want, h.sleeps)
	}
	for i := range want {
		if h.sleeps[i] != want[i] {
			t.Errorf("Expected backoff %d to be %s, got %s", i, want[i], h.sleeps[i])
		}
	}
}

func TestSendDoesNotRetryGenericErrors(t *testing.T) {
	cfg := config.Defaults()
	ch := &fakeChannel{name: "x", typ: "bark", errs: []error{errors.New("boom")}}
	h := newHarness(t, cfg, ch)

	res := h.manager.Send(context.Background(), Request{Title: "t"}, nil)
	if ch.calls() != 1 || res.Results["x"].Attempts != 1 {
		t.Errorf("Expected exactly one attempt, got %d", ch.calls())
	}
}

func TestBackoff(t *testing.T) {
	plain := &push.RateLimitError{}
	hinted := &push.RateLimitError{RetryAfter: 10 * time.Second}
	huge := &push.RateLimitError{RetryAfter: time.Hour}

	tests := []struct {
		retry int
		err   error
		want  time.Duration
	}{
		{0, plain, time.Second},
		{2, plain, 4 * time.Second},
		{0, hinted, 10 * time.Second},
		{2, hinted, 10 * time.Second},
		{0, huge, 30 * time.Second},
		{6, plain, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.retry, tt.err); got != tt.want {
			t.Errorf("backoff(%d, %v): expected %s, got %s", tt.retry, tt.err, tt.want, got)
		}
	}
}

func TestSendSkipsMisconfiguredChannel(t *testing.T) {
	cfg := config.Defaults()
	h := newHarness(t, cfg, &fakeChannel{name: "good", typ: "demo"})
	cfg.Channels = append(cfg.Channels, config.Channel{
		Name: "tg", Type: config.ChannelTelegramBot, Enable: true, Fields: map[string]any{},
	})

	res := h.manager.Send(context.Background(), Request{Title: "t"}, nil)
	if !res.OK() || len(res.Results) != 1 {
		t.Errorf("Expected only the good channel to run, got %+v", res)
	}
}

func TestSyncKeepsUnchangedAdapters(t *testing.T) {
	cfg := config.Defaults()
	cfg.Channels = []config.Channel{{Name: "d", Type: config.ChannelDemo, Enable: true}}
	m := NewManager(config.NewStore(cfg), nil)

	builds := 0
	m.newChannel = func(def config.Channel, client *http.Client) (push.Channel, error) {
		builds++
		return push.New(def, client)
	}

	m.Sync(cfg)
	next := config.Defaults()
	next.Channels = []config.Channel{{Name: "d", Type: config.ChannelDemo, Enable: true}}
	m.Sync(next)
	if builds != 1 {
		t.Errorf("Expected unchanged channel to be reused, got %d builds", builds)
	}

	next.Channels[0].Fields = map[string]any{"param": "x"}
	m.Sync(next)
	if builds != 2 {
		t.Errorf("Expected changed channel to be rebuilt, got %d builds", builds)
	}

	m.Sync(config.Defaults())
	if len(m.channels) != 0 {
		t.Errorf("Expected removed channel to be dropped, got %d", len(m.channels))
	}
}

func TestRequestPayloadCarriesEvent(t *testing.T) {
	cfg := config.Defaults()
	hook := &fakeChannel{name: "hook", typ: "webhook"}
	h := newHarness(t, cfg, hook)

	h.manager.Send(context.Background(), Request{Title: "t", Event: "live_start", Payload: map[string]any{"room": "1"}}, nil)

	payload := hook.messages[0].Payload
	if payload["event"] != "live_start" || payload["room"] != "1" {
		t.Errorf("Expected event and payload, got %v", payload)
	}
}

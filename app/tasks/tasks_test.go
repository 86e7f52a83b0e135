package tasks

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/notify"
	"github.com/lysyi3m/webmoniter/app/registry"
)

type fakeSender struct {
	mu       sync.Mutex
	requests []notify.Request
	filters  [][]string
}

func (f *fakeSender) Send(ctx context.Context, req notify.Request, only []string) notify.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.filters = append(f.filters, only)
	return notify.Result{Results: map[string]notify.Delivery{}}
}

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"alice@example.com", "ali***@example.com"},
		{"bob@example.com", "b***@example.com"},
		{"@example.com", "***@example.com"},
		{"not-an-email", "not-an-email"},
	}
	for _, tt := range tests {
		if got := MaskEmail(tt.in); got != tt.want {
			t.Errorf("MaskEmail(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

const userPage = `<div class="card card-statistic-2">
  <h4>剩余流量</h4>
  <div class="card-body">
     12.5
     GB
  </div>
  <div class="card-stats-title">今日已用: 300MB</div>
</div>
<div class="card card-statistic-2"><h4>在线设备</h4><div class="card-body">2</div></div>`

func TestParseTraffic(t *testing.T) {
	want := "📈 剩余流量：12.5 GB\n📊 今日已用：300MB"

	got, err := ParseTraffic(userPage)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	wrapped := `<script>var originBody = "` + base64.StdEncoding.EncodeToString([]byte(userPage)) + `";</script>`
	got, err = ParseTraffic(wrapped)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Expected encoded page to decode to %q, got %q", want, got)
	}

	got, _ = ParseTraffic("<html></html>")
	if got != "" {
		t.Errorf("Expected no traffic lines, got %q", got)
	}
}

type panel struct {
	mu          sync.Mutex
	loginForms  []string
	checkinHits int
	checkinMsg  string
	checkinRet  int
	password    string
}

func (p *panel) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`<form><input type="hidden" name="_token" value="csrf-123"></form>`))
			return
		}
		r.ParseForm()
		p.mu.Lock()
		p.loginForms = append(p.loginForms, r.PostForm.Encode())
		p.mu.Unlock()
		if r.PostForm.Get("passwd") != p.password {
			w.Write([]byte(`{"ret":0,"msg":"邮箱或者密码错误"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "uid", Value: "42", Path: "/"})
		w.Write([]byte(`{"ret":1,"msg":"登录成功"}`))
	})
	mux.HandleFunc("/user/checkin", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.checkinHits++
		p.mu.Unlock()
		if !strings.Contains(r.Header.Get("Cookie"), "uid=42") {
			w.Write([]byte(`{"ret":0,"msg":"未登录"}`))
			return
		}
		w.Write([]byte(`{"ret":` + strconv.Itoa(p.checkinRet) + `,"msg":"` + p.checkinMsg + `"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(userPage))
	})
	return mux
}

func checkinConfig(srv *httptest.Server) *config.Config {
	cfg := config.Defaults()
	cfg.Checkin.Enable = true
	cfg.Checkin.LoginURL = srv.URL + "/auth/login"
	cfg.Checkin.CheckinURL = srv.URL + "/user/checkin"
	cfg.Checkin.UserPageURL = srv.URL + "/user"
	cfg.Checkin.PushChannels = []string{"tg"}
	return cfg
}

func TestIkuuuCheckinMultipleAccounts(t *testing.T) {
	p := &panel{password: "right", checkinRet: 1, checkinMsg: "获得了 500MB 流量"}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	cfg := checkinConfig(srv)
	cfg.Checkin.Accounts = []config.Account{
		{Email: "alice@example.com", Password: "right"},
		{Email: "bob@example.com", Password: "wrong"},
		{Email: "", Password: "skipped"},
	}
	sender := &fakeSender{}
	task := NewIkuuuCheckinTask(config.NewStore(cfg), sender, srv.Client())

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Expected run to succeed with one good account, got %v", err)
	}

	if len(p.loginForms) != 2 {
		t.Fatalf("Expected 2 login attempts, got %d", len(p.loginForms))
	}
	if !strings.Contains(p.loginForms[0], "_token=csrf-123") {
		t.Errorf("Expected CSRF token in login form, got %s", p.loginForms[0])
	}
	if p.checkinHits != 1 {
		t.Errorf("Expected 1 checkin call, got %d", p.checkinHits)
	}

	if len(sender.requests) != 2 {
		t.Fatalf("Expected one notification per account, got %d", len(sender.requests))
	}
	ok := sender.requests[0]
	if ok.Title != "ikuuu签到成功" {
		t.Errorf("Expected success title, got %q", ok.Title)
	}
	if !strings.Contains(ok.Body, "ali***@example.com") || strings.Contains(ok.Body, "alice@") {
		t.Errorf("Expected masked email in body, got %q", ok.Body)
	}
	if !strings.Contains(ok.Body, "剩余流量：12.5 GB") {
		t.Errorf("Expected traffic in body, got %q", ok.Body)
	}
	if sender.requests[1].Title != "ikuuu签到失败：登录失败" {
		t.Errorf("Expected login failure title, got %q", sender.requests[1].Title)
	}
	if len(sender.filters[0]) != 1 || sender.filters[0][0] != "tg" {
		t.Errorf("Expected checkin push_channels filter, got %v", sender.filters[0])
	}
}

func TestIkuuuCheckinAlreadyCheckedIn(t *testing.T) {
	p := &panel{password: "pw", checkinRet: 0, checkinMsg: "您似乎已经签到过了..."}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	cfg := checkinConfig(srv)
	cfg.Checkin.Email = "carol@example.com"
	cfg.Checkin.Password = "pw"
	cfg.Checkin.UserPageURL = ""
	sender := &fakeSender{}

	if err := NewIkuuuCheckinTask(config.NewStore(cfg), sender, srv.Client()).Run(context.Background()); err != nil {
		t.Fatalf("Expected already-checked-in to count as success, got %v", err)
	}
	if len(sender.requests) != 1 || sender.requests[0].URL != cfg.Checkin.LoginURL {
		t.Errorf("Expected one notification linking the login page, got %+v", sender.requests)
	}
}

func TestIkuuuCheckinFailsWhenNoAccountSucceeds(t *testing.T) {
	p := &panel{password: "pw", checkinRet: 0, checkinMsg: "error"}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	cfg := checkinConfig(srv)
	cfg.Checkin.Email = "dan@example.com"
	cfg.Checkin.Password = "pw"

	if err := NewIkuuuCheckinTask(config.NewStore(cfg), &fakeSender{}, srv.Client()).Run(context.Background()); err == nil {
		t.Error("Expected error when every account failed")
	}
}

func TestIkuuuCheckinIncompleteConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Checkin.Enable = true
	sender := &fakeSender{}

	err := NewIkuuuCheckinTask(config.NewStore(cfg), sender, nil).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "checkin.login_url") {
		t.Errorf("Expected missing field error, got %v", err)
	}
	if len(sender.requests) != 0 {
		t.Errorf("Expected no notifications, got %d", len(sender.requests))
	}

	cfg.Checkin.Enable = false
	if err := NewIkuuuCheckinTask(config.NewStore(cfg), sender, nil).Run(context.Background()); err != nil {
		t.Errorf("Expected disabled task to be a no-op, got %v", err)
	}
}

func TestLogCleanupTask(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 10, 2, 0, 0, 0, time.Local)
	files := map[string]bool{
		"webmoniter_20240501.log":        true,
		"task_huya_monitor_20240507.log": true,
		"webmoniter_20240509.log":        false,
		"task_demo_task_20240510.log":    false,
	}
	for name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Defaults()
	cfg.Scheduler.RetentionDays = 3
	task := NewLogCleanupTask(config.NewStore(cfg), dir)
	task.now = func() time.Time { return now }

	if err := task.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for name, removed := range files {
		_, err := os.Stat(filepath.Join(dir, name))
		if removed && !os.IsNotExist(err) {
			t.Errorf("Expected %s to be removed", name)
		}
		if !removed && err != nil {
			t.Errorf("Expected %s to be kept, got %v", name, err)
		}
	}
}

func TestDemoTask(t *testing.T) {
	cfg := config.Defaults()
	sender := &fakeSender{}
	store := config.NewStore(cfg)
	task := NewDemoTask(store, sender)

	if err := task.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sender.requests) != 0 {
		t.Errorf("Expected disabled demo task to stay silent, got %d", len(sender.requests))
	}

	enabled := config.Defaults()
	enabled.Plugins["demo_task"] = config.Plugin{"enable": true, "message": "hello"}
	store.Swap(enabled)

	if err := task.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sender.requests) != 1 || sender.requests[0].Body != "hello" {
		t.Errorf("Expected one demo notification with the configured message, got %+v", sender.requests)
	}
}

func TestTaskTriggers(t *testing.T) {
	cfg := config.Defaults()
	cfg.Checkin.Enable = true
	cfg.Checkin.Time = "25:99"
	cfg.Scheduler.CleanupLogsHour = 3
	cfg.Scheduler.CleanupLogsMinute = 30
	cfg.Plugins["demo_task"] = config.Plugin{"enable": true, "time": "21:15"}

	tests := []struct {
		id           string
		hour, minute int
		onceADay     bool
	}{
		{"log_cleanup", 3, 30, false},
		{"ikuuu_checkin", 8, 0, true},
		{"demo_task", 21, 15, false},
	}
	for _, tt := range tests {
		d, ok := registry.Lookup(tt.id)
		if !ok {
			t.Fatalf("Expected %s to be registered", tt.id)
		}
		tr := d.Trigger(cfg)
		if tr.Kind != registry.Cron || !tr.Enabled || tr.Hour != tt.hour || tr.Minute != tt.minute {
			t.Errorf("%s: expected daily %02d:%02d, got %+v", tt.id, tt.hour, tt.minute, tr)
		}
		if d.OncePerDay != tt.onceADay {
			t.Errorf("%s: expected OncePerDay=%v", tt.id, tt.onceADay)
		}
	}
}

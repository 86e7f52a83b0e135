package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/notify"
)

const (
	checkinUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36 Edg/138.0.0.0"
	checkinTimeout   = 20 * time.Second
	checkinPicURL    = "https://cn.bing.com/th?id=OHR.DubrovnikHarbor_ZH-CN8590217905_1920x1080.jpg"
	checkinMaxBody   = 4 << 20
)

var (
	ErrCheckinConfig = errors.New("incomplete checkin configuration")
	ErrLoginFailed   = errors.New("login failed")

	reOriginBody  = regexp.MustCompile(`originBody\s*=\s*"([A-Za-z0-9+/=]+)"`)
	reWhitespace  = regexp.MustCompile(`\s+`)
	reStatsSuffix = regexp.MustCompile(`[:：]\s*(.+)`)
)

// IkuuuCheckinTask logs into an SSPanel site and checks in every configured
// account, sending one summary per account.
type IkuuuCheckinTask struct {
	Task
	config *config.Store
	sender notify.Sender
	client *http.Client
}

func NewIkuuuCheckinTask(store *config.Store, sender notify.Sender, client *http.Client) *IkuuuCheckinTask {
	if client == nil {
		client = &http.Client{Timeout: checkinTimeout}
	}
	return &IkuuuCheckinTask{
		Task:   NewTask(TaskTypeIkuuuCheckin),
		config: store,
		sender: sender,
		client: client,
	}
}

type checkinResult struct {
	account config.Account
	ok      bool
	title   string
	message string
	traffic string
}

// Run returns an error when no account succeeded so the once-per-day guard
// lets the next firing retry.
func (t *IkuuuCheckinTask) Run(ctx context.Context) error {
	t.Start()
	cfg := t.config.Get().Checkin

	if !cfg.Enable {
		slog.DebugContext(ctx, "Checkin disabled, skipping")
		return nil
	}

	accounts, err := validateCheckin(cfg)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Checkin started", "accounts", len(accounts))

	succeeded := 0
	for i, account := range accounts {
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.DebugContext(ctx, "Processing account", "index", i+1, "total", len(accounts), "email", MaskEmail(account.Email))

		result := t.checkinAccount(ctx, cfg, account)
		if result.ok {
			succeeded++
		}
		t.notify(ctx, cfg, result)
	}

	slog.InfoContext(ctx, "Checkin finished", "succeeded", succeeded, "total", len(accounts), "duration", t.GetDuration())
	if succeeded == 0 {
		return fmt.Errorf("checkin failed for all %d accounts", len(accounts))
	}
	return nil
}

func validateCheckin(cfg config.CheckinConfig) ([]config.Account, error) {
	var missing []string
	if strings.TrimSpace(cfg.LoginURL) == "" {
		missing = append(missing, "checkin.login_url")
	}
	if strings.TrimSpace(cfg.CheckinURL) == "" {
		missing = append(missing, "checkin.checkin_url")
	}

	var accounts []config.Account
	for _, a := range cfg.ResolvedAccounts() {
		if a.Email != "" && a.Password != "" {
			accounts = append(accounts, a)
		}
	}
	if len(accounts) == 0 {
		missing = append(missing, "checkin.accounts or checkin.email/password")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrCheckinConfig, strings.Join(missing, ", "))
	}
	return accounts, nil
}

func (t *IkuuuCheckinTask) checkinAccount(ctx context.Context, cfg config.CheckinConfig, account config.Account) checkinResult {
	result := checkinResult{account: account}
	masked := MaskEmail(account.Email)

	cookie, err := t.login(ctx, cfg, account)
	if err != nil {
		slog.ErrorContext(ctx, "Login failed", "email", masked, "error", err)
		result.title = "ikuuu签到失败：登录失败"
		result.message = "登录失败，无法获取 Cookie，请检查账号、密码或站点状态。"
		return result
	}

	msg, err := t.checkin(ctx, cfg, cookie)
	if err != nil {
		slog.ErrorContext(ctx, "Checkin failed", "email", masked, "error", err)
		result.title = "ikuuu签到失败"
		result.message = "签到接口返回失败，请查看日志详情。"
	} else {
		slog.InfoContext(ctx, "Checkin succeeded", "email", masked, "message", msg)
		result.ok = true
		result.title = "ikuuu签到成功"
		result.message = "签到接口返回成功或已签到"
	}

	if cfg.UserPageURL != "" {
		traffic, err := t.traffic(ctx, cfg.UserPageURL, cookie)
		if err != nil {
			slog.WarnContext(ctx, "Failed to read traffic", "email", masked, "error", err)
		}
		result.traffic = traffic
	}
	return result
}

type panelReply struct {
	Ret int    `json:"ret"`
	Msg string `json:"msg"`
}

// login posts the credentials with the page's CSRF token and returns the
// session cookie header.
func (t *IkuuuCheckinTask) login(ctx context.Context, cfg config.CheckinConfig, account config.Account) (string, error) {
	loginURL, err := url.Parse(cfg.LoginURL)
	if err != nil {
		return "", fmt.Errorf("invalid login url: %w", err)
	}
	origin := loginURL.Scheme + "://" + loginURL.Host

	jar, err := cookiejar.New(nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Jar: jar, Timeout: t.client.Timeout, Transport: t.client.Transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.LoginURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", checkinUserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to load login page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, checkinMaxBody))
	resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("failed to parse login page: %w", err)
	}

	form := url.Values{"email": {account.Email}, "passwd": {account.Password}}
	if token, ok := doc.Find(`input[name="_token"]`).First().Attr("value"); ok && token != "" {
		form.Set("_token", token)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, cfg.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", checkinUserAgent)
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", cfg.LoginURL)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err = client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit login: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, checkinMaxBody))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}

	var reply panelReply
	jsonOK := json.Unmarshal(body, &reply) == nil && reply.Ret == 1
	if !jsonOK && !strings.Contains(resp.Request.URL.String(), "user") {
		msg := reply.Msg
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("%w: %s", ErrLoginFailed, msg)
	}

	var parts []string
	for _, c := range jar.Cookies(loginURL) {
		parts = append(parts, c.Name+"="+c.Value)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no session cookie", ErrLoginFailed)
	}
	return strings.Join(parts, "; "), nil
}

func (t *IkuuuCheckinTask) checkin(ctx context.Context, cfg config.CheckinConfig, cookie string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.CheckinURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", checkinUserAgent)
	req.Header.Set("Cookie", cookie)
	if base, _, ok := strings.Cut(cfg.CheckinURL, "/user"); ok {
		req.Header.Set("Origin", base)
	}
	if base, _, ok := strings.Cut(cfg.CheckinURL, "/checkin"); ok {
		req.Header.Set("Referer", base)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("checkin request failed: %w", err)
	}
	defer resp.Body.Close()

	var reply panelReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, checkinMaxBody)).Decode(&reply); err != nil {
		return "", fmt.Errorf("failed to decode checkin reply: %w", err)
	}

	if reply.Ret == 1 || strings.Contains(reply.Msg, "已经签到") || strings.Contains(reply.Msg, "已签到") {
		return reply.Msg, nil
	}
	return "", fmt.Errorf("checkin rejected: %s", reply.Msg)
}

// traffic scrapes the remaining and used traffic from the user page. Some
// panels ship the page body base64-encoded in an originBody variable.
func (t *IkuuuCheckinTask) traffic(ctx context.Context, pageURL, cookie string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", checkinUserAgent)
	req.Header.Set("Referer", pageURL)
	req.Header.Set("Cookie", cookie)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to load user page: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, checkinMaxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read user page: %w", err)
	}
	return ParseTraffic(string(raw))
}

// ParseTraffic extracts traffic lines from an SSPanel user page.
func ParseTraffic(page string) (string, error) {
	html := page
	if m := reOriginBody.FindStringSubmatch(page); m != nil {
		if decoded, err := base64.StdEncoding.DecodeString(m[1]); err == nil {
			if s := string(decoded); strings.Contains(s, "card-statistic-2") || strings.Contains(s, "剩余流量") {
				html = s
			}
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse user page: %w", err)
	}

	var lines []string
	doc.Find("div.card-statistic-2").Each(func(_ int, card *goquery.Selection) {
		if !strings.Contains(card.Find("h4").First().Text(), "剩余流量") {
			return
		}
		if body := card.Find("div.card-body").First(); body.Length() > 0 {
			lines = append(lines, "📈 剩余流量："+collapse(body.Text()))
		}
		if stats := card.Find("div.card-stats-title").First(); stats.Length() > 0 {
			text := collapse(stats.Text())
			if m := reStatsSuffix.FindStringSubmatch(text); m != nil {
				lines = append(lines, "📊 今日已用："+strings.TrimSpace(m[1]))
			} else {
				lines = append(lines, "📊 今日使用情况："+text)
			}
		}
	})
	return strings.Join(lines, "\n"), nil
}

func collapse(s string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))
}

func (t *IkuuuCheckinTask) notify(ctx context.Context, cfg config.CheckinConfig, r checkinResult) {
	emoji := "❌"
	if r.ok {
		emoji = "✅"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s 账号：%s\n%s\n", emoji, MaskEmail(r.account.Email), r.message)
	if r.traffic != "" {
		fmt.Fprintf(&b, "\n【流量信息】\n%s\n", r.traffic)
	}
	fmt.Fprintf(&b, "\n登录地址：%s\n签到接口：%s", cfg.LoginURL, cfg.CheckinURL)

	target := cfg.UserPageURL
	if target == "" {
		target = cfg.LoginURL
	}

	res := t.sender.Send(ctx, notify.Request{
		Title:  r.title,
		Body:   b.String(),
		URL:    target,
		PicURL: checkinPicURL,
		Button: "查看账户",
		Event:  "checkin",
		Payload: map[string]any{
			"account": MaskEmail(r.account.Email),
			"success": r.ok,
		},
	}, cfg.PushChannels)
	if !res.OK() {
		slog.WarnContext(ctx, "Checkin notification partially failed", "errors", res.Errors)
	}
}

// MaskEmail keeps the first three characters of the local part.
func MaskEmail(email string) string {
	name, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	switch {
	case name == "":
		name = "***"
	case len([]rune(name)) <= 3:
		name = string([]rune(name)[:1]) + "***"
	default:
		name = string([]rune(name)[:3]) + "***"
	}
	return name + "@" + domain
}

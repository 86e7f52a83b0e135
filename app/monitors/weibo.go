package monitors

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/notify"
	"github.com/lysyi3m/webmoniter/app/probe"
)

const (
	weiboPlatform  = "weibo"
	weiboAPIURL    = "https://www.weibo.com"
	weiboDetailURL = "https://m.weibo.cn/detail/"
	weiboPicURL    = "https://cn.bing.com/th?id=OHR.DubrovnikHarbor_ZH-CN8590217905_1920x1080.jpg"

	// weiboLoginRequired is the ok code of an anonymous ajax call.
	weiboLoginRequired = -100
)

// Weibo watches the latest post of weibo users.
type Weibo struct {
	baseURL string
}

func NewWeibo() *Weibo {
	return &Weibo{baseURL: weiboAPIURL}
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(strings.Trim(string(data), `"`))
	return nil
}

type weiboProfile struct {
	OK   int `json:"ok"`
	Data struct {
		User struct {
			ID             flexString `json:"idstr"`
			ScreenName     string     `json:"screen_name"`
			VerifiedReason string     `json:"verified_reason"`
			Description    string     `json:"description"`
			Followers      flexString `json:"followers_count_str"`
			StatusesCount  int        `json:"statuses_count"`
		} `json:"user"`
	} `json:"data"`
}

type weiboPost struct {
	IsTop     int        `json:"isTop"`
	Mid       flexString `json:"mid"`
	TextRaw   string     `json:"text_raw"`
	CreatedAt string     `json:"created_at"`
	PicIDs    []string   `json:"pic_ids"`
	URLStruct []struct {
		Title string `json:"url_title"`
	} `json:"url_struct"`
}

type weiboTimeline struct {
	OK   int `json:"ok"`
	Data struct {
		List []weiboPost `json:"list"`
	} `json:"data"`
}

func (w *Weibo) Platform() string { return weiboPlatform }

func (w *Weibo) Settings(cfg *config.Config) probe.Settings {
	return probe.FromMonitor(cfg.Weibo.Monitor, cfg.Weibo.UIDs)
}

func (w *Weibo) get(ctx context.Context, s *probe.Session, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Referer", "https://www.weibo.com/")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := s.Do(req)
	if err != nil {
		return err
	}
	if resp.Status >= 400 {
		return fmt.Errorf("unexpected status %d from %s", resp.Status, path)
	}
	return resp.JSON(out)
}

func (w *Weibo) Fetch(ctx context.Context, s *probe.Session, uid string) (probe.Record, error) {
	var (
		profile  weiboProfile
		timeline weiboTimeline
	)
	q := url.QueryEscape(uid)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.get(gctx, s, "/ajax/profile/info?uid="+q, &profile)
	})
	g.Go(func() error {
		return w.get(gctx, s, "/ajax/statuses/mymblog?uid="+q+"&page=1&feature=0", &timeline)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if profile.OK == weiboLoginRequired || timeline.OK == weiboLoginRequired {
		return nil, fmt.Errorf("%w: ok=%d", probe.ErrCredentialExpired, weiboLoginRequired)
	}

	user := profile.Data.User
	if user.ScreenName == "" {
		return nil, fmt.Errorf("profile of %s has no user", uid)
	}

	rec := probe.Record{
		"uid":            string(user.ID),
		"name":           user.ScreenName,
		"verified":       orDefault(user.VerifiedReason, "人气博主"),
		"description":    orDefault(user.Description, "peace and love"),
		"followers":      string(user.Followers),
		"statuses_count": strconv.Itoa(user.StatusesCount),
		"text":           "无内容",
		"mid":            "0",
	}
	if rec["uid"] == "" {
		rec["uid"] = uid
	}

	if post := latestPost(timeline.Data.List); post != nil {
		rec["text"] = postText(post)
		rec["mid"] = string(post.Mid)
	}
	return rec, nil
}

// latestPost skips pinned posts; if every post is pinned the first wins.
func latestPost(posts []weiboPost) *weiboPost {
	if len(posts) == 0 {
		return nil
	}
	for i := range posts {
		if posts[i].IsTop != 1 {
			return &posts[i]
		}
	}
	return &posts[0]
}

func postText(p *weiboPost) string {
	var b strings.Builder
	b.WriteString(p.TextRaw)
	if len(p.PicIDs) > 0 {
		fmt.Fprintf(&b, "\n[图片] * %d (详情请点击噢!)", len(p.PicIDs))
	}
	if len(p.URLStruct) > 0 {
		fmt.Fprintf(&b, "\n#%s#", p.URLStruct[0].Title)
	}
	if p.CreatedAt != "" {
		fmt.Fprintf(&b, "\n%s", p.CreatedAt)
	}
	return b.String()
}

// Compare reports a transition when the latest post text differs. Delta is
// the change in post count; an edit that keeps the count is stored silently.
func (w *Weibo) Compare(old, new probe.Record) probe.Change {
	if old["text"] == new["text"] {
		return probe.Change{Kind: probe.Unchanged}
	}

	oldCount, errOld := strconv.Atoi(old["statuses_count"])
	newCount, errNew := strconv.Atoi(new["statuses_count"])
	if errOld != nil || errNew != nil {
		return probe.Change{Kind: probe.Transitioned, Delta: 1}
	}

	delta := newCount - oldCount
	return probe.Change{Kind: probe.Transitioned, Delta: delta, Silent: delta == 0}
}

func (w *Weibo) Notification(uid string, old, new probe.Record, change probe.Change) notify.Request {
	delta := change.Delta
	if change.Kind == probe.Inserted {
		delta = 1
	}

	action, event, count := "发布", "posted", delta
	if delta < 0 {
		action, event, count = "删除", "deleted", -delta
	}

	return notify.Request{
		Title: fmt.Sprintf("%s %s了%d条weibo", new["name"], action, count),
		Body: fmt.Sprintf("Ta说:👇\n%s\n%s\n认证:%s\n\n简介:%s",
			new["text"], strings.Repeat("=", 30), new["verified"], new["description"]),
		URL:    weiboDetailURL + new["mid"],
		PicURL: weiboPicURL,
		Button: "阅读全文",
		Event:  event,
		Payload: map[string]any{
			"platform": weiboPlatform,
			"uid":      uid,
			"name":     new["name"],
			"mid":      new["mid"],
			"count":    count,
		},
	}
}

func (w *Weibo) ExpiredNotice() notify.Request {
	return notify.Request{
		Title:  "⚠️ 微博Cookie已失效",
		Body:   "微博监控检测到Cookie已过期，需要重新登录更新Cookie。\n\n请及时更新配置文件中的微博Cookie，以确保监控正常运行。",
		URL:    "https://weibo.com/login.php",
		PicURL: weiboPicURL,
		Button: "前往登录",
		Event:  "credential_expired",
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

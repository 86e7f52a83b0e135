package monitors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/notify"
	"github.com/lysyi3m/webmoniter/app/probe"
)

const (
	huyaPlatform = "huya"
	huyaRoomURL  = "https://m.huya.com/"
	huyaPicURL   = "https://cn.bing.com/th?id=OHR.DolbadarnCastle_ZH-CN5397592090_1920x1080.jpg"
)

var (
	reHuyaProfile = regexp.MustCompile(`"tProfileInfo":({.*?})`)
	reHuyaStatus  = regexp.MustCompile(`"eLiveStatus":(\d+)`)
)

// Huya watches live status of huya.com rooms.
type Huya struct {
	baseURL string
	now     func() time.Time
}

func NewHuya() *Huya {
	return &Huya{baseURL: huyaRoomURL, now: time.Now}
}

func (h *Huya) Platform() string { return huyaPlatform }

func (h *Huya) Settings(cfg *config.Config) probe.Settings {
	return probe.FromMonitor(cfg.Huya.Monitor, cfg.Huya.Rooms)
}

func (h *Huya) Fetch(ctx context.Context, s *probe.Session, room string) (probe.Record, error) {
	resp, err := s.Get(ctx, h.baseURL+url.PathEscape(room))
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status 403", probe.ErrCredentialExpired)
	}
	if resp.Status >= 400 {
		return nil, fmt.Errorf("unexpected status %d", resp.Status)
	}

	page := resp.Text()
	if strings.Contains(page, "登录") && strings.Contains(page, "请先登录") {
		return nil, fmt.Errorf("%w: login required", probe.ErrCredentialExpired)
	}

	profile := reHuyaProfile.FindStringSubmatch(page)
	status := reHuyaStatus.FindStringSubmatch(page)
	if profile == nil || status == nil {
		return nil, fmt.Errorf("failed to parse room page %s", room)
	}

	var info struct {
		Nick string `json:"sNick"`
	}
	if err := json.Unmarshal([]byte(profile[1]), &info); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	isLive := "0"
	if status[1] == "2" {
		isLive = "1"
	}
	return probe.Record{"room": room, "name": info.Nick, "is_live": isLive}, nil
}

func (h *Huya) Compare(old, new probe.Record) probe.Change {
	if old["is_live"] == new["is_live"] {
		return probe.Change{Kind: probe.Unchanged}
	}
	return probe.Change{Kind: probe.Transitioned}
}

func (h *Huya) Notification(room string, old, new probe.Record, change probe.Change) notify.Request {
	status, event := "went offline 🐟", "offline"
	if new["is_live"] == "1" {
		status, event = "went live 🐯", "live"
	}

	return notify.Request{
		Title:  fmt.Sprintf("%s %s", new["name"], status),
		Body:   fmt.Sprintf("房间号: %s\n\n%s", room, h.now().Format("2006-01-02 15:04:05")),
		URL:    huyaRoomURL + room,
		PicURL: huyaPicURL,
		Event:  event,
		Payload: map[string]any{
			"platform": huyaPlatform,
			"room":     room,
			"name":     new["name"],
		},
	}
}

func (h *Huya) ExpiredNotice() notify.Request {
	return notify.Request{
		Title:  "⚠️ 虎牙Cookie已失效",
		Body:   "虎牙监控检测到Cookie已过期，需要重新登录更新Cookie。\n\n请及时更新配置文件中的虎牙Cookie，以确保监控正常运行。",
		URL:    "https://www.huya.com/login",
		PicURL: huyaPicURL,
		Button: "前往登录",
		Event:  "credential_expired",
	}
}

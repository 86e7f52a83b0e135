package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lysyi3m/webmoniter/app/config"
)

type qqTarget struct {
	Guild    string
	Channels []string
}

// qqBot posts to text sub-channels of QQ guilds, resolved by name on first
// use.
type qqBot struct {
	base
	apiBase   string
	tokenURL  string
	appID     string
	appSecret string
	targets   []qqTarget
	tokens    tokenCache

	mu       sync.Mutex
	channels map[string]string // channel id -> "guild->channel"
}

func newQQBot(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "base_url", "app_id", "app_secret"); err != nil {
		return nil, err
	}
	targets := parseQQTargets(def.Fields["push_target_list"])
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %s (%s) requires push_target_list", ErrMisconfigured, def.Name, def.Type)
	}
	return &qqBot{
		base:      b,
		apiBase:   strings.TrimRight(def.String("base_url"), "/"),
		tokenURL:  def.StringOr("token_url", "https://api.q.qq.com/api/gettoken"),
		appID:     def.String("app_id"),
		appSecret: def.String("app_secret"),
		targets:   targets,
	}, nil
}

func parseQQTargets(raw any) []qqTarget {
	items, _ := raw.([]any)
	var out []qqTarget
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t := qqTarget{Guild: strings.TrimSpace(fmt.Sprint(m["guild_name"]))}
		if names, ok := m["channel_name_list"].([]any); ok {
			for _, n := range names {
				t.Channels = append(t.Channels, strings.TrimSpace(fmt.Sprint(n)))
			}
		}
		if t.Guild != "" && len(t.Channels) > 0 {
			out = append(out, t)
		}
	}
	return out
}

func (c *qqBot) authHeader(ctx context.Context) (map[string]string, error) {
	token, err := c.tokens.get(ctx, func(ctx context.Context) (string, time.Duration, error) {
		var resp struct {
			ErrCode     int    `json:"errcode"`
			ErrMsg      string `json:"errmsg"`
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}
		err := c.do(ctx, request{
			Method: "GET",
			URL:    c.tokenURL,
			Query: url.Values{
				"grant_type": {"client_credential"},
				"appid":      {c.appID},
				"secret":     {c.appSecret},
			},
		}, &resp)
		if err != nil {
			return "", 0, err
		}
		if resp.ErrCode != 0 || resp.AccessToken == "" {
			return "", 0, c.fail("failed to get access token: %s", orDefault(resp.ErrMsg, "unknown error"))
		}
		expiresIn := resp.ExpiresIn
		if expiresIn == 0 {
			expiresIn = 7200
		}
		return resp.AccessToken, time.Duration(expiresIn-200) * time.Second, nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": fmt.Sprintf("Bot %s.%s", c.appID, token)}, nil
}

func (c *qqBot) resolve(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.channels) > 0 {
		return c.channels, nil
	}

	header, err := c.authHeader(ctx)
	if err != nil {
		return nil, err
	}

	var guilds []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, request{Method: "GET", URL: c.apiBase + "/users/@me/guilds", Header: header}, &guilds); err != nil {
		return nil, err
	}

	resolved := map[string]string{}
	for _, g := range guilds {
		for _, t := range c.targets {
			if t.Guild != g.Name {
				continue
			}
			var channels []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
				Type int    `json:"type"`
			}
			if err := c.do(ctx, request{Method: "GET", URL: c.apiBase + "/guilds/" + url.PathEscape(g.ID) + "/channels", Header: header}, &channels); err != nil {
				slog.WarnContext(ctx, "Failed to list QQ sub-channels", "channel", c.name, "guild", g.Name, "error", err)
				continue
			}
			for _, ch := range channels {
				if ch.Type != 0 {
					continue
				}
				for _, want := range t.Channels {
					if ch.Name == want {
						resolved[ch.ID] = g.Name + "->" + ch.Name
					}
				}
			}
		}
	}

	if len(resolved) == 0 {
		return nil, c.fail("no target sub-channels found")
	}
	c.channels = resolved
	return resolved, nil
}

func (c *qqBot) Push(ctx context.Context, msg Message) error {
	channels, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	header, err := c.authHeader(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{"content": msg.Title + "\n\n" + msg.Content}
	if msg.PicURL != "" {
		body["image"] = msg.PicURL
	}

	ids := make([]string, 0, len(channels))
	for id := range channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var failed []string
	for _, id := range ids {
		err := c.do(ctx, request{URL: c.apiBase + "/channels/" + url.PathEscape(id) + "/messages", Header: header, Body: body}, nil)
		if err != nil {
			slog.WarnContext(ctx, "QQ sub-channel push failed", "channel", c.name, "target", channels[id], "error", err)
			failed = append(failed, channels[id])
		}
	}
	if len(failed) > 0 {
		return c.fail("failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

// napCatQQ talks to a OneBot 11 compatible NapCat endpoint.
type napCatQQ struct {
	base
	endpoint string
	token    string
	userID   string
	groupID  string
	atQQ     string
}

func newNapCatQQ(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "api_url"); err != nil {
		return nil, err
	}
	c := &napCatQQ{
		base:     b,
		endpoint: strings.TrimRight(def.String("api_url"), "/") + "/send_msg",
		token:    def.String("token"),
		userID:   def.String("user_id"),
		groupID:  def.String("group_id"),
		atQQ:     def.String("at_qq"),
	}
	if (c.userID == "") == (c.groupID == "") {
		return nil, fmt.Errorf("%w: %s (%s) requires exactly one of user_id and group_id", ErrMisconfigured, def.Name, def.Type)
	}
	return c, nil
}

func (c *napCatQQ) Push(ctx context.Context, msg Message) error {
	text := func(s string) map[string]any {
		return map[string]any{"type": "text", "data": map[string]any{"text": s}}
	}

	segments := []map[string]any{text(msg.Title + "\n\n" + msg.Content)}
	if msg.PicURL != "" {
		segments = append(segments, text("\n\n"), map[string]any{"type": "image", "data": map[string]any{"file": msg.PicURL}})
	}
	if msg.URL != "" {
		segments = append(segments, text("\n\n原文: "+msg.URL))
	}
	if c.atQQ != "" {
		segments = append(segments, text("\n\n"), map[string]any{"type": "at", "data": map[string]any{"qq": c.atQQ}})
	}

	payload := map[string]any{"message": segments}
	if c.userID != "" {
		payload["user_id"] = c.userID
	} else {
		payload["group_id"] = c.groupID
	}

	header := map[string]string{}
	if c.token != "" {
		header["Authorization"] = "Bearer " + c.token
	}

	var resp struct {
		Status  string `json:"status"`
		RetCode int    `json:"retcode"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, request{URL: c.endpoint, Header: header, Body: payload}, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" || resp.RetCode != 0 {
		return c.fail("provider error %d: %s", resp.RetCode, orDefault(resp.Message, "unknown error"))
	}
	return nil
}

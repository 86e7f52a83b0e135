package push

import (
	"context"
	"net/url"
	"time"

	"github.com/lysyi3m/webmoniter/app/config"
)

const wecomAppsMaxBytes = 500

type wecomResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// wecomApps sends textcard or news messages through an enterprise app.
type wecomApps struct {
	base
	apiBase string
	corpID  string
	agentID string
	secret  string
	toUser  string
	tokens  tokenCache
	limiter *SlidingWindow
}

func newWeComApps(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "corp_id", "agent_id", "corp_secret"); err != nil {
		return nil, err
	}
	b.maxBytes = wecomAppsMaxBytes
	return &wecomApps{
		base:    b,
		apiBase: def.StringOr("api_base", "https://qyapi.weixin.qq.com"),
		corpID:  def.String("corp_id"),
		agentID: def.String("agent_id"),
		secret:  def.String("corp_secret"),
		toUser:  def.StringOr("touser", "@all"),
		limiter: NewSlidingWindow(
			Window{Span: time.Minute, Limit: 30},
			Window{Span: time.Hour, Limit: 1000},
			Window{Span: 24 * time.Hour, Limit: 200},
		),
	}, nil
}

func (c *wecomApps) token(ctx context.Context) (string, error) {
	return c.tokens.get(ctx, func(ctx context.Context) (string, time.Duration, error) {
		var resp wecomResponse
		err := c.do(ctx, request{
			Method: "GET",
			URL:    c.apiBase + "/cgi-bin/gettoken",
			Query:  url.Values{"corpid": {c.corpID}, "corpsecret": {c.secret}},
		}, &resp)
		if err != nil {
			return "", 0, err
		}
		if resp.ErrCode != 0 {
			return "", 0, c.fail("failed to get access token: %s", orDefault(resp.ErrMsg, "unknown error"))
		}
		return resp.AccessToken, 0, nil
	})
}

func (c *wecomApps) Push(ctx context.Context, msg Message) error {
	if wait, err := c.limiter.Reserve(c.toUser); err != nil {
		return &RateLimitError{Channel: c.name, Reason: err.Error(), RetryAfter: wait}
	}

	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{
		"touser":                   c.toUser,
		"agentid":                  c.agentID,
		"safe":                     0,
		"enable_id_trans":          0,
		"enable_duplicate_check":   0,
		"duplicate_check_interval": 1800,
	}

	pic := msg.PicURL
	if v := msg.Extra[ExtraWeComPicURL]; v != "" {
		pic = v
	}

	if pic == "" {
		body["msgtype"] = "textcard"
		body["textcard"] = map[string]any{
			"title":       msg.Title,
			"description": msg.Content,
			"url":         msg.URL,
			"btntxt":      orDefault(msg.Button, "打开详情"),
		}
	} else {
		body["msgtype"] = "news"
		body["news"] = map[string]any{
			"articles": []map[string]any{{
				"title":       msg.Title,
				"description": msg.Content,
				"url":         msg.URL,
				"picurl":      pic,
			}},
		}
	}

	var resp wecomResponse
	err = c.do(ctx, request{
		URL:   c.apiBase + "/cgi-bin/message/send",
		Query: url.Values{"access_token": {token}},
		Body:  body,
	}, &resp)
	if err != nil {
		return err
	}
	switch resp.ErrCode {
	case 0:
		return nil
	case 40014, 42001:
		c.tokens.invalidate()
	case 45009, 45033:
		return &RateLimitError{Channel: c.name, Reason: resp.ErrMsg, RetryAfter: time.Minute}
	}
	return c.fail("provider error %d: %s", resp.ErrCode, orDefault(resp.ErrMsg, "unknown error"))
}

// wecomBot posts a news card to a group robot webhook.
type wecomBot struct {
	base
	endpoint string
	key      string
}

func newWeComBot(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "key"); err != nil {
		return nil, err
	}
	return &wecomBot{
		base:     b,
		endpoint: def.StringOr("api_base", "https://qyapi.weixin.qq.com") + "/cgi-bin/webhook/send",
		key:      def.String("key"),
	}, nil
}

func (c *wecomBot) Push(ctx context.Context, msg Message) error {
	article := map[string]any{
		"title":       msg.Title,
		"description": msg.Content,
		"url":         msg.URL,
	}
	if msg.PicURL != "" {
		article["picurl"] = msg.PicURL
	}

	var resp wecomResponse
	err := c.do(ctx, request{
		URL:   c.endpoint,
		Query: url.Values{"key": {c.key}},
		Body: map[string]any{
			"msgtype": "news",
			"news":    map[string]any{"articles": []map[string]any{article}},
		},
	}, &resp)
	if err != nil {
		return err
	}
	if resp.ErrCode != 0 {
		return c.fail("provider error %d: %s", resp.ErrCode, orDefault(resp.ErrMsg, "unknown error"))
	}
	return nil
}

package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/lysyi3m/webmoniter/app/config"
)

const barkMaxBytes = 4096

type bark struct {
	base
	serverURL string
	key       string
}

func newBark(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "key"); err != nil {
		return nil, err
	}
	b.maxBytes = barkMaxBytes
	return &bark{
		base:      b,
		serverURL: strings.TrimRight(def.StringOr("server_url", "https://api.day.app"), "/"),
		key:       def.String("key"),
	}, nil
}

func (c *bark) Push(ctx context.Context, msg Message) error {
	body := map[string]any{
		"device_key": c.key,
		"title":      msg.Title,
		"body":       msg.Content,
	}
	if msg.URL != "" {
		body["url"] = msg.URL
	}
	if group := msg.Extra[ExtraGroup]; group != "" {
		body["group"] = group
	}
	if icon := msg.Extra[ExtraAvatarURL]; icon != "" {
		body["icon"] = icon
	}

	var resp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, request{URL: c.serverURL + "/push", Body: body}, &resp); err != nil {
		return err
	}
	if resp.Code != http.StatusOK {
		return c.fail("provider error %d: %s", resp.Code, orDefault(resp.Message, "unknown error"))
	}
	return nil
}

// gotify posts to a full message URL, application token included.
type gotify struct {
	base
	endpoint string
	priority int
}

func newGotify(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "web_server_url"); err != nil {
		return nil, err
	}
	return &gotify{
		base:     b,
		endpoint: def.String("web_server_url"),
		priority: def.Int("priority", 5),
	}, nil
}

func (c *gotify) Push(ctx context.Context, msg Message) error {
	body := map[string]any{
		"title":    msg.Title,
		"message":  msg.Content,
		"priority": c.priority,
	}
	if msg.URL != "" {
		body["extras"] = map[string]any{"client::display": map[string]any{"contentType": "text/markdown"}}
		body["message"] = fmt.Sprintf("%s\n\n[点击查看](%s)", msg.Content, msg.URL)
	}
	return c.do(ctx, request{URL: c.endpoint, Body: body}, nil)
}

// webhook calls a user URL with {{title}} and {{content}} substituted.
// POST sends the request payload as the JSON body.
type webhook struct {
	base
	template string
	method   string
}

func newWebhook(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "webhook_url"); err != nil {
		return nil, err
	}
	method := strings.ToUpper(def.StringOr("request_method", http.MethodGet))
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s (%s) unsupported request_method %q", ErrMisconfigured, def.Name, def.Type, method)
	}
	return &webhook{base: b, template: def.String("webhook_url"), method: method}, nil
}

func (c *webhook) Push(ctx context.Context, msg Message) error {
	target := strings.NewReplacer(
		"{{title}}", url.QueryEscape(msg.Title),
		"{{content}}", url.QueryEscape(msg.Content),
	).Replace(c.template)

	req := request{Method: c.method, URL: target}
	if c.method == http.MethodPost {
		payload := msg.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		req.Body = payload
	}
	return c.do(ctx, req, nil)
}

// demo only logs; useful for checking routing without a provider.
type demo struct {
	base
	param string
}

func newDemo(def config.Channel, b base) (Channel, error) {
	return &demo{base: b, param: def.String("param")}, nil
}

func (c *demo) Push(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "Demo push", "channel", c.name, "param", c.param, "title", msg.Title, "content", msg.Content)
	return nil
}

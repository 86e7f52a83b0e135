package push

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lysyi3m/webmoniter/app/config"
)

// relayHTML renders the card used by the WeChat relay services.
func relayHTML(msg Message) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family: Arial, sans-serif;">`)
	fmt.Fprintf(&b, "<h2>%s</h2>", sanitizeText(msg.Title))
	fmt.Fprintf(&b, `<p style="white-space: pre-wrap;">%s</p>`, sanitizeText(msg.Content))
	if msg.PicURL != "" {
		fmt.Fprintf(&b, `<img src="%s" alt="图片" style="max-width: 100%%;" />`, html.EscapeString(msg.PicURL))
	}
	if msg.URL != "" {
		fmt.Fprintf(&b, `<p><a href="%s" style="display: inline-block; padding: 10px 20px; background-color: #007bff; color: white; text-decoration: none; border-radius: 5px;">阅读全文</a></p>`, html.EscapeString(msg.URL))
	}
	b.WriteString("</div>")
	return b.String()
}

type pushPlus struct {
	base
	endpoint string
	token    string
	channel  string
	topic    string
	template string
	to       string
}

func newPushPlus(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "token"); err != nil {
		return nil, err
	}
	return &pushPlus{
		base:     b,
		endpoint: def.StringOr("api_base", "https://www.pushplus.plus") + "/send",
		token:    def.String("token"),
		channel:  def.StringOr("channel", "wechat"),
		topic:    def.String("topic"),
		template: def.StringOr("template", "html"),
		to:       def.String("to"),
	}, nil
}

func (c *pushPlus) Push(ctx context.Context, msg Message) error {
	body := map[string]any{
		"token":    c.token,
		"title":    msg.Title,
		"content":  relayHTML(msg),
		"template": c.template,
		"channel":  c.channel,
	}
	if c.topic != "" {
		body["topic"] = c.topic
	}
	if c.to != "" {
		body["to"] = c.to
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := c.do(ctx, request{URL: c.endpoint, Body: body}, &resp); err != nil {
		return err
	}
	if resp.Code == 999 {
		return &RateLimitError{Channel: c.name, Reason: resp.Msg}
	}
	if resp.Code != 200 {
		return c.fail("provider error %d: %s", resp.Code, orDefault(resp.Msg, "unknown error"))
	}
	return nil
}

const (
	wxPusherText     = 1
	wxPusherHTML     = 2
	wxPusherMarkdown = 3
)

type wxPusher struct {
	base
	endpoint    string
	appToken    string
	uids        []string
	topicIDs    []int
	contentType int
}

func newWxPusher(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "app_token"); err != nil {
		return nil, err
	}
	c := &wxPusher{
		base:        b,
		endpoint:    def.StringOr("api_base", "https://wxpusher.zjiecode.com") + "/api/send/message",
		appToken:    def.String("app_token"),
		uids:        def.List("uids"),
		contentType: def.Int("content_type", wxPusherText),
	}
	for _, raw := range def.List("topic_ids") {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s (%s) topic_ids must be numbers", ErrMisconfigured, def.Name, def.Type)
		}
		c.topicIDs = append(c.topicIDs, id)
	}
	if len(c.uids) == 0 && len(c.topicIDs) == 0 {
		slog.Warn("WxPusher channel has no uids or topic_ids", "channel", def.Name)
	}
	return c, nil
}

func (c *wxPusher) content(msg Message) string {
	switch c.contentType {
	case wxPusherHTML:
		return relayHTML(msg)
	case wxPusherMarkdown:
		s := fmt.Sprintf("## %s\n\n%s", msg.Title, msg.Content)
		if msg.PicURL != "" {
			s += fmt.Sprintf("\n\n![图片](%s)", msg.PicURL)
		}
		if msg.URL != "" {
			s += fmt.Sprintf("\n\n[阅读全文](%s)", msg.URL)
		}
		return s
	default:
		s := msg.Title + "\n\n" + msg.Content
		if msg.URL != "" {
			s += "\n\n链接：" + msg.URL
		}
		return s
	}
}

func (c *wxPusher) Push(ctx context.Context, msg Message) error {
	body := map[string]any{
		"appToken":    c.appToken,
		"content":     c.content(msg),
		"summary":     msg.Title,
		"contentType": c.contentType,
	}
	if msg.URL != "" {
		body["url"] = msg.URL
	}
	if len(c.uids) > 0 {
		body["uids"] = c.uids
	}
	if len(c.topicIDs) > 0 {
		body["topicIds"] = c.topicIDs
	}

	var resp struct {
		Success bool   `json:"success"`
		Msg     string `json:"msg"`
	}
	if err := c.do(ctx, request{URL: c.endpoint, Body: body}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return c.fail("provider error: %s", orDefault(resp.Msg, "unknown error"))
	}
	return nil
}

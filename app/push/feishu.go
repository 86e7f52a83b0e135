package push

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/lysyi3m/webmoniter/app/config"
)

func feishuCard(msg Message, imgKey string) map[string]any {
	elements := []map[string]any{{"tag": "markdown", "content": msg.Content}}
	if imgKey != "" {
		elements = append(elements, map[string]any{
			"tag":     "img",
			"img_key": imgKey,
			"alt":     map[string]any{"tag": "plain_text", "content": ""},
		})
	}
	if msg.URL != "" {
		elements = append(elements, map[string]any{
			"tag": "action",
			"actions": []map[string]any{{
				"tag":  "button",
				"text": map[string]any{"tag": "plain_text", "content": orDefault(msg.Button, "点我跳转")},
				"type": "primary",
				"url":  msg.URL,
			}},
		})
	}
	return map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"template": "blue",
			"title":    map[string]any{"tag": "plain_text", "content": msg.Title},
		},
		"elements": elements,
	}
}

// feishuApps sends interactive cards through a self-built app. The SDK
// caches the tenant access token.
type feishuApps struct {
	base
	client        *lark.Client
	receiveIDType string
	receiveID     string
}

func newFeishuApps(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "app_id", "app_secret", "receive_id_type", "receive_id"); err != nil {
		return nil, err
	}
	opts := []lark.ClientOptionFunc{
		lark.WithHttpClient(b.client),
		lark.WithReqTimeout(DefaultTimeout),
	}
	if apiBase := def.String("api_base"); apiBase != "" {
		opts = append(opts, lark.WithOpenBaseUrl(apiBase))
	}
	return &feishuApps{
		base:          b,
		client:        lark.NewClient(def.String("app_id"), def.String("app_secret"), opts...),
		receiveIDType: def.String("receive_id_type"),
		receiveID:     def.String("receive_id"),
	}, nil
}

// uploadImage downloads picURL and re-uploads it; failures only drop the image.
func (c *feishuApps) uploadImage(ctx context.Context, picURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, picURL, nil)
	if err != nil {
		return ""
	}
	resp, err := c.base.client.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "Failed to download image", "channel", c.name, "url", picURL, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		slog.WarnContext(ctx, "Failed to download image", "channel", c.name, "url", picURL, "status", resp.StatusCode)
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return ""
	}

	uploadReq := larkim.NewCreateImageReqBuilder().
		Body(larkim.NewCreateImageReqBodyBuilder().
			ImageType(larkim.ImageTypeMessage).
			Image(bytes.NewReader(data)).
			Build()).
		Build()

	uploadResp, err := c.client.Im.Image.Create(ctx, uploadReq)
	if err != nil || !uploadResp.Success() || uploadResp.Data == nil || uploadResp.Data.ImageKey == nil {
		slog.WarnContext(ctx, "Failed to upload image", "channel", c.name, "error", err)
		return ""
	}
	return *uploadResp.Data.ImageKey
}

func (c *feishuApps) Push(ctx context.Context, msg Message) error {
	imgKey := ""
	if msg.PicURL != "" {
		imgKey = c.uploadImage(ctx, msg.PicURL)
	}

	content, err := json.Marshal(feishuCard(msg, imgKey))
	if err != nil {
		return c.fail("failed to encode card: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(c.receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(c.receiveID).
			MsgType(larkim.MsgTypeInteractive).
			Content(string(content)).
			Build()).
		Build()

	resp, err := c.client.Im.Message.Create(ctx, req)
	if err != nil {
		return c.fail("send message failed: %w", err)
	}
	if !resp.Success() {
		if resp.Code == 99991400 {
			return &RateLimitError{Channel: c.name, Reason: resp.Msg, RetryAfter: time.Second}
		}
		return c.fail("provider error %d: %s", resp.Code, resp.Msg)
	}
	return nil
}

// feishuBot posts cards to a custom group bot webhook.
type feishuBot struct {
	base
	endpoint string
	secret   string
	now      func() time.Time
}

func newFeishuBot(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "webhook_key"); err != nil {
		return nil, err
	}
	return &feishuBot{
		base:     b,
		endpoint: fmt.Sprintf("%s/open-apis/bot/v2/hook/%s", def.StringOr("api_base", "https://open.feishu.cn"), def.String("webhook_key")),
		secret:   def.String("sign_secret"),
		now:      time.Now,
	}, nil
}

// feishuSign uses "timestamp\nsecret" as the HMAC key over an empty message.
func feishuSign(timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(fmt.Sprintf("%d\n%s", timestamp, secret)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *feishuBot) Push(ctx context.Context, msg Message) error {
	body := map[string]any{
		"msg_type": "interactive",
		"card":     feishuCard(msg, ""),
	}
	if c.secret != "" {
		ts := c.now().Unix()
		body["timestamp"] = fmt.Sprint(ts)
		body["sign"] = feishuSign(ts, c.secret)
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := c.do(ctx, request{URL: c.endpoint, Body: body}, &resp); err != nil {
		return err
	}
	if resp.Code == 11232 {
		return &RateLimitError{Channel: c.name, Reason: resp.Msg, RetryAfter: time.Second}
	}
	if resp.Code != 0 {
		return c.fail("provider error %d: %s", resp.Code, orDefault(resp.Msg, "unknown error"))
	}
	return nil
}

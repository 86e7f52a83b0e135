package push

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lysyi3m/webmoniter/app/config"
)

const (
	telegramMaxBytes    = 4096
	telegramCaptionSize = 1024
)

type telegramBot struct {
	base
	apiBase string
	chatID  string
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func newTelegramBot(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "api_token", "chat_id"); err != nil {
		return nil, err
	}
	b.maxBytes = telegramMaxBytes
	return &telegramBot{
		base:    b,
		apiBase: fmt.Sprintf("%s/bot%s", def.StringOr("api_base", "https://api.telegram.org"), def.String("api_token")),
		chatID:  def.String("chat_id"),
	}, nil
}

func telegramText(msg Message) string {
	parts := []string{fmt.Sprintf("*%s*", msg.Title)}
	if msg.URL != "" {
		parts = append(parts, fmt.Sprintf("[点击查看](%s)", msg.URL))
	}
	parts = append(parts, fmt.Sprintf("\n`%s`", msg.Content))
	return strings.Join(parts, "\n")
}

func (c *telegramBot) check(resp telegramResponse) error {
	if resp.OK {
		return nil
	}
	if resp.Parameters.RetryAfter > 0 {
		return &RateLimitError{
			Channel:    c.name,
			Reason:     resp.Description,
			RetryAfter: time.Duration(resp.Parameters.RetryAfter) * time.Second,
		}
	}
	return c.fail("provider error: %s", orDefault(resp.Description, "unknown error"))
}

func (c *telegramBot) Push(ctx context.Context, msg Message) error {
	if path := msg.Extra[ExtraLocalPicPath]; path != "" {
		if _, err := os.Stat(path); err == nil {
			return c.sendPhoto(ctx, msg, path)
		}
	}

	body := map[string]any{
		"chat_id":    c.chatID,
		"text":       telegramText(msg),
		"parse_mode": "Markdown",
	}
	if msg.PicURL != "" {
		body["link_preview_options"] = map[string]any{"is_disabled": false, "url": msg.PicURL}
	}

	var resp telegramResponse
	if err := c.do(ctx, request{URL: c.apiBase + "/sendMessage", Body: body}, &resp); err != nil {
		return err
	}
	return c.check(resp)
}

// sendPhoto uploads a local file instead of linking a remote image.
func (c *telegramBot) sendPhoto(ctx context.Context, msg Message, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return c.fail("failed to open photo: %w", err)
	}
	defer f.Close()

	caption := telegramText(msg)
	if len(caption) > telegramCaptionSize {
		caption = truncateBytes(caption, telegramCaptionSize)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", c.chatID)
	_ = w.WriteField("caption", caption)
	_ = w.WriteField("parse_mode", "Markdown")
	part, err := w.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return c.fail("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return c.fail("failed to read photo: %w", err)
	}
	if err := w.Close(); err != nil {
		return c.fail("failed to build upload: %w", err)
	}

	var resp telegramResponse
	err = c.do(ctx, request{
		URL:         c.apiBase + "/sendPhoto",
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
	}, &resp)
	if err != nil {
		return err
	}
	return c.check(resp)
}

// truncateBytes cuts s to at most n bytes on a rune boundary.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

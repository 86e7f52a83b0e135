package push

import (
	"context"
	"fmt"
	"net/url"

	"github.com/lysyi3m/webmoniter/app/config"
)

const serverChanMaxBytes = 65536

type serverChan struct {
	base
	endpoint string
	tags     string
}

type serverChanResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newServerChanTurbo(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "send_key"); err != nil {
		return nil, err
	}
	b.maxBytes = serverChanMaxBytes
	apiBase := def.StringOr("api_base", "https://sctapi.ftqq.com")
	return &serverChan{
		base:     b,
		endpoint: fmt.Sprintf("%s/%s.send", apiBase, def.String("send_key")),
	}, nil
}

func newServerChan3(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "send_key", "uid"); err != nil {
		return nil, err
	}
	b.maxBytes = serverChanMaxBytes
	apiBase := def.StringOr("api_base", fmt.Sprintf("https://%s.push.ft07.com", def.String("uid")))
	return &serverChan{
		base:     b,
		endpoint: fmt.Sprintf("%s/send/%s.send", apiBase, def.String("send_key")),
		tags:     def.String("tags"),
	}, nil
}

func (c *serverChan) Push(ctx context.Context, msg Message) error {
	desp := msg.Content
	if msg.URL != "" {
		desp += fmt.Sprintf("\n\n[点我直达](%s)", msg.URL)
	}
	if msg.PicURL != "" {
		desp += fmt.Sprintf("\n\n![](%s)", msg.PicURL)
	}

	form := url.Values{}
	form.Set("title", msg.Title)
	form.Set("desp", desp)
	if c.tags != "" {
		form.Set("tags", c.tags)
	}

	var resp serverChanResponse
	if err := c.do(ctx, request{URL: c.endpoint, Body: form}, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return c.fail("provider error %d: %s", resp.Code, orDefault(resp.Message, "unknown error"))
	}
	return nil
}

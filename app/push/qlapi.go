package push

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/webmoniter/app/config"
)

// qlapi forwards to the notification settings of a Qinglong panel through
// its open API.
type qlapi struct {
	base
	baseURL      string
	clientID     string
	clientSecret string
	tokens       tokenCache
}

type qlapiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Token      string `json:"token"`
		Expiration int64  `json:"expiration"`
	} `json:"data"`
}

func newQLAPI(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "base_url", "client_id", "client_secret"); err != nil {
		return nil, err
	}
	return &qlapi{
		base:         b,
		baseURL:      strings.TrimRight(def.String("base_url"), "/"),
		clientID:     def.String("client_id"),
		clientSecret: def.String("client_secret"),
	}, nil
}

func (c *qlapi) token(ctx context.Context) (string, error) {
	return c.tokens.get(ctx, func(ctx context.Context) (string, time.Duration, error) {
		var resp qlapiResponse
		err := c.do(ctx, request{
			Method: "GET",
			URL:    c.baseURL + "/open/auth/token",
			Query:  url.Values{"client_id": {c.clientID}, "client_secret": {c.clientSecret}},
		}, &resp)
		if err != nil {
			return "", 0, err
		}
		if resp.Code != 200 || resp.Data.Token == "" {
			return "", 0, c.fail("failed to get token: %s", orDefault(resp.Message, "unknown error"))
		}
		var ttl time.Duration
		if resp.Data.Expiration > 0 {
			ttl = time.Until(time.Unix(resp.Data.Expiration, 0))
		}
		return resp.Data.Token, ttl, nil
	})
}

func (c *qlapi) Push(ctx context.Context, msg Message) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	content := msg.Content
	if msg.URL != "" {
		content += "\n\n" + msg.URL
	}

	var resp qlapiResponse
	err = c.do(ctx, request{
		Method: "PUT",
		URL:    c.baseURL + "/open/system/notify",
		Header: map[string]string{"Authorization": "Bearer " + token},
		Body:   map[string]string{"title": msg.Title, "content": content},
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Code == 401 {
		c.tokens.invalidate()
	}
	if resp.Code != 200 {
		return c.fail("provider error %d: %s", resp.Code, orDefault(resp.Message, "unknown error"))
	}
	return nil
}

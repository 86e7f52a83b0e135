package push

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/lysyi3m/webmoniter/app/config"
)

const dingtalkMaxBytes = 12000

type dingtalkBot struct {
	base
	endpoint    string
	accessToken string
	secret      string
	now         func() time.Time
}

func newDingtalkBot(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "access_token"); err != nil {
		return nil, err
	}
	b.maxBytes = dingtalkMaxBytes
	return &dingtalkBot{
		base:        b,
		endpoint:    def.StringOr("api_base", "https://oapi.dingtalk.com") + "/robot/send",
		accessToken: def.String("access_token"),
		secret:      def.String("secret"),
		now:         time.Now,
	}, nil
}

// dingtalkSign signs "timestamp\nsecret" with the secret as key.
func dingtalkSign(timestampMillis int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d\n%s", timestampMillis, secret)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *dingtalkBot) Push(ctx context.Context, msg Message) error {
	query := url.Values{"access_token": {c.accessToken}}
	if c.secret != "" {
		ts := c.now().UnixMilli()
		query.Set("timestamp", strconv.FormatInt(ts, 10))
		query.Set("sign", dingtalkSign(ts, c.secret))
	}

	link := map[string]any{
		"title":      msg.Title,
		"text":       msg.Content,
		"messageUrl": msg.URL,
	}
	if msg.PicURL != "" {
		link["picUrl"] = msg.PicURL
	}

	var resp wecomResponse
	err := c.do(ctx, request{
		URL:   c.endpoint,
		Query: query,
		Body:  map[string]any{"msgtype": "link", "link": link},
	}, &resp)
	if err != nil {
		return err
	}
	if resp.ErrCode == 130101 {
		return &RateLimitError{Channel: c.name, Reason: resp.ErrMsg, RetryAfter: time.Minute}
	}
	if resp.ErrCode != 0 {
		return c.fail("provider error %d: %s", resp.ErrCode, orDefault(resp.ErrMsg, "unknown error"))
	}
	return nil
}

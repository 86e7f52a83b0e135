// Package push delivers one message to one provider. Channels never retry;
// retry policy belongs to the caller.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lysyi3m/webmoniter/app/config"
)

// DefaultTimeout bounds a single dispatch, token refreshes included.
const DefaultTimeout = 60 * time.Second

var (
	ErrRateLimited   = errors.New("rate limited")
	ErrMisconfigured = errors.New("channel misconfigured")
	ErrUnknownType   = errors.New("unknown channel type")
)

// Extra keys understood by some channels.
const (
	ExtraLocalPicPath = "local_pic_path"
	ExtraWeComPicURL  = "wecom_pic_url"
	ExtraAvatarURL    = "avatar_url"
	ExtraGroup        = "group"
)

// Message is what a channel receives after the fan-out has picked the body
// and applied the size cap.
type Message struct {
	Title   string
	Content string
	URL     string
	PicURL  string
	Button  string
	Extra   map[string]string
	Payload map[string]any
}

type Channel interface {
	Name() string
	Type() string
	// MaxContentBytes is the provider's body cap in UTF-8 bytes; 0 means none.
	MaxContentBytes() int
	Push(ctx context.Context, msg Message) error
}

// SendError is a failed dispatch.
type SendError struct {
	Channel string
	Type    string
	Status  int
	Err     error
}

func (e *SendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("push: %s (%s) failed with HTTP %d: %v", e.Channel, e.Type, e.Status, e.Err)
	}
	return fmt.Sprintf("push: %s (%s) failed: %v", e.Channel, e.Type, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// RateLimitError matches ErrRateLimited. RetryAfter is a hint, zero if unknown.
type RateLimitError struct {
	Channel    string
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("push: %s rate limited: %s", e.Channel, e.Reason)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

type constructor func(def config.Channel, b base) (Channel, error)

var constructors = map[string]constructor{
	config.ChannelServerChanTurbo: newServerChanTurbo,
	config.ChannelServerChan3:     newServerChan3,
	config.ChannelWeComApps:       newWeComApps,
	config.ChannelWeComBot:        newWeComBot,
	config.ChannelDingtalkBot:     newDingtalkBot,
	config.ChannelFeishuApps:      newFeishuApps,
	config.ChannelFeishuBot:       newFeishuBot,
	config.ChannelTelegramBot:     newTelegramBot,
	config.ChannelQQBot:           newQQBot,
	config.ChannelNapCatQQ:        newNapCatQQ,
	config.ChannelBark:            newBark,
	config.ChannelGotify:          newGotify,
	config.ChannelWebhook:         newWebhook,
	config.ChannelEmail:           newEmail,
	config.ChannelPushPlus:        newPushPlus,
	config.ChannelWxPusher:        newWxPusher,
	config.ChannelQLAPI:           newQLAPI,
	config.ChannelDemo:            newDemo,
}

// New builds the adapter for def. A nil client gets one with DefaultTimeout.
func New(def config.Channel, client *http.Client) (Channel, error) {
	ctor, ok := constructors[def.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, def.Type)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return ctor(def, base{name: def.Name, typ: def.Type, client: client})
}

// Types lists every supported channel type.
func Types() []string {
	out := make([]string, 0, len(constructors))
	for t := range constructors {
		out = append(out, t)
	}
	return out
}

func missing(def config.Channel, fields ...string) error {
	for _, f := range fields {
		if def.String(f) == "" {
			return fmt.Errorf("%w: %s (%s) requires %s", ErrMisconfigured, def.Name, def.Type, f)
		}
	}
	return nil
}

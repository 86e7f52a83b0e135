package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	ChannelServerChanTurbo = "serverChan_turbo"
	ChannelServerChan3     = "serverChan_3"
	ChannelWeComApps       = "wecom_apps"
	ChannelWeComBot        = "wecom_bot"
	ChannelDingtalkBot     = "dingtalk_bot"
	ChannelFeishuApps      = "feishu_apps"
	ChannelFeishuBot       = "feishu_bot"
	ChannelTelegramBot     = "telegram_bot"
	ChannelQQBot           = "qq_bot"
	ChannelNapCatQQ        = "napcat_qq"
	ChannelBark            = "bark"
	ChannelGotify          = "gotify"
	ChannelWebhook         = "webhook"
	ChannelEmail           = "email"
	ChannelPushPlus        = "pushplus"
	ChannelWxPusher        = "wxpusher"
	ChannelQLAPI           = "qlapi"
	ChannelDemo            = "demo"
)

// Channel is one entry of the push_channel list. Type-specific keys land in
// Fields.
type Channel struct {
	Name   string         `yaml:"name" json:"name" validate:"required"`
	Type   string         `yaml:"type" json:"type" validate:"required,oneof=serverChan_turbo serverChan_3 wecom_apps wecom_bot dingtalk_bot feishu_apps feishu_bot telegram_bot qq_bot napcat_qq bark gotify webhook email pushplus wxpusher qlapi demo"`
	Enable bool           `yaml:"enable" json:"enable"`
	Fields map[string]any `yaml:",inline" json:"-"`
}

func (c Channel) String(key string) string {
	return c.StringOr(key, "")
}

func (c Channel) StringOr(key, fallback string) string {
	v, ok := c.Fields[key]
	if !ok || v == nil {
		return fallback
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		if t == math.Trunc(t) {
			s = strconv.FormatInt(int64(t), 10)
		} else {
			s = strconv.FormatFloat(t, 'f', -1, 64)
		}
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return s
}

func (c Channel) Int(key string, fallback int) int {
	switch t := c.Fields[key].(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return fallback
}

func (c Channel) Bool(key string, fallback bool) bool {
	switch t := c.Fields[key].(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	}
	return fallback
}

// List reads a sequence or a comma-separated string.
func (c Channel) List(key string) []string {
	switch t := c.Fields[key].(type) {
	case string:
		return splitList(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	}
	return nil
}

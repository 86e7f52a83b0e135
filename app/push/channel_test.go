package push

import (
	"context"
	"errors"
	"testing"

	"github.com/lysyi3m/webmoniter/app/config"
)

func channelDef(name, typ string, fields map[string]any) config.Channel {
	return config.Channel{Name: name, Type: typ, Enable: true, Fields: fields}
}

func TestNewBuildsEveryType(t *testing.T) {
	full := map[string]any{
		"send_key": "k", "uid": "1", "corp_id": "c", "agent_id": "1", "corp_secret": "s",
		"key": "k", "access_token": "t", "app_id": "a", "app_secret": "s",
		"receive_id_type": "chat_id", "receive_id": "oc_1", "webhook_key": "w",
		"api_token": "t", "chat_id": "1", "base_url": "http://localhost",
		"api_url": "http://localhost", "user_id": "1", "web_server_url": "http://localhost",
		"webhook_url": "http://localhost", "smtp_host": "smtp.example.com",
		"sender_email": "a@example.com", "sender_password": "p", "receiver_email": "b@example.com",
		"token": "t", "app_token": "t", "client_id": "c", "client_secret": "s",
	}
	full["push_target_list"] = []any{map[string]any{"guild_name": "g", "channel_name_list": []any{"c"}}}

	for _, typ := range Types() {
		ch, err := New(channelDef("x", typ, full), nil)
		if err != nil {
			t.Errorf("Expected %s to build, got %v", typ, err)
			continue
		}
		if ch.Type() != typ {
			t.Errorf("Expected type %s, got %s", typ, ch.Type())
		}
	}
	if len(Types()) != 18 {
		t.Errorf("Expected 18 channel types, got %d", len(Types()))
	}
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(channelDef("x", "carrier_pigeon", nil), nil)
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
}

func TestNewMissingField(t *testing.T) {
	_, err := New(channelDef("tg", config.ChannelTelegramBot, map[string]any{"api_token": "t"}), nil)
	if !errors.Is(err, ErrMisconfigured) {
		t.Errorf("Expected ErrMisconfigured, got %v", err)
	}
}

func TestContentCaps(t *testing.T) {
	tests := []struct {
		typ    string
		fields map[string]any
		want   int
	}{
		{config.ChannelServerChanTurbo, map[string]any{"send_key": "k"}, 65536},
		{config.ChannelWeComApps, map[string]any{"corp_id": "c", "agent_id": "1", "corp_secret": "s"}, 500},
		{config.ChannelDingtalkBot, map[string]any{"access_token": "t"}, 12000},
		{config.ChannelTelegramBot, map[string]any{"api_token": "t", "chat_id": "1"}, 4096},
		{config.ChannelBark, map[string]any{"key": "k"}, 4096},
		{config.ChannelGotify, map[string]any{"web_server_url": "http://x"}, 0},
	}

	for _, tt := range tests {
		ch, err := New(channelDef("x", tt.typ, tt.fields), nil)
		if err != nil {
			t.Fatalf("%s: %v", tt.typ, err)
		}
		if ch.MaxContentBytes() != tt.want {
			t.Errorf("%s: expected cap %d, got %d", tt.typ, tt.want, ch.MaxContentBytes())
		}
	}
}

func TestDemoPush(t *testing.T) {
	ch, err := New(channelDef("demo", config.ChannelDemo, map[string]any{"param": "p"}), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Push(context.Background(), Message{Title: "t", Content: "c"}); err != nil {
		t.Errorf("Expected demo push to succeed, got %v", err)
	}
}

// Package notify fans one notification out to every configured push channel.
package notify

import "unicode/utf8"

// Request is one logical notification.
type Request struct {
	Title string
	Body  string
	// BodyFor builds a body for one channel type; empty falls back to Body.
	BodyFor func(channelType string) string
	URL     string
	PicURL  string
	Button  string
	Extra   map[string]string
	Event   string
	Payload map[string]any
}

func (r Request) bodyFor(channelType string) string {
	if r.BodyFor != nil {
		if body := r.BodyFor(channelType); body != "" {
			return body
		}
	}
	return r.Body
}

func (r Request) payload() map[string]any {
	if r.Payload == nil && r.Event == "" {
		return nil
	}
	out := make(map[string]any, len(r.Payload)+1)
	for k, v := range r.Payload {
		out[k] = v
	}
	if r.Event != "" {
		out["event"] = r.Event
	}
	return out
}

const ellipsis = "…"

// Truncate caps s at max UTF-8 bytes. Cut bodies end with an ellipsis unless
// max is too small to hold one. max <= 0 means no cap.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max < len(ellipsis) {
		return cutRunes(s, max)
	}
	return cutRunes(s, max-len(ellipsis)) + ellipsis
}

func cutRunes(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

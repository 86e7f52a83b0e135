package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// base carries what every adapter shares.
type base struct {
	name     string
	typ      string
	client   *http.Client
	maxBytes int
}

func (b base) Name() string         { return b.name }
func (b base) Type() string         { return b.typ }
func (b base) MaxContentBytes() int { return b.maxBytes }

func (b base) fail(format string, args ...any) error {
	return &SendError{Channel: b.name, Type: b.typ, Err: fmt.Errorf(format, args...)}
}

// request describes one provider call. Body is JSON-encoded unless it is
// url.Values (form) or []byte (sent as-is with ContentType).
type request struct {
	Method      string
	URL         string
	Query       url.Values
	Header      map[string]string
	Body        any
	ContentType string
}

// do sends req and decodes a JSON response into out when out is non-nil.
func (b base) do(ctx context.Context, req request, out any) error {
	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType = req.ContentType
	)
	switch v := req.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(v)
	case url.Values:
		body = strings.NewReader(v.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return b.fail("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return b.fail("failed to build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return b.fail("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return b.fail("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			Channel:    b.name,
			Reason:     "HTTP 429",
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode >= 400 {
		return &SendError{
			Channel: b.name,
			Type:    b.typ,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("%s", snippet(data)),
		}
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return b.fail("failed to decode response: %w", err)
		}
	}
	return nil
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty response"
	}
	return s
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

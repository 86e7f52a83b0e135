package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"
	"time"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"
)

const (
	FetchTimeout     = 15 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodyBytes     = 8 << 20
)

// Session is a per-probe HTTP client carrying the platform cookie and user
// agent. Headers are refreshed in place on reload.
type Session struct {
	client *http.Client

	mu        sync.RWMutex
	cookie    string
	userAgent string
	rps       float64
	limiter   *rate.Limiter
}

func NewSession(client *http.Client, s Settings) *Session {
	if client == nil {
		client = &http.Client{Timeout: FetchTimeout}
	}
	sess := &Session{client: client}
	sess.Update(s)
	return sess
}

func limiterFor(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Update applies new credentials and pacing and reports whether the cookie
// or user agent changed.
func (s *Session) Update(settings Settings) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.cookie != settings.Cookie || s.userAgent != settings.UserAgent
	s.cookie = settings.Cookie
	s.userAgent = settings.UserAgent
	if s.limiter == nil || s.rps != settings.RequestsPerSecond {
		s.rps = settings.RequestsPerSecond
		s.limiter = limiterFor(settings.RequestsPerSecond)
	}
	return changed
}

func (s *Session) Cookie() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookie
}

// Response is a fully read upstream reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Text decodes the body using the charset from Content-Type, falling back to
// the raw bytes when the charset is unknown.
func (r *Response) Text() string {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || params["charset"] == "" {
		return string(r.Body)
	}
	enc, err := htmlindex.Get(params["charset"])
	if err != nil {
		return string(r.Body)
	}
	decoded, err := enc.NewDecoder().Bytes(r.Body)
	if err != nil {
		return string(r.Body)
	}
	return string(decoded)
}

func (r *Response) JSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Get fetches url with the session headers. Non-2xx replies are returned, not
// turned into errors, so probes can inspect 403s.
func (s *Session) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return s.Do(req)
}

func (s *Session) Do(req *http.Request) (*Response, error) {
	s.mu.RLock()
	cookie, userAgent, limiter := s.cookie, s.userAgent, s.limiter
	s.mu.RUnlock()

	if err := limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(req.Context(), FetchTimeout)
	defer cancel()
	req = req.WithContext(ctx)

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	slog.DebugContext(req.Context(), "Fetched", "url", req.URL.Redacted(), "status", resp.StatusCode, "bytes", len(body))
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

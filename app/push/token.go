package push

import (
	"context"
	"sync"
	"time"
)

const (
	tokenLifetime      = 7000 * time.Second
	tokenRefreshMargin = 300 * time.Second
)

// tokenCache holds one access token and serializes refreshes.
type tokenCache struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

// fetchToken returns a token and its lifetime; zero lifetime means
// tokenLifetime.
type fetchToken func(ctx context.Context) (string, time.Duration, error)

func (c *tokenCache) get(ctx context.Context, fetch fetchToken) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now
	if c.now != nil {
		now = c.now
	}

	if c.token != "" && now().Before(c.expires.Add(-tokenRefreshMargin)) {
		return c.token, nil
	}

	token, ttl, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	if ttl <= 0 || ttl > tokenLifetime {
		ttl = tokenLifetime
	}
	c.token = token
	c.expires = now().Add(ttl)
	return token, nil
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

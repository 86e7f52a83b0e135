// Package credential tracks whether each platform's shared credential still
// works and whether the user has been told it does not.
package credential

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileName is the cache document inside the data directory.
const FileName = "cookie_cache.json"

// Status is the persisted state for one platform. Notified is only ever
// true while Valid is false.
type Status struct {
	Valid    bool `json:"valid"`
	Notified bool `json:"notified"`
}

type Cache struct {
	mu       sync.Mutex
	path     string
	statuses map[string]Status
	inMemory bool
}

// NewCache loads the document at path. A missing file starts empty; an
// unreadable or corrupt one is logged and the cache keeps running in memory.
func NewCache(path string) *Cache {
	c := &Cache{path: path, statuses: map[string]Status{}}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		slog.Error("Failed to read credential cache, continuing in memory", "path", path, "error", err)
		c.inMemory = true
	default:
		if err := json.Unmarshal(data, &c.statuses); err != nil {
			slog.Error("Corrupt credential cache, starting fresh", "path", path, "error", err)
			c.statuses = map[string]Status{}
		}
	}

	for platform, s := range c.statuses {
		if s.Valid && s.Notified {
			s.Notified = false
			c.statuses[platform] = s
		}
	}
	return c
}

// IsValid defaults to true and persists the default on first query.
func (c *Cache) IsValid(platform string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(platform).Valid
}

func (c *Cache) IsNotified(platform string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(platform).Notified
}

// Get returns the full status, creating the default if needed.
func (c *Cache) Get(platform string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(platform)
}

// MarkExpired sets valid=false and leaves notified alone.
func (c *Cache) MarkExpired(platform string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.load(platform)
	if !s.Valid {
		return
	}
	s.Valid = false
	c.statuses[platform] = s
	c.save()
	slog.Warn("Credential marked expired", "platform", platform)
}

// MarkNotified flips notified to true while the credential is invalid. It
// reports whether this call made the flip, so exactly one of several
// concurrent callers sends the expiry notice.
func (c *Cache) MarkNotified(platform string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.load(platform)
	if s.Valid || s.Notified {
		return false
	}
	s.Notified = true
	c.statuses[platform] = s
	c.save()
	return true
}

// MarkValid sets valid=true and clears notified in one write. It is the only
// place notified is cleared.
func (c *Cache) MarkValid(platform string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.load(platform)
	if s.Valid && !s.Notified {
		return
	}
	wasInvalid := !s.Valid
	c.statuses[platform] = Status{Valid: true, Notified: false}
	c.save()
	if wasInvalid {
		slog.Info("Credential recovered", "platform", platform)
	}
}

// ResetAll marks every known platform valid and un-notified.
func (c *Cache) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for platform := range c.statuses {
		c.statuses[platform] = Status{Valid: true}
	}
	c.save()
}

// Snapshot returns a copy of every status, for the admin API.
func (c *Cache) Snapshot() map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Status, len(c.statuses))
	for k, v := range c.statuses {
		out[k] = v
	}
	return out
}

// Platforms lists the platforms the cache knows about, sorted.
func (c *Cache) Platforms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.statuses))
	for k := range c.statuses {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// load must be called with mu held.
func (c *Cache) load(platform string) Status {
	s, ok := c.statuses[platform]
	if !ok {
		s = Status{Valid: true}
		c.statuses[platform] = s
		c.save()
	}
	return s
}

// save must be called with mu held. Failures switch the cache to memory-only.
func (c *Cache) save() {
	if c.inMemory || c.path == "" {
		return
	}
	if err := c.write(); err != nil {
		slog.Error("Failed to persist credential cache, continuing in memory", "path", c.path, "error", err)
		c.inMemory = true
	}
}

func (c *Cache) write() error {
	data, err := json.MarshalIndent(c.statuses, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace credential cache: %w", err)
	}
	return nil
}

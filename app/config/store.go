package config

import "sync"

// Store publishes the current snapshot. Snapshots are never mutated after
// Swap; readers keep whatever pointer they got.
type Store struct {
	mu      sync.RWMutex
	current *Config
}

func NewStore(cfg *Config) *Store {
	return &Store{current: cfg}
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Swap installs cfg and returns the previous snapshot.
func (s *Store) Swap(cfg *Config) *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.current
	s.current = cfg
	return old
}

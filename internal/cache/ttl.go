package cache

import (
	"sync"
	"time"
)

// TTLStore is an in-process key/flag store with per-key expiry. It backs the
// temporary-unapproval veto: keys are last-writer-wins and reads after expiry
// behave exactly like reads of a key that was never set.
type TTLStore struct {
	mu    sync.Mutex
	items map[string]time.Time
	now   func() time.Time
}

// NewTTLStore creates an empty store.
func NewTTLStore() *TTLStore {
	return &TTLStore{
		items: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Set marks the key for ttl. Setting an existing key restarts its expiry.
func (s *TTLStore) Set(key string, ttl time.Duration) {
	if key == "" || ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = s.now().Add(ttl)
}

// Expire removes the key immediately. Expiring an absent key is a no-op.
func (s *TTLStore) Expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// IsSet reports whether the key is present and not yet expired. Expired keys
// are removed on read.
func (s *TTLStore) IsSet(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.items[key]
	if !ok {
		return false
	}
	if s.now().After(expiresAt) {
		delete(s.items, key)
		return false
	}
	return true
}

// Package cache provides in-memory stores for deployments that do not
// want handshake state in Postgres.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sumire/nowplaying/internal/domain"
)

// AttemptStore keeps in-flight handshake attempts in process memory with
// per-entry TTL eviction. The mutex makes Consume atomic so two callbacks
// racing on the same state cannot both succeed.
type AttemptStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, domain.LinkingAttempt]
}

// NewAttemptStore creates the store and starts the eviction loop.
func NewAttemptStore() *AttemptStore {
	cache := ttlcache.New[string, domain.LinkingAttempt]()
	go cache.Start()
	return &AttemptStore{cache: cache}
}

// Create stores an attempt keyed by its state value, expiring it at the
// attempt's own deadline.
func (s *AttemptStore) Create(_ context.Context, attempt domain.LinkingAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(attempt.State, attempt, time.Until(attempt.ExpiresAt))
	return nil
}

// Consume removes and returns the attempt for a state value. Missing,
// evicted and expired attempts all fail with domain.ErrHandshakeExpired.
func (s *AttemptStore) Consume(_ context.Context, state string) (*domain.LinkingAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(state)
	if item == nil {
		return nil, domain.ErrHandshakeExpired
	}
	s.cache.Delete(state)

	attempt := item.Value()
	if attempt.Expired(time.Now()) {
		return nil, domain.ErrHandshakeExpired
	}
	return &attempt, nil
}

// DeleteExpired is a no-op; ttlcache evicts on its own.
func (s *AttemptStore) DeleteExpired(_ context.Context) error {
	return nil
}

// Stop halts the eviction loop.
func (s *AttemptStore) Stop() {
	s.cache.Stop()
}

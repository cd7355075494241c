// Package replay remembers consumed proof nonces so a signed decision cannot be
// presented twice.
package replay

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrReplayed = errors.New("nonce already consumed")

// Store records nonces. Consume returns ErrReplayed when nonce was seen within
// its ttl.
type Store interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) error
}

type MemoryStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	clock func() time.Time
}

type MemoryOption func(*MemoryStore)

func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.clock = clock
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	store := &MemoryStore{
		seen:  map[string]time.Time{},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *MemoryStore) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(now)
	if expiry, ok := s.seen[nonce]; ok && now.Before(expiry) {
		return ErrReplayed
	}
	s.seen[nonce] = now.Add(ttl)
	return nil
}

// Len reports how many unexpired nonces are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(s.clock())
	return len(s.seen)
}

func (s *MemoryStore) evict(now time.Time) {
	for nonce, expiry := range s.seen {
		if !now.Before(expiry) {
			delete(s.seen, nonce)
		}
	}
}

package security

import (
	"context"
	"sync"
	"time"
)

// Blacklist stores the ids of revoked tokens until they would expire anyway.
type Blacklist interface {
	Add(ctx context.Context, id string, expiresAt time.Time) error
	Contains(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int, error)
}

type MemoryBlacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{entries: make(map[string]time.Time)}
}

func (b *MemoryBlacklist) Add(_ context.Context, id string, expiresAt time.Time) error {
	b.mu.Lock()
	b.entries[id] = expiresAt
	b.mu.Unlock()
	return nil
}

func (b *MemoryBlacklist) Contains(_ context.Context, id string) (bool, error) {
	b.mu.RLock()
	_, ok := b.entries[id]
	b.mu.RUnlock()
	return ok, nil
}

func (b *MemoryBlacklist) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	delete(b.entries, id)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBlacklist) Clear(_ context.Context) error {
	b.mu.Lock()
	b.entries = make(map[string]time.Time)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBlacklist) Size(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries), nil
}

// PurgeExpired drops entries whose token already fails the expiry check.
func (b *MemoryBlacklist) PurgeExpired(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, exp := range b.entries {
		if !now.Before(exp) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

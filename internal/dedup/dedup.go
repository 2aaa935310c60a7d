// Package dedup remembers recently dispatched message ids so a message the
// protocol redelivers after a reconnect is not handled twice.
package dedup

import (
	"context"
	"sync"
	"time"
)

const DefaultTTL = 10 * time.Minute

// Deduper reports whether an id has been seen within its TTL and marks it
// seen. The first call for an id returns false.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Close() error
}

// Memory is an in-process TTL set.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
	sweeps  int
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) Seen(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweeps++
	if m.sweeps >= 256 {
		m.sweep(now)
	}

	if exp, ok := m.entries[id]; ok && now.Before(exp) {
		return true, nil
	}
	m.entries[id] = now.Add(m.ttl)
	return false, nil
}

// Len returns the number of tracked ids, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }

func (m *Memory) sweep(now time.Time) {
	for id, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, id)
		}
	}
	m.sweeps = 0
}

// Nop never reports a duplicate.
type Nop struct{}

func (Nop) Seen(context.Context, string) (bool, error) { return false, nil }
func (Nop) Close() error                                { return nil }

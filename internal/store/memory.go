package store

import (
	"context"
	"encoding/json"
	"sync"

	"wabot/internal/domain"
)

// MemoryStore keeps everything in process. Used by console mode and tests.
type MemoryStore struct {
	mu       sync.Mutex
	creds    *domain.Credentials
	commands []domain.CommandRecord
	nextID   int64
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(context.Context) (*domain.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil, nil
	}
	c := cloneCreds(*m.creds)
	return &c, nil
}

func (m *MemoryStore) Save(_ context.Context, c domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c = cloneCreds(c)
	m.creds = &c
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}

func (m *MemoryStore) RecordCommand(_ context.Context, rec domain.CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	rec.Args = append([]string(nil), rec.Args...)
	m.commands = append(m.commands, rec)
	return nil
}

// RecentCommands returns up to limit records, newest first.
func (m *MemoryStore) RecentCommands(_ context.Context, limit int) ([]domain.CommandRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	if limit > len(m.commands) {
		limit = len(m.commands)
	}
	out := make([]domain.CommandRecord, 0, limit)
	for i := len(m.commands) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.commands[i])
	}
	return out, nil
}

func cloneCreds(c domain.Credentials) domain.Credentials {
	if c.Me != nil {
		me := *c.Me
		c.Me = &me
	}
	if c.Data != nil {
		c.Data = append(json.RawMessage(nil), c.Data...)
	}
	return c
}

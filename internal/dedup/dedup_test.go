package dedup

import (
	"context"
	"testing"
	"time"
)

func TestMemory_FirstSightingIsNew(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	seen, err := m.Seen(ctx, "3EB0A1")
	if err != nil || seen {
		t.Fatalf("first Seen = %v, %v", seen, err)
	}
	seen, _ = m.Seen(ctx, "3EB0A1")
	if !seen {
		t.Error("second Seen should report duplicate")
	}
	seen, _ = m.Seen(ctx, "3EB0A2")
	if seen {
		t.Error("different id reported as duplicate")
	}
}

func TestMemory_Expires(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Seen(ctx, "id")
	now = now.Add(59 * time.Second)
	if seen, _ := m.Seen(ctx, "id"); !seen {
		t.Fatal("expected duplicate within ttl")
	}
	now = now.Add(2 * time.Minute)
	if seen, _ := m.Seen(ctx, "id"); seen {
		t.Error("expected id to expire")
	}
}

func TestMemory_SweepsExpired(t *testing.T) {
	m := NewMemory(time.Second)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		m.Seen(ctx, string(rune('a'+i%26))+string(rune('A'+i/26)))
	}
	now = now.Add(time.Hour)
	for i := 0; i < 300; i++ {
		m.Seen(ctx, "fresh")
	}
	if n := m.Len(); n != 1 {
		t.Errorf("Len after sweep = %d, want 1", n)
	}
}

func TestMemory_EmptyIDNeverDuplicate(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	m.Seen(ctx, "")
	if seen, _ := m.Seen(ctx, ""); seen {
		t.Error("empty id must not dedup")
	}
	if m.ttl != DefaultTTL {
		t.Errorf("ttl = %v", m.ttl)
	}
}

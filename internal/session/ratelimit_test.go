package session

import (
	"context"
	"testing"
	"time"
)

func TestSendLimiter_Burst(t *testing.T) {
	l := NewSendLimiter(5, 60)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if d := l.lim.ReserveN(now, 1).DelayFrom(now); d != 0 {
			t.Fatalf("burst token %d delayed %v", i, d)
		}
	}
	if d := l.lim.ReserveN(now, 1).DelayFrom(now); d <= 0 {
		t.Error("sixth token should be delayed")
	}
}

func TestSendLimiter_Refill(t *testing.T) {
	l := NewSendLimiter(1, 60) // one per second
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if d := l.lim.ReserveN(now, 1).DelayFrom(now); d != 0 {
		t.Fatalf("first token delayed %v", d)
	}
	now = now.Add(time.Second)
	if d := l.lim.ReserveN(now, 1).DelayFrom(now); d != 0 {
		t.Fatalf("token not refilled after 1s: %v", d)
	}
	d := l.lim.ReserveN(now, 1).DelayFrom(now)
	if d < 900*time.Millisecond || d > time.Second {
		t.Errorf("expected ~1s delay, got %v", d)
	}
}

func TestSendLimiter_WaitBlocksThenSucceeds(t *testing.T) {
	l := NewSendLimiter(1, 1200) // 20/s
	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("second Wait returned after %v", elapsed)
	}
}

func TestSendLimiter_WaitCancelled(t *testing.T) {
	l := NewSendLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestSendLimiter_Disabled(t *testing.T) {
	l := NewSendLimiter(0, 0)
	if l != nil {
		t.Fatal("non-positive rate should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}

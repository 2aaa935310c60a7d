package command

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"wabot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func noop() Handler {
	return HandlerFunc(func(context.Context, domain.Session, domain.InboundMessage, []string) error { return nil })
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.Register("Ping", "pong", noop()); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, name := range []string{"ping", "PING", "pInG"} {
		e, ok := reg.Lookup(name)
		if !ok {
			t.Fatalf("lookup %q failed", name)
		}
		if e.Name != "ping" {
			t.Errorf("entry name = %q", e.Name)
		}
	}
}

func TestRegistry_ExactMatchOnly(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.MustRegister("time", "", noop())

	for _, name := range []string{"tim", "times", "t", "", " time"} {
		if _, ok := reg.Lookup(name); ok {
			t.Errorf("lookup %q should miss", name)
		}
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.MustRegister("ping", "", noop())
	err := reg.Register("PING", "", noop())
	if !errors.Is(err, domain.ErrDuplicateCommand) {
		t.Fatalf("expected ErrDuplicateCommand, got %v", err)
	}
}

func TestRegistry_RejectsBadEntries(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.Register("", "", noop()); err == nil {
		t.Error("expected error for empty name")
	}
	if err := reg.Register("two words", "", noop()); err == nil {
		t.Error("expected error for whitespace in name")
	}
	if err := reg.Register("nil", "", nil); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.MustRegister("time", "", noop())
	reg.MustRegister("help", "", noop())
	reg.MustRegister("ping", "", noop())

	names := reg.Names()
	want := []string{"help", "ping", "time"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

package command

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestBuiltins_Time(t *testing.T) {
	reg := NewRegistry(testLogger())
	fixed := time.Date(2024, 3, 9, 21, 4, 5, 0, time.UTC)
	jakarta := time.FixedZone("WIB", 7*3600)
	if err := RegisterBuiltins(reg, BuiltinConfig{
		Prefix:   ".",
		Location: jakarta,
		Now:      func() time.Time { return fixed },
	}); err != nil {
		t.Fatal(err)
	}

	s := &fakeSession{}
	e, _ := reg.Lookup("time")
	if err := e.Handler.Handle(context.Background(), s, incoming(".time"), nil); err != nil {
		t.Fatal(err)
	}
	if texts := s.texts(); len(texts) != 1 || texts[0] != "Current time: 04:04:05" {
		t.Errorf("texts = %q", texts)
	}
}

func TestBuiltins_Help(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := RegisterBuiltins(reg, BuiltinConfig{Prefix: "!", BotName: "kiosk"}); err != nil {
		t.Fatal(err)
	}

	s := &fakeSession{}
	e, _ := reg.Lookup("help")
	if err := e.Handler.Handle(context.Background(), s, incoming("!help"), nil); err != nil {
		t.Fatal(err)
	}
	text := s.texts()[0]
	if !strings.HasPrefix(text, "*kiosk commands*") {
		t.Errorf("help header: %q", text)
	}
	for _, name := range []string{"!help", "!ping", "!time", "!uptime", "!version"} {
		if !strings.Contains(text, name) {
			t.Errorf("help missing %s: %q", name, text)
		}
	}
}

func TestBuiltins_Uptime(t *testing.T) {
	reg := NewRegistry(testLogger())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := RegisterBuiltins(reg, BuiltinConfig{
		Prefix:  ".",
		Started: start,
		Now:     func() time.Time { return start.Add(90*time.Minute + 1500*time.Millisecond) },
	}); err != nil {
		t.Fatal(err)
	}

	s := &fakeSession{}
	e, _ := reg.Lookup("uptime")
	if err := e.Handler.Handle(context.Background(), s, incoming(".uptime"), nil); err != nil {
		t.Fatal(err)
	}
	if got := s.texts()[0]; got != "Uptime: 1h30m2s" {
		t.Errorf("uptime = %q", got)
	}
}

func TestBuiltins_RegisterTwiceFails(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := RegisterBuiltins(reg, BuiltinConfig{Prefix: "."}); err != nil {
		t.Fatal(err)
	}
	if err := RegisterBuiltins(reg, BuiltinConfig{Prefix: "."}); err == nil {
		t.Error("expected duplicate registration error")
	}
}

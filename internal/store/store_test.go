package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wabot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "wabot.db")
	s, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestRunMigrations_FreshAndIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if v, err := GetSchemaVersion(db); err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v", v, err)
	}
	for i := 0; i < 2; i++ {
		if err := RunMigrations(db, testLogger()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	v, err := GetSchemaVersion(db)
	if err != nil || v != schemaVersion {
		t.Errorf("version = %d, %v; want %d", v, err, schemaVersion)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n); err != nil || n != len(migrations) {
		t.Errorf("schema_version rows = %d, %v", n, err)
	}
}

func TestSQLiteStore_CredentialsRoundTrip(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	got, err := s.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("empty Load = %+v, %v", got, err)
	}

	stamp := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
	in := domain.Credentials{
		Registered: true,
		Me:         &domain.Identity{ID: "6281111111111:7@s.whatsapp.net", Name: "Bot"},
		Data:       json.RawMessage(`{"noiseKey":"abc"}`),
		UpdatedAt:  stamp,
	}
	if err := s.Save(ctx, in); err != nil {
		t.Fatal(err)
	}
	in.Me.Name = "Renamed"
	in.Data = json.RawMessage(`{"noiseKey":"def"}`)
	if err := s.Save(ctx, in); err != nil {
		t.Fatal(err)
	}

	s.Close()
	reopened, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err = reopened.Load(ctx)
	if err != nil || got == nil {
		t.Fatalf("Load = %+v, %v", got, err)
	}
	if !got.Registered || got.SelfID() != "6281111111111:7@s.whatsapp.net" || got.Me.Name != "Renamed" {
		t.Errorf("identity = %+v", got.Me)
	}
	if string(got.Data) != `{"noiseKey":"def"}` {
		t.Errorf("data = %s", got.Data)
	}
	if !got.UpdatedAt.Equal(stamp) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, stamp)
	}

	var rows int
	reopened.db.QueryRow("SELECT COUNT(*) FROM credentials").Scan(&rows)
	if rows != 1 {
		t.Errorf("credentials rows = %d, want 1", rows)
	}

	if err := reopened.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := reopened.Load(ctx); got != nil {
		t.Errorf("Load after Clear = %+v", got)
	}
}

func TestSQLiteStore_CommandLog(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	for i, cmd := range []string{"ping", "time", "boom"} {
		rec := domain.CommandRecord{
			MessageID: "3EB0" + cmd,
			ChatID:    "6282222222222@s.whatsapp.net",
			SenderID:  "6282222222222@s.whatsapp.net",
			Command:   cmd,
			Outcome:   "ok",
			Duration:  time.Duration(i+1) * time.Millisecond,
		}
		if cmd == "time" {
			rec.Args = []string{"extra", "args"}
		}
		if cmd == "boom" {
			rec.Outcome, rec.Error = "panic", "handler panic: boom"
		}
		if err := s.RecordCommand(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.RecentCommands(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Command != "boom" || recs[0].Outcome != "panic" || recs[0].Error == "" {
		t.Errorf("newest = %+v", recs[0])
	}
	if recs[1].Command != "time" || len(recs[1].Args) != 2 || recs[1].Args[1] != "args" {
		t.Errorf("second = %+v", recs[1])
	}
	if recs[1].Duration != 2*time.Millisecond {
		t.Errorf("duration = %v", recs[1].Duration)
	}
	if recs[0].CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestSQLiteStore_Snapshot(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, domain.Credentials{Registered: true, Me: &domain.Identity{ID: "628555@s.whatsapp.net"}}); err != nil {
		t.Fatal(err)
	}

	snap := filepath.Join(t.TempDir(), "snap.db")
	if err := s.Snapshot(ctx, snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := s.Snapshot(ctx, snap); err == nil {
		t.Error("snapshot over an existing file should fail")
	}

	copied, err := NewSQLiteStore(snap, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer copied.Close()
	c, err := copied.Load(ctx)
	if err != nil || c == nil || c.SelfID() != "628555@s.whatsapp.net" {
		t.Errorf("snapshot credentials = %+v, %v", c, err)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if c, _ := m.Load(ctx); c != nil {
		t.Fatal("expected nil credentials")
	}
	in := domain.Credentials{Registered: true, Me: &domain.Identity{ID: "a@s.whatsapp.net"}}
	m.Save(ctx, in)
	in.Me.ID = "mutated"

	got, _ := m.Load(ctx)
	if got.SelfID() != "a@s.whatsapp.net" {
		t.Errorf("store aliased caller's credentials: %q", got.SelfID())
	}
	m.Clear(ctx)
	if c, _ := m.Load(ctx); c != nil {
		t.Error("Clear did not remove credentials")
	}

	m.RecordCommand(ctx, domain.CommandRecord{Command: "ping"})
	m.RecordCommand(ctx, domain.CommandRecord{Command: "time"})
	recs, _ := m.RecentCommands(ctx, 0)
	if len(recs) != 2 || recs[0].Command != "time" || recs[0].ID != 2 {
		t.Errorf("recent = %+v", recs)
	}
}

var (
	_ domain.CredentialStore = (*SQLiteStore)(nil)
	_ domain.CommandLog      = (*SQLiteStore)(nil)
	_ domain.CredentialStore = (*MemoryStore)(nil)
	_ domain.CommandLog      = (*MemoryStore)(nil)
)

// Package store persists session credentials and the command audit log.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"wabot/internal/domain"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore implements domain.CredentialStore and domain.CommandLog.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger.With("component", "store")}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// SchemaVersion reports the applied migration level.
func (s *SQLiteStore) SchemaVersion() (int, error) { return GetSchemaVersion(s.db) }

// Snapshot writes a consistent copy of the database to path, which must not exist.
// The copy is taken with VACUUM INTO so it is safe while the bot is running.
func (s *SQLiteStore) Snapshot(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*domain.Credentials, error) {
	var (
		c                   domain.Credentials
		registered          int
		meID, meName, stamp string
		data                sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT registered, me_id, me_name, data, updated_at FROM credentials WHERE id = 1`,
	).Scan(&registered, &meID, &meName, &data, &stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	c.Registered = registered != 0
	if meID != "" {
		c.Me = &domain.Identity{ID: meID, Name: meName}
	}
	if data.Valid && data.String != "" {
		c.Data = json.RawMessage(data.String)
	}
	if c.UpdatedAt, err = time.Parse(timeLayout, stamp); err != nil {
		return nil, fmt.Errorf("load credentials: bad updated_at %q: %w", stamp, err)
	}
	return &c, nil
}

func (s *SQLiteStore) Save(ctx context.Context, c domain.Credentials) error {
	var meID, meName string
	if c.Me != nil {
		meID, meName = c.Me.ID, c.Me.Name
	}
	var data sql.NullString
	if len(c.Data) > 0 {
		data = sql.NullString{String: string(c.Data), Valid: true}
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, registered, me_id, me_name, data, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			registered = excluded.registered,
			me_id      = excluded.me_id,
			me_name    = excluded.me_name,
			data       = excluded.data,
			updated_at = excluded.updated_at`,
		boolInt(c.Registered), meID, meName, data, c.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	s.logger.Info("stored credentials cleared")
	return nil
}

func (s *SQLiteStore) RecordCommand(ctx context.Context, rec domain.CommandRecord) error {
	args := rec.Args
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO command_log (message_id, chat_id, sender_id, command, args, outcome, error, duration_us, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MessageID, rec.ChatID, rec.SenderID, rec.Command, string(argsJSON),
		rec.Outcome, rec.Error, rec.Duration.Microseconds(), rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record command: %w", err)
	}
	return nil
}

// RecentCommands returns up to limit records, newest first.
func (s *SQLiteStore) RecentCommands(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, chat_id, sender_id, command, args, outcome, error, duration_us, created_at
		FROM command_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query command log: %w", err)
	}
	defer rows.Close()

	var out []domain.CommandRecord
	for rows.Next() {
		var (
			rec        domain.CommandRecord
			args       string
			durationUS int64
			stamp      string
		)
		if err := rows.Scan(&rec.ID, &rec.MessageID, &rec.ChatID, &rec.SenderID, &rec.Command,
			&args, &rec.Outcome, &rec.Error, &durationUS, &stamp); err != nil {
			return nil, fmt.Errorf("scan command log: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &rec.Args); err != nil {
			s.logger.Warn("corrupt args in command log", "id", rec.ID, "err", err)
		}
		rec.Duration = time.Duration(durationUS) * time.Microsecond
		rec.CreatedAt, _ = time.Parse(timeLayout, stamp)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

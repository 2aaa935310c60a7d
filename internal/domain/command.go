package domain

import (
	"context"
	"time"
)

// CommandRecord is one dispatch outcome, kept for auditing.
type CommandRecord struct {
	ID        int64         `json:"id"`
	MessageID string        `json:"message_id"`
	ChatID    string        `json:"chat_id"`
	SenderID  string        `json:"sender_id"`
	Command   string        `json:"command"`
	Args      []string      `json:"args"`
	Outcome   string        `json:"outcome"` // ok | error | panic | unknown
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// CommandLog stores dispatch outcomes.
type CommandLog interface {
	RecordCommand(ctx context.Context, rec CommandRecord) error
	RecentCommands(ctx context.Context, limit int) ([]CommandRecord, error)
}

package inbound

import (
	"log/slog"
	"regexp"
	"unicode/utf8"

	"wabot/internal/domain"
)

const previewRunes = 60

var maskPattern = regexp.MustCompile(`^(\d{4})\d+(\d{4})$`)

// MaskNumber hides the middle digits of the user part of a JID.
func MaskNumber(jid string) string {
	user, _ := domain.SplitJID(jid)
	return maskPattern.ReplaceAllString(user, "$1*****$2")
}

// Preview shortens body to at most n runes, marking the cut with "...".
func Preview(body string, n int) string {
	if utf8.RuneCountInString(body) <= n {
		return body
	}
	runes := []rune(body)
	return string(runes[:n]) + "..."
}

// LogAttrs describes an accepted message for the inbound log line.
func LogAttrs(msg domain.InboundMessage, command string) []any {
	chat := "private"
	if msg.IsGroup {
		chat = "group"
	}
	if command == "" {
		command = "-"
	}
	name := msg.PushName
	if name == "" {
		name, _ = domain.SplitJID(msg.SenderID)
	}
	return []any{
		slog.String("chat", chat),
		slog.String("cmd", command),
		slog.String("from", MaskNumber(msg.SenderID)),
		slog.String("name", name),
		slog.String("kind", string(msg.ContentKind)),
		slog.String("msg", Preview(msg.Body, previewRunes)),
	}
}

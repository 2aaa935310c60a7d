package command

import (
	"strings"

	"wabot/internal/domain"
)

// Parse decides whether msg invokes a command under prefix. It never fails.
func Parse(msg domain.InboundMessage, prefix string) domain.ParsedCommand {
	return ParseText(msg.Body, prefix)
}

// ParseText is Parse on a bare body. The prefix match is case-sensitive; the
// command name is lowercased.
func ParseText(body, prefix string) domain.ParsedCommand {
	if !strings.HasPrefix(body, prefix) {
		return domain.ParsedCommand{Args: []string{}}
	}

	fields := strings.Fields(strings.TrimPrefix(body, prefix))
	if len(fields) == 0 {
		return domain.ParsedCommand{IsCommand: true, Args: []string{}}
	}

	args := make([]string, 0, len(fields)-1)
	args = append(args, fields[1:]...)
	return domain.ParsedCommand{
		IsCommand: true,
		Name:      strings.ToLower(fields[0]),
		Args:      args,
	}
}

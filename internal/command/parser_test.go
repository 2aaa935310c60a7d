package command

import (
	"reflect"
	"strings"
	"testing"

	"wabot/internal/domain"
)

func TestParse_Scenarios(t *testing.T) {
	tests := []struct {
		body   string
		prefix string
		want   domain.ParsedCommand
	}{
		{".ping", ".", domain.ParsedCommand{IsCommand: true, Name: "ping", Args: []string{}}},
		{".time extra args", ".", domain.ParsedCommand{IsCommand: true, Name: "time", Args: []string{"extra", "args"}}},
		{".PING", ".", domain.ParsedCommand{IsCommand: true, Name: "ping", Args: []string{}}},
		{".  spaced    out\targs ", ".", domain.ParsedCommand{IsCommand: true, Name: "spaced", Args: []string{"out", "args"}}},
		{".", ".", domain.ParsedCommand{IsCommand: true, Name: "", Args: []string{}}},
		{".   ", ".", domain.ParsedCommand{IsCommand: true, Name: "", Args: []string{}}},
		{"!!kick @someone", "!!", domain.ParsedCommand{IsCommand: true, Name: "kick", Args: []string{"@someone"}}},
		{"ping", ".", domain.ParsedCommand{Args: []string{}}},
		{" .ping", ".", domain.ParsedCommand{Args: []string{}}},
		{"", ".", domain.ParsedCommand{Args: []string{}}},
		{"Bot help", "bot ", domain.ParsedCommand{Args: []string{}}},
	}

	for _, tt := range tests {
		got := ParseText(tt.body, tt.prefix)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseText(%q, %q) = %+v, want %+v", tt.body, tt.prefix, got, tt.want)
		}
	}
}

func TestParse_IsCommandMatchesHasPrefix(t *testing.T) {
	bodies := []string{"", ".", "..", ".a", "a.", "/start", "# x", "hello world", "Ping", "\t.ping"}
	prefixes := []string{".", "/", "#", "!", "bot"}
	for _, b := range bodies {
		for _, p := range prefixes {
			got := ParseText(b, p)
			if got.IsCommand != strings.HasPrefix(b, p) {
				t.Errorf("ParseText(%q, %q).IsCommand = %v", b, p, got.IsCommand)
			}
			if !got.IsCommand && (got.Name != "" || len(got.Args) != 0) {
				t.Errorf("non-command %q carries name/args: %+v", b, got)
			}
		}
	}
}

func TestParse_BodyEqualToPrefix(t *testing.T) {
	for _, p := range []string{".", "/", "!bot"} {
		got := ParseText(p, p)
		if !got.IsCommand || got.Name != "" || len(got.Args) != 0 {
			t.Errorf("ParseText(%q, %q) = %+v", p, p, got)
		}
	}
}

func TestParse_UsesMessageBody(t *testing.T) {
	msg := domain.InboundMessage{Body: ".Time now"}
	got := Parse(msg, ".")
	if got.Name != "time" || len(got.Args) != 1 || got.Args[0] != "now" {
		t.Errorf("Parse = %+v", got)
	}
}

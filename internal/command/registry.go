package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"wabot/internal/domain"
)

// Handler produces the reply for one command invocation. It sends through s
// itself and may send zero or more messages.
type Handler interface {
	Handle(ctx context.Context, s domain.Session, msg domain.InboundMessage, args []string) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, s domain.Session, msg domain.InboundMessage, args []string) error

func (f HandlerFunc) Handle(ctx context.Context, s domain.Session, msg domain.InboundMessage, args []string) error {
	return f(ctx, s, msg, args)
}

// Entry is a registered command.
type Entry struct {
	Name        string
	Description string
	Handler     Handler
}

// Registry maps lowercase command names to handlers. Lookup is exact.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		logger:  logger,
	}
}

// Register adds a handler under name. Names are case-insensitive and unique.
func (r *Registry) Register(name, description string, h Handler) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("register command: empty name")
	}
	if strings.ContainsAny(key, " \t\n") {
		return fmt.Errorf("register command %q: name contains whitespace", name)
	}
	if h == nil {
		return fmt.Errorf("register command %q: nil handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("register command %q: %w", key, domain.ErrDuplicateCommand)
	}
	r.entries[key] = Entry{Name: key, Description: description, Handler: h}
	r.logger.Debug("registered command", "name", key)
	return nil
}

// MustRegister is Register for static wiring; it panics on conflict.
func (r *Registry) MustRegister(name, description string, h Handler) {
	if err := r.Register(name, description, h); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Entry, bool) {
	if name == "" {
		return Entry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.ToLower(name)]
	return e, ok
}

// Entries returns all commands sorted by name.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Names() []string {
	entries := r.Entries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

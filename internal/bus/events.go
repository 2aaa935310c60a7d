// Package bus carries in-process lifecycle notifications between the session
// manager and its observers (metrics, operator alerts, status display).
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Session lifecycle topics.
const (
	EventSessionState       = "session.state"
	EventReconnectScheduled = "session.reconnect_scheduled"
	EventCredentialsSaved   = "session.credentials_saved"
	EventLoggedOut          = "session.logged_out"
	EventPairingCode        = "session.pairing_code"
	EventQR                 = "session.qr"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string
	Source    string
	Payload   map[string]any
	Timestamp time.Time
}

// Str returns a string payload field, or "".
func (e Event) Str(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

type EventHandler func(Event)

// EventBus is a topic pub/sub with a bounded history. Handlers run on the
// emitting goroutine, in subscription order; a panicking handler is logged
// and skipped.
type EventBus struct {
	mu         sync.RWMutex
	handlers   map[string][]namedHandler
	nextID     int
	logger     *slog.Logger
	history    []Event
	maxHistory int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger.With("component", "bus"),
		maxHistory: 256,
	}
}

// On subscribes handler to eventType ("*" for all). The returned id is
// passed to Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		eb.dispatch(h, event)
	}
}

func (eb *EventBus) dispatch(nh namedHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
		}
	}()
	nh.Handler(event)
}

// Replay returns events of eventType ("*" for all) emitted at or after since.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// Last returns the most recent event of eventType.
func (eb *EventBus) Last(eventType string) (Event, bool) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for i := len(eb.history) - 1; i >= 0; i-- {
		if eb.history[i].Type == eventType {
			return eb.history[i], true
		}
	}
	return Event{}, false
}

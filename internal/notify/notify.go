// Package notify delivers operator alerts, most importantly the one raised
// when the session is logged out and someone has to authenticate again.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wabot/internal/bus"
)

// Alert is one operator-facing notification.
type Alert struct {
	Title  string
	Detail string
	Time   time.Time
}

// Text renders the alert as plain text.
func (a Alert) Text() string {
	var sb strings.Builder
	sb.WriteString(a.Title)
	if a.Detail != "" {
		sb.WriteString("\n\n")
		sb.WriteString(a.Detail)
	}
	if !a.Time.IsZero() {
		sb.WriteString("\n\n")
		sb.WriteString(a.Time.Format(time.RFC3339))
	}
	return sb.String()
}

// Notifier sends alerts to an operator.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Log writes alerts to the process log.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, alert Alert) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("operator alert", "title", alert.Title, "detail", alert.Detail)
	return nil
}

// Multi fans an alert out to every notifier, collecting all failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoggedOutAlert builds the re-authentication alert from a
// session.logged_out event.
func LoggedOutAlert(e bus.Event) Alert {
	detail := "The session was logged out"
	if self := e.Str("self"); self != "" {
		detail += " for " + self
	}
	if reason := e.Str("reason"); reason != "" {
		detail += fmt.Sprintf(" (%s)", reason)
	}
	detail += ". Stored credentials were cleared and the next run pairs a new session."
	return Alert{
		Title:  "wabot: re-authentication required",
		Detail: detail,
		Time:   e.Timestamp,
	}
}

// Subscribe sends an alert on every session.logged_out event. Delivery is
// synchronous so the alert is out before the process exits.
func Subscribe(eb *bus.EventBus, n Notifier, timeout time.Duration, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return eb.On(bus.EventLoggedOut, func(e bus.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := n.Notify(ctx, LoggedOutAlert(e)); err != nil {
			logger.Error("operator alert failed", "err", err)
		}
	})
}

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"wabot/internal/domain"
)

const defaultHandlerTimeout = 60 * time.Second

// Outcome classifies a dispatch.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomePanic   Outcome = "panic"
	OutcomeUnknown Outcome = "unknown"
	OutcomeSkipped Outcome = "skipped" // message was not a command
)

// PanicError carries a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Recorder receives dispatch metrics. metrics.Metrics implements it.
type Recorder interface {
	ObserveCommand(name string, outcome string, d time.Duration)
}

// Router resolves parsed commands against a Registry and runs the handler.
type Router struct {
	registry *Registry
	prefix   string
	timeout  time.Duration
	audit    domain.CommandLog
	metrics  Recorder
	logger   *slog.Logger
}

// RouterConfig holds the router's collaborators. Audit and Metrics are optional.
type RouterConfig struct {
	Registry       *Registry
	Prefix         string
	HandlerTimeout time.Duration
	Audit          domain.CommandLog
	Metrics        Recorder
	Logger         *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		registry: cfg.Registry,
		prefix:   cfg.Prefix,
		timeout:  cfg.HandlerTimeout,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "router"),
	}
}

// Dispatch runs the handler registered for parsed.Name, or the unknown-command
// fallback. Handler errors and panics are logged and recorded here and never
// reach the caller.
//
// The handler context is detached from ctx's cancellation: shutting down stops
// new dispatches but does not abort handlers already running. It is bounded by
// the handler timeout instead.
func (r *Router) Dispatch(ctx context.Context, parsed domain.ParsedCommand, msg domain.InboundMessage, s domain.Session) Outcome {
	if !parsed.IsCommand {
		return OutcomeSkipped
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	start := time.Now()
	var (
		outcome Outcome
		err     error
	)
	if entry, ok := r.registry.Lookup(parsed.Name); ok {
		err = r.invoke(hctx, entry.Handler, s, msg, parsed.Args)
		outcome = OutcomeOK
		var pe *PanicError
		switch {
		case errors.As(err, &pe):
			outcome = OutcomePanic
			r.logger.Error("command handler panicked",
				"command", parsed.Name, "chat", msg.ChatID, "panic", pe.Value, "stack", string(pe.Stack))
		case err != nil:
			outcome = OutcomeError
			r.logger.Error("command handler failed", "command", parsed.Name, "chat", msg.ChatID, "err", err)
		}
	} else {
		outcome = OutcomeUnknown
		if err = r.unknown(hctx, s, msg, parsed.Name); err != nil {
			r.logger.Error("unknown-command reply failed", "command", parsed.Name, "chat", msg.ChatID, "err", err)
		}
	}
	elapsed := time.Since(start)

	r.logger.Debug("command dispatched", "command", parsed.Name, "outcome", outcome, "duration", elapsed)
	if r.metrics != nil {
		r.metrics.ObserveCommand(parsed.Name, string(outcome), elapsed)
	}
	r.record(context.WithoutCancel(ctx), parsed, msg, outcome, err, elapsed)
	return outcome
}

func (r *Router) invoke(ctx context.Context, h Handler, s domain.Session, msg domain.InboundMessage, args []string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return h.Handle(ctx, s, msg, args)
}

// UnknownReply is the canned response for unregistered commands.
func UnknownReply(name, prefix string) string {
	return fmt.Sprintf("Unknown command: %s\nUse %shelp for available commands", name, prefix)
}

func (r *Router) unknown(ctx context.Context, s domain.Session, msg domain.InboundMessage, name string) error {
	return Reply(ctx, s, msg, UnknownReply(name, r.prefix))
}

func (r *Router) record(ctx context.Context, parsed domain.ParsedCommand, msg domain.InboundMessage, outcome Outcome, err error, elapsed time.Duration) {
	if r.audit == nil {
		return
	}
	rec := domain.CommandRecord{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Command:   parsed.Name,
		Args:      parsed.Args,
		Outcome:   string(outcome),
		Duration:  elapsed,
		CreatedAt: time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if err := r.audit.RecordCommand(ctx, rec); err != nil {
		r.logger.Warn("failed to record command", "command", parsed.Name, "err", err)
	}
}

// Reply sends text to msg's chat, quoting msg.
func Reply(ctx context.Context, s domain.Session, msg domain.InboundMessage, text string) error {
	quoted := msg
	_, err := s.Send(ctx, msg.ChatID, domain.OutgoingContent{Text: text, Quoted: &quoted})
	return err
}

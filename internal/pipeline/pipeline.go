// Package pipeline runs each inbound message through normalize, dedup, log,
// parse and route.
package pipeline

import (
	"context"
	"log/slog"
	"runtime/debug"

	"wabot/internal/command"
	"wabot/internal/dedup"
	"wabot/internal/domain"
	"wabot/internal/inbound"
)

// VerdictRecorder counts normalizer verdicts. metrics.Metrics implements it.
type VerdictRecorder interface {
	ObserveVerdict(verdict string)
}

type Config struct {
	Normalizer *inbound.Normalizer
	Router     *command.Router
	Prefix     string
	Dedup      dedup.Deduper   // optional
	Metrics    VerdictRecorder // optional
	Logger     *slog.Logger
}

// Pipeline is stateless apart from its collaborators and may be bound to any
// number of connections.
type Pipeline struct {
	normalizer *inbound.Normalizer
	router     *command.Router
	prefix     string
	dedup      dedup.Deduper
	metrics    VerdictRecorder
	logger     *slog.Logger
}

func New(cfg Config) *Pipeline {
	if cfg.Dedup == nil {
		cfg.Dedup = dedup.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		normalizer: cfg.Normalizer,
		router:     cfg.Router,
		prefix:     cfg.Prefix,
		dedup:      cfg.Dedup,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "pipeline"),
	}
}

// Handle processes a batch in order. Only notify batches carry live user
// traffic; history-sync batches are dropped.
func (p *Pipeline) Handle(ctx context.Context, s domain.Session, upsert domain.MessagesUpsert) {
	if upsert.Type != domain.UpsertNotify {
		p.logger.Debug("skipping non-notify batch", "type", upsert.Type, "count", len(upsert.Messages))
		return
	}
	for i := range upsert.Messages {
		if ctx.Err() != nil {
			return
		}
		p.handleOne(ctx, s, &upsert.Messages[i])
	}
}

func (p *Pipeline) handleOne(ctx context.Context, s domain.Session, raw *domain.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("message processing panicked", "id", raw.Key.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	msg, verdict := p.normalizer.Normalize(raw)
	if p.metrics != nil {
		p.metrics.ObserveVerdict(verdict.String())
	}
	if verdict.Ignored() {
		p.logger.Debug("message ignored", "id", raw.Key.ID, "verdict", verdict)
		return
	}

	dup, err := p.dedup.Seen(ctx, msg.ChatID+"/"+msg.ID)
	if err != nil {
		p.logger.Warn("dedup lookup failed, processing anyway", "id", msg.ID, "err", err)
	} else if dup {
		p.logger.Debug("duplicate delivery dropped", "id", msg.ID)
		return
	}

	parsed := command.Parse(msg, p.prefix)
	name := ""
	if parsed.IsCommand {
		name = parsed.Name
		if name == "" {
			name = p.prefix
		}
	}
	p.logger.Info("message received", inbound.LogAttrs(msg, name)...)

	p.router.Dispatch(ctx, parsed, msg, s)
}

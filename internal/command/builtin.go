package command

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"wabot/internal/domain"
)

// BuiltinConfig parameterizes the stock commands.
type BuiltinConfig struct {
	Prefix   string
	BotName  string
	Version  string
	Location *time.Location // for "time"; UTC when nil
	Started  time.Time      // for "uptime"
	Now      func() time.Time
}

// RegisterBuiltins installs ping, time, help, uptime and version.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Started.IsZero() {
		cfg.Started = cfg.Now()
	}
	if cfg.BotName == "" {
		cfg.BotName = "wabot"
	}

	builtins := []Entry{
		{Name: "ping", Description: "Check that the bot is alive", Handler: HandlerFunc(
			func(ctx context.Context, s domain.Session, msg domain.InboundMessage, _ []string) error {
				return Reply(ctx, s, msg, "Pong!")
			})},
		{Name: "time", Description: "Show the bot's current time", Handler: HandlerFunc(
			func(ctx context.Context, s domain.Session, msg domain.InboundMessage, _ []string) error {
				now := cfg.Now().In(cfg.Location)
				return Reply(ctx, s, msg, "Current time: "+now.Format("15:04:05"))
			})},
		{Name: "help", Description: "List available commands", Handler: HandlerFunc(
			func(ctx context.Context, s domain.Session, msg domain.InboundMessage, _ []string) error {
				return Reply(ctx, s, msg, helpText(reg, cfg))
			})},
		{Name: "uptime", Description: "Show how long the bot has been running", Handler: HandlerFunc(
			func(ctx context.Context, s domain.Session, msg domain.InboundMessage, _ []string) error {
				uptime := cfg.Now().Sub(cfg.Started).Round(time.Second)
				return Reply(ctx, s, msg, fmt.Sprintf("Uptime: %s", uptime))
			})},
		{Name: "version", Description: "Show version info", Handler: HandlerFunc(
			func(ctx context.Context, s domain.Session, msg domain.InboundMessage, _ []string) error {
				return Reply(ctx, s, msg, fmt.Sprintf("%s v%s (%s/%s, Go %s)",
					cfg.BotName, cfg.Version, runtime.GOOS, runtime.GOARCH, runtime.Version()))
			})},
	}

	for _, b := range builtins {
		if err := reg.Register(b.Name, b.Description, b.Handler); err != nil {
			return err
		}
	}
	return nil
}

func helpText(reg *Registry, cfg BuiltinConfig) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s commands*\n", cfg.BotName)
	for _, e := range reg.Entries() {
		fmt.Fprintf(&sb, "\n%s%s", cfg.Prefix, e.Name)
		if e.Description != "" {
			fmt.Fprintf(&sb, " - %s", e.Description)
		}
	}
	return sb.String()
}

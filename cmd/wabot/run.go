package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"wabot/internal/bus"
	"wabot/internal/command"
	"wabot/internal/config"
	"wabot/internal/dedup"
	"wabot/internal/domain"
	"wabot/internal/inbound"
	"wabot/internal/metrics"
	"wabot/internal/notify"
	"wabot/internal/operator"
	"wabot/internal/pipeline"
	"wabot/internal/session"
	"wabot/internal/store"
	"wabot/internal/transport/bridge"
	"wabot/internal/transport/console"
)

type runOptions struct {
	pairing bool
	console bool
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to WhatsApp and answer commands",
		Long:  "Starts the session and the command pipeline. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(opts)
		},
	}
	cmd.Flags().BoolVar(&opts.pairing, "pairing", false, "authenticate with a pairing code instead of a QR scan")
	cmd.Flags().BoolVar(&opts.console, "console", false, "use the terminal instead of a WhatsApp connection")
	return cmd
}

func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Run with pairing-code authentication (same as run --pairing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(runOptions{pairing: true})
		},
	}
}

// backends are the stores a run writes to.
type backends struct {
	creds domain.CredentialStore
	audit domain.CommandLog
	close func() error
}

func openBackends(cfg *config.Config) (*backends, error) {
	if cfg.Transport.Kind == "console" {
		mem := store.NewMemoryStore()
		if err := mem.Save(context.Background(), console.Credentials()); err != nil {
			return nil, err
		}
		return &backends{creds: mem, audit: mem, close: func() error { return nil }}, nil
	}
	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &backends{creds: st, audit: st, close: st.Close}, nil
}

func openDeduper(ctx context.Context, cfg config.DedupConfig) (dedup.Deduper, error) {
	switch cfg.Backend {
	case "off":
		return dedup.Nop{}, nil
	case "redis":
		r := dedup.NewRedis(dedup.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.TTL(),
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := r.Ping(pingCtx); err != nil {
			r.Close()
			return nil, err
		}
		return r, nil
	default:
		return dedup.NewMemory(cfg.TTL()), nil
	}
}

func buildNotifier(cfg config.NotifyConfig) notify.Notifier {
	n := notify.Multi{notify.Log{Logger: logger}}
	if cfg.Telegram.Enabled {
		n = append(n, notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
			Logger: logger,
		}))
	}
	return n
}

// pairingPhone returns the number to request a pairing code for, prompting
// the operator when none is configured. The session manager calls it only
// while the stored session is unregistered.
func pairingPhone(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Session.PhoneNumber != "" {
		return operator.ValidatePhone(cfg.Session.PhoneNumber, cfg.Session.PhoneCountryCode)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("pairing needs a phone number: set session.phoneNumber or run interactively")
	}
	return operator.PromptPhone(ctx, os.Stdin, os.Stdout, cfg.Session.PhoneCountryCode)
}

func runBot(opts runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.pairing {
		cfg.Session.UsePairingCode = true
	}
	if opts.console {
		cfg.Transport.Kind = "console"
	}
	logger = setupLogger(cfg.General)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	loc, err := cfg.Commands.Location()
	if err != nil {
		return err
	}

	eb := bus.NewEventBus(logger)
	m := metrics.New()
	m.Subscribe(eb)
	operator.NewDisplay(os.Stdout).Subscribe(eb)
	notify.Subscribe(eb, buildNotifier(cfg.Notify), 15*time.Second, logger)

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Endpoint, m, logger)
		metricsSrv.Health = metrics.SessionHealth(eb)
		if err := metricsSrv.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}

	be, err := openBackends(cfg)
	if err != nil {
		return err
	}
	defer be.close()

	seen, err := openDeduper(ctx, cfg.Dedup)
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	defer seen.Close()

	reg := command.NewRegistry(logger)
	if err := command.RegisterBuiltins(reg, command.BuiltinConfig{
		Prefix:   cfg.Commands.Prefix,
		BotName:  cfg.General.BotName,
		Version:  version,
		Location: loc,
	}); err != nil {
		return err
	}
	router := command.NewRouter(command.RouterConfig{
		Registry:       reg,
		Prefix:         cfg.Commands.Prefix,
		HandlerTimeout: cfg.Commands.HandlerTimeout(),
		Audit:          be.audit,
		Metrics:        m,
		Logger:         logger,
	})

	var dialer domain.Dialer
	var phone func(context.Context) (string, error)
	switch cfg.Transport.Kind {
	case "console":
		dialer = console.NewDialer(console.Config{OnQuit: cancel, Logger: logger})
	default:
		dialer = bridge.NewDialer(bridge.Config{
			URL:              cfg.Transport.Bridge.URL,
			Token:            cfg.Transport.Bridge.Token,
			ClientName:       cfg.Transport.Bridge.ClientName,
			HandshakeTimeout: cfg.Transport.Bridge.HandshakeTimeout(),
			RequestTimeout:   cfg.Transport.Bridge.RequestTimeout(),
			KeepAlive:        cfg.Transport.Bridge.KeepAlive(),
			Logger:           logger,
		})
		if cfg.Session.UsePairingCode {
			phone = func(ctx context.Context) (string, error) { return pairingPhone(ctx, cfg) }
		}
	}

	// The account id is only known once the manager has loaded or received
	// credentials, so the normalizer asks the manager on every message.
	var mgr *session.Manager
	normalizer := &inbound.Normalizer{
		Self:        func() string { return mgr.Handle().Self() },
		ProcessSelf: cfg.Commands.ProcessSelf,
	}

	mgr = session.NewManager(session.Config{
		Dialer:      dialer,
		Credentials: be.creds,
		Handler: pipeline.New(pipeline.Config{
			Normalizer: normalizer,
			Router:     router,
			Prefix:     cfg.Commands.Prefix,
			Dedup:      seen,
			Metrics:    m,
			Logger:     logger,
		}),
		Bus:               eb,
		ReconnectDelay:    cfg.Session.ReconnectDelay(),
		StartupRetryDelay: cfg.Session.StartupRetryDelay(),
		PairingPhone:      phone,
		Limiter:           session.NewSendLimiter(cfg.Commands.SendBurst, cfg.Commands.SendRatePerMinute),
		Sends:             m,
		Logger:            logger,
	})

	logger.Info("wabot starting",
		"version", version,
		"transport", cfg.Transport.Kind,
		"prefix", cfg.Commands.Prefix,
		"commands", reg.Names(),
	)
	// The metrics server outlives the session only until Run returns.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(gctx) })
	if metricsSrv != nil {
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", "err", err)
			}
			return nil
		})
	}
	runErr := g.Wait()
	if ctx.Err() != nil {
		logger.Info("shutting down")
	}

	if errors.Is(runErr, domain.ErrLoggedOut) {
		// Revoked credentials cannot be resumed; drop them so the next start
		// registers a new session instead of being logged out again.
		if err := be.creds.Clear(context.Background()); err != nil {
			logger.Error("failed to clear revoked credentials", "err", err)
		}
		return runErr
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}

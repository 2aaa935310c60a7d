package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"wabot/internal/config"
	"wabot/internal/dedup"
	"wabot/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your wabot installation",
		Long: `Verifies that wabot's configuration, database, bridge and optional
services are reachable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("wabot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			// 1. Config file
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			// 2. Config loads and validates
			cfg, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			// 3. Database
			if detail, err := checkDatabase(cfg.Store.DBPath); err != nil {
				r.fail("Database", err.Error())
			} else {
				r.pass("Database", detail)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			// 4. Bridge reachable
			if cfg.Transport.Kind == "bridge" {
				if err := checkBridge(ctx, cfg.Transport.Bridge.URL); err != nil {
					r.fail("Bridge", err.Error())
				} else {
					r.pass("Bridge", cfg.Transport.Bridge.URL)
				}
			} else {
				r.warn("Bridge", "console transport selected, no WhatsApp connection")
			}

			// 5. Redis
			if cfg.Dedup.Backend == "redis" {
				rd := dedup.NewRedis(dedup.RedisConfig{
					Addr:     cfg.Dedup.Redis.Addr,
					Password: cfg.Dedup.Redis.Password,
					DB:       cfg.Dedup.Redis.DB,
				})
				if err := rd.Ping(ctx); err != nil {
					r.fail("Redis", err.Error())
				} else {
					r.pass("Redis", cfg.Dedup.Redis.Addr)
				}
				rd.Close()
			}

			// 6. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					r.warn("Metrics port", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
				} else {
					r.pass("Metrics port", cfg.Metrics.Listen+" available")
				}
			}

			// 7. Alerts
			if cfg.Notify.Telegram.Enabled {
				r.pass("Telegram alerts", fmt.Sprintf("chat %d", cfg.Notify.Telegram.ChatID))
			} else {
				r.warn("Telegram alerts", "disabled, logouts are only logged")
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running wabot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	fmt.Printf("\nwabot is ready to run.\n")
	return nil
}

// checkDatabase opens the store, which also applies pending migrations.
func checkDatabase(dbPath string) (string, error) {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return "", err
	}
	defer st.Close()
	v, err := st.SchemaVersion()
	if err != nil {
		return "", fmt.Errorf("schema version: %w", err)
	}
	return fmt.Sprintf("%s (schema v%d)", dbPath, v), nil
}

// checkBridge only opens a TCP connection; a websocket handshake would make
// the bridge start a session.
func checkBridge(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "wss" {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	return conn.Close()
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

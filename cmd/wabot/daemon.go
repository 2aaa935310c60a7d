package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"

	"wabot/internal/config"
)

const (
	launchdLabel = "com.wabot.run"
	systemdUnit  = "wabot.service"
)

// daemonCmd installs a user service that restarts wabot when it exits with
// an error. Code reloading and crash recovery are left to the supervisor.
func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Install or remove wabot as a background service",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install wabot as a user service (launchd/systemd)",
		Long:  "Generates and installs a service file that runs `wabot run` on login and restarts it on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			unit, err := currentService()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(unit.Path), 0o755); err != nil {
				return err
			}
			if err := os.MkdirAll(unit.LogDir, 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(unit.Path, []byte(unit.Body), 0o644); err != nil {
				return err
			}
			fmt.Printf("Daemon installed: %s\n", unit.Path)
			for _, h := range unit.Hints {
				fmt.Println(h)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the wabot user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			unit, err := currentService()
			if err != nil {
				return err
			}
			if err := os.Remove(unit.Path); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("no service installed at %s", unit.Path)
				}
				return err
			}
			fmt.Printf("Daemon uninstalled: %s\n", unit.Path)
			return nil
		},
	})
	return cmd
}

// serviceUnit is a rendered service definition and where it belongs.
type serviceUnit struct {
	Path   string
	Body   string
	LogDir string
	Hints  []string
}

type serviceVars struct {
	Label, Exec, Config, Log, ErrLog string
}

func currentService() (serviceUnit, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return serviceUnit{}, err
	}
	cfgPath, err := filepath.Abs(config.ExpandPath(resolveConfigPath()))
	if err != nil {
		return serviceUnit{}, err
	}
	execPath, err := os.Executable()
	if err != nil {
		return serviceUnit{}, fmt.Errorf("cannot determine executable path: %w", err)
	}
	return serviceFor(runtime.GOOS, home, execPath, cfgPath)
}

// serviceFor renders the launchd agent (darwin) or systemd user unit (linux)
// that runs execPath against cfgPath.
func serviceFor(goos, home, execPath, cfgPath string) (serviceUnit, error) {
	logDir := filepath.Join(home, ".wabot", "logs")
	vars := serviceVars{
		Label:  launchdLabel,
		Exec:   execPath,
		Config: cfgPath,
		Log:    filepath.Join(logDir, "wabot.log"),
		ErrLog: filepath.Join(logDir, "wabot-error.log"),
	}

	var unit serviceUnit
	var tmpl *template.Template
	switch goos {
	case "darwin":
		unit.Path = filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		unit.LogDir = logDir
		unit.Hints = []string{
			"To start: launchctl load " + unit.Path,
			"To stop:  launchctl unload " + unit.Path,
		}
		tmpl = launchdTemplate
	case "linux":
		unit.Path = filepath.Join(home, ".config", "systemd", "user", systemdUnit)
		unit.LogDir = logDir
		unit.Hints = []string{
			"To start:  systemctl --user start wabot",
			"To enable: systemctl --user enable wabot",
			"To follow: journalctl --user -u wabot -f",
		}
		tmpl = systemdTemplate
	default:
		return serviceUnit{}, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return serviceUnit{}, err
	}
	unit.Body = buf.String()
	return unit, nil
}

var launchdTemplate = template.Must(template.New("launchd").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>ThrottleInterval</key>
    <integer>10</integer>
    <key>StandardOutPath</key>
    <string>{{.Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLog}}</string>
</dict>
</plist>`))

var systemdTemplate = template.Must(template.New("systemd").Parse(`[Unit]
Description=wabot WhatsApp command bot
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}} run --config {{.Config}}
Restart=on-failure
RestartSec=10

[Install]
WantedBy=default.target`))

package main

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"wabot/internal/config"
	"wabot/internal/store"
)

const archiveDBName = "wabot.db"

// archiveEntry maps a name inside the archive to a file on disk.
type archiveEntry struct {
	Name string
	Path string
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the session database and config file",
		Long: `Creates a .tar.gz archive with a consistent snapshot of the SQLite
database (stored credentials and command log) and the config file.
Restoring it on another machine resumes the session without pairing again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfgPath := config.ExpandPath(resolveConfigPath())

			if outputPath == "" {
				dir := filepath.Join(cfg.General.DataDir, "backups")
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(dir, fmt.Sprintf("wabot-backup-%s.tar.gz", time.Now().Format("20060102-150405")))
			}

			tmp, err := os.MkdirTemp("", "wabot-backup-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)

			var entries []archiveEntry
			if _, err := os.Stat(cfg.Store.DBPath); err == nil {
				snap := filepath.Join(tmp, archiveDBName)
				if err := snapshotDB(cmd.Context(), cfg.Store.DBPath, snap); err != nil {
					return err
				}
				entries = append(entries, archiveEntry{Name: archiveDBName, Path: snap})
			}
			if _, err := os.Stat(cfgPath); err == nil {
				entries = append(entries, archiveEntry{Name: configEntryName(cfgPath), Path: cfgPath})
			}
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (db: %s, config: %s)", cfg.Store.DBPath, cfgPath)
			}

			if err := createArchive(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, e := range entries {
				var size uint64
				if info, err := os.Stat(e.Path); err == nil {
					size = uint64(info.Size())
				}
				fmt.Printf("  - %s (%s)\n", e.Name, humanize.Bytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: <dataDir>/backups/wabot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore the session database and config file from a backup",
		Long: `Restores an archive created by 'wabot backup'. Stop the running bot
first: the database is replaced underneath it otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfgPath := config.ExpandPath(resolveConfigPath())
			dbPath := cfg.Store.DBPath

			if !force && (exists(dbPath) || exists(cfgPath)) {
				fmt.Println("WARNING: this overwrites existing data.")
				fmt.Printf("  Database: %s\n", dbPath)
				fmt.Printf("  Config:   %s\n", cfgPath)
				return errors.New("restore aborted (use --force to proceed)")
			}

			restored, err := extractArchive(args[0], func(name string) string {
				switch {
				case name == archiveDBName:
					return dbPath
				case strings.HasPrefix(name, "config."):
					return cfgPath
				}
				return ""
			})
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			// A WAL left over from the replaced database would be replayed on top of the restored one.
			for _, suffix := range []string{"-wal", "-shm"} {
				os.Remove(dbPath + suffix)
			}

			fmt.Printf("Restored from %s\n", args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

func snapshotDB(ctx context.Context, dbPath, dst string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Snapshot(ctx, dst)
}

func configEntryName(cfgPath string) string {
	ext := strings.ToLower(filepath.Ext(cfgPath))
	switch ext {
	case ".yaml", ".yml":
		return "config" + ext
	}
	return "config.json"
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func createArchive(outputPath string, entries []archiveEntry) error {
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		if err := addFileToTar(tw, e); err != nil {
			return fmt.Errorf("add %s: %w", e.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}

func addFileToTar(tw *tar.Writer, e archiveEntry) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = e.Name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// extractArchive writes every entry that target maps to a path and skips the
// rest. Each file is written beside its target and renamed into place.
func extractArchive(archivePath string, target func(name string) string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		dst := target(filepath.Base(header.Name))
		if dst == "" {
			continue
		}
		if err := writeAtomic(dst, tr); err != nil {
			return restored, fmt.Errorf("extract %s: %w", header.Name, err)
		}
		restored = append(restored, dst)
	}
	return restored, nil
}

func writeAtomic(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rowjay/savekeep/internal/app"
	"github.com/rowjay/savekeep/internal/config"
	"github.com/rowjay/savekeep/internal/logging"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	SourcePath    string
	ArchiveRoot   string
	Interval      int
	TimeUnit      string
	MaxSizeMB     int64
	MaxBytes      int64
	EncryptionKey string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:   "savekeep",
		Short: "Scheduled save file backups with a size-limited archive",
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.SourcePath, "source", "", "Save file to back up")
	rootCmd.PersistentFlags().StringVar(&overrides.ArchiveRoot, "archive", "", "Archive root folder")
	rootCmd.PersistentFlags().IntVar(&overrides.Interval, "interval", 0, "Backup interval, in --time-unit")
	rootCmd.PersistentFlags().StringVar(&overrides.TimeUnit, "time-unit", "", "Interval unit (seconds, minutes)")
	rootCmd.PersistentFlags().Int64Var(&overrides.MaxSizeMB, "max-size-mb", 0, "Archive size limit in MB")
	rootCmd.PersistentFlags().Int64Var(&overrides.MaxBytes, "max-bytes", 0, "Archive size limit in bytes (wins over --max-size-mb)")
	rootCmd.PersistentFlags().StringVar(&overrides.EncryptionKey, "encryption-key", "", "Seal backups with this key (base64 or hex)")

	rootCmd.AddCommand(newRunCmd(root, overrides))
	rootCmd.AddCommand(newBackupCmd(root, overrides))
	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newRestoreCmd(root, overrides))
	rootCmd.AddCommand(newDeleteCmd(root, overrides))
	rootCmd.AddCommand(newRescanCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newRunCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var start bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep running and back up on the configured interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			a, err := app.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn().Err(err).Msg("close archive")
				}
			}()

			if start || cfg.Schedule.StartOnLaunch {
				if err := a.Start(); err != nil {
					return err
				}
			} else {
				logger.Info().Msg("scheduler idle; pass --start or set schedule.start_on_launch")
			}

			err = config.Watch(root.ConfigPath, func(next *config.Config, err error) {
				if err != nil {
					logger.Warn().Err(err).Msg("config reload rejected")
					return
				}
				applyOverrides(next, root, overrides)
				if err := a.ApplyConfig(ctx, next); err != nil {
					logger.Warn().Err(err).Msg("config reload not applied")
				}
			})
			switch {
			case errors.Is(err, config.ErrNotWatchable):
				logger.Debug().Msg("config file not watched")
			case err != nil:
				logger.Warn().Err(err).Msg("config watch disabled")
			}

			<-ctx.Done()
			logger.Info().Msg("shutting down")
			return nil
		},
	}
	cmd.Flags().BoolVar(&start, "start", false, "Start the scheduler right away")
	return cmd
}

func newBackupCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Take one backup now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, overrides, func(ctx context.Context, a *app.App, logger zerolog.Logger) error {
				res, err := a.BackupNow(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "backed up %s (%s)\n", res.Entry, formatSize(res.Entry.SizeBytes))
				for _, e := range res.Evicted {
					fmt.Fprintf(cmd.OutOrStdout(), "evicted %s\n", e)
				}
				return nil
			})
		},
	}
}

func newRescanCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rescan",
		Short: "Rebuild the archive index from the files on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, overrides, func(ctx context.Context, a *app.App, logger zerolog.Logger) error {
				if err := a.Rescan(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d backup(s), %s\n", len(a.List()), formatSize(a.TotalSize()))
				return nil
			})
		},
	}
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat), nil
}

// withApp opens the archive for a one-shot command. The process lock makes this fail
// fast while `savekeep run` holds the same archive.
func withApp(cmd *cobra.Command, root *rootFlags, overrides *overrideFlags, fn func(context.Context, *app.App, zerolog.Logger) error) error {
	cfg, logger, err := loadConfig(root, overrides)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("close archive")
		}
	}()
	return fn(ctx, a, logger)
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	if overrides.SourcePath != "" {
		cfg.Source.Path = overrides.SourcePath
	}
	if overrides.ArchiveRoot != "" {
		if cfg.Global.LockFile == config.DefaultLockFile(cfg.Archive.Root) {
			cfg.Global.LockFile = config.DefaultLockFile(overrides.ArchiveRoot)
		}
		cfg.Archive.Root = overrides.ArchiveRoot
	}
	if overrides.Interval != 0 {
		cfg.Schedule.Interval = overrides.Interval
	}
	if overrides.TimeUnit != "" {
		cfg.Schedule.TimeUnit = strings.ToLower(overrides.TimeUnit)
	}
	if overrides.MaxSizeMB != 0 {
		cfg.Retention.MaxSizeMB = overrides.MaxSizeMB
	}
	if overrides.MaxBytes != 0 {
		cfg.Retention.MaxBytes = overrides.MaxBytes
	}
	if overrides.EncryptionKey != "" {
		cfg.Archive.Encryption = true
		cfg.Archive.EncryptionKey = overrides.EncryptionKey
	}
}

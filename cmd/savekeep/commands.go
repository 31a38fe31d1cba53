package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rowjay/savekeep/internal/app"
	"github.com/rowjay/savekeep/internal/archive"
	"github.com/rowjay/savekeep/internal/config"
	"github.com/rowjay/savekeep/internal/cryptoutil"
	"github.com/rowjay/savekeep/internal/version"
)

func formatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var days bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, overrides, func(ctx context.Context, a *app.App, logger zerolog.Logger) error {
				out := cmd.OutOrStdout()
				if days {
					printDays(out, a.Days())
				} else {
					printEntries(out, a.List())
				}
				fmt.Fprintf(out, "total %s of %s\n", formatSize(a.TotalSize()), formatSize(a.Cfg.Budget()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&days, "days", false, "Summarize per day instead of listing every backup")
	return cmd
}

func printEntries(out io.Writer, entries []archive.Entry) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tSEQ\tTAKEN\tSIZE\tFILE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", e.Day, e.Sequence, e.Timestamp.Format("15:04:05"), formatSize(e.SizeBytes), e.Name())
	}
	_ = tw.Flush()
}

func printDays(out io.Writer, days []archive.DaySummary) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tBACKUPS\tSIZE\tLATEST")
	for _, d := range days {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", d.Day, d.Count, formatSize(d.SizeBytes), humanize.Time(d.Latest))
	}
	_ = tw.Flush()
}

func newRestoreCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var day string
	var seq int
	var previous bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Copy a backup over the save file",
		Long:  "Restores backup --seq of --day, or the latest backup of --day (the one before it with --previous).",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := archive.ParseDay(day)
			if err != nil {
				return err
			}
			if seq != 0 && previous {
				return errors.New("--seq and --previous cannot be combined")
			}
			return withApp(cmd, root, overrides, func(ctx context.Context, a *app.App, logger zerolog.Logger) error {
				var e archive.Entry
				var err error
				if seq != 0 {
					e, err = a.Restore(ctx, d, seq)
				} else {
					e, err = a.RestoreDay(ctx, d, previous)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", e, a.Cfg.Source.Path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "Day of the backup (YYYY-MM-DD)")
	cmd.Flags().IntVar(&seq, "seq", 0, "Sequence number within the day")
	cmd.Flags().BoolVar(&previous, "previous", false, "Restore the backup before the latest one")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

func newDeleteCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var day string
	var seq int

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one backup, or a whole day without --seq",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := archive.ParseDay(day)
			if err != nil {
				return err
			}
			return withApp(cmd, root, overrides, func(ctx context.Context, a *app.App, logger zerolog.Logger) error {
				if seq != 0 {
					if err := a.RemoveEntry(ctx, d, seq); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s #%d\n", d, seq)
					return nil
				}
				n, err := a.RemoveDay(ctx, d)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d backup(s) of %s\n", n, d)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "Day to delete from (YYYY-MM-DD)")
	cmd.Flags().IntVar(&seq, "seq", 0, "Sequence number within the day")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	var path, sourcePath string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.DefaultPath()
			}
			if err := config.Init(path, sourcePath, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", "", "Where to write the file (default: user config dir)")
	initCmd.Flags().StringVar(&sourcePath, "source", "", "Save file to back up")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	var input, output, key string
	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	keygen := &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random key for archive.encryption_key or SAVEKEEP_CONFIG_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := cryptoutil.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), k)
			return nil
		},
	}

	cmd.AddCommand(initCmd, encrypt, keygen)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "savekeep %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

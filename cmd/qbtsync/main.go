// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/qbtsync/internal/buildinfo"
	"github.com/autobrr/qbtsync/internal/config"
	"github.com/autobrr/qbtsync/internal/metrics"
	"github.com/autobrr/qbtsync/internal/qbittorrent"
	"github.com/autobrr/qbtsync/internal/services/syncer"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

var errInterrupted = errors.New("interrupted")

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	rootCmd := RunSyncCommand()
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())

	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errInterrupted) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps the error returned by a command onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errInterrupted):
		return exitInterrupted
	default:
		return exitFailure
	}
}

type syncFlags struct {
	configPath string
	dryRun     bool
	noDryRun   bool
	verbose    bool
	daemon     bool
	logPath    string
}

func RunSyncCommand() *cobra.Command {
	var flags syncFlags

	command := &cobra.Command{
		Use:   "qbtsync",
		Short: "Replicate a master qBittorrent instance onto its children",
		Long: `qbtsync mirrors completed, seeded torrents from a master qBittorrent instance
onto one or more child instances. Each pass cleans up unhealthy or orphaned
torrents on every child, then adds, recategorizes, relocates and reselects
files until the child matches the master.

Runs a single pass by default; use --daemon to repeat on an interval.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	command.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultConfigPath, "config file path")
	command.Flags().BoolVar(&flags.dryRun, "dry-run", false, "plan and report without changing any child")
	command.Flags().BoolVar(&flags.noDryRun, "no-dry-run", false, "apply changes even if the config enables dry_run")
	command.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	command.Flags().BoolVar(&flags.daemon, "daemon", false, "run passes on the configured interval until interrupted")
	command.Flags().StringVar(&flags.logPath, "log-path", "", "log file path (default is stdout)")
	command.MarkFlagsMutuallyExclusive("dry-run", "no-dry-run")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runSync(ctx, flags)
	}

	return command
}

func (f syncFlags) overrides() config.Overrides {
	o := config.Overrides{Verbose: f.verbose, LogPath: f.logPath}
	switch {
	case f.dryRun:
		v := true
		o.DryRun = &v
	case f.noDryRun:
		v := false
		o.DryRun = &v
	}
	return o
}

func runSync(ctx context.Context, flags syncFlags) error {
	cfg, err := config.New(flags.configPath, buildinfo.Version)
	if err != nil {
		return err
	}
	if err := cfg.ApplyOverrides(flags.overrides()); err != nil {
		return err
	}
	cfg.ApplyLogConfig()

	current := cfg.Current()

	log.Info().
		Str("version", buildinfo.Version).
		Str("config", cfg.Path()).
		Str("master", current.Master.Name).
		Strs("children", current.ChildNames()).
		Bool("dryRun", current.Sync.DryRun).
		Bool("daemon", flags.daemon).
		Msg("Starting qbtsync")

	pool := qbittorrent.NewClientPool(current.Instances(), current.Sync.ConnectRetries)
	defer pool.Close()

	transport := qbittorrent.NewTransport(pool, qbittorrent.TransportOptions{
		SkipHashCheck: current.Sync.SkipHashCheck,
	})

	if !flags.daemon {
		svc := syncer.NewService(current, transport, nil, os.Stdout)
		_, err := svc.RunOnce(ctx)
		if ctx.Err() != nil {
			return errInterrupted
		}
		return err
	}

	var metricsManager *metrics.Manager
	var metricsServer *metrics.Server
	if current.MetricsEnabled {
		metricsManager = metrics.NewManager()
		metricsServer = metrics.NewMetricsServer(metricsManager, current.MetricsHost, current.MetricsPort, current.MetricsBasicAuthUsers)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	svc := syncer.NewService(current, transport, metricsManager, os.Stdout)
	cfg.RegisterReloadListener(svc.UpdateConfig)
	cfg.Watch()

	err = svc.Start(ctx)

	if metricsServer != nil {
		if stopErr := metricsServer.Stop(); stopErr != nil {
			log.Error().Err(stopErr).Msg("got error during metrics server shutdown")
		}
	}

	return err
}

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	command := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				data, err := buildinfo.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			fmt.Print(buildinfo.String())
			return nil
		},
	}

	command.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a commented default configuration file.

Writes to --config (default config.yaml) and refuses to overwrite an
existing file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			if err := config.WriteDefaultConfig(configPath, buildinfo.Version); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			cmd.Println("Fill in the master and child credentials before the first run.")
			return nil
		},
	}

	return command
}

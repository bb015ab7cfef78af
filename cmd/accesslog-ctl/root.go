package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/warpdrive/accesslog/pkg/config"
)

const defaultConfigPath = "/etc/accesslog/config.yaml"

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	LogLevel   string // overrides log_level from the config file

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "accesslog-ctl",
		Short: "accesslog-ctl maintains the job-access table and percentage snapshot",
		Long: `accesslog-ctl folds new job-access CSV exports into the persisted,
deduplicated job-access table and maintains the percentage-downloaded
snapshot. Each invocation is one run; scheduling is left to cron or a
workflow engine.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
				return nil
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			opts.cfg = cfg
			setupLogging(cmd, cfg)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", defaultConfigPath, "path to config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")

	cmd.AddCommand(newMergeCommand(opts))
	cmd.AddCommand(newSnapshotCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	return cmd
}

func setupLogging(cmd *cobra.Command, cfg *config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.Debug("config loaded", "component", "cli", "store", cfg.Store.Type, "path", cfg.Store.Path)
}

// writeMetrics exports the run metrics when a textfile path is configured.
func writeMetrics(cfg *config.Config) {
	if cfg.Metrics.TextfilePath == "" {
		return
	}
	if err := writeTextfile(cfg.Metrics.TextfilePath); err != nil {
		slog.Warn("metrics textfile export failed", "component", "cli",
			"path", cfg.Metrics.TextfilePath, "error", err)
	}
}

func requireConfig(opts *rootOptions) (*config.Config, error) {
	if opts.cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	return opts.cfg, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"slurm-dashboard/internal/config"
	"slurm-dashboard/internal/logging"
	"slurm-dashboard/internal/logwatch"
	"slurm-dashboard/internal/slurm"
)

const version = "v0.3.0"

var (
	settings   = config.New()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "slurm-dashboard",
	Short: "Terminal dashboard for Slurm jobs",
	Long: `Monitor, inspect and cancel your Slurm jobs and follow their output live.

Settings come from (lowest to highest priority) built-in defaults, the config
file, SLURM_DASHBOARD_* environment variables and command line flags.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(settings, configFile)
		if err != nil {
			return err
		}
		return runDashboard(cmd.Context(), cfg)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(settings, configFile)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		if cfg.File != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# read from %s\n", cfg.File)
		}
		_, err = io.WriteString(cmd.OutOrStdout(), out)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "slurm-dashboard %s\n", version)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default $XDG_CONFIG_HOME/slurm-dashboard/config.yaml)")
	flags.Duration("refresh-interval", 2*time.Second, "job list refresh interval")
	flags.Int("history-days", config.DefaultHistoryDays, "days of sacct history shown in history mode")
	flags.Duration("poll-interval", time.Second, "log poll interval, clamped to 200ms-2s")
	flags.Duration("tick-interval", 100*time.Millisecond, "how often the log view picks up new output")
	flags.Int("max-log-lines", 5000, "lines kept in the log view")
	flags.String("log-archive-dir", "", "directory searched for <jobid>.out/.err of purged jobs")
	flags.String("notify", config.NotifyFSNotify, "log change detection: fsnotify or poll")
	flags.String("log-file", "", "diagnostic log file")
	flags.String("log-level", "", "diagnostic log level: debug, info, warn or error")

	bindFlags(settings, flags, map[string]string{
		config.KeyRefreshInterval: "refresh-interval",
		config.KeyHistoryDays:     "history-days",
		config.KeyPollInterval:    "poll-interval",
		config.KeyTickInterval:    "tick-interval",
		config.KeyMaxLogLines:     "max-log-lines",
		config.KeyLogArchiveDir:   "log-archive-dir",
		config.KeyNotify:          "notify",
		config.KeyLogFile:         "log-file",
		config.KeyLogLevel:        "log-level",
	})

	rootCmd.AddCommand(configCmd, versionCmd, tailCmd)
}

// bindFlags binds each config key to its flag. Only flags set on the command
// line override lower layers.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

// newNotifier picks the change-notification backend for cfg. Nil lets the
// engine choose fsnotify with its polling fallback.
func newNotifier(cfg config.Config) logwatch.Notifier {
	if cfg.Notify == config.NotifyPoll {
		return logwatch.NewPollNotifier()
	}
	return nil
}

func runDashboard(ctx context.Context, cfg config.Config) error {
	logger, closer, err := logging.New(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Info("starting", "version", version, "config", cfg.File, "notify", cfg.Notify)

	applyTheme(themeFromConfig(cfg))

	fs := afero.NewOsFs()
	client := slurm.NewClient(slurm.Options{
		ArchiveDir: cfg.LogArchiveDir,
		Fs:         fs,
		Logger:     logger,
	})
	logs := logwatch.Start(ctx, logwatch.Options{
		PollInterval: cfg.PollInterval,
		Notifier:     newNotifier(cfg),
		Fs:           fs,
		Logger:       logger,
	})
	defer logs.Close()

	model := NewModel(ModelOptions{
		Context: ctx,
		Jobs:    client,
		Logs:    logs,
		Fs:      fs,
		Config:  cfg,
		Logger:  logger,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logger.Error("dashboard stopped", "error", err)
		return fmt.Errorf("running dashboard: %w", err)
	}
	logger.Info("exiting")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Package config layers defaults, an optional config file, SLURM_DASHBOARD_*
// environment variables and command line flags into one Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "SLURM_DASHBOARD"

	DefaultHistoryDays = 7
	MinPollInterval    = 200 * time.Millisecond
	MaxPollInterval    = 2 * time.Second
)

// Keys, as they appear in config files. Environment variables use the
// upper-cased key with dots replaced by underscores.
const (
	KeyRefreshInterval = "refresh_interval"
	KeyHistoryDays     = "history_days"
	KeyPollInterval    = "poll_interval"
	KeyTickInterval    = "tick_interval"
	KeyMaxLogLines     = "max_log_lines"
	KeyLogArchiveDir   = "log_archive_dir"
	KeyNotify          = "notify"
	KeyLogFile         = "log.file"
	KeyLogLevel        = "log.level"
	KeyTheme           = "theme"
	KeySurfaces        = "surfaces"
	KeyPalette         = "palette"
)

const (
	NotifyFSNotify = "fsnotify"
	NotifyPoll     = "poll"
)

type Config struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	HistoryDays     int           `mapstructure:"history_days" yaml:"history_days"`
	// PollInterval is how often the log reader looks at its file when no
	// change notification arrives.
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	TickInterval  time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	MaxLogLines   int           `mapstructure:"max_log_lines" yaml:"max_log_lines"`
	LogArchiveDir string        `mapstructure:"log_archive_dir" yaml:"log_archive_dir"`
	Notify        string        `mapstructure:"notify" yaml:"notify"`
	Log           LogConfig     `mapstructure:"log" yaml:"log"`
	Theme         string        `mapstructure:"theme" yaml:"theme"`
	Surfaces      string        `mapstructure:"surfaces" yaml:"surfaces"`
	Palette       string        `mapstructure:"palette" yaml:"palette"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

type LogConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level"`
}

// New returns a viper instance with defaults and environment binding set up.
// Flags can be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyRefreshInterval, 2*time.Second)
	v.SetDefault(KeyHistoryDays, DefaultHistoryDays)
	v.SetDefault(KeyPollInterval, time.Second)
	v.SetDefault(KeyTickInterval, 100*time.Millisecond)
	v.SetDefault(KeyMaxLogLines, 5000)
	v.SetDefault(KeyLogArchiveDir, "~/.slurm-dashboard/logs")
	v.SetDefault(KeyNotify, NotifyFSNotify)
	v.SetDefault(KeyLogFile, "~/.slurm-dashboard/dashboard.log")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyTheme, "auto")
	v.SetDefault(KeySurfaces, "transparent")
	v.SetDefault(KeyPalette, "dracula-soft")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (file, or config.yaml/config.toml in the default
// directory) and returns the effective configuration. A missing default file
// is not an error; a missing explicit file is.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(ExpandHome(file))
	} else {
		v.SetConfigName("config")
		if dir := DefaultDir(); dir != "" {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return cfg.normalize()
}

func (c Config) normalize() (Config, error) {
	if c.HistoryDays <= 0 {
		c.HistoryDays = DefaultHistoryDays
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 2 * time.Second
	}
	c.PollInterval = ClampPollInterval(c.PollInterval)
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.MaxLogLines <= 0 {
		c.MaxLogLines = 5000
	}
	c.LogArchiveDir = ExpandHome(c.LogArchiveDir)
	c.Log.File = ExpandHome(c.Log.File)

	c.Notify = strings.ToLower(strings.TrimSpace(c.Notify))
	switch c.Notify {
	case "":
		c.Notify = NotifyFSNotify
	case NotifyFSNotify, NotifyPoll:
	default:
		return c, fmt.Errorf("invalid %s %q (want %s or %s)", KeyNotify, c.Notify, NotifyFSNotify, NotifyPoll)
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return c, fmt.Errorf("invalid %s %q", KeyLogLevel, c.Log.Level)
	}
	return c, nil
}

// ClampPollInterval keeps the reader fallback between 200ms and 2s. Zero
// selects one second.
func ClampPollInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return time.Second
	case d < MinPollInterval:
		return MinPollInterval
	case d > MaxPollInterval:
		return MaxPollInterval
	}
	return d
}

// YAML renders the configuration the way a config file would contain it.
func (c Config) YAML() (string, error) {
	type fileView struct {
		RefreshInterval string    `yaml:"refresh_interval"`
		HistoryDays     int       `yaml:"history_days"`
		PollInterval    string    `yaml:"poll_interval"`
		TickInterval    string    `yaml:"tick_interval"`
		MaxLogLines     int       `yaml:"max_log_lines"`
		LogArchiveDir   string    `yaml:"log_archive_dir"`
		Notify          string    `yaml:"notify"`
		Log             LogConfig `yaml:"log"`
		Theme           string    `yaml:"theme"`
		Surfaces        string    `yaml:"surfaces"`
		Palette         string    `yaml:"palette"`
	}
	out, err := yaml.Marshal(fileView{
		RefreshInterval: c.RefreshInterval.String(),
		HistoryDays:     c.HistoryDays,
		PollInterval:    c.PollInterval.String(),
		TickInterval:    c.TickInterval.String(),
		MaxLogLines:     c.MaxLogLines,
		LogArchiveDir:   c.LogArchiveDir,
		Notify:          c.Notify,
		Log:             c.Log,
		Theme:           c.Theme,
		Surfaces:        c.Surfaces,
		Palette:         c.Palette,
	})
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return string(out), nil
}

// DefaultDir is $XDG_CONFIG_HOME/slurm-dashboard, or ~/.config/slurm-dashboard.
func DefaultDir() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "slurm-dashboard")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "slurm-dashboard")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HistoryDays != DefaultHistoryDays {
		t.Errorf("expected %d history days, got %d", DefaultHistoryDays, cfg.HistoryDays)
	}
	if cfg.PollInterval != time.Second || cfg.TickInterval != 100*time.Millisecond {
		t.Errorf("unexpected intervals poll=%s tick=%s", cfg.PollInterval, cfg.TickInterval)
	}
	if cfg.Notify != NotifyFSNotify || cfg.MaxLogLines != 5000 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if strings.HasPrefix(cfg.LogArchiveDir, "~") || !strings.HasSuffix(cfg.LogArchiveDir, filepath.Join(".slurm-dashboard", "logs")) {
		t.Errorf("expected expanded archive dir, got %q", cfg.LogArchiveDir)
	}
	if cfg.File != "" {
		t.Errorf("expected no config file, got %q", cfg.File)
	}
}

func TestLoadEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("SLURM_DASHBOARD_HISTORY_DAYS", "14")
	t.Setenv("SLURM_DASHBOARD_LOG_ARCHIVE_DIR", "/srv/archive")
	t.Setenv("SLURM_DASHBOARD_POLL_INTERVAL", "50ms")
	t.Setenv("SLURM_DASHBOARD_LOG_LEVEL", "DEBUG")
	t.Setenv("SLURM_DASHBOARD_THEME", "light")

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HistoryDays != 14 || cfg.LogArchiveDir != "/srv/archive" || cfg.Theme != "light" {
		t.Errorf("environment not applied: %+v", cfg)
	}
	if cfg.PollInterval != MinPollInterval {
		t.Errorf("expected poll interval clamped to %s, got %s", MinPollInterval, cfg.PollInterval)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected lower-cased level, got %q", cfg.Log.Level)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	isolate(t)
	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "slurm-dashboard")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	contents := "history_days: 30\nnotify: poll\npoll_interval: 10s\nlog:\n  level: warn\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SLURM_DASHBOARD_HISTORY_DAYS", "3")

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HistoryDays != 3 {
		t.Errorf("expected environment to win over file, got %d", cfg.HistoryDays)
	}
	if cfg.Notify != NotifyPoll || cfg.Log.Level != "warn" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.PollInterval != MaxPollInterval {
		t.Errorf("expected poll interval clamped to %s, got %s", MaxPollInterval, cfg.PollInterval)
	}
	if cfg.File == "" {
		t.Errorf("expected config file to be recorded")
	}
}

func TestLoadExplicitFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "dash.toml")
	if err := os.WriteFile(path, []byte("max_log_lines = 42\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxLogLines != 42 || cfg.File != path {
		t.Errorf("explicit file not applied: %+v", cfg)
	}

	if _, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	isolate(t)
	t.Setenv("SLURM_DASHBOARD_NOTIFY", "inotify")
	if _, err := Load(New(), ""); err == nil {
		t.Fatalf("expected error for unknown notify backend")
	}

	t.Setenv("SLURM_DASHBOARD_NOTIFY", "")
	t.Setenv("SLURM_DASHBOARD_LOG_LEVEL", "loud")
	if _, err := Load(New(), ""); err == nil {
		t.Fatalf("expected error for unknown log level")
	}
}

func TestNonPositiveValuesFallBack(t *testing.T) {
	isolate(t)
	t.Setenv("SLURM_DASHBOARD_HISTORY_DAYS", "0")
	t.Setenv("SLURM_DASHBOARD_MAX_LOG_LINES", "-1")

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HistoryDays != DefaultHistoryDays || cfg.MaxLogLines != 5000 {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestClampPollInterval(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, time.Second},
		{-time.Second, time.Second},
		{time.Millisecond, MinPollInterval},
		{500 * time.Millisecond, 500 * time.Millisecond},
		{time.Minute, MaxPollInterval},
	}
	for _, tc := range tests {
		if got := ClampPollInterval(tc.in); got != tc.want {
			t.Errorf("ClampPollInterval(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestYAMLRoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	t.Setenv("SLURM_DASHBOARD_PALETTE", "classic")
	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out)
	}
	if doc["palette"] != "classic" || doc["poll_interval"] != "1s" {
		t.Fatalf("unexpected rendering:\n%s", out)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	again, err := Load(New(), path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	again.File = cfg.File
	if again != cfg {
		t.Fatalf("reloaded config differs:\n got %+v\nwant %+v", again, cfg)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandHome("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("unexpected expansion %q", got)
	}
	if got := ExpandHome("~"); got != home {
		t.Errorf("unexpected expansion %q", got)
	}
	if got := ExpandHome("/abs/~/x"); got != "/abs/~/x" {
		t.Errorf("absolute path changed: %q", got)
	}
}

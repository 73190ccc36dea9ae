package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"slurm-dashboard/internal/config"
	"slurm-dashboard/internal/logwatch"
)

func TestNewNotifier(t *testing.T) {
	if _, ok := newNotifier(config.Config{Notify: config.NotifyPoll}).(logwatch.PollNotifier); !ok {
		t.Fatalf("expected a poll notifier")
	}
	if n := newNotifier(config.Config{Notify: config.NotifyFSNotify}); n != nil {
		t.Fatalf("expected the engine default, got %T", n)
	}
}

func TestConfigCommandPrintsEffectiveSettings(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(file, []byte("history_days: 3\nnotify: poll\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "--config", file, "--max-log-lines", "250"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		configFile = ""
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# read from " + file, "history_days: 3", "notify: poll", "max_log_lines: 250"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "slurm-dashboard "+version {
		t.Fatalf("unexpected version output %q", got)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"slurm-dashboard/internal/config"
	"slurm-dashboard/internal/logging"
	"slurm-dashboard/internal/logwatch"
	"slurm-dashboard/internal/slurm"
)

var tailCmd = &cobra.Command{
	Use:   "tail [JOBID]",
	Short: "Follow a job's output on stdout",
	Long: `Print the last lines of a job's stdout (or stderr) and keep printing what
the job appends, like tail -F. The file may not exist yet and may be truncated
or rotated while it is followed.

Examples:
  slurm-dashboard tail 123456
  slurm-dashboard tail 123456 --stderr
  slurm-dashboard tail --path ./slurm-123456.out -n 50`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTail,
}

func init() {
	tailCmd.Flags().String("path", "", "follow this file instead of a job's output")
	tailCmd.Flags().Bool("stderr", false, "follow the job's stderr instead of stdout")
	tailCmd.Flags().IntP("lines", "n", 10, "existing lines to print first")
}

func runTail(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("path")
	useStderr, _ := cmd.Flags().GetBool("stderr")
	lines, _ := cmd.Flags().GetInt("lines")

	switch {
	case path == "" && len(args) == 0:
		return errors.New("need a job ID or --path")
	case path != "" && len(args) > 0:
		return errors.New("give either a job ID or --path, not both")
	}

	cfg, err := config.Load(settings, configFile)
	if err != nil {
		return err
	}
	logger, err := logging.NewStderr(cfg.Log.Level)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	fsys := afero.NewOsFs()

	if path == "" {
		stream := slurm.Stdout
		if useStderr {
			stream = slurm.Stderr
		}
		client := slurm.NewClient(slurm.Options{ArchiveDir: cfg.LogArchiveDir, Fs: fsys, Logger: logger})
		paths, err := client.LogPaths(ctx, args[0])
		if err != nil {
			return err
		}
		if path = paths.For(stream); path == "" {
			return fmt.Errorf("job %s has no %s file", args[0], stream)
		}
	}
	if path, err = filepath.Abs(path); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if lines > 0 {
		if err := printBacklog(out, fsys, path, lines); err != nil {
			return err
		}
	}

	logger.Info("following", "path", path, "notify", cfg.Notify)
	h := logwatch.Start(ctx, logwatch.Options{
		PollInterval: cfg.PollInterval,
		Notifier:     newNotifier(cfg),
		Fs:           fsys,
		Logger:       logger,
	})
	defer h.Close()

	h.SetTarget(path)
	return followUpdates(ctx, h.Updates(), path, out, logger)
}

func printBacklog(w io.Writer, fsys afero.Fs, path string, n int) error {
	lines, partial, err := readBacklog(fsys, path, n)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	text := strings.Join(lines, "\n")
	if !partial {
		text += "\n"
	}
	_, err = io.WriteString(w, text)
	return err
}

// followUpdates copies content for path to w until ctx is done or the update
// stream ends. An error that repeats on every pass (a file that does not exist
// yet) is logged once.
func followUpdates(ctx context.Context, updates <-chan logwatch.Update, path string, w io.Writer, logger *slog.Logger) error {
	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Err != nil {
				if msg := u.Err.Error(); msg != lastErr {
					logger.Warn("tail", "error", u.Err)
					lastErr = msg
				}
				continue
			}
			if u.Path != path {
				continue
			}
			lastErr = ""
			if u.Content.Truncated {
				logger.Warn("file truncated, reading from the start", "path", path)
			}
			if _, err := io.WriteString(w, u.Content.Text); err != nil {
				return err
			}
		}
	}
}

package slurm

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/afero"
)

const (
	squeueFormat  = "%i|%j|%u|%t|%P|%M|%D|%N"
	historyFormat = "JobID,JobName,User,State,Partition,Elapsed,AllocNodes,NodeList"
	detailsFormat = historyFormat + ",Start,End,ExitCode"
)

// Options configures a Client. Zero values use the real Slurm tools, the
// current user and the OS filesystem.
type Options struct {
	Runner Runner
	User   string
	// ArchiveDir is searched for <jobid>.out style logs when Slurm no longer
	// knows the job.
	ArchiveDir string
	Fs         afero.Fs
	Logger     *slog.Logger
}

type Client struct {
	run        Runner
	user       string
	archiveDir string
	fs         afero.Fs
	logger     *slog.Logger
}

func NewClient(opts Options) *Client {
	c := &Client{
		run:        opts.Runner,
		user:       opts.User,
		archiveDir: opts.ArchiveDir,
		fs:         opts.Fs,
		logger:     opts.Logger,
	}
	if c.run == nil {
		c.run = RunCommand
	}
	if c.user == "" {
		c.user = CurrentUser()
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c.logger = c.logger.With("component", "slurm")
	return c
}

// Jobs lists the user's queued and running jobs.
func (c *Client) Jobs(ctx context.Context) ([]Job, error) {
	out, err := c.run(ctx, []string{"squeue", "-u", c.user, "-o", squeueFormat, "--noheader"}, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return ParseSqueue(out), nil
}

// History lists jobs started within the last days days, newest first.
func (c *Client) History(ctx context.Context, days int) ([]Job, error) {
	start := time.Now().AddDate(0, 0, -days).Format("2006-01-02")
	out, err := c.run(ctx, []string{
		"sacct", "-u", c.user,
		"--format", historyFormat,
		"-X", "-P", "-n",
		"--starttime", start,
	}, 30*time.Second)
	if err != nil {
		return nil, err
	}
	return ParseSacct(out), nil
}

func (c *Client) Cancel(ctx context.Context, jobID string) error {
	if _, err := c.run(ctx, []string{"scancel", jobID}, 5*time.Second); err != nil {
		return err
	}
	c.logger.Info("cancelled job", "job", jobID)
	return nil
}

// Details returns raw `scontrol show job` output, or sacct output for
// finished jobs.
func (c *Client) Details(ctx context.Context, jobID string, finished bool) (string, error) {
	if finished {
		return c.run(ctx, []string{"sacct", "-j", jobID, "--format", detailsFormat, "-P", "-n"}, 15*time.Second)
	}
	return c.run(ctx, []string{"scontrol", "show", "job", jobID}, 15*time.Second)
}

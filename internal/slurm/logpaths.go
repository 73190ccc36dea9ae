package slurm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ErrNoLogPaths is returned when neither Slurm nor the archive directory know
// where a job wrote its output.
var ErrNoLogPaths = errors.New("could not resolve log paths")

// Stream selects one of a job's output files.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// LogPaths are absolute paths of a job's output files. Both may point at the
// same file when the streams are merged.
type LogPaths struct {
	Stdout string
	Stderr string
}

func (p LogPaths) For(s Stream) string {
	if s == Stderr {
		return p.Stderr
	}
	return p.Stdout
}

// Merged reports whether stdout and stderr go to the same file.
func (p LogPaths) Merged() bool {
	return p.Stdout != "" && p.Stdout == p.Stderr
}

var (
	stdoutFieldRe = regexp.MustCompile(`StdOut=(\S+)`)
	stderrFieldRe = regexp.MustCompile(`StdErr=(\S+)`)

	outputFlagRe = regexp.MustCompile(`(?i)(?:^|\s)(-o|--output)\s*=?\s*(\S+)`)
	errorFlagRe  = regexp.MustCompile(`(?i)(?:^|\s)(-e|--error)\s*=?\s*(\S+)`)
	chdirFlagRe  = regexp.MustCompile(`(?i)(?:^|\s)(-D|--chdir)\s*=?\s*(\S+)`)
)

// LogPaths finds where a job writes stdout and stderr. Jobs still known to
// slurmctld are answered by scontrol. Older jobs fall back to sacct
// (submit line flags, #SBATCH directives of the batch script, then the
// slurm-<jobid>.out default) and finally to the archive directory.
func (c *Client) LogPaths(ctx context.Context, jobID string) (LogPaths, error) {
	if out, err := c.run(ctx, []string{"scontrol", "show", "job", jobID}, 10*time.Second); err == nil {
		if paths := parseScontrolPaths(out); paths.Stdout != "" || paths.Stderr != "" {
			return paths, nil
		}
	} else {
		c.logger.Debug("scontrol lookup failed", "job", jobID, "error", err)
	}

	if out, err := c.run(ctx, []string{"sacct", "-j", jobID, "-o", "WorkDir,SubmitLine,JobName", "-X", "-n", "-P"}, 5*time.Second); err == nil {
		if paths, ok := c.pathsFromAccounting(jobID, out); ok {
			return paths, nil
		}
	} else {
		c.logger.Debug("sacct lookup failed", "job", jobID, "error", err)
	}

	if paths, ok := c.archivedPaths(jobID); ok {
		return paths, nil
	}

	return LogPaths{}, fmt.Errorf("job %s: %w (job may be purged from sacct; also checked %s)", jobID, ErrNoLogPaths, c.archiveDir)
}

func parseScontrolPaths(out string) LogPaths {
	var paths LogPaths
	if m := stdoutFieldRe.FindStringSubmatch(out); len(m) > 1 {
		paths.Stdout = m[1]
	}
	if m := stderrFieldRe.FindStringSubmatch(out); len(m) > 1 {
		paths.Stderr = m[1]
	}
	return paths
}

func (c *Client) pathsFromAccounting(jobID, out string) (LogPaths, bool) {
	var workDir, submitLine, jobName string
	// Step entries (.batch, .extern) carry an empty WorkDir.
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
		if len(parts) < 3 || strings.TrimSpace(parts[0]) == "" {
			continue
		}
		workDir = strings.TrimSpace(parts[0])
		submitLine = strings.TrimSpace(parts[1])
		jobName = strings.TrimSpace(parts[2])
		break
	}
	if workDir == "" {
		return LogPaths{}, false
	}

	flags := parseSubmitLineDirectives(submitLine)
	base := workDir
	if flags.chdir != "" {
		base = flags.chdir
	}
	paths := LogPaths{
		Stdout: expandLogPattern(flags.stdout, base, jobID, jobName),
		Stderr: expandLogPattern(flags.stderr, base, jobID, jobName),
	}

	if paths.Stdout == "" || paths.Stderr == "" {
		if script := parseSubmitLineScriptPath(submitLine); script != "" {
			if d, err := c.readSbatchDirectives(script); err == nil {
				scriptBase := base
				if d.chdir != "" {
					scriptBase = d.chdir
				}
				if paths.Stdout == "" {
					paths.Stdout = expandLogPattern(d.stdout, scriptBase, jobID, jobName)
				}
				if paths.Stderr == "" {
					paths.Stderr = expandLogPattern(d.stderr, scriptBase, jobID, jobName)
				}
			} else {
				c.logger.Debug("batch script unreadable", "job", jobID, "script", script, "error", err)
			}
		}
	}

	if paths.Stdout == "" {
		paths.Stdout = expandLogPattern("slurm-%j.out", workDir, jobID, jobName)
	}
	if paths.Stderr == "" {
		paths.Stderr = paths.Stdout
	}
	return paths, true
}

type sbatchDirectives struct {
	stdout string
	stderr string
	chdir  string
}

func parseSubmitLineDirectives(submitLine string) sbatchDirectives {
	return sbatchDirectives{
		stdout: flagValue(submitLine, outputFlagRe),
		stderr: flagValue(submitLine, errorFlagRe),
		chdir:  flagValue(submitLine, chdirFlagRe),
	}
}

// parseSubmitLineScriptPath returns the first positional argument after
// sbatch, skipping flags and their values.
func parseSubmitLineScriptPath(submitLine string) string {
	fields := strings.Fields(submitLine)
	start := 0
	for i, field := range fields {
		if strings.Contains(field, "sbatch") {
			start = i + 1
			break
		}
	}

	for i := start; i < len(fields); i++ {
		field := fields[i]
		if strings.HasPrefix(field, "-") {
			if !strings.Contains(field, "=") && flagTakesValue(field) {
				i++
			}
			continue
		}
		return strings.Trim(field, "\"'")
	}
	return ""
}

func flagTakesValue(flag string) bool {
	switch flag {
	case "-o", "--output", "-e", "--error", "-D", "--chdir", "-J", "--job-name", "-A", "--account", "-p", "--partition", "--wrap":
		return true
	}
	return false
}

func (c *Client) readSbatchDirectives(path string) (sbatchDirectives, error) {
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return sbatchDirectives{}, err
	}
	return parseSbatchDirectives(string(data)), nil
}

// parseSbatchDirectives keeps the first value of each directive.
func parseSbatchDirectives(contents string) sbatchDirectives {
	var d sbatchDirectives
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#SBATCH") {
			continue
		}
		if d.stdout == "" {
			d.stdout = flagValue(line, outputFlagRe)
		}
		if d.stderr == "" {
			d.stderr = flagValue(line, errorFlagRe)
		}
		if d.chdir == "" {
			d.chdir = flagValue(line, chdirFlagRe)
		}
	}
	return d
}

func flagValue(text string, re *regexp.Regexp) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 3 {
		return ""
	}
	return cleanDirectiveValue(m[2])
}

func cleanDirectiveValue(value string) string {
	value = strings.Trim(strings.TrimSpace(value), "\"'")
	if i := strings.IndexAny(value, "\n\r|"); i != -1 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

// expandLogPattern substitutes %j and %x and anchors relative paths at base.
func expandLogPattern(pattern, base, jobID, jobName string) string {
	value := cleanDirectiveValue(pattern)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "%j", jobID)
	if jobName != "" {
		value = strings.ReplaceAll(value, "%x", jobName)
	}
	if !filepath.IsAbs(value) && base != "" {
		value = filepath.Join(base, value)
	}
	return value
}

func (c *Client) archivedPaths(jobID string) (LogPaths, bool) {
	root := c.archiveDir
	if root == "" || jobID == "" {
		return LogPaths{}, false
	}

	paths := LogPaths{
		Stdout: c.firstFile(
			filepath.Join(root, jobID+".out"),
			filepath.Join(root, "slurm-"+jobID+".out"),
			filepath.Join(root, jobID, "stdout.log"),
			filepath.Join(root, jobID, "out.log"),
		),
		Stderr: c.firstFile(
			filepath.Join(root, jobID+".err"),
			filepath.Join(root, "slurm-"+jobID+".err"),
			filepath.Join(root, jobID, "stderr.log"),
			filepath.Join(root, jobID, "err.log"),
		),
	}
	switch {
	case paths.Stdout == "" && paths.Stderr == "":
		return LogPaths{}, false
	case paths.Stdout == "":
		paths.Stdout = paths.Stderr
	case paths.Stderr == "":
		paths.Stderr = paths.Stdout
	}
	return paths, true
}

func (c *Client) firstFile(candidates ...string) string {
	for _, candidate := range candidates {
		if info, err := c.fs.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

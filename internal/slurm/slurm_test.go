package slurm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// fakeRunner answers commands by their first two arguments ("scontrol show",
// "sacct -j", ...). Unknown commands fail.
type fakeRunner struct {
	outputs map[string]string
	calls   [][]string
}

func (f *fakeRunner) run(_ context.Context, args []string, _ time.Duration) (string, error) {
	f.calls = append(f.calls, args)
	key := strings.Join(args[:min(2, len(args))], " ")
	out, ok := f.outputs[key]
	if !ok {
		return "", errors.New(args[0] + ": exit status 1")
	}
	return out, nil
}

func newTestClient(f *fakeRunner, fsys afero.Fs, archive string) *Client {
	return NewClient(Options{Runner: f.run, User: "tester", Fs: fsys, ArchiveDir: archive})
}

func TestParseSqueueOutput(t *testing.T) {
	output := `34989208|vllm_qwen2_5_72b_instruct_default_gpu4_tp4|bsc070916|R|acc|2:22|1|as02r3b15
34989209|another_job|bsc070916|PD|acc|0:00|0|`
	jobs := ParseSqueue(output)

	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].JobID != "34989208" || jobs[0].Status != "R" || jobs[0].NodeList != "as02r3b15" {
		t.Errorf("unexpected first job %+v", jobs[0])
	}
	if !jobs[0].IsRunning() || !jobs[1].IsPending() {
		t.Errorf("expected running then pending, got %s and %s", jobs[0].State(), jobs[1].State())
	}
}

func TestParseSqueueAcceptsTabs(t *testing.T) {
	jobs := ParseSqueue("1\tname\tuser\tR\tpart\t1:00\t1\tnode01")
	if len(jobs) != 1 || jobs[0].NodeList != "node01" {
		t.Fatalf("expected one tab separated job, got %+v", jobs)
	}
}

func TestParseSacctOutput(t *testing.T) {
	output := `34949712|vllm_glm4_6_tp16_ray_manual_4x4|bsc070916|CANCELLED by 4840|acc|00:40:07|4|as04r3b19,as04r5b[26-28]
34952064|vllm_glm4_6_tp16_ray_manual_4x4|bsc070916|CANCELLED by 4840|acc|00:11:25|4|as02r3b[01-04]
34989208|vllm_qwen2_5_72b_instruct_default_gpu4_tp4|bsc070916|RUNNING|acc|00:02:22|1|as02r3b15`
	jobs := ParseSacct(output)

	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].JobID != "34989208" {
		t.Errorf("expected newest job first, got %s", jobs[0].JobID)
	}
	if !jobs[1].IsFinished() {
		t.Errorf("expected cancelled job to be finished, got %s", jobs[1].State())
	}
}

func TestParseSacctSkipsStepEntries(t *testing.T) {
	output := `34989208|vllm_qwen2_5_72b|bsc070916|RUNNING|acc|00:02:22|1|as02r3b15
34989208.batch|batch||RUNNING||00:02:22|1|as02r3b15
34989208.extern|extern||RUNNING||00:02:22|1|as02r3b15`
	jobs := ParseSacct(output)

	if len(jobs) != 1 || jobs[0].JobID != "34989208" {
		t.Fatalf("expected only the allocation entry, got %+v", jobs)
	}
}

func TestStateCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"RUNNING", "R"},
		{"PENDING", "PD"},
		{"COMPLETED", "CD"},
		{"CANCELLED by 4840", "CA"},
		{"CANCELLED+", "CA"},
		{"R", "R"},
		{"PD", "PD"},
		{"TIMEOUT", "TO"},
		{"FAILED", "F"},
		{"OUT_OF_MEMORY", "OOM"},
		{"", ""},
	}

	for _, tc := range tests {
		if got := StateCode(tc.input); got != tc.expected {
			t.Errorf("StateCode(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestExpandLogPatternAnchorsRelativePaths(t *testing.T) {
	got := expandLogPattern("slurm_output/%x_%j.out", "/work", "35121055", "susy_nc_cpu")
	if want := "/work/slurm_output/susy_nc_cpu_35121055.out"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := expandLogPattern("/abs/%j.log", "/work", "7", ""); got != "/abs/7.log" {
		t.Fatalf("absolute pattern changed: %q", got)
	}
}

func TestParseSubmitLineScriptPath(t *testing.T) {
	tests := map[string]string{
		"sbatch -A acc --chdir=/work /tmp/job.sbatch": "/tmp/job.sbatch",
		"sbatch -J name -o out.log run.sh arg":        "run.sh",
		"sbatch --wrap 'hostname'":                    "",
	}
	for line, want := range tests {
		if got := parseSubmitLineScriptPath(line); got != want {
			t.Errorf("parseSubmitLineScriptPath(%q) = %q, want %q", line, got, want)
		}
	}
}

func TestParseSbatchDirectives(t *testing.T) {
	d := parseSbatchDirectives("#!/bin/bash\n#SBATCH --chdir=/work\n#SBATCH --output=slurm_output/%x_%j.out\n#SBATCH --error=slurm_output/%x_%j.err\n#SBATCH --output=ignored.out\n")
	if d.stdout != "slurm_output/%x_%j.out" || d.stderr != "slurm_output/%x_%j.err" || d.chdir != "/work" {
		t.Fatalf("unexpected directives %+v", d)
	}
}

func TestLogPathsFromScontrol(t *testing.T) {
	f := &fakeRunner{outputs: map[string]string{
		"scontrol show": "JobId=42 JobName=train\n   StdErr=/work/train.err\n   StdIn=/dev/null\n   StdOut=/work/train.out\n",
	}}
	paths, err := newTestClient(f, afero.NewMemMapFs(), "").LogPaths(context.Background(), "42")
	if err != nil {
		t.Fatalf("LogPaths: %v", err)
	}
	if paths.Stdout != "/work/train.out" || paths.Stderr != "/work/train.err" {
		t.Fatalf("unexpected paths %+v", paths)
	}
	if paths.For(Stderr) != "/work/train.err" || paths.Merged() {
		t.Fatalf("unexpected stream selection for %+v", paths)
	}
}

func TestLogPathsFromBatchScript(t *testing.T) {
	fsys := afero.NewMemMapFs()
	script := "#!/bin/bash\n#SBATCH --output=logs/%x_%j.out\n#SBATCH --error=logs/%x_%j.err\n"
	if err := afero.WriteFile(fsys, "/work/job.sbatch", []byte(script), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	f := &fakeRunner{outputs: map[string]string{
		"sacct -j": "/work|sbatch -A acc /work/job.sbatch|train\n|\n",
	}}

	paths, err := newTestClient(f, fsys, "").LogPaths(context.Background(), "7")
	if err != nil {
		t.Fatalf("LogPaths: %v", err)
	}
	if paths.Stdout != "/work/logs/train_7.out" || paths.Stderr != "/work/logs/train_7.err" {
		t.Fatalf("unexpected paths %+v", paths)
	}
}

func TestLogPathsDefaultsToSlurmOut(t *testing.T) {
	f := &fakeRunner{outputs: map[string]string{
		"sacct -j": "/home/me/run|sbatch --wrap hostname|wrap\n",
	}}
	paths, err := newTestClient(f, afero.NewMemMapFs(), "").LogPaths(context.Background(), "99")
	if err != nil {
		t.Fatalf("LogPaths: %v", err)
	}
	if paths.Stdout != "/home/me/run/slurm-99.out" || !paths.Merged() {
		t.Fatalf("expected merged default output, got %+v", paths)
	}
}

func TestLogPathsFromArchive(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/archive/12345.out", []byte("stdout"), 0o600); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	if err := afero.WriteFile(fsys, "/archive/12345.err", []byte("stderr"), 0o600); err != nil {
		t.Fatalf("write stderr: %v", err)
	}
	if err := afero.WriteFile(fsys, "/archive/slurm-67890.out", []byte("merged"), 0o600); err != nil {
		t.Fatalf("write merged: %v", err)
	}
	c := newTestClient(&fakeRunner{}, fsys, "/archive")

	paths, err := c.LogPaths(context.Background(), "12345")
	if err != nil {
		t.Fatalf("LogPaths: %v", err)
	}
	if paths.Stdout != "/archive/12345.out" || paths.Stderr != "/archive/12345.err" {
		t.Fatalf("unexpected paths %+v", paths)
	}

	paths, err = c.LogPaths(context.Background(), "67890")
	if err != nil {
		t.Fatalf("LogPaths: %v", err)
	}
	if paths.Stdout != "/archive/slurm-67890.out" || paths.Stderr != paths.Stdout {
		t.Fatalf("expected merged archive output, got %+v", paths)
	}
}

func TestLogPathsNotFound(t *testing.T) {
	_, err := newTestClient(&fakeRunner{}, afero.NewMemMapFs(), "/archive").LogPaths(context.Background(), "1")
	if !errors.Is(err, ErrNoLogPaths) {
		t.Fatalf("expected ErrNoLogPaths, got %v", err)
	}
}

func TestClientCommands(t *testing.T) {
	f := &fakeRunner{outputs: map[string]string{
		"squeue -u": "1|a|tester|R|p|0:01|1|n1\n",
		"sacct -u":  "2|b|tester|COMPLETED|p|00:10:00|1|n2\n",
		"scancel 1": "",
	}}
	c := newTestClient(f, afero.NewMemMapFs(), "")
	ctx := context.Background()

	jobs, err := c.Jobs(ctx)
	if err != nil || len(jobs) != 1 || jobs[0].JobID != "1" {
		t.Fatalf("Jobs: %+v, %v", jobs, err)
	}
	history, err := c.History(ctx, 7)
	if err != nil || len(history) != 1 || history[0].State() != "CD" {
		t.Fatalf("History: %+v, %v", history, err)
	}
	if err := c.Cancel(ctx, "1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := c.Details(ctx, "1", false); err == nil {
		t.Fatalf("expected scontrol failure to surface")
	}

	for _, call := range f.calls {
		if call[0] == "squeue" || (call[0] == "sacct" && call[1] == "-u") {
			if call[2] != "tester" {
				t.Fatalf("expected jobs for configured user, got %v", call)
			}
		}
	}
}

func TestRunCommandTimeout(t *testing.T) {
	_, err := RunCommand(context.Background(), []string{"sleep", "5"}, 50*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

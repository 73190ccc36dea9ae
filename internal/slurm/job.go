// Package slurm talks to the Slurm command line tools and turns their output
// into jobs, job details and log file locations.
package slurm

import "strings"

// Job is one row of squeue or sacct output.
type Job struct {
	JobID     string
	Name      string
	User      string
	Status    string
	Partition string
	Time      string
	Nodes     string
	NodeList  string
}

// State returns the short state code (R, PD, CD, ...).
func (j Job) State() string {
	return StateCode(j.Status)
}

func (j Job) IsRunning() bool {
	switch j.State() {
	case "R", "CG":
		return true
	}
	return false
}

func (j Job) IsPending() bool {
	switch j.State() {
	case "PD", "CF", "PR", "RQ", "RS", "S", "ST", "RH", "RF":
		return true
	}
	return false
}

// IsFinished reports whether the job reached a terminal state.
func (j Job) IsFinished() bool {
	return !j.IsRunning() && !j.IsPending()
}

var stateAliases = map[string]string{
	"RUNNING":       "R",
	"COMPLETING":    "CG",
	"CONFIGURING":   "CF",
	"PENDING":       "PD",
	"PREEMPTED":     "PR",
	"REQUEUED":      "RQ",
	"REQUEUE_HOLD":  "RH",
	"REQUEUE_FED":   "RF",
	"RESIZING":      "RS",
	"SUSPENDED":     "S",
	"STOPPED":       "ST",
	"PP":            "PD",
	"COMPLETED":     "CD",
	"CANCELLED":     "CA",
	"FAILED":        "F",
	"TIMEOUT":       "TO",
	"NODE_FAIL":     "NF",
	"OUT_OF_MEMORY": "OOM",
}

// StateCode maps long sacct states ("CANCELLED by 4840") and squeue codes to
// the short form.
func StateCode(status string) string {
	text := strings.TrimRight(strings.ToUpper(strings.TrimSpace(status)), "*+")
	if text == "" {
		return ""
	}
	if alias, ok := stateAliases[text]; ok {
		return alias
	}
	if fields := strings.Fields(text); len(fields) > 1 {
		if alias, ok := stateAliases[fields[0]]; ok {
			return alias
		}
	}
	return text
}

// ParseSqueue parses `squeue -o %i|%j|%u|%t|%P|%M|%D|%N --noheader` output.
// Tab separated output is accepted too.
func ParseSqueue(output string) []Job {
	var jobs []Job
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 7 {
			parts = strings.Split(line, "\t")
			if len(parts) < 7 {
				continue
			}
		}
		job := jobFromFields(parts)
		jobs = append(jobs, job)
	}
	return jobs
}

// ParseSacct parses `sacct -X -P -n` output with the history format. Step
// entries (12345.batch) are skipped and the newest job comes first.
func ParseSacct(output string) []Job {
	var jobs []Job
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 8 || strings.Contains(parts[0], ".") {
			continue
		}
		jobs = append(jobs, jobFromFields(parts))
	}
	for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
	return jobs
}

func jobFromFields(parts []string) Job {
	field := func(i int) string {
		if i < len(parts) {
			return strings.TrimSpace(parts[i])
		}
		return ""
	}
	return Job{
		JobID:     field(0),
		Name:      field(1),
		User:      field(2),
		Status:    field(3),
		Partition: field(4),
		Time:      field(5),
		Nodes:     field(6),
		NodeList:  field(7),
	}
}

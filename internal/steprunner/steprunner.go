// Package steprunner runs the jobs of one realization step and reports
// their progress to the evaluator as job events.
//
// The evaluator submits each step to the queue driver as an invocation of
// this binary's run-step command, so the same reporting works for local
// processes and for cluster schedulers.
package steprunner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/specialistvlad/ensembletrack/internal/config"
	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/driver"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/nodeid"
)

// Command is the subcommand name that invokes Main.
const Command = "run-step"

// TokenEnv passes the evaluator token to the step without putting it on the
// command line.
const TokenEnv = "ENSEMBLETRACK_DISPATCH_TOKEN"

// Sender delivers events to the evaluator.
type Sender interface {
	Send(ctx context.Context, ev event.Event) error
}

// Target identifies the step being run and where to report it.
type Target struct {
	URL      string
	Token    string
	Ensemble string
	Real     int
	Step     int
}

// JobSpec builds the queue job that runs step through the binary at self.
func JobSpec(self string, t Target, step config.Step, runPath string) (driver.JobSpec, error) {
	jobs, err := json.Marshal(step.Jobs)
	if err != nil {
		return driver.JobSpec{}, fmt.Errorf("encoding jobs of step %q: %w", step.Name, err)
	}
	spec := driver.JobSpec{
		Name:       fmt.Sprintf("%s-real-%d-step-%d", t.Ensemble, t.Real, t.Step),
		Executable: self,
		Args: []string{
			Command,
			"--url", t.URL,
			"--ensemble", t.Ensemble,
			"--real", strconv.Itoa(t.Real),
			"--step", strconv.Itoa(t.Step),
			"--jobs", string(jobs),
		},
		NumCPU: 1,
	}
	if t.Token != "" {
		spec.Env = map[string]string{TokenEnv: t.Token}
	}
	if runPath != "" {
		spec.RunPath = filepath.Join(runPath, fmt.Sprintf("realization-%d", t.Real))
		spec.Args = append(spec.Args, "--run-path", spec.RunPath)
	}
	return spec, nil
}

// Runner executes jobs one after another.
type Runner struct {
	Sender Sender
	// MemoryInterval is how often a running job's memory is sampled.
	MemoryInterval time.Duration
	// RunPath receives each job's stdout and stderr. Empty means the
	// current directory.
	RunPath string
}

// Run executes jobs in order and stops at the first failure.
func (r *Runner) Run(ctx context.Context, t Target, jobs []config.Job) error {
	logger := ctxlog.FromContext(ctx).With("ensemble", t.Ensemble, "real", t.Real, "step", t.Step)
	for i, job := range jobs {
		src := nodeid.ForJob(t.Ensemble, t.Real, t.Step, i)
		logger.Info("▶️ Starting job.", "job", job.Name, "executable", job.Executable)
		if err := r.runJob(ctx, src, job); err != nil {
			logger.Error("Job failed.", "job", job.Name, "error", err)
			r.send(ctx, event.New(event.JobFailure, src, map[string]any{
				event.DataName:     job.Name,
				event.DataErrorMsg: err.Error(),
			}))
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		r.send(ctx, event.New(event.JobSuccess, src, map[string]any{event.DataName: job.Name}))
	}
	return nil
}

func (r *Runner) runJob(ctx context.Context, src nodeid.Address, job config.Job) error {
	r.send(ctx, event.New(event.JobStart, src, map[string]any{event.DataName: job.Name}))

	cmd := exec.CommandContext(ctx, job.Executable, job.Args...)
	cmd.Dir = r.RunPath
	cmd.Env = os.Environ()
	for k, v := range job.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stderrTail bytes.Buffer
	closeOutputs, err := r.attachOutputs(cmd, job.Name, &stderrTail)
	if err != nil {
		return err
	}
	defer closeOutputs()

	if err := cmd.Start(); err != nil {
		return err
	}
	r.send(ctx, event.New(event.JobRunning, src, map[string]any{event.DataName: job.Name}))

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	interval := r.MemoryInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var maxRSS int64
	for {
		select {
		case err := <-waitErr:
			if err != nil {
				if msg := strings.TrimSpace(stderrTail.String()); msg != "" {
					return fmt.Errorf("%w: %s", err, lastLine(msg))
				}
			}
			return err
		case <-ticker.C:
			rss, ok := residentMemory(cmd.Process.Pid)
			if !ok {
				continue
			}
			maxRSS = max(maxRSS, rss)
			r.send(ctx, event.New(event.JobRunning, src, map[string]any{
				event.DataName:               job.Name,
				event.DataCurrentMemoryUsage: rss,
				event.DataMaxMemoryUsage:     maxRSS,
			}))
		}
	}
}

// attachOutputs writes stdout and stderr to files named after the job and
// keeps a copy of stderr for the failure message.
func (r *Runner) attachOutputs(cmd *exec.Cmd, name string, stderrTail *bytes.Buffer) (func(), error) {
	dir := r.RunPath
	if dir == "" {
		dir = "."
	}
	stdout, err := os.Create(filepath.Join(dir, name+".stdout"))
	if err != nil {
		return nil, fmt.Errorf("creating stdout file: %w", err)
	}
	stderr, err := os.Create(filepath.Join(dir, name+".stderr"))
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("creating stderr file: %w", err)
	}
	cmd.Stdout = stdout
	cmd.Stderr = &teeWriter{file: stderr, tail: stderrTail}
	return func() {
		_ = stdout.Close()
		_ = stderr.Close()
	}, nil
}

func (r *Runner) send(ctx context.Context, ev event.Event) {
	if r.Sender == nil {
		return
	}
	if err := r.Sender.Send(ctx, ev); err != nil {
		ctxlog.FromContext(ctx).Warn("Could not report event.", "type", ev.Kind, "error", err)
	}
}

// teeWriter copies to a file and keeps the last few KiB in memory.
type teeWriter struct {
	file *os.File
	tail *bytes.Buffer
}

const tailLimit = 4096

func (w *teeWriter) Write(p []byte) (int, error) {
	w.tail.Write(p)
	if over := w.tail.Len() - tailLimit; over > 0 {
		w.tail.Next(over)
	}
	return w.file.Write(p)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// residentMemory reads the resident set size of pid in bytes from /proc.
func residentMemory(pid int) (int64, bool) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "VmRSS:"))
		if len(fields) == 0 {
			return 0, false
		}
		kb, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}

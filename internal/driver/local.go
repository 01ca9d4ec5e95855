package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Local runs jobs as child processes of this process.
type Local struct {
	sem      *semaphore.Weighted
	lookPath func(string) (string, error)

	mu   sync.Mutex
	jobs map[Handle]*localJob
}

type localJob struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// NewLocal creates a driver that runs at most maxRunning jobs at once.
func NewLocal(maxRunning int) *Local {
	if maxRunning <= 0 {
		maxRunning = 1
	}
	return &Local{
		sem:      semaphore.NewWeighted(int64(maxRunning)),
		lookPath: exec.LookPath,
		jobs:     make(map[Handle]*localJob),
	}
}

// Submit starts the job. A full driver returns a transient error; an
// executable that cannot be found or started returns a permanent one.
func (l *Local) Submit(ctx context.Context, spec JobSpec) (Handle, error) {
	path, err := l.lookPath(spec.Executable)
	if err != nil {
		return "", Permanent(fmt.Errorf("job %s: %w", spec.Name, err))
	}
	if !l.sem.TryAcquire(1) {
		return "", Transient(fmt.Errorf("job %s: %w", spec.Name, ErrResourceUnavailable))
	}

	// The child must outlive the submitting call, so ctx is not attached.
	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.RunPath
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	closeOutputs, err := attachOutputs(cmd, spec)
	if err != nil {
		l.sem.Release(1)
		return "", Permanent(err)
	}
	if err := cmd.Start(); err != nil {
		closeOutputs()
		l.sem.Release(1)
		return "", Permanent(fmt.Errorf("starting job %s: %w", spec.Name, err))
	}

	h := Handle(uuid.NewString())
	job := &localJob{cmd: cmd, done: make(chan struct{})}
	l.mu.Lock()
	l.jobs[h] = job
	l.mu.Unlock()

	go func() {
		job.err = cmd.Wait()
		closeOutputs()
		l.sem.Release(1)
		close(job.done)
	}()
	return h, nil
}

// Poll reports the job's state. A started job is Running until it exits.
func (l *Local) Poll(ctx context.Context, h Handle) (Status, error) {
	job, err := l.job(h)
	if err != nil {
		return "", err
	}
	select {
	case <-job.done:
		if job.err != nil {
			return StatusFailed, nil
		}
		return StatusDone, nil
	default:
		return StatusRunning, nil
	}
}

// Kill terminates the process if it is still running.
func (l *Local) Kill(ctx context.Context, h Handle) error {
	job, err := l.job(h)
	if err != nil {
		return err
	}
	select {
	case <-job.done:
		return nil
	default:
	}
	if err := job.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing job: %w", err)
	}
	return nil
}

// Describe returns the exit error of a finished job.
func (l *Local) Describe(ctx context.Context, h Handle) string {
	job, err := l.job(h)
	if err != nil {
		return err.Error()
	}
	select {
	case <-job.done:
		if job.err != nil {
			return job.err.Error()
		}
	default:
	}
	return ""
}

func (l *Local) job(h Handle) (*localJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return job, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := append([]string{}, base...)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// attachOutputs sends stdout and stderr to files in the run path. Without
// one they stay nil, which exec connects to the null device.
func attachOutputs(cmd *exec.Cmd, spec JobSpec) (func(), error) {
	if spec.RunPath == "" {
		return func() {}, nil
	}
	name := spec.Name
	if name == "" {
		name = filepath.Base(spec.Executable)
	}
	stdout, err := os.Create(filepath.Join(spec.RunPath, name+".stdout"))
	if err != nil {
		return nil, fmt.Errorf("creating stdout for job %s: %w", spec.Name, err)
	}
	stderr, err := os.Create(filepath.Join(spec.RunPath, name+".stderr"))
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("creating stderr for job %s: %w", spec.Name, err)
	}
	cmd.Stdout, cmd.Stderr = stdout, stderr
	return func() {
		_ = stdout.Close()
		_ = stderr.Close()
	}, nil
}

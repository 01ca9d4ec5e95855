package steprunner

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/ensembletrack/internal/config"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/nodeid"
)

type sentEvents struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *sentEvents) Send(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// kinds returns the sent kinds for job, without memory samples.
func (s *sentEvents) kinds(job int) []event.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Kind
	for _, ev := range s.events {
		if ev.Source.Job != job {
			continue
		}
		if ev.Kind == event.JobRunning && ev.Data[event.DataCurrentMemoryUsage] != nil {
			continue
		}
		out = append(out, ev.Kind)
	}
	return out
}

func shellJob(name, script string) config.Job {
	return config.Job{Name: name, Executable: "/bin/sh", Args: []string{"-c", script, name}}
}

var target = Target{Ensemble: "ens", Real: 2, Step: 1}

func TestRunner_RunsJobsInOrder(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	sender := &sentEvents{}
	dir := t.TempDir()
	r := &Runner{Sender: sender, RunPath: dir}
	jobs := []config.Job{
		shellJob("first", "echo one"),
		shellJob("second", `echo "$GREETING"`),
	}
	jobs[1].Env = map[string]string{"GREETING": "hello"}

	// --- Act ---
	err := r.Run(context.Background(), target, jobs)

	// --- Assert ---
	require.NoError(t, err)
	for i := range jobs {
		assert.Equal(t, []event.Kind{event.JobStart, event.JobRunning, event.JobSuccess}, sender.kinds(i))
	}
	first := sender.events[0]
	assert.Equal(t, nodeid.ForJob("ens", 2, 1, 0), first.Source)
	assert.Equal(t, "first", first.String(event.DataName))

	out, err := os.ReadFile(filepath.Join(dir, "second.stdout"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestRunner_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	sender := &sentEvents{}
	r := &Runner{Sender: sender, RunPath: t.TempDir()}
	jobs := []config.Job{
		shellJob("broken", "echo starting; echo 'disk quota exceeded' >&2; exit 4"),
		shellJob("never", "true"),
	}

	// --- Act ---
	err := r.Run(context.Background(), target, jobs)

	// --- Assert ---
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job broken")
	assert.Equal(t, []event.Kind{event.JobStart, event.JobRunning, event.JobFailure}, sender.kinds(0))
	assert.Empty(t, sender.kinds(1), "later jobs must not start")

	failure := sender.events[len(sender.events)-1]
	assert.Contains(t, failure.String(event.DataErrorMsg), "exit status 4")
	assert.Contains(t, failure.String(event.DataErrorMsg), "disk quota exceeded")
}

func TestRunner_MissingExecutable(t *testing.T) {
	t.Parallel()

	sender := &sentEvents{}
	r := &Runner{Sender: sender, RunPath: t.TempDir()}

	err := r.Run(context.Background(), target, []config.Job{{Name: "ghost", Executable: "/no/such/binary"}})

	require.Error(t, err)
	assert.Equal(t, []event.Kind{event.JobStart, event.JobFailure}, sender.kinds(0))
}

func TestRunner_ReportsMemory(t *testing.T) {
	if _, err := os.Stat("/proc/self/status"); err != nil {
		t.Skip("no /proc on this platform")
	}
	t.Parallel()

	// --- Arrange ---
	sender := &sentEvents{}
	r := &Runner{Sender: sender, RunPath: t.TempDir(), MemoryInterval: 20 * time.Millisecond}

	// --- Act ---
	require.NoError(t, r.Run(context.Background(), target, []config.Job{shellJob("sleepy", "sleep 0.3")}))

	// --- Assert ---
	sender.mu.Lock()
	defer sender.mu.Unlock()
	var samples int
	for _, ev := range sender.events {
		if cur, ok := ev.Int64(event.DataCurrentMemoryUsage); ok {
			samples++
			assert.Positive(t, cur)
			peak, ok := ev.Int64(event.DataMaxMemoryUsage)
			require.True(t, ok)
			assert.GreaterOrEqual(t, peak, cur)
		}
	}
	assert.Positive(t, samples)
}

func TestJobSpec(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	step := config.Step{Name: "forward", Jobs: []config.Job{shellJob("sim", "true")}}
	tgt := Target{URL: "ws://127.0.0.1:9000/dispatch", Token: "s3cret", Ensemble: "ens", Real: 3, Step: 1}

	// --- Act ---
	spec, err := JobSpec("/usr/bin/ensembletrack", tgt, step, "/scratch/run")

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, "ens-real-3-step-1", spec.Name)
	assert.Equal(t, "/usr/bin/ensembletrack", spec.Executable)
	assert.Equal(t, filepath.Join("/scratch/run", "realization-3"), spec.RunPath)
	assert.Equal(t, map[string]string{TokenEnv: "s3cret"}, spec.Env)
	assert.Equal(t, Command, spec.Args[0])
	assert.NotContains(t, spec.Args, "s3cret", "the token must not appear on the command line")

	var jobsArg string
	for i, a := range spec.Args {
		if a == "--jobs" {
			jobsArg = spec.Args[i+1]
		}
	}
	var jobs []config.Job
	require.NoError(t, json.Unmarshal([]byte(jobsArg), &jobs))
	assert.Equal(t, step.Jobs, jobs)
}

func TestMain_RejectsBadArguments(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"--bogus"}},
		{name: "missing url", args: []string{"--ensemble", "ens"}},
		{name: "bad jobs", args: []string{"--url", "ws://x", "--ensemble", "ens", "--jobs", "{"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var stderr bytes.Buffer
			assert.Equal(t, 2, Main(context.Background(), tc.args, &stderr))
		})
	}
}

func TestLastLine(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "c", lastLine("a\nb\nc"))
	assert.Equal(t, "only", lastLine("only"))
}

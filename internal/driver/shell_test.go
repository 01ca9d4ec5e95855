package driver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

// fakeRunner answers commands by name and records every call.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	outputs map[string]string
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, args: args})
	return []byte(f.outputs[name]), f.errs[name]
}

func (f *fakeRunner) callsTo(name string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func TestShell_LSFSubmitRendersCommand(t *testing.T) {
	// --- Arrange ---
	runner := newFakeRunner()
	runner.outputs["bsub"] = "Job <123> is submitted to default queue <normal>.\n"
	d, err := NewShell(LSF(), runner)
	require.NoError(t, err)

	// --- Act ---
	h, err := d.Submit(context.Background(), JobSpec{
		Name: "real-0", Executable: "/bin/forward", Args: []string{"--case", "a b"}, RunPath: "/scratch/r0", NumCPU: 4,
	})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, Handle("123"), h)
	calls := runner.callsTo("bsub")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"-J", "real-0", "-n", "4",
		"-o", "/scratch/r0/real-0.LSF-stdout", "-e", "/scratch/r0/real-0.LSF-stderr",
		"/bin/forward", "--case", "a b",
	}, calls[0].args)
}

func TestShell_LSFPoll(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   Status
	}{
		{"pending", "123 user PEND normal host - real-0 Jan 1 10:00\n", StatusPending},
		{"running", "123 user RUN normal host node1 real-0 Jan 1 10:00\n", StatusRunning},
		{"suspended counts as running", "123 user SSUSP normal host node1 real-0 Jan 1 10:00\n", StatusRunning},
		{"done", "123 user DONE normal host node1 real-0 Jan 1 10:00\n", StatusDone},
		{"exit", "123 user EXIT normal host node1 real-0 Jan 1 10:00\n", StatusFailed},
		{"missing means done", "", StatusDone},
		{"other jobs only", "999 user RUN normal host node1 other Jan 1 10:00\n", StatusDone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			runner := newFakeRunner()
			runner.outputs["bsub"] = "Job <123> is submitted.\n"
			runner.outputs["bjobs"] = tc.output
			d, err := NewShell(LSF(), runner)
			require.NoError(t, err)
			h, err := d.Submit(context.Background(), JobSpec{Name: "real-0", Executable: "/bin/true"})
			require.NoError(t, err)

			// --- Act ---
			status, err := d.Poll(context.Background(), h)

			// --- Assert ---
			require.NoError(t, err)
			assert.Equal(t, tc.want, status)
			assert.Equal(t, []string{"-noheader", "123"}, runner.callsTo("bjobs")[0].args)
		})
	}
}

func TestShell_PollCommandFailureIsNotDone(t *testing.T) {
	// --- Arrange ---
	runner := newFakeRunner()
	runner.outputs["bsub"] = "Job <42> is submitted to default queue <normal>.\n"
	runner.errs["bjobs"] = errors.New("bjobs: exit status 255: LSF is down. Please wait ...")
	d, err := NewShell(LSF(), runner)
	require.NoError(t, err)
	h, err := d.Submit(context.Background(), JobSpec{Name: "real-0", Executable: "/bin/true"})
	require.NoError(t, err)

	// --- Act ---
	status, err := d.Poll(context.Background(), h)

	// --- Assert ---
	require.Error(t, err)
	assert.Empty(t, status)
	assert.ErrorContains(t, err, "polling job 42")
	assert.ErrorContains(t, err, "LSF is down")
	assert.NotErrorIs(t, err, ErrUnknownHandle)
}

func TestShell_PollForgottenJobIsDone(t *testing.T) {
	cases := []struct {
		name   string
		cfg    ShellConfig
		submit string
		status string
		output string
		err    error
	}{
		{
			name: "lsf", cfg: LSF(), submit: "bsub", status: "bjobs",
			output: "Job <42> is submitted.\n",
			err:    errors.New("bjobs: exit status 255: Job <42> is not found"),
		},
		{
			name: "torque", cfg: Torque(), submit: "qsub", status: "qstat",
			output: "42.headnode\n",
			err:    errors.New("qstat: exit status 153: qstat: Unknown Job Id 42.headnode"),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			runner := newFakeRunner()
			runner.outputs[tc.submit] = tc.output
			runner.errs[tc.status] = tc.err
			d, err := NewShell(tc.cfg, runner)
			require.NoError(t, err)
			h, err := d.Submit(context.Background(), JobSpec{Name: "real-0", Executable: "/bin/true"})
			require.NoError(t, err)

			// --- Act ---
			status, err := d.Poll(context.Background(), h)

			// --- Assert ---
			require.NoError(t, err)
			assert.Equal(t, StatusDone, status)
		})
	}
}

func TestShell_PollForgottenJobWithoutMissingIsDone(t *testing.T) {
	// --- Arrange ---
	runner := newFakeRunner()
	runner.outputs["bsub"] = "Job <42> is submitted.\n"
	runner.errs["bjobs"] = errors.New("bjobs: exit status 255: Job <42> is not found")
	cfg := LSF()
	cfg.MissingIsDone = false
	d, err := NewShell(cfg, runner)
	require.NoError(t, err)
	h, err := d.Submit(context.Background(), JobSpec{Name: "real-0", Executable: "/bin/true"})
	require.NoError(t, err)

	// --- Act ---
	_, err = d.Poll(context.Background(), h)

	// --- Assert ---
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestShell_UnrecognisedState(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["bsub"] = "Job <7> is submitted.\n"
	runner.outputs["bjobs"] = "7 user WEIRD normal\n"
	d, err := NewShell(LSF(), runner)
	require.NoError(t, err)
	h, err := d.Submit(context.Background(), JobSpec{Name: "x", Executable: "/bin/true"})
	require.NoError(t, err)

	_, err = d.Poll(context.Background(), h)
	assert.ErrorContains(t, err, "WEIRD")
}

func TestShell_SubmitErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		output    string
		err       error
		transient bool
	}{
		{"scheduler busy", "LSF is down. Please wait ...", errors.New("exit status 255"), true},
		{"try again", "", errors.New("bsub: exit status 1: Resource temporarily unavailable"), true},
		{"bad queue", "Queue does not exist", errors.New("exit status 255"), false},
		{"no job id", "Request rejected", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			runner := newFakeRunner()
			runner.outputs["bsub"] = tc.output
			runner.errs["bsub"] = tc.err
			d, err := NewShell(LSF(), runner)
			require.NoError(t, err)

			// --- Act ---
			_, err = d.Submit(context.Background(), JobSpec{Name: "x", Executable: "/bin/true"})

			// --- Assert ---
			require.Error(t, err)
			assert.Equal(t, tc.transient, IsTransient(err))
		})
	}
}

func TestShell_KillRunsOnce(t *testing.T) {
	// --- Arrange ---
	runner := newFakeRunner()
	runner.outputs["bsub"] = "Job <42> is submitted.\n"
	d, err := NewShell(LSF(), runner)
	require.NoError(t, err)
	h, err := d.Submit(context.Background(), JobSpec{Name: "x", Executable: "/bin/true"})
	require.NoError(t, err)

	// --- Act ---
	require.NoError(t, d.Kill(context.Background(), h))
	require.NoError(t, d.Kill(context.Background(), h))

	// --- Assert ---
	calls := runner.callsTo("bkill")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"42"}, calls[0].args)
}

func TestShell_Torque(t *testing.T) {
	// --- Arrange ---
	runner := newFakeRunner()
	runner.outputs["qsub"] = "4711.headnode\n"
	runner.outputs["qstat"] = strings.Join([]string{
		"Job ID                    Name             User            Time Use S Queue",
		"------------------------- ---------------- --------------- -------- - -----",
		"4711.headnode             real-1           user            00:00:01 R batch",
	}, "\n")
	d, err := NewShell(Torque(), runner)
	require.NoError(t, err)

	// --- Act ---
	h, err := d.Submit(context.Background(), JobSpec{Name: "real-1", Executable: "/bin/fm", RunPath: "/runs/1", NumCPU: 2})
	require.NoError(t, err)
	status, err := d.Poll(context.Background(), h)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, Handle("4711.headnode"), h)
	assert.Equal(t, StatusRunning, status)
	assert.Equal(t, []string{"-N", "real-1", "-l", "nodes=1:ppn=2", "-d", "/runs/1", "--", "/bin/fm"}, runner.callsTo("qsub")[0].args)
}

func TestNewShell_Validation(t *testing.T) {
	cfg := LSF()
	cfg.JobIDPattern = `Job <\d+>`
	_, err := NewShell(cfg, newFakeRunner())
	assert.ErrorContains(t, err, "capture group")

	cfg = LSF()
	cfg.KillCommand = nil
	_, err = NewShell(cfg, newFakeRunner())
	assert.ErrorContains(t, err, "kill command is empty")

	cfg = LSF()
	cfg.NotFoundPatterns = []string{"("}
	_, err = NewShell(cfg, newFakeRunner())
	assert.ErrorContains(t, err, "not found pattern")

	cfg = LSF()
	cfg.SubmitCommand = []string{"bsub", "${name"}
	_, err = NewShell(cfg, newFakeRunner())
	assert.Error(t, err)
}

func TestShell_UnknownHandle(t *testing.T) {
	d, err := NewShell(LSF(), newFakeRunner())
	require.NoError(t, err)

	_, err = d.Poll(context.Background(), "1")
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitTerminal(t *testing.T, d Driver, h Handle) Status {
	t.Helper()
	var status Status
	require.Eventually(t, func() bool {
		s, err := d.Poll(context.Background(), h)
		require.NoError(t, err)
		status = s
		return s.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestLocal_ExitCodes(t *testing.T) {
	cases := []struct {
		name   string
		script string
		want   Status
	}{
		{"success", "exit 0", StatusDone},
		{"failure", "exit 3", StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			d := NewLocal(1)

			// --- Act ---
			h, err := d.Submit(context.Background(), JobSpec{Name: tc.name, Executable: "sh", Args: []string{"-c", tc.script}})
			require.NoError(t, err)

			// --- Assert ---
			assert.Equal(t, tc.want, waitTerminal(t, d, h))
			if tc.want == StatusFailed {
				assert.Contains(t, d.Describe(context.Background(), h), "exit status 3")
			} else {
				assert.Empty(t, d.Describe(context.Background(), h))
			}
		})
	}
}

func TestLocal_CapacityIsTransient(t *testing.T) {
	// --- Arrange ---
	d := NewLocal(1)
	h, err := d.Submit(context.Background(), JobSpec{Name: "long", Executable: "sh", Args: []string{"-c", "exec sleep 5"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Kill(context.Background(), h) })

	// --- Act ---
	_, err = d.Submit(context.Background(), JobSpec{Name: "second", Executable: "sh", Args: []string{"-c", "exit 0"}})

	// --- Assert ---
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrResourceUnavailable)
}

func TestLocal_MissingExecutableIsPermanent(t *testing.T) {
	// --- Arrange ---
	d := NewLocal(1)

	// --- Act ---
	_, err := d.Submit(context.Background(), JobSpec{Name: "ghost", Executable: "definitely-not-a-real-binary-xyz"})

	// --- Assert ---
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	var se *SubmitError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ClassPermanent, se.Class)
}

func TestLocal_KillIsIdempotent(t *testing.T) {
	// --- Arrange ---
	d := NewLocal(2)
	h, err := d.Submit(context.Background(), JobSpec{Name: "sleeper", Executable: "sh", Args: []string{"-c", "exec sleep 30"}})
	require.NoError(t, err)

	// --- Act ---
	require.NoError(t, d.Kill(context.Background(), h))
	status := waitTerminal(t, d, h)

	// --- Assert ---
	assert.Equal(t, StatusFailed, status)
	assert.NoError(t, d.Kill(context.Background(), h))
}

func TestLocal_UnknownHandle(t *testing.T) {
	d := NewLocal(1)

	_, err := d.Poll(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.ErrorIs(t, d.Kill(context.Background(), "nope"), ErrUnknownHandle)
}

func TestLocal_OutputsAndEnv(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	d := NewLocal(1)
	spec := JobSpec{
		Name:       "echo",
		Executable: "sh",
		Args:       []string{"-c", `echo "$GREETING"; echo oops >&2`},
		Env:        map[string]string{"GREETING": "hello"},
		RunPath:    dir,
	}

	// --- Act ---
	h, err := d.Submit(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, StatusDone, waitTerminal(t, d, h))

	// --- Assert ---
	stdout, err := os.ReadFile(filepath.Join(dir, "echo.stdout"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(stdout))
	stderr, err := os.ReadFile(filepath.Join(dir, "echo.stderr"))
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(stderr))
}

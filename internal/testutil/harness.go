// Package testutil holds helpers shared by the package and system tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/ensembletrack/internal/app"
	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/hcl"
)

// LogsEnv makes tests print the captured log output when set to "true".
const LogsEnv = "ENSEMBLETRACK_TEST_LOGS"

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Context returns a context carrying a debug logger that writes into the
// returned buffer. The buffer is printed after the test when LogsEnv is set.
func Context(t *testing.T) (context.Context, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	dumpLogs(t, buf)
	return ctxlog.WithLogger(context.Background(), logger), buf
}

func dumpLogs(t *testing.T, buf *SafeBuffer) {
	t.Cleanup(func() {
		if os.Getenv(LogsEnv) == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		}
	})
}

// WriteFiles writes files, keyed by relative path, into a fresh temporary
// directory and returns it.
func WriteFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// HarnessResult holds the outcome of an application run.
type HarnessResult struct {
	LogOutput string
	Err       error
}

// RunApp writes files to a temporary directory and runs the application
// against it with debug logging. Startup panics are returned as errors.
func RunApp(ctx context.Context, t *testing.T, files map[string]string) *HarnessResult {
	t.Helper()
	dir := WriteFiles(t, files)
	logBuffer := &SafeBuffer{}
	dumpLogs(t, logBuffer)

	cfg := &app.Config{
		ConfigPath: dir,
		LogLevel:   "debug",
		LogFormat:  "text",
	}

	var testApp *app.App
	var panicErr any
	func() {
		defer func() { panicErr = recover() }()
		testApp = app.NewApp(logBuffer, cfg, hcl.NewLoader())
	}()
	if panicErr != nil {
		return &HarnessResult{
			LogOutput: logBuffer.String(),
			Err:       fmt.Errorf("application startup panicked | %v", panicErr),
		}
	}

	err := testApp.Run(ctx)
	return &HarnessResult{LogOutput: logBuffer.String(), Err: err}
}

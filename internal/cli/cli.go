package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/specialistvlad/ensembletrack/internal/app"
)

// ExitError carries the process exit code for a rejected command line.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

const usage = `
ensembletrack evaluates an ensemble of realizations on a queue driver and
follows it until enough of them finish.

Usage:
  ensembletrack [flags] ENSEMBLE.hcl|DIR
  ensembletrack run-step [flags]     (invoked by the queue driver)

The configuration is read from one .hcl file or every .hcl file under a
directory. ENSEMBLETRACK_* environment variables override single settings
such as ENSEMBLETRACK_MAX_RUNNING.

Flags:
`

var (
	logFormats = []string{"json", "text"}
	logLevels  = []string{"debug", "info", "warn", "error"}
)

// options mirrors the flags before they are checked.
type options struct {
	config     string
	configC    string
	statusPort int
	logFormat  string
	logLevel   string
	relayURL   string
	trace      bool
}

func (o *options) bind(fs *flag.FlagSet) {
	fs.StringVar(&o.config, "config", "", "ensemble configuration file or directory")
	fs.StringVar(&o.configC, "c", "", "same as --config")
	fs.IntVar(&o.statusPort, "healthcheck-port", 0, "serve /health and /metrics on this port (0 turns it off)")
	fs.StringVar(&o.logFormat, "log-format", "json", "log encoding: "+strings.Join(logFormats, " or "))
	fs.StringVar(&o.logLevel, "log-level", "info", "minimum log level: "+strings.Join(logLevels, ", "))
	fs.StringVar(&o.relayURL, "relay-url", "", "socket.io endpoint fed with progress updates")
	fs.BoolVar(&o.trace, "trace", false, "write OpenTelemetry spans next to the logs")
}

// path prefers --config, then -c, then the first positional argument.
func (o *options) path(fs *flag.FlagSet) string {
	for _, p := range []string{o.config, o.configC, fs.Arg(0)} {
		if p != "" {
			return p
		}
	}
	return ""
}

// Parse reads the command line into an app.Config. The boolean is true when
// the process should exit successfully without running, as after --help.
// Invalid input yields an *ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	fs := flag.NewFlagSet("ensembletrack", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usage)
		fs.PrintDefaults()
	}

	var opts options
	opts.bind(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%v", err)
	}

	path := opts.path(fs)
	if path == "" {
		fs.Usage()
		return nil, true, nil
	}

	format := strings.ToLower(opts.logFormat)
	if !slices.Contains(logFormats, format) {
		return nil, false, usageError("--log-format %q: want one of %s", opts.logFormat, strings.Join(logFormats, ", "))
	}
	level := strings.ToLower(opts.logLevel)
	if !slices.Contains(logLevels, level) {
		return nil, false, usageError("--log-level %q: want one of %s", opts.logLevel, strings.Join(logLevels, ", "))
	}

	cfg, err := app.NewConfig(app.Config{
		ConfigPath:      path,
		HealthcheckPort: opts.statusPort,
		LogFormat:       format,
		LogLevel:        level,
		RelayURL:        opts.relayURL,
		Trace:           opts.trace,
	})
	if err != nil {
		return nil, false, usageError("%v", err)
	}
	slog.Debug("Command line parsed.", "config", cfg.ConfigPath, "log_level", level)
	return cfg, false, nil
}

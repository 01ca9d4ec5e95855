package steprunner

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/specialistvlad/ensembletrack/internal/config"
	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/producer"
)

// Main is the entry point of the run-step command. It returns the process
// exit code.
func Main(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet(Command, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var t Target
	var rawJobs, runPath string
	fs.StringVar(&t.URL, "url", "", "Evaluator dispatch endpoint (ws://host:port/dispatch).")
	fs.StringVar(&t.Ensemble, "ensemble", "", "Ensemble id.")
	fs.IntVar(&t.Real, "real", 0, "Realization index.")
	fs.IntVar(&t.Step, "step", 0, "Step index.")
	fs.StringVar(&rawJobs, "jobs", "[]", "Jobs to run, as JSON.")
	fs.StringVar(&runPath, "run-path", "", "Directory for job output.")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	t.Token = os.Getenv(TokenEnv)

	var jobs []config.Job
	if err := json.Unmarshal([]byte(rawJobs), &jobs); err != nil {
		fmt.Fprintf(stderr, "invalid --jobs: %v\n", err)
		return 2
	}
	if t.URL == "" || t.Ensemble == "" {
		fmt.Fprintln(stderr, "--url and --ensemble are required")
		return 2
	}
	if runPath != "" {
		if err := os.MkdirAll(runPath, 0o755); err != nil {
			fmt.Fprintf(stderr, "creating run path: %v\n", err)
			return 1
		}
	}

	client, err := producer.Dial(ctx, t.URL, t.Token)
	if err != nil {
		ctxlog.FromContext(ctx).Error("Could not reach the evaluator.", "error", err)
		return 1
	}
	defer client.Close()

	r := &Runner{Sender: client, RunPath: runPath}
	if err := r.Run(ctx, t, jobs); err != nil {
		return 1
	}
	return 0
}

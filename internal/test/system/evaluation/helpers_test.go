package system

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/ensembletrack/internal/config"
	"github.com/specialistvlad/ensembletrack/internal/evaluator"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/nodeid"
	"github.com/specialistvlad/ensembletrack/internal/producer"
	"github.com/specialistvlad/ensembletrack/internal/testutil"
	"github.com/specialistvlad/ensembletrack/internal/tracker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	ensembleID = "scenario"
	token      = "s3cret"
)

// ensembleModel describes reals realizations of a single one-job step.
func ensembleModel(reals, minRealizations int) *config.Model {
	m := config.Default()
	m.Evaluator.Port = 0
	m.Evaluator.Token = token
	m.Evaluator.BatchInterval = 5 * time.Millisecond
	m.Ensemble = config.Ensemble{
		ID:              ensembleID,
		Realizations:    reals,
		MinRealizations: minRealizations,
		Steps: []config.Step{{
			Name: "forward",
			Jobs: []config.Job{{Name: "simulate", Executable: "sim"}},
		}},
	}
	m.Monitor.RetryWait = 10 * time.Millisecond
	return m
}

// recorder is a Publisher that keeps every tracker event.
type recorder struct {
	mu      sync.Mutex
	events  []tracker.Event
	started chan struct{}
	once    sync.Once
}

func newRecorder() *recorder {
	return &recorder{started: make(chan struct{})}
}

func (r *recorder) Publish(_ context.Context, ev tracker.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.once.Do(func() { close(r.started) })
	return nil
}

type runResult struct {
	successful int
	err        error
}

// startEvaluation runs e in the background and returns once its own monitor
// has received the first snapshot.
func startEvaluation(t *testing.T, ctx context.Context, e *evaluator.Evaluator, rec *recorder) <-chan runResult {
	t.Helper()
	done := make(chan runResult, 1)
	go func() {
		n, err := e.Run(ctx)
		done <- runResult{successful: n, err: err}
	}()

	select {
	case <-e.Ready():
	case <-ctx.Done():
		t.Fatal("evaluator did not start listening")
	}
	select {
	case <-rec.started:
	case <-ctx.Done():
		t.Fatal("evaluator monitor did not receive a snapshot")
	}
	return done
}

func waitResult(t *testing.T, ctx context.Context, done <-chan runResult) runResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		t.Fatal("evaluation did not end")
		return runResult{}
	}
}

// newContext returns a logging test context bounded by a deadline.
func newContext(t *testing.T) context.Context {
	t.Helper()
	ctx, _ := testutil.Context(t)
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// dialProducer connects a producer to e's dispatch endpoint.
func dialProducer(t *testing.T, ctx context.Context, e *evaluator.Evaluator) *producer.Client {
	t.Helper()
	p, err := producer.Dial(ctx, e.DispatchURL(), token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func send(t *testing.T, ctx context.Context, p *producer.Client, kind event.Kind, src nodeid.Address, data map[string]any) {
	t.Helper()
	require.NoError(t, p.Send(ctx, event.New(kind, src, data)))
}

// runRealization reports the full lifecycle of one realization's only job.
func runRealization(t *testing.T, ctx context.Context, p *producer.Client, real int, fail bool) {
	t.Helper()
	step := nodeid.ForStep(ensembleID, real, 0)
	job := nodeid.ForJob(ensembleID, real, 0, 0)
	send(t, ctx, p, event.StepPending, step, nil)
	send(t, ctx, p, event.StepRunning, step, nil)
	send(t, ctx, p, event.JobStart, job, map[string]any{event.DataName: "simulate"})
	send(t, ctx, p, event.JobRunning, job, nil)
	if fail {
		send(t, ctx, p, event.JobFailure, job, map[string]any{event.DataErrorMsg: "exit status 1"})
		send(t, ctx, p, event.StepFailure, step, nil)
		return
	}
	send(t, ctx, p, event.JobSuccess, job, nil)
	send(t, ctx, p, event.StepSuccess, step, nil)
}

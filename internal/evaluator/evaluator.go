package evaluator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/specialistvlad/ensembletrack/internal/config"
	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/dispatcher"
	"github.com/specialistvlad/ensembletrack/internal/driver"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/jobqueue"
	"github.com/specialistvlad/ensembletrack/internal/monitor"
	"github.com/specialistvlad/ensembletrack/internal/nodeid"
	"github.com/specialistvlad/ensembletrack/internal/snapshot"
	"github.com/specialistvlad/ensembletrack/internal/steprunner"
	"github.com/specialistvlad/ensembletrack/internal/tracker"
)

// ErrEvaluationFailed is returned by Run when the ensemble did not meet its
// success threshold or was cancelled.
var ErrEvaluationFailed = errors.New("evaluation failed")

// Publisher receives every progress event of the evaluation.
type Publisher interface {
	Publish(ctx context.Context, ev tracker.Event) error
}

// StepSpecFunc builds the queue job for one step of one realization.
type StepSpecFunc func(real, step int, s config.Step) (driver.JobSpec, error)

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPublisher forwards progress events to p.
func WithPublisher(p Publisher) Option {
	return func(e *Evaluator) { e.publishers = append(e.publishers, p) }
}

// WithStepSpec replaces the default run-step invocation.
func WithStepSpec(fn StepSpecFunc) Option {
	return func(e *Evaluator) { e.stepSpec = fn }
}

// WithoutQueue serves the evaluation without submitting any jobs. Events
// are expected from external producers.
func WithoutQueue() Option {
	return func(e *Evaluator) { e.noQueue = true }
}

// Evaluator runs one ensemble end to end.
type Evaluator struct {
	model      *config.Model
	dispatcher *dispatcher.Dispatcher
	queue      *jobqueue.Queue
	stepSpec   StepSpecFunc
	publishers []Publisher
	noQueue    bool

	ready chan struct{}
	addr  string
	end   *tracker.EndEvent
}

// New prepares an evaluation of model.Ensemble using drv to run steps.
func New(model *config.Model, drv driver.Driver, opts ...Option) *Evaluator {
	ens := model.Ensemble
	d := dispatcher.New(initialSnapshot(ens), dispatcher.Config{
		BatchSize:       model.Evaluator.BatchSize,
		BatchInterval:   model.Evaluator.BatchInterval,
		SubscriberQueue: model.Evaluator.SubscriberQueue,
	})

	e := &Evaluator{
		model:      model,
		dispatcher: d,
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.noQueue {
		e.queue = jobqueue.New(ens.ID, drv, d.Dispatch, jobqueue.Config{
			MaxSubmitAttempts: model.Queue.MaxSubmitAttempts,
			InitialBackoff:    model.Queue.InitialBackoff,
			MaxBackoff:        model.Queue.MaxBackoff,
			PollInterval:      model.Queue.PollInterval,
			SubmitRate:        model.Queue.SubmitRate,
			Workers:           model.Queue.MaxRunning,
		})
		d.OnTerminate(func(ctx context.Context) {
			if err := e.queue.Kill(ctx); err != nil {
				ctxlog.FromContext(ctx).Warn("Some jobs could not be killed.", "error", err)
			}
		})
	}
	if e.stepSpec == nil {
		e.stepSpec = e.runStepSpec
	}
	return e
}

func initialSnapshot(ens config.Ensemble) *snapshot.Snapshot {
	b := snapshot.NewBuilder()
	for si, step := range ens.Steps {
		b.AddStep(si, snapshot.StateUnknown)
		for ji, job := range step.Jobs {
			b.AddJob(si, ji, job.Name, snapshot.StateUnknown)
		}
	}
	reals := make([]int, ens.Realizations)
	for i := range reals {
		reals[i] = i
	}
	snap := b.Build(ens.ID, reals, snapshot.StateUnknown)
	snap.Iteration = ens.Iteration
	return snap
}

// Dispatcher exposes the dispatcher, e.g. to register extra event handlers
// before Run.
func (e *Evaluator) Dispatcher() *dispatcher.Dispatcher { return e.dispatcher }

// Ready is closed once the server is listening.
func (e *Evaluator) Ready() <-chan struct{} { return e.ready }

// Addr is the address the server listens on. Valid after Ready.
func (e *Evaluator) Addr() string { return e.addr }

// DispatchURL is the producer endpoint. Valid after Ready.
func (e *Evaluator) DispatchURL() string { return "ws://" + e.addr + "/dispatch" }

// ClientURL is the monitor endpoint. Valid after Ready.
func (e *Evaluator) ClientURL() string { return "ws://" + e.addr + "/client" }

// Result is the final event of the last Run.
func (e *Evaluator) Result() *tracker.EndEvent { return e.end }

// Run serves the evaluation until it ends and returns the number of
// successful realizations. The verdict is decided by the evaluator's own
// monitor, which follows the broadcast like any other client. If the
// ensemble misses its threshold the error wraps ErrEvaluationFailed.
func (e *Evaluator) Run(ctx context.Context) (int, error) {
	ens := e.model.Ensemble
	ctx = ctxlog.With(ctx, "ensemble", ens.ID)
	logger := ctxlog.FromContext(ctx)

	listener, err := net.Listen("tcp", e.model.Evaluator.Address())
	if err != nil {
		return 0, fmt.Errorf("listening on %s: %w", e.model.Evaluator.Address(), err)
	}
	e.addr = listener.Addr().String()
	server := NewServer(ctx, e.dispatcher, e.model.Evaluator.Token)
	httpServer := &http.Server{Handler: server.Router(), ReadHeaderTimeout: 10 * time.Second}
	logger.Info("🚀 Evaluator listening.", "address", e.addr, "realizations", ens.Realizations)
	close(e.ready)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return ignoreCanceled(runCtx, e.dispatcher.Run(gctx))
	})

	g.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("evaluator server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		// Let every monitor receive ee-terminated before dropping sockets.
		select {
		case <-e.dispatcher.Done():
			_ = server.WaitClients(shutdownCtx)
		case <-shutdownCtx.Done():
		}
		server.CloseConnections()
		return httpServer.Shutdown(shutdownCtx)
	})

	if e.queue != nil {
		g.Go(func() error {
			return ignoreCanceled(runCtx, e.runQueue(gctx))
		})
	}

	g.Go(func() error {
		// The evaluation is over once the tracker ends, so stop everything else.
		defer stop()
		return e.track(gctx)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return e.successful(), ctx.Err()
	}
	if err != nil {
		return e.successful(), err
	}
	if e.end == nil {
		return 0, errors.New("evaluation ended without a result")
	}
	if e.end.Failed {
		return e.end.Successful, fmt.Errorf("%w: %s", ErrEvaluationFailed, e.end.FailedMsg)
	}
	return e.end.Successful, nil
}

func (e *Evaluator) successful() int {
	if e.end == nil {
		return 0
	}
	return e.end.Successful
}

// track follows the evaluation through the client endpoint.
func (e *Evaluator) track(ctx context.Context) error {
	ens := e.model.Ensemble
	mon := monitor.New(&monitor.WebSocketConnector{
		URL:   e.ClientURL(),
		Token: e.model.Evaluator.Token,
	}, monitor.Policy{
		MaxRetries: e.model.Monitor.MaxRetries,
		RetryWait:  e.model.Monitor.RetryWait,
	})
	tr := tracker.New(mon, tracker.StaticRunModel{
		Name:  e.model.Tracker.PhaseName,
		Count: e.model.Tracker.PhaseCount,
	}, snapshot.Threshold{Count: ens.MinRealizations, Ratio: ens.MinSuccessRatio})

	logger := ctxlog.FromContext(ctx)
	for ev := range tr.Track(ctx) {
		for _, p := range e.publishers {
			if err := p.Publish(ctx, ev); err != nil {
				logger.Warn("Publishing progress failed.", "error", err)
			}
		}
		switch ev := ev.(type) {
		case *tracker.SnapshotUpdateEvent:
			logger.Debug("Progress.", "phase", ev.CurrentPhase, "progress", ev.Progress)
		case *tracker.EndEvent:
			e.end = ev
		}
	}
	if e.end == nil {
		return ctx.Err()
	}
	return nil
}

// runQueue submits the steps in order. A realization whose step failed is
// not submitted again.
func (e *Evaluator) runQueue(ctx context.Context) error {
	ens := e.model.Ensemble
	logger := ctxlog.FromContext(ctx)
	e.emit(ctx, event.New(event.EnsembleStarted, nodeid.ForEnsemble(ens.ID), nil))

	failed := make(map[int]bool)
	for si, step := range ens.Steps {
		jobs := make([]jobqueue.Job, 0, ens.Realizations)
		for r := 0; r < ens.Realizations; r++ {
			if failed[r] {
				continue
			}
			spec, err := e.stepSpec(r, si, step)
			if err != nil {
				return err
			}
			jobs = append(jobs, jobqueue.Job{Realization: r, Step: si, Spec: spec})
		}
		if len(jobs) == 0 {
			break
		}
		logger.Info("📦 Running step.", "step", step.Name, "realizations", len(jobs))
		if err := e.queue.Run(ctx, jobs); err != nil {
			return err
		}
		for _, rec := range e.queue.Records() {
			if rec.Step == si && rec.Err != nil {
				failed[rec.Realization] = true
			}
		}
	}

	e.emit(ctx, event.New(event.EnsembleStopped, nodeid.ForEnsemble(ens.ID), nil))
	return nil
}

func (e *Evaluator) emit(ctx context.Context, ev event.Event) {
	if err := e.dispatcher.Dispatch(ctx, ev); err != nil && !errors.Is(err, dispatcher.ErrClosed) {
		ctxlog.FromContext(ctx).Debug("Event not dispatched.", "type", ev.Kind, "error", err)
	}
}

// runStepSpec runs a step through this binary's run-step command.
func (e *Evaluator) runStepSpec(real, step int, s config.Step) (driver.JobSpec, error) {
	self, err := os.Executable()
	if err != nil {
		return driver.JobSpec{}, fmt.Errorf("locating own executable: %w", err)
	}
	spec, err := steprunner.JobSpec(self, steprunner.Target{
		URL:      e.DispatchURL(),
		Token:    e.model.Evaluator.Token,
		Ensemble: e.model.Ensemble.ID,
		Real:     real,
		Step:     step,
	}, s, e.model.Queue.RunPath)
	if err != nil {
		return driver.JobSpec{}, err
	}
	if spec.RunPath != "" {
		if err := os.MkdirAll(spec.RunPath, 0o755); err != nil {
			return driver.JobSpec{}, fmt.Errorf("creating run path: %w", err)
		}
	}
	return spec, nil
}

func ignoreCanceled(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

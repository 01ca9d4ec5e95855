package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/driver"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/nodeid"
)

// DispatchFunc delivers an event to the evaluator.
type DispatchFunc func(ctx context.Context, ev event.Event) error

// Job is one realization's unit of work.
type Job struct {
	Realization int
	Step        int
	Spec        driver.JobSpec
}

type jobKey struct{ real, step int }

func (j Job) key() jobKey { return jobKey{j.Realization, j.Step} }

// SubmitRecord is the submission history of one job.
type SubmitRecord struct {
	Realization int
	Step        int
	Handle      driver.Handle
	Attempts    int
	Retries     int
	// Err is the submission error, or a *JobRuntimeError when the job
	// itself failed. Nil means success.
	Err error
}

// Queue runs jobs through a driver.
type Queue struct {
	ensembleID string
	drv        driver.Driver
	dispatch   DispatchFunc
	cfg        Config
	limiter    *rate.Limiter

	mu      sync.Mutex
	records map[jobKey]*SubmitRecord
	active  map[driver.Handle]struct{}
	killed  bool
}

// New creates a queue for the given ensemble.
func New(ensembleID string, drv driver.Driver, dispatch DispatchFunc, cfg Config) *Queue {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
	}
	return &Queue{
		ensembleID: ensembleID,
		drv:        drv,
		dispatch:   dispatch,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		records:    make(map[jobKey]*SubmitRecord),
		active:     make(map[driver.Handle]struct{}),
	}
}

// Run submits every job and waits until all of them have finished. Job
// failures are reported as events and records; Run only returns an error
// when ctx ends first.
func (q *Queue) Run(ctx context.Context, jobs []Job) error {
	logger := ctxlog.FromContext(ctx).With("component", "jobqueue", "ensemble", q.ensembleID)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Info("📤 Submitting jobs.", "count", len(jobs), "workers", q.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.Workers)
	for _, job := range jobs {
		q.mu.Lock()
		q.records[job.key()] = &SubmitRecord{Realization: job.Realization, Step: job.Step}
		q.mu.Unlock()

		g.Go(func() error {
			return q.runJob(gctx, job)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("✅ All jobs finished.")
	return nil
}

// Records returns a copy of every submission record ordered by realization
// and step.
func (q *Queue) Records() []SubmitRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]SubmitRecord, 0, len(q.records))
	for _, r := range q.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Realization != out[j].Realization {
			return out[i].Realization < out[j].Realization
		}
		return out[i].Step < out[j].Step
	})
	return out
}

// Kill stops every running job and prevents further submissions. Calling it
// more than once is harmless.
func (q *Queue) Kill(ctx context.Context) error {
	q.mu.Lock()
	if q.killed {
		q.mu.Unlock()
		return nil
	}
	q.killed = true
	handles := make([]driver.Handle, 0, len(q.active))
	for h := range q.active {
		handles = append(handles, h)
	}
	q.mu.Unlock()

	ctxlog.FromContext(ctx).Info("🛑 Killing running jobs.", "count", len(handles))
	var errs []error
	for _, h := range handles {
		if err := q.drv.Kill(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", h, err))
		}
	}
	return errors.Join(errs...)
}

func (q *Queue) runJob(ctx context.Context, job Job) error {
	logger := ctxlog.FromContext(ctx).With("real", job.Realization)
	src := nodeid.ForStep(q.ensembleID, job.Realization, job.Step)

	q.emit(ctx, event.New(event.StepPending, src, nil))

	h, err := q.submit(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("Job submission failed.", "error", err)
		q.setErr(job.key(), err)
		jobOutcomes.WithLabelValues("submit_failure").Inc()
		q.emit(ctx, event.New(event.StepFailure, src, map[string]any{event.DataErrorMsg: err.Error()}))
		return nil
	}

	q.mu.Lock()
	q.records[job.key()].Handle = h
	q.active[h] = struct{}{}
	q.mu.Unlock()
	jobsActive.Inc()
	defer func() {
		q.mu.Lock()
		delete(q.active, h)
		q.mu.Unlock()
		jobsActive.Dec()
	}()

	logger.Debug("Job submitted.", "handle", h)
	return q.poll(ctx, job, h, src)
}

// submit calls the driver with capped exponential backoff. Transient errors
// are retried up to MaxSubmitAttempts in total.
func (q *Queue) submit(ctx context.Context, job Job) (driver.Handle, error) {
	ctx, span := tracer.Start(ctx, "jobqueue.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("ensemble", q.ensembleID),
		attribute.Int("realization", job.Realization),
	)

	if err := q.limiter.Wait(ctx); err != nil {
		return "", err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.InitialBackoff
	bo.MaxInterval = q.cfg.MaxBackoff

	logger := ctxlog.FromContext(ctx)
	op := func() (driver.Handle, error) {
		q.mu.Lock()
		killed := q.killed
		q.records[job.key()].Attempts++
		q.mu.Unlock()
		if killed {
			return "", backoff.Permanent(ErrKilled)
		}

		submitAttempts.Inc()
		h, err := q.drv.Submit(ctx, job.Spec)
		if err != nil && !driver.IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return h, err
	}
	notify := func(err error, wait time.Duration) {
		q.mu.Lock()
		q.records[job.key()].Retries++
		q.mu.Unlock()
		submitRetries.Inc()
		logger.Debug("Retrying job submission.", "error", err, "wait", wait)
	}

	h, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(q.cfg.MaxSubmitAttempts)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("handle", string(h)))
	return h, nil
}

// poll watches a submitted job until it finishes.
func (q *Queue) poll(ctx context.Context, job Job, h driver.Handle, src nodeid.Address) error {
	logger := ctxlog.FromContext(ctx).With("real", job.Realization, "handle", h)
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	running := false
	for {
		status, err := q.drv.Poll(ctx, h)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, driver.ErrUnknownHandle):
			q.fail(ctx, job, h, src, driver.StatusFailed, err.Error())
			return nil
		case err != nil:
			logger.Warn("Polling job failed, will retry.", "error", err)
		case status == driver.StatusRunning && !running:
			running = true
			q.emit(ctx, event.New(event.StepRunning, src, nil))
		case status == driver.StatusDone:
			// A job may finish between polls without ever being seen running.
			q.mu.Lock()
			q.records[job.key()].Err = nil
			q.mu.Unlock()
			jobOutcomes.WithLabelValues("success").Inc()
			q.emit(ctx, event.New(event.StepSuccess, src, nil))
			return nil
		case status == driver.StatusFailed:
			msg := ""
			if d, ok := q.drv.(driver.Describer); ok {
				msg = d.Describe(ctx, h)
			}
			q.fail(ctx, job, h, src, status, msg)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) fail(ctx context.Context, job Job, h driver.Handle, src nodeid.Address, status driver.Status, msg string) {
	rerr := &JobRuntimeError{Realization: job.Realization, Status: status, Message: msg}
	ctxlog.FromContext(ctx).Warn("Job failed.", "real", job.Realization, "handle", h, "error", rerr)
	q.setErr(job.key(), rerr)
	jobOutcomes.WithLabelValues("failure").Inc()
	q.emit(ctx, event.New(event.StepFailure, src, map[string]any{event.DataErrorMsg: rerr.Error()}))
}

func (q *Queue) setErr(k jobKey, err error) {
	q.mu.Lock()
	q.records[k].Err = err
	q.mu.Unlock()
}

// emit forwards an event. A closed evaluator is not an error for the queue.
func (q *Queue) emit(ctx context.Context, ev event.Event) {
	if q.dispatch == nil {
		return
	}
	if err := q.dispatch(ctx, ev); err != nil {
		ctxlog.FromContext(ctx).Debug("Event not delivered.", "type", ev.Kind, "source", ev.Source, "error", err)
	}
}

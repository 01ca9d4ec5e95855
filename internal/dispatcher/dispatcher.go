package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/handlers"
	"github.com/specialistvlad/ensembletrack/internal/protocol"
	"github.com/specialistvlad/ensembletrack/internal/snapshot"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reason says why the dispatcher terminated.
type Reason string

const (
	ReasonCancel   Reason = "user-cancel"
	ReasonDone     Reason = "user-done"
	ReasonEnsemble Reason = "ensemble-finished"
	ReasonContext  Reason = "context-done"
)

// Dispatcher merges producer events into the ensemble snapshot and fans the
// changes out to subscribed monitors.
type Dispatcher struct {
	cfg     Config
	table   *handlers.Table
	in      chan event.Event
	control chan Reason
	done    chan struct{}
	started atomic.Bool

	mu     sync.Mutex
	snap   *snapshot.Snapshot
	subs   map[string]*Subscription
	dead   map[event.Kind]*HandlerError
	fatal  bool
	closed bool
	reason Reason

	hooksMu sync.Mutex
	hooks   []func(context.Context)
}

// New creates a dispatcher owning snap, with every state transition kind
// already bound to the snapshot handler.
func New(snap *snapshot.Snapshot, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:     cfg,
		table:   handlers.New(),
		in:      make(chan event.Event, cfg.IngestBuffer),
		control: make(chan Reason),
		done:    make(chan struct{}),
		snap:    snap,
		subs:    make(map[string]*Subscription),
		dead:    make(map[event.Kind]*HandlerError),
	}
	handlers.RegisterSnapshotHandlers(d.table)
	return d
}

// RegisterEventHandler binds h to kind. It panics if kind already has a
// handler or if Run has started.
func (d *Dispatcher) RegisterEventHandler(kind event.Kind, h handlers.Handler) {
	d.table.Register(kind, h)
}

// OnTerminate adds a hook run once after the final broadcast.
func (d *Dispatcher) OnTerminate(fn func(context.Context)) {
	d.hooksMu.Lock()
	d.hooks = append(d.hooks, fn)
	d.hooksMu.Unlock()
}

// Dispatch hands an event to the merge loop. Events from one caller are
// merged in the order they were dispatched.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) error {
	select {
	case <-d.done:
		return ErrClosed
	default:
	}
	select {
	case d.in <- ev:
		eventsIngested.Inc()
		return nil
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel asks the dispatcher to terminate the ensemble.
func (d *Dispatcher) Cancel(ctx context.Context) error {
	return d.request(ctx, ReasonCancel)
}

// Finish asks the dispatcher to stop without changing the ensemble state.
func (d *Dispatcher) Finish(ctx context.Context) error {
	return d.request(ctx, ReasonDone)
}

func (d *Dispatcher) request(ctx context.Context, r Reason) error {
	select {
	case d.control <- r:
		return nil
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the dispatcher has terminated and every subscriber
// has been sent ee-terminated.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Reason returns why the dispatcher terminated, or "" while it is running.
func (d *Dispatcher) Reason() Reason {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason
}

// Snapshot returns a copy of the current snapshot.
func (d *Dispatcher) Snapshot() *snapshot.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap.Clone()
}

// Errors returns the failures of handlers that were marked dead.
func (d *Dispatcher) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]error, 0, len(d.dead))
	for _, herr := range d.dead {
		out = append(out, herr)
	}
	return out
}

// Run is the merge loop. It returns nil when terminated by a request or a
// finished ensemble, and the context's error when ctx ends first.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already running")
	}
	d.table.Freeze()

	ctx = ctxlog.With(ctx, "component", "dispatcher", "ensemble", d.snap.ID)
	logger := ctxlog.FromContext(ctx)
	logger.Info("📡 Dispatcher started.", "batch_size", d.cfg.BatchSize, "batch_interval", d.cfg.BatchInterval)
	logger.Debug("Handlers registered.", "kinds", d.table.Kinds())

	ticker := time.NewTicker(d.cfg.BatchInterval)
	defer ticker.Stop()

	batch := make([]event.Event, 0, d.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			final := context.WithoutCancel(ctx)
			d.flush(final, d.drain(batch))
			d.terminate(final, ReasonContext)
			return ctx.Err()
		case r := <-d.control:
			d.flush(ctx, d.drain(batch))
			d.terminate(ctx, r)
			return nil
		case ev := <-d.in:
			batch = append(batch, ev)
			if len(batch) < d.cfg.BatchSize {
				continue
			}
		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
		}

		finished := d.flush(ctx, batch)
		batch = batch[:0]
		if finished {
			d.terminate(ctx, ReasonEnsemble)
			return nil
		}
	}
}

func (d *Dispatcher) drain(batch []event.Event) []event.Event {
	for {
		select {
		case ev := <-d.in:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// flush runs the batch through the handler table, merges the results and
// broadcasts the effective diff. It reports whether a producer declared the
// ensemble finished.
func (d *Dispatcher) flush(ctx context.Context, batch []event.Event) bool {
	if len(batch) == 0 {
		return false
	}
	ctx, span := tracer.Start(ctx, "dispatcher.batch",
		trace.WithAttributes(attribute.Int("batch.size", len(batch))),
	)
	defer span.End()
	batchSize.Observe(float64(len(batch)))
	logger := ctxlog.FromContext(ctx)

	var partials []*snapshot.PartialSnapshot
	finished := false
	for start := 0; start < len(batch); {
		kind := batch[start].Kind
		end := start + 1
		for end < len(batch) && batch[end].Kind == kind {
			end++
		}
		run := batch[start:end]
		start = end

		if d.isDead(kind) {
			eventsDropped.WithLabelValues("dead_handler").Add(float64(len(run)))
			continue
		}
		h, ok := d.table.Lookup(kind)
		if !ok {
			eventsDropped.WithLabelValues("unhandled").Add(float64(len(run)))
			logger.Debug("No handler for event kind, dropping.", "kind", kind, "count", len(run))
			continue
		}

		p, err := invoke(ctx, h, run)
		if err != nil {
			herr := &HandlerError{Kind: kind, Err: err}
			d.markDead(herr)
			handlerFailures.WithLabelValues(string(kind)).Inc()
			span.RecordError(herr)
			span.SetStatus(codes.Error, "handler failed")
			logger.Error("Event handler failed, marking it dead.", "kind", kind, "error", err)
			continue
		}
		if p != nil {
			partials = append(partials, p)
		}
		switch kind {
		case event.EnsembleStopped, event.EnsembleFailed, event.EnsembleCancelled, event.EnsembleTerminated:
			finished = true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	diff := &snapshot.PartialSnapshot{ID: d.snap.ID}
	for _, p := range partials {
		diff.Merge(d.snap.Update(p))
	}
	diff.Merge(d.failLocked(false))
	d.broadcastLocked(diff)
	return finished
}

func invoke(ctx context.Context, h handlers.Handler, run []event.Event) (p *snapshot.PartialSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, run)
}

func (d *Dispatcher) isDead(kind event.Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, dead := d.dead[kind]
	return dead
}

func (d *Dispatcher) markDead(herr *HandlerError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dead[herr.Kind] = herr
	d.fatal = true
}

// failLocked drives the ensemble to FAILED after a handler failure, once no
// realization is running or when force is set.
func (d *Dispatcher) failLocked(force bool) *snapshot.PartialSnapshot {
	if !d.fatal || (!force && d.snap.AnyRunning()) {
		return nil
	}
	return d.snap.Update(&snapshot.PartialSnapshot{ID: d.snap.ID, Status: snapshot.EnsembleFailed})
}

func (d *Dispatcher) broadcastLocked(diff *snapshot.PartialSnapshot) {
	if diff.Empty() {
		return
	}
	msg := protocol.NewUpdate(d.snap.ID, d.snap.Iteration, diff)
	for _, s := range d.subs {
		s.push(msg, d.snapshotMessageLocked)
	}
}

func (d *Dispatcher) snapshotMessageLocked() protocol.Message {
	return protocol.NewSnapshot(d.snap.Clone())
}

func (d *Dispatcher) terminate(ctx context.Context, r Reason) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	diff := &snapshot.PartialSnapshot{ID: d.snap.ID}
	if r == ReasonCancel {
		diff.Merge(d.snap.Update(&snapshot.PartialSnapshot{ID: d.snap.ID, Status: snapshot.EnsembleTerminated}))
	}
	diff.Merge(d.failLocked(true))
	d.broadcastLocked(diff)

	term := protocol.NewTerminated(d.snap.ID, d.snap.Iteration)
	for id, s := range d.subs {
		s.push(term, nil)
		delete(d.subs, id)
	}
	subscribers.Set(0)
	d.closed = true
	d.reason = r
	status := d.snap.Status
	d.mu.Unlock()
	close(d.done)

	ctxlog.FromContext(ctx).Info("🏁 Dispatcher terminated.", "reason", r, "status", status)

	d.hooksMu.Lock()
	hooks := append([]func(context.Context){}, d.hooks...)
	d.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
}

package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/inmemorystore"
	"github.com/specialistvlad/ensembletrack/internal/protocol"
	"github.com/specialistvlad/ensembletrack/internal/snapshot"
)

// Source yields broadcast messages in order. *monitor.Monitor implements it.
type Source interface {
	Track(ctx context.Context, yield func(protocol.Message) error) error
}

// RunModel describes the shape of the run being tracked.
type RunModel interface {
	PhaseName() string
	PhaseCount() int
	Indeterminate() bool
}

// StaticRunModel is a RunModel with fixed values.
type StaticRunModel struct {
	Name      string
	Count     int
	Uncertain bool
}

func (m StaticRunModel) PhaseName() string   { return m.Name }
func (m StaticRunModel) PhaseCount() int     { return m.Count }
func (m StaticRunModel) Indeterminate() bool { return m.Uncertain }

// Tracker converts a message stream into progress events.
type Tracker struct {
	source    Source
	model     RunModel
	threshold snapshot.Threshold
	store     *inmemorystore.Store

	current  int
	progress float64
	ensemble string
}

// New creates a tracker reading from source.
func New(source Source, model RunModel, threshold snapshot.Threshold) *Tracker {
	return &Tracker{
		source:    source,
		model:     model,
		threshold: threshold,
		store:     inmemorystore.New(),
	}
}

// Snapshot returns a copy of the latest state of an iteration.
func (t *Tracker) Snapshot(ctx context.Context, iteration int) (*snapshot.Snapshot, bool) {
	return t.store.Get(ctx, iteration)
}

// Track starts following the source. The returned channel is closed after
// the EndEvent, or when ctx ends.
func (t *Tracker) Track(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		logger := ctxlog.FromContext(ctx).With("component", "tracker")

		emit := func(ev Event) error {
			select {
			case out <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var end *EndEvent
		err := t.source.Track(ctx, func(m protocol.Message) error {
			switch m.Kind {
			case event.Snapshot:
				t.observe(m)
				t.store.Put(ctx, m.Iteration, m.Snapshot)
				return emit(&FullSnapshotEvent{Update: t.update(ctx, m.Iteration), Snapshot: m.Snapshot})
			case event.SnapshotUpdate:
				t.observe(m)
				t.store.Update(ctx, m.Iteration, m.Partial)
				return emit(&SnapshotUpdateEvent{Update: t.update(ctx, m.Iteration), Partial: m.Partial})
			case event.Terminated:
				t.observe(m)
				final := &SnapshotUpdateEvent{
					Update:  t.update(ctx, t.current),
					Partial: &snapshot.PartialSnapshot{ID: t.ensemble},
				}
				if err := emit(final); err != nil {
					return err
				}
				end = t.end(ctx)
				return nil
			default:
				logger.Debug("Ignoring unexpected message.", "kind", m.Kind)
				return nil
			}
		})

		switch {
		case end != nil:
		case err == nil:
			end = t.end(ctx)
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			return
		default:
			logger.Error("Tracking failed.", "error", err)
			end = &EndEvent{Failed: true, FailedMsg: fmt.Sprintf("lost connection to the evaluator: %v", err)}
		}
		if end.Failed {
			logger.Warn("Evaluation failed.", "reason", end.FailedMsg)
		} else {
			logger.Info("✅ Evaluation finished.", "successful", end.Successful, "total", end.Total,
				"iterations", t.store.Iterations(ctx))
		}
		_ = emit(end)
	}()
	return out
}

func (t *Tracker) observe(m protocol.Message) {
	if m.Iteration > t.current {
		t.current = m.Iteration
	}
	if m.Source.Ensemble != "" {
		t.ensemble = m.Source.Ensemble
	}
}

func (t *Tracker) end(ctx context.Context) *EndEvent {
	snap, ok := t.store.Get(ctx, t.current)
	if !ok {
		return &EndEvent{Failed: true, FailedMsg: "evaluation ended before any snapshot was received"}
	}
	outcome := snap.Outcome(t.threshold)
	return &EndEvent{
		Failed:     outcome.Failed,
		FailedMsg:  outcome.Message,
		Successful: outcome.Successful,
		Total:      outcome.Total,
	}
}

func (t *Tracker) update(ctx context.Context, iteration int) Update {
	return Update{
		PhaseName:     t.model.PhaseName(),
		CurrentPhase:  t.current,
		TotalPhases:   t.model.PhaseCount(),
		Progress:      t.computeProgress(ctx),
		Indeterminate: t.model.Indeterminate(),
		Iteration:     iteration,
	}
}

// computeProgress is clamped to [0, 1] and never decreases.
func (t *Tracker) computeProgress(ctx context.Context) float64 {
	phases := t.model.PhaseCount()
	if phases <= 0 {
		phases = 1
	}
	done := float64(min(t.current, phases))
	if snap, ok := t.store.Get(ctx, t.current); ok && len(snap.Reals) > 0 && t.current < phases {
		done += float64(snap.CountTerminal()) / float64(len(snap.Reals))
	}
	p := min(max(done/float64(phases), 0), 1)
	if p < t.progress {
		p = t.progress
	}
	t.progress = p
	return p
}

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/snapshot"
)

// Handler turns a run of same-kind events into a diff. Handlers must not
// touch shared state; the dispatcher merges what they return.
type Handler func(ctx context.Context, events []event.Event) (*snapshot.PartialSnapshot, error)

// Table maps event kinds to their handlers. It is filled during setup and
// frozen once the dispatcher starts.
type Table struct {
	mu     sync.RWMutex
	all    map[event.Kind]Handler
	frozen bool
}

// New creates and initializes an empty Table.
func New() *Table {
	return &Table{
		all: make(map[event.Kind]Handler),
	}
}

// Register binds a handler to an event kind.
func (t *Table) Register(kind event.Kind, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		panic(fmt.Sprintf("event handler for '%s' registered after the dispatcher started", kind))
	}
	if _, exists := t.all[kind]; exists {
		panic(fmt.Sprintf("event handler for '%s' already registered", kind))
	}
	slog.Debug("Registering event handler.", "kind", kind)
	t.all[kind] = h
}

// Freeze rejects any further registration.
func (t *Table) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// Lookup returns the handler registered for kind.
func (t *Table) Lookup(kind event.Kind) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.all[kind]
	return h, ok
}

// Kinds returns all registered kinds, sorted.
func (t *Table) Kinds() []event.Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]event.Kind, 0, len(t.all))
	for k := range t.all {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RegisterSnapshotHandlers binds every state transition kind to Snapshot.
func RegisterSnapshotHandlers(t *Table) {
	for _, k := range event.SnapshotKinds() {
		t.Register(k, Snapshot)
	}
}

// Snapshot folds state transition events into a single diff. Events whose
// source does not fit their kind are logged and skipped.
func Snapshot(ctx context.Context, events []event.Event) (*snapshot.PartialSnapshot, error) {
	out := &snapshot.PartialSnapshot{}
	for _, ev := range events {
		p, err := snapshot.FromEvent(ev)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Skipping malformed event.", "id", ev.ID, "kind", ev.Kind, "source", ev.Source.String(), "error", err)
			continue
		}
		out.Merge(p)
	}
	return out, nil
}

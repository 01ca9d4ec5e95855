// Package inmemorystore provides an ephemeral, thread-safe, in-memory store
// for the snapshots a tracker materializes while following an evaluation.
//
// # Purpose
//
// A tracker sees one full snapshot per iteration followed by many diffs. It
// keeps one materialized snapshot per iteration so progress can be computed
// at any point and the final outcome can be read at the end.
//
// # Characteristics
//
//   - **Ephemeral:** Created fresh for each tracking session, not persistent
//   - **Thread-Safe:** Uses sync.Map across iterations plus a mutex per iteration
//   - **Copy-Out:** Readers always receive a deep copy, never the live value
//
// # Concurrency Model
//
// Iterations are independent keys, so sync.Map gives lock-free lookups for
// the common read path. A snapshot itself is not safe for concurrent use;
// each entry guards its snapshot with its own mutex, so updates to one
// iteration never contend with reads of another.
package inmemorystore

import (
	"context"
	"sort"
	"sync"

	"github.com/specialistvlad/ensembletrack/internal/snapshot"
)

type entry struct {
	mu   sync.Mutex
	snap *snapshot.Snapshot
}

// Store holds one materialized snapshot per iteration.
//
// The map key is the iteration index (int) and the value is an *entry.
type Store struct {
	snapshots sync.Map
}

// New creates a new, empty snapshot store.
func New() *Store {
	return &Store{}
}

// Put replaces the snapshot of an iteration with a copy of snap.
func (s *Store) Put(ctx context.Context, iteration int, snap *snapshot.Snapshot) {
	e := s.entry(iteration)
	e.mu.Lock()
	e.snap = snap.Clone()
	e.mu.Unlock()
}

// Update folds a diff into the snapshot of an iteration and returns a copy
// of the result. A diff for an iteration without a full snapshot starts from
// an empty one.
func (s *Store) Update(ctx context.Context, iteration int, p *snapshot.PartialSnapshot) *snapshot.Snapshot {
	e := s.entry(iteration)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap == nil {
		id := ""
		if p != nil {
			id = p.ID
		}
		e.snap = snapshot.New(id)
		e.snap.Iteration = iteration
	}
	e.snap.Update(p)
	return e.snap.Clone()
}

// Get returns a copy of the snapshot of an iteration.
func (s *Store) Get(ctx context.Context, iteration int) (*snapshot.Snapshot, bool) {
	v, ok := s.snapshots.Load(iteration)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap == nil {
		return nil, false
	}
	return e.snap.Clone(), true
}

// Iterations lists the iterations that have been seen, in ascending order.
func (s *Store) Iterations(ctx context.Context) []int {
	var out []int
	s.snapshots.Range(func(k, _ any) bool {
		out = append(out, k.(int))
		return true
	})
	sort.Ints(out)
	return out
}

func (s *Store) entry(iteration int) *entry {
	v, _ := s.snapshots.LoadOrStore(iteration, &entry{})
	return v.(*entry)
}

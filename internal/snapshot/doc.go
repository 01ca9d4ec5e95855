// Package snapshot holds the canonical, aggregated view of an ensemble
// evaluation and the rules for folding state transitions into it.
//
// # Model
//
// A Snapshot is a tree: the ensemble owns realizations, realizations own
// ordered steps, and steps own ordered jobs. Every entity carries a status,
// optional start/end timestamps and, for jobs, memory figures.
//
// # Merge semantics
//
// Entity statuses form a join-semilattice
//
//	Unknown < Pending < Running < Success < Failure
//
// and the ensemble status forms its own chain
//
//	Unknown < Started < Stopped < Failed < Cancelled < Terminated
//
// Folding a PartialSnapshot into a Snapshot takes the join of the current and
// the incoming status, so applying the same update twice is a no-op, updates
// for different entities commute, and no entity ever moves back from Success
// or Failure to Running or Pending. An empty status in a partial means "no
// change". Start times keep the earliest value seen and end times the latest.
// Max memory is a running maximum; current memory is last-write.
//
// Parents are also derived from their children. A step's status is the join
// of its own explicit transitions and the status derived from its jobs; a
// realization's status is the join of its explicit transitions and the status
// derived from its steps. Derivation is monotone, so it preserves the
// properties above as long as the set of children is fixed. Build the
// snapshot up front with a Builder; entities first seen in an update are
// created lazily in the Unknown state.
//
// # Ownership
//
// A Snapshot is not safe for concurrent use. The dispatcher owns the live
// instance and hands out copies made with Clone.
package snapshot

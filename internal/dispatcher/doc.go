// Package dispatcher is the single writer of an ensemble's snapshot.
//
// Producers hand events to Dispatch from any number of goroutines. The Run
// loop collects them into small batches, bounded by size and by time, and
// processes each batch in one serialized step:
//
//  1. Consecutive events of the same kind are passed, in arrival order, to
//     the handler registered for that kind. Handlers return a diff.
//  2. Each diff is folded into the snapshot. The effective changes of the
//     whole batch are coalesced and broadcast once as an ee-snapshot-update.
//
// A handler that returns an error or panics is marked dead: later events of
// its kind are dropped, a fatal flag is raised and the ensemble is driven to
// FAILED as soon as no realization is running. Every other handler keeps
// working, so unrelated realizations continue to be merged.
//
// Monitors attach through Subscribe. The first message on a subscription is
// always a full snapshot taken under the same lock as the merge step, so no
// update can fall between the snapshot and the stream. Each subscription owns
// a bounded queue; when it overflows, the queued updates are replaced by one
// fresh full snapshot. The terminal message is never dropped.
//
// The dispatcher terminates when a monitor cancels (the ensemble becomes
// TERMINATED), when a monitor reports it is done (no state change), when a
// producer reports the ensemble stopped, failed or cancelled, or when the
// context passed to Run ends. In every case pending events are flushed, the
// final diff is broadcast, and every subscriber receives ee-terminated.
package dispatcher

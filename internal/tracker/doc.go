// Package tracker turns the monitor's message stream into progress events
// for a user interface or a log.
//
// Progress is averaged over the phases (iterations) of a run:
//
//	progress = (past phases + completed/total in the current phase) / phases
//
// where the current phase is the highest iteration seen so far and a
// realization counts as completed once it has succeeded or failed. Emitted
// progress never decreases.
//
// The first event of every iteration is a FullSnapshotEvent, later ones are
// SnapshotUpdateEvents. When the evaluation terminates the tracker emits one
// last SnapshotUpdateEvent and then an EndEvent with the verdict, after which
// the channel is closed.
package tracker
